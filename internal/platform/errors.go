package platform

import (
	"errors"
	"fmt"
)

// SupportedAPIVersion is the control API generation this client speaks.
const SupportedAPIVersion = 1

// Rejection codes the control service returns on submission.
const (
	CodeInvalidSpec   = "invalid_spec"
	CodeQuotaExceeded = "quota_exceeded"
	CodeUnauthorized  = "unauthorized"
)

// ErrVersionMismatch is returned when the service speaks a newer control API
// than this build. There is no automatic recovery; the remediation is to
// upgrade stepscope and rerun.
var ErrVersionMismatch = errors.New("control API version mismatch: upgrade stepscope and rerun")

// SubmissionError reports a rejected job submission: a malformed
// specification, an exhausted quota, or failed authorization.
type SubmissionError struct {
	Code    string
	Message string
	Err     error
}

func (e *SubmissionError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("job submission rejected (%s): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("job submission rejected: %s", e.Message)
}

func (e *SubmissionError) Unwrap() error { return e.Err }
