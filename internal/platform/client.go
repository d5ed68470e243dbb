// Package platform is the client for the training control service: version
// negotiation, job submission and job status reads.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/stepscope/stepscope/internal/config"
	"github.com/stepscope/stepscope/internal/models"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
	config     *config.Config
}

func NewClient(cfg *config.Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Client{
		baseURL:    strings.TrimSuffix(cfg.Endpoint, "/"),
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		config:     cfg,
	}, nil
}

type versionInfo struct {
	Service    string `json:"service"`
	Version    string `json:"version"`
	APIVersion int    `json:"api_version"`
}

type submitRequest struct {
	Spec   models.JobSpec                    `json:"spec"`
	Inputs map[string]models.DatasetLocation `json:"inputs,omitempty"`
}

type jobEnvelope struct {
	Job *models.JobInfo `json:"job"`
}

type jobListEnvelope struct {
	Jobs []models.JobInfo `json:"jobs"`
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// CheckVersion asks the service which control API generation it serves and
// fails with ErrVersionMismatch when this client is behind.
func (c *Client) CheckVersion(ctx context.Context) error {
	var out versionInfo
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/version", nil, &out); err != nil {
		return fmt.Errorf("failed to read service version: %w", err)
	}
	if out.APIVersion > SupportedAPIVersion {
		return fmt.Errorf("service %s serves control API v%d, this build supports v%d: %w",
			out.Service, out.APIVersion, SupportedAPIVersion, ErrVersionMismatch)
	}
	return nil
}

// Submit sends a job specification with its input channel bindings. With
// wait false it returns as soon as the service acknowledges the job, bounded
// by the HTTP timeout regardless of job duration; with wait true it polls
// until the job reaches a terminal state.
//
// Submission starts billing on the service side. Cancellation is a separate
// explicit operation, never implied by a failed wait.
func (c *Client) Submit(ctx context.Context, spec models.JobSpec, inputs map[string]models.DatasetLocation, wait bool) (*models.JobInfo, error) {
	if err := spec.Validate(); err != nil {
		return nil, &SubmissionError{Code: CodeInvalidSpec, Message: err.Error(), Err: err}
	}

	body, err := json.Marshal(submitRequest{Spec: spec, Inputs: inputs})
	if err != nil {
		return nil, fmt.Errorf("failed to encode job spec: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/jobs", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &SubmissionError{Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	if !isSuccessStatusCode(resp.StatusCode) {
		subErr := &SubmissionError{Message: fmt.Sprintf("status %d", resp.StatusCode)}
		var envelope errorEnvelope
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err == nil && envelope.Error.Message != "" {
			subErr.Code = envelope.Error.Code
			subErr.Message = envelope.Error.Message
		}
		return nil, subErr
	}

	var envelope jobEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("failed to parse submission response: %w", err)
	}
	if envelope.Job == nil {
		return nil, fmt.Errorf("submission response carries no job")
	}

	if !wait {
		return envelope.Job, nil
	}
	return c.WaitForCompletion(ctx, envelope.Job.ID)
}

// GetJob fetches the current state of one job.
func (c *Client) GetJob(ctx context.Context, jobID string) (*models.JobInfo, error) {
	var envelope jobEnvelope
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/jobs/"+jobID, nil, &envelope); err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", jobID, err)
	}
	if envelope.Job == nil {
		return nil, fmt.Errorf("job %s not found", jobID)
	}
	return envelope.Job, nil
}

// ListJobs fetches every job the service knows, newest first.
func (c *Client) ListJobs(ctx context.Context) ([]models.JobInfo, error) {
	var envelope jobListEnvelope
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/jobs", nil, &envelope); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return envelope.Jobs, nil
}

// WaitForCompletion polls at the configured interval until the job reaches a
// terminal state or the context ends.
func (c *Client) WaitForCompletion(ctx context.Context, jobID string) (*models.JobInfo, error) {
	interval := c.config.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		job, err := c.GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if job.Status.Terminal() {
			return job, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// accessToken resolves the request credential: an explicitly configured
// token wins, otherwise one is minted from the shared secret.
func (c *Client) accessToken() (string, error) {
	if c.config.AuthToken != "" {
		return c.config.AuthToken, nil
	}
	if c.config.AuthSecret != "" {
		return MintToken(c.config.AuthSecret, c.config.Principal, tokenTTL)
	}
	return "", nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	token, err := c.accessToken()
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if !isSuccessStatusCode(resp.StatusCode) {
		var envelope errorEnvelope
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err == nil && envelope.Error.Message != "" {
			return fmt.Errorf("%s (%s)", envelope.Error.Message, envelope.Error.Code)
		}
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// isSuccessStatusCode checks if status code indicates success
func isSuccessStatusCode(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}
