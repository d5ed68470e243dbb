// Package storage moves files between the local filesystem and the object
// store a training job reads inputs from and writes profiling output to.
// Uploads are idempotent: content is fully re-specified on each call, so a
// rerun after a partial failure converges to the same result.
package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"
)

// Store is the blob storage capability used by the dataset publisher and the
// artifact reader. Implementations exist for the local filesystem and for
// HTTP object storage.
type Store interface {
	// Upload copies a local file or directory tree to destURI and returns
	// the location of the uploaded root. The returned URI always has destURI
	// as its prefix.
	Upload(ctx context.Context, localPath, destURI string) (string, error)
	// Open reads a single object. Missing objects unwrap to fs.ErrNotExist.
	Open(ctx context.Context, uri string) (io.ReadCloser, error)
	// List returns the sorted base names of the objects directly under
	// dirURI. A location that does not exist yet lists as empty, matching
	// the eventually consistent read model of job output.
	List(ctx context.Context, dirURI string) ([]string, error)
}

// UploadError is returned when a publish cannot complete: the destination is
// unreachable or a local file is missing or unreadable.
type UploadError struct {
	Dest string
	Err  error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload to %s failed: %v", e.Dest, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// DirIndex is the listing an artifact writer maintains next to its files so
// directories can be enumerated over plain HTTP.
type DirIndex struct {
	Files     []string  `json:"files"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IndexFileName is the per-directory listing object.
const IndexFileName = "index.json"

// ForURI selects the store implementation for a URI. Plain paths and
// file:// URIs map to the local store, http(s):// to the HTTP store.
func ForURI(uri string, httpStore *HTTPStore) (Store, error) {
	switch {
	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		if httpStore == nil {
			return nil, fmt.Errorf("no HTTP store configured for %s", uri)
		}
		return httpStore, nil
	case strings.HasPrefix(uri, "file://"), !strings.Contains(uri, "://"):
		return NewLocalStore(), nil
	default:
		return nil, fmt.Errorf("unsupported storage URI scheme: %s", uri)
	}
}

// JoinURI appends path segments to a base URI with single separators.
func JoinURI(base string, parts ...string) string {
	joined := strings.TrimSuffix(base, "/")
	for _, p := range parts {
		joined += "/" + strings.Trim(p, "/")
	}
	return joined
}
