package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// HTTPStore implements Store against HTTP object storage: one PUT per file
// on upload, GET on read, and a per-directory index object for listing.
// Access control is carried by the URI itself (pre-signed or service-local),
// so requests need no additional credentials.
type HTTPStore struct {
	client *http.Client
}

func NewHTTPStore(timeout time.Duration) *HTTPStore {
	return &HTTPStore{
		client: &http.Client{Timeout: timeout},
	}
}

func (s *HTTPStore) Upload(ctx context.Context, localPath, destURI string) (string, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return "", &UploadError{Dest: destURI, Err: err}
	}

	if !info.IsDir() {
		if err := s.putFile(ctx, localPath, JoinURI(destURI, filepath.Base(localPath))); err != nil {
			return "", &UploadError{Dest: destURI, Err: err}
		}
		return destURI, nil
	}

	err = filepath.WalkDir(localPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(localPath, p)
		if err != nil {
			return err
		}
		return s.putFile(ctx, p, JoinURI(destURI, filepath.ToSlash(rel)))
	})
	if err != nil {
		return "", &UploadError{Dest: destURI, Err: err}
	}

	return destURI, nil
}

func (s *HTTPStore) putFile(ctx context.Context, localPath, uri string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	fileInfo, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to get file info: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uri, file)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.ContentLength = fileInfo.Size()
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to upload to %s: %w", uri, err)
	}
	defer resp.Body.Close()

	if !isSuccessStatusCode(resp.StatusCode) {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("upload of %s failed with status %d: %s", uri, resp.StatusCode, string(bodyBytes))
	}
	return nil
}

func (s *HTTPStore) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", uri, err)
	}

	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, fmt.Errorf("object %s: %w", uri, fs.ErrNotExist)
	}
	if !isSuccessStatusCode(resp.StatusCode) {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		resp.Body.Close()
		return nil, fmt.Errorf("read of %s failed with status %d: %s", uri, resp.StatusCode, string(bodyBytes))
	}

	return resp.Body, nil
}

func (s *HTTPStore) List(ctx context.Context, dirURI string) ([]string, error) {
	body, err := s.Open(ctx, JoinURI(dirURI, IndexFileName))
	if err != nil {
		// No index means nothing has been flushed yet.
		if isNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer body.Close()

	var index DirIndex
	if err := json.NewDecoder(body).Decode(&index); err != nil {
		return nil, fmt.Errorf("failed to decode index at %s: %w", dirURI, err)
	}

	names := make([]string, 0, len(index.Files))
	names = append(names, index.Files...)
	sort.Strings(names)
	return names, nil
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// isSuccessStatusCode checks if status code indicates success
func isSuccessStatusCode(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}
