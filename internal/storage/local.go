package storage

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LocalStore implements Store on the local filesystem, for file:// URIs and
// bare paths.
type LocalStore struct{}

func NewLocalStore() *LocalStore {
	return &LocalStore{}
}

// LocalPath strips the file:// scheme from a URI.
func LocalPath(uri string) string {
	return strings.TrimPrefix(uri, "file://")
}

func (s *LocalStore) Upload(ctx context.Context, localPath, destURI string) (string, error) {
	destRoot := LocalPath(destURI)

	info, err := os.Stat(localPath)
	if err != nil {
		return "", &UploadError{Dest: destURI, Err: err}
	}

	if !info.IsDir() {
		if err := copyFile(localPath, filepath.Join(destRoot, filepath.Base(localPath))); err != nil {
			return "", &UploadError{Dest: destURI, Err: err}
		}
		return destURI, nil
	}

	err = filepath.WalkDir(localPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(localPath, p)
		if err != nil {
			return err
		}
		return copyFile(p, filepath.Join(destRoot, rel))
	})
	if err != nil {
		return "", &UploadError{Dest: destURI, Err: err}
	}

	return destURI, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", filepath.Dir(dst), err)
	}

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("failed to copy file content: %w", err)
	}
	return nil
}

func (s *LocalStore) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	f, err := os.Open(LocalPath(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", uri, err)
	}
	return f, nil
}

func (s *LocalStore) List(ctx context.Context, dirURI string) ([]string, error) {
	entries, err := os.ReadDir(LocalPath(dirURI))
	if os.IsNotExist(err) {
		// Not written yet; the caller retries later.
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dirURI, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || e.Name() == IndexFileName {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}
