package storage

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blobServer is an in-memory object store speaking the PUT/GET subset the
// HTTP store uses.
type blobServer struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newBlobServer() *blobServer {
	return &blobServer{objects: make(map[string][]byte)}
}

func (b *blobServer) put(key string, content []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = content
}

func (b *blobServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch r.Method {
	case http.MethodPut:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		b.objects[r.URL.Path] = body
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		content, ok := b.objects[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(content)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func TestHTTPStoreUploadAndOpen(t *testing.T) {
	t.Parallel()
	blobs := newBlobServer()
	srv := httptest.NewServer(blobs)
	defer srv.Close()

	src := t.TempDir()
	writeFile(t, src, "manifest.yaml", "name: d1\n")
	writeFile(t, src, filepath.Join("shards", "shard-00000.jsonl.gz"), "s0")

	store := NewHTTPStore(5 * time.Second)
	dest := srv.URL + "/datasets/d1"
	uri, err := store.Upload(context.Background(), src, dest)
	require.NoError(t, err)
	assert.Equal(t, dest, uri)

	rc, err := store.Open(context.Background(), dest+"/shards/shard-00000.jsonl.gz")
	require.NoError(t, err)
	defer rc.Close()
	content, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "s0", string(content))
}

func TestHTTPStoreUploadSingleFile(t *testing.T) {
	t.Parallel()
	blobs := newBlobServer()
	srv := httptest.NewServer(blobs)
	defer srv.Close()

	path := writeFile(t, t.TempDir(), "hyperparams.json", "{}")
	store := NewHTTPStore(5 * time.Second)
	_, err := store.Upload(context.Background(), path, srv.URL+"/inputs")
	require.NoError(t, err)

	rc, err := store.Open(context.Background(), srv.URL+"/inputs/hyperparams.json")
	require.NoError(t, err)
	rc.Close()
}

func TestHTTPStoreUploadServerError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusInsufficientStorage)
	}))
	defer srv.Close()

	path := writeFile(t, t.TempDir(), "a.json", "{}")
	store := NewHTTPStore(5 * time.Second)
	_, err := store.Upload(context.Background(), path, srv.URL+"/inputs")
	require.Error(t, err)

	var uploadErr *UploadError
	require.True(t, errors.As(err, &uploadErr))
	assert.Contains(t, uploadErr.Error(), "quota exceeded")
}

func TestHTTPStoreOpenNotFound(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(newBlobServer())
	defer srv.Close()

	store := NewHTTPStore(5 * time.Second)
	_, err := store.Open(context.Background(), srv.URL+"/missing.json")
	require.Error(t, err)
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestHTTPStoreList(t *testing.T) {
	t.Parallel()
	blobs := newBlobServer()
	srv := httptest.NewServer(blobs)
	defer srv.Close()

	blobs.put("/jobs/j1/profiler/system/"+IndexFileName,
		[]byte(`{"files":["2000.json","1000.json"],"updated_at":"2026-01-02T03:04:05Z"}`))

	store := NewHTTPStore(5 * time.Second)
	names, err := store.List(context.Background(), srv.URL+"/jobs/j1/profiler/system")
	require.NoError(t, err)

	want := []string{"1000.json", "2000.json"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Fatalf("unexpected diff (-want +got):\n%s", diff)
	}
}

func TestHTTPStoreListMissingIndex(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(newBlobServer())
	defer srv.Close()

	store := NewHTTPStore(5 * time.Second)
	names, err := store.List(context.Background(), srv.URL+"/jobs/j1/profiler/framework")
	require.NoError(t, err)
	assert.Empty(t, names)
}
