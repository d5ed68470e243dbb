package dataset

import (
	"compress/gzip"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readShard(t *testing.T, path string) []Record {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	defer zr.Close()

	var records []Record
	dec := json.NewDecoder(zr)
	for {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			t.Fatalf("decode shard %s: %v", path, err)
		}
		records = append(records, rec)
	}
	return records
}

func TestPrepareWritesShardsAndManifest(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	manifest, err := Prepare(dir, Options{Records: 10, ShardSize: 4, FeatureDim: 3})
	require.NoError(t, err)

	assert.Equal(t, "synthetic-vision", manifest.Name)
	assert.Equal(t, "jsonl.gz", manifest.Format)
	assert.Equal(t, 10, manifest.Records)
	require.Equal(t, []string{"shard-00000.jsonl.gz", "shard-00001.jsonl.gz", "shard-00002.jsonl.gz"}, manifest.Shards)

	var total int
	next := 0
	for i, shard := range manifest.Shards {
		records := readShard(t, filepath.Join(dir, shard))
		want := 4
		if i == 2 {
			want = 2
		}
		require.Len(t, records, want, shard)
		for _, rec := range records {
			assert.Equal(t, next, rec.ID)
			assert.Len(t, rec.Features, 3)
			assert.GreaterOrEqual(t, rec.Label, 0)
			assert.Less(t, rec.Label, 10)
			next++
		}
		total += len(records)
	}
	assert.Equal(t, manifest.Records, total)

	loaded, err := LoadManifest(dir)
	require.NoError(t, err)
	if diff := cmp.Diff(manifest, loaded); diff != "" {
		t.Fatalf("manifest roundtrip diff (-want +got):\n%s", diff)
	}
}

func TestPrepareDeterministic(t *testing.T) {
	t.Parallel()
	first := t.TempDir()
	second := t.TempDir()
	opts := Options{Records: 50, ShardSize: 20}

	m1, err := Prepare(first, opts)
	require.NoError(t, err)
	m2, err := Prepare(second, opts)
	require.NoError(t, err)
	require.Equal(t, m1.Shards, m2.Shards)

	for _, shard := range m1.Shards {
		a, err := os.ReadFile(filepath.Join(first, shard))
		require.NoError(t, err)
		b, err := os.ReadFile(filepath.Join(second, shard))
		require.NoError(t, err)
		assert.Equal(t, a, b, "shard %s differs between runs", shard)
	}
}

func TestLoadManifestMissing(t *testing.T) {
	t.Parallel()
	_, err := LoadManifest(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read manifest")
}
