package profiling

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepscope/stepscope/internal/models"
	"github.com/stepscope/stepscope/internal/storage"
)

func TestWriterRotation(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	w, err := NewWriter(dir, 2)
	require.NoError(t, err)

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		ts := base.Add(time.Duration(i) * time.Second)
		require.NoError(t, w.Append(ts, models.SystemMetricRecord{
			Timestamp: ts,
			Dimension: models.DimensionGPUUtilization,
			Value:     float64(i),
		}))
	}
	require.NoError(t, w.Close())

	store := storage.NewLocalStore()
	names, err := store.List(context.Background(), dir)
	require.NoError(t, err)
	assert.Len(t, names, 3)

	data, err := os.ReadFile(filepath.Join(dir, storage.IndexFileName))
	require.NoError(t, err)
	var index storage.DirIndex
	require.NoError(t, json.Unmarshal(data, &index))
	assert.ElementsMatch(t, names, index.Files)
}

func TestWriterIndexListsOnlyClosedSegments(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	w, err := NewWriter(dir, 10)
	require.NoError(t, err)

	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, w.Append(ts, models.SystemMetricRecord{Timestamp: ts, Dimension: models.DimensionGPUUtilization, Value: 1}))

	// Buffered only: nothing listed yet.
	_, err = os.Stat(filepath.Join(dir, storage.IndexFileName))
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, w.Close())

	data, err := os.ReadFile(filepath.Join(dir, storage.IndexFileName))
	require.NoError(t, err)
	var index storage.DirIndex
	require.NoError(t, json.Unmarshal(data, &index))
	assert.Equal(t, []string{SegmentFileName(ts)}, index.Files)
}

func TestWriterSameMillisecondSegments(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	w, err := NewWriter(dir, 1)
	require.NoError(t, err)

	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, w.Append(ts, models.SystemMetricRecord{Timestamp: ts, Value: 1}))
	require.NoError(t, w.Append(ts, models.SystemMetricRecord{Timestamp: ts, Value: 2}))
	require.NoError(t, w.Close())

	store := storage.NewLocalStore()
	names, err := store.List(context.Background(), dir)
	require.NoError(t, err)
	assert.Len(t, names, 2)
}

func TestWriterRoundTrip(t *testing.T) {
	t.Parallel()
	output := t.TempDir()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	want := []models.FrameworkMetricRecord{
		{Step: 1, Metric: models.FrameworkMetricStep, StartTime: base, EndTime: base.Add(50 * time.Millisecond), Node: "algo-1"},
		{Step: 2, Metric: models.FrameworkMetricStep, StartTime: base.Add(50 * time.Millisecond), EndTime: base.Add(100 * time.Millisecond), Node: "algo-1"},
	}
	writeFrameworkFixture(t, output, want, DefaultSegmentSize)

	got, err := NewReader(storage.NewLocalStore()).FrameworkMetrics(context.Background(), output)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected diff (-want +got):\n%s", diff)
	}
}
