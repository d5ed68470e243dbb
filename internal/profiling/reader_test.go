package profiling

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepscope/stepscope/internal/models"
	"github.com/stepscope/stepscope/internal/storage"
)

func writeSystemFixture(t *testing.T, outputURI string, records []models.SystemMetricRecord, segmentSize int) {
	t.Helper()
	w, err := NewWriter(storage.LocalPath(SystemDir(outputURI)), segmentSize)
	require.NoError(t, err)
	for _, rec := range records {
		require.NoError(t, w.Append(rec.Timestamp, rec))
	}
	require.NoError(t, w.Close())
}

func writeFrameworkFixture(t *testing.T, outputURI string, records []models.FrameworkMetricRecord, segmentSize int) {
	t.Helper()
	w, err := NewWriter(storage.LocalPath(FrameworkDir(outputURI)), segmentSize)
	require.NoError(t, err)
	for _, rec := range records {
		require.NoError(t, w.Append(rec.StartTime, rec))
	}
	require.NoError(t, w.Close())
}

func systemFixture(base time.Time, n int) []models.SystemMetricRecord {
	records := make([]models.SystemMetricRecord, 0, n)
	for i := 0; i < n; i++ {
		records = append(records, models.SystemMetricRecord{
			Timestamp: base.Add(time.Duration(i) * 100 * time.Millisecond),
			Dimension: models.DimensionGPUUtilization,
			Node:      "algo-1",
			Value:     float64(10 * (i + 1)),
		})
	}
	return records
}

func TestReaderSystemMetrics(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	want := systemFixture(base, 5)

	output := t.TempDir()
	writeSystemFixture(t, output, want, 2)

	reader := NewReader(storage.NewLocalStore())
	got, err := reader.SystemMetrics(context.Background(), output)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected diff (-want +got):\n%s", diff)
	}

	// Reading a completed output twice gives identical tables.
	again, err := reader.SystemMetrics(context.Background(), output)
	require.NoError(t, err)
	if diff := cmp.Diff(got, again); diff != "" {
		t.Fatalf("second read differs (-first +second):\n%s", diff)
	}
}

func TestReaderSystemMetricsOverHTTP(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	want := systemFixture(base, 5)

	output := t.TempDir()
	writeSystemFixture(t, output, want, 2)

	srv := httptest.NewServer(http.FileServer(http.Dir(output)))
	defer srv.Close()

	reader := NewReader(storage.NewHTTPStore(5 * time.Second))
	got, err := reader.SystemMetrics(context.Background(), srv.URL)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected diff (-want +got):\n%s", diff)
	}
}

func TestReaderFrameworkMetricsFilter(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	step := func(n int64) models.FrameworkMetricRecord {
		return models.FrameworkMetricRecord{
			Step:      n,
			Metric:    models.FrameworkMetricStep,
			StartTime: base.Add(time.Duration(n) * 50 * time.Millisecond),
			EndTime:   base.Add(time.Duration(n+1) * 50 * time.Millisecond),
			Node:      "algo-1",
		}
	}
	hookSave := models.FrameworkMetricRecord{
		Step:      2,
		Metric:    models.FrameworkMetricHookSave,
		StartTime: base.Add(110 * time.Millisecond),
		EndTime:   base.Add(140 * time.Millisecond),
		Node:      "algo-1",
	}

	output := t.TempDir()
	writeFrameworkFixture(t, output, []models.FrameworkMetricRecord{step(1), hookSave, step(2), step(3)}, DefaultSegmentSize)

	reader := NewReader(storage.NewLocalStore())

	all, err := reader.FrameworkMetrics(context.Background(), output)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	steps, err := reader.FrameworkMetrics(context.Background(), output, models.FrameworkMetricStep)
	require.NoError(t, err)
	if diff := cmp.Diff([]models.FrameworkMetricRecord{step(1), step(2), step(3)}, steps); diff != "" {
		t.Fatalf("unexpected diff (-want +got):\n%s", diff)
	}

	saves, err := reader.FrameworkMetrics(context.Background(), output, models.FrameworkMetricHookSave)
	require.NoError(t, err)
	require.Len(t, saves, 1)
	assert.Equal(t, int64(2), saves[0].Step)
}

func TestReaderEmptyBeforeFirstWrite(t *testing.T) {
	t.Parallel()
	reader := NewReader(storage.NewLocalStore())
	output := t.TempDir()

	system, err := reader.SystemMetrics(context.Background(), output)
	require.NoError(t, err)
	assert.Empty(t, system)

	framework, err := reader.FrameworkMetrics(context.Background(), output, models.FrameworkMetricStep)
	require.NoError(t, err)
	assert.Empty(t, framework)
}

func TestReaderMalformedSegment(t *testing.T) {
	t.Parallel()
	output := t.TempDir()
	dir := storage.LocalPath(SystemDir(output))
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "1000.json"), []byte("{not json\n"), 0644))

	reader := NewReader(storage.NewLocalStore())
	_, err := reader.SystemMetrics(context.Background(), output)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse segment")
}

func TestDecodeSystemSegmentCSV(t *testing.T) {
	t.Parallel()
	data := strings.Join([]string{
		"timestamp,dimension,node,value",
		"1000,GPUUtilization,algo-1,10",
		"2026-03-01T10:00:00.2Z,CPUUtilization,algo-1,35.5",
		"1200,GPUMemoryUtilization,7.25",
	}, "\n")

	got, err := DecodeSystemSegment("export.csv", strings.NewReader(data))
	require.NoError(t, err)

	want := []models.SystemMetricRecord{
		{Timestamp: time.UnixMilli(1000).UTC(), Dimension: models.DimensionGPUUtilization, Node: "algo-1", Value: 10},
		{Timestamp: time.Date(2026, 3, 1, 10, 0, 0, 200000000, time.UTC), Dimension: models.DimensionCPUUtilization, Node: "algo-1", Value: 35.5},
		{Timestamp: time.UnixMilli(1200).UTC(), Dimension: models.DimensionGPUMemoryPercent, Value: 7.25},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected diff (-want +got):\n%s", diff)
	}
}

func TestDecodeFrameworkSegmentCSV(t *testing.T) {
	t.Parallel()
	data := strings.Join([]string{
		"step,metric,start_time,end_time,node",
		"1,step,1000,1050,algo-1",
		"2,step,1050,1100,algo-1",
	}, "\n")

	got, err := DecodeFrameworkSegment("export.csv", strings.NewReader(data))
	require.NoError(t, err)

	want := []models.FrameworkMetricRecord{
		{Step: 1, Metric: "step", StartTime: time.UnixMilli(1000).UTC(), EndTime: time.UnixMilli(1050).UTC(), Node: "algo-1"},
		{Step: 2, Metric: "step", StartTime: time.UnixMilli(1050).UTC(), EndTime: time.UnixMilli(1100).UTC(), Node: "algo-1"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected diff (-want +got):\n%s", diff)
	}
}

func TestDecodeFrameworkSegmentCSVBadRow(t *testing.T) {
	t.Parallel()
	_, err := DecodeFrameworkSegment("export.csv", strings.NewReader("1,step\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected 4 or 5 columns")
}
