package profiling

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	"github.com/stepscope/stepscope/internal/models"
	"github.com/stepscope/stepscope/internal/storage"
	timeutils "github.com/stepscope/stepscope/internal/time"
)

// Reader loads profiling artifacts from a job output location into in-memory
// tables. Reads are pull operations against an eventually consistent store:
// output that has not been written yet reads as an empty table and a job
// still in progress as a partial one. Malformed segments are an error.
type Reader struct {
	store storage.Store
}

func NewReader(store storage.Store) *Reader {
	return &Reader{store: store}
}

// SystemMetrics returns every system metric record under outputURI, ordered
// by observation time. Reading the same completed output twice returns
// identical tables.
func (r *Reader) SystemMetrics(ctx context.Context, outputURI string) ([]models.SystemMetricRecord, error) {
	dir := SystemDir(outputURI)
	names, err := r.store.List(ctx, dir)
	if err != nil {
		return nil, err
	}

	var records []models.SystemMetricRecord
	for _, name := range names {
		if err := r.readSegment(ctx, dir, name, func(rd io.Reader) error {
			recs, err := DecodeSystemSegment(name, rd)
			records = append(records, recs...)
			return err
		}); err != nil {
			return nil, err
		}
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})
	return records, nil
}

// FrameworkMetrics returns framework metric records under outputURI, ordered
// by span start time. When metricNames is non-empty only records with those
// metric names are returned.
func (r *Reader) FrameworkMetrics(ctx context.Context, outputURI string, metricNames ...string) ([]models.FrameworkMetricRecord, error) {
	dir := FrameworkDir(outputURI)
	names, err := r.store.List(ctx, dir)
	if err != nil {
		return nil, err
	}

	var records []models.FrameworkMetricRecord
	for _, name := range names {
		if err := r.readSegment(ctx, dir, name, func(rd io.Reader) error {
			recs, err := DecodeFrameworkSegment(name, rd)
			records = append(records, recs...)
			return err
		}); err != nil {
			return nil, err
		}
	}

	records = filterFrameworkRecords(records, metricNames)
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].StartTime.Equal(records[j].StartTime) {
			return records[i].Step < records[j].Step
		}
		return records[i].StartTime.Before(records[j].StartTime)
	})
	return records, nil
}

// readSegment opens one listed segment and hands it to decode. A segment
// listed but not yet retrievable is skipped, matching the read model: the
// index may run ahead of replicated file content.
func (r *Reader) readSegment(ctx context.Context, dir, name string, decode func(io.Reader) error) error {
	rc, err := r.store.Open(ctx, storage.JoinURI(dir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	defer rc.Close()

	if err := decode(rc); err != nil {
		return fmt.Errorf("failed to parse segment %s: %w", name, err)
	}
	return nil
}

func filterFrameworkRecords(records []models.FrameworkMetricRecord, names []string) []models.FrameworkMetricRecord {
	if len(names) == 0 {
		return records
	}
	allowed := make(map[string]struct{}, len(names))
	for _, n := range names {
		allowed[n] = struct{}{}
	}
	filtered := make([]models.FrameworkMetricRecord, 0, len(records))
	for _, rec := range records {
		if _, ok := allowed[rec.Metric]; ok {
			filtered = append(filtered, rec)
		}
	}
	return filtered
}

// DecodeSystemSegment decodes one system metrics segment. The format follows
// the file name: .csv segments are comma separated, everything else is JSON
// Lines.
func DecodeSystemSegment(name string, rd io.Reader) ([]models.SystemMetricRecord, error) {
	if strings.HasSuffix(name, ".csv") {
		return decodeSystemCSV(rd)
	}
	return decodeSystemJSONL(rd)
}

// DecodeFrameworkSegment decodes one framework metrics segment.
func DecodeFrameworkSegment(name string, rd io.Reader) ([]models.FrameworkMetricRecord, error) {
	if strings.HasSuffix(name, ".csv") {
		return decodeFrameworkCSV(rd)
	}
	return decodeFrameworkJSONL(rd)
}

func decodeSystemJSONL(rd io.Reader) ([]models.SystemMetricRecord, error) {
	var records []models.SystemMetricRecord
	dec := json.NewDecoder(rd)
	for {
		var rec models.SystemMetricRecord
		if err := dec.Decode(&rec); err == io.EOF {
			break
		} else if err != nil {
			return records, fmt.Errorf("failed to parse record %d: %w", len(records), err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func decodeFrameworkJSONL(rd io.Reader) ([]models.FrameworkMetricRecord, error) {
	var records []models.FrameworkMetricRecord
	dec := json.NewDecoder(rd)
	for {
		var rec models.FrameworkMetricRecord
		if err := dec.Decode(&rec); err == io.EOF {
			break
		} else if err != nil {
			return records, fmt.Errorf("failed to parse record %d: %w", len(records), err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// decodeSystemCSV expects columns timestamp,dimension[,node],value with an
// optional header row. Timestamps are epoch milliseconds or RFC3339.
func decodeSystemCSV(rd io.Reader) ([]models.SystemMetricRecord, error) {
	rows, err := readCSVRows(rd, "timestamp")
	if err != nil {
		return nil, err
	}

	records := make([]models.SystemMetricRecord, 0, len(rows))
	for i, row := range rows {
		if len(row) != 3 && len(row) != 4 {
			return records, fmt.Errorf("failed to parse row %d: expected 3 or 4 columns, got %d", i, len(row))
		}
		ts, err := timeutils.ParseTimestamp(row[0])
		if err != nil {
			return records, fmt.Errorf("failed to parse row %d: %w", i, err)
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(row[len(row)-1]), 64)
		if err != nil {
			return records, fmt.Errorf("failed to parse row %d: %w", i, err)
		}
		rec := models.SystemMetricRecord{Timestamp: ts, Dimension: row[1], Value: value}
		if len(row) == 4 {
			rec.Node = row[2]
		}
		records = append(records, rec)
	}
	return records, nil
}

// decodeFrameworkCSV expects columns step,metric,start_time,end_time[,node]
// with an optional header row.
func decodeFrameworkCSV(rd io.Reader) ([]models.FrameworkMetricRecord, error) {
	rows, err := readCSVRows(rd, "step")
	if err != nil {
		return nil, err
	}

	records := make([]models.FrameworkMetricRecord, 0, len(rows))
	for i, row := range rows {
		if len(row) != 4 && len(row) != 5 {
			return records, fmt.Errorf("failed to parse row %d: expected 4 or 5 columns, got %d", i, len(row))
		}
		step, err := strconv.ParseInt(strings.TrimSpace(row[0]), 10, 64)
		if err != nil {
			return records, fmt.Errorf("failed to parse row %d: %w", i, err)
		}
		start, err := timeutils.ParseTimestamp(row[2])
		if err != nil {
			return records, fmt.Errorf("failed to parse row %d: %w", i, err)
		}
		end, err := timeutils.ParseTimestamp(row[3])
		if err != nil {
			return records, fmt.Errorf("failed to parse row %d: %w", i, err)
		}
		rec := models.FrameworkMetricRecord{Step: step, Metric: row[1], StartTime: start, EndTime: end}
		if len(row) == 5 {
			rec.Node = row[4]
		}
		records = append(records, rec)
	}
	return records, nil
}

func readCSVRows(rd io.Reader, headerFirstColumn string) ([][]string, error) {
	cr := csv.NewReader(rd)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse CSV: %w", err)
	}
	if len(rows) > 0 && strings.EqualFold(rows[0][0], headerFirstColumn) {
		rows = rows[1:]
	}
	return rows, nil
}
