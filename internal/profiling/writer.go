package profiling

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/stepscope/stepscope/internal/storage"
)

// DefaultSegmentSize is the record count at which a segment closes.
const DefaultSegmentSize = 100

// Writer persists metric records as JSON Lines segments in one directory,
// closing a segment every segmentSize records and rewriting the directory
// index afterwards. Segments are written whole, so a reader following the
// index never observes a half-written line.
type Writer struct {
	dir         string
	segmentSize int

	firstTS time.Time
	lines   [][]byte
	closed  []string
}

func NewWriter(dir string, segmentSize int) (*Writer, error) {
	if segmentSize <= 0 {
		segmentSize = DefaultSegmentSize
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return &Writer{dir: dir, segmentSize: segmentSize}, nil
}

// Append buffers one record stamped with its observation time. The record
// reaches disk when its segment fills or on Flush/Close.
func (w *Writer) Append(ts time.Time, record any) error {
	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	if len(w.lines) == 0 {
		w.firstTS = ts
	}
	w.lines = append(w.lines, line)
	if len(w.lines) >= w.segmentSize {
		return w.Flush()
	}
	return nil
}

// Flush closes the open segment, if any, and rewrites the index.
func (w *Writer) Flush() error {
	if len(w.lines) == 0 {
		return nil
	}

	name := SegmentFileName(w.firstTS)
	for hasSegment(w.closed, name) {
		// Two segments started within the same millisecond.
		w.firstTS = w.firstTS.Add(time.Millisecond)
		name = SegmentFileName(w.firstTS)
	}

	var buf bytes.Buffer
	for _, line := range w.lines {
		buf.Write(line)
		buf.WriteByte('\n')
	}
	if err := os.WriteFile(filepath.Join(w.dir, name), buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write segment %s: %w", name, err)
	}
	w.closed = append(w.closed, name)
	w.lines = w.lines[:0]
	return w.writeIndex()
}

// Close flushes any buffered records.
func (w *Writer) Close() error {
	return w.Flush()
}

func (w *Writer) writeIndex() error {
	index := storage.DirIndex{
		Files:     append([]string(nil), w.closed...),
		UpdatedAt: time.Now().UTC(),
	}
	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode index: %w", err)
	}
	if err := os.WriteFile(filepath.Join(w.dir, storage.IndexFileName), data, 0644); err != nil {
		return fmt.Errorf("failed to write index: %w", err)
	}
	return nil
}

func hasSegment(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
