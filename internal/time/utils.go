package timeutils

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// UnixMillis converts a time to integer milliseconds since the epoch. The
// zero time maps to 0 so placeholders stay representable in columnar output.
func UnixMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// FromUnixMillis is the inverse of UnixMillis.
func FromUnixMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// ParseTimestamp accepts either an RFC3339 timestamp or integer epoch
// milliseconds, the two forms profiling artifacts are written with.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return FromUnixMillis(ms), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// ElapsedSeconds returns the offset of t from origin in seconds. Used for
// chart x coordinates.
func ElapsedSeconds(origin, t time.Time) float64 {
	return t.Sub(origin).Seconds()
}
