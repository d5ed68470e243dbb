package timeutils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnixMillisRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	assert.Equal(t, now, FromUnixMillis(UnixMillis(now)))
}

func TestZeroTimeMapsToZeroMillis(t *testing.T) {
	assert.Equal(t, int64(0), UnixMillis(time.Time{}))
	assert.True(t, FromUnixMillis(0).IsZero())
}

func TestParseTimestamp(t *testing.T) {
	fromMillis, err := ParseTimestamp("1724500000000")
	require.NoError(t, err)
	assert.Equal(t, int64(1724500000000), fromMillis.UnixMilli())

	fromRFC, err := ParseTimestamp("2026-08-24T10:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, 2026, fromRFC.Year())

	_, err = ParseTimestamp("")
	assert.Error(t, err)

	_, err = ParseTimestamp("not-a-time")
	assert.ErrorContains(t, err, "invalid timestamp")
}

func TestElapsedSeconds(t *testing.T) {
	origin := time.UnixMilli(0)
	assert.InDelta(t, 1.5, ElapsedSeconds(origin, time.UnixMilli(1500)), 1e-9)
}
