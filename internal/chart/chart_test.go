package chart

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepscope/stepscope/internal/correlation"
	"github.com/stepscope/stepscope/internal/models"
)

func fixtureSeries(t *testing.T) *correlation.Series {
	t.Helper()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	var system []models.SystemMetricRecord
	for i := 0; i < 12; i++ {
		system = append(system, models.SystemMetricRecord{
			Timestamp: base.Add(time.Duration(i) * 100 * time.Millisecond),
			Dimension: models.DimensionGPUUtilization,
			Value:     float64(50 + i),
		})
	}

	var framework []models.FrameworkMetricRecord
	for k := int64(1); k <= 10; k++ {
		framework = append(framework, models.FrameworkMetricRecord{
			Step:      k,
			Metric:    models.FrameworkMetricStep,
			StartTime: base.Add(time.Duration(k-1) * 100 * time.Millisecond),
			EndTime:   base.Add(time.Duration(k) * 100 * time.Millisecond),
		})
	}

	return correlation.Correlate(system, framework, correlation.Options{Modulus: 5})
}

func TestRender(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	err := Render(&buf, fixtureSeries(t), Config{Title: "job j1", Subtitle: "gpu.1x"})
	require.NoError(t, err)

	html := buf.String()
	assert.Contains(t, html, `id="stepscope"`)
	assert.Contains(t, html, "job j1")
	assert.Contains(t, html, models.DimensionGPUUtilization)
	assert.Contains(t, html, "hook steps")
	assert.Contains(t, html, correlation.DefaultHookColor)
	assert.Contains(t, html, correlation.DefaultStepColor)
	assert.Contains(t, html, "selected index range")
	assert.Contains(t, html, "datazoom")
}

func TestRenderEmptySeries(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	err := Render(&buf, correlation.Correlate(nil, nil, correlation.Options{}), Config{})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "selected index range: 0 .. 0")
}
