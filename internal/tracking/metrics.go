package tracking

import (
	"context"
	"fmt"
	"time"

	"github.com/databricks/databricks-sdk-go/service/ml"

	"github.com/stepscope/stepscope/internal/correlation"
)

func (c *Client) LogMetric(ctx context.Context, runID string, key string, value float64, timestamp *time.Time, step *int64) error {
	logMetric := ml.LogMetric{
		RunId: runID,
		Key:   key,
		Value: value,
	}

	if timestamp != nil {
		logMetric.Timestamp = timestamp.UnixMilli()
	} else {
		logMetric.Timestamp = time.Now().UnixMilli()
	}
	if step != nil {
		logMetric.Step = *step
	}

	if err := c.client.Experiments.LogMetric(ctx, logMetric); err != nil {
		return fmt.Errorf("failed to log metric %s: %w", key, err)
	}
	return nil
}

// LogSeriesSummary publishes the aggregate view of a correlated series as
// run metrics, one key per aggregate.
func (c *Client) LogSeriesSummary(ctx context.Context, runID string, sum correlation.Summary) error {
	metrics := map[string]float64{
		"profiling.samples":                float64(sum.Samples),
		"profiling.steps":                  float64(sum.Steps),
		"profiling.hook_steps":             float64(sum.HookSteps),
		"profiling.mean_utilization":       sum.MeanValue,
		"profiling.max_utilization":        sum.MaxValue,
		"profiling.mean_step_millis":       sum.MeanStepMillis,
		"profiling.mean_hook_step_millis":  sum.MeanHookStepMillis,
		"profiling.mean_plain_step_millis": sum.MeanPlainStepMillis,
	}
	if slowdown := sum.HookSlowdown(); slowdown > 0 {
		metrics["profiling.hook_step_slowdown"] = slowdown
	}
	for key, value := range metrics {
		if err := c.LogMetric(ctx, runID, key, value, nil, nil); err != nil {
			return err
		}
	}
	return nil
}
