package models

import "time"

// Dimension names emitted by the system monitor.
const (
	DimensionGPUUtilization    = "GPUUtilization"
	DimensionGPUMemoryPercent  = "GPUMemoryUtilization"
	DimensionCPUUtilization    = "CPUUtilization"
	DimensionMemoryUsedPercent = "MemoryUsedPercent"
)

// Framework metric names emitted by the training loop.
const (
	FrameworkMetricStep     = "step"
	FrameworkMetricHookSave = "hook_save"
)

// SystemMetricRecord is one sample of a system resource dimension, produced
// by the remote profiling agent. Read-only from the client's perspective.
type SystemMetricRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Dimension string    `json:"dimension"`
	Node      string    `json:"node,omitempty"`
	Value     float64   `json:"value"`
}

// FrameworkMetricRecord marks the wall-clock span of a named training phase,
// for example one training step or one tensor-collection save.
type FrameworkMetricRecord struct {
	Step      int64     `json:"step"`
	Metric    string    `json:"metric"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Node      string    `json:"node,omitempty"`
}

// Duration is the span covered by the record.
func (r FrameworkMetricRecord) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}
