package models

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// DatasetLocation is the URI of an uploaded dataset, as returned by the
// publisher and consumed by job submission input channels.
type DatasetLocation string

func (d DatasetLocation) String() string {
	return string(d)
}

// Instance types accepted by the execution service.
var validInstanceTypes = map[string]bool{
	"cpu.4x":  true,
	"cpu.8x":  true,
	"gpu.1x":  true,
	"gpu.4x":  true,
	"gpu.8x":  true,
	"gpu.16x": true,
}

// ValidInstanceTypes returns the accepted instance type names, sorted, for
// error messages and command help.
func ValidInstanceTypes() []string {
	types := make([]string, 0, len(validInstanceTypes))
	for t := range validInstanceTypes {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// FrameworkProfile narrows detailed framework profiling to a step window.
type FrameworkProfile struct {
	StartStep int64 `json:"start_step" yaml:"start_step"`
	NumSteps  int64 `json:"num_steps" yaml:"num_steps"`
}

// ProfilerConfig controls the system monitor and the optional framework
// profiling window of a job.
type ProfilerConfig struct {
	// SystemMonitorIntervalMillis is the sampling interval of the system
	// monitor. Zero means the service default (500ms).
	SystemMonitorIntervalMillis int64             `json:"system_monitor_interval_millis,omitempty" yaml:"system_monitor_interval_millis,omitempty"`
	FrameworkProfile            *FrameworkProfile `json:"framework_profile,omitempty" yaml:"framework_profile,omitempty"`
}

// DefaultSystemMonitorIntervalMillis is applied when a submitted spec leaves
// the sampling interval unset.
const DefaultSystemMonitorIntervalMillis int64 = 500

// HookConfig controls the tensor-collection hook attached to the training
// loop. Collections are free-form names such as "outputs", "gradients",
// "weights" or "layers".
type HookConfig struct {
	SaveIntervalSteps int64    `json:"save_interval_steps" yaml:"save_interval_steps"`
	Collections       []string `json:"collections,omitempty" yaml:"collections,omitempty"`
}

// JobSpec is the full description of a training job. It is built once,
// submitted once, and immutable afterwards.
type JobSpec struct {
	Name            string            `json:"name" yaml:"name"`
	EntryPoint      string            `json:"entry_point" yaml:"entry_point"`
	SourceURI       string            `json:"source_uri,omitempty" yaml:"source_uri,omitempty"`
	Hyperparameters map[string]string `json:"hyperparameters,omitempty" yaml:"hyperparameters,omitempty"`
	InstanceType    string            `json:"instance_type" yaml:"instance_type"`
	InstanceCount   int               `json:"instance_count" yaml:"instance_count"`
	OutputURI       string            `json:"output_uri,omitempty" yaml:"output_uri,omitempty"`
	Profiler        *ProfilerConfig   `json:"profiler,omitempty" yaml:"profiler,omitempty"`
	Hook            *HookConfig       `json:"hook,omitempty" yaml:"hook,omitempty"`
	Tags            map[string]string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Validate checks the spec before submission.
func (s *JobSpec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("job name is required")
	}
	if s.EntryPoint == "" {
		return fmt.Errorf("entry point is required")
	}
	if !validInstanceTypes[s.InstanceType] {
		return fmt.Errorf("unknown instance type: %s (valid: %s)", s.InstanceType, strings.Join(ValidInstanceTypes(), ", "))
	}
	if s.InstanceCount < 1 {
		return fmt.Errorf("instance count must be >= 1, got %d", s.InstanceCount)
	}
	if s.Profiler != nil {
		if s.Profiler.SystemMonitorIntervalMillis < 0 {
			return fmt.Errorf("system monitor interval must be >= 0, got %d", s.Profiler.SystemMonitorIntervalMillis)
		}
		if fp := s.Profiler.FrameworkProfile; fp != nil {
			if fp.StartStep < 0 {
				return fmt.Errorf("framework profile start step must be >= 0, got %d", fp.StartStep)
			}
			if fp.NumSteps < 1 {
				return fmt.Errorf("framework profile num steps must be >= 1, got %d", fp.NumSteps)
			}
		}
	}
	if s.Hook != nil {
		if s.Hook.SaveIntervalSteps < 1 {
			return fmt.Errorf("hook save interval must be >= 1, got %d", s.Hook.SaveIntervalSteps)
		}
		for _, c := range s.Hook.Collections {
			if strings.TrimSpace(c) == "" {
				return fmt.Errorf("hook collection names must not be empty")
			}
		}
	}
	return nil
}

// JobStatus is the lifecycle state of a submitted job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "PENDING"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// JobInfo is the execution service's view of a job. The ID is the handle
// callers keep to locate profiling output later.
type JobInfo struct {
	ID                 string                     `json:"id"`
	Spec               JobSpec                    `json:"spec"`
	Inputs             map[string]DatasetLocation `json:"inputs,omitempty"`
	Status             JobStatus                  `json:"status"`
	Message            string                     `json:"message,omitempty"`
	ProfilingOutputURI string                     `json:"profiling_output_uri,omitempty"`
	SubmitTime         time.Time                  `json:"submit_time"`
	StartTime          *time.Time                 `json:"start_time,omitempty"`
	EndTime            *time.Time                 `json:"end_time,omitempty"`
}
