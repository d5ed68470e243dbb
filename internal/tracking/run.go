package tracking

import (
	"context"
	"fmt"
	"time"

	"github.com/databricks/databricks-sdk-go/service/ml"

	"github.com/stepscope/stepscope/internal/models"
)

type RunStatus string

const (
	RunStatusRunning  RunStatus = "RUNNING"
	RunStatusFinished RunStatus = "FINISHED"
	RunStatusFailed   RunStatus = "FAILED"
	RunStatusKilled   RunStatus = "KILLED"
)

// RunInfo is the tracked mirror of one profiling session.
type RunInfo struct {
	RunID        string
	ExperimentID string
	RunName      string
	Status       string
	StartTime    time.Time
	EndTime      *time.Time
	Tags         map[string]string
}

// Tag keys stamped on mirrored runs.
const (
	TagJobID        = "stepscope.job_id"
	TagInstanceType = "stepscope.instance_type"
	TagOutputURI    = "stepscope.profiling_output_uri"
)

// CreateRun opens a tracking run. An empty name gets a timestamped one.
func (c *Client) CreateRun(ctx context.Context, runName string, tags map[string]string) (*RunInfo, error) {
	experimentID := c.config.ExperimentID
	if experimentID == "" {
		return nil, fmt.Errorf("experiment ID must be provided")
	}

	if runName == "" {
		runName = "run-" + time.Now().Format("2006-01-02-15-04-05")
	}

	runTags := make([]ml.RunTag, 0, len(tags)+1)
	for key, value := range tags {
		runTags = append(runTags, ml.RunTag{Key: key, Value: value})
	}
	runTags = append(runTags, ml.RunTag{Key: "mlflow.runName", Value: runName})

	startTime := time.Now()
	resp, err := c.client.Experiments.CreateRun(ctx, ml.CreateRun{
		ExperimentId: experimentID,
		RunName:      runName,
		StartTime:    startTime.UnixMilli(),
		Tags:         runTags,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	return &RunInfo{
		RunID:        resp.Run.Info.RunId,
		ExperimentID: experimentID,
		RunName:      runName,
		Status:       string(RunStatusRunning),
		StartTime:    startTime,
		Tags:         tags,
	}, nil
}

// UpdateRun moves a run to a new status, stamping the end time on terminal
// ones.
func (c *Client) UpdateRun(ctx context.Context, runID string, status RunStatus) error {
	var mlStatus ml.UpdateRunStatus
	switch status {
	case RunStatusRunning:
		mlStatus = ml.UpdateRunStatusRunning
	case RunStatusFinished:
		mlStatus = ml.UpdateRunStatusFinished
	case RunStatusFailed:
		mlStatus = ml.UpdateRunStatusFailed
	case RunStatusKilled:
		mlStatus = ml.UpdateRunStatusKilled
	default:
		mlStatus = ml.UpdateRunStatusFinished
	}

	updateRun := ml.UpdateRun{
		RunId:  runID,
		Status: mlStatus,
	}
	if status != RunStatusRunning {
		updateRun.EndTime = time.Now().UnixMilli()
	}

	if _, err := c.client.Experiments.UpdateRun(ctx, updateRun); err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	return nil
}

// GetRun reads a run back, folding well-known tags into the info.
func (c *Client) GetRun(ctx context.Context, runID string) (*RunInfo, error) {
	resp, err := c.client.Experiments.GetRun(ctx, ml.GetRunRequest{RunId: runID})
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	run := resp.Run
	tags := make(map[string]string)
	for _, tag := range run.Data.Tags {
		tags[tag.Key] = tag.Value
	}

	runInfo := &RunInfo{
		RunID:        run.Info.RunId,
		ExperimentID: run.Info.ExperimentId,
		Status:       string(run.Info.Status),
		StartTime:    time.Unix(run.Info.StartTime/1000, 0),
		Tags:         tags,
	}
	if run.Info.EndTime != 0 {
		endTime := time.Unix(run.Info.EndTime/1000, 0)
		runInfo.EndTime = &endTime
	}
	if runName, exists := tags["mlflow.runName"]; exists {
		runInfo.RunName = runName
	}
	return runInfo, nil
}

// StartJobRun opens a run mirroring a submitted job: named after the job,
// tagged with its identity, hyperparameters logged as run parameters.
func (c *Client) StartJobRun(ctx context.Context, job *models.JobInfo) (*RunInfo, error) {
	name := job.Spec.Name
	if len(job.ID) >= 8 {
		name = name + "-" + job.ID[:8]
	}

	run, err := c.CreateRun(ctx, name, map[string]string{
		TagJobID:        job.ID,
		TagInstanceType: job.Spec.InstanceType,
		TagOutputURI:    job.ProfilingOutputURI,
	})
	if err != nil {
		return nil, err
	}

	params := map[string]string{
		"entry_point":    job.Spec.EntryPoint,
		"instance_type":  job.Spec.InstanceType,
		"instance_count": fmt.Sprintf("%d", job.Spec.InstanceCount),
	}
	for key, value := range job.Spec.Hyperparameters {
		params[key] = value
	}
	if err := c.LogParamsFromMap(ctx, run.RunID, params); err != nil {
		return nil, err
	}
	return run, nil
}

// FinishJobRun closes a mirrored run with the job's terminal status.
func (c *Client) FinishJobRun(ctx context.Context, runID string, status models.JobStatus) error {
	runStatus := RunStatusKilled
	switch status {
	case models.JobStatusCompleted:
		runStatus = RunStatusFinished
	case models.JobStatusFailed:
		runStatus = RunStatusFailed
	}
	return c.UpdateRun(ctx, runID, runStatus)
}
