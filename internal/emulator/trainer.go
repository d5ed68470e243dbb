package emulator

import (
	"context"
	"log"
	"math"
	"math/rand"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/stepscope/stepscope/internal/models"
	"github.com/stepscope/stepscope/internal/profiling"
	"github.com/stepscope/stepscope/internal/storage"
)

// Hyperparameters the simulated trainer understands. Everything else is
// carried in the spec but ignored.
const (
	HyperparamSteps          = "steps"
	HyperparamStepDurationMS = "step_duration_ms"
	HyperparamHookOverheadMS = "hook_overhead_ms"
)

// trainerNode names the single simulated training host.
const trainerNode = "algo-1"

type trainerParams struct {
	steps          int64
	stepDuration   time.Duration
	hookOverhead   time.Duration
	saveInterval   int64
	sampleInterval time.Duration
	windowStart    int64
	windowEnd      int64
}

func newTrainerParams(spec models.JobSpec) trainerParams {
	p := trainerParams{
		steps:          500,
		stepDuration:   20 * time.Millisecond,
		hookOverhead:   120 * time.Millisecond,
		sampleInterval: time.Duration(models.DefaultSystemMonitorIntervalMillis) * time.Millisecond,
		windowStart:    0,
		windowEnd:      math.MaxInt64,
	}

	if v, ok := hyperparamInt(spec, HyperparamSteps); ok && v > 0 {
		p.steps = v
	}
	if v, ok := hyperparamInt(spec, HyperparamStepDurationMS); ok && v >= 0 {
		p.stepDuration = time.Duration(v) * time.Millisecond
	}
	if v, ok := hyperparamInt(spec, HyperparamHookOverheadMS); ok && v >= 0 {
		p.hookOverhead = time.Duration(v) * time.Millisecond
	}

	if prof := spec.Profiler; prof != nil {
		if prof.SystemMonitorIntervalMillis > 0 {
			p.sampleInterval = time.Duration(prof.SystemMonitorIntervalMillis) * time.Millisecond
		}
		if fp := prof.FrameworkProfile; fp != nil {
			p.windowStart = fp.StartStep
			p.windowEnd = fp.StartStep + fp.NumSteps
		}
	}
	if spec.Hook != nil {
		p.saveInterval = spec.Hook.SaveIntervalSteps
	}
	return p
}

// inWindow reports whether detailed framework records are collected for the
// step.
func (p trainerParams) inWindow(step int64) bool {
	return step >= p.windowStart && step < p.windowEnd
}

func hyperparamInt(spec models.JobSpec, key string) (int64, bool) {
	raw, ok := spec.Hyperparameters[key]
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Printf("[EMULATOR] ignoring hyperparameter %s=%q: %v", key, raw, err)
		return 0, false
	}
	return v, true
}

// runTrainer simulates the training loop for one accepted job: per-step
// sleeps, the tensor-collection hook firing every save interval with its
// overhead, framework spans written as they complete, and a sampler
// goroutine recording system metrics for the whole run.
func (s *Server) runTrainer(ctx context.Context, id string) {
	spec := s.snapshot(id).Spec
	params := newTrainerParams(spec)

	localOutput := filepath.Join(s.opts.DataDir, "jobs", id, "output")
	systemW, err := profiling.NewWriter(storage.LocalPath(profiling.SystemDir(localOutput)), profiling.DefaultSegmentSize)
	if err != nil {
		s.transition(id, models.JobStatusFailed, err.Error())
		return
	}
	frameworkW, err := profiling.NewWriter(storage.LocalPath(profiling.FrameworkDir(localOutput)), profiling.DefaultSegmentSize)
	if err != nil {
		s.transition(id, models.JobStatusFailed, err.Error())
		return
	}

	s.transition(id, models.JobStatusRunning, "")
	log.Printf("[EMULATOR] job %s running: %d steps of %s, hook every %d steps (+%s)",
		id, params.steps, params.stepDuration, params.saveInterval, params.hookOverhead)

	var saving atomic.Bool
	stopSampler := make(chan struct{})
	samplerDone := make(chan struct{})
	go func() {
		defer close(samplerDone)
		runSampler(ctx, stopSampler, systemW, params.sampleInterval, &saving)
	}()

	failure := s.trainingLoop(ctx, frameworkW, params, &saving)

	close(stopSampler)
	<-samplerDone

	if err := systemW.Close(); err != nil && failure == "" {
		failure = err.Error()
	}
	if err := frameworkW.Close(); err != nil && failure == "" {
		failure = err.Error()
	}

	if failure != "" {
		s.transition(id, models.JobStatusFailed, failure)
		log.Printf("[EMULATOR] job %s failed: %s", id, failure)
		return
	}
	s.transition(id, models.JobStatusCompleted, "")
	log.Printf("[EMULATOR] job %s completed", id)
}

// trainingLoop runs the simulated steps and returns a failure message, empty
// on success.
func (s *Server) trainingLoop(ctx context.Context, w *profiling.Writer, params trainerParams, saving *atomic.Bool) string {
	for step := int64(1); step <= params.steps; step++ {
		stepStart := time.Now().UTC()
		if err := sleepCtx(ctx, params.stepDuration); err != nil {
			return "emulator shut down mid-training"
		}

		if params.saveInterval > 0 && step%params.saveInterval == 0 {
			saving.Store(true)
			hookStart := time.Now().UTC()
			err := sleepCtx(ctx, params.hookOverhead)
			saving.Store(false)
			if err != nil {
				return "emulator shut down mid-training"
			}
			if params.inWindow(step) {
				record := models.FrameworkMetricRecord{
					Step:      step,
					Metric:    models.FrameworkMetricHookSave,
					StartTime: hookStart,
					EndTime:   time.Now().UTC(),
					Node:      trainerNode,
				}
				if err := w.Append(record.StartTime, record); err != nil {
					return err.Error()
				}
			}
		}

		record := models.FrameworkMetricRecord{
			Step:      step,
			Metric:    models.FrameworkMetricStep,
			StartTime: stepStart,
			EndTime:   time.Now().UTC(),
			Node:      trainerNode,
		}
		if err := w.Append(record.StartTime, record); err != nil {
			return err.Error()
		}
	}
	return ""
}

// runSampler records system metrics at the profiler's sampling interval
// until stopped. GPU dimensions are modeled, dipping while the hook stalls
// the step; CPU and memory come from the host.
func runSampler(ctx context.Context, stop <-chan struct{}, w *profiling.Writer, interval time.Duration, saving *atomic.Bool) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case now := <-ticker.C:
			if err := appendSamples(w, now.UTC(), rng, saving.Load()); err != nil {
				log.Printf("[EMULATOR] sampler stopped: %v", err)
				return
			}
		}
	}
}

func appendSamples(w *profiling.Writer, ts time.Time, rng *rand.Rand, saving bool) error {
	gpu := 82 + rng.Float64()*14
	gpuMem := 58 + rng.Float64()*8
	if saving {
		// The hook serializes tensors on the CPU side; the device idles.
		gpu = 16 + rng.Float64()*12
		gpuMem = 52 + rng.Float64()*6
	}

	cpuVal := 35 + rng.Float64()*10
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		cpuVal = percents[0]
	}
	memVal := 40 + rng.Float64()*5
	if vm, err := mem.VirtualMemory(); err == nil {
		memVal = vm.UsedPercent
	}

	records := []models.SystemMetricRecord{
		{Timestamp: ts, Dimension: models.DimensionGPUUtilization, Node: trainerNode, Value: round2(gpu)},
		{Timestamp: ts, Dimension: models.DimensionGPUMemoryPercent, Node: trainerNode, Value: round2(gpuMem)},
		{Timestamp: ts, Dimension: models.DimensionCPUUtilization, Node: trainerNode, Value: round2(cpuVal)},
		{Timestamp: ts, Dimension: models.DimensionMemoryUsedPercent, Node: trainerNode, Value: round2(memVal)},
	}
	for _, rec := range records {
		if err := w.Append(rec.Timestamp, rec); err != nil {
			return err
		}
	}
	return nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
