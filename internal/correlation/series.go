// Package correlation aligns a system resource series with training step
// spans into one fixed-width table suitable for rendering. Alignment is
// presentation only: no resampling or interpolation, just right-padding of
// the shorter series so both fit a single indexed structure.
package correlation

import (
	"time"

	"github.com/stepscope/stepscope/internal/models"
	timeutils "github.com/stepscope/stepscope/internal/time"
)

// Defaults for the marker predicate and palette.
const (
	DefaultDimension = models.DimensionGPUUtilization
	DefaultModulus   = int64(50)
	DefaultHookColor = "#e5383b"
	DefaultStepColor = "#4c72b0"
)

// PlaceholderStep fills the step column beyond the last real record. Padded
// rows carry zero times, zero values and an empty color.
const PlaceholderStep = int64(-1)

// Options select the resource dimension and the step predicate used for
// marker coloring. Zero values take the package defaults.
type Options struct {
	Dimension string
	Modulus   int64
	HookColor string
	StepColor string
}

func (o Options) withDefaults() Options {
	if o.Dimension == "" {
		o.Dimension = DefaultDimension
	}
	if o.Modulus <= 0 {
		o.Modulus = DefaultModulus
	}
	if o.HookColor == "" {
		o.HookColor = DefaultHookColor
	}
	if o.StepColor == "" {
		o.StepColor = DefaultStepColor
	}
	return o
}

// Series is the merged table: one resource sample and one step span per
// index, all columns padded to the length of the longer input. Input order
// is preserved as-is; records are assumed already ordered by observation
// time, which the readers guarantee.
type Series struct {
	Dimension string
	Modulus   int64

	Timestamps []time.Time
	Values     []float64
	StepStart  []time.Time
	StepEnd    []time.Time
	StepNum    []int64
	StepColor  []string

	// SampleCount and StepCount are the real lengths before padding.
	SampleCount int
	StepCount   int
}

// Correlate filters system records to one dimension and merges them with the
// step spans. The reference workflow pads the step side because the system
// monitor samples more often than steps complete; either side may be the
// shorter one in general, so whichever is shorter gets the padding.
func Correlate(system []models.SystemMetricRecord, framework []models.FrameworkMetricRecord, opts Options) *Series {
	opts = opts.withDefaults()

	s := &Series{
		Dimension: opts.Dimension,
		Modulus:   opts.Modulus,
	}

	for _, rec := range system {
		if rec.Dimension != opts.Dimension {
			continue
		}
		s.Timestamps = append(s.Timestamps, rec.Timestamp)
		s.Values = append(s.Values, rec.Value)
	}
	s.SampleCount = len(s.Timestamps)

	for _, rec := range framework {
		s.StepStart = append(s.StepStart, rec.StartTime)
		s.StepEnd = append(s.StepEnd, rec.EndTime)
		s.StepNum = append(s.StepNum, rec.Step)
		s.StepColor = append(s.StepColor, ColorForStep(rec.Step, opts))
	}
	s.StepCount = len(s.StepNum)

	for len(s.Timestamps) < s.StepCount {
		s.Timestamps = append(s.Timestamps, time.Time{})
		s.Values = append(s.Values, 0)
	}
	for len(s.StepNum) < s.SampleCount {
		s.StepStart = append(s.StepStart, time.Time{})
		s.StepEnd = append(s.StepEnd, time.Time{})
		s.StepNum = append(s.StepNum, PlaceholderStep)
		s.StepColor = append(s.StepColor, "")
	}

	return s
}

// ColorForStep applies the marker predicate: the hook color when the step
// number is a multiple of the modulus, the plain step color otherwise.
func ColorForStep(step int64, opts Options) string {
	opts = opts.withDefaults()
	if step%opts.Modulus == 0 {
		return opts.HookColor
	}
	return opts.StepColor
}

// Len is the padded column length.
func (s *Series) Len() int {
	return len(s.Timestamps)
}

// Origin is the earliest real observation across both inputs, the zero point
// for elapsed-time axes. Zero when the series is empty.
func (s *Series) Origin() time.Time {
	var origin time.Time
	if s.SampleCount > 0 {
		origin = s.Timestamps[0]
	}
	if s.StepCount > 0 && (origin.IsZero() || s.StepStart[0].Before(origin)) {
		origin = s.StepStart[0]
	}
	return origin
}

// DataSource is the columnar form handed to the plot surface. Times are
// epoch milliseconds; padded rows hold zeros, so padded spans read as
// zero-length gaps.
type DataSource struct {
	X     []int64   `json:"x"`
	Y     []float64 `json:"y"`
	Left  []int64   `json:"left"`
	Right []int64   `json:"right"`
	Step  []int64   `json:"step"`
	Color []string  `json:"color"`
}

func (s *Series) DataSource() DataSource {
	n := s.Len()
	ds := DataSource{
		X:     make([]int64, n),
		Y:     make([]float64, n),
		Left:  make([]int64, n),
		Right: make([]int64, n),
		Step:  make([]int64, n),
		Color: make([]string, n),
	}
	for i := 0; i < n; i++ {
		ds.X[i] = timeutils.UnixMillis(s.Timestamps[i])
		ds.Y[i] = s.Values[i]
		ds.Left[i] = timeutils.UnixMillis(s.StepStart[i])
		ds.Right[i] = timeutils.UnixMillis(s.StepEnd[i])
		ds.Step[i] = s.StepNum[i]
		ds.Color[i] = s.StepColor[i]
	}
	return ds
}

// Summary aggregates the real rows for experiment tracking.
type Summary struct {
	Samples             int
	Steps               int
	HookSteps           int
	MeanValue           float64
	MaxValue            float64
	MeanStepMillis      float64
	MeanHookStepMillis  float64
	MeanPlainStepMillis float64
}

// HookSlowdown is the mean hook-step duration relative to the mean plain
// step duration. Zero when either kind of step is missing.
func (s Summary) HookSlowdown() float64 {
	if s.MeanHookStepMillis == 0 || s.MeanPlainStepMillis == 0 {
		return 0
	}
	return s.MeanHookStepMillis / s.MeanPlainStepMillis
}

func (s *Series) Summary() Summary {
	sum := Summary{Samples: s.SampleCount, Steps: s.StepCount}

	var total float64
	for i := 0; i < s.SampleCount; i++ {
		total += s.Values[i]
		if s.Values[i] > sum.MaxValue {
			sum.MaxValue = s.Values[i]
		}
	}
	if s.SampleCount > 0 {
		sum.MeanValue = total / float64(s.SampleCount)
	}

	var allMillis, hookMillis, plainMillis float64
	var plainSteps int
	for i := 0; i < s.StepCount; i++ {
		millis := float64(s.StepEnd[i].Sub(s.StepStart[i])) / float64(time.Millisecond)
		allMillis += millis
		if s.StepNum[i]%s.Modulus == 0 {
			sum.HookSteps++
			hookMillis += millis
		} else {
			plainSteps++
			plainMillis += millis
		}
	}
	if s.StepCount > 0 {
		sum.MeanStepMillis = allMillis / float64(s.StepCount)
	}
	if sum.HookSteps > 0 {
		sum.MeanHookStepMillis = hookMillis / float64(sum.HookSteps)
	}
	if plainSteps > 0 {
		sum.MeanPlainStepMillis = plainMillis / float64(plainSteps)
	}
	return sum
}
