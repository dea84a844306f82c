// Package hrv extracts heartbeats from a PPG stream and computes time-domain
// heart rate variability.
package hrv

import (
	"math"
	"time"

	"codeberg.org/mutker/pulsectl/internal/errors"
	"codeberg.org/mutker/pulsectl/internal/sensor"
	"gonum.org/v1/gonum/stat"
)

type Config struct {
	Window           time.Duration
	LowCutoff        float64
	HighCutoff       float64
	FilterOrder      int
	MinPeakDistance  time.Duration
	PeakHeightFactor float64
	MinRR            float64
	MaxRR            float64
	MinIntervals     int
}

func DefaultConfig() Config {
	return Config{
		Window:           30 * time.Second,
		LowCutoff:        0.5,
		HighCutoff:       4.0,
		FilterOrder:      4,
		MinPeakDistance:  400 * time.Millisecond,
		PeakHeightFactor: 0.5,
		MinRR:            MinRR,
		MaxRR:            MaxRR,
		MinIntervals:     DefaultMinIntervals,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	switch {
	case c.Window <= 0:
		return errFactory.WithData(ErrInvalidConfig, "hrv window must be positive")
	case c.LowCutoff <= 0 || c.HighCutoff <= c.LowCutoff:
		return errFactory.WithData(ErrInvalidConfig, "hrv cutoffs must satisfy 0 < low < high")
	case c.FilterOrder <= 0:
		return errFactory.WithData(ErrInvalidConfig, "hrv filter order must be positive")
	case c.MinRR <= 0 || c.MaxRR <= c.MinRR:
		return errFactory.WithData(ErrInvalidConfig, "hrv RR bounds must satisfy 0 < min < max")
	case c.MinIntervals < 2:
		return errFactory.WithData(ErrInvalidConfig, "hrv needs at least two intervals")
	}
	return nil
}

const flatTolerance = 1e-9

// Engine analyzes PPG windows sampled at a fixed rate.
type Engine struct {
	cfg      Config
	fs       float64
	filter   Cascade
	distance int
}

func NewEngine(cfg Config, samplingRate float64) (*Engine, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	filter, err := Bandpass(cfg.FilterOrder, cfg.LowCutoff, cfg.HighCutoff, samplingRate)
	if err != nil {
		return nil, errFactory.Wrap(ErrInvalidFilter, err)
	}

	distance := int(samplingRate * cfg.MinPeakDistance.Seconds())
	if distance < 1 {
		distance = 1
	}

	return &Engine{
		cfg:      cfg,
		fs:       samplingRate,
		filter:   filter,
		distance: distance,
	}, nil
}

// WindowSamples is the number of trailing PPG samples one analysis covers.
func (e *Engine) WindowSamples() int {
	return int(math.Ceil(e.cfg.Window.Seconds() * e.fs))
}

// SamplingRate returns the rate the filter was designed for.
func (e *Engine) SamplingRate() float64 {
	return e.fs
}

// Analyze runs filter, peak detection and RR extraction over samples, which
// must be PPG readings in timestamp order. With too few valid intervals the
// result is degraded and the error carries ErrInsufficientData.
func (e *Engine) Analyze(samples []sensor.Sample) (Result, error) {
	peaks, err := e.DetectPeaks(samples)
	if err != nil {
		return Degraded(0, 0), err
	}

	rr := make([]float64, 0, len(peaks))
	for i := 1; i < len(peaks); i++ {
		dt := samples[peaks[i]].Timestamp.Sub(samples[peaks[i-1]].Timestamp)
		rr = append(rr, float64(dt)/float64(time.Millisecond))
	}
	rr = FilterRR(rr, e.cfg.MinRR, e.cfg.MaxRR)

	res, err := ComputeMetrics(rr, e.cfg.MinIntervals)
	res.Peaks = len(peaks)
	return res, err
}

// DetectPeaks returns indices into samples where heartbeats were found.
func (e *Engine) DetectPeaks(samples []sensor.Sample) ([]int, error) {
	minSamples := 2*e.distance + 1
	if len(samples) < minSamples {
		return nil, errors.New().WithData(ErrInsufficientData, struct {
			Samples  int
			Required int
		}{len(samples), minSamples})
	}

	values := make([]float64, len(samples))
	for i, s := range samples {
		values[i] = s.Value
	}

	filtered := e.filter.FiltFilt(values)
	_, std := stat.PopMeanStdDev(filtered, nil)
	// A flat input leaves only rounding noise after filtering.
	if math.IsNaN(std) || std <= flatTolerance*math.Max(1, math.Abs(stat.Mean(values, nil))) {
		return nil, nil
	}

	return FindPeaks(filtered, e.cfg.PeakHeightFactor*std, e.distance), nil
}
