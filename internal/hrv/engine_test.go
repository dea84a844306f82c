package hrv_test

import (
	"math"
	"testing"
	"time"

	"codeberg.org/mutker/pulsectl/internal/errors"
	"codeberg.org/mutker/pulsectl/internal/hrv"
	"codeberg.org/mutker/pulsectl/internal/sensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func toSamples(values []float64) []sensor.Sample {
	out := make([]sensor.Sample, len(values))
	step := time.Duration(float64(time.Second) / fs)
	for i, v := range values {
		out[i] = sensor.Sample{Type: sensor.PPG, Value: v, Timestamp: start.Add(time.Duration(i) * step)}
	}
	return out
}

// pulseTrain places gaussian beats at the given sample offsets.
func pulseTrain(n int, beats []int) []float64 {
	x := make([]float64, n)
	for i := range x {
		x[i] = 50000
		for _, b := range beats {
			d := float64(i-b) / (0.08 * fs)
			x[i] += 4000 * math.Exp(-0.5*d*d)
		}
	}
	return x
}

func newEngine(t *testing.T) *hrv.Engine {
	t.Helper()
	e, err := hrv.NewEngine(hrv.DefaultConfig(), fs)
	require.NoError(t, err)
	return e
}

func TestAnalyzeSteadyRhythm(t *testing.T) {
	e := newEngine(t)
	require.Equal(t, 750, e.WindowSamples())

	res, err := e.Analyze(toSamples(sine(1.25, 800, 50000, e.WindowSamples())))
	require.NoError(t, err)

	assert.InDelta(t, 75.0, res.HeartRate, 1.5)
	assert.InDelta(t, 800.0, res.MeanRR, 15)
	assert.Equal(t, hrv.QualityLow, res.Quality)
	assert.GreaterOrEqual(t, res.Intervals, 30)
	assert.GreaterOrEqual(t, res.Peaks, res.Intervals)
}

func TestAnalyzeVariableRhythm(t *testing.T) {
	e := newEngine(t)

	// Alternating 720 ms and 880 ms beats: mean 800, SDNN 80.
	var beats []int
	for b, i := 10, 0; b < 740; i++ {
		beats = append(beats, b)
		if i%2 == 0 {
			b += 18
		} else {
			b += 22
		}
	}

	res, err := e.Analyze(toSamples(pulseTrain(750, beats)))
	require.NoError(t, err)

	assert.InDelta(t, 800.0, res.MeanRR, 20)
	assert.InDelta(t, 80.0, res.SDNN, 25)
	assert.Greater(t, res.RMSSD, res.SDNN)
	assert.Equal(t, hrv.QualityGood, res.Quality)
}

func TestAnalyzeTooFewBeats(t *testing.T) {
	e := newEngine(t)

	// 50 samples cannot hold more than five peaks 10 samples apart.
	res, err := e.Analyze(toSamples(pulseTrain(50, []int{15, 35})))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, hrv.ErrInsufficientData))
	assert.Equal(t, hrv.QualityDegraded, res.Quality)
	assert.Zero(t, res.SDNN)
	assert.Zero(t, res.RMSSD)
}

func TestAnalyzeFlatSignal(t *testing.T) {
	e := newEngine(t)

	res, err := e.Analyze(toSamples(sine(0, 0, 50000, 750)))
	require.Error(t, err)
	assert.Equal(t, hrv.QualityDegraded, res.Quality)
	assert.Zero(t, res.Peaks)
}

func TestAnalyzeTooShort(t *testing.T) {
	e := newEngine(t)

	res, err := e.Analyze(toSamples([]float64{1, 2, 3}))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrHRVInsufficientData))
	assert.Equal(t, hrv.QualityDegraded, res.Quality)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, hrv.DefaultConfig().Validate())

	cfg := hrv.DefaultConfig()
	cfg.HighCutoff = 0.1
	assert.Error(t, cfg.Validate())

	cfg = hrv.DefaultConfig()
	cfg.MinIntervals = 1
	assert.Error(t, cfg.Validate())

	_, err := hrv.NewEngine(hrv.DefaultConfig(), 0)
	require.Error(t, err)
}
