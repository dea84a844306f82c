package aggregate_test

import (
	"math"
	"testing"
	"time"

	"codeberg.org/mutker/pulsectl/internal/aggregate"
	"codeberg.org/mutker/pulsectl/internal/buffer"
	"codeberg.org/mutker/pulsectl/internal/hrv"
	"codeberg.org/mutker/pulsectl/internal/sensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fs = 25.0

var start = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func newSet(t *testing.T) *buffer.Set {
	t.Helper()
	set, err := buffer.NewSet(map[sensor.Type]int{sensor.PPG: 1000}, 250)
	require.NoError(t, err)
	return set
}

func fill(t *testing.T, set *buffer.Set, typ sensor.Type, n int, fn func(i int) float64) {
	t.Helper()
	step := time.Duration(float64(time.Second) / fs)
	for i := 0; i < n; i++ {
		require.NoError(t, set.Push(sensor.Sample{Type: typ, Value: fn(i), Timestamp: start.Add(time.Duration(i) * step)}))
	}
}

func newAggregator(t *testing.T) *aggregate.Aggregator {
	t.Helper()
	engine, err := hrv.NewEngine(hrv.DefaultConfig(), fs)
	require.NoError(t, err)
	return aggregate.New(aggregate.DefaultConfig(), engine)
}

func TestStressScore(t *testing.T) {
	assert.Equal(t, 100.0, aggregate.StressScore(1000, 300))
	assert.Equal(t, 0.0, aggregate.StressScore(0, 50))
	assert.Equal(t, 0.0, aggregate.StressScore(-5, 40))
	// 0.5*min(100, 20) + 0.5*(80-60)*2
	assert.Equal(t, 30.0, aggregate.StressScore(0.02, 80))
	assert.Equal(t, 75.0, aggregate.StressScore(0.1, 85))
}

func TestEstimateHeartRate(t *testing.T) {
	hr, ok := aggregate.EstimateHeartRate([]float64{1000, 1000, 1000})
	require.True(t, ok)
	assert.Equal(t, 60.0, hr)

	// Mean 10, deviation 30: 60 + 3*40.
	hr, ok = aggregate.EstimateHeartRate([]float64{0, 0, 0, 0, 0, 0, 0, 0, 0, 100})
	require.True(t, ok)
	assert.Equal(t, 180.0, hr)

	hr, ok = aggregate.EstimateHeartRate([]float64{0.1, 100, 0.1, 100})
	require.True(t, ok)
	assert.Equal(t, 99.9, hr)

	spiky := make([]float64, 20)
	spiky[19] = 100
	hr, ok = aggregate.EstimateHeartRate(spiky)
	require.True(t, ok)
	assert.Equal(t, 180.0, hr, "clamped to the upper bound")

	_, ok = aggregate.EstimateHeartRate([]float64{5})
	assert.False(t, ok)
	_, ok = aggregate.EstimateHeartRate([]float64{0, 0})
	assert.False(t, ok)
	_, ok = aggregate.EstimateHeartRate([]float64{-10, -20, -30})
	assert.False(t, ok)
}

func TestComputeNoData(t *testing.T) {
	snap := newAggregator(t).Compute(start, newSet(t))

	assert.Equal(t, aggregate.StatusNoSensorData, snap.Status)
	assert.Equal(t, aggregate.SourceNone, snap.HeartRateSource)
	assert.Equal(t, hrv.QualityDegraded, snap.HRV.Quality)
	assert.Zero(t, snap.HeartRate)
	assert.Zero(t, snap.StressScore)
}

func TestComputeFullWindow(t *testing.T) {
	set := newSet(t)
	fill(t, set, sensor.PPG, 750, func(i int) float64 {
		return 50000 + 800*math.Sin(2*math.Pi*1.25*float64(i)/fs)
	})
	fill(t, set, sensor.EDA, 24, func(i int) float64 {
		if i%2 == 0 {
			return 0.01
		}
		return 0.03
	})
	fill(t, set, sensor.Temperature, 50, func(int) float64 { return 36.567 })
	fill(t, set, sensor.AccelZ, 50, func(int) float64 { return 9.8 })

	snap := newAggregator(t).Compute(start, set)

	assert.Equal(t, aggregate.SourceHRV, snap.HeartRateSource)
	assert.InDelta(t, 75.0, snap.HeartRate, 1.5)
	assert.True(t, snap.HRV.Sufficient())
	assert.Equal(t, 0.02, snap.EDALevel)
	assert.Equal(t, 0.01, snap.EDAVariation)
	assert.Equal(t, 36.57, snap.Temperature)
	assert.Equal(t, 9.8, snap.Motion.AccelZ)
	assert.Equal(t, 9.8, snap.Motion.AccelMagnitude)
	assert.Equal(t, aggregate.StressScore(0.02, snap.HeartRate), snap.StressScore)
	assert.Equal(t, aggregate.StatusOK, snap.Status)
	assert.Empty(t, snap.DegradedFields)
	assert.Equal(t, 750, snap.Samples["ppg"])

	// Steady synthetic rhythm has near-zero SDNN.
	require.Len(t, snap.Alerts, 1)
	assert.Equal(t, aggregate.AlertLowHRV, snap.Alerts[0].Kind)
}

func TestComputeDegradedHeartRate(t *testing.T) {
	set := newSet(t)
	fill(t, set, sensor.PPG, 20, func(i int) float64 { return 50000 + float64(i%2)*500 })
	fill(t, set, sensor.EDA, 5, func(int) float64 { return 2 })

	snap := newAggregator(t).Compute(start, set)

	assert.Equal(t, aggregate.SourcePPGVariability, snap.HeartRateSource)
	assert.GreaterOrEqual(t, snap.HeartRate, 40.0)
	assert.LessOrEqual(t, snap.HeartRate, 180.0)
	assert.Equal(t, hrv.QualityDegraded, snap.HRV.Quality)
	assert.Zero(t, snap.HRV.SDNN)
	assert.Zero(t, snap.HRV.RMSSD)
	assert.Contains(t, snap.DegradedFields, "heart_rate")
	assert.Equal(t, aggregate.StatusDegraded, snap.Status)
	assert.Equal(t, 2.0, snap.EDALevel)
	assert.Empty(t, snap.Alerts)
}

func TestComputeWithoutEngine(t *testing.T) {
	set := newSet(t)
	fill(t, set, sensor.PPG, 30, func(int) float64 { return 2000 })

	snap := aggregate.New(aggregate.Config{}, nil).Compute(start, set)
	assert.Equal(t, aggregate.SourcePPGVariability, snap.HeartRateSource)
	assert.Equal(t, 60.0, snap.HeartRate)
	assert.Equal(t, aggregate.StatusDegraded, snap.Status)
}

func TestComputeIsRecomputedEachCall(t *testing.T) {
	set := newSet(t)
	agg := newAggregator(t)
	fill(t, set, sensor.Temperature, 5, func(int) float64 { return 30 })

	first := agg.Compute(start, set)
	set.Reset()
	second := agg.Compute(start.Add(time.Second), set)

	assert.Equal(t, 30.0, first.Temperature)
	assert.Zero(t, second.Temperature)
}

func TestHighStressAlert(t *testing.T) {
	set := newSet(t)
	fill(t, set, sensor.EDA, 10, func(int) float64 { return 2 })

	cfg := aggregate.DefaultConfig()
	cfg.Alerts.HighStress = 40
	snap := aggregate.New(cfg, nil).Compute(start, set)

	assert.Equal(t, 50.0, snap.StressScore)
	require.Len(t, snap.Alerts, 1)
	assert.Equal(t, aggregate.AlertHighStress, snap.Alerts[0].Kind)
	assert.Equal(t, 40.0, snap.Alerts[0].Threshold)
}
