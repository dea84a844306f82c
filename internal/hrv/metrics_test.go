package hrv_test

import (
	"testing"

	"codeberg.org/mutker/pulsectl/internal/errors"
	"codeberg.org/mutker/pulsectl/internal/hrv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterRR(t *testing.T) {
	got := hrv.FilterRR([]float64{280, 500, 1600, 2100, 650}, hrv.MinRR, hrv.MaxRR)
	assert.Equal(t, []float64{500, 1600, 650}, got)

	assert.Equal(t, []float64{300, 2000}, hrv.FilterRR([]float64{300, 2000}, hrv.MinRR, hrv.MaxRR))
	assert.Empty(t, hrv.FilterRR(nil, hrv.MinRR, hrv.MaxRR))
}

func TestComputeMetrics(t *testing.T) {
	res, err := hrv.ComputeMetrics([]float64{800, 810, 790, 805, 795}, hrv.DefaultMinIntervals)
	require.NoError(t, err)

	assert.Equal(t, 800.0, res.MeanRR)
	assert.Equal(t, 75.0, res.HeartRate)
	assert.Equal(t, 7.1, res.SDNN)
	// sqrt((10² + 20² + 15² + 10²) / 4)
	assert.Equal(t, 14.4, res.RMSSD)
	assert.Equal(t, hrv.QualityLow, res.Quality)
	assert.Equal(t, 5, res.Intervals)
	assert.True(t, res.Sufficient())
	assert.Equal(t, 85.9, res.StressIndex)
}

func TestComputeMetricsGoodQuality(t *testing.T) {
	res, err := hrv.ComputeMetrics([]float64{700, 900, 700, 900, 700, 900}, hrv.DefaultMinIntervals)
	require.NoError(t, err)

	assert.Equal(t, 800.0, res.MeanRR)
	assert.Equal(t, 100.0, res.SDNN)
	assert.Equal(t, 200.0, res.RMSSD)
	assert.Equal(t, hrv.QualityGood, res.Quality)
	assert.Equal(t, 0.0, res.StressIndex)
}

func TestComputeMetricsInsufficient(t *testing.T) {
	res, err := hrv.ComputeMetrics([]float64{800, 810, 790, 805}, hrv.DefaultMinIntervals)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrHRVInsufficientData))

	assert.Equal(t, hrv.QualityDegraded, res.Quality)
	assert.False(t, res.Sufficient())
	assert.Zero(t, res.SDNN)
	assert.Zero(t, res.RMSSD)
	assert.Zero(t, res.HeartRate)
	assert.Equal(t, 4, res.Intervals)
}

func TestRound(t *testing.T) {
	assert.Equal(t, 7.1, hrv.Round(7.0710678, 1))
	assert.Equal(t, 36.57, hrv.Round(36.568, 2))
	assert.Equal(t, 1.234568, hrv.Round(1.2345678, 6))
}
