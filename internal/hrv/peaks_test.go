package hrv_test

import (
	"testing"

	"codeberg.org/mutker/pulsectl/internal/hrv"
	"github.com/stretchr/testify/assert"
)

func TestFindPeaksLocalMaxima(t *testing.T) {
	x := []float64{0, 1, 0, 2, 0, 3, 0}
	assert.Equal(t, []int{1, 3, 5}, hrv.FindPeaks(x, 0, 1))
}

func TestFindPeaksHeight(t *testing.T) {
	x := []float64{0, 1, 0, 2, 0, 3, 0}
	assert.Equal(t, []int{3, 5}, hrv.FindPeaks(x, 1.5, 1))
}

func TestFindPeaksPlateau(t *testing.T) {
	x := []float64{0, 2, 2, 2, 0, 1, 1, 0}
	assert.Equal(t, []int{2, 5}, hrv.FindPeaks(x, 0, 1))
}

func TestFindPeaksIgnoresEdgesAndRisingPlateaus(t *testing.T) {
	x := []float64{5, 1, 2, 2, 3, 0, 4}
	assert.Equal(t, []int{4}, hrv.FindPeaks(x, 0, 1))
}

func TestFindPeaksDistanceKeepsTaller(t *testing.T) {
	x := []float64{0, 3, 0, 5, 0, 0, 0, 0, 4, 0, 1, 0}
	assert.Equal(t, []int{3, 8}, hrv.FindPeaks(x, 0, 3))
}

func TestFindPeaksEmpty(t *testing.T) {
	assert.Empty(t, hrv.FindPeaks(nil, 0, 10))
	assert.Empty(t, hrv.FindPeaks([]float64{1, 1, 1, 1}, 0, 10))
}
