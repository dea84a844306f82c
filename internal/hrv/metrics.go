package hrv

import (
	"math"

	"codeberg.org/mutker/pulsectl/internal/errors"
	"gonum.org/v1/gonum/stat"
)

// Physiological RR bounds in milliseconds.
const (
	MinRR = 300.0
	MaxRR = 2000.0

	DefaultMinIntervals = 5
	goodSDNN            = 20.0
	stressSDNNScale     = 50.0
)

// Quality grades an HRV result.
type Quality string

const (
	QualityGood     Quality = "good"
	QualityLow      Quality = "low"
	QualityDegraded Quality = "degraded"
)

// Result holds time-domain HRV metrics, rounded to one decimal.
type Result struct {
	HeartRate   float64 `json:"heart_rate"`
	MeanRR      float64 `json:"mean_rr"`
	SDNN        float64 `json:"sdnn"`
	RMSSD       float64 `json:"rmssd"`
	StressIndex float64 `json:"stress_index"`
	Quality     Quality `json:"quality"`
	Intervals   int     `json:"intervals"`
	Peaks       int     `json:"peaks"`
}

// Sufficient reports whether the result was computed from enough intervals.
func (r Result) Sufficient() bool {
	return r.Quality == QualityGood || r.Quality == QualityLow
}

// Degraded is the result reported when HRV cannot be computed.
func Degraded(intervals, peaks int) Result {
	return Result{Quality: QualityDegraded, Intervals: intervals, Peaks: peaks}
}

// FilterRR keeps intervals within [min, max] ms, preserving order.
func FilterRR(rr []float64, minRR, maxRR float64) []float64 {
	out := make([]float64, 0, len(rr))
	for _, v := range rr {
		if v >= minRR && v <= maxRR {
			out = append(out, v)
		}
	}
	return out
}

// ComputeMetrics derives heart rate, SDNN and RMSSD from valid RR intervals.
// With fewer than minIntervals it returns a degraded result and an
// insufficient-data error.
func ComputeMetrics(rr []float64, minIntervals int) (Result, error) {
	if minIntervals < 2 {
		minIntervals = 2
	}
	if len(rr) < minIntervals {
		return Degraded(len(rr), 0), errors.New().WithData(ErrInsufficientData, struct {
			Intervals int
			Required  int
		}{len(rr), minIntervals})
	}

	mean, sdnn := stat.PopMeanStdDev(rr, nil)

	var sumSq float64
	for i := 1; i < len(rr); i++ {
		d := rr[i] - rr[i-1]
		sumSq += d * d
	}
	rmssd := math.Sqrt(sumSq / float64(len(rr)-1))

	quality := QualityLow
	if sdnn > goodSDNN {
		quality = QualityGood
	}

	return Result{
		HeartRate:   Round(60000/mean, 1),
		MeanRR:      Round(mean, 1),
		SDNN:        Round(sdnn, 1),
		RMSSD:       Round(rmssd, 1),
		StressIndex: Round(clamp(100-sdnn/stressSDNNScale*100, 0, 100), 1),
		Quality:     quality,
		Intervals:   len(rr),
	}, nil
}

// Round rounds v to the given number of decimal places.
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
