package classify

import (
	"math"

	"codeberg.org/mutker/pulsectl/internal/sensor"
)

// Rule claims a channel for the first free slot in Slots when the channel's
// windowed mean satisfies Match.
type Rule struct {
	Name  string
	Match func(mean float64) bool
	Slots []sensor.Type
}

// Heuristic thresholds, in sensor units.
const (
	PPGMinMagnitude   = 1_000
	PPGMaxMagnitude   = 100_000
	EDAMin            = 0
	EDAMax            = 10
	TemperatureMin    = 20
	TemperatureMax    = 45
	MotionMin         = -20
	MotionMax         = 20
	DefaultMeanWindow = 10
)

// DefaultRules are evaluated in order; earlier rules take precedence.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name: "ppg",
			Match: func(m float64) bool {
				return between(math.Abs(m), PPGMinMagnitude, PPGMaxMagnitude)
			},
			Slots: []sensor.Type{sensor.PPG},
		},
		{
			Name:  "eda",
			Match: func(m float64) bool { return between(m, EDAMin, EDAMax) },
			Slots: []sensor.Type{sensor.EDA},
		},
		{
			Name:  "temperature",
			Match: func(m float64) bool { return between(m, TemperatureMin, TemperatureMax) },
			Slots: []sensor.Type{sensor.Temperature},
		},
		{
			Name:  "motion",
			Match: func(m float64) bool { return between(m, MotionMin, MotionMax) },
			Slots: sensor.MotionSlots[:],
		},
	}
}

func between(v, lo, hi float64) bool {
	return v >= lo && v <= hi
}
