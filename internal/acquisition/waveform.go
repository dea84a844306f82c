package acquisition

import (
	"math"
	"math/rand"

	"codeberg.org/mutker/pulsectl/internal/sensor"
)

// Physiology used by the generated sources.
const (
	restingBPM     = 70.0
	sinusBPMSwing  = 4.0
	breathingHz    = 0.25
	edaBaseline    = 1.5
	edaSwing       = 0.5
	edaPeriod      = 60.0
	skinTemp       = 36.8
	skinTempSwing  = 0.3
	skinTempPeriod = 300.0
	gravity        = 9.8
)

// waveform renders a plausible set of body signals as a function of elapsed
// time. Calls must come from one goroutine.
type waveform struct {
	ppgBase, ppgGain float64
	rng              *rand.Rand
}

func newWaveform(ppgBase, ppgGain float64, seed int64) *waveform {
	return &waveform{ppgBase: ppgBase, ppgGain: ppgGain, rng: rand.New(rand.NewSource(seed))}
}

// beatPhase integrates a heart rate modulated by breathing, which yields the
// sinus arrhythmia that gives the HRV engine something to measure.
func beatPhase(t float64) float64 {
	f0 := restingBPM / 60
	swing := sinusBPMSwing / 60
	w := 2 * math.Pi * breathingHz
	return f0*t + swing/w*(1-math.Cos(w*t))
}

// pulse is one cardiac cycle: systolic peak plus a smaller dicrotic wave.
func pulse(phase float64) float64 {
	_, frac := math.Modf(phase)
	systolic := math.Exp(-math.Pow((frac-0.2)/0.06, 2))
	dicrotic := 0.35 * math.Exp(-math.Pow((frac-0.5)/0.08, 2))
	return systolic + dicrotic
}

func (w *waveform) noise(sd float64) float64 {
	return w.rng.NormFloat64() * sd
}

// at returns one value per sensor type, indexed by sensor.Type.
func (w *waveform) at(t float64) [sensor.NumTypes]float64 {
	var v [sensor.NumTypes]float64
	v[sensor.PPG] = w.ppgBase + w.ppgGain*pulse(beatPhase(t)) + w.noise(w.ppgGain*0.01)
	v[sensor.EDA] = edaBaseline + edaSwing*math.Sin(2*math.Pi*t/edaPeriod) + w.noise(0.01)
	v[sensor.Temperature] = skinTemp + skinTempSwing*math.Sin(2*math.Pi*t/skinTempPeriod) + w.noise(0.005)
	v[sensor.AccelX] = w.noise(0.05)
	v[sensor.AccelY] = w.noise(0.05)
	v[sensor.AccelZ] = gravity + w.noise(0.05)
	v[sensor.GyroX] = w.noise(0.5)
	v[sensor.GyroY] = w.noise(0.5)
	v[sensor.GyroZ] = w.noise(0.5)
	return v
}
