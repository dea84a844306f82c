// Package aggregate composes the per-tick metrics snapshot from the sample
// buffers and the HRV engine.
package aggregate

import (
	"math"
	"time"

	"codeberg.org/mutker/pulsectl/internal/buffer"
	"codeberg.org/mutker/pulsectl/internal/hrv"
	"codeberg.org/mutker/pulsectl/internal/sensor"
	"gonum.org/v1/gonum/stat"
)

const (
	DefaultMetricsWindow = 25
	DefaultHighStress    = 80.0
	DefaultLowHRV        = 20.0

	minEstimatedHR = 40.0
	maxEstimatedHR = 180.0
)

type AlertConfig struct {
	HighStress float64
	LowHRV     float64
}

type Config struct {
	// MetricsWindow is how many trailing samples feed EDA, temperature,
	// motion and the fallback heart rate estimate.
	MetricsWindow int
	Alerts        AlertConfig
}

func DefaultConfig() Config {
	return Config{
		MetricsWindow: DefaultMetricsWindow,
		Alerts: AlertConfig{
			HighStress: DefaultHighStress,
			LowHRV:     DefaultLowHRV,
		},
	}
}

// Aggregator is stateless between calls. The engine may be nil when the
// sampling rate is unknown, in which case HRV is always degraded.
type Aggregator struct {
	cfg    Config
	engine *hrv.Engine
}

func New(cfg Config, engine *hrv.Engine) *Aggregator {
	if cfg.MetricsWindow <= 0 {
		cfg.MetricsWindow = DefaultMetricsWindow
	}
	return &Aggregator{cfg: cfg, engine: engine}
}

// Compute builds a snapshot from the current buffer contents.
func (a *Aggregator) Compute(now time.Time, set *buffer.Set) Snapshot {
	snap := Snapshot{
		Timestamp:       now,
		HeartRateSource: SourceNone,
		HRV:             hrv.Degraded(0, 0),
		Samples:         set.Lens(),
	}

	ppgBuf := set.Get(sensor.PPG)
	hasPPG := ppgBuf.Len() > 0
	if hasPPG {
		a.heartRate(&snap, ppgBuf)
	}

	edaBuf := set.Get(sensor.EDA)
	hasEDA := edaBuf.Len() > 0
	if hasEDA {
		mean, std := stat.PopMeanStdDev(edaBuf.Values(a.cfg.MetricsWindow), nil)
		snap.EDALevel = a.field(&snap, "eda_level", hrv.Round(mean, 6))
		snap.EDAVariation = a.field(&snap, "eda_variation", hrv.Round(std, 6))
	}

	if tempBuf := set.Get(sensor.Temperature); tempBuf.Len() > 0 {
		snap.Temperature = a.field(&snap, "temperature", hrv.Round(stat.Mean(tempBuf.Values(a.cfg.MetricsWindow), nil), 2))
	}

	snap.Motion = a.motion(&snap, set)
	snap.StressScore = a.field(&snap, "stress_score", StressScore(snap.EDALevel, snap.HeartRate))
	snap.Alerts = a.alerts(snap)

	switch {
	case !hasPPG && !hasEDA:
		snap.Status = StatusNoSensorData
	case len(snap.DegradedFields) > 0 || !snap.HRV.Sufficient():
		snap.Status = StatusDegraded
	default:
		snap.Status = StatusOK
	}

	return snap
}

func (a *Aggregator) heartRate(snap *Snapshot, ppg *buffer.SampleBuffer) {
	if a.engine != nil {
		res, err := a.engine.Analyze(ppg.Snapshot(a.engine.WindowSamples()))
		snap.HRV = res
		if err == nil && res.Sufficient() {
			snap.HeartRate = a.field(snap, "heart_rate", res.HeartRate)
			snap.HeartRateSource = SourceHRV
			return
		}
	}

	est, ok := EstimateHeartRate(ppg.Values(a.cfg.MetricsWindow))
	if !ok {
		snap.degrade("heart_rate")
		return
	}
	snap.HeartRate = est
	snap.HeartRateSource = SourcePPGVariability
	snap.degrade("heart_rate")
}

func (a *Aggregator) motion(snap *Snapshot, set *buffer.Set) Motion {
	mean := func(typ sensor.Type) float64 {
		values := set.Get(typ).Values(a.cfg.MetricsWindow)
		if len(values) == 0 {
			return 0
		}
		return a.field(snap, typ.String(), hrv.Round(stat.Mean(values, nil), 4))
	}

	m := Motion{
		AccelX: mean(sensor.AccelX),
		AccelY: mean(sensor.AccelY),
		AccelZ: mean(sensor.AccelZ),
		GyroX:  mean(sensor.GyroX),
		GyroY:  mean(sensor.GyroY),
		GyroZ:  mean(sensor.GyroZ),
	}
	m.AccelMagnitude = hrv.Round(math.Sqrt(m.AccelX*m.AccelX+m.AccelY*m.AccelY+m.AccelZ*m.AccelZ), 4)
	return m
}

func (a *Aggregator) alerts(snap Snapshot) []Alert {
	var alerts []Alert
	if snap.StressScore > a.cfg.Alerts.HighStress {
		alerts = append(alerts, Alert{Kind: AlertHighStress, Value: snap.StressScore, Threshold: a.cfg.Alerts.HighStress})
	}
	if snap.HRV.Sufficient() && snap.HRV.SDNN < a.cfg.Alerts.LowHRV {
		alerts = append(alerts, Alert{Kind: AlertLowHRV, Value: snap.HRV.SDNN, Threshold: a.cfg.Alerts.LowHRV})
	}
	return alerts
}

// field substitutes the zero default for non-finite values and records the
// field as degraded.
func (a *Aggregator) field(snap *Snapshot, name string, v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		snap.degrade(name)
		return 0
	}
	return v
}

// StressScore combines skin conductance and heart rate elevation into 0..100.
func StressScore(edaLevel, heartRate float64) float64 {
	fromEDA := math.Min(100, edaLevel*1000)
	fromHR := math.Max(0, (heartRate-60)*2)
	return hrv.Round(math.Max(0, math.Min(100, 0.5*fromEDA+0.5*fromHR)), 1)
}

// EstimateHeartRate maps PPG amplitude variability onto a plausible rate.
// It is a coarse fallback for when beats cannot be resolved and carries no
// HRV information. Signals with a non-positive mean give no estimate.
func EstimateHeartRate(ppg []float64) (float64, bool) {
	if len(ppg) < 2 {
		return 0, false
	}
	mean, std := stat.PopMeanStdDev(ppg, nil)
	if mean <= 0 || math.IsNaN(mean) || math.IsNaN(std) {
		return 0, false
	}
	hr := 60 + std/mean*40
	return hrv.Round(math.Max(minEstimatedHR, math.Min(maxEstimatedHR, hr)), 1), true
}
