package aggregate

import (
	"time"

	"codeberg.org/mutker/pulsectl/internal/hrv"
)

// Source says where a snapshot's heart rate came from.
type Source string

const (
	SourceHRV            Source = "hrv"
	SourcePPGVariability Source = "ppg_variability"
	SourceNone           Source = "none"
)

// Status summarizes snapshot completeness.
type Status string

const (
	StatusOK           Status = "ok"
	StatusDegraded     Status = "degraded"
	StatusNoSensorData Status = "no_sensor_data"
)

// Snapshot is the point-in-time view handed to consumers. Fields listed in
// DegradedFields hold their zero default.
type Snapshot struct {
	Timestamp       time.Time      `json:"timestamp"`
	HeartRate       float64        `json:"heart_rate"`
	HeartRateSource Source         `json:"heart_rate_source"`
	HRV             hrv.Result     `json:"hrv"`
	EDALevel        float64        `json:"eda_level"`
	EDAVariation    float64        `json:"eda_variation"`
	Temperature     float64        `json:"temperature"`
	StressScore     float64        `json:"stress_score"`
	Motion          Motion         `json:"motion"`
	Status          Status         `json:"status"`
	DegradedFields  []string       `json:"degraded_fields,omitempty"`
	Alerts          []Alert        `json:"alerts,omitempty"`
	Samples         map[string]int `json:"samples"`
}

// Motion holds per-axis means over the metrics window.
type Motion struct {
	AccelX         float64 `json:"accel_x"`
	AccelY         float64 `json:"accel_y"`
	AccelZ         float64 `json:"accel_z"`
	GyroX          float64 `json:"gyro_x"`
	GyroY          float64 `json:"gyro_y"`
	GyroZ          float64 `json:"gyro_z"`
	AccelMagnitude float64 `json:"accel_magnitude"`
}

// AlertKind names a threshold crossing.
type AlertKind string

const (
	AlertHighStress AlertKind = "high_stress"
	AlertLowHRV     AlertKind = "low_hrv"
)

type Alert struct {
	Kind      AlertKind `json:"kind"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
}

func (s *Snapshot) degrade(field string) {
	s.DegradedFields = append(s.DegradedFields, field)
}
