// Package sensor holds the data model shared by acquisition, classification
// and computation: raw frames, typed samples and backend capabilities.
package sensor

import (
	"fmt"
	"strings"
	"time"
)

// Type is a semantic sensor stream.
type Type int

const (
	PPG Type = iota
	EDA
	Temperature
	AccelX
	AccelY
	AccelZ
	GyroX
	GyroY
	GyroZ
)

// NumTypes is the number of semantic sensor types.
const NumTypes = int(GyroZ) + 1

var typeNames = [NumTypes]string{
	PPG:         "ppg",
	EDA:         "eda",
	Temperature: "temperature",
	AccelX:      "accel_x",
	AccelY:      "accel_y",
	AccelZ:      "accel_z",
	GyroX:       "gyro_x",
	GyroY:       "gyro_y",
	GyroZ:       "gyro_z",
}

func (t Type) String() string {
	if t.Valid() {
		return typeNames[t]
	}
	return fmt.Sprintf("type(%d)", int(t))
}

// Valid reports whether t is a known sensor type.
func (t Type) Valid() bool {
	return t >= PPG && t <= GyroZ
}

// IsMotion reports whether t is an accelerometer or gyroscope axis.
func (t Type) IsMotion() bool {
	return t >= AccelX && t <= GyroZ
}

// ParseType parses a name produced by Type.String.
func ParseType(name string) (Type, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range typeNames {
		if n == name {
			return Type(i), true
		}
	}
	return 0, false
}

// AllTypes returns every sensor type in declaration order.
func AllTypes() []Type {
	types := make([]Type, NumTypes)
	for i := range types {
		types[i] = Type(i)
	}
	return types
}

// MotionSlots is the fill order for heuristically classified motion channels.
var MotionSlots = [...]Type{AccelX, AccelY, AccelZ, GyroX, GyroY, GyroZ}

// Sample is one typed reading.
type Sample struct {
	Type      Type
	Value     float64
	Timestamp time.Time
}

// Frame is a raw multi-channel batch as produced by a backend. Every channel
// holds exactly len(Timestamps) values, aligned index by index.
type Frame struct {
	Channels   map[int][]float64
	Timestamps []time.Time
}

// Len returns the number of sample instants in the frame.
func (f Frame) Len() int {
	return len(f.Timestamps)
}

// Empty reports whether the frame carries no samples.
func (f Frame) Empty() bool {
	return len(f.Timestamps) == 0 || len(f.Channels) == 0
}

// Ordered reports whether the frame's timestamps are non-decreasing.
func (f Frame) Ordered() bool {
	for i := 1; i < len(f.Timestamps); i++ {
		if f.Timestamps[i].Before(f.Timestamps[i-1]) {
			return false
		}
	}
	return true
}

// ChannelMap declares which sensor type each channel index carries.
type ChannelMap map[int]Type

// Capabilities describes what a connected backend delivers. A nil ChannelMap
// means channel types are unknown and must be inferred.
type Capabilities struct {
	SamplingRate float64    `json:"sampling_rate"`
	ChannelMap   ChannelMap `json:"channel_map,omitempty"`
	Device       string     `json:"device,omitempty"`
}

// Standard channel layout used by backends whose wire format names each
// stream explicitly.
const (
	ChannelPPG = iota
	ChannelEDA
	ChannelTemperature
	ChannelAccelX
	ChannelAccelY
	ChannelAccelZ
	ChannelGyroX
	ChannelGyroY
	ChannelGyroZ
)

// StandardChannelMap maps the standard layout one-to-one onto sensor types.
func StandardChannelMap() ChannelMap {
	m := make(ChannelMap, NumTypes)
	for _, t := range AllTypes() {
		m[int(t)] = t
	}
	return m
}
