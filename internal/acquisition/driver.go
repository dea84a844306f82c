package acquisition

import (
	"context"
	"slices"
	"sync"

	"codeberg.org/mutker/pulsectl/internal/sensor"
)

// Preset selects one of a board's channel groups.
type Preset int

const (
	PresetDefault Preset = iota
	PresetAuxiliary
	PresetAncillary
)

func (p Preset) String() string {
	switch p {
	case PresetDefault:
		return "default"
	case PresetAuxiliary:
		return "auxiliary"
	case PresetAncillary:
		return "ancillary"
	}
	return "unknown"
}

// PresetStride separates channel indices of different presets in a frame, so
// channel 2 of the auxiliary preset becomes 34.
const PresetStride = 32

// ChannelIndex namespaces a preset-local channel.
func ChannelIndex(p Preset, local int) int {
	return int(p)*PresetStride + local
}

// Descriptor is what a driver reports about its board.
type Descriptor struct {
	Name         string
	SamplingRate float64
	Presets      []Preset
	// ChannelMap uses namespaced indices. Nil when the board does not say.
	ChannelMap sensor.ChannelMap
}

// Driver abstracts a native board SDK. Only the synthetic driver is built in;
// hardware drivers wrap the vendor's C library and register themselves with
// RegisterDriver.
//
// Read returns whatever the board has buffered for a preset, up to max
// samples, with preset-local channel indices. It must not block for long.
type Driver interface {
	Prepare(ctx context.Context) error
	Start(bufferSize int) error
	Read(preset Preset, max int) (sensor.Frame, error)
	Stop() error
	Release() error
	Descriptor() Descriptor
}

// DriverFactory constructs a driver from backend configuration.
type DriverFactory func(cfg Config) (Driver, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]DriverFactory{
		SyntheticDriver: newSyntheticDriver,
	}
)

// RegisterDriver makes a driver available under name, replacing any
// previous registration.
func RegisterDriver(name string, factory DriverFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Drivers lists registered driver names in sorted order.
func Drivers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func lookupDriver(name string) (DriverFactory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[name]
	return f, ok
}
