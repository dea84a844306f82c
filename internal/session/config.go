package session

import (
	"time"

	"codeberg.org/mutker/pulsectl/internal/acquisition"
	"codeberg.org/mutker/pulsectl/internal/aggregate"
	"codeberg.org/mutker/pulsectl/internal/errors"
	"codeberg.org/mutker/pulsectl/internal/hrv"
	"codeberg.org/mutker/pulsectl/internal/sensor"
)

const (
	DefaultBufferCapacity   = 1000
	DefaultTickInterval     = 100 * time.Millisecond
	DefaultMaxFramesPerTick = 256
)

type Config struct {
	Backend       acquisition.Config
	AllowFallback bool
	// BufferCapacity applies to every sensor type not in BufferCapacities.
	BufferCapacity   int
	BufferCapacities map[sensor.Type]int
	TickInterval     time.Duration
	MaxFramesPerTick int
	HRV              hrv.Config
	Aggregate        aggregate.Config
}

func DefaultConfig() Config {
	return Config{
		Backend:          acquisition.DefaultConfig(),
		BufferCapacity:   DefaultBufferCapacity,
		TickInterval:     DefaultTickInterval,
		MaxFramesPerTick: DefaultMaxFramesPerTick,
		HRV:              hrv.DefaultConfig(),
		Aggregate:        aggregate.DefaultConfig(),
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if !c.Backend.Kind.IsValid() {
		return errFactory.WithData(ErrInvalidConfig, struct {
			Backend acquisition.Kind
		}{c.Backend.Kind})
	}
	if c.BufferCapacity <= 0 {
		return errFactory.WithMessage(ErrInvalidConfig, "buffer capacity must be positive")
	}
	for typ, capacity := range c.BufferCapacities {
		if capacity <= 0 {
			return errFactory.WithData(ErrInvalidConfig, struct {
				Sensor   string
				Capacity int
			}{typ.String(), capacity})
		}
	}
	if c.TickInterval <= 0 {
		return errFactory.WithMessage(errors.ErrInvalidInterval, "tick interval must be positive")
	}
	if c.MaxFramesPerTick <= 0 {
		return errFactory.WithMessage(ErrInvalidConfig, "max frames per tick must be positive")
	}
	return c.HRV.Validate()
}
