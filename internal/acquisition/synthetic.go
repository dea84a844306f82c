package acquisition

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/pulsectl/internal/errors"
	"codeberg.org/mutker/pulsectl/internal/sensor"
)

// SyntheticDriver is the built-in vendor-synthetic board.
const SyntheticDriver = "synthetic"

const (
	syntheticPPGBase = 50000.0
	syntheticPPGGain = 5000.0
)

// syntheticBoard serves every signal on its default preset and declares no
// channel map, so its channels are typed by heuristics.
type syntheticBoard struct {
	fs   float64
	step time.Duration
	now  func() time.Time

	mu       sync.Mutex
	prepared bool
	started  bool
	origin   time.Time
	next     time.Time
	capacity int
	wave     *waveform
}

func newSyntheticDriver(cfg Config) (Driver, error) {
	return &syntheticBoard{
		fs:   cfg.SamplingRate,
		step: time.Duration(float64(time.Second) / cfg.SamplingRate),
		now:  time.Now,
	}, nil
}

func (b *syntheticBoard) Prepare(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prepared = true
	return nil
}

func (b *syntheticBoard) Start(bufferSize int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.prepared {
		return errors.New().WithMessage(errors.ErrInvalidState, "board session not prepared")
	}
	b.started = true
	b.capacity = bufferSize
	b.origin = b.now()
	b.next = b.origin
	b.wave = newWaveform(syntheticPPGBase, syntheticPPGGain, b.origin.UnixNano())
	return nil
}

func (b *syntheticBoard) Read(preset Preset, max int) (sensor.Frame, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.started || preset != PresetDefault {
		return sensor.Frame{}, nil
	}

	now := b.now()
	if b.capacity > 0 {
		// The board ring holds at most capacity samples; older ones are gone.
		if oldest := now.Add(-time.Duration(b.capacity) * b.step); b.next.Before(oldest) {
			b.next = oldest
		}
	}

	var ts []time.Time
	for !b.next.After(now) && (max <= 0 || len(ts) < max) {
		ts = append(ts, b.next)
		b.next = b.next.Add(b.step)
	}
	if len(ts) == 0 {
		return sensor.Frame{}, nil
	}

	frame := sensor.Frame{Channels: make(map[int][]float64, sensor.NumTypes), Timestamps: ts}
	for _, t := range ts {
		v := b.wave.at(t.Sub(b.origin).Seconds())
		for ch := range sensor.NumTypes {
			frame.Channels[ch] = append(frame.Channels[ch], v[ch])
		}
	}
	return frame, nil
}

func (b *syntheticBoard) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.started = false
	return nil
}

func (b *syntheticBoard) Release() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.started = false
	b.prepared = false
	return nil
}

func (b *syntheticBoard) Descriptor() Descriptor {
	return Descriptor{
		Name:         SyntheticDriver,
		SamplingRate: b.fs,
		Presets:      []Preset{PresetDefault},
	}
}
