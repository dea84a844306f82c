// Package buffer provides fixed-capacity ring buffers for typed samples.
package buffer

import (
	"sync"
	"time"

	"codeberg.org/mutker/pulsectl/internal/errors"
	"codeberg.org/mutker/pulsectl/internal/sensor"
)

// OverflowFunc is called with the evicted sample whenever a push overflows.
type OverflowFunc func(evicted sensor.Sample)

// Option configures a SampleBuffer.
type Option func(*SampleBuffer)

// WithOverflowHandler registers a callback invoked on each eviction.
func WithOverflowHandler(fn OverflowFunc) Option {
	return func(b *SampleBuffer) {
		b.onOverflow = fn
	}
}

// SampleBuffer is a FIFO ring of samples for a single sensor type. Samples
// are kept in non-decreasing timestamp order.
type SampleBuffer struct {
	typ        sensor.Type
	data       []sensor.Sample
	head       int
	size       int
	overflows  uint64
	rejected   uint64
	onOverflow OverflowFunc
	mu         sync.RWMutex
}

// New creates a buffer for typ holding at most capacity samples.
func New(typ sensor.Type, capacity int, opts ...Option) (*SampleBuffer, error) {
	if capacity <= 0 {
		return nil, errors.New().WithData(ErrInvalidCapacity, capacity)
	}

	b := &SampleBuffer{
		typ:  typ,
		data: make([]sensor.Sample, capacity),
	}
	for _, opt := range opts {
		opt(b)
	}

	return b, nil
}

// Push appends s, evicting the oldest sample when the buffer is full.
func (b *SampleBuffer) Push(s sensor.Sample) error {
	errFactory := errors.New()

	if s.Type != b.typ {
		return errFactory.WithData(ErrWrongType, struct {
			Buffer string
			Sample string
		}{b.typ.String(), s.Type.String()})
	}

	b.mu.Lock()

	if b.size > 0 {
		last := b.data[(b.head-1+len(b.data))%len(b.data)]
		if s.Timestamp.Before(last.Timestamp) {
			b.rejected++
			b.mu.Unlock()
			return errFactory.WithData(ErrOutOfOrder, struct {
				Type string
				Lag  time.Duration
			}{b.typ.String(), last.Timestamp.Sub(s.Timestamp)})
		}
	}

	var (
		evicted    sensor.Sample
		overflowed bool
	)
	if b.size == len(b.data) {
		evicted = b.data[b.head]
		overflowed = true
		b.overflows++
	} else {
		b.size++
	}
	b.data[b.head] = s
	b.head = (b.head + 1) % len(b.data)
	cb := b.onOverflow

	b.mu.Unlock()

	if overflowed && cb != nil {
		cb(evicted)
	}

	return nil
}

// Snapshot returns a copy of the last n samples, oldest first. A non-positive
// n or one larger than the buffer returns everything held.
func (b *SampleBuffer) Snapshot(n int) []sensor.Sample {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n <= 0 || n > b.size {
		n = b.size
	}

	out := make([]sensor.Sample, n)
	start := (b.head - n + len(b.data)) % len(b.data)
	for i := 0; i < n; i++ {
		out[i] = b.data[(start+i)%len(b.data)]
	}

	return out
}

// Values is Snapshot without timestamps.
func (b *SampleBuffer) Values(n int) []float64 {
	samples := b.Snapshot(n)
	values := make([]float64, len(samples))
	for i, s := range samples {
		values[i] = s.Value
	}
	return values
}

// Latest returns the most recent sample.
func (b *SampleBuffer) Latest() (sensor.Sample, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.size == 0 {
		return sensor.Sample{}, false
	}
	return b.data[(b.head-1+len(b.data))%len(b.data)], true
}

func (b *SampleBuffer) Type() sensor.Type { return b.typ }

func (b *SampleBuffer) Capacity() int { return len(b.data) }

func (b *SampleBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Overflows returns the number of evictions since construction.
func (b *SampleBuffer) Overflows() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.overflows
}

// Rejected returns the number of out-of-order pushes refused.
func (b *SampleBuffer) Rejected() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.rejected
}

// Reset drops all samples. Counters are kept.
func (b *SampleBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	clear(b.data)
	b.head = 0
	b.size = 0
}
