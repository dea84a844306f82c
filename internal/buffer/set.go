package buffer

import (
	"codeberg.org/mutker/pulsectl/internal/errors"
	"codeberg.org/mutker/pulsectl/internal/sensor"
)

// Set holds one SampleBuffer per sensor type.
type Set struct {
	buffers [sensor.NumTypes]*SampleBuffer
}

// NewSet builds a buffer for every sensor type. Types missing from
// capacities get defaultCapacity.
func NewSet(capacities map[sensor.Type]int, defaultCapacity int, opts ...Option) (*Set, error) {
	s := &Set{}
	for _, typ := range sensor.AllTypes() {
		capacity := defaultCapacity
		if c, ok := capacities[typ]; ok {
			capacity = c
		}

		b, err := New(typ, capacity, opts...)
		if err != nil {
			return nil, errors.New().Wrap(ErrInvalidCapacity, err).WithMessage("buffer " + typ.String())
		}
		s.buffers[typ] = b
	}

	return s, nil
}

// Get returns the buffer for typ.
func (s *Set) Get(typ sensor.Type) *SampleBuffer {
	if !typ.Valid() {
		return nil
	}
	return s.buffers[typ]
}

// Push routes sample to its type's buffer.
func (s *Set) Push(sample sensor.Sample) error {
	b := s.Get(sample.Type)
	if b == nil {
		return errors.New().WithData(ErrWrongType, sample.Type.String())
	}
	return b.Push(sample)
}

// Lens returns the fill level of every buffer keyed by type name.
func (s *Set) Lens() map[string]int {
	out := make(map[string]int, sensor.NumTypes)
	for _, b := range s.buffers {
		out[b.Type().String()] = b.Len()
	}
	return out
}

// Overflows sums evictions across all buffers.
func (s *Set) Overflows() uint64 {
	var total uint64
	for _, b := range s.buffers {
		total += b.Overflows()
	}
	return total
}

// Reset empties every buffer.
func (s *Set) Reset() {
	for _, b := range s.buffers {
		b.Reset()
	}
}
