package acquisition

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/pulsectl/internal/sensor"
)

const (
	mockPPGBase = 2000.0
	mockPPGGain = 800.0
	// mockMaxLag bounds how far back a stalled consumer is replayed.
	mockMaxLag = 10 * time.Second
)

// MockOption configures a Mock backend.
type MockOption func(*Mock)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) MockOption {
	return func(m *Mock) {
		m.now = now
	}
}

// WithSeed fixes the noise generator seed.
func WithSeed(seed int64) MockOption {
	return func(m *Mock) {
		m.seed = seed
	}
}

// Mock generates signals procedurally. It has no worker: each poll renders
// exactly the samples that fell due since the previous poll.
type Mock struct {
	rate time.Duration
	fs   float64
	now  func() time.Time
	seed int64

	mu        sync.Mutex
	connected bool
	streaming bool
	origin    time.Time
	next      time.Time
	wave      *waveform
	generated uint64
}

func NewMock(cfg Config, opts ...MockOption) *Mock {
	cfg = cfg.withDefaults()
	m := &Mock{
		fs:   cfg.SamplingRate,
		rate: time.Duration(float64(time.Second) / cfg.SamplingRate),
		now:  time.Now,
		seed: 1,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (*Mock) Kind() Kind { return KindMock }

func (m *Mock) Connect(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	return nil
}

func (m *Mock) StartStreaming(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return errNotConnected(KindMock)
	}
	m.streaming = true
	m.origin = m.now()
	m.next = m.origin
	m.wave = newWaveform(mockPPGBase, mockPPGGain, m.seed)
	return nil
}

// PollFrame returns at most one second of samples per call.
func (m *Mock) PollFrame() (sensor.Frame, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.streaming {
		return sensor.Frame{}, false, nil
	}

	now := m.now()
	if now.Sub(m.next) > mockMaxLag {
		m.next = now.Add(-mockMaxLag)
	}

	limit := int(m.fs)
	if limit < 1 {
		limit = 1
	}

	var timestamps []time.Time
	for !m.next.After(now) && len(timestamps) < limit {
		timestamps = append(timestamps, m.next)
		m.next = m.next.Add(m.rate)
	}
	if len(timestamps) == 0 {
		return sensor.Frame{}, false, nil
	}

	frame := sensor.Frame{
		Channels:   make(map[int][]float64, sensor.NumTypes),
		Timestamps: timestamps,
	}
	for ch := range sensor.NumTypes {
		frame.Channels[ch] = make([]float64, 0, len(timestamps))
	}
	for _, ts := range timestamps {
		v := m.wave.at(ts.Sub(m.origin).Seconds())
		for ch := range sensor.NumTypes {
			frame.Channels[ch] = append(frame.Channels[ch], v[ch])
		}
	}
	m.generated += uint64(len(timestamps))

	return frame, true, nil
}

func (m *Mock) StopStreaming(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streaming = false
	return nil
}

func (m *Mock) Disconnect(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streaming = false
	m.connected = false
	return nil
}

func (m *Mock) Capabilities() sensor.Capabilities {
	return sensor.Capabilities{
		SamplingRate: m.fs,
		ChannelMap:   sensor.StandardChannelMap(),
		Device:       "mock",
	}
}

func (m *Mock) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{Received: m.generated, Parsed: m.generated}
}
