// Package acquisition connects to a biosensor source and turns its output
// into raw multi-channel frames. Each backend variant owns its transport and
// framing; the session only sees the Backend interface.
package acquisition

import (
	"context"
	"strings"
	"time"

	"codeberg.org/mutker/pulsectl/internal/errors"
	"codeberg.org/mutker/pulsectl/internal/logger"
	"codeberg.org/mutker/pulsectl/internal/sensor"
)

// Kind selects a backend variant.
type Kind string

const (
	KindBoard  Kind = "board"
	KindSocket Kind = "socket"
	KindOSC    Kind = "osc"
	KindMock   Kind = "mock"
)

func (k Kind) IsValid() bool {
	switch k {
	case KindBoard, KindSocket, KindOSC, KindMock:
		return true
	}
	return false
}

// ParseKind accepts a configuration value such as "socket" or "OSC".
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !k.IsValid() {
		return "", errors.New().WithData(errors.ErrInvalidConfig, struct {
			Backend string
		}{s})
	}
	return k, nil
}

// Backend is a source of sensor frames.
type Backend interface {
	Kind() Kind
	// Connect reaches the device. Failures carry ErrConnection.
	Connect(ctx context.Context) error
	StartStreaming(ctx context.Context) error
	// PollFrame never blocks. ok is false when no frame is ready; a non-nil
	// error means the source has failed and no more frames will arrive.
	PollFrame() (frame sensor.Frame, ok bool, err error)
	// StopStreaming joins the worker for at most the stop timeout and
	// returns ErrStopTimeout if it did not exit.
	StopStreaming(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Capabilities() sensor.Capabilities
	Stats() Stats
}

// Stats are data-quality counters for one backend instance.
type Stats struct {
	Received uint64 `json:"received"`
	Parsed   uint64 `json:"parsed"`
	Failed   uint64 `json:"failed"`
	Dropped  uint64 `json:"dropped"`
}

const (
	DefaultSamplingRate     = 25.0
	DefaultSocketPort       = 3131
	DefaultOSCListenPort    = 12345
	DefaultOSCControlPort   = 12346
	DefaultConnectTimeout   = 5 * time.Second
	DefaultStopTimeout      = 2 * time.Second
	DefaultDiscoveryTimeout = 3 * time.Second
	DefaultQueueSize        = 512
	DefaultBoardBufferSize  = 45000
)

// Config carries everything any backend variant needs. Fields a variant does
// not use are ignored.
type Config struct {
	Kind             Kind
	Address          string
	Port             int
	SamplingRate     float64
	BoardDriver      string
	BoardBufferSize  int
	OSCListenPort    int
	OSCControlPort   int
	ConnectTimeout   time.Duration
	StopTimeout      time.Duration
	DiscoveryTimeout time.Duration
	QueueSize        int
}

func DefaultConfig() Config {
	return Config{
		Kind:             KindMock,
		Port:             DefaultSocketPort,
		SamplingRate:     DefaultSamplingRate,
		BoardDriver:      SyntheticDriver,
		BoardBufferSize:  DefaultBoardBufferSize,
		OSCListenPort:    DefaultOSCListenPort,
		OSCControlPort:   DefaultOSCControlPort,
		ConnectTimeout:   DefaultConnectTimeout,
		StopTimeout:      DefaultStopTimeout,
		DiscoveryTimeout: DefaultDiscoveryTimeout,
		QueueSize:        DefaultQueueSize,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Port <= 0 {
		c.Port = d.Port
	}
	if c.SamplingRate <= 0 {
		c.SamplingRate = d.SamplingRate
	}
	if c.BoardDriver == "" {
		c.BoardDriver = d.BoardDriver
	}
	if c.BoardBufferSize <= 0 {
		c.BoardBufferSize = d.BoardBufferSize
	}
	if c.OSCListenPort <= 0 {
		c.OSCListenPort = d.OSCListenPort
	}
	if c.OSCControlPort <= 0 {
		c.OSCControlPort = d.OSCControlPort
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = d.StopTimeout
	}
	if c.DiscoveryTimeout <= 0 {
		c.DiscoveryTimeout = d.DiscoveryTimeout
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	return c
}

// New builds the backend named by cfg.Kind. Nothing is opened until Connect.
func New(cfg Config, log logger.Logger) (Backend, error) {
	cfg = cfg.withDefaults()
	if log == nil {
		log = logger.Nop()
	}
	log = log.With("backend", string(cfg.Kind))

	switch cfg.Kind {
	case KindBoard:
		return NewBoard(cfg, log), nil
	case KindSocket:
		return NewSocket(cfg, log), nil
	case KindOSC:
		return NewOSC(cfg, log), nil
	case KindMock:
		return NewMock(cfg), nil
	default:
		return nil, errors.New().WithData(errors.ErrInvalidConfig, struct {
			Backend Kind
		}{cfg.Kind})
	}
}
