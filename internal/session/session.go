// Package session owns one device connection end to end: backend selection
// with fallback, the connect and stream lifecycle, and the tick loop that
// turns frames into snapshots.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/pulsectl/internal/acquisition"
	"codeberg.org/mutker/pulsectl/internal/aggregate"
	"codeberg.org/mutker/pulsectl/internal/errors"
	"codeberg.org/mutker/pulsectl/internal/journal"
	"codeberg.org/mutker/pulsectl/internal/logger"
	"codeberg.org/mutker/pulsectl/internal/metrics"
	"codeberg.org/mutker/pulsectl/internal/publish"
	"codeberg.org/mutker/pulsectl/internal/sensor"
	"github.com/google/uuid"
)

// BackendFactory builds a backend for one connect attempt.
type BackendFactory func(cfg acquisition.Config, log logger.Logger) (acquisition.Backend, error)

// Publisher receives every computed snapshot. Offer must not block.
type Publisher interface {
	Offer(msg publish.Message)
}

type Option func(*Session)

func WithBackendFactory(f BackendFactory) Option {
	return func(s *Session) { s.newBackend = f }
}

func WithLogger(log logger.Logger) Option {
	return func(s *Session) { s.logger = log }
}

func WithCollector(c *metrics.Collector) Option {
	return func(s *Session) { s.collector = c }
}

func WithRecorder(r journal.Recorder) Option {
	return func(s *Session) { s.recorder = r }
}

func WithPublisher(p Publisher) Option {
	return func(s *Session) { s.publisher = p }
}

// Status is the externally visible session summary.
type Status struct {
	ID              string              `json:"id"`
	State           State               `json:"state"`
	Backend         acquisition.Kind    `json:"backend,omitempty"`
	Capabilities    sensor.Capabilities `json:"capabilities"`
	Counts          metrics.Counts      `json:"counts"`
	Quality         acquisition.Stats   `json:"quality"`
	Buffers         map[string]int      `json:"buffers,omitempty"`
	SinceTransition time.Duration       `json:"since_transition"`
	LastError       string              `json:"last_error,omitempty"`
}

// Session is safe for concurrent use. Lifecycle calls are serialized;
// GetSnapshot and Status never wait on them.
type Session struct {
	cfg        Config
	id         string
	logger     logger.Logger
	newBackend BackendFactory
	collector  *metrics.Collector
	recorder   journal.Recorder
	publisher  Publisher

	opMu sync.Mutex

	mu       sync.Mutex
	state    State
	changed  time.Time
	backend  acquisition.Backend
	pipeline *pipeline
	lastErr  error
	loop     *tickLoop

	snapshot atomic.Pointer[aggregate.Snapshot]
}

func New(cfg Config, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Session{
		cfg:        cfg,
		id:         uuid.NewString(),
		newBackend: acquisition.New,
		state:      Disconnected,
		changed:    time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.New("session")
	}
	s.logger = s.logger.With("session_id", s.id)
	if s.collector == nil {
		c, err := metrics.New(nil)
		if err != nil {
			return nil, err
		}
		s.collector = c
	}
	if s.recorder == nil {
		s.recorder = journal.Nop()
	}

	return s, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// transition moves to the given state if the state machine allows it. The
// caller holds s.mu.
func (s *Session) transition(to State) (journal.Event, error) {
	from := s.state
	if !from.CanTransition(to) {
		return journal.Event{}, invalidState("transition to "+to.String(), from)
	}
	s.state = to
	s.changed = time.Now()
	s.collector.SetState(int(to))

	ev := journal.Event{
		Timestamp: s.changed,
		SessionID: s.id,
		Kind:      journal.KindStateChange,
		FromState: from.String(),
		ToState:   to.String(),
	}
	if s.backend != nil {
		ev.Backend = string(s.backend.Kind())
	}
	return ev, nil
}

func (s *Session) moveTo(to State) error {
	s.mu.Lock()
	ev, err := s.transition(to)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.logger.Debug().Str("from", ev.FromState).Str("to", ev.ToState).Msg("Session state changed")
	s.record(ev)
	return nil
}

func (s *Session) record(ev journal.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	ev.SessionID = s.id
	if err := s.recorder.Record(context.Background(), ev); err != nil {
		s.logger.Debug().Err(err).Str("kind", string(ev.Kind)).Msg("Journal write failed")
	}
}

// Connect tries the backend chain once. From Connected or Streaming it does
// nothing.
func (s *Session) Connect(ctx context.Context) error {
	switch st := s.State(); st {
	case Connected, Streaming:
		return nil
	case Connecting, Stopping:
		return invalidState("connect", st)
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	switch st := s.State(); st {
	case Connected, Streaming:
		return nil
	case Error:
		s.release(ctx)
	case Disconnected:
	default:
		return invalidState("connect", st)
	}

	if err := s.moveTo(Connecting); err != nil {
		return err
	}

	backend, err := s.attempt(ctx)
	if err != nil {
		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()
		_ = s.moveTo(Error)
		return err
	}

	p, err := newPipeline(s.cfg, backend.Capabilities(), s.collector, s.logger)
	if err != nil {
		_ = backend.Disconnect(ctx)
		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()
		_ = s.moveTo(Error)
		return err
	}

	s.mu.Lock()
	s.backend = backend
	s.pipeline = p
	s.lastErr = nil
	s.mu.Unlock()

	return s.moveTo(Connected)
}

func (s *Session) attempt(ctx context.Context) (acquisition.Backend, error) {
	chain := candidates(s.cfg)
	var errs []error

	for i, cfg := range chain {
		name := describe(cfg)
		log := s.logger.With("backend", name)

		backend, err := s.newBackend(cfg, log)
		if err == nil {
			actx, cancel := context.WithTimeout(ctx, connectTimeout(cfg))
			err = backend.Connect(actx)
			cancel()
			if err != nil {
				_ = backend.Disconnect(ctx)
			}
		}

		s.collector.ConnectAttempt(string(cfg.Kind), err == nil)
		ev := journal.Event{Kind: journal.KindConnectAttempt, Backend: name}
		if err != nil {
			ev.Detail = err.Error()
		}
		s.record(ev)

		if err != nil {
			log.Warn().Err(err).Msg("Backend connect failed")
			errs = append(errs, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}

		if i > 0 {
			s.collector.Fallback()
			s.record(journal.Event{Kind: journal.KindFallback, Backend: name, Detail: describe(chain[0])})
			log.Warn().Str("primary", describe(chain[0])).Msg("Connected using fallback backend")
		} else {
			log.Info().Msg("Backend connected")
		}
		return backend, nil
	}

	return nil, errors.New().Wrap(ErrConnection, errors.Join(errs...))
}

func connectTimeout(cfg acquisition.Config) time.Duration {
	if cfg.ConnectTimeout > 0 {
		return cfg.ConnectTimeout
	}
	return acquisition.DefaultConnectTimeout
}

// StartStreaming requires Connected. In any other state it fails and the
// state is left alone.
func (s *Session) StartStreaming(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	st, backend, p := s.state, s.backend, s.pipeline
	s.mu.Unlock()

	if st != Connected {
		return invalidState("start streaming", st)
	}

	if err := backend.StartStreaming(ctx); err != nil {
		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()
		_ = s.moveTo(Error)
		return err
	}

	if err := s.moveTo(Streaming); err != nil {
		return err
	}

	loop := startTickLoop(s, backend, p)
	s.mu.Lock()
	s.loop = loop
	s.mu.Unlock()
	return nil
}

// StopStreaming ends streaming and the connection. Like Disconnect it always
// ends in Disconnected.
func (s *Session) StopStreaming(ctx context.Context) {
	s.teardown(ctx)
}

// Disconnect releases the backend from any state.
func (s *Session) Disconnect(ctx context.Context) {
	s.teardown(ctx)
}

func (s *Session) teardown(ctx context.Context) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.State() == Disconnected {
		return
	}
	if err := s.moveTo(Stopping); err != nil {
		s.logger.Warn().Err(err).Msg("Unexpected state during teardown")
	}
	s.release(ctx)
	if err := s.moveTo(Disconnected); err != nil {
		s.logger.Warn().Err(err).Msg("Unexpected state during teardown")
	}
}

// release stops the tick loop and the backend. Failures are logged only.
func (s *Session) release(ctx context.Context) {
	s.mu.Lock()
	loop, backend := s.loop, s.backend
	s.loop = nil
	s.backend = nil
	s.pipeline = nil
	s.mu.Unlock()

	loop.stop()
	s.snapshot.Store(nil)

	if backend == nil {
		return
	}

	kind := string(backend.Kind())
	if err := backend.StopStreaming(ctx); err != nil {
		if errors.HasCode(err, ErrStopTimeout) {
			s.collector.StopTimeout(kind)
			s.record(journal.Event{Kind: journal.KindStopTimeout, Backend: kind, Detail: err.Error()})
			s.logger.Warn().Err(err).Str("backend", kind).Msg("Acquisition worker did not stop in time")
		} else {
			s.logger.Warn().Err(err).Str("backend", kind).Msg("Failed to stop streaming")
		}
	}
	if err := backend.Disconnect(ctx); err != nil && !errors.HasCode(err, ErrStopTimeout) {
		s.logger.Warn().Err(err).Str("backend", kind).Msg("Failed to disconnect backend")
	}
}

// fail is called from the tick loop when the backend can no longer deliver.
func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.state != Streaming {
		s.mu.Unlock()
		return
	}
	s.lastErr = err
	ev, terr := s.transition(Error)
	backend := ""
	if s.backend != nil {
		backend = string(s.backend.Kind())
	}
	s.mu.Unlock()

	var appErr errors.Error
	if errors.As(err, &appErr) {
		s.logger.ErrorWithCode(appErr).Str("backend", backend).Msg("Backend failed while streaming")
	} else {
		s.logger.Error().Err(err).Str("backend", backend).Msg("Backend failed while streaming")
	}
	if terr == nil {
		s.record(ev)
	}
	s.record(journal.Event{Kind: journal.KindBackendFailure, Backend: backend, Detail: err.Error()})
}

// GetSnapshot returns the latest snapshot while streaming.
func (s *Session) GetSnapshot() (aggregate.Snapshot, bool) {
	if s.State() != Streaming {
		return aggregate.Snapshot{}, false
	}
	snap := s.snapshot.Load()
	if snap == nil {
		return aggregate.Snapshot{}, false
	}
	return *snap, true
}

func (s *Session) Status() Status {
	s.mu.Lock()
	st := Status{
		ID:              s.id,
		State:           s.state,
		SinceTransition: time.Since(s.changed),
		Counts:          s.collector.Counts(),
	}
	backend, p := s.backend, s.pipeline
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	s.mu.Unlock()

	if backend != nil {
		st.Backend = backend.Kind()
		st.Capabilities = backend.Capabilities()
		st.Quality = backend.Stats()
	}
	if p != nil {
		st.Buffers = p.buffers.Lens()
	}
	return st
}
