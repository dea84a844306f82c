// Package journal keeps an optional on-disk log of session lifecycle events:
// state transitions, connect attempts, fallbacks and worker stop timeouts.
package journal

import (
	"context"

	"codeberg.org/mutker/pulsectl/internal/errors"
	"codeberg.org/mutker/pulsectl/internal/logger"
)

type service struct {
	repo Repository
	cfg  Config
}

type noopRecorder struct{}

// NewService returns a sqlite-backed recorder, or a no-op one when the
// journal is disabled.
func NewService(cfg Config, log logger.Logger) (Recorder, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	if !cfg.Enabled {
		log.Debug().Msg("Session journal disabled, using no-op recorder")
		return Nop(), nil
	}

	repo, err := NewRepository(cfg, log)
	if err != nil {
		log.Debug().Err(err).Msg("Failed to create journal repository")
		return nil, err
	}

	log.Debug().
		Str("db_path", cfg.DBPath).
		Int("batch_size", cfg.BatchSize).
		Msg("Session journal initialized")

	return NewRecorder(repo, cfg), nil
}

// NewRecorder wraps an existing repository.
func NewRecorder(repo Repository, cfg Config) Recorder {
	return &service{repo: repo, cfg: cfg}
}

// Nop returns a recorder that discards events.
func Nop() Recorder {
	return &noopRecorder{}
}

func (s *service) Record(ctx context.Context, event Event) error {
	errFactory := errors.New()

	if event.SessionID == "" || event.Kind == "" {
		return errFactory.WithData(ErrInvalidEvent, event)
	}

	select {
	case <-ctx.Done():
		return errFactory.Wrap(ErrOperationTimeout, ctx.Err())
	default:
		if err := s.repo.Record(event); err != nil {
			return errFactory.Wrap(ErrRecordFailed, err)
		}
	}

	return nil
}

func (s *service) Close() error {
	if err := s.repo.Close(); err != nil {
		return errors.New().Wrap(ErrStorageClose, err)
	}
	return nil
}

func (*noopRecorder) Record(_ context.Context, _ Event) error {
	return nil
}

func (*noopRecorder) Close() error {
	return nil
}
