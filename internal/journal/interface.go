package journal

import (
	"context"
	"time"
)

// Recorder is what the session writes lifecycle events to.
type Recorder interface {
	Record(ctx context.Context, event Event) error
	Close() error
}

// Repository defines the storage behind a Recorder
type Repository interface {
	Record(event Event) error
	Close() error
}

// Kind classifies a journal entry
type Kind string

const (
	KindStateChange    Kind = "state_change"
	KindConnectAttempt Kind = "connect_attempt"
	KindFallback       Kind = "fallback"
	KindStopTimeout    Kind = "stop_timeout"
	KindBackendFailure Kind = "backend_failure"
)

// Event is one session lifecycle entry. Sensor data is never journaled.
type Event struct {
	Timestamp time.Time
	SessionID string
	Kind      Kind
	FromState string
	ToState   string
	Backend   string
	Detail    string
}
