// Package publish fans metrics snapshots out to external sinks. Publishing
// runs off the tick loop: a slow or unreachable sink only costs dropped
// snapshots.
package publish

import (
	"context"
	"encoding/json"

	"codeberg.org/mutker/pulsectl/internal/aggregate"
)

// Message is one published snapshot.
type Message struct {
	SessionID string             `json:"session_id"`
	Backend   string             `json:"backend"`
	Snapshot  aggregate.Snapshot `json:"snapshot"`
}

func (m Message) encode() ([]byte, error) {
	return json.Marshal(m)
}

// Sink delivers messages to one destination.
type Sink interface {
	Name() string
	Publish(ctx context.Context, msg Message) error
	Close() error
}
