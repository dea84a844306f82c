package session

import (
	"encoding/json"
	"fmt"
)

// State is a lifecycle phase of a session.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Streaming
	Stopping
	Error
)

var stateNames = map[State]string{
	Disconnected: "disconnected",
	Connecting:   "connecting",
	Connected:    "connected",
	Streaming:    "streaming",
	Stopping:     "stopping",
	Error:        "error",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

var transitions = map[State][]State{
	Disconnected: {Connecting},
	Connecting:   {Connected, Error},
	Connected:    {Streaming, Stopping, Error},
	Streaming:    {Stopping, Error},
	Stopping:     {Disconnected},
	Error:        {Connecting, Stopping},
}

// CanTransition reports whether the state machine allows s -> to.
func (s State) CanTransition(to State) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}
