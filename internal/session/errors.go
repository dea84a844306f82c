package session

import "codeberg.org/mutker/pulsectl/internal/errors"

const (
	ErrInvalidState  = errors.ErrInvalidState
	ErrConnection    = errors.ErrConnection
	ErrStopTimeout   = errors.ErrStopTimeout
	ErrInvalidConfig = errors.ErrInvalidConfig
)

func invalidState(op string, state State) error {
	return errors.New().WithData(ErrInvalidState, struct {
		Operation string
		State     string
	}{op, state.String()})
}
