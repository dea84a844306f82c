package acquisition

import "codeberg.org/mutker/pulsectl/internal/errors"

const (
	ErrConnection    = errors.ErrConnection
	ErrProtocol      = errors.ErrProtocol
	ErrStopTimeout   = errors.ErrStopTimeout
	ErrNotConnected  = errors.ErrInvalidState
	ErrUnknownDriver = errors.ErrUnknownDriver
	ErrDiscovery     = errors.ErrDiscovery
)

// errNotConnected reports a start attempted before Connect.
func errNotConnected(kind Kind) error {
	return errors.New().WithData(ErrNotConnected, struct {
		Backend Kind
	}{kind})
}
