package classify

import "codeberg.org/mutker/pulsectl/internal/errors"

const (
	ErrUnclassified   = errors.ErrClassification
	ErrMalformedFrame = errors.ErrProtocol
)
