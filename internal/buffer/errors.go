package buffer

import "codeberg.org/mutker/pulsectl/internal/errors"

const (
	ErrInvalidCapacity = errors.ErrorCode("buffer_invalid_capacity")
	ErrOutOfOrder      = errors.ErrProtocol
	ErrWrongType       = errors.ErrInvalidArgument
)
