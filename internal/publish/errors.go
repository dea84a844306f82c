package publish

import "codeberg.org/mutker/pulsectl/internal/errors"

const (
	ErrConnection = errors.ErrConnection
	ErrPublish    = errors.ErrOperationFailed
	ErrEncode     = errors.ErrInternal
)
