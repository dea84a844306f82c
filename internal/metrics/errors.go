package metrics

import "codeberg.org/mutker/pulsectl/internal/errors"

const (
	ErrRegister = errors.ErrorCode("metrics_register_failed")
	ErrServe    = errors.ErrorCode("metrics_serve_failed")
)
