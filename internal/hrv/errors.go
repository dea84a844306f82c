package hrv

import "codeberg.org/mutker/pulsectl/internal/errors"

const (
	ErrInsufficientData = errors.ErrHRVInsufficientData
	ErrInvalidFilter    = errors.ErrorCode("hrv_invalid_filter")
	ErrInvalidConfig    = errors.ErrInvalidConfig
)
