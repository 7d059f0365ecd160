package usage

import "errors"

var (
	ErrPeriodNotFound = errors.New("usage period not found")
	ErrInvalidAmount  = errors.New("usage amount must be at least 1")
	ErrUnknownFeature = errors.New("unknown feature")
	ErrQuotaExceeded  = errors.New("quota exceeded")
)
