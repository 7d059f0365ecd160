package provider

import (
	"errors"
	"time"

	apperrors "github.com/inkwell/server/internal/shared/errors"
	"github.com/inkwell/server/internal/utils/metrics"
	"github.com/sony/gobreaker/v2"
)

// BreakerConfig tunes the circuit breaker around a provider.
type BreakerConfig struct {
	FailureThreshold uint32
	Timeout          time.Duration
	MaxHalfOpen      uint32
}

// DefaultBreakerConfig returns the default breaker settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Timeout:          30 * time.Second,
		MaxHalfOpen:      1,
	}
}

func newBreaker(name string, cfg BreakerConfig) *gobreaker.CircuitBreaker[any] {
	if cfg.FailureThreshold == 0 {
		cfg = DefaultBreakerConfig()
	}
	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxHalfOpen,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		// Declined cards and bad requests say nothing about provider health.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var pe *Error
			return errors.As(err, &pe) && pe.userFacing()
		},
	})
}

// call runs fn through the breaker and records the outcome.
func call[T any](cb *gobreaker.CircuitBreaker[any], m *metrics.Metrics, provider, op string, fn func() (T, error)) (T, error) {
	var zero T
	out, err := cb.Execute(func() (any, error) {
		return fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = &Error{Provider: provider, Code: apperrors.CodeProviderError, Message: "provider temporarily unavailable", Err: err}
	}
	m.RecordProviderRequest(provider, op, err)
	if err != nil {
		return zero, err
	}
	return out.(T), nil
}
