package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes returned to clients.
const (
	CodeValidation            = "VALIDATION_ERROR"
	CodeUnauthorized          = "UNAUTHORIZED"
	CodeForbidden             = "FORBIDDEN"
	CodeNotFound              = "NOT_FOUND"
	CodeQuotaExceeded         = "QUOTA_EXCEEDED"
	CodeFeatureNotAvailable   = "FEATURE_NOT_AVAILABLE"
	CodePayloadTooLarge       = "PAYLOAD_TOO_LARGE"
	CodeSubscriptionNotFound  = "SUBSCRIPTION_NOT_FOUND"
	CodeInvalidTier           = "INVALID_TIER"
	CodeProviderError         = "PROVIDER_ERROR"
	CodeCardDeclined          = "CARD_DECLINED"
	CodeProviderMisconfigured = "PROVIDER_MISCONFIGURED"
	CodeWebhookUnverified     = "WEBHOOK_UNVERIFIED"
	CodeInternal              = "INTERNAL_ERROR"
)

// Common error kinds.
var (
	ErrBadRequest    = errors.New("bad request")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrForbidden     = errors.New("forbidden")
	ErrNotFound      = errors.New("resource not found")
	ErrQuotaExceeded = errors.New("quota exceeded")
	ErrProvider      = errors.New("payment provider error")
	ErrInternal      = errors.New("internal error")
)

// AppError is an error carrying an HTTP status and a client-facing code.
type AppError struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
	StatusCode int            `json:"-"`
	Err        error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetails attaches structured details to the error.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	e.Details = details
	return e
}

// Validation creates a 400 validation error.
func Validation(message string, details map[string]any) *AppError {
	return &AppError{
		Code:       CodeValidation,
		Message:    message,
		Details:    details,
		StatusCode: http.StatusBadRequest,
		Err:        ErrBadRequest,
	}
}

// Unauthorized creates a 401 error.
func Unauthorized(message string) *AppError {
	if message == "" {
		message = "authentication required"
	}
	return &AppError{
		Code:       CodeUnauthorized,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
		Err:        ErrUnauthorized,
	}
}

// Forbidden creates a 403 error.
func Forbidden(message string) *AppError {
	if message == "" {
		message = "access denied"
	}
	return &AppError{
		Code:       CodeForbidden,
		Message:    message,
		StatusCode: http.StatusForbidden,
		Err:        ErrForbidden,
	}
}

// NotFound creates a 404 error for the named resource.
func NotFound(resource string) *AppError {
	return &AppError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		StatusCode: http.StatusNotFound,
		Err:        ErrNotFound,
	}
}

// QuotaExceeded creates a 403 quota error. Details carry usage, limit and plan.
func QuotaExceeded(message string, details map[string]any) *AppError {
	if message == "" {
		message = "quota exceeded"
	}
	return &AppError{
		Code:       CodeQuotaExceeded,
		Message:    message,
		Details:    details,
		StatusCode: http.StatusForbidden,
		Err:        ErrQuotaExceeded,
	}
}

// Provider creates a 502 error for a failed payment provider call.
func Provider(code, message string, err error) *AppError {
	if code == "" {
		code = CodeProviderError
	}
	status := http.StatusBadGateway
	switch code {
	case CodeCardDeclined:
		status = http.StatusPaymentRequired
	case CodeProviderMisconfigured:
		status = http.StatusServiceUnavailable
	}
	if err == nil {
		err = ErrProvider
	}
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: status,
		Err:        err,
	}
}

// Internal creates a 500 error with the given code.
func Internal(code, message string, err error) *AppError {
	if code == "" {
		code = CodeInternal
	}
	if err == nil {
		err = ErrInternal
	}
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}

// As extracts an *AppError from err.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetStatusCode returns the HTTP status for err.
func GetStatusCode(err error) int {
	if appErr, ok := As(err); ok {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrQuotaExceeded):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrProvider):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
