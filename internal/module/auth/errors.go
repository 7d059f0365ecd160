package auth

import "errors"

// Auth module errors.
var (
	// Token errors
	ErrInvalidToken       = errors.New("invalid token")
	ErrInvalidTokenClaims = errors.New("invalid token claims")

	// API key errors
	ErrAPIKeyNotFound = errors.New("API key not found")
	ErrAPIKeyInactive = errors.New("API key is inactive")
	ErrInvalidAPIKey  = errors.New("invalid API key")
	ErrTooManyAPIKeys = errors.New("API key limit reached")
)
