package tokenusage

import "errors"

var (
	ErrInvalidTokens = errors.New("tokensUsed must be a non-negative integer")
	ErrMissingAction = errors.New("action is required")
	ErrUserMismatch  = errors.New("user ID in payload does not match authenticated user")
	ErrInvalidRange  = errors.New("invalid date range")
)
