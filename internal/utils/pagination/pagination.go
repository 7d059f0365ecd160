package pagination

import (
	"errors"
	"strconv"
)

// Default values.
const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// ErrInvalidLimit is returned for a limit that is not a positive integer.
var ErrInvalidLimit = errors.New("limit must be a positive integer")

// ParseLimit parses a ?limit= query value. Empty falls back to def; values
// above MaxLimit are clamped.
func ParseLimit(raw string, def int) (int, error) {
	if def < 1 {
		def = DefaultLimit
	}
	if raw == "" {
		return clamp(def), nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, ErrInvalidLimit
	}
	return clamp(n), nil
}

func clamp(n int) int {
	if n > MaxLimit {
		return MaxLimit
	}
	return n
}
