package random

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// Hex generates a cryptographically secure random hex string of n bytes.
// The output length is 2n.
func Hex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}
