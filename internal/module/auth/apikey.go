package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/inkwell/server/internal/utils/random"
)

const (
	// APIKeyPrefix is the prefix for platform API keys.
	APIKeyPrefix = "pk-"
	// APIKeyRandomLength is the length of the random part of the key.
	APIKeyRandomLength = 48
	// APIKeyPrefixDisplayLength is the length of the key prefix to display.
	APIKeyPrefixDisplayLength = 12
	// MaxAPIKeysPerUser caps active keys per user.
	MaxAPIKeysPerUser = 10
)

// APIKey authenticates a connected platform (such as the WordPress plugin)
// on behalf of its owner. Only the hash of the key is stored.
type APIKey struct {
	ID         uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	UserID     uuid.UUID  `json:"user_id" gorm:"type:uuid;not null;index"`
	Name       string     `json:"name" gorm:"not null"`
	KeyHash    string     `json:"-" gorm:"uniqueIndex;not null"`
	KeyPrefix  string     `json:"key_prefix" gorm:"not null"`
	IsActive   bool       `json:"is_active" gorm:"not null;default:true"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// TableName returns the database table name.
func (APIKey) TableName() string {
	return "platform_api_keys"
}

// GenerateAPIKey generates a new platform API key.
// Returns the full key, its SHA-256 hash, and a display prefix.
func GenerateAPIKey() (key string, hash string, prefix string, err error) {
	suffix, err := random.Hex(APIKeyRandomLength / 2)
	if err != nil {
		return "", "", "", err
	}

	key = APIKeyPrefix + suffix
	return key, HashAPIKey(key), GetAPIKeyPrefix(key), nil
}

// HashAPIKey returns the SHA-256 hash of an API key.
func HashAPIKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

// GetAPIKeyPrefix returns the display prefix of an API key.
func GetAPIKeyPrefix(key string) string {
	if len(key) <= APIKeyPrefixDisplayLength {
		return key
	}
	return key[:APIKeyPrefixDisplayLength]
}

// IsValidAPIKeyFormat checks if a string looks like a platform API key.
func IsValidAPIKeyFormat(key string) bool {
	if !strings.HasPrefix(key, APIKeyPrefix) {
		return false
	}
	return len(key) == len(APIKeyPrefix)+APIKeyRandomLength
}
