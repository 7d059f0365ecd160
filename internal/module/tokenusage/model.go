package tokenusage

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Sources of token usage.
const (
	SourcePlatform  = "platform"
	SourceWordPress = "wordpress"
	SourceAPI       = "api"
)

// Record is one append-only token usage entry.
type Record struct {
	ID         uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	UserID     uuid.UUID      `json:"userId" gorm:"type:uuid;not null;index:idx_token_usage_user_created,priority:1"`
	Action     string         `json:"action" gorm:"not null"`
	Provider   string         `json:"provider"`
	TokensUsed int64          `json:"tokensUsed" gorm:"not null;check:tokens_used >= 0"`
	Source     string         `json:"source" gorm:"not null;default:platform"`
	Metadata   datatypes.JSON `json:"metadata" gorm:"type:jsonb"`
	CreatedAt  time.Time      `json:"createdAt" gorm:"not null;index:idx_token_usage_user_created,priority:2"`
}

func (Record) TableName() string {
	return "token_usage"
}

// Bucket is a count and token total for one grouping key.
type Bucket struct {
	Count  int64 `json:"count"`
	Tokens int64 `json:"tokens"`
}

// Stats summarizes token usage over a period.
type Stats struct {
	Period struct {
		Start time.Time `json:"start"`
		End   time.Time `json:"end"`
	} `json:"period"`
	TotalTokens     int64             `json:"totalTokens"`
	TotalOperations int64             `json:"totalOperations"`
	ByAction        map[string]Bucket `json:"byAction"`
	ByProvider      map[string]Bucket `json:"byProvider"`
	BySource        map[string]Bucket `json:"bySource"`
}
