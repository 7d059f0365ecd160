package notification

import (
	"time"

	"github.com/google/uuid"
)

// Notification types.
const (
	TypeQuota      = "QUOTA"
	TypeQuotaReset = "QUOTA_RESET"
)

// Thresholds, as fractions of the limit.
const (
	ThresholdWarning  = 0.8
	ThresholdExceeded = 1.0
)

// Record is an in-app notification. At most one exists per user, feature,
// threshold and billing month; inserting it is what claims the right to
// send the matching email.
type Record struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	UserID    uuid.UUID `json:"userId" gorm:"type:uuid;not null;uniqueIndex:idx_notifications_dedup,priority:1;index:idx_notifications_user_read,priority:1"`
	Type      string    `json:"type" gorm:"not null"`
	Feature   string    `json:"feature" gorm:"not null;default:'';uniqueIndex:idx_notifications_dedup,priority:2"`
	Threshold float64   `json:"threshold" gorm:"not null;default:0;uniqueIndex:idx_notifications_dedup,priority:3"`
	PeriodKey string    `json:"periodKey" gorm:"not null;uniqueIndex:idx_notifications_dedup,priority:4"`
	Title     string    `json:"title" gorm:"not null"`
	Message   string    `json:"message" gorm:"not null"`
	Read      bool      `json:"read" gorm:"not null;default:false;index:idx_notifications_user_read,priority:2"`
	CreatedAt time.Time `json:"createdAt" gorm:"not null"`
}

func (Record) TableName() string {
	return "notifications"
}

// Result reports what CheckAndNotify did.
type Result struct {
	Notified   bool    `json:"notified"`
	Type       string  `json:"type,omitempty"`
	Threshold  float64 `json:"threshold,omitempty"`
	Percentage int     `json:"percentage,omitempty"`
	EmailSent  bool    `json:"emailSent,omitempty"`
	Reason     string  `json:"reason,omitempty"`
}

// Reasons for not notifying.
const (
	ReasonUnlimited      = "unlimited"
	ReasonNoUsage        = "no_usage_or_limit"
	ReasonBelowThreshold = "below_threshold"
	ReasonAlreadySent    = "already_sent"
	ReasonUserNotFound   = "user_not_found"
)
