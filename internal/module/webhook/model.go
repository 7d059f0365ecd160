// Package webhook reconciles payment provider callbacks into subscription state.
package webhook

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Provider names.
const (
	ProviderStripe = "stripe"
	ProviderPayPal = "paypal"
)

// Outcome reasons.
const (
	ReasonSubscriptionNotFound = "subscription_not_found"
	ReasonUnhandledEventType   = "unhandled_event_type"
	ReasonDuplicateEvent       = "duplicate_event"
	ReasonMissingSubscription  = "missing_subscription_id"
	ReasonMissingUser          = "missing_user_id"
	ReasonInvalidTier          = "invalid_tier"
	ReasonStaleEvent           = "stale_event"
)

// Envelope is a verified provider delivery ready for reconciliation.
type Envelope struct {
	Provider   string
	EventID    string
	EventType  string
	OccurredAt time.Time
	Payload    []byte
}

// Outcome reports what reconciliation did with an event. A delivery with no
// local subscription is an Outcome, not an error.
type Outcome struct {
	Processed bool   `json:"processed"`
	Action    string `json:"action,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

func applied(action string) Outcome {
	return Outcome{Processed: true, Action: action}
}

func skipped(reason string) Outcome {
	return Outcome{Processed: false, Reason: reason}
}

// Label is the metrics label of the outcome.
func (o Outcome) Label() string {
	if o.Processed {
		return "processed"
	}
	return o.Reason
}

// Event is the persisted log of a provider delivery.
type Event struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey"`
	Provider    string         `gorm:"type:varchar(20);not null;uniqueIndex:idx_webhook_events_provider_event"`
	EventID     string         `gorm:"not null;uniqueIndex:idx_webhook_events_provider_event"`
	EventType   string         `gorm:"not null;index"`
	Payload     datatypes.JSON `gorm:"type:jsonb"`
	Outcome     string
	Error       *string
	ReceivedAt  time.Time `gorm:"not null"`
	ProcessedAt *time.Time
}

// TableName returns the database table name.
func (Event) TableName() string {
	return "webhook_events"
}
