package subscription

import (
	"time"

	"github.com/google/uuid"
	"github.com/inkwell/server/internal/module/plan"
)

// Status is the lifecycle state of a subscription.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusCancelled Status = "CANCELLED"
	StatusExpired   Status = "EXPIRED"
)

// Subscription is the single billing record of a user. Rows are never deleted.
type Subscription struct {
	ID                   uuid.UUID  `gorm:"type:uuid;primaryKey"`
	UserID               uuid.UUID  `gorm:"type:uuid;uniqueIndex;not null"`
	Tier                 plan.Tier  `gorm:"type:varchar(20);not null;default:FREE"`
	Status               Status     `gorm:"type:varchar(20);not null;default:ACTIVE"`
	CurrentPeriodStart   time.Time  `gorm:"not null"`
	CurrentPeriodEnd     time.Time  `gorm:"not null"`
	CancelAtPeriodEnd    bool       `gorm:"not null;default:false"`
	StripeCustomerID     string     `gorm:"index"`
	StripeSubscriptionID string     `gorm:"index"`
	PayPalSubscriptionID string     `gorm:"column:paypal_subscription_id;index"`
	PayPalPayerID        string     `gorm:"column:paypal_payer_id"`
	PayPalPlanID         string     `gorm:"column:paypal_plan_id"`
	PayPalPendingID      string     `gorm:"column:paypal_pending_subscription_id"` // created at checkout, not yet executed
	StatusEventAt        *time.Time // event time of the last status write
	PlanChangedAt        *time.Time // anchors the usage window after a plan change
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (Subscription) TableName() string {
	return "subscriptions"
}

// EffectiveTier is the tier quota checks run against. A subscription keeps
// its tier while ACTIVE, and through the paid period once cancellation has
// been scheduled. Everything else falls back to FREE.
func (s *Subscription) EffectiveTier(now time.Time) plan.Tier {
	if s.Status == StatusActive {
		return s.Tier
	}
	if s.CancelAtPeriodEnd && now.Before(s.CurrentPeriodEnd) {
		return s.Tier
	}
	return plan.TierFree
}

// IsActive reports whether the subscription is ACTIVE inside its current period.
func (s *Subscription) IsActive(now time.Time) bool {
	return s.Status == StatusActive && now.Before(s.CurrentPeriodEnd)
}

// Provider names the payment provider that bills this subscription.
func (s *Subscription) Provider() string {
	switch {
	case s.PayPalSubscriptionID != "":
		return "paypal"
	case s.StripeSubscriptionID != "", s.StripeCustomerID != "":
		return "stripe"
	default:
		return ""
	}
}

// ProviderLinks are provider identifiers merged into a subscription. Empty
// fields leave the stored value untouched.
type ProviderLinks struct {
	StripeCustomerID     string
	StripeSubscriptionID string
	PayPalSubscriptionID string
	PayPalPayerID        string
	PayPalPlanID         string
}

func (l ProviderLinks) columns() map[string]any {
	cols := make(map[string]any)
	set := func(col, v string) {
		if v != "" {
			cols[col] = v
		}
	}
	set("stripe_customer_id", l.StripeCustomerID)
	set("stripe_subscription_id", l.StripeSubscriptionID)
	set("paypal_subscription_id", l.PayPalSubscriptionID)
	set("paypal_payer_id", l.PayPalPayerID)
	set("paypal_plan_id", l.PayPalPlanID)
	return cols
}

// ApplyTo copies the non-empty links onto s.
func (l ProviderLinks) ApplyTo(s *Subscription) {
	if l.StripeCustomerID != "" {
		s.StripeCustomerID = l.StripeCustomerID
	}
	if l.StripeSubscriptionID != "" {
		s.StripeSubscriptionID = l.StripeSubscriptionID
	}
	if l.PayPalSubscriptionID != "" {
		s.PayPalSubscriptionID = l.PayPalSubscriptionID
	}
	if l.PayPalPayerID != "" {
		s.PayPalPayerID = l.PayPalPayerID
	}
	if l.PayPalPlanID != "" {
		s.PayPalPlanID = l.PayPalPlanID
	}
}

// PlanChange is the full set of columns written by a plan change.
type PlanChange struct {
	Tier        plan.Tier
	PeriodStart time.Time
	PeriodEnd   time.Time
	At          time.Time
	Links       ProviderLinks
}
