package webhook

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/inkwell/server/internal/module/plan"
	"github.com/inkwell/server/internal/module/subscription"
)

// Reconciler applies a verified provider event to subscription state.
type Reconciler interface {
	Reconcile(ctx context.Context, env Envelope) (Outcome, error)
}

// Subscriptions is the subscription surface reconciliation writes through.
type Subscriptions interface {
	Catalog() *plan.Catalog
	Now() time.Time
	FindByStripeSubscriptionID(ctx context.Context, id string) (*subscription.Subscription, bool, error)
	FindByPayPalSubscriptionID(ctx context.Context, id string) (*subscription.Subscription, bool, error)
	FindByUserID(ctx context.Context, userID uuid.UUID) (*subscription.Subscription, bool, error)
	ApplyPlanChange(ctx context.Context, userID uuid.UUID, tier plan.Tier, links subscription.ProviderLinks) (*subscription.Subscription, error)
	SetStatusAt(ctx context.Context, id uuid.UUID, status subscription.Status, cancelAtPeriodEnd *bool, at time.Time) (bool, error)
	ExtendPeriod(ctx context.Context, id uuid.UUID, start, end time.Time) error
	SetTier(ctx context.Context, id uuid.UUID, tier plan.Tier, at time.Time) (bool, error)
}

// eventTime falls back to the processing time for events without a timestamp.
func eventTime(env Envelope, subs Subscriptions) time.Time {
	if env.OccurredAt.IsZero() {
		return subs.Now()
	}
	return env.OccurredAt.UTC()
}

// statusOutcome reports a status write, noting when the event lost to a newer one.
func statusOutcome(action string, applied bool) Outcome {
	if !applied {
		return Outcome{Processed: true, Action: action, Reason: ReasonStaleEvent}
	}
	return Outcome{Processed: true, Action: action}
}

func ptr[T any](v T) *T {
	return &v
}
