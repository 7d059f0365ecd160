// Package subscriptiontest provides an in-memory subscription.Repository
// with the same conditional-write semantics as the SQL implementation.
package subscriptiontest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/inkwell/server/internal/module/plan"
	"github.com/inkwell/server/internal/module/subscription"
)

// Repository is a thread-safe in-memory subscription store.
type Repository struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*subscription.Subscription // keyed by user id
}

var _ subscription.Repository = (*Repository)(nil)

func NewRepository() *Repository {
	return &Repository{rows: make(map[uuid.UUID]*subscription.Subscription)}
}

// Put stores a copy of sub, replacing any row for the same user.
func (r *Repository) Put(sub *subscription.Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *sub
	r.rows[sub.UserID] = &cp
}

func (r *Repository) findLocked(match func(*subscription.Subscription) bool) (*subscription.Subscription, error) {
	for _, sub := range r.rows {
		if match(sub) {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, subscription.ErrSubscriptionNotFound
}

func (r *Repository) byID(id uuid.UUID) *subscription.Subscription {
	for _, sub := range r.rows {
		if sub.ID == id {
			return sub
		}
	}
	return nil
}

func (r *Repository) FindByUserID(_ context.Context, userID uuid.UUID) (*subscription.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findLocked(func(s *subscription.Subscription) bool { return s.UserID == userID })
}

func (r *Repository) FindByStripeSubscriptionID(_ context.Context, id string) (*subscription.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id == "" {
		return nil, subscription.ErrSubscriptionNotFound
	}
	return r.findLocked(func(s *subscription.Subscription) bool { return s.StripeSubscriptionID == id })
}

func (r *Repository) FindByPayPalSubscriptionID(_ context.Context, id string) (*subscription.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id == "" {
		return nil, subscription.ErrSubscriptionNotFound
	}
	return r.findLocked(func(s *subscription.Subscription) bool { return s.PayPalSubscriptionID == id })
}

func (r *Repository) ForEach(_ context.Context, fn func(*subscription.Subscription) error) error {
	r.mu.Lock()
	subs := make([]subscription.Subscription, 0, len(r.rows))
	for _, sub := range r.rows {
		subs = append(subs, *sub)
	}
	r.mu.Unlock()

	sort.Slice(subs, func(i, j int) bool { return subs[i].ID.String() < subs[j].ID.String() })
	for i := range subs {
		if err := fn(&subs[i]); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) CreateIfAbsent(_ context.Context, sub *subscription.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.rows[sub.UserID]; exists {
		return nil
	}
	cp := *sub
	r.rows[sub.UserID] = &cp
	return nil
}

func (r *Repository) ExpireIfLapsed(_ context.Context, id uuid.UUID, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub := r.byID(id)
	if sub == nil || sub.Status != subscription.StatusActive || !sub.CurrentPeriodEnd.Before(now) {
		return false, nil
	}
	sub.Status = subscription.StatusExpired
	return true, nil
}

func (r *Repository) ApplyPlanChange(_ context.Context, userID uuid.UUID, change subscription.PlanChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.rows[userID]
	if !ok {
		return subscription.ErrSubscriptionNotFound
	}
	at := change.At
	sub.Tier = change.Tier
	sub.Status = subscription.StatusActive
	sub.CurrentPeriodStart = change.PeriodStart
	sub.CurrentPeriodEnd = change.PeriodEnd
	sub.CancelAtPeriodEnd = false
	sub.PlanChangedAt = &at
	sub.StatusEventAt = &at
	change.Links.ApplyTo(sub)
	return nil
}

func (r *Repository) SetCancelAtPeriodEnd(_ context.Context, userID uuid.UUID, cancel bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.rows[userID]
	if !ok {
		return subscription.ErrSubscriptionNotFound
	}
	sub.CancelAtPeriodEnd = cancel
	return nil
}

func (r *Repository) SetPayPalPending(_ context.Context, userID uuid.UUID, paypalSubID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.rows[userID]
	if !ok {
		return subscription.ErrSubscriptionNotFound
	}
	sub.PayPalPendingID = paypalSubID
	return nil
}

func (r *Repository) Reactivate(_ context.Context, userID uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.rows[userID]
	if !ok {
		return subscription.ErrSubscriptionNotFound
	}
	sub.CancelAtPeriodEnd = false
	sub.Status = subscription.StatusActive
	sub.StatusEventAt = &at
	return nil
}

func (r *Repository) SetStatusAt(_ context.Context, id uuid.UUID, status subscription.Status, cancelAtPeriodEnd *bool, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub := r.byID(id)
	if sub == nil {
		return false, nil
	}
	if sub.StatusEventAt != nil && sub.StatusEventAt.After(at) {
		return false, nil
	}
	sub.Status = status
	sub.StatusEventAt = &at
	if cancelAtPeriodEnd != nil {
		sub.CancelAtPeriodEnd = *cancelAtPeriodEnd
	}
	return true, nil
}

func (r *Repository) ExtendPeriod(_ context.Context, id uuid.UUID, start, end time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub := r.byID(id)
	if sub == nil {
		return nil
	}
	if start.After(sub.CurrentPeriodStart) {
		sub.CurrentPeriodStart = start
	}
	if end.After(sub.CurrentPeriodEnd) {
		sub.CurrentPeriodEnd = end
	}
	return nil
}

func (r *Repository) SetTier(_ context.Context, id uuid.UUID, tier plan.Tier, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub := r.byID(id)
	if sub == nil || sub.Tier == tier {
		return false, nil
	}
	sub.Tier = tier
	sub.PlanChangedAt = &at
	return true, nil
}
