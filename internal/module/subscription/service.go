package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/inkwell/server/internal/module/plan"
	"github.com/inkwell/server/internal/shared/clock"
	"github.com/inkwell/server/internal/utils/requestctx"
	"go.uber.org/zap"
)

// Service owns subscription state: lazy creation, lazy expiry, user-driven
// plan changes and the idempotent primitives used by webhook reconciliation.
type Service struct {
	repo    Repository
	catalog *plan.Catalog
	clock   clock.Clock
	logger  *zap.Logger
}

// NewService creates a subscription service.
func NewService(repo Repository, catalog *plan.Catalog, clk clock.Clock, logger *zap.Logger) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	return &Service{
		repo:    repo,
		catalog: catalog,
		clock:   clk,
		logger:  logger,
	}
}

// Catalog returns the plan catalog the service resolves tiers against.
func (s *Service) Catalog() *plan.Catalog {
	return s.catalog
}

// Now returns the service clock's current time.
func (s *Service) Now() time.Time {
	return s.clock.Now()
}

// Get returns the user's subscription without creating one.
func (s *Service) Get(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	sub, err := s.repo.FindByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.expireIfLapsed(ctx, sub)
}

// GetOrCreate returns the user's subscription, creating a FREE one on first use.
func (s *Service) GetOrCreate(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	sub, err := s.repo.FindByUserID(ctx, userID)
	if errors.Is(err, ErrSubscriptionNotFound) {
		now := s.clock.Now()
		fresh := &Subscription{
			ID:                 uuid.New(),
			UserID:             userID,
			Tier:               plan.TierFree,
			Status:             StatusActive,
			CurrentPeriodStart: now,
			CurrentPeriodEnd:   now.AddDate(0, 1, 0),
		}
		if err := s.repo.CreateIfAbsent(ctx, fresh); err != nil {
			return nil, err
		}
		// Re-read: a concurrent request may have won the insert.
		sub, err = s.repo.FindByUserID(ctx, userID)
		if err == nil && sub.ID == fresh.ID {
			s.logger.Info("created free subscription",
				zap.String("user_id", userID.String()),
				zap.String("request_id", requestctx.RequestID(ctx)),
			)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("get or create subscription: %w", err)
	}
	return s.expireIfLapsed(ctx, sub)
}

func (s *Service) expireIfLapsed(ctx context.Context, sub *Subscription) (*Subscription, error) {
	now := s.clock.Now()
	if sub.Status != StatusActive || !now.After(sub.CurrentPeriodEnd) {
		return sub, nil
	}
	expired, err := s.repo.ExpireIfLapsed(ctx, sub.ID, now)
	if err != nil {
		return nil, err
	}
	if expired {
		s.logger.Info("subscription expired",
			zap.String("user_id", sub.UserID.String()),
			zap.String("tier", string(sub.Tier)),
			zap.Time("period_end", sub.CurrentPeriodEnd),
		)
	}
	sub.Status = StatusExpired
	return sub, nil
}

// ApplyPlanChange moves the user onto tier with a fresh one-month period.
// The usage window restarts at the change, so new limits apply to new counters.
func (s *Service) ApplyPlanChange(ctx context.Context, userID uuid.UUID, tier plan.Tier, links ProviderLinks) (*Subscription, error) {
	if !plan.IsValidTier(string(tier)) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTier, tier)
	}
	if _, err := s.GetOrCreate(ctx, userID); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	change := PlanChange{
		Tier:        tier,
		PeriodStart: now,
		PeriodEnd:   now.AddDate(0, 1, 0),
		At:          now,
		Links:       links,
	}
	if err := s.repo.ApplyPlanChange(ctx, userID, change); err != nil {
		return nil, err
	}

	s.logger.Info("plan changed",
		zap.String("user_id", userID.String()),
		zap.String("tier", string(tier)),
		zap.String("request_id", requestctx.RequestID(ctx)),
	)
	return s.repo.FindByUserID(ctx, userID)
}

// Cancel schedules cancellation at the end of the current period.
// The provider subscription is left to lapse on its own schedule.
func (s *Service) Cancel(ctx context.Context, userID uuid.UUID) error {
	if _, err := s.GetOrCreate(ctx, userID); err != nil {
		return err
	}
	return s.repo.SetCancelAtPeriodEnd(ctx, userID, true)
}

// Reactivate clears a scheduled cancellation.
func (s *Service) Reactivate(ctx context.Context, userID uuid.UUID) error {
	if _, err := s.GetOrCreate(ctx, userID); err != nil {
		return err
	}
	return s.repo.Reactivate(ctx, userID, s.clock.Now())
}

// SetPayPalPending records the PayPal subscription a checkout created, so
// only that subscription can later be executed for the user.
func (s *Service) SetPayPalPending(ctx context.Context, userID uuid.UUID, paypalSubID string) error {
	if _, err := s.GetOrCreate(ctx, userID); err != nil {
		return err
	}
	return s.repo.SetPayPalPending(ctx, userID, paypalSubID)
}

// StatusView is the client-facing summary of a subscription.
type StatusView struct {
	Plan               plan.Tier   `json:"plan"`
	EffectivePlan      plan.Tier   `json:"effectivePlan"`
	Status             Status      `json:"status"`
	CurrentPeriodStart time.Time   `json:"currentPeriodStart"`
	CurrentPeriodEnd   time.Time   `json:"currentPeriodEnd"`
	CancelAtPeriodEnd  bool        `json:"cancelAtPeriodEnd"`
	Provider           string      `json:"provider,omitempty"`
	IsActive           bool        `json:"isActive"`
	Limits             plan.Limits `json:"limits"`
	AvailableUpgrades  []plan.Tier `json:"availableUpgrades"`
}

// Status summarizes the user's subscription.
func (s *Service) Status(ctx context.Context, userID uuid.UUID) (*StatusView, error) {
	sub, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	effective := sub.EffectiveTier(now)
	upgrades := s.catalog.AvailableUpgrades(sub.Tier)
	if upgrades == nil {
		upgrades = []plan.Tier{}
	}

	return &StatusView{
		Plan:               sub.Tier,
		EffectivePlan:      effective,
		Status:             sub.Status,
		CurrentPeriodStart: sub.CurrentPeriodStart,
		CurrentPeriodEnd:   sub.CurrentPeriodEnd,
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		Provider:           sub.Provider(),
		IsActive:           sub.IsActive(now),
		Limits:             s.catalog.Plan(effective).Limits,
		AvailableUpgrades:  upgrades,
	}, nil
}

// EffectivePlan returns the plan quota checks should use for the user.
func (s *Service) EffectivePlan(ctx context.Context, userID uuid.UUID) (*Subscription, plan.Plan, error) {
	sub, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, plan.Plan{}, err
	}
	return sub, s.catalog.Plan(sub.EffectiveTier(s.clock.Now())), nil
}

// --- Reconciliation primitives ---

// FindByStripeSubscriptionID looks up a linked Stripe subscription.
// A missing row is reported through found, not as an error.
func (s *Service) FindByStripeSubscriptionID(ctx context.Context, id string) (*Subscription, bool, error) {
	return found(s.repo.FindByStripeSubscriptionID(ctx, id))
}

// FindByPayPalSubscriptionID looks up a linked PayPal subscription.
func (s *Service) FindByPayPalSubscriptionID(ctx context.Context, id string) (*Subscription, bool, error) {
	return found(s.repo.FindByPayPalSubscriptionID(ctx, id))
}

// FindByUserID looks up a user's subscription without creating one.
func (s *Service) FindByUserID(ctx context.Context, userID uuid.UUID) (*Subscription, bool, error) {
	return found(s.repo.FindByUserID(ctx, userID))
}

func found(sub *Subscription, err error) (*Subscription, bool, error) {
	if errors.Is(err, ErrSubscriptionNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return sub, true, nil
}

// SetStatusAt applies a provider status observed at time at. Older events
// than the last applied one are ignored.
func (s *Service) SetStatusAt(ctx context.Context, id uuid.UUID, status Status, cancelAtPeriodEnd *bool, at time.Time) (bool, error) {
	applied, err := s.repo.SetStatusAt(ctx, id, status, cancelAtPeriodEnd, at)
	if err != nil {
		return false, err
	}
	if !applied {
		s.logger.Debug("stale status event ignored",
			zap.String("subscription_id", id.String()),
			zap.String("status", string(status)),
			zap.Time("event_at", at),
		)
	}
	return applied, nil
}

// ExtendPeriod raises the period bounds to at least start and end.
func (s *Service) ExtendPeriod(ctx context.Context, id uuid.UUID, start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return nil
	}
	return s.repo.ExtendPeriod(ctx, id, start, end)
}

// SetTier records a provider-side plan change.
func (s *Service) SetTier(ctx context.Context, id uuid.UUID, tier plan.Tier, at time.Time) (bool, error) {
	if !plan.IsValidTier(string(tier)) {
		return false, fmt.Errorf("%w: %q", ErrInvalidTier, tier)
	}
	return s.repo.SetTier(ctx, id, tier, at)
}

// ForEach visits every subscription.
func (s *Service) ForEach(ctx context.Context, fn func(*Subscription) error) error {
	return s.repo.ForEach(ctx, fn)
}
