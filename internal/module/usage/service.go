package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/inkwell/server/internal/module/plan"
	"github.com/inkwell/server/internal/module/subscription"
	"github.com/inkwell/server/internal/shared/clock"
	"github.com/inkwell/server/internal/utils/metrics"
	"go.uber.org/zap"
)

// Subscriptions is the subscription state the ledger reads.
type Subscriptions interface {
	FindByUserID(ctx context.Context, userID uuid.UUID) (*subscription.Subscription, bool, error)
	EffectivePlan(ctx context.Context, userID uuid.UUID) (*subscription.Subscription, plan.Plan, error)
}

// IncrementHook observes a counter after a successful increment.
type IncrementHook func(ctx context.Context, userID uuid.UUID, feature plan.Feature, used, limit int64)

// ResetHook observes a window opened by the monthly rollover.
type ResetHook func(ctx context.Context, userID uuid.UUID)

// Service is the usage ledger.
type Service struct {
	repo    Repository
	subs    Subscriptions
	clock   clock.Clock
	metrics *metrics.Metrics
	logger  *zap.Logger

	onIncrement IncrementHook
	onReset     ResetHook
}

// NewService creates a usage ledger.
func NewService(repo Repository, subs Subscriptions, clk clock.Clock, m *metrics.Metrics, logger *zap.Logger) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	return &Service{
		repo:    repo,
		subs:    subs,
		clock:   clk,
		metrics: m,
		logger:  logger,
	}
}

// OnIncrement registers a hook run after each increment.
func (s *Service) OnIncrement(h IncrementHook) {
	s.onIncrement = h
}

// OnReset registers a hook run for each window opened by ResetExpiredPeriods.
func (s *Service) OnReset(h ResetHook) {
	s.onReset = h
}

// Window returns the usage window of sub at now. The window is the calendar
// month, except that a plan change inside the month starts a new window.
func Window(sub *subscription.Subscription, now time.Time) (start, end time.Time) {
	start = clock.MonthStart(now)
	end = clock.NextMonthStart(now)
	if sub.PlanChangedAt != nil {
		changed := sub.PlanChangedAt.UTC().Truncate(time.Second)
		if changed.After(start) && changed.Before(end) {
			start = changed
		}
	}
	return start, end
}

// CurrentPeriod returns the user's open window, creating it on first use.
func (s *Service) CurrentPeriod(ctx context.Context, userID uuid.UUID) (*Period, error) {
	sub, ok, err := s.subs.FindByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.logger.Error("usage requested for user without subscription", zap.String("user_id", userID.String()))
		return nil, subscription.ErrSubscriptionNotFound
	}
	return s.periodFor(ctx, sub)
}

func (s *Service) periodFor(ctx context.Context, sub *subscription.Subscription) (*Period, error) {
	start, end := Window(sub, s.clock.Now())

	p, err := s.repo.FindByStart(ctx, sub.UserID, start)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrPeriodNotFound) {
		return nil, err
	}

	if _, err := s.repo.CreateIfAbsent(ctx, &Period{
		ID:             uuid.New(),
		UserID:         sub.UserID,
		SubscriptionID: sub.ID,
		PeriodStart:    start,
		PeriodEnd:      end,
	}); err != nil {
		return nil, err
	}
	return s.repo.FindByStart(ctx, sub.UserID, start)
}

// Increment records amount units of feature. It refuses to push the counter
// past the plan limit, even under concurrent callers.
func (s *Service) Increment(ctx context.Context, userID uuid.UUID, feature plan.Feature, amount int64) (*Period, error) {
	if amount < 1 {
		return nil, ErrInvalidAmount
	}
	if _, ok := Column(feature); !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFeature, feature)
	}

	sub, p, err := s.subs.EffectivePlan(ctx, userID)
	if err != nil {
		return nil, err
	}
	period, err := s.periodFor(ctx, sub)
	if err != nil {
		return nil, err
	}

	limit := p.Limit(feature)
	if limit != plan.Unlimited && period.Used(feature)+amount > limit {
		return nil, ErrQuotaExceeded
	}

	ok, err := s.repo.Increment(ctx, period.ID, feature, amount, limit)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrQuotaExceeded
	}
	s.metrics.RecordUsageIncrement(string(feature), amount)

	updated, err := s.repo.FindByStart(ctx, userID, period.PeriodStart)
	if err != nil {
		return nil, err
	}
	if s.onIncrement != nil {
		s.onIncrement(ctx, userID, feature, updated.Used(feature), limit)
	}
	return updated, nil
}

// ResetExpiredPeriods opens the window of asOf's month for every user whose
// latest window has ended. It is safe to run repeatedly and concurrently.
func (s *Service) ResetExpiredPeriods(ctx context.Context, asOf time.Time) (int, error) {
	start := clock.MonthStart(asOf)
	end := clock.NextMonthStart(asOf)

	lapsed, err := s.repo.ListLapsed(ctx, start)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, l := range lapsed {
		ok, err := s.repo.CreateIfAbsent(ctx, &Period{
			ID:             uuid.New(),
			UserID:         l.UserID,
			SubscriptionID: l.SubscriptionID,
			PeriodStart:    start,
			PeriodEnd:      end,
		})
		if err != nil {
			s.logger.Error("open usage period", zap.String("user_id", l.UserID.String()), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		created++
		if s.onReset != nil {
			s.onReset(ctx, l.UserID)
		}
	}

	s.metrics.RecordPeriodsReset(created)
	s.logger.Info("usage periods reset",
		zap.Time("period_start", start),
		zap.Int("lapsed", len(lapsed)),
		zap.Int("created", created),
	)
	return created, nil
}

// Stats reports used, limit and remaining for every feature.
func (s *Service) Stats(ctx context.Context, userID uuid.UUID) (*Report, error) {
	sub, p, err := s.subs.EffectivePlan(ctx, userID)
	if err != nil {
		return nil, err
	}
	period, err := s.periodFor(ctx, sub)
	if err != nil {
		return nil, err
	}

	features := make(map[plan.Feature]FeatureUsage, len(plan.Features()))
	for _, f := range plan.Features() {
		used, limit := period.Used(f), p.Limit(f)
		features[f] = FeatureUsage{
			Used:      used,
			Limit:     limit,
			Remaining: plan.Remaining(used, limit),
		}
	}
	return &Report{
		Plan:        p.Tier,
		PeriodStart: period.PeriodStart,
		PeriodEnd:   period.PeriodEnd,
		Features:    features,
	}, nil
}
