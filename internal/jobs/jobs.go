// Package jobs schedules the periodic billing maintenance tasks.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/inkwell/server/internal/module/notification"
	"github.com/inkwell/server/internal/module/plan"
	"github.com/inkwell/server/internal/module/subscription"
	"github.com/inkwell/server/internal/module/usage"
	"github.com/inkwell/server/internal/shared/clock"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// FeatureTokens is the notification feature name of the monthly token budget.
const FeatureTokens = "tokens"

// Ledger is the usage ledger the jobs drive.
type Ledger interface {
	ResetExpiredPeriods(ctx context.Context, asOf time.Time) (int, error)
	Stats(ctx context.Context, userID uuid.UUID) (*usage.Report, error)
}

// Subscriptions enumerates users to sweep.
type Subscriptions interface {
	ForEach(ctx context.Context, fn func(*subscription.Subscription) error) error
	EffectivePlan(ctx context.Context, userID uuid.UUID) (*subscription.Subscription, plan.Plan, error)
}

// Tokens reads monthly token totals.
type Tokens interface {
	MonthlyTotal(ctx context.Context, userID uuid.UUID) (int64, error)
}

// Notifier raises threshold notifications.
type Notifier interface {
	CheckAndNotify(ctx context.Context, userID uuid.UUID, feature string, currentUsage, limit int64) (notification.Result, error)
}

// Config configures the scheduler.
type Config struct {
	UsageResetSchedule string
	QuotaSweepSchedule string
	Timeout            time.Duration

	Ledger        Ledger
	Subscriptions Subscriptions
	Tokens        Tokens
	Notifier      Notifier
	Clock         clock.Clock
	Logger        *zap.Logger
}

// Scheduler runs the usage rollover and the quota sweep on cron schedules.
type Scheduler struct {
	cfg  Config
	cron *cron.Cron
}

// New creates a scheduler. Schedules use the five-field cron syntax in UTC.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	logger := cronLogger{cfg.Logger.Sugar()}
	s := &Scheduler{
		cfg: cfg,
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
	}

	if cfg.UsageResetSchedule != "" {
		if _, err := s.cron.AddFunc(cfg.UsageResetSchedule, s.wrap("usage_reset", s.ResetUsage)); err != nil {
			return nil, fmt.Errorf("schedule usage reset: %w", err)
		}
	}
	if cfg.QuotaSweepSchedule != "" {
		if _, err := s.cron.AddFunc(cfg.QuotaSweepSchedule, s.wrap("quota_sweep", s.SweepQuotas)); err != nil {
			return nil, fmt.Errorf("schedule quota sweep: %w", err)
		}
	}
	return s, nil
}

// Start runs the scheduler in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.cfg.Logger.Info("jobs scheduler started",
		zap.String("usage_reset", s.cfg.UsageResetSchedule),
		zap.String("quota_sweep", s.cfg.QuotaSweepSchedule),
	)
}

// Stop stops scheduling and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		s.cfg.Logger.Warn("jobs still running at shutdown")
	}
}

func (s *Scheduler) wrap(name string, fn func(ctx context.Context) (int, error)) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
		defer cancel()

		started := time.Now()
		n, err := fn(ctx)
		if err != nil {
			s.cfg.Logger.Error("job failed", zap.String("job", name), zap.Error(err))
			return
		}
		s.cfg.Logger.Info("job completed",
			zap.String("job", name),
			zap.Int("count", n),
			zap.Duration("duration", time.Since(started)),
		)
	}
}

// ResetUsage opens the current month's usage window for lapsed users.
func (s *Scheduler) ResetUsage(ctx context.Context) (int, error) {
	return s.cfg.Ledger.ResetExpiredPeriods(ctx, s.cfg.Clock.Now())
}

// SweepQuotas checks every subscription's features and token budget
// against the notification thresholds. It returns the number of
// notifications raised. One user's failure does not stop the sweep.
func (s *Scheduler) SweepQuotas(ctx context.Context) (int, error) {
	notified := 0
	err := s.cfg.Subscriptions.ForEach(ctx, func(sub *subscription.Subscription) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := s.sweepUser(ctx, sub.UserID)
		if err != nil {
			s.cfg.Logger.Warn("quota sweep failed for user",
				zap.String("user_id", sub.UserID.String()),
				zap.Error(err),
			)
			return nil
		}
		notified += n
		return nil
	})
	return notified, err
}

func (s *Scheduler) sweepUser(ctx context.Context, userID uuid.UUID) (int, error) {
	report, err := s.cfg.Ledger.Stats(ctx, userID)
	if err != nil {
		return 0, err
	}

	notified := 0
	check := func(feature string, used, limit int64) error {
		res, err := s.cfg.Notifier.CheckAndNotify(ctx, userID, feature, used, limit)
		if err != nil {
			return err
		}
		if res.Notified {
			notified++
		}
		return nil
	}

	for _, f := range plan.Features() {
		fu, ok := report.Features[f]
		if !ok {
			continue
		}
		if err := check(string(f), fu.Used, fu.Limit); err != nil {
			return notified, err
		}
	}

	if s.cfg.Tokens == nil {
		return notified, nil
	}
	_, p, err := s.cfg.Subscriptions.EffectivePlan(ctx, userID)
	if err != nil {
		return notified, err
	}
	tokens, err := s.cfg.Tokens.MonthlyTotal(ctx, userID)
	if err != nil {
		return notified, err
	}
	if err := check(FeatureTokens, tokens, p.Limits.MonthlyTokens); err != nil {
		return notified, err
	}
	return notified, nil
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
