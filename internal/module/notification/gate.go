package notification

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/inkwell/server/internal/module/plan"
	"github.com/inkwell/server/internal/module/subscription"
	"github.com/inkwell/server/internal/module/user"
	"github.com/inkwell/server/internal/shared/clock"
	"github.com/inkwell/server/internal/utils/metrics"
	"go.uber.org/zap"
)

// Users looks up notification recipients.
type Users interface {
	GetByID(ctx context.Context, id uuid.UUID) (*user.User, error)
}

// Plans resolves the user's current plan for reset emails.
type Plans interface {
	EffectivePlan(ctx context.Context, userID uuid.UUID) (*subscription.Subscription, plan.Plan, error)
}

// Gate sends quota emails at most once per user, feature, threshold and
// month, and keeps the matching in-app notifications.
type Gate struct {
	repo        Repository
	users       Users
	plans       Plans
	sender      Sender
	cache       SentCache
	clock       clock.Clock
	metrics     *metrics.Metrics
	logger      *zap.Logger
	frontendURL string
	sendTimeout time.Duration
	pending     sync.WaitGroup
}

// GateConfig holds the gate's collaborators.
type GateConfig struct {
	Repo        Repository
	Users       Users
	Plans       Plans
	Sender      Sender
	Cache       SentCache
	Clock       clock.Clock
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
	FrontendURL string
	SendTimeout time.Duration // bounds one NotifyAsync run; default 30s
}

func NewGate(cfg GateConfig) *Gate {
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	return &Gate{
		repo:        cfg.Repo,
		users:       cfg.Users,
		plans:       cfg.Plans,
		sender:      cfg.Sender,
		cache:       cfg.Cache,
		clock:       cfg.Clock,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		frontendURL: cfg.FrontendURL,
		sendTimeout: cfg.SendTimeout,
	}
}

// DedupKey identifies one notification per user, feature, threshold and month.
func DedupKey(userID uuid.UUID, feature string, threshold float64, periodKey string) string {
	return fmt.Sprintf("%s:%s:%s:%s", userID, feature, strconv.FormatFloat(threshold, 'f', -1, 64), periodKey)
}

// CheckAndNotify sends a warning at 80% and an exceeded notice at 100% of
// limit, each at most once per month.
func (g *Gate) CheckAndNotify(ctx context.Context, userID uuid.UUID, feature string, currentUsage, limit int64) (Result, error) {
	if limit == plan.Unlimited {
		return Result{Reason: ReasonUnlimited}, nil
	}
	if limit == 0 || currentUsage == 0 {
		return Result{Reason: ReasonNoUsage}, nil
	}

	pct := float64(currentUsage) / float64(limit)
	var (
		kind      string
		threshold float64
	)
	switch {
	case pct >= ThresholdExceeded:
		kind, threshold = "exceeded", ThresholdExceeded
	case pct >= ThresholdWarning:
		kind, threshold = "warning", ThresholdWarning
	default:
		return Result{Reason: ReasonBelowThreshold}, nil
	}
	percentage := int(math.Min(math.Round(pct*100), 100))

	periodKey := clock.PeriodKey(g.clock.Now())
	key := DedupKey(userID, feature, threshold, periodKey)
	if g.cache.Seen(key) {
		return Result{Reason: ReasonAlreadySent}, nil
	}

	u, err := g.users.GetByID(ctx, userID)
	if err != nil || u.Email == "" {
		if err != nil && !errors.Is(err, user.ErrUserNotFound) {
			g.logger.Warn("notification recipient lookup failed", zap.String("user_id", userID.String()), zap.Error(err))
		}
		return Result{Reason: ReasonUserNotFound}, nil
	}

	title := "Quota Warning: " + feature
	message := fmt.Sprintf("You've used %d%% of your %s quota (%d/%d).", percentage, feature, currentUsage, limit)
	if kind == "exceeded" {
		title = "Quota Exceeded: " + feature
		message = fmt.Sprintf("You've reached your %s quota limit (%d/%d). Please upgrade or wait for reset.", feature, currentUsage, limit)
	}

	if !g.claim(ctx, key, &Record{
		UserID:    userID,
		Type:      TypeQuota,
		Feature:   feature,
		Threshold: threshold,
		PeriodKey: periodKey,
		Title:     title,
		Message:   message,
	}) {
		return Result{Reason: ReasonAlreadySent}, nil
	}

	data := quotaEmail{
		Name:         u.DisplayName(),
		Feature:      featureTitle(feature),
		CurrentUsage: currentUsage,
		Limit:        limit,
		Remaining:    plan.Remaining(currentUsage, limit),
		Percentage:   percentage,
		URL:          g.frontendURL + "/subscription",
	}
	var msg Message
	if kind == "exceeded" {
		msg, err = renderQuotaExceeded(u.Email, data)
	} else {
		msg, err = renderQuotaWarning(u.Email, data)
	}
	sent := err == nil && g.send(ctx, msg)
	g.metrics.RecordNotification(kind)

	g.logger.Info("quota notification",
		zap.String("user_id", userID.String()),
		zap.String("feature", feature),
		zap.String("type", kind),
		zap.Int("percentage", percentage),
		zap.Bool("email_sent", sent),
	)
	return Result{
		Notified:   true,
		Type:       kind,
		Threshold:  threshold,
		Percentage: percentage,
		EmailSent:  sent,
	}, nil
}

// NotifyReset tells the user their monthly quota was reset. It sends at
// most once per month.
func (g *Gate) NotifyReset(ctx context.Context, userID uuid.UUID) (Result, error) {
	periodKey := clock.PeriodKey(g.clock.Now())
	key := DedupKey(userID, "", 0, periodKey)
	if g.cache.Seen(key) {
		return Result{Reason: ReasonAlreadySent}, nil
	}

	u, err := g.users.GetByID(ctx, userID)
	if err != nil || u.Email == "" {
		return Result{Reason: ReasonUserNotFound}, nil
	}
	_, p, err := g.plans.EffectivePlan(ctx, userID)
	if err != nil {
		return Result{}, err
	}

	if !g.claim(ctx, key, &Record{
		UserID:    userID,
		Type:      TypeQuotaReset,
		PeriodKey: periodKey,
		Title:     "Monthly quota reset",
		Message:   fmt.Sprintf("Your monthly quota has been reset. You have full access to your %s plan again.", p.Name),
	}) {
		return Result{Reason: ReasonAlreadySent}, nil
	}

	msg, err := renderQuotaReset(u.Email, quotaEmail{
		Name: u.DisplayName(),
		Plan: p.Name,
		URL:  g.frontendURL + "/subscription",
	})
	sent := err == nil && g.send(ctx, msg)
	g.metrics.RecordNotification("reset")
	return Result{Notified: true, Type: "reset", EmailSent: sent}, nil
}

// claim reserves the right to send. The store is authoritative; when it
// fails the process-local cache decides.
func (g *Gate) claim(ctx context.Context, key string, rec *Record) bool {
	rec.ID = uuid.New()
	rec.CreatedAt = g.clock.Now()

	inserted, err := g.repo.Claim(ctx, rec)
	if err != nil {
		g.logger.Warn("notification store unavailable, deduplicating in memory",
			zap.String("key", key),
			zap.Error(err),
		)
		if g.cache.Seen(key) {
			return false
		}
		g.cache.Mark(key)
		return true
	}
	g.cache.Mark(key)
	return inserted
}

func (g *Gate) send(ctx context.Context, msg Message) bool {
	if err := g.sender.Send(ctx, msg); err != nil {
		g.logger.Error("notification email failed", zap.String("to", msg.To), zap.Error(err))
		return false
	}
	return true
}

// NotifyAsync runs CheckAndNotify in the background. The run keeps ctx's
// values but not its cancellation, so it outlives the request.
func (g *Gate) NotifyAsync(ctx context.Context, userID uuid.UUID, feature string, currentUsage, limit int64) {
	g.pending.Add(1)
	go func() {
		defer g.pending.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.sendTimeout)
		defer cancel()
		if _, err := g.CheckAndNotify(ctx, userID, feature, currentUsage, limit); err != nil {
			g.logger.Warn("quota notification failed",
				zap.String("user_id", userID.String()),
				zap.String("feature", feature),
				zap.Error(err),
			)
		}
	}()
}

// Wait blocks until background notifications finish or ctx is done.
func (g *Gate) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ListUnread returns the newest unread notifications.
func (g *Gate) ListUnread(ctx context.Context, userID uuid.UUID, limit int) ([]Record, error) {
	if limit <= 0 || limit > 50 {
		limit = 10
	}
	return g.repo.ListUnread(ctx, userID, limit)
}

// MarkRead marks one of the user's notifications read.
func (g *Gate) MarkRead(ctx context.Context, id, userID uuid.UUID) error {
	ok, err := g.repo.MarkRead(ctx, id, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotificationNotFound
	}
	return nil
}
