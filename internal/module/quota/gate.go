package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/inkwell/server/internal/module/plan"
	"github.com/inkwell/server/internal/module/subscription"
	"github.com/inkwell/server/internal/module/usage"
	"github.com/inkwell/server/internal/shared/clock"
	"github.com/inkwell/server/internal/utils/metrics"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// FeatureDailyCalls labels the daily API call limit in decisions.
const FeatureDailyCalls = "api_calls"

// Plans resolves the plan quota checks should use.
type Plans interface {
	EffectivePlan(ctx context.Context, userID uuid.UUID) (*subscription.Subscription, plan.Plan, error)
}

// Ledger reads the open usage window.
type Ledger interface {
	CurrentPeriod(ctx context.Context, userID uuid.UUID) (*usage.Period, error)
}

// TokenCounter reads the monthly token total.
type TokenCounter interface {
	MonthlyTotal(ctx context.Context, userID uuid.UUID) (int64, error)
}

// Decision is the outcome of a quota check.
type Decision struct {
	Allowed      bool      `json:"allowed"`
	Feature      string    `json:"feature"`
	CurrentUsage int64     `json:"currentUsage"`
	Limit        int64     `json:"limit"`
	Remaining    int64     `json:"remaining"`
	Tier         plan.Tier `json:"plan"`
}

// TokenDecision is the outcome of a token budget check.
type TokenDecision struct {
	Allowed   bool      `json:"allowed"`
	Used      int64     `json:"used"`
	Requested int64     `json:"requested"`
	Limit     int64     `json:"limit"`
	Remaining int64     `json:"remaining"`
	Tier      plan.Tier `json:"plan"`
}

// Gate decides whether a user may perform a billable action.
type Gate struct {
	plans   Plans
	ledger  Ledger
	tokens  TokenCounter
	redis   redis.UniversalClient
	clock   clock.Clock
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewGate creates a quota gate. rdb may be nil, in which case daily call
// limits are not enforced.
func NewGate(plans Plans, ledger Ledger, tokens TokenCounter, rdb redis.UniversalClient, clk clock.Clock, m *metrics.Metrics, logger *zap.Logger) *Gate {
	if clk == nil {
		clk = clock.System{}
	}
	return &Gate{
		plans:   plans,
		ledger:  ledger,
		tokens:  tokens,
		redis:   rdb,
		clock:   clk,
		metrics: m,
		logger:  logger,
	}
}

// CanPerform checks one more unit of feature against the user's plan.
// Unknown features are denied.
func (g *Gate) CanPerform(ctx context.Context, userID uuid.UUID, feature string) (Decision, error) {
	f, ok := plan.NormalizeFeature(feature)
	if !ok {
		g.logger.Warn("quota check for unknown feature", zap.String("feature", feature))
		g.metrics.RecordQuotaDecision(feature, false)
		return Decision{Allowed: false, Feature: feature}, nil
	}

	_, p, err := g.plans.EffectivePlan(ctx, userID)
	if err != nil {
		return Decision{}, err
	}
	period, err := g.ledger.CurrentPeriod(ctx, userID)
	if err != nil {
		return Decision{}, err
	}

	used, limit := period.Used(f), p.Limit(f)
	d := Decision{
		Allowed:      plan.WithinLimit(used, limit),
		Feature:      string(f),
		CurrentUsage: used,
		Limit:        limit,
		Remaining:    plan.Remaining(used, limit),
		Tier:         p.Tier,
	}
	g.metrics.RecordQuotaDecision(string(f), d.Allowed)
	return d, nil
}

// CheckTokens checks whether requested more tokens fit the monthly budget.
func (g *Gate) CheckTokens(ctx context.Context, userID uuid.UUID, requested int64) (TokenDecision, error) {
	_, p, err := g.plans.EffectivePlan(ctx, userID)
	if err != nil {
		return TokenDecision{}, err
	}
	used, err := g.tokens.MonthlyTotal(ctx, userID)
	if err != nil {
		return TokenDecision{}, err
	}

	limit := p.Limits.MonthlyTokens
	d := TokenDecision{
		Allowed:   limit == plan.Unlimited || used+requested <= limit,
		Used:      used,
		Requested: requested,
		Limit:     limit,
		Remaining: plan.Remaining(used, limit),
		Tier:      p.Tier,
	}
	g.metrics.RecordQuotaDecision("tokens", d.Allowed)
	return d, nil
}

// CheckDailyCalls checks the user's API calls today against the plan.
// Redis errors allow the call.
func (g *Gate) CheckDailyCalls(ctx context.Context, userID uuid.UUID) (Decision, error) {
	_, p, err := g.plans.EffectivePlan(ctx, userID)
	if err != nil {
		return Decision{}, err
	}

	limit := p.Limits.DailyAPICalls
	d := Decision{
		Allowed:   true,
		Feature:   FeatureDailyCalls,
		Limit:     limit,
		Remaining: limit,
		Tier:      p.Tier,
	}
	if g.redis == nil || limit == plan.Unlimited {
		return d, nil
	}

	key := requestKey(userID, g.clock.Now())
	calls, err := g.redis.Get(ctx, key).Int64()
	if err == redis.Nil {
		calls = 0
	} else if err != nil {
		g.logger.Warn("redis error during quota check, allowing request", zap.String("key", key), zap.Error(err))
		return d, nil
	}

	d.CurrentUsage = calls
	d.Remaining = plan.Remaining(calls, limit)
	d.Allowed = plan.WithinLimit(calls, limit)
	g.metrics.RecordQuotaDecision(FeatureDailyCalls, d.Allowed)
	return d, nil
}

// RecordCall counts one API call for today. The counter expires at the
// end of the UTC day.
func (g *Gate) RecordCall(ctx context.Context, userID uuid.UUID) (int64, error) {
	if g.redis == nil {
		return 0, nil
	}
	now := g.clock.Now()
	key := requestKey(userID, now)

	val, err := g.redis.Incr(ctx, key).Result()
	if err != nil {
		g.logger.Error("failed to increment requests", zap.String("key", key), zap.Error(err))
		return 0, err
	}
	if val == 1 {
		if ttl := clock.DayStart(now).Add(24 * time.Hour).Sub(now); ttl > 0 {
			g.redis.Expire(ctx, key, ttl)
		}
	}
	return val, nil
}

func requestKey(userID uuid.UUID, day time.Time) string {
	return fmt.Sprintf("quota:requests:%s:%s", userID.String(), day.UTC().Format("2006-01-02"))
}
