package usage_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/inkwell/server/internal/module/plan"
	"github.com/inkwell/server/internal/module/subscription"
	"github.com/inkwell/server/internal/module/subscription/subscriptiontest"
	"github.com/inkwell/server/internal/module/usage"
	"github.com/inkwell/server/internal/module/usage/usagetest"
	"github.com/inkwell/server/internal/shared/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var t0 = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

type fixture struct {
	subs   *subscription.Service
	ledger *usage.Service
	repo   *usagetest.Repository
	clock  *clock.Fixed
}

func newFixture() *fixture {
	clk := clock.NewFixed(t0)
	subs := subscription.NewService(subscriptiontest.NewRepository(), plan.NewCatalog(plan.ProviderIDs{}), clk, zap.NewNop())
	repo := usagetest.NewRepository()
	return &fixture{
		subs:   subs,
		ledger: usage.NewService(repo, subs, clk, nil, zap.NewNop()),
		repo:   repo,
		clock:  clk,
	}
}

func (f *fixture) user(t *testing.T, tier plan.Tier) uuid.UUID {
	t.Helper()
	userID := uuid.New()
	_, err := f.subs.GetOrCreate(context.Background(), userID)
	require.NoError(t, err)
	if tier != plan.TierFree {
		_, err = f.subs.ApplyPlanChange(context.Background(), userID, tier, subscription.ProviderLinks{})
		require.NoError(t, err)
	}
	return userID
}

func TestCurrentPeriod_CalendarMonth(t *testing.T) {
	f := newFixture()
	userID := f.user(t, plan.TierFree)

	p, err := f.ledger.CurrentPeriod(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), p.PeriodStart)
	assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), p.PeriodEnd)
	assert.Zero(t, p.ArticlesGenerated)

	again, err := f.ledger.CurrentPeriod(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, again.ID)
}

func TestCurrentPeriod_NoSubscription(t *testing.T) {
	f := newFixture()

	_, err := f.ledger.CurrentPeriod(context.Background(), uuid.New())
	assert.ErrorIs(t, err, subscription.ErrSubscriptionNotFound)
}

func TestIncrement_Concurrent(t *testing.T) {
	f := newFixture()
	userID := f.user(t, plan.TierEnterprise)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.ledger.Increment(context.Background(), userID, plan.FeatureArticles, 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	p, err := f.ledger.CurrentPeriod(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, int64(n), p.ArticlesGenerated)
}

func TestIncrement_ConcurrentNeverOvershoots(t *testing.T) {
	f := newFixture()
	userID := f.user(t, plan.TierFree) // 10 articles

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.ledger.Increment(context.Background(), userID, plan.FeatureArticles, 1); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, usage.ErrQuotaExceeded)
			}
		}()
	}
	wg.Wait()

	p, err := f.ledger.CurrentPeriod(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), p.ArticlesGenerated)
	assert.Equal(t, 10, succeeded)
}

func TestIncrement_Validation(t *testing.T) {
	f := newFixture()
	userID := f.user(t, plan.TierFree)

	_, err := f.ledger.Increment(context.Background(), userID, plan.FeatureArticles, 0)
	assert.ErrorIs(t, err, usage.ErrInvalidAmount)

	_, err = f.ledger.Increment(context.Background(), userID, "podcasts", 1)
	assert.ErrorIs(t, err, usage.ErrUnknownFeature)

	// FREE has no video allowance.
	_, err = f.ledger.Increment(context.Background(), userID, plan.FeatureVideos, 1)
	assert.ErrorIs(t, err, usage.ErrQuotaExceeded)
}

func TestIncrement_Hook(t *testing.T) {
	f := newFixture()
	userID := f.user(t, plan.TierFree)

	var gotUsed, gotLimit int64
	f.ledger.OnIncrement(func(_ context.Context, id uuid.UUID, feature plan.Feature, used, limit int64) {
		assert.Equal(t, userID, id)
		assert.Equal(t, plan.FeatureImages, feature)
		gotUsed, gotLimit = used, limit
	})

	_, err := f.ledger.Increment(context.Background(), userID, plan.FeatureImages, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), gotUsed)
	assert.Equal(t, int64(25), gotLimit)
}

func TestRollover(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	userID := f.user(t, plan.TierFree)

	_, err := f.ledger.Increment(ctx, userID, plan.FeatureArticles, 4)
	require.NoError(t, err)
	march, err := f.ledger.CurrentPeriod(ctx, userID)
	require.NoError(t, err)

	f.clock.Set(time.Date(2026, 4, 1, 0, 0, 1, 0, time.UTC))

	var reset []uuid.UUID
	f.ledger.OnReset(func(_ context.Context, id uuid.UUID) { reset = append(reset, id) })

	created, err := f.ledger.ResetExpiredPeriods(ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, created)
	assert.Equal(t, []uuid.UUID{userID}, reset)

	created, err = f.ledger.ResetExpiredPeriods(ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Zero(t, created)

	april, err := f.ledger.CurrentPeriod(ctx, userID)
	require.NoError(t, err)
	assert.NotEqual(t, march.ID, april.ID)
	assert.Zero(t, april.ArticlesGenerated)
	assert.Equal(t, march.SubscriptionID, april.SubscriptionID)
	assert.True(t, april.PeriodEnd.After(f.clock.Now()))

	// The March counters are untouched.
	for _, p := range f.repo.Periods(userID) {
		if p.ID == march.ID {
			assert.Equal(t, int64(4), p.ArticlesGenerated)
		}
	}
}

func TestRollover_LazyWithoutJob(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	userID := f.user(t, plan.TierFree)

	_, err := f.ledger.Increment(ctx, userID, plan.FeatureResearch, 2)
	require.NoError(t, err)

	f.clock.Set(time.Date(2026, 5, 3, 9, 0, 0, 0, time.UTC))
	p, err := f.ledger.CurrentPeriod(ctx, userID)
	require.NoError(t, err)
	assert.Zero(t, p.ResearchQueries)
	assert.Equal(t, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), p.PeriodStart)
}

func TestPlanChangeStartsNewWindow(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	userID := f.user(t, plan.TierFree)

	_, err := f.ledger.Increment(ctx, userID, plan.FeatureArticles, 10)
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	_, err = f.subs.ApplyPlanChange(ctx, userID, plan.TierPro, subscription.ProviderLinks{})
	require.NoError(t, err)

	p, err := f.ledger.CurrentPeriod(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now(), p.PeriodStart)
	assert.Zero(t, p.ArticlesGenerated)
	assert.Len(t, f.repo.Periods(userID), 2)
}

func TestStats(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	userID := f.user(t, plan.TierPro)

	_, err := f.ledger.Increment(ctx, userID, plan.FeatureArticles, 7)
	require.NoError(t, err)

	report, err := f.ledger.Stats(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, plan.TierPro, report.Plan)
	assert.Equal(t, usage.FeatureUsage{Used: 7, Limit: 100, Remaining: 93}, report.Features[plan.FeatureArticles])
	assert.Equal(t, usage.FeatureUsage{Used: 0, Limit: plan.Unlimited, Remaining: plan.Unlimited}, report.Features[plan.FeatureResearch])
}

func TestWindow(t *testing.T) {
	now := time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)
	changed := time.Date(2026, 3, 10, 8, 30, 15, 999, time.UTC)
	lastMonth := time.Date(2026, 2, 27, 0, 0, 0, 0, time.UTC)

	start, end := usage.Window(&subscription.Subscription{PlanChangedAt: &changed}, now)
	assert.Equal(t, changed.Truncate(time.Second), start)
	assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), end)

	start, _ = usage.Window(&subscription.Subscription{PlanChangedAt: &lastMonth}, now)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), start)
}
