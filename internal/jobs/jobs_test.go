package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/inkwell/server/internal/module/notification"
	"github.com/inkwell/server/internal/module/plan"
	"github.com/inkwell/server/internal/module/subscription"
	"github.com/inkwell/server/internal/module/usage"
	"github.com/inkwell/server/internal/shared/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var now = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) ResetExpiredPeriods(ctx context.Context, asOf time.Time) (int, error) {
	args := m.Called(ctx, asOf)
	return args.Int(0), args.Error(1)
}

func (m *MockLedger) Stats(ctx context.Context, userID uuid.UUID) (*usage.Report, error) {
	args := m.Called(ctx, userID)
	if r := args.Get(0); r != nil {
		return r.(*usage.Report), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) CheckAndNotify(ctx context.Context, userID uuid.UUID, feature string, used, limit int64) (notification.Result, error) {
	args := m.Called(ctx, userID, feature, used, limit)
	return args.Get(0).(notification.Result), args.Error(1)
}

type stubSubscriptions struct {
	subs  []*subscription.Subscription
	plans map[uuid.UUID]plan.Plan
}

func (s *stubSubscriptions) ForEach(_ context.Context, fn func(*subscription.Subscription) error) error {
	for _, sub := range s.subs {
		if err := fn(sub); err != nil {
			return err
		}
	}
	return nil
}

func (s *stubSubscriptions) EffectivePlan(_ context.Context, userID uuid.UUID) (*subscription.Subscription, plan.Plan, error) {
	return nil, s.plans[userID], nil
}

type stubTokens map[uuid.UUID]int64

func (s stubTokens) MonthlyTotal(_ context.Context, userID uuid.UUID) (int64, error) {
	return s[userID], nil
}

func report(used map[plan.Feature]int64, limit int64) *usage.Report {
	features := make(map[plan.Feature]usage.FeatureUsage)
	for _, f := range plan.Features() {
		features[f] = usage.FeatureUsage{Used: used[f], Limit: limit, Remaining: plan.Remaining(used[f], limit)}
	}
	return &usage.Report{Plan: plan.TierFree, Features: features}
}

func TestNew_InvalidSchedule(t *testing.T) {
	_, err := New(Config{UsageResetSchedule: "every tuesday"})
	assert.Error(t, err)

	s, err := New(Config{UsageResetSchedule: "0 0 1 * *", QuotaSweepSchedule: "0 9 * * *"})
	require.NoError(t, err)
	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}

func TestResetUsage(t *testing.T) {
	ledger := new(MockLedger)
	ledger.On("ResetExpiredPeriods", mock.Anything, now).Return(3, nil)

	s, err := New(Config{Ledger: ledger, Clock: clock.NewFixed(now), Logger: zap.NewNop()})
	require.NoError(t, err)

	n, err := s.ResetUsage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	ledger.AssertExpectations(t)
}

func TestSweepQuotas(t *testing.T) {
	heavy, light, broken := uuid.New(), uuid.New(), uuid.New()
	free := plan.NewCatalog(plan.ProviderIDs{}).Plan(plan.TierFree)

	ledger := new(MockLedger)
	ledger.On("Stats", mock.Anything, heavy).Return(report(map[plan.Feature]int64{plan.FeatureArticles: 9}, 10), nil)
	ledger.On("Stats", mock.Anything, light).Return(report(nil, 10), nil)
	ledger.On("Stats", mock.Anything, broken).Return(nil, errors.New("db down"))

	notifier := new(MockNotifier)
	notifier.On("CheckAndNotify", mock.Anything, heavy, "articles", int64(9), int64(10)).
		Return(notification.Result{Notified: true, Type: "warning"}, nil)
	notifier.On("CheckAndNotify", mock.Anything, heavy, FeatureTokens, free.Limits.MonthlyTokens, free.Limits.MonthlyTokens).
		Return(notification.Result{Notified: true, Type: "exceeded"}, nil)
	notifier.On("CheckAndNotify", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(notification.Result{}, nil)

	subs := &stubSubscriptions{
		subs: []*subscription.Subscription{{UserID: heavy}, {UserID: broken}, {UserID: light}},
		plans: map[uuid.UUID]plan.Plan{
			heavy: free,
			light: free,
		},
	}
	s, err := New(Config{
		Ledger:        ledger,
		Subscriptions: subs,
		Tokens:        stubTokens{heavy: free.Limits.MonthlyTokens},
		Notifier:      notifier,
		Clock:         clock.NewFixed(now),
		Logger:        zap.NewNop(),
	})
	require.NoError(t, err)

	n, err := s.SweepQuotas(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	ledger.AssertExpectations(t)
	notifier.AssertCalled(t, "CheckAndNotify", mock.Anything, light, "images", int64(0), int64(10))
	notifier.AssertNotCalled(t, "CheckAndNotify", mock.Anything, broken, mock.Anything, mock.Anything, mock.Anything)
}

func TestSweepQuotas_StopsOnCancel(t *testing.T) {
	ledger := new(MockLedger)
	subs := &stubSubscriptions{subs: []*subscription.Subscription{{UserID: uuid.New()}}}
	s, err := New(Config{Ledger: ledger, Subscriptions: subs, Notifier: new(MockNotifier), Logger: zap.NewNop()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.SweepQuotas(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	ledger.AssertNotCalled(t, "Stats", mock.Anything, mock.Anything)
}
