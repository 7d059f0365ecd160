package notification

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/inkwell/server/internal/module/plan"
	"github.com/inkwell/server/internal/module/subscription"
	"github.com/inkwell/server/internal/module/user"
	"github.com/inkwell/server/internal/shared/clock"
	"github.com/inkwell/server/internal/utils/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memoryRepo struct {
	mu   sync.Mutex
	rows []Record
	err  error
}

func (r *memoryRepo) Claim(_ context.Context, rec *Record) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return false, r.err
	}
	for _, row := range r.rows {
		if row.UserID == rec.UserID && row.Feature == rec.Feature &&
			row.Threshold == rec.Threshold && row.PeriodKey == rec.PeriodKey {
			return false, nil
		}
	}
	r.rows = append(r.rows, *rec)
	return true, nil
}

func (r *memoryRepo) ListUnread(_ context.Context, userID uuid.UUID, limit int) ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Record
	for _, row := range r.rows {
		if row.UserID == userID && !row.Read {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryRepo) MarkRead(_ context.Context, id, userID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.rows {
		if r.rows[i].ID == id && r.rows[i].UserID == userID {
			r.rows[i].Read = true
			return true, nil
		}
	}
	return false, nil
}

type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(ctx context.Context, msg Message) error {
	return m.Called(ctx, msg).Error(0)
}

type users map[uuid.UUID]*user.User

func (u users) GetByID(_ context.Context, id uuid.UUID) (*user.User, error) {
	if found, ok := u[id]; ok {
		return found, nil
	}
	return nil, user.ErrUserNotFound
}

type proPlan struct{}

func (proPlan) EffectivePlan(context.Context, uuid.UUID) (*subscription.Subscription, plan.Plan, error) {
	return &subscription.Subscription{}, plan.NewCatalog(plan.ProviderIDs{}).Plan(plan.TierPro), nil
}

type fixture struct {
	gate   *Gate
	repo   *memoryRepo
	sender *MockSender
	clock  *clock.Fixed
	userID uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	userID := uuid.New()
	f := &fixture{
		repo:   &memoryRepo{},
		sender: new(MockSender),
		clock:  clock.NewFixed(time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)),
		userID: userID,
	}
	f.gate = NewGate(GateConfig{
		Repo:        f.repo,
		Users:       users{userID: {ID: userID, Email: "ada@example.com", Name: "Ada"}},
		Plans:       proPlan{},
		Sender:      f.sender,
		Cache:       NewLRUSentCache(100, time.Hour),
		Clock:       f.clock,
		Metrics:     metrics.New("test", prometheus.NewRegistry()),
		Logger:      zap.NewNop(),
		FrontendURL: "https://app.example.com",
	})
	return f
}

func TestCheckAndNotify_NoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		usage  int64
		limit  int64
		reason string
	}{
		{"unlimited", 500, plan.Unlimited, ReasonUnlimited},
		{"zero limit", 3, 0, ReasonNoUsage},
		{"zero usage", 0, 10, ReasonNoUsage},
		{"below warning", 7, 10, ReasonBelowThreshold},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.gate.CheckAndNotify(ctx, f.userID, "articles", tt.usage, tt.limit)
			require.NoError(t, err)
			assert.False(t, res.Notified)
			assert.Equal(t, tt.reason, res.Reason)
		})
	}
	f.sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestCheckAndNotify_Suppression(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.sender.On("Send", mock.Anything, mock.MatchedBy(func(m Message) bool {
		return m.To == "ada@example.com"
	})).Return(nil)

	res, err := f.gate.CheckAndNotify(ctx, f.userID, "articles", 8, 10)
	require.NoError(t, err)
	assert.True(t, res.Notified)
	assert.Equal(t, "warning", res.Type)
	assert.Equal(t, 80, res.Percentage)
	assert.True(t, res.EmailSent)

	res, err = f.gate.CheckAndNotify(ctx, f.userID, "articles", 9, 10)
	require.NoError(t, err)
	assert.False(t, res.Notified)
	assert.Equal(t, ReasonAlreadySent, res.Reason)

	res, err = f.gate.CheckAndNotify(ctx, f.userID, "articles", 10, 10)
	require.NoError(t, err)
	assert.True(t, res.Notified)
	assert.Equal(t, "exceeded", res.Type)
	assert.Equal(t, ThresholdExceeded, res.Threshold)

	res, err = f.gate.CheckAndNotify(ctx, f.userID, "articles", 10, 10)
	require.NoError(t, err)
	assert.False(t, res.Notified)

	f.sender.AssertNumberOfCalls(t, "Send", 2)
	assert.Len(t, f.repo.rows, 2)
}

func TestCheckAndNotify_StoreIsAuthoritativeAcrossProcesses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.sender.On("Send", mock.Anything, mock.Anything).Return(nil)

	_, err := f.gate.CheckAndNotify(ctx, f.userID, "images", 20, 25)
	require.NoError(t, err)

	// A second gate with a cold cache sharing the store.
	other := &Gate{
		repo:        f.gate.repo,
		users:       f.gate.users,
		plans:       f.gate.plans,
		sender:      f.gate.sender,
		cache:       NewLRUSentCache(100, time.Hour),
		clock:       f.gate.clock,
		metrics:     f.gate.metrics,
		logger:      f.gate.logger,
		frontendURL: f.gate.frontendURL,
		sendTimeout: f.gate.sendTimeout,
	}
	res, err := other.CheckAndNotify(ctx, f.userID, "images", 21, 25)
	require.NoError(t, err)
	assert.False(t, res.Notified)
	f.sender.AssertNumberOfCalls(t, "Send", 1)
}

func TestCheckAndNotify_NewMonthNotifiesAgain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.sender.On("Send", mock.Anything, mock.Anything).Return(nil)

	_, err := f.gate.CheckAndNotify(ctx, f.userID, "research", 16, 20)
	require.NoError(t, err)

	f.clock.Set(time.Date(2026, 4, 20, 0, 0, 0, 0, time.UTC))
	res, err := f.gate.CheckAndNotify(ctx, f.userID, "research", 17, 20)
	require.NoError(t, err)
	assert.True(t, res.Notified)
}

func TestCheckAndNotify_StoreDownFallsBackToCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.repo.err = errors.New("relation \"notifications\" does not exist")
	f.sender.On("Send", mock.Anything, mock.Anything).Return(nil)

	res, err := f.gate.CheckAndNotify(ctx, f.userID, "articles", 9, 10)
	require.NoError(t, err)
	assert.True(t, res.Notified)

	res, err = f.gate.CheckAndNotify(ctx, f.userID, "articles", 9, 10)
	require.NoError(t, err)
	assert.False(t, res.Notified)
	f.sender.AssertNumberOfCalls(t, "Send", 1)
}

func TestCheckAndNotify_SendFailureKeepsClaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.sender.On("Send", mock.Anything, mock.Anything).Return(errors.New("smtp: connection refused"))

	res, err := f.gate.CheckAndNotify(ctx, f.userID, "articles", 10, 10)
	require.NoError(t, err)
	assert.True(t, res.Notified)
	assert.False(t, res.EmailSent)

	res, err = f.gate.CheckAndNotify(ctx, f.userID, "articles", 10, 10)
	require.NoError(t, err)
	assert.False(t, res.Notified)
}

func TestCheckAndNotify_UnknownUser(t *testing.T) {
	f := newFixture(t)

	res, err := f.gate.CheckAndNotify(context.Background(), uuid.New(), "articles", 10, 10)
	require.NoError(t, err)
	assert.False(t, res.Notified)
	assert.Equal(t, ReasonUserNotFound, res.Reason)
	assert.Empty(t, f.repo.rows)
}

func TestNotifyReset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.sender.On("Send", mock.Anything, mock.MatchedBy(func(m Message) bool {
		return m.Subject == "Your Monthly Quota Has Been Reset"
	})).Return(nil)

	res, err := f.gate.NotifyReset(ctx, f.userID)
	require.NoError(t, err)
	assert.True(t, res.Notified)

	res, err = f.gate.NotifyReset(ctx, f.userID)
	require.NoError(t, err)
	assert.False(t, res.Notified)

	require.Len(t, f.repo.rows, 1)
	assert.Equal(t, TypeQuotaReset, f.repo.rows[0].Type)
	assert.Contains(t, f.repo.rows[0].Message, "Pro plan")
}

func TestListAndMarkRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.sender.On("Send", mock.Anything, mock.Anything).Return(nil)

	_, err := f.gate.CheckAndNotify(ctx, f.userID, "articles", 8, 10)
	require.NoError(t, err)

	unread, err := f.gate.ListUnread(ctx, f.userID, 0)
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, "Quota Warning: articles", unread[0].Title)

	require.NoError(t, f.gate.MarkRead(ctx, unread[0].ID, f.userID))
	assert.ErrorIs(t, f.gate.MarkRead(ctx, unread[0].ID, uuid.New()), ErrNotificationNotFound)

	unread, err = f.gate.ListUnread(ctx, f.userID, 10)
	require.NoError(t, err)
	assert.Empty(t, unread)
}

func TestDedupKey(t *testing.T) {
	id := uuid.MustParse("6f1c4a8e-0000-4000-8000-000000000001")
	assert.Equal(t, "6f1c4a8e-0000-4000-8000-000000000001:articles:0.8:2026-03", DedupKey(id, "articles", 0.8, "2026-03"))
	assert.Equal(t, "6f1c4a8e-0000-4000-8000-000000000001:articles:1:2026-03", DedupKey(id, "articles", 1.0, "2026-03"))
}

func TestNotifyAsync_DoesNotBlockCaller(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	var sendErr error
	f.sender.On("Send", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		<-release
		sendErr = args.Get(0).(context.Context).Err()
	}).Return(nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	f.gate.NotifyAsync(ctx, f.userID, "articles", 8, 10)
	cancel()

	waitCtx, stop := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer stop()
	assert.ErrorIs(t, f.gate.Wait(waitCtx), context.DeadlineExceeded, "send still in flight")

	close(release)
	require.NoError(t, f.gate.Wait(context.Background()))
	assert.NoError(t, sendErr, "request cancellation does not reach the send")
	f.sender.AssertNumberOfCalls(t, "Send", 1)
	require.Len(t, f.repo.rows, 1)
}
