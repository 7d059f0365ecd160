package auth

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/inkwell/server/internal/shared/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockAPIKeyRepository struct {
	mock.Mock
}

func (m *MockAPIKeyRepository) Create(ctx context.Context, key *APIKey) error {
	return m.Called(ctx, key).Error(0)
}

func (m *MockAPIKeyRepository) GetByHash(ctx context.Context, keyHash string) (*APIKey, error) {
	args := m.Called(ctx, keyHash)
	if k := args.Get(0); k != nil {
		return k.(*APIKey), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAPIKeyRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*APIKey, error) {
	args := m.Called(ctx, userID)
	if k := args.Get(0); k != nil {
		return k.([]*APIKey), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAPIKeyRepository) CountActiveByUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockAPIKeyRepository) UpdateLastUsed(ctx context.Context, id uuid.UUID, at time.Time) error {
	return m.Called(ctx, id, at).Error(0)
}

func (m *MockAPIKeyRepository) Deactivate(ctx context.Context, id, userID uuid.UUID) error {
	return m.Called(ctx, id, userID).Error(0)
}

var now = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func newTestService(repo APIKeyRepository) *Service {
	return NewService(repo, clock.NewFixed(now), zap.NewNop())
}

func TestService_CreateAndResolve(t *testing.T) {
	repo := new(MockAPIKeyRepository)
	svc := newTestService(repo)
	userID := uuid.New()

	var stored *APIKey
	repo.On("CountActiveByUser", mock.Anything, userID).Return(int64(2), nil)
	repo.On("Create", mock.Anything, mock.AnythingOfType("*auth.APIKey")).
		Run(func(args mock.Arguments) { stored = args.Get(1).(*APIKey) }).
		Return(nil)

	created, err := svc.CreateAPIKey(context.Background(), userID, "")
	require.NoError(t, err)
	assert.Equal(t, "Platform key", created.Name)
	assert.True(t, IsValidAPIKeyFormat(created.Key))
	assert.Equal(t, HashAPIKey(created.Key), stored.KeyHash)
	assert.NotContains(t, stored.KeyHash, created.Key)

	repo.On("GetByHash", mock.Anything, stored.KeyHash).Return(stored, nil)
	repo.On("UpdateLastUsed", mock.Anything, stored.ID, now).Return(nil)

	got, err := svc.ResolveAPIKey(context.Background(), created.Key)
	require.NoError(t, err)
	assert.Equal(t, userID, got)
	repo.AssertExpectations(t)
}

func TestService_CreateLimit(t *testing.T) {
	repo := new(MockAPIKeyRepository)
	userID := uuid.New()
	repo.On("CountActiveByUser", mock.Anything, userID).Return(int64(MaxAPIKeysPerUser), nil)

	_, err := newTestService(repo).CreateAPIKey(context.Background(), userID, "site")
	assert.ErrorIs(t, err, ErrTooManyAPIKeys)
	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestService_ResolveRejects(t *testing.T) {
	key, hash, _, err := GenerateAPIKey()
	require.NoError(t, err)

	t.Run("malformed", func(t *testing.T) {
		repo := new(MockAPIKeyRepository)
		_, err := newTestService(repo).ResolveAPIKey(context.Background(), "pk-short")
		assert.ErrorIs(t, err, ErrInvalidAPIKey)
		repo.AssertNotCalled(t, "GetByHash", mock.Anything, mock.Anything)
	})

	t.Run("unknown", func(t *testing.T) {
		repo := new(MockAPIKeyRepository)
		repo.On("GetByHash", mock.Anything, hash).Return(nil, ErrAPIKeyNotFound)
		_, err := newTestService(repo).ResolveAPIKey(context.Background(), key)
		assert.ErrorIs(t, err, ErrAPIKeyNotFound)
	})

	t.Run("inactive", func(t *testing.T) {
		repo := new(MockAPIKeyRepository)
		repo.On("GetByHash", mock.Anything, hash).Return(&APIKey{ID: uuid.New(), UserID: uuid.New()}, nil)
		_, err := newTestService(repo).ResolveAPIKey(context.Background(), key)
		assert.ErrorIs(t, err, ErrAPIKeyInactive)
		repo.AssertNotCalled(t, "UpdateLastUsed", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestService_ResolveIgnoresTouchFailure(t *testing.T) {
	key, hash, _, err := GenerateAPIKey()
	require.NoError(t, err)
	userID := uuid.New()
	found := &APIKey{ID: uuid.New(), UserID: userID, IsActive: true}

	repo := new(MockAPIKeyRepository)
	repo.On("GetByHash", mock.Anything, hash).Return(found, nil)
	repo.On("UpdateLastUsed", mock.Anything, found.ID, now).Return(assert.AnError)

	got, err := newTestService(repo).ResolveAPIKey(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, userID, got)
}
