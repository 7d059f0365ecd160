package auth

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/inkwell/server/internal/shared/clock"
	"go.uber.org/zap"
)

// Service manages platform API keys.
type Service struct {
	keys   APIKeyRepository
	clock  clock.Clock
	logger *zap.Logger
}

// NewService creates an API key service.
func NewService(keys APIKeyRepository, clk clock.Clock, logger *zap.Logger) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	return &Service{keys: keys, clock: clk, logger: logger}
}

// CreatedAPIKey is a freshly issued key. Key is only ever returned here.
type CreatedAPIKey struct {
	*APIKey
	Key string `json:"key"`
}

// CreateAPIKey issues a key for the user.
func (s *Service) CreateAPIKey(ctx context.Context, userID uuid.UUID, name string) (*CreatedAPIKey, error) {
	n, err := s.keys.CountActiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if n >= MaxAPIKeysPerUser {
		return nil, ErrTooManyAPIKeys
	}

	raw, hash, prefix, err := GenerateAPIKey()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(name) == "" {
		name = "Platform key"
	}
	key := &APIKey{
		ID:        uuid.New(),
		UserID:    userID,
		Name:      name,
		KeyHash:   hash,
		KeyPrefix: prefix,
		IsActive:  true,
	}
	if err := s.keys.Create(ctx, key); err != nil {
		return nil, err
	}

	s.logger.Info("api key created",
		zap.String("user_id", userID.String()),
		zap.String("key_prefix", prefix),
	)
	return &CreatedAPIKey{APIKey: key, Key: raw}, nil
}

// ListAPIKeys returns the user's keys without secrets.
func (s *Service) ListAPIKeys(ctx context.Context, userID uuid.UUID) ([]*APIKey, error) {
	return s.keys.ListByUser(ctx, userID)
}

// RevokeAPIKey deactivates one of the user's keys.
func (s *Service) RevokeAPIKey(ctx context.Context, userID, id uuid.UUID) error {
	return s.keys.Deactivate(ctx, id, userID)
}

// ResolveAPIKey implements middleware.APIKeyResolver.
func (s *Service) ResolveAPIKey(ctx context.Context, key string) (uuid.UUID, error) {
	if !IsValidAPIKeyFormat(key) {
		return uuid.Nil, ErrInvalidAPIKey
	}

	found, err := s.keys.GetByHash(ctx, HashAPIKey(key))
	if err != nil {
		return uuid.Nil, err
	}
	if !found.IsActive {
		return uuid.Nil, ErrAPIKeyInactive
	}

	if err := s.keys.UpdateLastUsed(ctx, found.ID, s.clock.Now()); err != nil {
		s.logger.Warn("failed to update api key last used", zap.String("key_id", found.ID.String()), zap.Error(err))
	}
	return found.UserID, nil
}
