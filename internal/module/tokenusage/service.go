package tokenusage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/inkwell/server/internal/shared/clock"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// Entry is a token usage submission.
type Entry struct {
	Action     string
	Provider   string
	Source     string
	TokensUsed int64
	Metadata   map[string]any
}

// Service records and summarizes token usage.
type Service struct {
	repo   Repository
	clock  clock.Clock
	logger *zap.Logger
}

// NewService creates a token usage service.
func NewService(repo Repository, clk clock.Clock, logger *zap.Logger) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	return &Service{repo: repo, clock: clk, logger: logger}
}

// Record appends an entry to the user's log.
func (s *Service) Record(ctx context.Context, userID uuid.UUID, e Entry) (*Record, error) {
	if strings.TrimSpace(e.Action) == "" {
		return nil, ErrMissingAction
	}
	if e.TokensUsed < 0 {
		return nil, ErrInvalidTokens
	}
	if e.Source == "" {
		e.Source = SourcePlatform
	}

	var meta datatypes.JSON
	if len(e.Metadata) > 0 {
		raw, err := json.Marshal(e.Metadata)
		if err != nil {
			return nil, fmt.Errorf("marshal token usage metadata: %w", err)
		}
		meta = datatypes.JSON(raw)
	}

	rec := &Record{
		ID:         uuid.New(),
		UserID:     userID,
		Action:     e.Action,
		Provider:   e.Provider,
		TokensUsed: e.TokensUsed,
		Source:     e.Source,
		Metadata:   meta,
		CreatedAt:  s.clock.Now(),
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		s.logger.Error("failed to record token usage",
			zap.String("user_id", userID.String()),
			zap.String("action", e.Action),
			zap.Error(err),
		)
		return nil, err
	}
	return rec, nil
}

// MonthlyTotal returns the tokens used in the current UTC month.
func (s *Service) MonthlyTotal(ctx context.Context, userID uuid.UUID) (int64, error) {
	now := s.clock.Now()
	return s.repo.Sum(ctx, userID, clock.MonthStart(now), clock.NextMonthStart(now))
}

// Stats summarizes usage in [start, end). Zero bounds default to the
// current UTC month.
func (s *Service) Stats(ctx context.Context, userID uuid.UUID, start, end time.Time) (*Stats, error) {
	now := s.clock.Now()
	if start.IsZero() {
		start = clock.MonthStart(now)
	}
	if end.IsZero() {
		end = clock.NextMonthStart(now)
	}
	if !end.After(start) {
		return nil, ErrInvalidRange
	}

	stats := &Stats{}
	stats.Period.Start = start
	stats.Period.End = end

	var err error
	if stats.ByAction, err = s.repo.Group(ctx, userID, "action", start, end); err != nil {
		return nil, err
	}
	if stats.ByProvider, err = s.repo.Group(ctx, userID, "provider", start, end); err != nil {
		return nil, err
	}
	if stats.BySource, err = s.repo.Group(ctx, userID, "source", start, end); err != nil {
		return nil, err
	}
	for _, b := range stats.ByAction {
		stats.TotalTokens += b.Tokens
		stats.TotalOperations += b.Count
	}
	return stats, nil
}
