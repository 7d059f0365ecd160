package tokenusage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository is the token usage log.
type Repository interface {
	Create(ctx context.Context, r *Record) error
	// Sum returns the tokens used in [from, to).
	Sum(ctx context.Context, userID uuid.UUID, from, to time.Time) (int64, error)
	// Group returns per-key buckets in [from, to). dim is one of
	// "action", "provider" or "source".
	Group(ctx context.Context, userID uuid.UUID, dim string, from, to time.Time) (map[string]Bucket, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a GORM-backed repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, rec *Record) error {
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("create token usage: %w", err)
	}
	return nil
}

func (r *repository) Sum(ctx context.Context, userID uuid.UUID, from, to time.Time) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&Record{}).
		Select("COALESCE(SUM(tokens_used), 0)").
		Where("user_id = ? AND created_at >= ? AND created_at < ?", userID, from, to).
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("sum token usage: %w", err)
	}
	return total, nil
}

var groupColumns = map[string]string{
	"action":   "action",
	"provider": "COALESCE(NULLIF(provider, ''), 'unknown')",
	"source":   "COALESCE(NULLIF(source, ''), 'platform')",
}

func (r *repository) Group(ctx context.Context, userID uuid.UUID, dim string, from, to time.Time) (map[string]Bucket, error) {
	expr, ok := groupColumns[dim]
	if !ok {
		return nil, fmt.Errorf("unknown token usage dimension %q", dim)
	}

	var rows []struct {
		Key    string
		Count  int64
		Tokens int64
	}
	err := r.db.WithContext(ctx).
		Model(&Record{}).
		Select(expr+" AS key, COUNT(*) AS count, COALESCE(SUM(tokens_used), 0) AS tokens").
		Where("user_id = ? AND created_at >= ? AND created_at < ?", userID, from, to).
		Group(expr).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("group token usage by %s: %w", dim, err)
	}

	out := make(map[string]Bucket, len(rows))
	for _, row := range rows {
		out[row.Key] = Bucket{Count: row.Count, Tokens: row.Tokens}
	}
	return out, nil
}
