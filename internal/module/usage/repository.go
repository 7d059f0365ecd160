package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/inkwell/server/internal/module/plan"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository is the usage period store.
type Repository interface {
	FindByStart(ctx context.Context, userID uuid.UUID, start time.Time) (*Period, error)
	// CreateIfAbsent inserts p unless (user_id, period_start) exists.
	CreateIfAbsent(ctx context.Context, p *Period) (bool, error)
	// Increment adds amount to the feature counter. With a limit other than
	// plan.Unlimited the write only happens if the result stays within it.
	Increment(ctx context.Context, periodID uuid.UUID, feature plan.Feature, amount, limit int64) (bool, error)
	// ListLapsed returns users whose latest window ended at or before cutoff.
	ListLapsed(ctx context.Context, cutoff time.Time) ([]Lapsed, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a GORM-backed repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) FindByStart(ctx context.Context, userID uuid.UUID, start time.Time) (*Period, error) {
	var p Period
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND period_start = ?", userID, start).
		First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPeriodNotFound
		}
		return nil, fmt.Errorf("get usage period: %w", err)
	}
	return &p, nil
}

func (r *repository) CreateIfAbsent(ctx context.Context, p *Period) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "period_start"}},
			DoNothing: true,
		}).
		Create(p)
	if result.Error != nil {
		return false, fmt.Errorf("create usage period: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) Increment(ctx context.Context, periodID uuid.UUID, feature plan.Feature, amount, limit int64) (bool, error) {
	col, ok := Column(feature)
	if !ok {
		return false, ErrUnknownFeature
	}

	q := r.db.WithContext(ctx).Model(&Period{}).Where("id = ?", periodID)
	if limit != plan.Unlimited {
		q = q.Where(col+" + ? <= ?", amount, limit)
	}
	result := q.Update(col, gorm.Expr(col+" + ?", amount))
	if result.Error != nil {
		return false, fmt.Errorf("increment usage: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) ListLapsed(ctx context.Context, cutoff time.Time) ([]Lapsed, error) {
	var rows []Lapsed
	err := r.db.WithContext(ctx).Raw(`
		SELECT user_id, subscription_id FROM (
			SELECT DISTINCT ON (user_id) user_id, subscription_id, period_end
			FROM usage_periods
			ORDER BY user_id, period_start DESC
		) latest
		WHERE period_end <= ?`, cutoff).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list lapsed usage periods: %w", err)
	}
	return rows, nil
}
