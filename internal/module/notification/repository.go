package notification

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository stores notifications.
type Repository interface {
	// Claim inserts r unless its dedup key exists. It reports whether the
	// row was inserted.
	Claim(ctx context.Context, r *Record) (bool, error)
	ListUnread(ctx context.Context, userID uuid.UUID, limit int) ([]Record, error)
	MarkRead(ctx context.Context, id, userID uuid.UUID) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a GORM-backed repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Claim(ctx context.Context, rec *Record) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "user_id"}, {Name: "feature"}, {Name: "threshold"}, {Name: "period_key"},
			},
			DoNothing: true,
		}).
		Create(rec)
	if result.Error != nil {
		return false, fmt.Errorf("claim notification: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) ListUnread(ctx context.Context, userID uuid.UUID, limit int) ([]Record, error) {
	var out []Record
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND read = ?", userID, false).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list unread notifications: %w", err)
	}
	return out, nil
}

func (r *repository) MarkRead(ctx context.Context, id, userID uuid.UUID) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&Record{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("read", true)
	if result.Error != nil {
		return false, fmt.Errorf("mark notification read: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}
