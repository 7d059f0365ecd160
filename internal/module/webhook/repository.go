package webhook

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository is the webhook event log.
type Repository interface {
	// Claim records the delivery. It returns false when the event was
	// already logged.
	Claim(ctx context.Context, e *Event) (bool, error)
	MarkProcessed(ctx context.Context, provider, eventID string, outcome Outcome, procErr error, at time.Time) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new webhook event repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Claim(ctx context.Context, e *Event) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "event_id"}},
			DoNothing: true,
		}).
		Create(e)
	if result.Error != nil {
		return false, fmt.Errorf("claim webhook event: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) MarkProcessed(ctx context.Context, provider, eventID string, outcome Outcome, procErr error, at time.Time) error {
	cols := map[string]any{
		"outcome":      outcome.Label(),
		"processed_at": at,
	}
	if procErr != nil {
		cols["error"] = procErr.Error()
		cols["outcome"] = "error"
	}
	err := r.db.WithContext(ctx).Model(&Event{}).
		Where("provider = ? AND event_id = ?", provider, eventID).
		Updates(cols).Error
	if err != nil {
		return fmt.Errorf("mark webhook event processed: %w", err)
	}
	return nil
}
