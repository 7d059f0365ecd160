package subscription

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

// Repository is the subscription store. Every mutation is a single
// conditional statement so concurrent writers never lose updates.
type Repository interface {
	FindByUserID(ctx context.Context, userID uuid.UUID) (*Subscription, error)
	FindByStripeSubscriptionID(ctx context.Context, stripeSubID string) (*Subscription, error)
	FindByPayPalSubscriptionID(ctx context.Context, paypalSubID string) (*Subscription, error)
	ForEach(ctx context.Context, fn func(*Subscription) error) error

	// CreateIfAbsent inserts sub unless the user already has a row.
	CreateIfAbsent(ctx context.Context, sub *Subscription) error
	ExpireIfLapsed(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	ApplyPlanChange(ctx context.Context, userID uuid.UUID, change PlanChange) error
	SetCancelAtPeriodEnd(ctx context.Context, userID uuid.UUID, cancel bool) error
	Reactivate(ctx context.Context, userID uuid.UUID, at time.Time) error
	SetPayPalPending(ctx context.Context, userID uuid.UUID, paypalSubID string) error

	// SetStatusAt writes status only if no newer status event has been applied.
	SetStatusAt(ctx context.Context, id uuid.UUID, status Status, cancelAtPeriodEnd *bool, at time.Time) (bool, error)
	// ExtendPeriod moves the period bounds forward, never backward.
	ExtendPeriod(ctx context.Context, id uuid.UUID, start, end time.Time) error
	// SetTier changes the tier if it differs and restarts the usage window.
	SetTier(ctx context.Context, id uuid.UUID, tier plan.Tier, at time.Time) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a GORM-backed repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) first(ctx context.Context, op string, query string, args ...any) (*Subscription, error) {
	var sub Subscription
	err := r.db.WithContext(ctx).Where(query, args...).First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &sub, nil
}

func (r *repository) FindByUserID(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	return r.first(ctx, "get subscription", "user_id = ?", userID)
}

func (r *repository) FindByStripeSubscriptionID(ctx context.Context, stripeSubID string) (*Subscription, error) {
	if stripeSubID == "" {
		return nil, ErrSubscriptionNotFound
	}
	return r.first(ctx, "get subscription by stripe id", "stripe_subscription_id = ?", stripeSubID)
}

func (r *repository) FindByPayPalSubscriptionID(ctx context.Context, paypalSubID string) (*Subscription, error) {
	if paypalSubID == "" {
		return nil, ErrSubscriptionNotFound
	}
	return r.first(ctx, "get subscription by paypal id", "paypal_subscription_id = ?", paypalSubID)
}

func (r *repository) ForEach(ctx context.Context, fn func(*Subscription) error) error {
	var batch []*Subscription
	result := r.db.WithContext(ctx).Order("id").FindInBatches(&batch, 200, func(tx *gorm.DB, _ int) error {
		for _, sub := range batch {
			if err := fn(sub); err != nil {
				return err
			}
		}
		return nil
	})
	if result.Error != nil {
		return fmt.Errorf("iterate subscriptions: %w", result.Error)
	}
	return nil
}

func (r *repository) CreateIfAbsent(ctx context.Context, sub *Subscription) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(sub).Error
	if err != nil {
		return fmt.Errorf("create subscription: %w", err)
	}
	return nil
}

func (r *repository) ExpireIfLapsed(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&Subscription{}).
		Where("id = ? AND status = ? AND current_period_end < ?", id, StatusActive, now).
		Update("status", StatusExpired)
	if result.Error != nil {
		return false, fmt.Errorf("expire subscription: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) ApplyPlanChange(ctx context.Context, userID uuid.UUID, change PlanChange) error {
	cols := change.Links.columns()
	cols["tier"] = change.Tier
	cols["status"] = StatusActive
	cols["current_period_start"] = change.PeriodStart
	cols["current_period_end"] = change.PeriodEnd
	cols["cancel_at_period_end"] = false
	cols["plan_changed_at"] = change.At
	cols["status_event_at"] = change.At

	result := r.db.WithContext(ctx).Model(&Subscription{}).
		Where("user_id = ?", userID).
		Updates(cols)
	if result.Error != nil {
		return fmt.Errorf("apply plan change: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

func (r *repository) SetCancelAtPeriodEnd(ctx context.Context, userID uuid.UUID, cancel bool) error {
	result := r.db.WithContext(ctx).Model(&Subscription{}).
		Where("user_id = ?", userID).
		Update("cancel_at_period_end", cancel)
	if result.Error != nil {
		return fmt.Errorf("set cancel at period end: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

func (r *repository) SetPayPalPending(ctx context.Context, userID uuid.UUID, paypalSubID string) error {
	result := r.db.WithContext(ctx).Model(&Subscription{}).
		Where("user_id = ?", userID).
		Update("paypal_pending_subscription_id", paypalSubID)
	if result.Error != nil {
		return fmt.Errorf("set paypal pending: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

func (r *repository) Reactivate(ctx context.Context, userID uuid.UUID, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&Subscription{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"cancel_at_period_end": false,
			"status":               StatusActive,
			"status_event_at":      at,
		})
	if result.Error != nil {
		return fmt.Errorf("reactivate subscription: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

func (r *repository) SetStatusAt(ctx context.Context, id uuid.UUID, status Status, cancelAtPeriodEnd *bool, at time.Time) (bool, error) {
	cols := map[string]any{
		"status":          status,
		"status_event_at": at,
	}
	if cancelAtPeriodEnd != nil {
		cols["cancel_at_period_end"] = *cancelAtPeriodEnd
	}

	result := r.db.WithContext(ctx).Model(&Subscription{}).
		Where("id = ?", id).
		Where("status_event_at IS NULL OR status_event_at <= ?", at).
		Updates(cols)
	if result.Error != nil {
		return false, fmt.Errorf("set subscription status: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) ExtendPeriod(ctx context.Context, id uuid.UUID, start, end time.Time) error {
	err := r.db.WithContext(ctx).Model(&Subscription{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"current_period_start": gorm.Expr("GREATEST(current_period_start, ?)", start),
			"current_period_end":   gorm.Expr("GREATEST(current_period_end, ?)", end),
		}).Error
	if err != nil {
		return fmt.Errorf("extend subscription period: %w", err)
	}
	return nil
}

func (r *repository) SetTier(ctx context.Context, id uuid.UUID, tier plan.Tier, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&Subscription{}).
		Where("id = ? AND tier <> ?", id, tier).
		Updates(map[string]any{
			"tier":            tier,
			"plan_changed_at": at,
		})
	if result.Error != nil {
		return false, fmt.Errorf("set subscription tier: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}
