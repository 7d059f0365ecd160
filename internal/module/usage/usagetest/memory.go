// Package usagetest provides an in-memory usage.Repository whose
// conditional increment matches the SQL implementation.
package usagetest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/inkwell/server/internal/module/plan"
	"github.com/inkwell/server/internal/module/usage"
)

type key struct {
	user  uuid.UUID
	start int64
}

// Repository is a thread-safe in-memory usage store.
type Repository struct {
	mu   sync.Mutex
	rows map[key]*usage.Period
}

var _ usage.Repository = (*Repository)(nil)

func NewRepository() *Repository {
	return &Repository{rows: make(map[key]*usage.Period)}
}

func keyOf(userID uuid.UUID, start time.Time) key {
	return key{user: userID, start: start.UnixNano()}
}

// Periods returns copies of all of a user's windows.
func (r *Repository) Periods(userID uuid.UUID) []usage.Period {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []usage.Period
	for k, p := range r.rows {
		if k.user == userID {
			out = append(out, *p)
		}
	}
	return out
}

func (r *Repository) FindByStart(_ context.Context, userID uuid.UUID, start time.Time) (*usage.Period, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.rows[keyOf(userID, start)]
	if !ok {
		return nil, usage.ErrPeriodNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *Repository) CreateIfAbsent(_ context.Context, p *usage.Period) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := keyOf(p.UserID, p.PeriodStart)
	if _, exists := r.rows[k]; exists {
		return false, nil
	}
	cp := *p
	r.rows[k] = &cp
	return true, nil
}

func (r *Repository) Increment(_ context.Context, periodID uuid.UUID, feature plan.Feature, amount, limit int64) (bool, error) {
	if _, ok := usage.Column(feature); !ok {
		return false, usage.ErrUnknownFeature
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.rows {
		if p.ID != periodID {
			continue
		}
		if limit != plan.Unlimited && p.Used(feature)+amount > limit {
			return false, nil
		}
		p.Add(feature, amount)
		return true, nil
	}
	return false, nil
}

func (r *Repository) ListLapsed(_ context.Context, cutoff time.Time) ([]usage.Lapsed, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	latest := make(map[uuid.UUID]*usage.Period)
	for _, p := range r.rows {
		if cur, ok := latest[p.UserID]; !ok || p.PeriodStart.After(cur.PeriodStart) {
			latest[p.UserID] = p
		}
	}
	var out []usage.Lapsed
	for _, p := range latest {
		if !p.PeriodEnd.After(cutoff) {
			out = append(out, usage.Lapsed{UserID: p.UserID, SubscriptionID: p.SubscriptionID})
		}
	}
	return out, nil
}
