package webhook

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/inkwell/server/internal/shared/clock"
	"github.com/inkwell/server/internal/utils/metrics"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// Processor logs a delivery, reconciles it once, and records the outcome.
type Processor struct {
	repo        Repository
	reconcilers map[string]Reconciler
	clock       clock.Clock
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// NewProcessor creates a processor. reconcilers is keyed by provider name.
func NewProcessor(repo Repository, reconcilers map[string]Reconciler, clk clock.Clock, m *metrics.Metrics, logger *zap.Logger) *Processor {
	return &Processor{
		repo:        repo,
		reconcilers: reconcilers,
		clock:       clk,
		metrics:     m,
		logger:      logger,
	}
}

// Process handles one verified envelope. A failing event log does not block
// reconciliation since every effect is idempotent on its own.
func (p *Processor) Process(ctx context.Context, env Envelope) (Outcome, error) {
	rec, ok := p.reconcilers[env.Provider]
	if !ok {
		return Outcome{}, fmt.Errorf("no reconciler for provider %q", env.Provider)
	}

	logged := true
	claimed, err := p.repo.Claim(ctx, &Event{
		ID:         uuid.New(),
		Provider:   env.Provider,
		EventID:    env.EventID,
		EventType:  env.EventType,
		Payload:    datatypes.JSON(env.Payload),
		ReceivedAt: p.clock.Now(),
	})
	if err != nil {
		logged = false
		p.logger.Warn("webhook event log unavailable",
			zap.String("provider", env.Provider),
			zap.String("event_id", env.EventID),
			zap.Error(err),
		)
	} else if !claimed {
		p.logger.Info("duplicate webhook event skipped",
			zap.String("provider", env.Provider),
			zap.String("event_id", env.EventID),
		)
		out := skipped(ReasonDuplicateEvent)
		p.metrics.RecordWebhookEvent(env.Provider, env.EventType, out.Label())
		return out, nil
	}

	out, procErr := rec.Reconcile(ctx, env)

	if logged {
		if err := p.repo.MarkProcessed(ctx, env.Provider, env.EventID, out, procErr, p.clock.Now()); err != nil {
			p.logger.Error("failed to mark webhook event processed",
				zap.String("event_id", env.EventID),
				zap.Error(err),
			)
		}
	}

	if procErr != nil {
		p.metrics.RecordWebhookEvent(env.Provider, env.EventType, "error")
		return out, procErr
	}
	p.metrics.RecordWebhookEvent(env.Provider, env.EventType, out.Label())
	p.logger.Info("webhook event reconciled",
		zap.String("provider", env.Provider),
		zap.String("event_id", env.EventID),
		zap.String("type", env.EventType),
		zap.Bool("processed", out.Processed),
		zap.String("action", out.Action),
		zap.String("reason", out.Reason),
	)
	return out, nil
}
