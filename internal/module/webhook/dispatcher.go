package webhook

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/inkwell/server/internal/utils/metrics"
	"go.uber.org/zap"
)

// Job is a unit of webhook work run after the delivery was acknowledged.
type Job struct {
	Provider  string
	EventType string
	Run       func(ctx context.Context) error
}

// Dispatcher runs jobs on a bounded queue drained by a fixed worker pool.
type Dispatcher struct {
	queue   chan Job
	timeout time.Duration
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu       sync.RWMutex
	stopped  bool
	workers  sync.WaitGroup
	overflow sync.WaitGroup
}

// NewDispatcher starts workers goroutines over a queue of queueSize jobs.
func NewDispatcher(workers, queueSize int, timeout time.Duration, logger *zap.Logger, m *metrics.Metrics) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	d := &Dispatcher{
		queue:   make(chan Job, queueSize),
		timeout: timeout,
		logger:  logger,
		metrics: m,
	}
	for i := 0; i < workers; i++ {
		d.workers.Add(1)
		go func() {
			defer d.workers.Done()
			for job := range d.queue {
				d.run(job)
			}
		}()
	}
	return d
}

// Submit queues a job. A full queue spills into a tracked goroutine so
// acknowledged deliveries are never dropped.
func (d *Dispatcher) Submit(job Job) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return ErrQueueStopped
	}

	select {
	case d.queue <- job:
	default:
		d.logger.Warn("webhook queue full, running job inline",
			zap.String("provider", job.Provider),
			zap.String("type", job.EventType),
		)
		d.overflow.Add(1)
		go func() {
			defer d.overflow.Done()
			d.run(job)
		}()
	}
	return nil
}

// Stop refuses new jobs, drains the queue and waits for running jobs.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	close(d.queue)
	d.mu.Unlock()

	d.workers.Wait()
	d.overflow.Wait()
}

func (d *Dispatcher) run(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("webhook job panicked",
				zap.String("provider", job.Provider),
				zap.String("type", job.EventType),
				zap.String("panic", fmt.Sprint(rec)),
			)
			d.metrics.RecordWebhookEvent(job.Provider, job.EventType, "panic")
		}
	}()

	if err := job.Run(ctx); err != nil {
		d.logger.Error("webhook job failed",
			zap.String("provider", job.Provider),
			zap.String("type", job.EventType),
			zap.Error(err),
		)
	}
}
