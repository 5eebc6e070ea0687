package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"meldeboks/internal/platform/alert"
)

// Runner is the in-process scheduler: a bounded channel drained by a worker
// pool. Each job is retried with exponential backoff; when attempts are
// exhausted the job is dropped and an ops alert is raised instead of crashing
// the worker. Durability, when needed, comes from PostgresQueue feeding the
// same registry.
type Runner struct {
	registry    *Registry
	queue       chan Job
	log         *slog.Logger
	notifier    alert.Notifier
	metrics     *Metrics
	workers     int
	maxAttempts int
	retryBase   time.Duration
	pending     atomic.Int64
	done        chan struct{}
	stopOnce    sync.Once
}

func NewRunner(registry *Registry, log *slog.Logger, notifier alert.Notifier, workers, maxAttempts int) *Runner {
	if workers < 1 {
		workers = 1
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Runner{
		registry:    registry,
		queue:       make(chan Job, 1024),
		log:         log,
		notifier:    notifier,
		metrics:     sharedMetrics,
		workers:     workers,
		maxAttempts: maxAttempts,
		retryBase:   time.Second,
		done:        make(chan struct{}),
	}
}

// Create accepts a job. Scheduled jobs are held back on a timer; the queue
// depth counts them as pending so back-pressure sees scheduled work too.
func (r *Runner) Create(ctx context.Context, job Job, state State) (uuid.UUID, error) {
	if _, ok := r.registry.Lookup(job.Type); !ok {
		return uuid.Nil, fmt.Errorf("no handler registered for job type %q", job.Type)
	}
	r.pending.Add(1)
	if state.Delay <= 0 {
		select {
		case r.queue <- job:
		case <-ctx.Done():
			r.pending.Add(-1)
			return uuid.Nil, ctx.Err()
		}
		return job.ID, nil
	}
	time.AfterFunc(state.Delay, func() {
		// The runner may have stopped while the timer ran; a bare send
		// on a full queue would then block this goroutine forever.
		select {
		case r.queue <- job:
		case <-r.done:
			r.pending.Add(-1)
		}
	})
	return job.ID, nil
}

// Depth reports jobs accepted but not yet finished.
func (r *Runner) Depth(context.Context) (int, error) {
	return int(r.pending.Load()), nil
}

// Run blocks draining the queue with the worker pool until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	defer r.stopOnce.Do(func() { close(r.done) })
	g, ctx := errgroup.WithContext(ctx)
	for range r.workers {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case job := <-r.queue:
					r.process(ctx, job)
				}
			}
		})
	}
	return g.Wait()
}

func (r *Runner) process(ctx context.Context, job Job) {
	defer r.pending.Add(-1)

	handler, ok := r.registry.Lookup(job.Type)
	if !ok {
		// Registration is checked in Create; this covers jobs drained
		// from a durable queue written by an older deployment.
		r.log.Error("no handler for job", "job_type", job.Type, "job_id", job.ID)
		return
	}

	start := time.Now()
	backoff := retry.WithMaxRetries(uint64(r.maxAttempts-1), retry.NewExponential(r.retryBase))
	attempts := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		if err := handler(ctx, job.Payload); err != nil {
			r.metrics.retries.WithLabelValues(job.Type).Inc()
			return retry.RetryableError(err)
		}
		return nil
	})
	r.metrics.duration.WithLabelValues(job.Type).Observe(time.Since(start).Seconds())

	if err != nil {
		r.metrics.failures.WithLabelValues(job.Type).Inc()
		r.log.Error("job failed after retries",
			"job_type", job.Type, "job_id", job.ID, "attempts", attempts, "error", err)
		if alertErr := r.notifier.Notify(ctx,
			fmt.Sprintf("job %s exhausted retries", job.Type),
			fmt.Sprintf("job %s failed %d times: %v", job.ID, attempts, err),
		); alertErr != nil {
			r.log.Warn("ops alert failed", "error", alertErr)
		}
		return
	}
	r.metrics.completed.WithLabelValues(job.Type).Inc()
}
