package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"meldeboks/internal/platform/alert"
	txcontext "meldeboks/pkg/platform/tx"
)

// PostgresQueue is the durable scheduler: Create writes a row, Run claims
// runnable rows with FOR UPDATE SKIP LOCKED so concurrent worker processes
// never double-claim. Retry state (attempts, next run time) lives on the row,
// which is what makes a job survive a process crash mid-flight.
type PostgresQueue struct {
	db          *sql.DB
	registry    *Registry
	log         *slog.Logger
	notifier    alert.Notifier
	maxAttempts int
	pollEvery   time.Duration
	claimSize   int
}

func NewPostgresQueue(db *sql.DB, registry *Registry, log *slog.Logger, notifier alert.Notifier, maxAttempts int) *PostgresQueue {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &PostgresQueue{
		db:          db,
		registry:    registry,
		log:         log,
		notifier:    notifier,
		maxAttempts: maxAttempts,
		pollEvery:   time.Second,
		claimSize:   50,
	}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// execer lets Create join a caller's transaction, so a job row commits or
// rolls back together with the ledger write that triggered it.
func (q *PostgresQueue) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return q.db
}

// Create persists the job. Inserting the same job id twice is a no-op, so
// callers may safely re-create on retry.
func (q *PostgresQueue) Create(ctx context.Context, job Job, state State) (uuid.UUID, error) {
	runAt := time.Now().UTC().Add(state.Delay)
	_, err := q.execer(ctx).ExecContext(ctx, `
		INSERT INTO jobs (id, job_type, payload, created_at, run_at, attempts, status)
		VALUES ($1, $2, $3, $4, $5, 0, 'pending')
		ON CONFLICT (id) DO NOTHING
	`, job.ID, job.Type, []byte(job.Payload), job.CreatedAt, runAt)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert job: %w", err)
	}
	return job.ID, nil
}

// Depth counts jobs not yet finished.
func (q *PostgresQueue) Depth(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM jobs WHERE status = 'pending'
	`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending jobs: %w", err)
	}
	return n, nil
}

// Run polls for runnable jobs until ctx is cancelled.
func (q *PostgresQueue) Run(ctx context.Context) error {
	ticker := time.NewTicker(q.pollEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := q.drainOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				q.log.Error("job queue drain failed", "error", err)
			}
		}
	}
}

func (q *PostgresQueue) drainOnce(ctx context.Context) error {
	for {
		claimed, err := q.claim(ctx)
		if err != nil {
			return err
		}
		if len(claimed) == 0 {
			return nil
		}
		for _, job := range claimed {
			q.execute(ctx, job)
		}
	}
}

type claimedJob struct {
	Job
	attempts int
}

func (q *PostgresQueue) claim(ctx context.Context) ([]claimedJob, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, job_type, payload, created_at, attempts
		FROM jobs
		WHERE status = 'pending' AND run_at <= now()
		ORDER BY run_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, q.claimSize)
	if err != nil {
		return nil, fmt.Errorf("select runnable jobs: %w", err)
	}
	defer rows.Close()

	var claimed []claimedJob
	for rows.Next() {
		var j claimedJob
		if err := rows.Scan(&j.ID, &j.Type, (*[]byte)(&j.Payload), &j.CreatedAt, &j.attempts); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		claimed = append(claimed, j)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(claimed) == 0 {
		return nil, tx.Commit()
	}

	ids := make([]uuid.UUID, 0, len(claimed))
	for _, j := range claimed {
		ids = append(ids, j.ID)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE jobs SET status = 'running' WHERE id = ANY($1)
	`, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("mark jobs running: %w", err)
	}
	return claimed, tx.Commit()
}

func (q *PostgresQueue) execute(ctx context.Context, job claimedJob) {
	handler, ok := q.registry.Lookup(job.Type)
	if !ok {
		q.log.Error("no handler for durable job", "job_type", job.Type, "job_id", job.ID)
		q.finish(ctx, job.ID, "parked")
		return
	}

	start := time.Now()
	err := handler(ctx, job.Payload)
	sharedMetrics.duration.WithLabelValues(job.Type).Observe(time.Since(start).Seconds())
	if err == nil {
		sharedMetrics.completed.WithLabelValues(job.Type).Inc()
		q.finish(ctx, job.ID, "done")
		return
	}

	sharedMetrics.retries.WithLabelValues(job.Type).Inc()
	attempts := job.attempts + 1
	if attempts >= q.maxAttempts {
		sharedMetrics.failures.WithLabelValues(job.Type).Inc()
		q.log.Error("durable job parked after retries",
			"job_type", job.Type, "job_id", job.ID, "attempts", attempts, "error", err)
		q.finish(ctx, job.ID, "parked")
		if alertErr := q.notifier.Notify(ctx,
			fmt.Sprintf("job %s exhausted retries", job.Type),
			fmt.Sprintf("job %s parked after %d attempts: %v", job.ID, attempts, err),
		); alertErr != nil {
			q.log.Warn("ops alert failed", "error", alertErr)
		}
		return
	}

	// Exponential backoff on the row itself.
	delay := time.Second << attempts
	if _, dbErr := q.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'pending', attempts = $2, run_at = now() + $3 * interval '1 second'
		WHERE id = $1
	`, job.ID, attempts, int(delay.Seconds())); dbErr != nil {
		q.log.Error("reschedule job failed", "job_id", job.ID, "error", dbErr)
	}
}

func (q *PostgresQueue) finish(ctx context.Context, id uuid.UUID, status string) {
	if _, err := q.db.ExecContext(ctx, `
		UPDATE jobs SET status = $2, finished_at = now() WHERE id = $1
	`, id, status); err != nil {
		q.log.Error("finish job failed", "job_id", id, "status", status, "error", err)
	}
}
