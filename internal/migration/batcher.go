package migration

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"meldeboks/internal/idempotency"
	"meldeboks/internal/jobs"
)

// BatchLimit bounds how many legacy items one batch job handles. Larger
// backlogs self-partition into further jobs instead of growing a single unit
// of work.
const BatchLimit = 10000

// Back-pressure: when the queue already holds this many batches worth of
// jobs, the next partition is scheduled with a delay instead of enqueued.
const (
	backPressureBatches = 5
	backPressureDelay   = time.Minute
)

// JobBatch is the self-partitioning migration job type.
const JobBatch = "migration.batch"

// BatchPayload is the cursor for one partition. Legacy ids are monotonically
// increasing, so the cursor is simply the last id the previous partition saw.
type BatchPayload struct {
	AfterLegacyID int64 `json:"after_legacy_id"`
	Limit         int   `json:"limit"`
}

// Source lists legacy item ids in ascending order, strictly after the cursor.
type Source interface {
	NextBatch(ctx context.Context, afterLegacyID int64, limit int) ([]int64, error)
}

// Apply migrates one legacy item. Failures are captured per item so one bad
// row does not abort the partition.
type Apply func(ctx context.Context, legacyID int64) error

// Batcher walks a legacy backlog in bounded partitions. Each partition
// processes its items, then enqueues the next partition guarded by an
// idempotency key on the cursor, so a retried partition never forks the
// chain.
type Batcher struct {
	source    Source
	apply     Apply
	scheduler jobs.Scheduler
	depth     jobs.DepthReporter
	guard     idempotency.Guard
	limit     int
	log       *slog.Logger
}

func NewBatcher(source Source, apply Apply, scheduler jobs.Scheduler, depth jobs.DepthReporter, guard idempotency.Guard, log *slog.Logger) *Batcher {
	return &Batcher{
		source:    source,
		apply:     apply,
		scheduler: scheduler,
		depth:     depth,
		guard:     guard,
		limit:     BatchLimit,
		log:       log,
	}
}

// WithLimit overrides the default partition size. Values below one keep the
// default.
func (b *Batcher) WithLimit(n int) *Batcher {
	if n > 0 {
		b.limit = n
	}
	return b
}

// Start enqueues the first partition.
func (b *Batcher) Start(ctx context.Context) error {
	return b.enqueueNext(ctx, 0, b.limit)
}

// Run processes one partition and, when the source returned a full window,
// chains the next one.
func (b *Batcher) Run(ctx context.Context, p BatchPayload) error {
	limit := p.Limit
	if limit <= 0 || limit > b.limit {
		limit = b.limit
	}
	items, err := b.source.NextBatch(ctx, p.AfterLegacyID, limit)
	if err != nil {
		return fmt.Errorf("list legacy batch after %d: %w", p.AfterLegacyID, err)
	}
	if len(items) == 0 {
		b.log.Info("migration backlog drained", "cursor", p.AfterLegacyID)
		return nil
	}

	failed := 0
	for _, legacyID := range items {
		if err := b.apply(ctx, legacyID); err != nil {
			failed++
			b.log.Error("migrate legacy item", "legacy_id", legacyID, "error", err)
		}
	}
	b.log.Info("migration partition done",
		"cursor", p.AfterLegacyID, "items", len(items), "failed", failed)

	if len(items) < limit {
		return nil
	}
	return b.enqueueNext(ctx, items[len(items)-1], limit)
}

func (b *Batcher) enqueueNext(ctx context.Context, cursor int64, limit int) error {
	key := idempotency.Key("migration-batch", fmt.Sprintf("%d", cursor))
	outcome, err := b.guard.TryReserve(ctx, key)
	if err != nil {
		return fmt.Errorf("reserve batch key: %w", err)
	}
	if outcome == idempotency.AlreadyExists {
		b.log.Info("next partition already enqueued", "cursor", cursor)
		return nil
	}

	state := jobs.Enqueued()
	if depth, err := b.depth.Depth(ctx); err == nil && depth > backPressureBatches {
		state = jobs.Scheduled(backPressureDelay)
		b.log.Info("queue depth high, delaying next partition", "depth", depth, "cursor", cursor)
	}

	job, err := jobs.New(JobBatch, BatchPayload{AfterLegacyID: cursor, Limit: limit})
	if err != nil {
		return err
	}
	if _, err := b.scheduler.Create(ctx, job, state); err != nil {
		if relErr := b.guard.Release(ctx, key); relErr != nil {
			b.log.Warn("release batch key failed", "error", relErr)
		}
		return fmt.Errorf("enqueue partition after %d: %w", cursor, err)
	}
	return nil
}

// Handlers binds the batch job type to a Batcher.
func Handlers(b *Batcher) map[string]jobs.HandlerFunc {
	return map[string]jobs.HandlerFunc{
		JobBatch: func(ctx context.Context, raw json.RawMessage) error {
			var p BatchPayload
			if err := json.Unmarshal(raw, &p); err != nil {
				return fmt.Errorf("decode batch payload: %w", err)
			}
			return b.Run(ctx, p)
		},
	}
}
