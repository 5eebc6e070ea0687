package eventbus

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	txcontext "meldeboks/pkg/platform/tx"
)

// OutboxBus implements Bus with the transactional outbox pattern: Publish
// writes a row (inside the caller's transaction when one is in context), and
// the OutboxWorker forwards rows to the real bus. An event is therefore never
// lost between a committed ledger append and the broker.
type OutboxBus struct {
	db *sql.DB
}

func NewOutboxBus(db *sql.DB) *OutboxBus {
	return &OutboxBus{db: db}
}

func (b *OutboxBus) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal outbox event: %w", err)
	}
	var exec interface {
		ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	} = b.db
	if tx, ok := txcontext.From(ctx); ok {
		exec = tx
	}
	_, err = exec.ExecContext(ctx, `
		INSERT INTO event_outbox (id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, event.ID, string(event.Type), payload, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

// OutboxWorker drains the outbox to a downstream bus.
type OutboxWorker struct {
	db        *sql.DB
	sink      Bus
	log       *slog.Logger
	pollEvery time.Duration
	batchSize int
}

func NewOutboxWorker(db *sql.DB, sink Bus, log *slog.Logger) *OutboxWorker {
	return &OutboxWorker{
		db:        db,
		sink:      sink,
		log:       log,
		pollEvery: time.Second,
		batchSize: 100,
	}
}

func (w *OutboxWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.pollEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.drainOnce(ctx); err != nil {
				w.log.Error("outbox drain failed", "error", err)
			}
		}
	}
}

func (w *OutboxWorker) drainOnce(ctx context.Context) error {
	rows, err := w.db.QueryContext(ctx, `
		SELECT id, payload
		FROM event_outbox
		WHERE published_at IS NULL
		ORDER BY created_at ASC
		LIMIT $1
	`, w.batchSize)
	if err != nil {
		return fmt.Errorf("select outbox batch: %w", err)
	}
	defer rows.Close()

	type row struct {
		id      uuid.UUID
		payload []byte
	}
	var batch []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.payload); err != nil {
			return fmt.Errorf("scan outbox row: %w", err)
		}
		batch = append(batch, r)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, r := range batch {
		var event Event
		if err := json.Unmarshal(r.payload, &event); err != nil {
			w.log.Error("outbox row unreadable, skipping", "event_id", r.id, "error", err)
			continue
		}
		if err := w.sink.Publish(ctx, event); err != nil {
			// Leave the row unpublished; the next drain retries it.
			w.log.Warn("outbox publish failed", "event_id", r.id, "error", err)
			continue
		}
		if _, err := w.db.ExecContext(ctx, `
			UPDATE event_outbox SET published_at = now() WHERE id = $1
		`, r.id); err != nil {
			return fmt.Errorf("mark outbox row published: %w", err)
		}
	}
	return nil
}

// InMemoryBus records published events; test double.
type InMemoryBus struct {
	mu     sync.Mutex
	events []Event
}

func NewInMemoryBus() *InMemoryBus { return &InMemoryBus{} }

func (b *InMemoryBus) Publish(_ context.Context, event Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return nil
}

func (b *InMemoryBus) Events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Event{}, b.events...)
}
