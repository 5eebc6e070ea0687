package idempotency

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	txcontext "meldeboks/pkg/platform/tx"
)

// PostgresGuard implements the guard as an attempted unique insert. The
// unique constraint on natural_key is the atomicity: two concurrent inserts
// cannot both succeed, and the loser sees a uniqueness violation which is
// reported as AlreadyExists, not an error.
type PostgresGuard struct {
	db *sql.DB
}

func NewPostgresGuard(db *sql.DB) *PostgresGuard {
	return &PostgresGuard{db: db}
}

func (g *PostgresGuard) exec(ctx context.Context) interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
} {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return g.db
}

func (g *PostgresGuard) TryReserve(ctx context.Context, key string) (Outcome, error) {
	_, err := g.exec(ctx).ExecContext(ctx, `
		INSERT INTO idempotency_keys (natural_key, reserved_at)
		VALUES ($1, now())
	`, key)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return AlreadyExists, nil
		}
		return AlreadyExists, fmt.Errorf("reserve idempotency key: %w", err)
	}
	return Reserved, nil
}

func (g *PostgresGuard) Release(ctx context.Context, key string) error {
	if _, err := g.exec(ctx).ExecContext(ctx, `
		DELETE FROM idempotency_keys WHERE natural_key = $1
	`, key); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}
