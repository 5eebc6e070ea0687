package idempotency

import (
	"context"
	"strings"
)

// Outcome of a reservation attempt.
type Outcome int

const (
	// Reserved means the caller holds the key and must perform the
	// guarded side effect.
	Reserved Outcome = iota
	// AlreadyExists means the operation already happened or is in
	// flight; the caller must skip the side effect and report success.
	AlreadyExists
)

// Guard reserves natural keys before side-effecting operations so a retried
// job cannot perform the effect twice. A reservation conflict is a normal
// outcome, never an error.
type Guard interface {
	// TryReserve atomically claims the key.
	TryReserve(ctx context.Context, key string) (Outcome, error)

	// Release frees the key once the guarded operation's terminal outcome
	// is durably recorded, letting a legitimately distinct future
	// operation reuse the key pattern.
	Release(ctx context.Context, key string) error
}

// Key builds a natural key from its parts. Parts are joined with ':' so keys
// read naturally in the store ("notification:order:<uuid>").
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}
