package correspondence

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// WindowRow is the cursor-bearing projection returned by keyset window scans.
type WindowRow struct {
	ID      uuid.UUID
	Created time.Time
}

// Store is the persistence contract for correspondences and their ledgers.
// Implementations return sentinel errors; services translate them.
type Store interface {
	// Create persists a new correspondence together with any seed status
	// events already on it.
	Create(ctx context.Context, c *Correspondence) error

	// GetByID loads a correspondence with its status ledger, external
	// references and attachment ids. Returns sentinel.ErrNotFound when
	// the id is unknown.
	GetByID(ctx context.Context, id uuid.UUID) (*Correspondence, error)

	// GetByLegacyID loads a migrated correspondence by its identifier in
	// the legacy system.
	GetByLegacyID(ctx context.Context, legacyID int64) (*Correspondence, error)

	// SetMigrationCompleted hands system-of-record ownership to this
	// system by clearing the migrating flag.
	SetMigrationCompleted(ctx context.Context, id uuid.UUID) error

	// AddStatusEvent appends one event to the status ledger.
	AddStatusEvent(ctx context.Context, event StatusEvent) error

	// AddStatusEvents appends events in the order given, so callers
	// control ledger order.
	AddStatusEvents(ctx context.Context, events []StatusEvent) error

	// AddDeleteEvent appends one event to the delete-event ledger.
	AddDeleteEvent(ctx context.Context, event DeleteEvent) error

	// DeleteEvents returns the delete-event ledger for a correspondence
	// in insertion order.
	DeleteEvents(ctx context.Context, correspondenceID uuid.UUID) ([]DeleteEvent, error)

	// WindowAfter returns up to limit rows ordered by (created, id)
	// ascending, strictly after the given cursor. Nil cursor starts from
	// the beginning. Both cursor fields must be set together.
	WindowAfter(ctx context.Context, limit int, afterCreated *time.Time, afterID *uuid.UUID) ([]WindowRow, error)

	// FilterByReferenceAndStatus narrows a window of ids down to the
	// correspondences that carry an external reference of the given type
	// and whose current status is one of the given statuses. Loaded with
	// ledger and references.
	FilterByReferenceAndStatus(ctx context.Context, ids []uuid.UUID, refType ReferenceType, statuses []Status) ([]*Correspondence, error)
}
