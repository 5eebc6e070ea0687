package attachment

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Store is the persistence contract for attachments and their status ledgers.
type Store interface {
	Create(ctx context.Context, a *Attachment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Attachment, error)

	// GetByCorrespondence returns every attachment referenced by the
	// correspondence, with status ledgers loaded.
	GetByCorrespondence(ctx context.Context, correspondenceID uuid.UUID) ([]*Attachment, error)

	// AddStatusEvent appends one event to an attachment's status ledger.
	AddStatusEvent(ctx context.Context, event StatusEvent) error

	// CanBeDeleted reports whether no un-purged correspondence still
	// references the attachment. Computed on demand rather than kept as a
	// live counter so out-of-order cascade evaluation stays correct.
	CanBeDeleted(ctx context.Context, id uuid.UUID) (bool, error)

	// HardDeleteOrphaned removes attachment rows that no correspondence
	// references at all. Returns the number of rows removed.
	HardDeleteOrphaned(ctx context.Context) (int, error)
}

// Storage purges attachment bytes at the storage provider. The provider
// client itself is out of scope; jobs call this through the scheduler.
type Storage interface {
	Purge(ctx context.Context, attachmentID uuid.UUID, storageProvider string) error
}

// LoggingStorage satisfies Storage by logging each purge. Used in wiring
// until a provider client is configured.
type LoggingStorage struct {
	Log *slog.Logger
}

func (s LoggingStorage) Purge(_ context.Context, attachmentID uuid.UUID, storageProvider string) error {
	s.Log.Info("storage stub: purge bytes", "attachment_id", attachmentID, "provider", storageProvider)
	return nil
}
