package attachment

import (
	"time"

	"github.com/google/uuid"
)

// Status is the attachment lifecycle. Attachments carry their own small
// append-only status ledger, like correspondences do.
type Status string

const (
	StatusInitialized Status = "initialized"
	StatusPublished   Status = "published"
	StatusPurged      Status = "purged"
)

// StatusEvent is one immutable row in the attachment status ledger.
type StatusEvent struct {
	ID           uuid.UUID
	AttachmentID uuid.UUID
	Status       Status
	OccurredAt   time.Time
	PartyUUID    uuid.UUID
	Note         string
}

// Attachment holds bytes in an external storage provider. Attachments are
// shared: several correspondences may reference one attachment, and its bytes
// are purged only when no un-purged correspondence references it.
type Attachment struct {
	ID              uuid.UUID
	ResourceID      string
	Sender          string
	StorageProvider string
	ByteSize        int64
	Created         time.Time
	Statuses        []StatusEvent
}

// StatusHasBeen reports whether the attachment ever held the status.
func (a *Attachment) StatusHasBeen(s Status) bool {
	for _, e := range a.Statuses {
		if e.Status == s {
			return true
		}
	}
	return false
}
