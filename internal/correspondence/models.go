package correspondence

import (
	"time"

	"github.com/google/uuid"
)

// Status is one step in the correspondence lifecycle. The ledger stores every
// step ever taken; the current status is derived, never stored.
type Status string

const (
	StatusInitialized       Status = "initialized"
	StatusReadyForPublish   Status = "ready_for_publish"
	StatusPublished         Status = "published"
	StatusFetched           Status = "fetched"
	StatusRead              Status = "read"
	StatusConfirmed         Status = "confirmed"
	StatusArchived          Status = "archived"
	StatusPurgedByRecipient Status = "purged_by_recipient"
	StatusPurgedByOwner     Status = "purged_by_owner"
	StatusFailed            Status = "failed"
)

// IsPurged reports whether the status is one of the terminal purge statuses.
func (s Status) IsPurged() bool {
	return s == StatusPurgedByRecipient || s == StatusPurgedByOwner
}

// IsAvailableForRecipient reports whether a correspondence in this status is
// visible to its recipient at all. Pre-publish and failed correspondences are
// a sender-side concern only.
func (s Status) IsAvailableForRecipient() bool {
	switch s {
	case StatusPublished, StatusFetched, StatusRead, StatusConfirmed, StatusArchived:
		return true
	}
	return false
}

// DeleteEventType classifies an entry in the delete-event ledger.
type DeleteEventType string

const (
	DeleteSoftByRecipient DeleteEventType = "soft_deleted_by_recipient"
	DeleteHardByRecipient DeleteEventType = "hard_deleted_by_recipient"
	DeleteHardByOwner     DeleteEventType = "hard_deleted_by_service_owner"
	DeleteRestored        DeleteEventType = "restored_by_recipient"
)

// IsHard reports whether the event destroys the correspondence for good.
func (t DeleteEventType) IsHard() bool {
	return t == DeleteHardByRecipient || t == DeleteHardByOwner
}

// PurgeStatus returns the terminal correspondence status a hard delete maps to.
func (t DeleteEventType) PurgeStatus() Status {
	if t == DeleteHardByOwner {
		return StatusPurgedByOwner
	}
	return StatusPurgedByRecipient
}

// PurgeState is the derived visibility of a correspondence given its
// delete-event ledger.
type PurgeState string

const (
	PurgeStateActive      PurgeState = "active"
	PurgeStateSoftDeleted PurgeState = "soft_deleted"
	PurgeStatePurged      PurgeState = "purged"
)

// ReferenceType labels an external reference held by a correspondence.
type ReferenceType string

const (
	// ReferenceDialog is the id of the correspondence's dialog in the
	// external dialog service.
	ReferenceDialog ReferenceType = "dialog"
)

// ExternalReference links a correspondence to a record in another system.
type ExternalReference struct {
	Type  ReferenceType
	Value string
}

// StatusEvent is one immutable row in the status ledger.
type StatusEvent struct {
	ID               uuid.UUID
	CorrespondenceID uuid.UUID
	Status           Status
	OccurredAt       time.Time
	PartyUUID        uuid.UUID
	Note             string

	// SyncedAt is set only when the event arrived via legacy migration
	// sync; native events leave it nil.
	SyncedAt *time.Time
}

// DeleteEvent is one immutable row in the delete-event ledger.
type DeleteEvent struct {
	ID               uuid.UUID
	CorrespondenceID uuid.UUID
	Type             DeleteEventType
	OccurredAt       time.Time
	PartyUUID        uuid.UUID
	SyncedAt         *time.Time
}

// Correspondence is the root entity. Status is mutated only by appending
// ledger events, never by in-place edits.
type Correspondence struct {
	ID                     uuid.UUID
	ResourceID             string
	Sender                 string
	Recipient              string
	Created                time.Time
	RequestedPublishAt     time.Time
	DueAt                  time.Time
	AllowSystemDeleteAfter *time.Time
	IsConfidential         bool
	IsConfirmationNeeded   bool

	// LegacyID is the identifier in the system this correspondence was
	// migrated from; nil for natively created correspondence.
	LegacyID *int64

	// IsMigrating is true while the legacy system is still the system of
	// record; outward side effects are suppressed until migration completes.
	IsMigrating bool

	AttachmentIDs      []uuid.UUID
	ExternalReferences []ExternalReference

	// Statuses is the status ledger snapshot as loaded, in insertion order.
	Statuses []StatusEvent
}

// CurrentStatus derives the current status from a ledger snapshot: the event
// with the latest timestamp, ties broken by insertion order. Returns false
// when the ledger is empty.
func CurrentStatus(ledger []StatusEvent) (StatusEvent, bool) {
	if len(ledger) == 0 {
		return StatusEvent{}, false
	}
	current := ledger[0]
	for _, e := range ledger[1:] {
		if !e.OccurredAt.Before(current.OccurredAt) {
			current = e
		}
	}
	return current, true
}

// StatusHasBeen reports whether the ledger contains the given status at any
// point in its history.
func StatusHasBeen(ledger []StatusEvent, s Status) bool {
	for _, e := range ledger {
		if e.Status == s {
			return true
		}
	}
	return false
}

// CurrentStatus derives the correspondence's current status.
func (c *Correspondence) CurrentStatus() (StatusEvent, bool) {
	return CurrentStatus(c.Statuses)
}

// StatusHasBeen reports whether the correspondence ever held the status.
func (c *Correspondence) StatusHasBeen(s Status) bool {
	return StatusHasBeen(c.Statuses, s)
}

// DialogRef returns the external dialog id, if any.
func (c *Correspondence) DialogRef() (string, bool) {
	for _, ref := range c.ExternalReferences {
		if ref.Type == ReferenceDialog {
			return ref.Value, true
		}
	}
	return "", false
}

// EffectivePurgeState derives the purge state from a delete-event ledger
// snapshot: purged when the most recent event is a hard delete with no later
// restore, soft-deleted when the most recent event is a soft delete.
func EffectivePurgeState(events []DeleteEvent) PurgeState {
	if len(events) == 0 {
		return PurgeStateActive
	}
	latest := events[0]
	for _, e := range events[1:] {
		if !e.OccurredAt.Before(latest.OccurredAt) {
			latest = e
		}
	}
	switch {
	case latest.Type.IsHard():
		return PurgeStatePurged
	case latest.Type == DeleteSoftByRecipient:
		return PurgeStateSoftDeleted
	default:
		return PurgeStateActive
	}
}
