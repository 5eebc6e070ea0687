package eventbus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType names an outbound integration event.
type EventType string

const (
	EventCorrespondencePublished EventType = "correspondence.published"
	EventReceiverRead            EventType = "correspondence.receiver_read"
	EventReceiverConfirmed       EventType = "correspondence.receiver_confirmed"
	EventCorrespondencePurged    EventType = "correspondence.purged"
)

// Event is one fire-and-forget outbound integration event.
type Event struct {
	ID               uuid.UUID `json:"id"`
	Type             EventType `json:"type"`
	CorrespondenceID uuid.UUID `json:"correspondence_id"`
	ResourceID       string    `json:"resource_id"`
	Recipient        string    `json:"recipient"`
	OccurredAt       time.Time `json:"occurred_at"`
}

// Bus publishes outbound integration events. Consumers must treat delivery as
// at-least-once; the event id is the dedup key.
type Bus interface {
	Publish(ctx context.Context, event Event) error
}
