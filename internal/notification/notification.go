package notification

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Channel is how a notification reaches the recipient.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Order asks the notification provider to notify a recipient about a
// correspondence.
type Order struct {
	ID               uuid.UUID `json:"id"`
	CorrespondenceID uuid.UUID `json:"correspondence_id"`
	Recipient        string    `json:"recipient"`
	Channel          Channel   `json:"channel"`
	Body             string    `json:"body"`
	RequestedAt      time.Time `json:"requested_at"`
}

// Cancellation withdraws every outstanding order for a correspondence, sent
// when the correspondence is purged before delivery.
type Cancellation struct {
	CorrespondenceID uuid.UUID `json:"correspondence_id"`
	Reason           string    `json:"reason"`
	RequestedAt      time.Time `json:"requested_at"`
}

// Publisher hands orders and cancellations to the notification provider.
type Publisher interface {
	PublishOrder(ctx context.Context, order Order) error
	PublishCancellation(ctx context.Context, c Cancellation) error
}
