package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"meldeboks/internal/jobs"
)

// Job types for deferred notification work.
const (
	JobSendOrder = "notification.send_order"
	JobCancel    = "notification.cancel"
)

// Handlers binds the notification job types to a Publisher.
func Handlers(pub Publisher) map[string]jobs.HandlerFunc {
	return map[string]jobs.HandlerFunc{
		JobSendOrder: func(ctx context.Context, raw json.RawMessage) error {
			var order Order
			if err := json.Unmarshal(raw, &order); err != nil {
				return fmt.Errorf("decode order payload: %w", err)
			}
			return pub.PublishOrder(ctx, order)
		},
		JobCancel: func(ctx context.Context, raw json.RawMessage) error {
			var c Cancellation
			if err := json.Unmarshal(raw, &c); err != nil {
				return fmt.Errorf("decode cancellation payload: %w", err)
			}
			return pub.PublishCancellation(ctx, c)
		},
	}
}

// InMemoryPublisher records published orders and cancellations; test double.
type InMemoryPublisher struct {
	mu            sync.Mutex
	orders        []Order
	cancellations []Cancellation
}

func NewInMemoryPublisher() *InMemoryPublisher { return &InMemoryPublisher{} }

func (p *InMemoryPublisher) PublishOrder(_ context.Context, order Order) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orders = append(p.orders, order)
	return nil
}

func (p *InMemoryPublisher) PublishCancellation(_ context.Context, c Cancellation) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancellations = append(p.cancellations, c)
	return nil
}

func (p *InMemoryPublisher) Orders() []Order {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Order{}, p.orders...)
}

func (p *InMemoryPublisher) Cancellations() []Cancellation {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Cancellation{}, p.cancellations...)
}
