package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
)

// Routing keys on the notification exchange.
const (
	routingKeyOrder  = "notification.order"
	routingKeyCancel = "notification.cancel"
)

// AMQPPublisher publishes orders to a topic exchange consumed by the
// notification provider bridge.
type AMQPPublisher struct {
	conn     *amqp091.Connection
	exchange string
}

func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &AMQPPublisher{conn: conn, exchange: exchange}, nil
}

func (p *AMQPPublisher) PublishOrder(ctx context.Context, order Order) error {
	return p.publish(ctx, routingKeyOrder, order.ID.String(), order)
}

func (p *AMQPPublisher) PublishCancellation(ctx context.Context, c Cancellation) error {
	return p.publish(ctx, routingKeyCancel, c.CorrespondenceID.String(), c)
}

func (p *AMQPPublisher) publish(ctx context.Context, key, messageID string, payload any) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if messageID == "" {
		messageID = uuid.NewString()
	}
	err = ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    messageID,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	return p.conn.Close()
}
