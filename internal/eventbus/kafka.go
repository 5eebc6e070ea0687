package eventbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaBus publishes events to a Kafka topic, keyed by correspondence id so
// one correspondence's events stay ordered within a partition.
type KafkaBus struct {
	client *kgo.Client
	topic  string
}

func NewKafkaBus(brokers []string, topic string) (*KafkaBus, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &KafkaBus{client: client, topic: topic}, nil
}

func (b *KafkaBus) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	record := &kgo.Record{
		Topic: b.topic,
		Key:   []byte(event.CorrespondenceID.String()),
		Value: payload,
	}
	if err := b.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce event: %w", err)
	}
	return nil
}

func (b *KafkaBus) Close() {
	b.client.Close()
}
