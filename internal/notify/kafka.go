package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Producer is satisfied by *kgo.Client.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Kafka publishes messages as JSON records keyed by the message
// destination, or by key when the message has none.
type Kafka struct {
	producer Producer
	topic    string
	key      string
}

func NewKafka(producer Producer, topic, key string) *Kafka {
	return &Kafka{producer: producer, topic: topic, key: key}
}

func (k *Kafka) Publish(ctx context.Context, msg Message) error {
	record, err := createRecord(k.topic, k.key, msg)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	if err := k.producer.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("%w: producing notification record: %v", ErrDeliveryFailed, err)
	}
	return nil
}

func createRecord(topic, key string, msg Message) (*kgo.Record, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshalling to json: %w", err)
	}

	record := &kgo.Record{
		Topic: topic,
		Value: payload,
	}
	if msg.Destination != "" {
		key = msg.Destination
	}
	if key != "" {
		record.Key = []byte(key)
	}
	return record, nil
}
