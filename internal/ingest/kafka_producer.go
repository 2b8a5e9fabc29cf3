package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/emergency-dispatch/internal/models"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaProducer publishes JSON messages to one topic.
type KafkaProducer struct {
	writer  messageWriter
	timeout time.Duration
}

func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}, MaxAttempts: 5})
	return &KafkaProducer{writer: w, timeout: 2 * time.Second}
}

// Publish encodes v as JSON and writes it keyed by key, bounded by the producer timeout.
func (k *KafkaProducer) Publish(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: b})
}

// PublishLocation emits a resource position update for the location consumer.
func (k *KafkaProducer) PublishLocation(ctx context.Context, r models.Resource) error {
	return k.Publish(ctx, r.ID, r)
}

func (k *KafkaProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
