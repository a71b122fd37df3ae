// Package events publishes order notifications to downstream consumers
// (fulfilment, mailing) after a sale is committed.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/editions/storefront/internal/model"
)

// TypeOrderConfirmed is the event type for a committed sale.
const TypeOrderConfirmed = "order.confirmed"

// OrderConfirmed is the message body published for each committed order.
type OrderConfirmed struct {
	Type        string      `json:"type"`
	Order       model.Order `json:"order"`
	PublishedAt time.Time   `json:"published_at"`
}

// Publisher sends order events.
type Publisher interface {
	PublishOrderConfirmed(ctx context.Context, order model.Order) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) PublishOrderConfirmed(context.Context, model.Order) error { return nil }
func (Nop) Close() error                                             { return nil }

// messageWriter is the subset of *kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events to a Kafka topic keyed by session id, so all
// events for one checkout land on the same partition.
type KafkaPublisher struct {
	writer messageWriter
}

// NewKafkaPublisher creates a publisher for broker and topic.
func NewKafkaPublisher(broker, topic string) *KafkaPublisher {
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:         kafka.TCP(broker),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}}
}

// NewKafkaPublisherWithWriter wraps an existing writer.
func NewKafkaPublisherWithWriter(w messageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: w}
}

func (p *KafkaPublisher) PublishOrderConfirmed(ctx context.Context, order model.Order) error {
	payload, err := json.Marshal(OrderConfirmed{
		Type:        TypeOrderConfirmed,
		Order:       order,
		PublishedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode order event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(order.SessionID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(TypeOrderConfirmed)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish order %s: %w", order.SessionID, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
