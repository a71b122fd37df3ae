package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/editions/storefront/internal/events"
	"github.com/editions/storefront/internal/model"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaPublisher_PublishOrderConfirmed(t *testing.T) {
	w := &fakeWriter{}
	p := events.NewKafkaPublisherWithWriter(w)

	order := model.Order{
		Edition:     12,
		SessionID:   "cs_12",
		AmountTotal: decimal.RequireFromString("7.00"),
		Currency:    "chf",
	}
	if err := p.PublishOrderConfirmed(context.Background(), order); err != nil {
		t.Fatal(err)
	}

	if len(w.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "cs_12" {
		t.Errorf("expected key cs_12, got %s", msg.Key)
	}

	var evt events.OrderConfirmed
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		t.Fatal(err)
	}
	if evt.Type != events.TypeOrderConfirmed || evt.Order.Edition != 12 {
		t.Errorf("unexpected event %+v", evt)
	}

	p.Close()
	if !w.closed {
		t.Error("close not forwarded to writer")
	}
}

func TestKafkaPublisher_WriteError(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := events.NewKafkaPublisherWithWriter(w)

	if err := p.PublishOrderConfirmed(context.Background(), model.Order{SessionID: "cs_x"}); err == nil {
		t.Error("expected error from writer")
	}
}
