package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"

	"github.com/joao-fontenele/insureflow/internal/domain"
)

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func TestProducer_PublishRoutesByEventType(t *testing.T) {
	writer := &recordingWriter{}
	p := &Producer{writer: writer}

	event := domain.NewEvent(domain.EventOrderCreated, "order-1", domain.OrderEventPayload{
		OrderID:     "order-1",
		OrderNumber: "ORD-1700000000-0042",
		UserID:      "user-1",
		Status:      domain.OrderStatusPending,
	})

	if err := p.Publish(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(writer.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(writer.msgs))
	}
	msg := writer.msgs[0]
	if msg.Topic != domain.EventOrderCreated {
		t.Errorf("expected topic %q, got %q", domain.EventOrderCreated, msg.Topic)
	}
	if string(msg.Key) != "order-1" {
		t.Errorf("expected key order-1, got %q", msg.Key)
	}

	env, err := decode(msg)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if env.ID != event.ID || env.EntityID != "order-1" {
		t.Errorf("unexpected envelope: %+v", env)
	}

	var payload domain.OrderEventPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.OrderNumber != "ORD-1700000000-0042" {
		t.Errorf("unexpected payload: %+v", payload)
	}
}

func TestProducer_PublishError(t *testing.T) {
	p := &Producer{writer: &recordingWriter{err: errors.New("broker down")}}

	err := p.Publish(context.Background(), domain.NewEvent(domain.EventOrderPaid, "order-1", nil))
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestHeaderCarrier_RoundTrip(t *testing.T) {
	var msg kafka.Message
	carrier := headerCarrier{msg: &msg}

	carrier.Set("traceparent", "00-aaaa-bbbb-01")
	carrier.Set("traceparent", "00-cccc-dddd-01")
	carrier.Set("baggage", "tenant=acme")

	if got := carrier.Get("traceparent"); got != "00-cccc-dddd-01" {
		t.Errorf("expected overwritten value, got %q", got)
	}
	if len(msg.Headers) != 2 {
		t.Errorf("expected 2 headers, got %d", len(msg.Headers))
	}
	if keys := carrier.Keys(); len(keys) != 2 {
		t.Errorf("expected 2 keys, got %v", keys)
	}

	if got := carrier.Get("missing"); got != "" {
		t.Errorf("expected empty value, got %q", got)
	}
}

func TestDecode_FallsBackToTopic(t *testing.T) {
	env, err := decode(kafka.Message{Topic: domain.EventPaymentFailed, Value: []byte(`{"id":"x","payload":{}}`)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.Type != domain.EventPaymentFailed {
		t.Errorf("expected type from topic, got %q", env.Type)
	}

	if _, err := decode(kafka.Message{Value: []byte("not json")}); err == nil {
		t.Error("expected error for invalid json")
	}
}
