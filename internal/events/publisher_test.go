package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaPublisherWritesKeyedMessage(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{writer: w, timeout: time.Second}

	err := p.Publish(context.Background(), Event{Type: TypeBookingStatusChanged, TripID: 7, BookingID: 42, FromStatus: "pending", ToStatus: "confirmed"})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.msgs))
	}

	msg := w.msgs[0]
	if string(msg.Key) != "7" {
		t.Fatalf("message must be keyed by trip id, got %q", msg.Key)
	}
	if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != TypeBookingStatusChanged {
		t.Fatalf("unexpected headers: %+v", msg.Headers)
	}

	var decoded Event
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.ID == "" || decoded.BookingID != 42 || decoded.ToStatus != "confirmed" {
		t.Fatalf("unexpected event: %+v", decoded)
	}
}

func TestKafkaPublisherReturnsWriterError(t *testing.T) {
	p := &KafkaPublisher{writer: &fakeWriter{err: errors.New("broker down")}, timeout: time.Second}
	if err := p.Publish(context.Background(), Event{Type: TypeTripCancelled, UserID: 3}); err == nil {
		t.Fatal("expected error")
	}
	// Emit только логирует
	Emit(context.Background(), p, Event{Type: TypeTripCancelled})
}
