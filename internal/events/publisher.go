// Package events публикует события жизненного цикла поездок и бронирований в Kafka
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"intercity-backend/internal/metrics"
	"intercity-backend/internal/models"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

const (
	TypeBookingCreated       = "booking.created"
	TypeBookingStatusChanged = "booking.status_changed"
	TypeTripCreated          = "trip.created"
	TypeTripStarted          = "trip.started"
	TypeTripCancelled        = "trip.cancelled"
	TypeTripCompleted        = "trip.completed"
	TypeAccountSuspended     = "account.suspended"
	TypeAccountReactivated   = "account.reactivated"
)

// Event - событие для внешних потребителей
type Event struct {
	ID         string       `json:"id"`
	Type       string       `json:"type"`
	OccurredAt time.Time    `json:"occurred_at"`
	TripID     uint         `json:"trip_id,omitempty"`
	BookingID  uint         `json:"booking_id,omitempty"`
	UserID     uint         `json:"user_id,omitempty"`
	Actor      models.Actor `json:"actor,omitempty"`
	FromStatus string       `json:"from_status,omitempty"`
	ToStatus   string       `json:"to_status,omitempty"`
	Seats      int          `json:"seats,omitempty"`
	Reason     string       `json:"reason,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Emit публикует событие и только логирует ошибку
func Emit(ctx context.Context, p Publisher, ev Event) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, ev); err != nil {
		log.Printf("Events: не удалось опубликовать %s: %v", ev.Type, err)
	}
}

// NopPublisher используется, когда Kafka не настроена
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher пишет события в топик, ключ сообщения - id поездки,
// чтобы события одной поездки попадали в одну партицию по порядку
type KafkaPublisher struct {
	writer  messageWriter
	timeout time.Duration
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 10 * time.Millisecond,
		},
		timeout: 5 * time.Second,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now()
	}

	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("ошибка при маршалинге события: %w", err)
	}

	key := strconv.FormatUint(uint64(ev.TripID), 10)
	if ev.TripID == 0 {
		key = "user-" + strconv.FormatUint(uint64(ev.UserID), 10)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(key),
		Value:   value,
		Headers: []kafka.Header{{Key: "type", Value: []byte(ev.Type)}},
		Time:    ev.OccurredAt,
	})
	if err != nil {
		metrics.EventsPublished.WithLabelValues(ev.Type, "error").Inc()
		return fmt.Errorf("ошибка при записи в Kafka: %w", err)
	}
	metrics.EventsPublished.WithLabelValues(ev.Type, "ok").Inc()
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
