package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type MetadataKind string

const (
	MetadataBooking         MetadataKind = "booking"
	MetadataTrip            MetadataKind = "trip"
	MetadataTripCompletion  MetadataKind = "trip_completion"
	MetadataRating          MetadataKind = "rating"
	MetadataPayment         MetadataKind = "payment"
	MetadataAccount         MetadataKind = "account"
	MetadataVehicle         MetadataKind = "vehicle"
	MetadataDeliveryFailure MetadataKind = "delivery_failure"
)

// Metadata - данные уведомления, у каждого вида события свой набор полей
type Metadata interface {
	MetadataKind() MetadataKind
}

type BookingMetadata struct {
	BookingID uint          `json:"booking_id"`
	TripID    uint          `json:"trip_id"`
	Seats     int           `json:"seats"`
	Status    BookingStatus `json:"status"`
	Reason    string        `json:"reason,omitempty"`
}

func (BookingMetadata) MetadataKind() MetadataKind { return MetadataBooking }

type TripMetadata struct {
	TripID           uint      `json:"trip_id"`
	DepartureDate    time.Time `json:"departure_date"`
	AffectedBookings int       `json:"affected_bookings,omitempty"`
	Reason           string    `json:"reason,omitempty"`
}

func (TripMetadata) MetadataKind() MetadataKind { return MetadataTrip }

type TripCompletionMetadata struct {
	TripID     uint    `json:"trip_id"`
	Passengers int     `json:"passengers"`
	Earned     float64 `json:"earned"`
}

func (TripCompletionMetadata) MetadataKind() MetadataKind { return MetadataTripCompletion }

type RatingMetadata struct {
	BookingID uint `json:"booking_id"`
	TripID    uint `json:"trip_id"`
	DriverID  uint `json:"driver_id"`
}

func (RatingMetadata) MetadataKind() MetadataKind { return MetadataRating }

type PaymentMetadata struct {
	BookingID uint          `json:"booking_id"`
	Amount    float64       `json:"amount"`
	Method    PaymentMethod `json:"method"`
	Succeeded bool          `json:"succeeded"`
}

func (PaymentMetadata) MetadataKind() MetadataKind { return MetadataPayment }

type AccountMetadata struct {
	SubjectUserID     uint   `json:"subject_user_id"`
	Reason            string `json:"reason,omitempty"`
	CancellationCount int    `json:"cancellation_count,omitempty"`
	SuspensionID      string `json:"suspension_id,omitempty"`
}

func (AccountMetadata) MetadataKind() MetadataKind { return MetadataAccount }

type VehicleMetadata struct {
	Status  string `json:"status"`
	Comment string `json:"comment,omitempty"`
}

func (VehicleMetadata) MetadataKind() MetadataKind { return MetadataVehicle }

type DeliveryFailureMetadata struct {
	QueueItemID  string           `json:"queue_item_id"`
	RecipientID  uint             `json:"recipient_id"`
	OriginalType NotificationType `json:"original_type"`
	Attempts     int              `json:"attempts"`
	LastError    string           `json:"last_error,omitempty"`
}

func (DeliveryFailureMetadata) MetadataKind() MetadataKind { return MetadataDeliveryFailure }

// MetadataField хранит Metadata с дискриминатором вида в JSON и в jsonb колонке
type MetadataField struct {
	Metadata
}

type metadataEnvelope struct {
	Kind MetadataKind    `json:"kind"`
	Data json.RawMessage `json:"data"`
}

func (m MetadataField) MarshalJSON() ([]byte, error) {
	if m.Metadata == nil {
		return []byte("null"), nil
	}
	data, err := json.Marshal(m.Metadata)
	if err != nil {
		return nil, err
	}
	return json.Marshal(metadataEnvelope{Kind: m.Metadata.MetadataKind(), Data: data})
}

func (m *MetadataField) UnmarshalJSON(raw []byte) error {
	if len(raw) == 0 || string(raw) == "null" {
		m.Metadata = nil
		return nil
	}

	var env metadataEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("ошибка при разборе метаданных: %w", err)
	}

	var target Metadata
	switch env.Kind {
	case MetadataBooking:
		target = &BookingMetadata{}
	case MetadataTrip:
		target = &TripMetadata{}
	case MetadataTripCompletion:
		target = &TripCompletionMetadata{}
	case MetadataRating:
		target = &RatingMetadata{}
	case MetadataPayment:
		target = &PaymentMetadata{}
	case MetadataAccount:
		target = &AccountMetadata{}
	case MetadataVehicle:
		target = &VehicleMetadata{}
	case MetadataDeliveryFailure:
		target = &DeliveryFailureMetadata{}
	default:
		return fmt.Errorf("неизвестный вид метаданных: %q", env.Kind)
	}

	if err := json.Unmarshal(env.Data, target); err != nil {
		return fmt.Errorf("ошибка при разборе метаданных %s: %w", env.Kind, err)
	}
	m.Metadata = derefMetadata(target)
	return nil
}

// derefMetadata приводит указатель к значению, чтобы type switch у потребителей
// работал одинаково до и после сериализации
func derefMetadata(m Metadata) Metadata {
	switch v := m.(type) {
	case *BookingMetadata:
		return *v
	case *TripMetadata:
		return *v
	case *TripCompletionMetadata:
		return *v
	case *RatingMetadata:
		return *v
	case *PaymentMetadata:
		return *v
	case *AccountMetadata:
		return *v
	case *VehicleMetadata:
		return *v
	case *DeliveryFailureMetadata:
		return *v
	}
	return m
}

// Value реализует driver.Valuer для jsonb колонки
func (m MetadataField) Value() (driver.Value, error) {
	if m.Metadata == nil {
		return nil, nil
	}
	data, err := m.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan реализует sql.Scanner для jsonb колонки
func (m *MetadataField) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		m.Metadata = nil
		return nil
	case []byte:
		return m.UnmarshalJSON(v)
	case string:
		return m.UnmarshalJSON([]byte(v))
	default:
		return fmt.Errorf("неподдерживаемый тип метаданных: %T", src)
	}
}
