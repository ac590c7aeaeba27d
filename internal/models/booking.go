package models

import (
	"time"
)

type BookingStatus string

const (
	BookingStatusPending    BookingStatus = "pending"     // Ожидает подтверждения
	BookingStatusConfirmed  BookingStatus = "confirmed"   // Подтверждено водителем
	BookingStatusInProgress BookingStatus = "in_progress" // Пассажир в пути
	BookingStatusCompleted  BookingStatus = "completed"   // Завершено
	BookingStatusCancelled  BookingStatus = "cancelled"   // Отменено
	BookingStatusRejected   BookingStatus = "rejected"    // Отклонено
)

// ActiveBookingStatuses удерживают места в поездке
var ActiveBookingStatuses = []BookingStatus{
	BookingStatusPending,
	BookingStatusConfirmed,
	BookingStatusInProgress,
	BookingStatusCompleted,
}

// IsActive сообщает, что бронирование занимает места
func (s BookingStatus) IsActive() bool {
	switch s {
	case BookingStatusPending, BookingStatusConfirmed, BookingStatusInProgress, BookingStatusCompleted:
		return true
	}
	return false
}

// IsTerminal сообщает, что статус бронирования больше не меняется
func (s BookingStatus) IsTerminal() bool {
	switch s {
	case BookingStatusCompleted, BookingStatusCancelled, BookingStatusRejected:
		return true
	}
	return false
}

type PaymentMethod string

const (
	PaymentMethodCash     PaymentMethod = "cash"
	PaymentMethodCard     PaymentMethod = "card"
	PaymentMethodTransfer PaymentMethod = "transfer"
)

// Valid проверяет способ оплаты
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCash, PaymentMethodCard, PaymentMethodTransfer:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentStatusUnpaid   PaymentStatus = "unpaid"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// Booking представляет бронирование мест в поездке
type Booking struct {
	ID             uint          `json:"id" gorm:"primaryKey"`
	TripID         uint          `json:"trip_id" gorm:"not null;index"`
	PassengerID    uint          `json:"passenger_id" gorm:"not null;index"`
	DriverID       uint          `json:"driver_id" gorm:"not null;index"`
	SeatsBooked    int           `json:"seats_booked" gorm:"not null"`
	TotalAmount    float64       `json:"total_amount" gorm:"not null"`
	PaymentMethod  PaymentMethod `json:"payment_method" gorm:"type:varchar(20);not null"`
	PaymentStatus  PaymentStatus `json:"payment_status" gorm:"type:varchar(20);default:'unpaid'"`
	Status         BookingStatus `json:"status" gorm:"type:varchar(20);not null;index"`
	PickupAddress  string        `json:"pickup_address" gorm:"default:''"`
	DropoffAddress string        `json:"dropoff_address" gorm:"default:''"`
	Comment        string        `json:"comment" gorm:"default:''"`
	RejectReason   string        `json:"reject_reason,omitempty" gorm:"default:''"`
	CancelReason   string        `json:"cancel_reason,omitempty" gorm:"default:''"`
	CreatedAt      time.Time     `json:"created_at" gorm:"index"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// BookingCreate используется только для создания нового бронирования
type BookingCreate struct {
	TripID         uint          `json:"trip_id" binding:"required"`
	PassengerID    uint          `json:"-"`
	SeatsBooked    int           `json:"seats_booked" binding:"required"`
	PaymentMethod  PaymentMethod `json:"payment_method"`
	PickupAddress  string        `json:"pickup_address"`
	DropoffAddress string        `json:"dropoff_address"`
	Comment        string        `json:"comment"`
}
