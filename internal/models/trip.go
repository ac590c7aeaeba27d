package models

import (
	"time"
)

type TripStatus string

const (
	TripStatusScheduled   TripStatus = "scheduled"    // Открыта для бронирования
	TripStatusFullyBooked TripStatus = "fully_booked" // Все места заняты
	TripStatusInProgress  TripStatus = "in_progress"  // Поездка началась
	TripStatusCompleted   TripStatus = "completed"    // Завершенная поездка
	TripStatusCancelled   TripStatus = "cancelled"    // Отмененная поездка
)

// IsTerminal сообщает, что поездка больше не меняет статус
func (s TripStatus) IsTerminal() bool {
	return s == TripStatusCompleted || s == TripStatusCancelled
}

// Trip представляет поездку водителя с фиксированным количеством мест
type Trip struct {
	ID                 uint       `json:"id" gorm:"primaryKey"`
	DriverID           uint       `json:"driver_id" gorm:"not null;index"`
	FromAddress        string     `json:"from_address" gorm:"not null"`
	ToAddress          string     `json:"to_address" gorm:"not null"`
	DepartureDate      time.Time  `json:"departure_date" gorm:"not null"`
	Price              float64    `json:"price" gorm:"not null"`
	TotalSeats         int        `json:"total_seats" gorm:"not null"`
	AvailableSeats     int        `json:"available_seats" gorm:"not null"`
	Status             TripStatus `json:"status" gorm:"type:varchar(20);not null;index"`
	Comment            string     `json:"comment" gorm:"default:''"`
	CancellationReason string     `json:"cancellation_reason,omitempty" gorm:"default:''"`
	// Version увеличивается при каждой записи, запись идет через compare-and-swap
	Version            int64      `json:"version" gorm:"not null;default:0"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// TripCreate используется только для создания новой поездки
type TripCreate struct {
	DriverID      uint      `json:"-"`
	FromAddress   string    `json:"from_address" binding:"required"`
	ToAddress     string    `json:"to_address" binding:"required"`
	DepartureDate time.Time `json:"departure_date" binding:"required"`
	Price         float64   `json:"price" binding:"required"`
	TotalSeats    int       `json:"total_seats" binding:"required"`
	Comment       string    `json:"comment"`
}
