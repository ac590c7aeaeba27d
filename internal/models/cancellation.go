package models

import (
	"time"
)

type UserType string

const (
	UserTypeDriver    UserType = "driver"
	UserTypePassenger UserType = "passenger"
)

type CancellationType string

const (
	CancellationTypeTrip    CancellationType = "trip_cancellation"
	CancellationTypeBooking CancellationType = "booking_cancellation"
)

// CancellationRecord фиксирует факт отмены. Записи только добавляются
type CancellationRecord struct {
	ID               string           `json:"id" gorm:"primaryKey;type:varchar(36)"`
	UserID           uint             `json:"user_id" gorm:"not null;index:idx_cancellation_user_time"`
	UserType         UserType         `json:"user_type" gorm:"type:varchar(20);not null"`
	CancellationType CancellationType `json:"cancellation_type" gorm:"type:varchar(32);not null"`
	RelatedTripID    *uint            `json:"related_trip_id,omitempty"`
	RelatedBookingID *uint            `json:"related_booking_id,omitempty"`
	Reason           string           `json:"reason,omitempty" gorm:"default:''"`
	Timestamp        time.Time        `json:"timestamp" gorm:"not null;index:idx_cancellation_user_time"`
}

type SuspensionType string

const (
	SuspensionTypeCancellationLimit SuspensionType = "cancellation_limit"
	SuspensionTypeManual            SuspensionType = "manual"
	SuspensionTypeOther             SuspensionType = "other"
)

// Suspension - блокировка аккаунта. Открытой может быть только одна на пользователя
type Suspension struct {
	ID            string         `json:"id" gorm:"primaryKey;type:varchar(36)"`
	UserID        uint           `json:"user_id" gorm:"not null;index"`
	Type          SuspensionType `json:"type" gorm:"type:varchar(32);not null"`
	Reason        string         `json:"reason" gorm:"not null"`
	SuspendedAt   time.Time      `json:"suspended_at" gorm:"not null"`
	SuspendedBy   *uint          `json:"suspended_by,omitempty"`
	ReactivatedAt *time.Time     `json:"reactivated_at,omitempty"`
	ReactivatedBy *uint          `json:"reactivated_by,omitempty"`
}

// IsOpen сообщает, что аккаунт все еще заблокирован
func (s *Suspension) IsOpen() bool {
	return s.ReactivatedAt == nil
}
