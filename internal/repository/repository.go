// Package repository описывает хранилище записей движка бронирований
// и две его реализации: Postgres через gorm и in-memory.
package repository

import (
	"context"
	"errors"
	"time"

	"intercity-backend/internal/models"
)

var (
	// ErrNotFound - запись не найдена
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict - запись изменилась между чтением и записью
	ErrConflict = errors.New("конфликт версий записи")
)

type TripRepository interface {
	Create(ctx context.Context, trip *models.Trip) error
	Get(ctx context.Context, id uint) (*models.Trip, error)
	// GetForUpdate читает поездку с блокировкой строки до конца транзакции Atomic
	GetForUpdate(ctx context.Context, id uint) (*models.Trip, error)
	// CompareAndSwap записывает поездку, только если версия в хранилище равна trip.Version.
	// При успехе trip.Version увеличивается, иначе возвращается ErrConflict
	CompareAndSwap(ctx context.Context, trip *models.Trip) error
}

// BookingFilter - условия выборки бронирований, пустые поля не учитываются
type BookingFilter struct {
	TripID        uint
	PassengerID   uint
	DriverID      uint
	Statuses      []models.BookingStatus
	CreatedBefore time.Time
}

type BookingRepository interface {
	Create(ctx context.Context, booking *models.Booking) error
	Get(ctx context.Context, id uint) (*models.Booking, error)
	Update(ctx context.Context, booking *models.Booking) error
	ListByTrip(ctx context.Context, tripID uint) ([]models.Booking, error)
	List(ctx context.Context, filter BookingFilter) ([]models.Booking, error)
}

type CancellationRepository interface {
	Append(ctx context.Context, record *models.CancellationRecord) error
	CountSince(ctx context.Context, userID uint, userType models.UserType, since time.Time) (int, error)
	ListByUser(ctx context.Context, userID uint) ([]models.CancellationRecord, error)
}

type SuspensionRepository interface {
	Create(ctx context.Context, s *models.Suspension) error
	Update(ctx context.Context, s *models.Suspension) error
	// GetOpen возвращает незакрытую блокировку или ErrNotFound
	GetOpen(ctx context.Context, userID uint) (*models.Suspension, error)
	ListOpen(ctx context.Context) ([]models.Suspension, error)
	// LastReactivation возвращает время последнего снятия блокировки или nil
	LastReactivation(ctx context.Context, userID uint) (*time.Time, error)
}

type PreferencesRepository interface {
	Get(ctx context.Context, userID uint) (*models.NotificationPreferences, error)
	Upsert(ctx context.Context, p *models.NotificationPreferences) error
}

type QueueRepository interface {
	Upsert(ctx context.Context, item *models.NotificationQueueItem) error
	Get(ctx context.Context, id string) (*models.NotificationQueueItem, error)
	ListByStatus(ctx context.Context, statuses ...models.QueueStatus) ([]models.NotificationQueueItem, error)
	// FindActiveByDedupeKey ищет неудаленный и не проваленный элемент с тем же ключом
	FindActiveByDedupeKey(ctx context.Context, key string) (*models.NotificationQueueItem, error)
	// UpdateIfStatus записывает изменяемые поля элемента, только если его статус
	// в хранилище входит в expected. false - статус уже изменился
	UpdateIfStatus(ctx context.Context, item *models.NotificationQueueItem, expected ...models.QueueStatus) (bool, error)
	DeleteFinishedBefore(ctx context.Context, before time.Time) (int64, error)
}

type NotificationRepository interface {
	Create(ctx context.Context, n *models.Notification) error
	ListByUser(ctx context.Context, userID uint, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, userID uint, id string, at time.Time) error
	CountUnread(ctx context.Context, userID uint) (int64, error)
}

type UserRepository interface {
	Create(ctx context.Context, u *models.User) error
	// CreateIfMissing создает пользователя с заданным ID, если его еще нет.
	// true - запись создана этим вызовом
	CreateIfMissing(ctx context.Context, u *models.User) (bool, error)
	Update(ctx context.Context, u *models.User) error
	Get(ctx context.Context, id uint) (*models.User, error)
	ListByRole(ctx context.Context, role models.UserRole) ([]models.User, error)
}

// Store объединяет репозитории одного хранилища
type Store struct {
	Trips         TripRepository
	Bookings      BookingRepository
	Cancellations CancellationRepository
	Suspensions   SuspensionRepository
	Preferences   PreferencesRepository
	Queue         QueueRepository
	Notifications NotificationRepository
	Users         UserRepository

	atomic func(ctx context.Context, fn func(tx *Store) error) error
}

// Atomic выполняет fn в транзакции хранилища. Репозитории внутри fn
// привязаны к транзакции, ошибка fn откатывает изменения
func (s *Store) Atomic(ctx context.Context, fn func(tx *Store) error) error {
	if s.atomic == nil {
		return fn(s)
	}
	return s.atomic(ctx, fn)
}
