package booking

import (
	"context"
	"errors"
	"fmt"

	"intercity-backend/internal/metrics"
	"intercity-backend/internal/models"
	"intercity-backend/internal/repository"
	"intercity-backend/internal/utils"
)

const maxConflictRetries = 5

// Availability вычисляет свободные места и статус поездки по ее бронированиям.
// Завершенная поездка всегда без мест, отмененная сохраняет места на момент отмены
func Availability(trip *models.Trip, bookings []models.Booking) (int, models.TripStatus) {
	switch trip.Status {
	case models.TripStatusCompleted:
		return 0, models.TripStatusCompleted
	case models.TripStatusCancelled:
		return trip.AvailableSeats, models.TripStatusCancelled
	}

	held := 0
	for _, b := range bookings {
		if b.TripID == trip.ID && b.Status.IsActive() {
			held += b.SeatsBooked
		}
	}
	available := trip.TotalSeats - held
	if available < 0 {
		available = 0
	}

	if trip.Status == models.TripStatusInProgress {
		return available, models.TripStatusInProgress
	}
	if available == 0 {
		return 0, models.TripStatusFullyBooked
	}
	return available, models.TripStatusScheduled
}

// Ledger пересчитывает места поездки. Запись идет через compare-and-swap по версии
type Ledger struct {
	clock utils.Clock
}

func NewLedger(clock utils.Clock) *Ledger {
	return &Ledger{clock: clock}
}

// Recompute пересчитывает места внутри транзакции tx. Если ничего не изменилось,
// поездка не записывается. При гонке возвращает repository.ErrConflict
func (l *Ledger) Recompute(ctx context.Context, tx *repository.Store, tripID uint) (*models.Trip, error) {
	trip, err := tx.Trips.GetForUpdate(ctx, tripID)
	if err != nil {
		return nil, err
	}
	bookings, err := tx.Bookings.ListByTrip(ctx, tripID)
	if err != nil {
		return nil, fmt.Errorf("ошибка при чтении бронирований поездки: %w", err)
	}

	available, status := Availability(trip, bookings)
	if available == trip.AvailableSeats && status == trip.Status {
		return trip, nil
	}

	trip.AvailableSeats = available
	trip.Status = status
	trip.UpdatedAt = l.clock.Now()
	if err := tx.Trips.CompareAndSwap(ctx, trip); err != nil {
		return nil, err
	}
	return trip, nil
}

// withRetry выполняет fn в транзакции и повторяет ее при конфликте версий
func withRetry(ctx context.Context, store *repository.Store, fn func(tx *repository.Store) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = store.Atomic(ctx, fn)
		if !errors.Is(err, repository.ErrConflict) {
			return err
		}
		metrics.SeatLedgerConflicts.Inc()
	}
	return fmt.Errorf("не удалось записать поездку после %d попыток: %w", maxConflictRetries, err)
}

func notFound(err error, what string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	return err
}
