package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"intercity-backend/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock init error: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("gorm open error: %v", err)
	}
	return NewGormStore(db), mock
}

func TestGormTripCompareAndSwapIncrementsVersion(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE "trips" SET .* WHERE id = \$\d+ AND version = \$\d+`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	trip := &models.Trip{ID: 5, AvailableSeats: 2, Status: models.TripStatusScheduled, Version: 3, UpdatedAt: time.Now()}
	if err := store.Trips.CompareAndSwap(context.Background(), trip); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if trip.Version != 4 {
		t.Fatalf("version should be 4, got %d", trip.Version)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGormTripCompareAndSwapStaleVersion(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE "trips" SET .* WHERE id = \$\d+ AND version = \$\d+`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	trip := &models.Trip{ID: 5, Version: 3}
	err := store.Trips.CompareAndSwap(context.Background(), trip)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if trip.Version != 3 {
		t.Fatalf("version must stay 3 on conflict, got %d", trip.Version)
	}
}

func TestGormCancellationCountSince(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT count\(\*\) FROM "cancellation_records" WHERE user_id = \$1 AND user_type = \$2 AND timestamp > \$3`).
		WithArgs(7, "driver", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	count, err := store.Cancellations.CountSince(context.Background(), 7, models.UserTypeDriver, time.Now().Add(-15*24*time.Hour))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2, got %d", count)
	}
}

func TestGormSuspensionGetOpenNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT \* FROM "suspensions" WHERE user_id = \$1 AND reactivated_at IS NULL`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id"}))

	_, err := store.Suspensions.GetOpen(context.Background(), 9)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGormBookingListFiltersByTripAndStatus(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT \* FROM "bookings" WHERE trip_id = \$1 AND status IN \(\$2,\$3\) ORDER BY id`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "trip_id", "seats_booked", "status"}).
			AddRow(1, 3, 2, "pending").
			AddRow(2, 3, 1, "confirmed"))

	list, err := store.Bookings.List(context.Background(), BookingFilter{
		TripID:   3,
		Statuses: []models.BookingStatus{models.BookingStatusPending, models.BookingStatusConfirmed},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(list) != 2 || list[0].SeatsBooked != 2 || list[1].Status != models.BookingStatusConfirmed {
		t.Fatalf("unexpected bookings: %+v", list)
	}
}

func TestGormQueueUpdateIfStatus(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE "notification_queue" SET .* WHERE id = \$\d+ AND status IN \(\$\d+,\$\d+\)`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE "notification_queue" SET .* WHERE id = \$\d+ AND status IN \(\$\d+,\$\d+\)`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	item := &models.NotificationQueueItem{ID: "q1", Status: models.QueueStatusExpired, UpdatedAt: time.Now()}
	ok, err := store.Queue.UpdateIfStatus(context.Background(), item, models.QueueStatusPending, models.QueueStatusScheduled)
	if err != nil || !ok {
		t.Fatalf("expected update, got %v %v", ok, err)
	}
	ok, err = store.Queue.UpdateIfStatus(context.Background(), item, models.QueueStatusPending, models.QueueStatusScheduled)
	if err != nil || ok {
		t.Fatalf("changed status must not be overwritten, got %v %v", ok, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
