package booking

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"intercity-backend/internal/models"
	"intercity-backend/internal/repository"
	"intercity-backend/internal/services/cancellation"
	"intercity-backend/internal/services/notification"
	"intercity-backend/internal/utils"
)

var testStart = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

const (
	driverID   uint = 1
	passengerA uint = 2
	passengerB uint = 3
	passengerC uint = 4
)

type testEnv struct {
	store    *repository.Store
	clock    *utils.FakeClock
	tracker  *cancellation.Tracker
	notifier *notification.Service
	service  *Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := repository.NewMemoryStore()
	clock := utils.NewFakeClock(testStart)
	locks := utils.NewKeyedMutex()

	prefs := notification.NewPreferenceService(store, clock)
	filter := notification.NewFilter(prefs, notification.NewMemoryRateLimiter(), clock, time.UTC)
	composer := notification.NewComposer(store.Users, prefs, clock, nil, 0)
	scheduler := notification.NewScheduler(store.Queue, notification.NewDispatcher(store.Users, nil), nil, clock, notification.SchedulerConfig{})
	notifier := notification.NewService(composer, filter, scheduler, prefs)
	t.Cleanup(notifier.Close)

	tracker := cancellation.NewTracker(store, notifier, nil, clock, locks, cancellation.Config{})
	env := &testEnv{
		store:    store,
		clock:    clock,
		tracker:  tracker,
		notifier: notifier,
		service:  NewService(store, tracker, notifier, nil, clock, locks),
	}

	env.addUser(t, driverID, models.RoleDriver)
	for _, id := range []uint{passengerA, passengerB, passengerC} {
		env.addUser(t, id, models.RolePassenger)
	}
	return env
}

func (e *testEnv) addUser(t *testing.T, id uint, role models.UserRole) {
	t.Helper()
	u := &models.User{
		ID:        id,
		FirstName: fmt.Sprintf("Пользователь %d", id),
		Role:      role,
		Phone:     fmt.Sprintf("7701000%04d", id),
		Email:     fmt.Sprintf("user%d@example.com", id),
	}
	if err := e.store.Users.Create(context.Background(), u); err != nil {
		t.Fatalf("create user: %v", err)
	}
}

func (e *testEnv) createTrip(t *testing.T, seats int) *models.Trip {
	t.Helper()
	res, err := e.service.CreateTrip(context.Background(), models.TripCreate{
		DriverID:      driverID,
		FromAddress:   "Алматы",
		ToAddress:     "Астана",
		DepartureDate: testStart.Add(48 * time.Hour),
		Price:         5000,
		TotalSeats:    seats,
	})
	if err != nil {
		t.Fatalf("create trip: %v", err)
	}
	return res.Trip
}

func (e *testEnv) book(t *testing.T, tripID, passengerID uint, seats int) *models.Booking {
	t.Helper()
	res, err := e.service.CreateBooking(context.Background(), models.BookingCreate{
		TripID:        tripID,
		PassengerID:   passengerID,
		SeatsBooked:   seats,
		PaymentMethod: models.PaymentMethodCash,
	})
	if err != nil {
		t.Fatalf("create booking: %v", err)
	}
	return res.Booking
}

func (e *testEnv) transition(t *testing.T, bookingID uint, to models.BookingStatus, actor models.Actor, actorID uint) Result {
	t.Helper()
	res, err := e.service.Transition(context.Background(), TransitionRequest{BookingID: bookingID, To: to, Actor: actor, ActorID: actorID})
	if err != nil {
		t.Fatalf("transition %d -> %s: %v", bookingID, to, err)
	}
	return res
}

func (e *testEnv) trip(t *testing.T, id uint) *models.Trip {
	t.Helper()
	trip, err := e.store.Trips.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get trip: %v", err)
	}
	return trip
}

// queuedOf считает элементы очереди заданного типа
func (e *testEnv) queuedOf(t *testing.T, typ models.NotificationType) []models.NotificationQueueItem {
	t.Helper()
	items, err := e.store.Queue.ListByStatus(context.Background())
	if err != nil {
		t.Fatalf("list queue: %v", err)
	}
	var result []models.NotificationQueueItem
	for _, item := range items {
		if item.Type == typ {
			result = append(result, item)
		}
	}
	return result
}

// brokenTrips отдает ошибку чтения поездки вне транзакций
type brokenTrips struct {
	repository.TripRepository
}

func (brokenTrips) Get(ctx context.Context, id uint) (*models.Trip, error) {
	return nil, errors.New("соединение с базой потеряно")
}
