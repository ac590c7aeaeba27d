// Package booking реализует жизненный цикл поездок и бронирований:
// учет мест, смену статусов по ролям и отмену поездки с каскадом на бронирования
package booking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"intercity-backend/internal/events"
	"intercity-backend/internal/metrics"
	"intercity-backend/internal/models"
	"intercity-backend/internal/repository"
	"intercity-backend/internal/services/cancellation"
	"intercity-backend/internal/services/notification"
	"intercity-backend/internal/utils"
)

// Result - итог операции. Notifications описывает рассылку отдельно
// от основного изменения: ошибки рассылки не отменяют операцию
type Result struct {
	Booking       *models.Booking            `json:"booking,omitempty"`
	Trip          *models.Trip               `json:"trip,omitempty"`
	Affected      []models.Booking           `json:"affected,omitempty"`
	Suspension    *models.Suspension         `json:"suspension,omitempty"`
	Notifications notification.EnqueueReport `json:"notifications"`
}

// TransitionRequest - запрос на смену статуса бронирования
type TransitionRequest struct {
	BookingID uint
	To        models.BookingStatus
	Actor     models.Actor
	ActorID   uint
	Reason    string
}

type Service struct {
	store     *repository.Store
	ledger    *Ledger
	tracker   *cancellation.Tracker
	notifier  cancellation.Notifier
	publisher events.Publisher
	clock     utils.Clock
	locks     *utils.KeyedMutex
}

func NewService(store *repository.Store, tracker *cancellation.Tracker, notifier cancellation.Notifier, publisher events.Publisher, clock utils.Clock, locks *utils.KeyedMutex) *Service {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Service{
		store:     store,
		ledger:    NewLedger(clock),
		tracker:   tracker,
		notifier:  notifier,
		publisher: publisher,
		clock:     clock,
		locks:     locks,
	}
}

// CreateTrip создает поездку водителя. Заблокированный водитель получает ErrAccountSuspended
func (s *Service) CreateTrip(ctx context.Context, req models.TripCreate) (Result, error) {
	if req.TotalSeats <= 0 || req.Price < 0 || strings.TrimSpace(req.FromAddress) == "" || strings.TrimSpace(req.ToAddress) == "" {
		return Result{}, fmt.Errorf("%w: укажите маршрут, цену и количество мест", ErrInvalidRequest)
	}

	unlock := s.locks.Lock(utils.UserKey(req.DriverID))
	if err := s.tracker.CheckActive(ctx, req.DriverID); err != nil {
		unlock()
		return Result{}, err
	}

	now := s.clock.Now()
	trip := &models.Trip{
		DriverID:       req.DriverID,
		FromAddress:    req.FromAddress,
		ToAddress:      req.ToAddress,
		DepartureDate:  req.DepartureDate,
		Price:          req.Price,
		TotalSeats:     req.TotalSeats,
		AvailableSeats: req.TotalSeats,
		Status:         models.TripStatusScheduled,
		Comment:        req.Comment,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err := s.store.Trips.Create(ctx, trip)
	unlock()
	if err != nil {
		return Result{}, fmt.Errorf("ошибка при создании поездки: %w", err)
	}

	log.Printf("BookingService: водитель %d создал поездку %d на %d мест", trip.DriverID, trip.ID, trip.TotalSeats)
	events.Emit(ctx, s.publisher, events.Event{Type: events.TypeTripCreated, OccurredAt: now, TripID: trip.ID, UserID: trip.DriverID, Actor: models.ActorDriver, Seats: trip.TotalSeats})

	return Result{
		Trip:          trip,
		Notifications: s.notify(ctx, notification.Event{Type: models.TypeTripCreated, Actor: models.ActorDriver, Trip: trip}),
	}, nil
}

// CreateBooking бронирует места. Места резервируются сразу, в статусе pending.
// Проверка блокировки и бронирование выполняются под блокировкой пассажира
func (s *Service) CreateBooking(ctx context.Context, req models.BookingCreate) (Result, error) {
	if req.SeatsBooked <= 0 {
		return Result{}, fmt.Errorf("%w: количество мест должно быть положительным", ErrInvalidRequest)
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = models.PaymentMethodCash
	}
	if !req.PaymentMethod.Valid() {
		return Result{}, fmt.Errorf("%w: неизвестный способ оплаты %q", ErrInvalidRequest, req.PaymentMethod)
	}

	unlockUser := s.locks.Lock(utils.UserKey(req.PassengerID))
	if err := s.tracker.CheckActive(ctx, req.PassengerID); err != nil {
		unlockUser()
		metrics.BookingRejections.WithLabelValues("account_suspended").Inc()
		return Result{}, err
	}

	unlockTrip := s.locks.Lock(utils.TripKey(req.TripID))
	var booking *models.Booking
	var trip *models.Trip
	err := withRetry(ctx, s.store, func(tx *repository.Store) error {
		t, err := tx.Trips.GetForUpdate(ctx, req.TripID)
		if err != nil {
			return notFound(err, "поездка")
		}
		if t.DriverID == req.PassengerID {
			return fmt.Errorf("%w: нельзя бронировать собственную поездку", ErrInvalidRequest)
		}
		switch t.Status {
		case models.TripStatusScheduled:
		case models.TripStatusFullyBooked:
			return ErrSeatsUnavailable
		default:
			return fmt.Errorf("%w: статус поездки %s", ErrTripClosed, t.Status)
		}

		existing, err := tx.Bookings.ListByTrip(ctx, t.ID)
		if err != nil {
			return fmt.Errorf("ошибка при чтении бронирований поездки: %w", err)
		}
		available, _ := Availability(t, existing)
		if req.SeatsBooked > available {
			return fmt.Errorf("%w: запрошено %d, свободно %d", ErrSeatsUnavailable, req.SeatsBooked, available)
		}

		// Резервируем места до вставки бронирования, конкурент получит конфликт версии
		now := s.clock.Now()
		t.AvailableSeats = available - req.SeatsBooked
		if t.AvailableSeats == 0 {
			t.Status = models.TripStatusFullyBooked
		}
		t.UpdatedAt = now
		if err := tx.Trips.CompareAndSwap(ctx, t); err != nil {
			return err
		}

		b := &models.Booking{
			TripID:         t.ID,
			PassengerID:    req.PassengerID,
			DriverID:       t.DriverID,
			SeatsBooked:    req.SeatsBooked,
			TotalAmount:    t.Price * float64(req.SeatsBooked),
			PaymentMethod:  req.PaymentMethod,
			PaymentStatus:  models.PaymentStatusUnpaid,
			Status:         models.BookingStatusPending,
			PickupAddress:  req.PickupAddress,
			DropoffAddress: req.DropoffAddress,
			Comment:        req.Comment,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := tx.Bookings.Create(ctx, b); err != nil {
			return fmt.Errorf("ошибка при создании бронирования: %w", err)
		}

		t, err = s.ledger.Recompute(ctx, tx, t.ID)
		if err != nil {
			return err
		}
		booking, trip = b, t
		return nil
	})
	unlockTrip()
	unlockUser()

	if err != nil {
		switch {
		case errors.Is(err, ErrSeatsUnavailable):
			metrics.BookingRejections.WithLabelValues("seats_unavailable").Inc()
		case errors.Is(err, ErrTripClosed):
			metrics.BookingRejections.WithLabelValues("trip_closed").Inc()
		}
		return Result{}, err
	}

	log.Printf("BookingService: пассажир %d забронировал %d мест в поездке %d, осталось %d", booking.PassengerID, booking.SeatsBooked, trip.ID, trip.AvailableSeats)
	events.Emit(ctx, s.publisher, events.Event{
		Type:       events.TypeBookingCreated,
		OccurredAt: booking.CreatedAt,
		TripID:     trip.ID,
		BookingID:  booking.ID,
		UserID:     booking.PassengerID,
		Actor:      models.ActorPassenger,
		ToStatus:   string(booking.Status),
		Seats:      booking.SeatsBooked,
	})

	return Result{
		Booking:       booking,
		Trip:          trip,
		Notifications: s.notify(ctx, notification.Event{Type: models.TypeBookingCreated, Actor: models.ActorPassenger, Trip: trip, Booking: booking}),
	}, nil
}

// Transition меняет статус бронирования по правилам роли. Завершение водителем
// завершает всю поездку, отмена записывается в журнал отмен
func (s *Service) Transition(ctx context.Context, req TransitionRequest) (Result, error) {
	current, err := s.store.Bookings.Get(ctx, req.BookingID)
	if err != nil {
		return Result{}, notFound(err, "бронирование")
	}

	unlock := s.locks.Lock(utils.TripKey(current.TripID))
	var (
		booking   *models.Booking
		trip      *models.Trip
		completed []models.Booking
		from      models.BookingStatus
		logged    bool
		userType  models.UserType
	)
	err = withRetry(ctx, s.store, func(tx *repository.Store) error {
		completed = nil
		logged = false

		b, err := tx.Bookings.Get(ctx, req.BookingID)
		if err != nil {
			return notFound(err, "бронирование")
		}
		if err := authorize(b, req.Actor, req.ActorID); err != nil {
			return err
		}
		if err := CanTransition(b.Status, req.To, req.Actor); err != nil {
			return err
		}

		now := s.clock.Now()
		from = b.Status
		b.Status = req.To
		b.UpdatedAt = now
		switch req.To {
		case models.BookingStatusCancelled:
			b.CancelReason = req.Reason
		case models.BookingStatusRejected:
			b.RejectReason = req.Reason
		}
		if err := tx.Bookings.Update(ctx, b); err != nil {
			return fmt.Errorf("ошибка при обновлении бронирования: %w", err)
		}

		if req.To == models.BookingStatusCompleted && req.Actor == models.ActorDriver {
			completed, err = s.completeTrip(ctx, tx, b, now)
			if err != nil {
				return err
			}
		}

		if req.To == models.BookingStatusCancelled {
			if ut, ok := canceller(req.Actor); ok {
				tripID, bookingID := b.TripID, b.ID
				if _, err := s.tracker.Log(ctx, tx, cancellation.Entry{
					UserID:    req.ActorID,
					UserType:  ut,
					Type:      models.CancellationTypeBooking,
					TripID:    &tripID,
					BookingID: &bookingID,
					Reason:    req.Reason,
				}); err != nil {
					return err
				}
				logged, userType = true, ut
			}
		}

		t, err := s.ledger.Recompute(ctx, tx, b.TripID)
		if err != nil {
			return notFound(err, "поездка")
		}
		booking, trip = b, t
		return nil
	})
	unlock()
	if err != nil {
		return Result{}, err
	}

	metrics.BookingTransitions.WithLabelValues(string(from), string(req.To), string(req.Actor)).Inc()
	log.Printf("BookingService: бронирование %d %s -> %s (%s %d)", booking.ID, from, booking.Status, req.Actor, req.ActorID)
	events.Emit(ctx, s.publisher, events.Event{
		Type:       events.TypeBookingStatusChanged,
		OccurredAt: booking.UpdatedAt,
		TripID:     booking.TripID,
		BookingID:  booking.ID,
		UserID:     req.ActorID,
		Actor:      req.Actor,
		FromStatus: string(from),
		ToStatus:   string(booking.Status),
		Reason:     req.Reason,
	})

	result := Result{Booking: booking, Trip: trip}
	if logged {
		// Блокировка поездки уже снята: Evaluate берет блокировку пользователя
		suspension, report, err := s.tracker.Evaluate(ctx, req.ActorID, userType)
		if err != nil {
			log.Printf("BookingService: ошибка проверки лимита отмен для %d: %v", req.ActorID, err)
		}
		result.Suspension = suspension
		result.Notifications.Merge(report)
	}

	ev := notification.Event{Actor: req.Actor, Trip: trip, Booking: booking, Reason: req.Reason}
	switch booking.Status {
	case models.BookingStatusConfirmed:
		ev.Type = models.TypeBookingConfirmed
	case models.BookingStatusInProgress:
		ev.Type = models.TypeBookingStarted
	case models.BookingStatusRejected:
		ev.Type = models.TypeBookingRejected
	case models.BookingStatusCancelled:
		ev.Type = models.TypeBookingCancelled
	case models.BookingStatusCompleted:
		ev.Type = models.TypeTripCompleted
		ev.Bookings = completed
		result.Affected = completed
		events.Emit(ctx, s.publisher, events.Event{Type: events.TypeTripCompleted, OccurredAt: booking.UpdatedAt, TripID: trip.ID, UserID: trip.DriverID, Actor: req.Actor, ToStatus: string(trip.Status)})
	}
	result.Notifications.Merge(s.notify(ctx, ev))
	return result, nil
}

// completeTrip завершает поездку целиком: подтвержденные и начатые бронирования
// становятся завершенными, ожидающие отклоняются
func (s *Service) completeTrip(ctx context.Context, tx *repository.Store, done *models.Booking, now time.Time) ([]models.Booking, error) {
	siblings, err := tx.Bookings.ListByTrip(ctx, done.TripID)
	if err != nil {
		return nil, fmt.Errorf("ошибка при чтении бронирований поездки: %w", err)
	}

	completed := []models.Booking{*done}
	for i := range siblings {
		b := &siblings[i]
		if b.ID == done.ID {
			continue
		}
		switch b.Status {
		case models.BookingStatusConfirmed, models.BookingStatusInProgress:
			b.Status = models.BookingStatusCompleted
			completed = append(completed, *b)
		case models.BookingStatusPending:
			b.Status = models.BookingStatusRejected
			b.RejectReason = "поездка завершена"
		default:
			continue
		}
		b.UpdatedAt = now
		if err := tx.Bookings.Update(ctx, b); err != nil {
			return nil, fmt.Errorf("ошибка при завершении бронирования %d: %w", b.ID, err)
		}
	}

	trip, err := tx.Trips.GetForUpdate(ctx, done.TripID)
	if err != nil {
		return nil, notFound(err, "поездка")
	}
	if trip.Status != models.TripStatusCompleted {
		trip.Status = models.TripStatusCompleted
		trip.AvailableSeats = 0
		trip.UpdatedAt = now
		if err := tx.Trips.CompareAndSwap(ctx, trip); err != nil {
			return nil, err
		}
	}
	return completed, nil
}

// CancelTrip отменяет поездку. Все ожидающие и подтвержденные бронирования
// отменяются, отмена записывается на водителя один раз
func (s *Service) CancelTrip(ctx context.Context, tripID uint, actor models.Actor, actorID uint, reason string) (Result, error) {
	if actor != models.ActorDriver && actor != models.ActorAdmin && actor != models.ActorSystem {
		return Result{}, ErrUnauthorized
	}

	unlock := s.locks.Lock(utils.TripKey(tripID))
	var (
		trip     *models.Trip
		affected []models.Booking
		previous []models.BookingStatus
	)
	err := withRetry(ctx, s.store, func(tx *repository.Store) error {
		affected, previous = nil, nil

		t, err := tx.Trips.GetForUpdate(ctx, tripID)
		if err != nil {
			return notFound(err, "поездка")
		}
		if actor == models.ActorDriver && t.DriverID != actorID {
			return ErrUnauthorized
		}
		if t.Status != models.TripStatusScheduled && t.Status != models.TripStatusFullyBooked {
			return fmt.Errorf("%w: статус поездки %s", ErrTripClosed, t.Status)
		}

		bookings, err := tx.Bookings.List(ctx, repository.BookingFilter{
			TripID:   tripID,
			Statuses: []models.BookingStatus{models.BookingStatusPending, models.BookingStatusConfirmed},
		})
		if err != nil {
			return fmt.Errorf("ошибка при чтении бронирований поездки: %w", err)
		}

		now := s.clock.Now()
		for i := range bookings {
			b := &bookings[i]
			previous = append(previous, b.Status)
			b.Status = models.BookingStatusCancelled
			b.CancelReason = reason
			b.UpdatedAt = now
			if err := tx.Bookings.Update(ctx, b); err != nil {
				return fmt.Errorf("ошибка при отмене бронирования %d: %w", b.ID, err)
			}
			affected = append(affected, *b)
		}

		// Места не пересчитываются: отмененная поездка сохраняет их на момент отмены
		t.Status = models.TripStatusCancelled
		t.CancellationReason = reason
		t.UpdatedAt = now
		if err := tx.Trips.CompareAndSwap(ctx, t); err != nil {
			return err
		}

		if actor == models.ActorDriver {
			id := t.ID
			if _, err := s.tracker.Log(ctx, tx, cancellation.Entry{
				UserID:   t.DriverID,
				UserType: models.UserTypeDriver,
				Type:     models.CancellationTypeTrip,
				TripID:   &id,
				Reason:   reason,
			}); err != nil {
				return err
			}
		}
		trip = t
		return nil
	})
	unlock()
	if err != nil {
		return Result{}, err
	}

	for _, from := range previous {
		metrics.BookingTransitions.WithLabelValues(string(from), string(models.BookingStatusCancelled), string(actor)).Inc()
	}
	log.Printf("BookingService: поездка %d отменена (%s %d), затронуто бронирований: %d", trip.ID, actor, actorID, len(affected))
	events.Emit(ctx, s.publisher, events.Event{
		Type:       events.TypeTripCancelled,
		OccurredAt: trip.UpdatedAt,
		TripID:     trip.ID,
		UserID:     actorID,
		Actor:      actor,
		ToStatus:   string(trip.Status),
		Reason:     reason,
	})

	result := Result{Trip: trip, Affected: affected}
	if actor == models.ActorDriver {
		suspension, report, err := s.tracker.Evaluate(ctx, trip.DriverID, models.UserTypeDriver)
		if err != nil {
			log.Printf("BookingService: ошибка проверки лимита отмен для %d: %v", trip.DriverID, err)
		}
		result.Suspension = suspension
		result.Notifications.Merge(report)
	}
	result.Notifications.Merge(s.notify(ctx, notification.Event{
		Type:     models.TypeTripCancelled,
		Actor:    actor,
		Trip:     trip,
		Bookings: affected,
		Reason:   reason,
	}))
	return result, nil
}

// StartTrip начинает поездку: подтвержденные бронирования переходят в пути,
// ожидающие отклоняются и освобождают места
func (s *Service) StartTrip(ctx context.Context, tripID, driverID uint) (Result, error) {
	unlock := s.locks.Lock(utils.TripKey(tripID))
	var (
		trip     *models.Trip
		started  []models.Booking
		rejected []models.Booking
	)
	err := withRetry(ctx, s.store, func(tx *repository.Store) error {
		started, rejected = nil, nil

		t, err := tx.Trips.GetForUpdate(ctx, tripID)
		if err != nil {
			return notFound(err, "поездка")
		}
		if t.DriverID != driverID {
			return ErrUnauthorized
		}
		if t.Status != models.TripStatusScheduled && t.Status != models.TripStatusFullyBooked {
			return fmt.Errorf("%w: статус поездки %s", ErrTripClosed, t.Status)
		}

		bookings, err := tx.Bookings.ListByTrip(ctx, tripID)
		if err != nil {
			return fmt.Errorf("ошибка при чтении бронирований поездки: %w", err)
		}
		now := s.clock.Now()
		for i := range bookings {
			b := &bookings[i]
			switch b.Status {
			case models.BookingStatusConfirmed:
				b.Status = models.BookingStatusInProgress
				started = append(started, *b)
			case models.BookingStatusPending:
				b.Status = models.BookingStatusRejected
				b.RejectReason = "поездка началась"
				rejected = append(rejected, *b)
			default:
				continue
			}
			b.UpdatedAt = now
			if err := tx.Bookings.Update(ctx, b); err != nil {
				return fmt.Errorf("ошибка при обновлении бронирования %d: %w", b.ID, err)
			}
		}

		t.Status = models.TripStatusInProgress
		t.UpdatedAt = now
		if err := tx.Trips.CompareAndSwap(ctx, t); err != nil {
			return err
		}
		t, err = s.ledger.Recompute(ctx, tx, tripID)
		if err != nil {
			return err
		}
		trip = t
		return nil
	})
	unlock()
	if err != nil {
		return Result{}, err
	}

	log.Printf("BookingService: поездка %d началась, пассажиров в пути: %d, отклонено: %d", trip.ID, len(started), len(rejected))
	events.Emit(ctx, s.publisher, events.Event{Type: events.TypeTripStarted, OccurredAt: trip.UpdatedAt, TripID: trip.ID, UserID: driverID, Actor: models.ActorDriver, ToStatus: string(trip.Status)})

	result := Result{Trip: trip, Affected: started}
	if len(started) > 0 {
		result.Notifications.Merge(s.notify(ctx, notification.Event{Type: models.TypeTripStarting, Actor: models.ActorDriver, Trip: trip, Bookings: started}))
	}
	for i := range rejected {
		result.Notifications.Merge(s.notify(ctx, notification.Event{
			Type:    models.TypeBookingRejected,
			Actor:   models.ActorSystem,
			Trip:    trip,
			Booking: &rejected[i],
			Reason:  rejected[i].RejectReason,
		}))
	}
	return result, nil
}

// RecordPayment фиксирует результат оплаты бронирования и уведомляет участников
func (s *Service) RecordPayment(ctx context.Context, bookingID uint, amount float64, ok bool) (Result, error) {
	current, err := s.store.Bookings.Get(ctx, bookingID)
	if err != nil {
		return Result{}, notFound(err, "бронирование")
	}

	unlock := s.locks.Lock(utils.TripKey(current.TripID))
	b, err := s.store.Bookings.Get(ctx, bookingID)
	if err != nil {
		unlock()
		return Result{}, notFound(err, "бронирование")
	}
	if amount <= 0 {
		amount = b.TotalAmount
	}
	b.PaymentStatus = models.PaymentStatusFailed
	if ok {
		b.PaymentStatus = models.PaymentStatusPaid
	}
	b.UpdatedAt = s.clock.Now()
	err = s.store.Bookings.Update(ctx, b)
	unlock()
	if err != nil {
		return Result{}, fmt.Errorf("ошибка при сохранении оплаты: %w", err)
	}

	typ := models.TypePaymentFailed
	if ok {
		typ = models.TypePaymentReceived
	}
	trip, err := s.store.Trips.Get(ctx, b.TripID)
	if err != nil {
		// оплата уже записана, без поездки уведомления не составить
		log.Printf("BookingService: поездка %d для оплаты бронирования %d не загружена: %v", b.TripID, b.ID, err)
		return Result{Booking: b}, nil
	}
	return Result{
		Booking:       b,
		Trip:          trip,
		Notifications: s.notify(ctx, notification.Event{Type: typ, Actor: models.ActorSystem, Trip: trip, Booking: b, Amount: amount}),
	}, nil
}

// RecomputeAvailability пересчитывает места поездки вне операций бронирования
func (s *Service) RecomputeAvailability(ctx context.Context, tripID uint) (*models.Trip, error) {
	unlock := s.locks.Lock(utils.TripKey(tripID))
	defer unlock()

	var trip *models.Trip
	err := withRetry(ctx, s.store, func(tx *repository.Store) error {
		t, err := s.ledger.Recompute(ctx, tx, tripID)
		if err != nil {
			return notFound(err, "поездка")
		}
		trip = t
		return nil
	})
	return trip, err
}

func (s *Service) GetTrip(ctx context.Context, id uint) (*models.Trip, error) {
	trip, err := s.store.Trips.Get(ctx, id)
	if err != nil {
		return nil, notFound(err, "поездка")
	}
	return trip, nil
}

func (s *Service) GetBooking(ctx context.Context, id uint) (*models.Booking, error) {
	b, err := s.store.Bookings.Get(ctx, id)
	if err != nil {
		return nil, notFound(err, "бронирование")
	}
	return b, nil
}

func (s *Service) ListBookings(ctx context.Context, filter repository.BookingFilter) ([]models.Booking, error) {
	return s.store.Bookings.List(ctx, filter)
}

func (s *Service) notify(ctx context.Context, ev notification.Event) notification.EnqueueReport {
	if s.notifier == nil {
		return notification.EnqueueReport{}
	}
	report := s.notifier.Notify(ctx, ev)
	if err := report.Err(); err != nil {
		log.Printf("BookingService: уведомления %s поставлены не полностью: %v", ev.Type, err)
	}
	return report
}
