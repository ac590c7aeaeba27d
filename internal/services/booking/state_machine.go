package booking

import (
	"fmt"

	"intercity-backend/internal/models"
)

type edges map[models.BookingStatus][]models.BookingStatus

// Разрешенные переходы по ролям. Администратор и система могут отменить
// любое незавершенное бронирование, система также отклоняет просроченные ожидающие
var roleTransitions = map[models.Actor]edges{
	models.ActorDriver: {
		models.BookingStatusPending:    {models.BookingStatusConfirmed, models.BookingStatusRejected},
		models.BookingStatusConfirmed:  {models.BookingStatusInProgress, models.BookingStatusCancelled},
		models.BookingStatusInProgress: {models.BookingStatusCompleted},
	},
	models.ActorPassenger: {
		models.BookingStatusPending:   {models.BookingStatusCancelled},
		models.BookingStatusConfirmed: {models.BookingStatusCancelled},
	},
	models.ActorAdmin: {
		models.BookingStatusPending:    {models.BookingStatusCancelled},
		models.BookingStatusConfirmed:  {models.BookingStatusCancelled},
		models.BookingStatusInProgress: {models.BookingStatusCancelled},
	},
	models.ActorSystem: {
		models.BookingStatusPending:    {models.BookingStatusCancelled, models.BookingStatusRejected},
		models.BookingStatusConfirmed:  {models.BookingStatusCancelled},
		models.BookingStatusInProgress: {models.BookingStatusCancelled},
	},
}

// CanTransition проверяет, может ли actor перевести бронирование из from в to
func CanTransition(from, to models.BookingStatus, actor models.Actor) error {
	if from.IsTerminal() {
		return fmt.Errorf("%w: бронирование уже в статусе %s", ErrInvalidTransition, from)
	}
	for _, next := range roleTransitions[actor][from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s для %s", ErrInvalidTransition, from, to, actor)
}

// authorize проверяет, что инициатор участвует в бронировании
func authorize(b *models.Booking, actor models.Actor, actorID uint) error {
	switch actor {
	case models.ActorDriver:
		if b.DriverID != actorID {
			return ErrUnauthorized
		}
	case models.ActorPassenger:
		if b.PassengerID != actorID {
			return ErrUnauthorized
		}
	case models.ActorAdmin, models.ActorSystem:
	default:
		return fmt.Errorf("%w: неизвестный инициатор %q", ErrInvalidRequest, actor)
	}
	return nil
}

// canceller возвращает, на кого записывается отмена. Отмены администратора
// и системы не учитываются в счетчике отмен
func canceller(actor models.Actor) (models.UserType, bool) {
	switch actor {
	case models.ActorDriver:
		return models.UserTypeDriver, true
	case models.ActorPassenger:
		return models.UserTypePassenger, true
	}
	return "", false
}
