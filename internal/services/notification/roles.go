package notification

import (
	"context"

	"intercity-backend/internal/models"
)

// target - конкретный получатель уведомления
type target struct {
	userID uint
	// booking, к которому относится уведомление, если есть
	booking *models.Booking
}

// recipientRole определяет, кто получает уведомление в своей роли
type recipientRole interface {
	name() string
	targets(ctx context.Context, c *Composer, ev Event) ([]target, error)
	// needsProfile сообщает, что получатель должен существовать в справочнике пользователей
	needsProfile() bool
}

type passengerRole struct{}

func (passengerRole) name() string       { return "passenger" }
func (passengerRole) needsProfile() bool { return true }

func (passengerRole) targets(_ context.Context, _ *Composer, ev Event) ([]target, error) {
	if len(ev.Bookings) > 0 {
		out := make([]target, 0, len(ev.Bookings))
		for i := range ev.Bookings {
			b := &ev.Bookings[i]
			out = append(out, target{userID: b.PassengerID, booking: b})
		}
		return out, nil
	}
	if ev.Booking != nil {
		return []target{{userID: ev.Booking.PassengerID, booking: ev.Booking}}, nil
	}
	return nil, nil
}

type driverRole struct{}

func (driverRole) name() string       { return "driver" }
func (driverRole) needsProfile() bool { return true }

func (driverRole) targets(_ context.Context, _ *Composer, ev Event) ([]target, error) {
	// уведомление уровня поездки не привязывается к одному бронированию
	booking := ev.Booking
	if len(ev.Bookings) > 0 {
		booking = nil
	}
	switch {
	case ev.Trip != nil:
		return []target{{userID: ev.Trip.DriverID, booking: booking}}, nil
	case ev.Booking != nil:
		return []target{{userID: ev.Booking.DriverID, booking: ev.Booking}}, nil
	}
	return nil, nil
}

// operatorRole - администраторы, получают мониторинговые уведомления
type operatorRole struct{}

func (operatorRole) name() string       { return "operator" }
func (operatorRole) needsProfile() bool { return false }

func (operatorRole) targets(ctx context.Context, c *Composer, ev Event) ([]target, error) {
	ids, err := c.operatorIDs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]target, 0, len(ids))
	for _, id := range ids {
		out = append(out, target{userID: id, booking: ev.Booking})
	}
	return out, nil
}

// subjectRole - пользователь, которого касается событие аккаунта
type subjectRole struct{}

func (subjectRole) name() string       { return "subject" }
func (subjectRole) needsProfile() bool { return true }

func (subjectRole) targets(_ context.Context, _ *Composer, ev Event) ([]target, error) {
	if ev.SubjectUserID == 0 {
		return nil, nil
	}
	return []target{{userID: ev.SubjectUserID}}, nil
}

// opsChatRole - общий чат операторов, у получателя нет учетной записи
type opsChatRole struct{}

func (opsChatRole) name() string       { return "chat" }
func (opsChatRole) needsProfile() bool { return false }

func (opsChatRole) targets(_ context.Context, _ *Composer, _ Event) ([]target, error) {
	return []target{{userID: 0}}, nil
}
