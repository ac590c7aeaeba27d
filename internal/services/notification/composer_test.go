package notification

import (
	"context"
	"strings"
	"testing"
	"time"

	"intercity-backend/internal/models"
)

func sampleTrip() *models.Trip {
	return &models.Trip{
		ID:            7,
		DriverID:      2,
		FromAddress:   "Алматы",
		ToAddress:     "Астана",
		DepartureDate: time.Date(2026, 3, 12, 9, 0, 0, 0, time.UTC),
		Price:         5000,
		TotalSeats:    4,
		Status:        models.TripStatusScheduled,
	}
}

func sampleBooking() *models.Booking {
	return &models.Booking{
		ID:            42,
		TripID:        7,
		PassengerID:   1,
		DriverID:      2,
		SeatsBooked:   2,
		TotalAmount:   10000,
		PaymentMethod: models.PaymentMethodCash,
		Status:        models.BookingStatusPending,
	}
}

func findMessage(msgs []Outgoing, userID uint, typ models.NotificationType) *Outgoing {
	for i := range msgs {
		if msgs[i].Payload.UserID == userID && msgs[i].Payload.Type == typ {
			return &msgs[i]
		}
	}
	return nil
}

func TestComposeBookingCreatedIsRoleAware(t *testing.T) {
	env := newTestEnv(t, 9)
	env.addUser(t, 1, models.RolePassenger, "Анна")
	env.addUser(t, 2, models.RoleDriver, "Тимур")
	env.addUser(t, 9, models.RoleAdmin, "Оператор")

	res, err := env.composer.Compose(context.Background(), Event{
		Type:    models.TypeBookingCreated,
		Actor:   models.ActorPassenger,
		Trip:    sampleTrip(),
		Booking: sampleBooking(),
	})
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if len(res.Messages) != 3 {
		t.Fatalf("expected driver, passenger and operator payloads, got %d", len(res.Messages))
	}

	drv := findMessage(res.Messages, 2, models.TypeBookingCreated)
	if drv == nil || drv.Payload.Priority != models.PriorityHigh || drv.Payload.ActionURL != "/driver/bookings" {
		t.Fatalf("unexpected driver payload: %+v", drv)
	}
	if !strings.Contains(drv.Payload.Message, "Анна") || !strings.Contains(drv.Payload.Message, "2") {
		t.Fatalf("driver message must mention passenger and seats: %q", drv.Payload.Message)
	}

	pas := findMessage(res.Messages, 1, models.TypeBookingCreated)
	if pas == nil || pas.Payload.Priority != models.PriorityMedium {
		t.Fatalf("unexpected passenger payload: %+v", pas)
	}

	op := findMessage(res.Messages, 9, models.TypeBookingCreated)
	if op == nil || op.Payload.Priority != models.PriorityLow || !op.Payload.SkipEmail {
		t.Fatalf("unexpected operator payload: %+v", op)
	}

	meta, ok := pas.Payload.Metadata.Metadata.(models.BookingMetadata)
	if !ok || meta.BookingID != 42 || meta.Seats != 2 {
		t.Fatalf("unexpected metadata: %#v", pas.Payload.Metadata.Metadata)
	}
	if pas.Payload.RelatedType != "booking" || pas.Payload.RelatedID != "42" {
		t.Fatalf("unexpected related reference: %s/%s", pas.Payload.RelatedType, pas.Payload.RelatedID)
	}
}

func TestComposeWithoutOperatorsOmitsOperatorPayload(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, 1, models.RolePassenger, "Анна")
	env.addUser(t, 2, models.RoleDriver, "Тимур")

	res, err := env.composer.Compose(context.Background(), Event{
		Type: models.TypeBookingCreated, Trip: sampleTrip(), Booking: sampleBooking(),
	})
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if len(res.Messages) != 2 || len(res.Missing) != 0 {
		t.Fatalf("expected 2 payloads and no missing, got %d / %v", len(res.Messages), res.Missing)
	}
}

func TestComposeRetriesMissingRecipientOnce(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.addUser(t, 2, models.RoleDriver, "Тимур")

	ev := Event{Type: models.TypeBookingCreated, Actor: models.ActorPassenger, Trip: sampleTrip(), Booking: sampleBooking()}
	res, err := env.composer.Compose(ctx, ev)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if len(res.Missing) != 1 || res.Missing[0] != 1 {
		t.Fatalf("expected passenger 1 missing on first pass, got %v", res.Missing)
	}

	sleeps := 0
	env.composer.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps++
		// профиль пассажира появляется, пока составитель ждет
		env.addUser(t, 1, models.RolePassenger, "Анна")
		return nil
	}

	res, err = env.composer.RetryMissing(ctx, ev, res.Missing)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if sleeps != 1 {
		t.Fatalf("expected exactly one retry pause, got %d", sleeps)
	}
	// повтор составляет только пропущенных, водитель уже получил свое
	if len(res.Messages) != 1 || res.Messages[0].Payload.UserID != 1 || len(res.Missing) != 0 {
		t.Fatalf("expected only passenger payload after retry, got %+v", res)
	}
}

func TestComposeSkipsPermanentlyMissingRecipient(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, 2, models.RoleDriver, "Тимур")

	res, err := env.composer.Compose(context.Background(), Event{
		Type: models.TypeBookingCreated, Actor: models.ActorPassenger, Trip: sampleTrip(), Booking: sampleBooking(),
	})
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if len(res.Missing) != 1 || res.Missing[0] != 1 {
		t.Fatalf("expected passenger 1 missing, got %v", res.Missing)
	}
	if len(res.Messages) != 1 || res.Messages[0].Payload.UserID != 2 {
		t.Fatalf("driver payload must still be composed, got %+v", res.Messages)
	}
}

func TestComposeTripCompletionFanOut(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, 2, models.RoleDriver, "Тимур")
	var completed []models.Booking
	for i, pid := range []uint{1, 3, 4} {
		env.addUser(t, pid, models.RolePassenger, "p")
		completed = append(completed, models.Booking{
			ID: uint(40 + i), TripID: 7, PassengerID: pid, DriverID: 2,
			SeatsBooked: 1, TotalAmount: 5000, Status: models.BookingStatusCompleted,
		})
	}

	res, err := env.composer.Compose(context.Background(), Event{
		Type: models.TypeTripCompleted, Actor: models.ActorDriver, Trip: sampleTrip(), Bookings: completed,
	})
	if err != nil {
		t.Fatalf("compose: %v", err)
	}

	counts := map[models.NotificationType]int{}
	for _, m := range res.Messages {
		counts[m.Payload.Type]++
	}
	if counts[models.TypeBookingCompleted] != 3 || counts[models.TypeRatingRequest] != 3 || counts[models.TypeTripCompleted] != 1 {
		t.Fatalf("unexpected fan-out: %v", counts)
	}

	drv := findMessage(res.Messages, 2, models.TypeTripCompleted)
	meta, ok := drv.Payload.Metadata.Metadata.(models.TripCompletionMetadata)
	if !ok || meta.Passengers != 3 || meta.Earned != 15000 {
		t.Fatalf("unexpected driver completion metadata: %#v", drv.Payload.Metadata.Metadata)
	}
}

func TestComposeUsesRecipientLanguage(t *testing.T) {
	env := newTestEnv(t)
	u := env.addUser(t, 1, models.RolePassenger, "Anna")
	env.addUser(t, 2, models.RoleDriver, "Timur")
	lang := "en"
	if _, err := env.prefs.Update(context.Background(), u.ID, models.PreferencesPatch{Language: &lang}); err != nil {
		t.Fatalf("update: %v", err)
	}

	res, _ := env.composer.Compose(context.Background(), Event{
		Type: models.TypeBookingConfirmed, Actor: models.ActorDriver, Trip: sampleTrip(), Booking: sampleBooking(),
	})
	if len(res.Messages) != 1 || res.Messages[0].Payload.Title != "Booking confirmed" {
		t.Fatalf("expected english title, got %+v", res.Messages)
	}
	if !strings.Contains(res.Messages[0].Payload.Message, "Timur") {
		t.Fatalf("driver name must be substituted: %q", res.Messages[0].Payload.Message)
	}
}

func TestComposeCancellationNotifiesCounterparty(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, 1, models.RolePassenger, "Анна")
	env.addUser(t, 2, models.RoleDriver, "Тимур")

	res, _ := env.composer.Compose(context.Background(), Event{
		Type: models.TypeBookingCancelled, Actor: models.ActorPassenger, Trip: sampleTrip(), Booking: sampleBooking(),
	})
	if len(res.Messages) != 1 || res.Messages[0].Payload.UserID != 2 {
		t.Fatalf("passenger cancellation must notify only the driver, got %+v", res.Messages)
	}

	res, _ = env.composer.Compose(context.Background(), Event{
		Type: models.TypeBookingCancelled, Actor: models.ActorAdmin, Trip: sampleTrip(), Booking: sampleBooking(),
	})
	if len(res.Messages) != 2 {
		t.Fatalf("admin cancellation must notify both parties, got %d", len(res.Messages))
	}
}

func TestComposeUnknownEvent(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.composer.Compose(context.Background(), Event{Type: "unknown"}); err == nil {
		t.Fatal("expected error for unknown event")
	}
}
