package notification

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"time"

	"intercity-backend/internal/models"
	"intercity-backend/internal/repository"
	"intercity-backend/internal/utils"
)

// ErrMissingRecipient - получатель не найден в справочнике пользователей
var ErrMissingRecipient = errors.New("получатель уведомления не найден")

// ErrUnknownEvent - для события нет правил составления
var ErrUnknownEvent = errors.New("неизвестный тип события")

// Event - доменное событие, из которого составляются уведомления
type Event struct {
	Type    models.NotificationType
	Actor   models.Actor
	Trip    *models.Trip
	Booking *models.Booking
	// Bookings - затронутые бронирования для событий уровня поездки
	Bookings []models.Booking

	SubjectUserID     uint
	Reason            string
	Amount            float64
	Status            string
	CancellationCount int
	SuspensionID      string
}

// Outgoing - уведомление для одного получателя
type Outgoing struct {
	Payload models.NotificationPayload
	// Channels задает каналы явно, настройки получателя не применяются
	Channels []models.Channel
}

// ComposeResult - результат составления уведомлений по событию
type ComposeResult struct {
	Messages []Outgoing
	// Missing - получатели, пропущенные из-за отсутствия профиля
	Missing []uint
}

type roleSpec struct {
	role      recipientRole
	template  string
	typ       models.NotificationType
	priority  models.NotificationPriority
	actionURL string
	skipEmail bool
	channels  []models.Channel
	when      func(Event) bool
}

var (
	passenger = passengerRole{}
	driver    = driverRole{}
	operator  = operatorRole{}
	subject   = subjectRole{}
	opsChat   = opsChatRole{}
)

func notBy(a models.Actor) func(Event) bool {
	return func(ev Event) bool { return ev.Actor != a }
}

// eventSpecs: событие -> получатели по ролям
var eventSpecs = map[models.NotificationType][]roleSpec{
	models.TypeBookingCreated: {
		{role: driver, priority: models.PriorityHigh, actionURL: "/driver/bookings"},
		{role: passenger, priority: models.PriorityMedium, actionURL: "/bookings"},
		{role: operator, priority: models.PriorityLow, skipEmail: true, actionURL: "/admin/bookings"},
	},
	models.TypeBookingConfirmed: {
		{role: passenger, priority: models.PriorityHigh, actionURL: "/bookings"},
	},
	models.TypeBookingStarted: {
		{role: passenger, priority: models.PriorityMedium, actionURL: "/bookings"},
	},
	models.TypeBookingCancelled: {
		{role: passenger, priority: models.PriorityHigh, actionURL: "/bookings", when: notBy(models.ActorPassenger)},
		{role: driver, priority: models.PriorityHigh, actionURL: "/driver/bookings", when: notBy(models.ActorDriver)},
		{role: operator, priority: models.PriorityLow, skipEmail: true, actionURL: "/admin/bookings"},
	},
	models.TypeBookingRejected: {
		{role: passenger, priority: models.PriorityHigh, actionURL: "/bookings"},
	},
	models.TypeTripCompleted: {
		{role: passenger, typ: models.TypeBookingCompleted, template: "booking_completed", priority: models.PriorityMedium, actionURL: "/bookings"},
		{role: passenger, typ: models.TypeRatingRequest, template: "rating_request", priority: models.PriorityLow, actionURL: "/bookings/rate"},
		{role: driver, priority: models.PriorityHigh, actionURL: "/driver/trips"},
	},
	models.TypeTripCreated: {
		{role: driver, priority: models.PriorityMedium, actionURL: "/driver/trips"},
		{role: operator, priority: models.PriorityLow, skipEmail: true, actionURL: "/admin/trips"},
	},
	models.TypeTripCancelled: {
		{role: passenger, priority: models.PriorityHigh, actionURL: "/bookings"},
		{role: driver, priority: models.PriorityMedium, actionURL: "/driver/trips"},
		{role: operator, priority: models.PriorityLow, skipEmail: true, actionURL: "/admin/trips"},
	},
	models.TypeTripStarting: {
		{role: passenger, priority: models.PriorityHigh, actionURL: "/bookings"},
	},
	models.TypePaymentReceived: {
		{role: passenger, priority: models.PriorityMedium, actionURL: "/bookings"},
		{role: driver, priority: models.PriorityMedium, actionURL: "/driver/bookings"},
	},
	models.TypePaymentFailed: {
		{role: passenger, priority: models.PriorityHigh, actionURL: "/bookings"},
	},
	models.TypeRegistration: {
		{role: subject, priority: models.PriorityMedium, actionURL: "/profile"},
	},
	models.TypePasswordChanged: {
		{role: subject, priority: models.PriorityHigh, actionURL: "/profile"},
	},
	models.TypeSecurityAlert: {
		{role: subject, priority: models.PriorityCritical, actionURL: "/profile"},
	},
	models.TypeVehicleStatus: {
		{role: subject, priority: models.PriorityMedium, actionURL: "/driver/documents"},
	},
	models.TypeAccountSuspended: {
		{role: subject, priority: models.PriorityCritical, channels: []models.Channel{models.ChannelInApp}},
		{role: opsChat, priority: models.PriorityUrgent, skipEmail: true, channels: []models.Channel{models.ChannelChat}},
	},
	models.TypeAccountReactivated: {
		{role: subject, priority: models.PriorityHigh, actionURL: "/profile"},
	},
}

var typeCategory = map[models.NotificationType]models.NotificationCategory{
	models.TypeBookingCreated:     models.CategoryBooking,
	models.TypeBookingConfirmed:   models.CategoryBooking,
	models.TypeBookingStarted:     models.CategoryBooking,
	models.TypeBookingCancelled:   models.CategoryBooking,
	models.TypeBookingRejected:    models.CategoryBooking,
	models.TypeBookingCompleted:   models.CategoryBooking,
	models.TypeRatingRequest:      models.CategoryBooking,
	models.TypeTripCreated:        models.CategoryTrip,
	models.TypeTripCancelled:      models.CategoryTrip,
	models.TypeTripStarting:       models.CategoryTrip,
	models.TypeTripCompleted:      models.CategoryTrip,
	models.TypePaymentReceived:    models.CategoryPayment,
	models.TypePaymentFailed:      models.CategoryPayment,
	models.TypeRegistration:       models.CategoryAccount,
	models.TypePasswordChanged:    models.CategorySecurity,
	models.TypeSecurityAlert:      models.CategorySecurity,
	models.TypeVehicleStatus:      models.CategoryVehicle,
	models.TypeAccountSuspended:   models.CategoryAccount,
	models.TypeAccountReactivated: models.CategoryAccount,
	models.TypeDeliveryFailed:     models.CategorySystem,
}

// CategoryOf возвращает категорию типа уведомления
func CategoryOf(t models.NotificationType) models.NotificationCategory {
	if c, ok := typeCategory[t]; ok {
		return c
	}
	return models.CategorySystem
}

// Composer составляет тексты уведомлений для каждой роли получателя
type Composer struct {
	users      repository.UserRepository
	prefs      *PreferenceService
	adminIDs   []uint
	retryDelay time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
}

func NewComposer(users repository.UserRepository, prefs *PreferenceService, clock utils.Clock, adminIDs []uint, retryDelay time.Duration) *Composer {
	return &Composer{
		users:      users,
		prefs:      prefs,
		adminIDs:   adminIDs,
		retryDelay: retryDelay,
		sleep: func(ctx context.Context, d time.Duration) error {
			return utils.Sleep(ctx, clock, d)
		},
	}
}

// Compose возвращает уведомления по событию, по одному на получателя и роль.
// Отсутствующий получатель пропускается и попадает в Missing, остальные
// уведомления составляются
func (c *Composer) Compose(ctx context.Context, ev Event) (ComposeResult, error) {
	return c.compose(ctx, ev, nil)
}

// RetryMissing ждет паузу и составляет уведомления заново только для
// получателей из missing. Профиль только что созданного аккаунта может
// появиться с задержкой
func (c *Composer) RetryMissing(ctx context.Context, ev Event, missing []uint) (ComposeResult, error) {
	if err := c.sleep(ctx, c.retryDelay); err != nil {
		return ComposeResult{}, err
	}
	only := make(map[uint]bool, len(missing))
	for _, id := range missing {
		only[id] = true
	}
	return c.compose(ctx, ev, only)
}

func (c *Composer) compose(ctx context.Context, ev Event, only map[uint]bool) (ComposeResult, error) {
	specs, ok := eventSpecs[ev.Type]
	if !ok {
		return ComposeResult{}, fmt.Errorf("%w: %s", ErrUnknownEvent, ev.Type)
	}

	var res ComposeResult
	profiles := make(map[uint]*models.User)
	missing := make(map[uint]bool)

	for _, spec := range specs {
		if spec.when != nil && !spec.when(ev) {
			continue
		}
		targets, err := spec.role.targets(ctx, c, ev)
		if err != nil {
			log.Printf("Composer: ошибка при получении получателей роли %s для %s: %v", spec.role.name(), ev.Type, err)
			continue
		}

		for _, t := range targets {
			if missing[t.userID] || (only != nil && !only[t.userID]) {
				continue
			}
			var recipient *models.User
			if spec.role.needsProfile() {
				u, err := c.recipient(ctx, t.userID, profiles)
				if err != nil {
					log.Printf("Composer: получатель %d (%s) пропущен для %s: %v", t.userID, spec.role.name(), ev.Type, err)
					missing[t.userID] = true
					res.Missing = append(res.Missing, t.userID)
					continue
				}
				recipient = u
			}

			msg, ok := c.build(ctx, spec, ev, t, recipient, profiles)
			if !ok {
				continue
			}
			res.Messages = append(res.Messages, msg)
		}
	}
	return res, nil
}

func (c *Composer) recipient(ctx context.Context, userID uint, cache map[uint]*models.User) (*models.User, error) {
	if u, ok := cache[userID]; ok {
		return u, nil
	}
	u, err := c.users.Get(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrMissingRecipient, userID)
	}
	if err != nil {
		return nil, err
	}
	cache[userID] = u
	return u, nil
}

func (c *Composer) lookup(ctx context.Context, userID uint, cache map[uint]*models.User) *models.User {
	if userID == 0 {
		return nil
	}
	if u, ok := cache[userID]; ok {
		return u
	}
	u, err := c.users.Get(ctx, userID)
	if err != nil {
		return nil
	}
	cache[userID] = u
	return u
}

func (c *Composer) build(ctx context.Context, spec roleSpec, ev Event, t target, recipient *models.User, cache map[uint]*models.User) (Outgoing, bool) {
	typ := ev.Type
	if spec.typ != "" {
		typ = spec.typ
	}
	key := spec.template
	if key == "" {
		key = string(ev.Type)
	}
	key += "." + spec.role.name()

	lang := c.language(ctx, t.userID, recipient)
	title, message, ok := render(lang, key, c.vars(ctx, ev, t, cache))
	if !ok {
		log.Printf("Composer: нет шаблона %s", key)
		return Outgoing{}, false
	}

	payload := models.NotificationPayload{
		UserID:    t.userID,
		Title:     title,
		Message:   message,
		Type:      typ,
		Category:  CategoryOf(typ),
		Priority:  spec.priority,
		ActionURL: spec.actionURL,
		SkipEmail: spec.skipEmail,
		Metadata:  models.MetadataField{Metadata: metadataFor(typ, ev, t)},
	}
	switch {
	case t.booking != nil:
		payload.RelatedID, payload.RelatedType = strconv.FormatUint(uint64(t.booking.ID), 10), "booking"
	case ev.Trip != nil:
		payload.RelatedID, payload.RelatedType = strconv.FormatUint(uint64(ev.Trip.ID), 10), "trip"
	case ev.SubjectUserID != 0:
		payload.RelatedID, payload.RelatedType = strconv.FormatUint(uint64(ev.SubjectUserID), 10), "user"
	}

	return Outgoing{Payload: payload, Channels: spec.channels}, true
}

func (c *Composer) language(ctx context.Context, userID uint, recipient *models.User) string {
	if userID != 0 && c.prefs != nil {
		if p, err := c.prefs.Get(ctx, userID); err == nil && p.Language != "" {
			return p.Language
		}
	}
	if recipient != nil && recipient.Language != "" {
		return recipient.Language
	}
	return DefaultLanguage
}

func displayName(u *models.User, id uint) string {
	if u != nil && u.FullName() != "" {
		return u.FullName()
	}
	return "#" + strconv.FormatUint(uint64(id), 10)
}

func formatMoney(v float64) string {
	return strconv.FormatFloat(v, 'f', 0, 64) + " ₸"
}

func (c *Composer) vars(ctx context.Context, ev Event, t target, cache map[uint]*models.User) map[string]string {
	v := map[string]string{
		"driverName": "", "passengerName": "", "seats": "", "from": "", "to": "",
		"departure": "", "amount": "", "reason": ev.Reason, "bookingId": "", "tripId": "",
		"actor": string(ev.Actor), "affected": "", "passengers": "", "earned": "",
		"userName": "", "subjectId": "", "status": ev.Status,
		"count": strconv.Itoa(ev.CancellationCount),
	}

	var driverID uint
	if ev.Trip != nil {
		driverID = ev.Trip.DriverID
		v["from"] = ev.Trip.FromAddress
		v["to"] = ev.Trip.ToAddress
		v["departure"] = ev.Trip.DepartureDate.Format("02.01.2006 15:04")
		v["tripId"] = strconv.FormatUint(uint64(ev.Trip.ID), 10)
		v["seats"] = strconv.Itoa(ev.Trip.TotalSeats)
	}

	booking := t.booking
	if booking == nil {
		booking = ev.Booking
	}
	if booking != nil {
		if driverID == 0 {
			driverID = booking.DriverID
		}
		v["passengerName"] = displayName(c.lookup(ctx, booking.PassengerID, cache), booking.PassengerID)
		v["seats"] = strconv.Itoa(booking.SeatsBooked)
		v["bookingId"] = strconv.FormatUint(uint64(booking.ID), 10)
		v["tripId"] = strconv.FormatUint(uint64(booking.TripID), 10)
		v["amount"] = formatMoney(booking.TotalAmount)
	}
	if ev.Amount > 0 {
		v["amount"] = formatMoney(ev.Amount)
	}
	if driverID != 0 {
		v["driverName"] = displayName(c.lookup(ctx, driverID, cache), driverID)
	}

	if len(ev.Bookings) > 0 {
		var earned float64
		for _, b := range ev.Bookings {
			earned += b.TotalAmount
		}
		v["affected"] = strconv.Itoa(len(ev.Bookings))
		v["passengers"] = strconv.Itoa(len(ev.Bookings))
		v["earned"] = formatMoney(earned)
	} else {
		v["affected"] = "0"
	}

	if ev.SubjectUserID != 0 {
		v["subjectId"] = strconv.FormatUint(uint64(ev.SubjectUserID), 10)
		v["userName"] = displayName(c.lookup(ctx, ev.SubjectUserID, cache), ev.SubjectUserID)
	}
	return v
}

func metadataFor(typ models.NotificationType, ev Event, t target) models.Metadata {
	booking := t.booking
	if booking == nil {
		booking = ev.Booking
	}

	switch typ {
	case models.TypeTripCompleted:
		if ev.Trip == nil {
			return nil
		}
		var earned float64
		for _, b := range ev.Bookings {
			earned += b.TotalAmount
		}
		return models.TripCompletionMetadata{TripID: ev.Trip.ID, Passengers: len(ev.Bookings), Earned: earned}
	case models.TypeRatingRequest:
		if booking == nil {
			return nil
		}
		return models.RatingMetadata{BookingID: booking.ID, TripID: booking.TripID, DriverID: booking.DriverID}
	case models.TypePaymentReceived, models.TypePaymentFailed:
		if booking == nil {
			return nil
		}
		amount := ev.Amount
		if amount == 0 {
			amount = booking.TotalAmount
		}
		return models.PaymentMetadata{
			BookingID: booking.ID,
			Amount:    amount,
			Method:    booking.PaymentMethod,
			Succeeded: typ == models.TypePaymentReceived,
		}
	case models.TypeAccountSuspended, models.TypeAccountReactivated, models.TypeRegistration,
		models.TypePasswordChanged, models.TypeSecurityAlert:
		return models.AccountMetadata{
			SubjectUserID:     ev.SubjectUserID,
			Reason:            ev.Reason,
			CancellationCount: ev.CancellationCount,
			SuspensionID:      ev.SuspensionID,
		}
	case models.TypeVehicleStatus:
		return models.VehicleMetadata{Status: ev.Status, Comment: ev.Reason}
	}

	if booking != nil {
		return models.BookingMetadata{
			BookingID: booking.ID,
			TripID:    booking.TripID,
			Seats:     booking.SeatsBooked,
			Status:    booking.Status,
			Reason:    ev.Reason,
		}
	}
	if ev.Trip != nil {
		return models.TripMetadata{
			TripID:           ev.Trip.ID,
			DepartureDate:    ev.Trip.DepartureDate,
			AffectedBookings: len(ev.Bookings),
			Reason:           ev.Reason,
		}
	}
	return nil
}

// operatorIDs - администраторы из справочника и из конфигурации, без повторов
func (c *Composer) operatorIDs(ctx context.Context) ([]uint, error) {
	seen := make(map[uint]bool)
	var ids []uint
	for _, id := range c.adminIDs {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	admins, err := c.users.ListByRole(ctx, models.RoleAdmin)
	if err != nil {
		return ids, err
	}
	for _, a := range admins {
		if !seen[a.ID] {
			seen[a.ID] = true
			ids = append(ids, a.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// deliveryFailureAlert - оповещение операторов о недоставленном уведомлении
func deliveryFailureAlert(item *models.NotificationQueueItem) models.NotificationPayload {
	vars := map[string]string{
		"queueId":  item.ID,
		"type":     string(item.Type),
		"userId":   strconv.FormatUint(uint64(item.UserID), 10),
		"attempts": strconv.Itoa(item.Attempts),
		"error":    item.LastError,
	}
	title, message, _ := render(DefaultLanguage, "delivery_failed.chat", vars)
	return models.NotificationPayload{
		Title:       title,
		Message:     message,
		Type:        models.TypeDeliveryFailed,
		Category:    models.CategorySystem,
		Priority:    models.PriorityUrgent,
		RelatedID:   item.ID,
		RelatedType: "notification_queue",
		SkipEmail:   true,
		Metadata: models.MetadataField{Metadata: models.DeliveryFailureMetadata{
			QueueItemID:  item.ID,
			RecipientID:  item.UserID,
			OriginalType: item.Type,
			Attempts:     item.Attempts,
			LastError:    item.LastError,
		}},
	}
}
