package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"intercity-backend/internal/models"

	"github.com/lib/pq"
)

// memoryDB держит все записи в памяти процесса. Используется в тестах
// и при запуске без Postgres. Atomic не откатывает изменения: сервисы
// сериализуют мутации одной поездки через собственные блокировки
type memoryDB struct {
	mu sync.RWMutex

	trips         map[uint]models.Trip
	bookings      map[uint]models.Booking
	cancellations []models.CancellationRecord
	suspensions   map[string]models.Suspension
	preferences   map[uint]*models.NotificationPreferences
	queue         map[string]models.NotificationQueueItem
	notifications map[string]models.Notification
	users         map[uint]models.User

	nextTripID    uint
	nextBookingID uint
	nextUserID    uint
}

// NewMemoryStore создает хранилище в памяти
func NewMemoryStore() *Store {
	db := &memoryDB{
		trips:         make(map[uint]models.Trip),
		bookings:      make(map[uint]models.Booking),
		suspensions:   make(map[string]models.Suspension),
		preferences:   make(map[uint]*models.NotificationPreferences),
		queue:         make(map[string]models.NotificationQueueItem),
		notifications: make(map[string]models.Notification),
		users:         make(map[uint]models.User),
	}
	return &Store{
		Trips:         memoryTrips{db},
		Bookings:      memoryBookings{db},
		Cancellations: memoryCancellations{db},
		Suspensions:   memorySuspensions{db},
		Preferences:   memoryPreferences{db},
		Queue:         memoryQueue{db},
		Notifications: memoryNotifications{db},
		Users:         memoryUsers{db},
	}
}

type memoryTrips struct{ db *memoryDB }

func (r memoryTrips) Create(_ context.Context, trip *models.Trip) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if trip.ID == 0 {
		r.db.nextTripID++
		trip.ID = r.db.nextTripID
	} else if trip.ID > r.db.nextTripID {
		r.db.nextTripID = trip.ID
	}
	r.db.trips[trip.ID] = *trip
	return nil
}

func (r memoryTrips) Get(_ context.Context, id uint) (*models.Trip, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	trip, ok := r.db.trips[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &trip, nil
}

func (r memoryTrips) GetForUpdate(ctx context.Context, id uint) (*models.Trip, error) {
	return r.Get(ctx, id)
}

func (r memoryTrips) CompareAndSwap(_ context.Context, trip *models.Trip) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	stored, ok := r.db.trips[trip.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != trip.Version {
		return ErrConflict
	}
	trip.Version++
	r.db.trips[trip.ID] = *trip
	return nil
}

type memoryBookings struct{ db *memoryDB }

func (r memoryBookings) Create(_ context.Context, booking *models.Booking) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if booking.ID == 0 {
		r.db.nextBookingID++
		booking.ID = r.db.nextBookingID
	} else if booking.ID > r.db.nextBookingID {
		r.db.nextBookingID = booking.ID
	}
	r.db.bookings[booking.ID] = *booking
	return nil
}

func (r memoryBookings) Get(_ context.Context, id uint) (*models.Booking, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	booking, ok := r.db.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &booking, nil
}

func (r memoryBookings) Update(_ context.Context, booking *models.Booking) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if _, ok := r.db.bookings[booking.ID]; !ok {
		return ErrNotFound
	}
	r.db.bookings[booking.ID] = *booking
	return nil
}

func (r memoryBookings) ListByTrip(ctx context.Context, tripID uint) ([]models.Booking, error) {
	return r.List(ctx, BookingFilter{TripID: tripID})
}

func (r memoryBookings) List(_ context.Context, filter BookingFilter) ([]models.Booking, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	var result []models.Booking
	for _, b := range r.db.bookings {
		if filter.TripID != 0 && b.TripID != filter.TripID {
			continue
		}
		if filter.PassengerID != 0 && b.PassengerID != filter.PassengerID {
			continue
		}
		if filter.DriverID != 0 && b.DriverID != filter.DriverID {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, b.Status) {
			continue
		}
		if !filter.CreatedBefore.IsZero() && !b.CreatedAt.Before(filter.CreatedBefore) {
			continue
		}
		result = append(result, b)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func containsStatus(list []models.BookingStatus, s models.BookingStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

type memoryCancellations struct{ db *memoryDB }

func (r memoryCancellations) Append(_ context.Context, record *models.CancellationRecord) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	r.db.cancellations = append(r.db.cancellations, *record)
	return nil
}

func (r memoryCancellations) CountSince(_ context.Context, userID uint, userType models.UserType, since time.Time) (int, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	count := 0
	for _, c := range r.db.cancellations {
		if c.UserID == userID && c.UserType == userType && c.Timestamp.After(since) {
			count++
		}
	}
	return count, nil
}

func (r memoryCancellations) ListByUser(_ context.Context, userID uint) ([]models.CancellationRecord, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	var result []models.CancellationRecord
	for _, c := range r.db.cancellations {
		if c.UserID == userID {
			result = append(result, c)
		}
	}
	return result, nil
}

type memorySuspensions struct{ db *memoryDB }

func (r memorySuspensions) Create(_ context.Context, s *models.Suspension) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	r.db.suspensions[s.ID] = *s
	return nil
}

func (r memorySuspensions) Update(_ context.Context, s *models.Suspension) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if _, ok := r.db.suspensions[s.ID]; !ok {
		return ErrNotFound
	}
	r.db.suspensions[s.ID] = *s
	return nil
}

func (r memorySuspensions) GetOpen(_ context.Context, userID uint) (*models.Suspension, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	for _, s := range r.db.suspensions {
		if s.UserID == userID && s.IsOpen() {
			found := s
			return &found, nil
		}
	}
	return nil, ErrNotFound
}

func (r memorySuspensions) ListOpen(_ context.Context) ([]models.Suspension, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	var result []models.Suspension
	for _, s := range r.db.suspensions {
		if s.IsOpen() {
			result = append(result, s)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].SuspendedAt.Before(result[j].SuspendedAt) })
	return result, nil
}

func (r memorySuspensions) LastReactivation(_ context.Context, userID uint) (*time.Time, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	var last *time.Time
	for _, s := range r.db.suspensions {
		if s.UserID != userID || s.ReactivatedAt == nil {
			continue
		}
		if last == nil || s.ReactivatedAt.After(*last) {
			t := *s.ReactivatedAt
			last = &t
		}
	}
	return last, nil
}

type memoryPreferences struct{ db *memoryDB }

func (r memoryPreferences) Get(_ context.Context, userID uint) (*models.NotificationPreferences, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	p, ok := r.db.preferences[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

func (r memoryPreferences) Upsert(_ context.Context, p *models.NotificationPreferences) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	r.db.preferences[p.UserID] = p.Clone()
	return nil
}

type memoryQueue struct{ db *memoryDB }

func cloneQueueItem(item models.NotificationQueueItem) models.NotificationQueueItem {
	item.Channels = append(pq.StringArray(nil), item.Channels...)
	item.DeliveredChannels = append(pq.StringArray(nil), item.DeliveredChannels...)
	return item
}

func (r memoryQueue) Upsert(_ context.Context, item *models.NotificationQueueItem) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	r.db.queue[item.ID] = cloneQueueItem(*item)
	return nil
}

func (r memoryQueue) Get(_ context.Context, id string) (*models.NotificationQueueItem, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	item, ok := r.db.queue[id]
	if !ok {
		return nil, ErrNotFound
	}
	item = cloneQueueItem(item)
	return &item, nil
}

func (r memoryQueue) ListByStatus(_ context.Context, statuses ...models.QueueStatus) ([]models.NotificationQueueItem, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	var result []models.NotificationQueueItem
	for _, item := range r.db.queue {
		if len(statuses) > 0 && !containsQueueStatus(statuses, item.Status) {
			continue
		}
		result = append(result, cloneQueueItem(item))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func containsQueueStatus(list []models.QueueStatus, s models.QueueStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (r memoryQueue) FindActiveByDedupeKey(_ context.Context, key string) (*models.NotificationQueueItem, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	for _, item := range r.db.queue {
		if item.DedupeKey == key && item.Status != models.QueueStatusFailed && item.Status != models.QueueStatusExpired {
			found := cloneQueueItem(item)
			return &found, nil
		}
	}
	return nil, ErrNotFound
}

func (r memoryQueue) UpdateIfStatus(_ context.Context, item *models.NotificationQueueItem, expected ...models.QueueStatus) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	current, ok := r.db.queue[item.ID]
	if !ok {
		return false, ErrNotFound
	}
	if !containsQueueStatus(expected, current.Status) {
		return false, nil
	}
	r.db.queue[item.ID] = cloneQueueItem(*item)
	return true, nil
}

func (r memoryQueue) DeleteFinishedBefore(_ context.Context, before time.Time) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	var removed int64
	for id, item := range r.db.queue {
		if item.Status.IsFinished() && item.UpdatedAt.Before(before) {
			delete(r.db.queue, id)
			removed++
		}
	}
	return removed, nil
}

type memoryNotifications struct{ db *memoryDB }

func (r memoryNotifications) Create(_ context.Context, n *models.Notification) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	r.db.notifications[n.ID] = *n
	return nil
}

func (r memoryNotifications) ListByUser(_ context.Context, userID uint, limit int) ([]models.Notification, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	var result []models.Notification
	for _, n := range r.db.notifications {
		if n.UserID == userID {
			result = append(result, n)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r memoryNotifications) MarkRead(_ context.Context, userID uint, id string, at time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	n, ok := r.db.notifications[id]
	if !ok || n.UserID != userID {
		return ErrNotFound
	}
	if !n.Read {
		n.Read = true
		n.ReadAt = &at
		r.db.notifications[id] = n
	}
	return nil
}

func (r memoryNotifications) CountUnread(_ context.Context, userID uint) (int64, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	var count int64
	for _, n := range r.db.notifications {
		if n.UserID == userID && !n.Read {
			count++
		}
	}
	return count, nil
}

type memoryUsers struct{ db *memoryDB }

func (r memoryUsers) Create(_ context.Context, u *models.User) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if u.ID == 0 {
		r.db.nextUserID++
		u.ID = r.db.nextUserID
	} else if u.ID > r.db.nextUserID {
		r.db.nextUserID = u.ID
	}
	r.db.users[u.ID] = *u
	return nil
}

func (r memoryUsers) CreateIfMissing(_ context.Context, u *models.User) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if existing, ok := r.db.users[u.ID]; ok {
		*u = existing
		return false, nil
	}
	if u.ID > r.db.nextUserID {
		r.db.nextUserID = u.ID
	}
	r.db.users[u.ID] = *u
	return true, nil
}

func (r memoryUsers) Update(_ context.Context, u *models.User) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if _, ok := r.db.users[u.ID]; !ok {
		return ErrNotFound
	}
	r.db.users[u.ID] = *u
	return nil
}

func (r memoryUsers) Get(_ context.Context, id uint) (*models.User, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	u, ok := r.db.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (r memoryUsers) ListByRole(_ context.Context, role models.UserRole) ([]models.User, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	var result []models.User
	for _, u := range r.db.users {
		if u.Role == role {
			result = append(result, u)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}
