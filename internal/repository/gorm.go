package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"intercity-backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// NewGormStore создает хранилище поверх Postgres
func NewGormStore(db *gorm.DB) *Store {
	s := newGormRepos(db)
	s.atomic = func(ctx context.Context, fn func(tx *Store) error) error {
		return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return fn(newGormRepos(tx))
		})
	}
	return s
}

func newGormRepos(db *gorm.DB) *Store {
	return &Store{
		Trips:         gormTrips{db},
		Bookings:      gormBookings{db},
		Cancellations: gormCancellations{db},
		Suspensions:   gormSuspensions{db},
		Preferences:   gormPreferences{db},
		Queue:         gormQueue{db},
		Notifications: gormNotifications{db},
		Users:         gormUsers{db},
	}
}

// AutoMigrate создает таблицы всех моделей движка
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Trip{},
		&models.Booking{},
		&models.CancellationRecord{},
		&models.Suspension{},
		&models.NotificationPreferences{},
		&models.NotificationQueueItem{},
		&models.Notification{},
	)
}

func wrapErr(err error, action string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", action, err)
}

type gormTrips struct{ db *gorm.DB }

func (r gormTrips) Create(ctx context.Context, trip *models.Trip) error {
	return wrapErr(r.db.WithContext(ctx).Create(trip).Error, "ошибка при создании поездки")
}

func (r gormTrips) Get(ctx context.Context, id uint) (*models.Trip, error) {
	var trip models.Trip
	if err := r.db.WithContext(ctx).First(&trip, id).Error; err != nil {
		return nil, wrapErr(err, "ошибка при получении поездки")
	}
	return &trip, nil
}

func (r gormTrips) GetForUpdate(ctx context.Context, id uint) (*models.Trip, error) {
	var trip models.Trip
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&trip, id).Error; err != nil {
		return nil, wrapErr(err, "ошибка при блокировке поездки")
	}
	return &trip, nil
}

func (r gormTrips) CompareAndSwap(ctx context.Context, trip *models.Trip) error {
	res := r.db.WithContext(ctx).Model(&models.Trip{}).
		Where("id = ? AND version = ?", trip.ID, trip.Version).
		Updates(map[string]interface{}{
			"available_seats":     trip.AvailableSeats,
			"status":              trip.Status,
			"cancellation_reason": trip.CancellationReason,
			"version":             trip.Version + 1,
			"updated_at":          trip.UpdatedAt,
		})
	if res.Error != nil {
		return wrapErr(res.Error, "ошибка при обновлении поездки")
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	trip.Version++
	return nil
}

type gormBookings struct{ db *gorm.DB }

func (r gormBookings) Create(ctx context.Context, booking *models.Booking) error {
	return wrapErr(r.db.WithContext(ctx).Create(booking).Error, "ошибка при создании бронирования")
}

func (r gormBookings) Get(ctx context.Context, id uint) (*models.Booking, error) {
	var booking models.Booking
	if err := r.db.WithContext(ctx).First(&booking, id).Error; err != nil {
		return nil, wrapErr(err, "ошибка при получении бронирования")
	}
	return &booking, nil
}

func (r gormBookings) Update(ctx context.Context, booking *models.Booking) error {
	res := r.db.WithContext(ctx).Model(booking).Select("*").Updates(booking)
	if res.Error != nil {
		return wrapErr(res.Error, "ошибка при обновлении бронирования")
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r gormBookings) ListByTrip(ctx context.Context, tripID uint) ([]models.Booking, error) {
	return r.List(ctx, BookingFilter{TripID: tripID})
}

func (r gormBookings) List(ctx context.Context, filter BookingFilter) ([]models.Booking, error) {
	q := r.db.WithContext(ctx).Model(&models.Booking{})
	if filter.TripID != 0 {
		q = q.Where("trip_id = ?", filter.TripID)
	}
	if filter.PassengerID != 0 {
		q = q.Where("passenger_id = ?", filter.PassengerID)
	}
	if filter.DriverID != 0 {
		q = q.Where("driver_id = ?", filter.DriverID)
	}
	if len(filter.Statuses) > 0 {
		q = q.Where("status IN ?", filter.Statuses)
	}
	if !filter.CreatedBefore.IsZero() {
		q = q.Where("created_at < ?", filter.CreatedBefore)
	}

	var bookings []models.Booking
	if err := q.Order("id").Find(&bookings).Error; err != nil {
		return nil, wrapErr(err, "ошибка при получении бронирований")
	}
	return bookings, nil
}

type gormCancellations struct{ db *gorm.DB }

func (r gormCancellations) Append(ctx context.Context, record *models.CancellationRecord) error {
	return wrapErr(r.db.WithContext(ctx).Create(record).Error, "ошибка при записи отмены")
}

func (r gormCancellations) CountSince(ctx context.Context, userID uint, userType models.UserType, since time.Time) (int, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.CancellationRecord{}).
		Where("user_id = ? AND user_type = ? AND timestamp > ?", userID, userType, since).
		Count(&count).Error; err != nil {
		return 0, wrapErr(err, "ошибка при подсчете отмен")
	}
	return int(count), nil
}

func (r gormCancellations) ListByUser(ctx context.Context, userID uint) ([]models.CancellationRecord, error) {
	var records []models.CancellationRecord
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("timestamp DESC").
		Find(&records).Error; err != nil {
		return nil, wrapErr(err, "ошибка при получении отмен")
	}
	return records, nil
}

type gormSuspensions struct{ db *gorm.DB }

func (r gormSuspensions) Create(ctx context.Context, s *models.Suspension) error {
	return wrapErr(r.db.WithContext(ctx).Create(s).Error, "ошибка при создании блокировки")
}

func (r gormSuspensions) Update(ctx context.Context, s *models.Suspension) error {
	return wrapErr(r.db.WithContext(ctx).Save(s).Error, "ошибка при обновлении блокировки")
}

func (r gormSuspensions) GetOpen(ctx context.Context, userID uint) (*models.Suspension, error) {
	var s models.Suspension
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND reactivated_at IS NULL", userID).
		Order("suspended_at DESC").
		First(&s).Error; err != nil {
		return nil, wrapErr(err, "ошибка при получении блокировки")
	}
	return &s, nil
}

func (r gormSuspensions) ListOpen(ctx context.Context) ([]models.Suspension, error) {
	var list []models.Suspension
	if err := r.db.WithContext(ctx).
		Where("reactivated_at IS NULL").
		Order("suspended_at").
		Find(&list).Error; err != nil {
		return nil, wrapErr(err, "ошибка при получении блокировок")
	}
	return list, nil
}

func (r gormSuspensions) LastReactivation(ctx context.Context, userID uint) (*time.Time, error) {
	var list []models.Suspension
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND reactivated_at IS NOT NULL", userID).
		Order("reactivated_at DESC").
		Limit(1).
		Find(&list).Error; err != nil {
		return nil, wrapErr(err, "ошибка при получении разблокировки")
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0].ReactivatedAt, nil
}

type gormPreferences struct{ db *gorm.DB }

func (r gormPreferences) Get(ctx context.Context, userID uint) (*models.NotificationPreferences, error) {
	var p models.NotificationPreferences
	if err := r.db.WithContext(ctx).First(&p, "user_id = ?", userID).Error; err != nil {
		return nil, wrapErr(err, "ошибка при получении настроек уведомлений")
	}
	return &p, nil
}

func (r gormPreferences) Upsert(ctx context.Context, p *models.NotificationPreferences) error {
	return wrapErr(r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(p).Error, "ошибка при сохранении настроек уведомлений")
}

type gormQueue struct{ db *gorm.DB }

func (r gormQueue) Upsert(ctx context.Context, item *models.NotificationQueueItem) error {
	return wrapErr(r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(item).Error, "ошибка при сохранении элемента очереди")
}

func (r gormQueue) Get(ctx context.Context, id string) (*models.NotificationQueueItem, error) {
	var item models.NotificationQueueItem
	if err := r.db.WithContext(ctx).First(&item, "id = ?", id).Error; err != nil {
		return nil, wrapErr(err, "ошибка при получении элемента очереди")
	}
	return &item, nil
}

func (r gormQueue) ListByStatus(ctx context.Context, statuses ...models.QueueStatus) ([]models.NotificationQueueItem, error) {
	q := r.db.WithContext(ctx).Model(&models.NotificationQueueItem{})
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	var items []models.NotificationQueueItem
	if err := q.Order("created_at").Find(&items).Error; err != nil {
		return nil, wrapErr(err, "ошибка при получении очереди")
	}
	return items, nil
}

func (r gormQueue) FindActiveByDedupeKey(ctx context.Context, key string) (*models.NotificationQueueItem, error) {
	var item models.NotificationQueueItem
	if err := r.db.WithContext(ctx).
		Where("dedupe_key = ? AND status NOT IN ?", key, []models.QueueStatus{models.QueueStatusFailed, models.QueueStatusExpired}).
		First(&item).Error; err != nil {
		return nil, wrapErr(err, "ошибка при поиске дубликата")
	}
	return &item, nil
}

func (r gormQueue) UpdateIfStatus(ctx context.Context, item *models.NotificationQueueItem, expected ...models.QueueStatus) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.NotificationQueueItem{}).
		Where("id = ? AND status IN ?", item.ID, expected).
		Updates(map[string]interface{}{
			"status":             item.Status,
			"attempts":           item.Attempts,
			"scheduled_for":      item.ScheduledFor,
			"delivered_channels": item.DeliveredChannels,
			"last_error":         item.LastError,
			"escalated":          item.Escalated,
			"sent_at":            item.SentAt,
			"failed_at":          item.FailedAt,
			"updated_at":         item.UpdatedAt,
		})
	if res.Error != nil {
		return false, wrapErr(res.Error, "ошибка при обновлении элемента очереди")
	}
	return res.RowsAffected > 0, nil
}

func (r gormQueue) DeleteFinishedBefore(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", []models.QueueStatus{
			models.QueueStatusSent,
			models.QueueStatusDelivered,
			models.QueueStatusFailed,
			models.QueueStatusExpired,
		}, before).
		Delete(&models.NotificationQueueItem{})
	if res.Error != nil {
		return 0, wrapErr(res.Error, "ошибка при очистке очереди")
	}
	return res.RowsAffected, nil
}

type gormNotifications struct{ db *gorm.DB }

func (r gormNotifications) Create(ctx context.Context, n *models.Notification) error {
	return wrapErr(r.db.WithContext(ctx).Create(n).Error, "ошибка при сохранении уведомления")
}

func (r gormNotifications) ListByUser(ctx context.Context, userID uint, limit int) ([]models.Notification, error) {
	q := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var list []models.Notification
	if err := q.Find(&list).Error; err != nil {
		return nil, wrapErr(err, "ошибка при получении уведомлений")
	}
	return list, nil
}

func (r gormNotifications) MarkRead(ctx context.Context, userID uint, id string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(map[string]interface{}{"read": true, "read_at": at})
	if res.Error != nil {
		return wrapErr(res.Error, "ошибка при обновлении уведомления")
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r gormNotifications) CountUnread(ctx context.Context, userID uint) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND read = ?", userID, false).
		Count(&count).Error; err != nil {
		return 0, wrapErr(err, "ошибка при подсчете уведомлений")
	}
	return count, nil
}

type gormUsers struct{ db *gorm.DB }

func (r gormUsers) Create(ctx context.Context, u *models.User) error {
	return wrapErr(r.db.WithContext(ctx).Create(u).Error, "ошибка при создании пользователя")
}

func (r gormUsers) CreateIfMissing(ctx context.Context, u *models.User) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(u)
	if res.Error != nil {
		return false, wrapErr(res.Error, "ошибка при создании пользователя")
	}
	return res.RowsAffected > 0, nil
}

func (r gormUsers) Update(ctx context.Context, u *models.User) error {
	res := r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", u.ID).
		Updates(map[string]interface{}{
			"first_name": u.FirstName,
			"last_name":  u.LastName,
			"phone":      u.Phone,
			"email":      u.Email,
			"fcm_token":  u.FCMToken,
			"language":   u.Language,
			"timezone":   u.Timezone,
		})
	if res.Error != nil {
		return wrapErr(res.Error, "ошибка при обновлении пользователя")
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r gormUsers) Get(ctx context.Context, id uint) (*models.User, error) {
	var u models.User
	if err := r.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, wrapErr(err, "ошибка при получении пользователя")
	}
	return &u, nil
}

func (r gormUsers) ListByRole(ctx context.Context, role models.UserRole) ([]models.User, error) {
	var list []models.User
	if err := r.db.WithContext(ctx).Where("role = ?", role).Order("id").Find(&list).Error; err != nil {
		return nil, wrapErr(err, "ошибка при получении пользователей")
	}
	return list, nil
}
