// Package cancellation ведет журнал отмен и блокирует водителей,
// которые слишком часто отменяют поездки и бронирования
package cancellation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"intercity-backend/internal/events"
	"intercity-backend/internal/metrics"
	"intercity-backend/internal/models"
	"intercity-backend/internal/repository"
	"intercity-backend/internal/services/notification"
	"intercity-backend/internal/utils"

	"github.com/google/uuid"
)

// ErrAccountSuspended - аккаунт заблокирован до реактивации администратором
var ErrAccountSuspended = errors.New("аккаунт заблокирован")

// ErrNotSuspended - у пользователя нет открытой блокировки
var ErrNotSuspended = errors.New("аккаунт не заблокирован")

const (
	DefaultWindow    = 15 * 24 * time.Hour
	DefaultThreshold = 3
)

type Config struct {
	Window    time.Duration
	Threshold int
}

// Notifier составляет и ставит в очередь уведомления по событию
type Notifier interface {
	Notify(ctx context.Context, ev notification.Event) notification.EnqueueReport
}

// Entry - одна отмена для журнала
type Entry struct {
	UserID    uint
	UserType  models.UserType
	Type      models.CancellationType
	TripID    *uint
	BookingID *uint
	Reason    string
}

type Tracker struct {
	store     *repository.Store
	notifier  Notifier
	publisher events.Publisher
	clock     utils.Clock
	locks     *utils.KeyedMutex
	cfg       Config
}

func NewTracker(store *repository.Store, notifier Notifier, publisher events.Publisher, clock utils.Clock, locks *utils.KeyedMutex, cfg Config) *Tracker {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Tracker{
		store:     store,
		notifier:  notifier,
		publisher: publisher,
		clock:     clock,
		locks:     locks,
		cfg:       cfg,
	}
}

// Log добавляет запись в журнал отмен. tx позволяет записать отмену
// в той же транзакции, что и смену статуса
func (t *Tracker) Log(ctx context.Context, tx *repository.Store, e Entry) (*models.CancellationRecord, error) {
	if tx == nil {
		tx = t.store
	}
	record := &models.CancellationRecord{
		ID:               uuid.NewString(),
		UserID:           e.UserID,
		UserType:         e.UserType,
		CancellationType: e.Type,
		RelatedTripID:    e.TripID,
		RelatedBookingID: e.BookingID,
		Reason:           e.Reason,
		Timestamp:        t.clock.Now(),
	}
	if err := tx.Cancellations.Append(ctx, record); err != nil {
		return nil, fmt.Errorf("ошибка при записи отмены: %w", err)
	}
	return record, nil
}

// CountInWindow считает отмены в скользящем окне. Окно начинается
// не раньше последней реактивации, поэтому реактивация обнуляет счетчик
func (t *Tracker) CountInWindow(ctx context.Context, userID uint, userType models.UserType) (int, error) {
	since := t.clock.Now().Add(-t.cfg.Window)

	last, err := t.store.Suspensions.LastReactivation(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("ошибка при чтении реактивации: %w", err)
	}
	if last != nil && last.After(since) {
		since = *last
	}

	count, err := t.store.Cancellations.CountSince(ctx, userID, userType, since)
	if err != nil {
		return 0, fmt.Errorf("ошибка при подсчете отмен: %w", err)
	}
	return count, nil
}

// Evaluate блокирует водителя, если число отмен в окне достигло порога.
// Вызывается после записи отмены и вне блокировки поездки.
// Возвращает nil, если блокировка не создавалась
func (t *Tracker) Evaluate(ctx context.Context, userID uint, userType models.UserType) (*models.Suspension, notification.EnqueueReport, error) {
	if userType != models.UserTypeDriver {
		return nil, notification.EnqueueReport{}, nil
	}

	unlock := t.locks.Lock(utils.UserKey(userID))
	count, err := t.CountInWindow(ctx, userID, userType)
	if err != nil {
		unlock()
		return nil, notification.EnqueueReport{}, err
	}
	if count < t.cfg.Threshold {
		unlock()
		return nil, notification.EnqueueReport{}, nil
	}

	if _, err := t.store.Suspensions.GetOpen(ctx, userID); err == nil {
		unlock()
		return nil, notification.EnqueueReport{}, nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		unlock()
		return nil, notification.EnqueueReport{}, fmt.Errorf("ошибка при чтении блокировки: %w", err)
	}

	reason := fmt.Sprintf("%d отмен за последние %d дней", count, int(t.cfg.Window.Hours()/24))
	s, err := t.createLocked(ctx, userID, models.SuspensionTypeCancellationLimit, reason, nil)
	unlock()
	if err != nil {
		return nil, notification.EnqueueReport{}, err
	}

	log.Printf("CancellationTracker: водитель %d заблокирован: %s", userID, reason)
	report := t.announce(ctx, s, count)
	return s, report, nil
}

// CheckActive возвращает ErrAccountSuspended при открытой блокировке.
// Вызывающий держит блокировку пользователя на время действия, которое проверяет
func (t *Tracker) CheckActive(ctx context.Context, userID uint) error {
	s, err := t.store.Suspensions.GetOpen(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("ошибка при проверке блокировки: %w", err)
	}
	return fmt.Errorf("%w: %s", ErrAccountSuspended, s.Reason)
}

// Suspend блокирует аккаунт вручную
func (t *Tracker) Suspend(ctx context.Context, userID uint, typ models.SuspensionType, reason string, by uint) (*models.Suspension, notification.EnqueueReport, error) {
	if typ == "" {
		typ = models.SuspensionTypeManual
	}

	unlock := t.locks.Lock(utils.UserKey(userID))
	if _, err := t.store.Suspensions.GetOpen(ctx, userID); err == nil {
		unlock()
		return nil, notification.EnqueueReport{}, ErrAccountSuspended
	} else if !errors.Is(err, repository.ErrNotFound) {
		unlock()
		return nil, notification.EnqueueReport{}, fmt.Errorf("ошибка при чтении блокировки: %w", err)
	}
	s, err := t.createLocked(ctx, userID, typ, reason, &by)
	unlock()
	if err != nil {
		return nil, notification.EnqueueReport{}, err
	}

	log.Printf("CancellationTracker: пользователь %d заблокирован администратором %d", userID, by)
	return s, t.announce(ctx, s, 0), nil
}

func (t *Tracker) createLocked(ctx context.Context, userID uint, typ models.SuspensionType, reason string, by *uint) (*models.Suspension, error) {
	s := &models.Suspension{
		ID:          uuid.NewString(),
		UserID:      userID,
		Type:        typ,
		Reason:      reason,
		SuspendedAt: t.clock.Now(),
		SuspendedBy: by,
	}
	if err := t.store.Suspensions.Create(ctx, s); err != nil {
		return nil, fmt.Errorf("ошибка при создании блокировки: %w", err)
	}
	metrics.SuspensionsCreated.WithLabelValues(string(typ)).Inc()
	return s, nil
}

func (t *Tracker) announce(ctx context.Context, s *models.Suspension, count int) notification.EnqueueReport {
	events.Emit(ctx, t.publisher, events.Event{
		Type:       events.TypeAccountSuspended,
		OccurredAt: s.SuspendedAt,
		UserID:     s.UserID,
		Reason:     s.Reason,
	})

	if t.notifier == nil {
		return notification.EnqueueReport{}
	}
	report := t.notifier.Notify(ctx, notification.Event{
		Type:              models.TypeAccountSuspended,
		Actor:             models.ActorSystem,
		SubjectUserID:     s.UserID,
		Reason:            s.Reason,
		CancellationCount: count,
		SuspensionID:      s.ID,
	})
	if err := report.Err(); err != nil {
		log.Printf("CancellationTracker: ошибка уведомления о блокировке %d: %v", s.UserID, err)
	}
	return report
}

// Reactivate закрывает открытую блокировку. Отмены до этого момента
// больше не учитываются
func (t *Tracker) Reactivate(ctx context.Context, userID, by uint) (*models.Suspension, notification.EnqueueReport, error) {
	unlock := t.locks.Lock(utils.UserKey(userID))
	s, err := t.store.Suspensions.GetOpen(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		unlock()
		return nil, notification.EnqueueReport{}, ErrNotSuspended
	}
	if err != nil {
		unlock()
		return nil, notification.EnqueueReport{}, fmt.Errorf("ошибка при чтении блокировки: %w", err)
	}

	now := t.clock.Now()
	s.ReactivatedAt = &now
	s.ReactivatedBy = &by
	err = t.store.Suspensions.Update(ctx, s)
	unlock()
	if err != nil {
		return nil, notification.EnqueueReport{}, fmt.Errorf("ошибка при реактивации: %w", err)
	}

	log.Printf("CancellationTracker: пользователь %d реактивирован администратором %d", userID, by)
	events.Emit(ctx, t.publisher, events.Event{Type: events.TypeAccountReactivated, OccurredAt: now, UserID: userID})

	var report notification.EnqueueReport
	if t.notifier != nil {
		report = t.notifier.Notify(ctx, notification.Event{
			Type:          models.TypeAccountReactivated,
			Actor:         models.ActorAdmin,
			SubjectUserID: userID,
		})
		if err := report.Err(); err != nil {
			log.Printf("CancellationTracker: ошибка уведомления о реактивации %d: %v", userID, err)
		}
	}
	return s, report, nil
}

func (t *Tracker) ListOpen(ctx context.Context) ([]models.Suspension, error) {
	return t.store.Suspensions.ListOpen(ctx)
}

func (t *Tracker) History(ctx context.Context, userID uint) ([]models.CancellationRecord, error) {
	return t.store.Cancellations.ListByUser(ctx, userID)
}
