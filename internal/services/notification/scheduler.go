package notification

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"intercity-backend/internal/metrics"
	"intercity-backend/internal/models"
	"intercity-backend/internal/repository"
	"intercity-backend/internal/utils"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const DefaultMaxAttempts = 3

// ErrEmptyPayload - уведомление без получателя и каналов
var ErrEmptyPayload = errors.New("пустое уведомление")

// EnqueueOptions - параметры постановки в очередь
type EnqueueOptions struct {
	// ScheduledFor - время отправки, нулевое значение - сразу
	ScheduledFor time.Time
	MaxAttempts  int
	Channels     []models.Channel
	// DedupeKey - повторная постановка с тем же ключом возвращает существующий элемент
	DedupeKey string
	ExpiresAt *time.Time
}

// SchedulerConfig - параметры цикла обработки очереди
type SchedulerConfig struct {
	Interval       time.Duration
	InterItemDelay time.Duration
	Retention      time.Duration
	SweepInterval  time.Duration
	MaxAttempts    int
}

// QueueStats - состояние очереди. Каждый элемент попадает ровно в одну группу
// по статусам: Pending - ожидают первой попытки, Retrying - ожидают повтора
// после неудачи или отправляются прямо сейчас
type QueueStats struct {
	Total      int                                 `json:"total"`
	Pending    int                                 `json:"pending"`
	Scheduled  int                                 `json:"scheduled"`
	Sent       int                                 `json:"sent"`
	Delivered  int                                 `json:"delivered"`
	Failed     int                                 `json:"failed"`
	Retrying   int                                 `json:"retrying"`
	Expired    int                                 `json:"expired"`
	ByPriority map[models.NotificationPriority]int `json:"by_priority"`
}

// Scheduler - очередь доставки с приоритетами, повторами и эскалацией
type Scheduler struct {
	queue     repository.QueueRepository
	deliverer Deliverer
	// alerter получает оповещение об окончательно недоставленном уведомлении
	alerter ChannelSender
	clock   utils.Clock
	cfg     SchedulerConfig
	sleep   func(ctx context.Context, d time.Duration) error

	running atomic.Bool
	wake    chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(queue repository.QueueRepository, deliverer Deliverer, alerter ChannelSender, clock utils.Clock, cfg SchedulerConfig) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 24 * time.Hour
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Hour
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	return &Scheduler{
		queue:     queue,
		deliverer: deliverer,
		alerter:   alerter,
		clock:     clock,
		cfg:       cfg,
		sleep: func(ctx context.Context, d time.Duration) error {
			return utils.Sleep(ctx, clock, d)
		},
		wake: make(chan struct{}, 1),
	}
}

// Enqueue ставит уведомление в очередь и возвращает id элемента
func (s *Scheduler) Enqueue(ctx context.Context, payload models.NotificationPayload, opts EnqueueOptions) (string, error) {
	if len(opts.Channels) == 0 {
		return "", fmt.Errorf("%w: не указаны каналы", ErrEmptyPayload)
	}

	if opts.DedupeKey != "" {
		existing, err := s.queue.FindActiveByDedupeKey(ctx, opts.DedupeKey)
		if err == nil {
			return existing.ID, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return "", err
		}
	}

	now := s.clock.Now()
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = s.cfg.MaxAttempts
	}
	scheduledFor := opts.ScheduledFor
	status := models.QueueStatusScheduled
	if scheduledFor.IsZero() || !scheduledFor.After(now) {
		scheduledFor = now
		status = models.QueueStatusPending
	}

	channels := make(pq.StringArray, 0, len(opts.Channels))
	for _, ch := range opts.Channels {
		channels = append(channels, string(ch))
	}

	item := &models.NotificationQueueItem{
		ID:           uuid.NewString(),
		UserID:       payload.UserID,
		Title:        payload.Title,
		Message:      payload.Message,
		Type:         payload.Type,
		Category:     payload.Category,
		Priority:     payload.Priority,
		RelatedID:    payload.RelatedID,
		RelatedType:  payload.RelatedType,
		ActionURL:    payload.ActionURL,
		SkipEmail:    payload.SkipEmail,
		Metadata:     payload.Metadata,
		Channels:     channels,
		DedupeKey:    opts.DedupeKey,
		ScheduledFor: scheduledFor,
		ExpiresAt:    opts.ExpiresAt,
		MaxAttempts:  opts.MaxAttempts,
		Status:       status,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.queue.Upsert(ctx, item); err != nil {
		return "", fmt.Errorf("ошибка при постановке уведомления в очередь: %w", err)
	}
	metrics.NotificationsEnqueued.WithLabelValues(string(payload.Priority)).Inc()

	if status == models.QueueStatusPending {
		s.poke()
	}
	return item.ID, nil
}

func (s *Scheduler) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Cancel отменяет элемент, если он еще ожидает отправки
func (s *Scheduler) Cancel(ctx context.Context, id string) (bool, error) {
	item, err := s.queue.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if item.Status != models.QueueStatusPending && item.Status != models.QueueStatusScheduled {
		return false, nil
	}

	item.Status = models.QueueStatusExpired
	item.LastError = "отменено"
	item.UpdatedAt = s.clock.Now()
	// элемент мог быть взят в отправку между чтением и записью
	cancelled, err := s.queue.UpdateIfStatus(ctx, item, models.QueueStatusPending, models.QueueStatusScheduled)
	if err != nil {
		return false, err
	}
	return cancelled, nil
}

// activeByKey возвращает id незавершенного элемента с тем же ключом
func (s *Scheduler) activeByKey(ctx context.Context, key string) (string, bool) {
	if key == "" {
		return "", false
	}
	existing, err := s.queue.FindActiveByDedupeKey(ctx, key)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			log.Printf("Scheduler: ошибка при поиске дубликата: %v", err)
		}
		return "", false
	}
	return existing.ID, true
}

// Status возвращает элемент очереди или nil, если его нет
func (s *Scheduler) Status(ctx context.Context, id string) (*models.NotificationQueueItem, error) {
	item, err := s.queue.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	return item, err
}

// Stats считает элементы по статусам и приоритетам
func (s *Scheduler) Stats(ctx context.Context) (QueueStats, error) {
	items, err := s.queue.ListByStatus(ctx)
	if err != nil {
		return QueueStats{}, err
	}

	stats := QueueStats{ByPriority: make(map[models.NotificationPriority]int)}
	for _, item := range items {
		stats.Total++
		stats.ByPriority[item.Priority]++
		switch item.Status {
		case models.QueueStatusPending:
			if item.Attempts > 0 {
				stats.Retrying++
			} else {
				stats.Pending++
			}
		case models.QueueStatusScheduled:
			stats.Scheduled++
		case models.QueueStatusSent:
			stats.Sent++
		case models.QueueStatusDelivered:
			stats.Delivered++
		case models.QueueStatusFailed:
			stats.Failed++
		case models.QueueStatusRetrying:
			stats.Retrying++
		case models.QueueStatusExpired:
			stats.Expired++
		}
	}
	return stats, nil
}

// Tick обрабатывает наступившие элементы по приоритету, по одному.
// Повторный вызов во время выполнения ничего не делает
func (s *Scheduler) Tick(ctx context.Context) int {
	if !s.running.CompareAndSwap(false, true) {
		return 0
	}
	defer s.running.Store(false)

	items, err := s.queue.ListByStatus(ctx, models.QueueStatusPending, models.QueueStatusScheduled)
	if err != nil {
		log.Printf("Scheduler: ошибка при чтении очереди: %v", err)
		return 0
	}

	now := s.clock.Now()
	due := items[:0]
	for _, item := range items {
		if item.ExpiresAt != nil && !item.ExpiresAt.After(now) {
			s.expire(ctx, item, now)
			continue
		}
		if item.ScheduledFor.After(now) || item.Attempts >= item.MaxAttempts {
			continue
		}
		due = append(due, item)
	}

	sort.SliceStable(due, func(i, j int) bool {
		ri, rj := due[i].Priority.Rank(), due[j].Priority.Rank()
		if ri != rj {
			return ri > rj
		}
		return due[i].ScheduledFor.Before(due[j].ScheduledFor)
	})

	processed := 0
	for i := range due {
		if i > 0 && s.cfg.InterItemDelay > 0 {
			if err := s.sleep(ctx, s.cfg.InterItemDelay); err != nil {
				break
			}
		}
		if ctx.Err() != nil {
			break
		}
		if s.process(ctx, due[i].ID) {
			processed++
		}
	}

	s.reportDepth(ctx)
	return processed
}

func (s *Scheduler) expire(ctx context.Context, item models.NotificationQueueItem, now time.Time) {
	item.Status = models.QueueStatusExpired
	item.UpdatedAt = now
	if _, err := s.queue.UpdateIfStatus(ctx, &item, models.QueueStatusPending, models.QueueStatusScheduled); err != nil {
		log.Printf("Scheduler: ошибка при истечении уведомления %s: %v", item.ID, err)
	}
}

// claim перечитывает элемент и переводит его в retrying, пока он еще ожидает
// отправки. nil означает, что элемент отменен или уже обработан
func (s *Scheduler) claim(ctx context.Context, id string) (*models.NotificationQueueItem, error) {
	item, err := s.queue.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if item.Status != models.QueueStatusPending && item.Status != models.QueueStatusScheduled {
		return nil, nil
	}
	if item.Attempts >= item.MaxAttempts {
		return nil, nil
	}

	item.Status = models.QueueStatusRetrying
	item.UpdatedAt = s.clock.Now()
	claimed, err := s.queue.UpdateIfStatus(ctx, item, models.QueueStatusPending, models.QueueStatusScheduled)
	if err != nil || !claimed {
		return nil, err
	}
	return item, nil
}

func (s *Scheduler) process(ctx context.Context, id string) bool {
	item, err := s.claim(ctx, id)
	if err != nil {
		log.Printf("Scheduler: не удалось взять уведомление %s в отправку: %v", id, err)
		return false
	}
	if item == nil {
		return false
	}

	item.Attempts++
	delivered, err := s.deliverer.Deliver(ctx, item)
	for _, ch := range delivered {
		item.DeliveredChannels = append(item.DeliveredChannels, string(ch))
	}

	now := s.clock.Now()
	item.UpdatedAt = now

	if err == nil {
		item.Status = models.QueueStatusSent
		item.LastError = ""
		item.SentAt = &now
		metrics.NotificationAttempts.WithLabelValues("sent").Inc()
		s.save(ctx, item)
		return true
	}

	item.LastError = err.Error()
	if item.Attempts >= item.MaxAttempts {
		item.Status = models.QueueStatusFailed
		item.FailedAt = &now
		metrics.NotificationAttempts.WithLabelValues("failed").Inc()
		log.Printf("Scheduler: уведомление %s не доставлено после %d попыток: %v", item.ID, item.Attempts, err)
		s.escalate(ctx, item)
		return true
	}

	item.Status = models.QueueStatusPending
	item.ScheduledFor = now.Add(Backoff(item.Attempts))
	metrics.NotificationAttempts.WithLabelValues("retry").Inc()
	log.Printf("Scheduler: попытка %d для %s не удалась, повтор в %s: %v", item.Attempts, item.ID, item.ScheduledFor.Format(time.RFC3339), err)
	s.save(ctx, item)
	return true
}

// escalate отмечает элемент как эскалированный до отправки оповещения,
// поэтому на один элемент уходит не больше одного оповещения
func (s *Scheduler) escalate(ctx context.Context, item *models.NotificationQueueItem) {
	if item.Escalated {
		s.save(ctx, item)
		return
	}
	item.Escalated = true
	if !s.save(ctx, item) {
		return
	}
	if s.alerter == nil {
		return
	}
	if err := safeSend(ctx, s.alerter, nil, deliveryFailureAlert(item)); err != nil {
		log.Printf("Scheduler: не удалось оповестить операторов о сбое %s: %v", item.ID, err)
	}
}

// save записывает результат попытки. Элемент в retrying принадлежит этому
// планировщику, поэтому запись проходит только из этого статуса
func (s *Scheduler) save(ctx context.Context, item *models.NotificationQueueItem) bool {
	saved, err := s.queue.UpdateIfStatus(ctx, item, models.QueueStatusRetrying)
	if err != nil {
		log.Printf("Scheduler: ошибка при сохранении уведомления %s: %v", item.ID, err)
		return false
	}
	if !saved {
		log.Printf("Scheduler: уведомление %s изменено во время отправки, результат не записан", item.ID)
	}
	return saved
}

// resume возвращает в очередь элементы, отправка которых прервалась остановкой процесса
func (s *Scheduler) resume(ctx context.Context) {
	items, err := s.queue.ListByStatus(ctx, models.QueueStatusRetrying)
	if err != nil {
		log.Printf("Scheduler: ошибка при чтении прерванных отправок: %v", err)
		return
	}
	resumed := 0
	for i := range items {
		item := &items[i]
		item.Status = models.QueueStatusPending
		item.UpdatedAt = s.clock.Now()
		ok, err := s.queue.UpdateIfStatus(ctx, item, models.QueueStatusRetrying)
		if err != nil {
			log.Printf("Scheduler: ошибка при возврате уведомления %s в очередь: %v", item.ID, err)
			continue
		}
		if ok {
			resumed++
		}
	}
	if resumed > 0 {
		log.Printf("Scheduler: возвращено в очередь %d прерванных отправок", resumed)
	}
}

func (s *Scheduler) reportDepth(ctx context.Context) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return
	}
	metrics.QueueDepth.WithLabelValues("pending").Set(float64(stats.Pending))
	metrics.QueueDepth.WithLabelValues("scheduled").Set(float64(stats.Scheduled))
	metrics.QueueDepth.WithLabelValues("retrying").Set(float64(stats.Retrying))
	metrics.QueueDepth.WithLabelValues("failed").Set(float64(stats.Failed))
}

// Backoff возвращает задержку перед следующей попыткой: 2^attempts минут
func Backoff(attempts int) time.Duration {
	return time.Duration(math.Pow(2, float64(attempts))) * time.Minute
}

// Sweep удаляет завершенные элементы старше срока хранения
func (s *Scheduler) Sweep(ctx context.Context) (int64, error) {
	removed, err := s.queue.DeleteFinishedBefore(ctx, s.clock.Now().Add(-s.cfg.Retention))
	if err != nil {
		return 0, fmt.Errorf("ошибка при очистке очереди: %w", err)
	}
	if removed > 0 {
		log.Printf("Scheduler: удалено %d завершенных уведомлений", removed)
	}
	return removed, nil
}

// Start запускает обработку очереди и периодическую очистку.
// Элементы хранятся в репозитории, после перезапуска обработка продолжается
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	s.resume(ctx)

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		utils.RunLoop(ctx, s.clock, s.cfg.Interval, s.wake, func(ctx context.Context) { s.Tick(ctx) })
	}()
	go func() {
		defer wg.Done()
		utils.RunLoop(ctx, s.clock, s.cfg.SweepInterval, nil, func(ctx context.Context) {
			if _, err := s.Sweep(ctx); err != nil {
				log.Printf("Scheduler: %v", err)
			}
		})
	}()
	go func() {
		wg.Wait()
		close(s.done)
	}()
	log.Printf("Scheduler: очередь уведомлений запущена, интервал %s", s.cfg.Interval)
}

// Stop останавливает циклы и ждет их завершения
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	log.Println("Scheduler: очередь уведомлений остановлена")
}
