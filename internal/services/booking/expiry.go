package booking

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"intercity-backend/internal/metrics"
	"intercity-backend/internal/models"
	"intercity-backend/internal/repository"
	"intercity-backend/internal/utils"
)

const expiredReason = "водитель не ответил на запрос вовремя"

// ExpirePending отклоняет ожидающие бронирования старше ttl и освобождает места.
// Возвращает количество отклоненных бронирований
func (s *Service) ExpirePending(ctx context.Context, ttl time.Duration) (int, error) {
	cutoff := s.clock.Now().Add(-ttl)
	stale, err := s.store.Bookings.List(ctx, repository.BookingFilter{
		Statuses:      []models.BookingStatus{models.BookingStatusPending},
		CreatedBefore: cutoff,
	})
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, b := range stale {
		if ctx.Err() != nil {
			return expired, ctx.Err()
		}
		_, err := s.Transition(ctx, TransitionRequest{
			BookingID: b.ID,
			To:        models.BookingStatusRejected,
			Actor:     models.ActorSystem,
			Reason:    expiredReason,
		})
		if errors.Is(err, ErrInvalidTransition) {
			// Водитель успел ответить между выборкой и переходом
			continue
		}
		if err != nil {
			log.Printf("ExpiryJob: не удалось отклонить бронирование %d: %v", b.ID, err)
			continue
		}
		expired++
		metrics.ExpiredBookings.Inc()
	}
	if expired > 0 {
		log.Printf("ExpiryJob: отклонено просроченных бронирований: %d", expired)
	}
	return expired, nil
}

// ExpiryJob периодически запускает ExpirePending
type ExpiryJob struct {
	service  *Service
	clock    utils.Clock
	ttl      time.Duration
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewExpiryJob(service *Service, clock utils.Clock, ttl, interval time.Duration) *ExpiryJob {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &ExpiryJob{service: service, clock: clock, ttl: ttl, interval: interval}
}

func (j *ExpiryJob) Start(ctx context.Context) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	j.cancel = cancel
	j.done = make(chan struct{})

	go func() {
		defer close(j.done)
		utils.RunLoop(ctx, j.clock, j.interval, nil, func(ctx context.Context) {
			if _, err := j.service.ExpirePending(ctx, j.ttl); err != nil && ctx.Err() == nil {
				log.Printf("ExpiryJob: %v", err)
			}
		})
	}()
	log.Printf("ExpiryJob: запущен, срок ожидания %s, интервал %s", j.ttl, j.interval)
}

func (j *ExpiryJob) Stop() {
	j.mu.Lock()
	cancel, done := j.cancel, j.done
	j.cancel = nil
	j.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	log.Println("ExpiryJob: остановлен")
}
