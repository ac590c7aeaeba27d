package notification

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"

	"intercity-backend/internal/metrics"
	"intercity-backend/internal/models"
	"intercity-backend/internal/utils"
)

// Skipped - уведомление, не поставленное в очередь по настройкам получателя
type Skipped struct {
	UserID uint                    `json:"user_id"`
	Type   models.NotificationType `json:"type"`
	Reason Reason                  `json:"reason"`
}

// EnqueueReport описывает результат рассылки по событию отдельно от основной операции
type EnqueueReport struct {
	Queued  []string  `json:"queued,omitempty"`
	Skipped []Skipped `json:"skipped,omitempty"`
	Missing []uint    `json:"missing,omitempty"`
	Errors  []error   `json:"-"`
}

// Err объединяет ошибки постановки в очередь
func (r EnqueueReport) Err() error {
	return errors.Join(r.Errors...)
}

// Merge добавляет результаты другой рассылки
func (r *EnqueueReport) Merge(o EnqueueReport) {
	r.Queued = append(r.Queued, o.Queued...)
	r.Skipped = append(r.Skipped, o.Skipped...)
	r.Missing = append(r.Missing, o.Missing...)
	r.Errors = append(r.Errors, o.Errors...)
}

// Service связывает составление, фильтр настроек и очередь доставки
type Service struct {
	composer  *Composer
	filter    *Filter
	scheduler *Scheduler
	prefs     *PreferenceService

	// ctx живет до Close, на нем работают отложенные повторы
	ctx     context.Context
	stop    context.CancelFunc
	retries sync.WaitGroup
	retryMu sync.Mutex
}

func NewService(composer *Composer, filter *Filter, scheduler *Scheduler, prefs *PreferenceService) *Service {
	ctx, stop := context.WithCancel(context.Background())
	return &Service{composer: composer, filter: filter, scheduler: scheduler, prefs: prefs, ctx: ctx, stop: stop}
}

// Close прерывает отложенные повторы составления и ждет их завершения
func (s *Service) Close() {
	s.retryMu.Lock()
	s.stop()
	s.retryMu.Unlock()
	s.retries.Wait()
}

func (s *Service) Scheduler() *Scheduler           { return s.scheduler }
func (s *Service) Preferences() *PreferenceService { return s.prefs }

// Notify составляет уведомления по событию и ставит их в очередь.
// Ошибки отдельных получателей попадают в отчет и не прерывают рассылку
func (s *Service) Notify(ctx context.Context, ev Event) EnqueueReport {
	var report EnqueueReport

	composed, err := s.composer.Compose(ctx, ev)
	if err != nil {
		log.Printf("Notification: ошибка при составлении уведомлений %s: %v", ev.Type, err)
		report.Errors = append(report.Errors, err)
		return report
	}
	report.Missing = composed.Missing
	s.enqueueAll(ctx, composed.Messages, &report)

	if len(composed.Missing) > 0 {
		s.retryLater(ev, composed.Missing)
	}
	return report
}

func (s *Service) enqueueAll(ctx context.Context, msgs []Outgoing, report *EnqueueReport) {
	for _, msg := range msgs {
		id, skipped, err := s.deliver(ctx, msg)
		switch {
		case err != nil:
			log.Printf("Notification: ошибка постановки %s для пользователя %d: %v", msg.Payload.Type, msg.Payload.UserID, err)
			report.Errors = append(report.Errors, fmt.Errorf("пользователь %d: %w", msg.Payload.UserID, err))
		case skipped != nil:
			report.Skipped = append(report.Skipped, *skipped)
		default:
			report.Queued = append(report.Queued, id)
		}
	}
}

// retryLater один раз повторяет составление для пропущенных получателей
// в фоне, вызывающая операция его не ждет
func (s *Service) retryLater(ev Event, missing []uint) {
	s.retryMu.Lock()
	defer s.retryMu.Unlock()
	if s.ctx.Err() != nil {
		return
	}
	s.retries.Add(1)
	go func() {
		defer s.retries.Done()

		composed, err := s.composer.RetryMissing(s.ctx, ev, missing)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Printf("Notification: повтор составления %s не удался: %v", ev.Type, err)
			}
			return
		}
		for _, id := range composed.Missing {
			log.Printf("Notification: получатель %d для %s не найден и после повтора, пропущен", id, ev.Type)
		}

		var report EnqueueReport
		s.enqueueAll(s.ctx, composed.Messages, &report)
		if len(report.Queued) > 0 {
			log.Printf("Notification: после повтора поставлено %d уведомлений %s", len(report.Queued), ev.Type)
		}
	}()
}

func (s *Service) deliver(ctx context.Context, msg Outgoing) (string, *Skipped, error) {
	p := msg.Payload
	channels := msg.Channels
	key := dedupeKey(p)

	// повтор уже стоящего в очереди уведомления не должен расходовать лимиты
	if id, ok := s.scheduler.activeByKey(ctx, key); ok {
		return id, nil, nil
	}

	if len(channels) == 0 {
		decision, err := s.filter.Decide(ctx, p.UserID, p.Type, p.Category, p.Priority)
		if err != nil {
			return "", nil, err
		}
		if !decision.Send {
			metrics.NotificationsSkipped.WithLabelValues(string(decision.Reason)).Inc()
			return "", &Skipped{UserID: p.UserID, Type: p.Type, Reason: decision.Reason}, nil
		}
		channels = ChannelsFor(decision.Channels, p.SkipEmail)
	}

	id, err := s.scheduler.Enqueue(ctx, p, EnqueueOptions{
		Channels:  channels,
		DedupeKey: key,
	})
	if err != nil {
		return "", nil, err
	}
	return id, nil, nil
}

// Send ставит готовое уведомление в очередь с учетом настроек получателя
func (s *Service) Send(ctx context.Context, p models.NotificationPayload, opts EnqueueOptions) (string, *Skipped, error) {
	if p.Category == "" {
		p.Category = CategoryOf(p.Type)
	}
	if id, ok := s.scheduler.activeByKey(ctx, opts.DedupeKey); ok {
		return id, nil, nil
	}
	if len(opts.Channels) == 0 {
		decision, err := s.filter.Decide(ctx, p.UserID, p.Type, p.Category, p.Priority)
		if err != nil {
			return "", nil, err
		}
		if !decision.Send {
			return "", &Skipped{UserID: p.UserID, Type: p.Type, Reason: decision.Reason}, nil
		}
		opts.Channels = ChannelsFor(decision.Channels, p.SkipEmail)
	}
	id, err := s.scheduler.Enqueue(ctx, p, opts)
	return id, nil, err
}

// ChannelsFor переводит флаги в список каналов. In-app добавляется всегда
func ChannelsFor(flags models.ChannelFlags, skipEmail bool) []models.Channel {
	channels := []models.Channel{models.ChannelInApp}
	if flags.Push {
		channels = append(channels, models.ChannelPush)
	}
	if flags.Email && !skipEmail {
		channels = append(channels, models.ChannelEmail)
	}
	if flags.SMS {
		channels = append(channels, models.ChannelSMS)
	}
	return channels
}

// dedupeKey защищает от повторной постановки одного и того же события.
// Повторяемые события (оплаты, безопасность) ключа не получают
func dedupeKey(p models.NotificationPayload) string {
	discriminator := ""
	switch m := p.Metadata.Metadata.(type) {
	case models.BookingMetadata:
		discriminator = string(m.Status)
	case models.AccountMetadata:
		if m.SuspensionID == "" {
			return ""
		}
		discriminator = m.SuspensionID
	case models.PaymentMetadata, models.VehicleMetadata:
		return ""
	}
	return utils.DedupeKey(strconv.FormatUint(uint64(p.UserID), 10), string(p.Type), p.RelatedType, p.RelatedID, discriminator)
}
