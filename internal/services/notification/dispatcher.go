package notification

import (
	"context"
	"errors"
	"fmt"
	"log"

	"intercity-backend/internal/metrics"
	"intercity-backend/internal/models"
	"intercity-backend/internal/repository"
)

// ErrNoContact - у получателя нет адреса для канала (токена, email, телефона).
// Канал пропускается без повторных попыток
var ErrNoContact = errors.New("нет контакта получателя для канала")

// ChannelSender доставляет уведомление через один канал.
// recipient равен nil для операторских каналов и получателей без профиля
type ChannelSender interface {
	Send(ctx context.Context, recipient *models.User, payload models.NotificationPayload) error
}

// Deliverer доставляет элемент очереди по его каналам
type Deliverer interface {
	// Deliver возвращает каналы, доставленные в этой попытке, и ошибку, если хоть один канал не отработал
	Deliver(ctx context.Context, item *models.NotificationQueueItem) ([]models.Channel, error)
}

// Dispatcher рассылает элемент очереди по каналам, пропуская уже доставленные
type Dispatcher struct {
	users   repository.UserRepository
	senders map[models.Channel]ChannelSender
}

func NewDispatcher(users repository.UserRepository, senders map[models.Channel]ChannelSender) *Dispatcher {
	return &Dispatcher{users: users, senders: senders}
}

func (d *Dispatcher) Deliver(ctx context.Context, item *models.NotificationQueueItem) ([]models.Channel, error) {
	payload := item.Payload()

	var recipient *models.User
	if item.UserID != 0 {
		u, err := d.users.Get(ctx, item.UserID)
		switch {
		case err == nil:
			recipient = u
		case errors.Is(err, repository.ErrNotFound):
			// без профиля доступны только in-app и операторские каналы
		default:
			return nil, fmt.Errorf("ошибка при получении получателя %d: %w", item.UserID, err)
		}
	}

	var delivered []models.Channel
	var errs []error
	for _, raw := range item.Channels {
		ch := models.Channel(raw)
		if item.HasDelivered(ch) {
			continue
		}
		sender, ok := d.senders[ch]
		if !ok || sender == nil {
			log.Printf("Dispatcher: канал %s не настроен, уведомление %s пропускает его", ch, item.ID)
			metrics.ChannelSends.WithLabelValues(string(ch), "disabled").Inc()
			continue
		}

		err := safeSend(ctx, sender, recipient, payload)
		switch {
		case err == nil:
			delivered = append(delivered, ch)
			metrics.ChannelSends.WithLabelValues(string(ch), "ok").Inc()
		case errors.Is(err, ErrNoContact):
			log.Printf("Dispatcher: у пользователя %d нет контакта для канала %s", item.UserID, ch)
			metrics.ChannelSends.WithLabelValues(string(ch), "no_contact").Inc()
		default:
			errs = append(errs, fmt.Errorf("%s: %w", ch, err))
			metrics.ChannelSends.WithLabelValues(string(ch), "error").Inc()
		}
	}
	return delivered, errors.Join(errs...)
}

// safeSend не дает панике канала остановить обработку очереди
func safeSend(ctx context.Context, sender ChannelSender, recipient *models.User, payload models.NotificationPayload) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("паника в канале доставки: %v", r)
		}
	}()
	return sender.Send(ctx, recipient, payload)
}
