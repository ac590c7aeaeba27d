// Package channels содержит каналы доставки уведомлений: входящие в приложении
// с WebSocket, FCM push, email, WhatsApp через Green API и Telegram для операторов
package channels

import (
	"context"
	"fmt"
	"log"

	"intercity-backend/internal/models"
	"intercity-backend/internal/repository"
	"intercity-backend/internal/services/notification"
	"intercity-backend/internal/utils"
	"intercity-backend/internal/websocket"

	"github.com/google/uuid"
)

// userPusher - получатель realtime сообщений, обычно websocket.Hub
type userPusher interface {
	SendToUser(userID uint, message *websocket.Message) (int, error)
}

// InAppChannel сохраняет уведомление во входящие и отправляет его в открытые соединения
type InAppChannel struct {
	notifications repository.NotificationRepository
	hub           userPusher
	clock         utils.Clock
}

func NewInAppChannel(notifications repository.NotificationRepository, hub userPusher, clock utils.Clock) *InAppChannel {
	return &InAppChannel{notifications: notifications, hub: hub, clock: clock}
}

func (c *InAppChannel) Send(ctx context.Context, _ *models.User, p models.NotificationPayload) error {
	if p.UserID == 0 {
		return notification.ErrNoContact
	}

	n := &models.Notification{
		ID:          uuid.NewString(),
		UserID:      p.UserID,
		Title:       p.Title,
		Message:     p.Message,
		Type:        p.Type,
		Category:    p.Category,
		Priority:    p.Priority,
		RelatedID:   p.RelatedID,
		RelatedType: p.RelatedType,
		ActionURL:   p.ActionURL,
		Metadata:    p.Metadata,
		CreatedAt:   c.clock.Now(),
	}
	if err := c.notifications.Create(ctx, n); err != nil {
		return fmt.Errorf("ошибка при сохранении уведомления: %w", err)
	}

	if c.hub == nil {
		return nil
	}
	// Уведомление уже во входящих, ошибка realtime отправки не повторяется
	if _, err := c.hub.SendToUser(p.UserID, &websocket.Message{Type: websocket.NotificationType, Payload: n}); err != nil {
		log.Printf("InAppChannel: не удалось отправить уведомление %s по WebSocket: %v", n.ID, err)
	}
	return nil
}
