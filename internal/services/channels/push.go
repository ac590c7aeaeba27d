package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"intercity-backend/internal/models"
	"intercity-backend/internal/services/notification"
)

const fcmEndpoint = "https://fcm.googleapis.com/fcm/send"

type fcmPayload struct {
	To           string            `json:"to"`
	Priority     string            `json:"priority,omitempty"`
	Notification fcmContent        `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
}

type fcmContent struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// PushChannel отправляет push через Firebase Cloud Messaging
type PushChannel struct {
	serverKey string
	endpoint  string
	client    *http.Client
}

func NewPushChannel(serverKey string) *PushChannel {
	return &PushChannel{
		serverKey: serverKey,
		endpoint:  fcmEndpoint,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *PushChannel) Send(ctx context.Context, recipient *models.User, p models.NotificationPayload) error {
	if recipient == nil || recipient.FCMToken == "" {
		return notification.ErrNoContact
	}

	payload := fcmPayload{
		To:           recipient.FCMToken,
		Notification: fcmContent{Title: p.Title, Body: p.Message},
		Data: map[string]string{
			"type":         string(p.Type),
			"category":     string(p.Category),
			"related_id":   p.RelatedID,
			"related_type": p.RelatedType,
			"action_url":   p.ActionURL,
		},
	}
	switch p.Priority {
	case models.PriorityHigh, models.PriorityUrgent, models.PriorityCritical:
		payload.Priority = "high"
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("ошибка при маршалинге данных: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("ошибка при создании запроса: %w", err)
	}
	req.Header.Set("Authorization", "key="+c.serverKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("ошибка при отправке запроса: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("неуспешный статус ответа FCM: %d", resp.StatusCode)
	}
	return nil
}
