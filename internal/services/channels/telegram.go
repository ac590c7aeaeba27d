package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"intercity-backend/internal/models"
	"intercity-backend/internal/services/notification"
)

const telegramAPI = "https://api.telegram.org"

// TelegramChat отправляет операторские оповещения в чат Telegram через Bot API
type TelegramChat struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
}

func NewTelegramChat(botToken, chatID string) *TelegramChat {
	return &TelegramChat{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  telegramAPI,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (t *TelegramChat) Send(ctx context.Context, _ *models.User, p models.NotificationPayload) error {
	if t.chatID == "" {
		return notification.ErrNoContact
	}

	jsonData, err := json.Marshal(map[string]interface{}{
		"chat_id":                  t.chatID,
		"text":                     operatorText(p),
		"disable_web_page_preview": true,
	})
	if err != nil {
		return fmt.Errorf("ошибка при маршалинге данных: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("ошибка при создании запроса: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("ошибка при отправке в Telegram: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("ошибка при чтении ответа: %w", err)
	}
	var result telegramResponse
	if err := json.Unmarshal(bodyBytes, &result); err != nil {
		return fmt.Errorf("ошибка при разборе ответа Telegram (статус %d): %w", resp.StatusCode, err)
	}
	if !result.OK {
		return fmt.Errorf("Telegram отклонил сообщение: %s", result.Description)
	}
	return nil
}

// LogChat пишет операторские оповещения в лог, когда чат не настроен
type LogChat struct{}

func (LogChat) Send(_ context.Context, _ *models.User, p models.NotificationPayload) error {
	log.Printf("OperatorAlert: %s", operatorText(p))
	return nil
}
