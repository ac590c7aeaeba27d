package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"intercity-backend/internal/models"
	"intercity-backend/internal/services/notification"
)

// GreenAPIClient отправляет сообщения WhatsApp через Green API
type GreenAPIClient struct {
	idInstance       string
	apiTokenInstance string
	baseURL          string
	client           *http.Client
}

func NewGreenAPIClient(idInstance, apiTokenInstance, baseURL string) *GreenAPIClient {
	return &GreenAPIClient{
		idInstance:       idInstance,
		apiTokenInstance: apiTokenInstance,
		baseURL:          strings.TrimRight(baseURL, "/"),
		client:           &http.Client{Timeout: 30 * time.Second},
	}
}

// SendMessage отправляет текст в чат и возвращает идентификатор сообщения
func (g *GreenAPIClient) SendMessage(ctx context.Context, chatID, message string) (string, error) {
	if g.idInstance == "" || g.apiTokenInstance == "" || g.baseURL == "" {
		return "", fmt.Errorf("отсутствуют необходимые параметры Green API")
	}

	url := fmt.Sprintf("%s/waInstance%s/sendMessage/%s", g.baseURL, g.idInstance, g.apiTokenInstance)
	jsonData, err := json.Marshal(map[string]interface{}{
		"chatId":  chatID,
		"message": message,
	})
	if err != nil {
		return "", fmt.Errorf("ошибка при маршалинге данных: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("ошибка при создании запроса: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ошибка при отправке сообщения: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("ошибка при чтении ответа: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("неуспешный статус ответа Green API: %d, тело: %s", resp.StatusCode, string(bodyBytes))
	}

	var response map[string]interface{}
	if err := json.Unmarshal(bodyBytes, &response); err != nil {
		return "", fmt.Errorf("ошибка при разборе ответа: %w", err)
	}
	idMessage, ok := response["idMessage"].(string)
	if !ok || idMessage == "" {
		return "", fmt.Errorf("в ответе Green API нет idMessage: %s", string(bodyBytes))
	}
	return idMessage, nil
}

var errInvalidPhone = errors.New("некорректный номер телефона")

// phoneChatID приводит номер телефона к идентификатору чата WhatsApp
func phoneChatID(phone string) (string, error) {
	digits := strings.TrimPrefix(strings.TrimSpace(phone), "+")
	for _, r := range digits {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("%w: %s", errInvalidPhone, phone)
		}
	}
	// Номера Казахстана и России: 11-12 цифр
	if len(digits) < 11 || len(digits) > 12 {
		return "", fmt.Errorf("%w: %s", errInvalidPhone, phone)
	}
	return digits + "@c.us", nil
}

func plainText(p models.NotificationPayload) string {
	if p.Title == "" {
		return p.Message
	}
	return p.Title + "\n\n" + p.Message
}

// WhatsAppChannel доставляет уведомления канала sms на телефон пользователя
type WhatsAppChannel struct {
	api *GreenAPIClient
}

func NewWhatsAppChannel(api *GreenAPIClient) *WhatsAppChannel {
	return &WhatsAppChannel{api: api}
}

func (c *WhatsAppChannel) Send(ctx context.Context, recipient *models.User, p models.NotificationPayload) error {
	if recipient == nil || recipient.Phone == "" {
		return notification.ErrNoContact
	}
	chatID, err := phoneChatID(recipient.Phone)
	if err != nil {
		// повторная попытка не исправит номер
		return fmt.Errorf("%w: %v", notification.ErrNoContact, err)
	}
	_, err = c.api.SendMessage(ctx, chatID, plainText(p))
	return err
}

// WhatsAppOperatorChat отправляет операторские оповещения в общий чат WhatsApp
type WhatsAppOperatorChat struct {
	api    *GreenAPIClient
	chatID string
}

func NewWhatsAppOperatorChat(api *GreenAPIClient, chatID string) *WhatsAppOperatorChat {
	return &WhatsAppOperatorChat{api: api, chatID: chatID}
}

func (c *WhatsAppOperatorChat) Send(ctx context.Context, _ *models.User, p models.NotificationPayload) error {
	if c.chatID == "" {
		return notification.ErrNoContact
	}
	_, err := c.api.SendMessage(ctx, c.chatID, operatorText(p))
	return err
}

// operatorText добавляет к тексту оповещения тип и связанный объект
func operatorText(p models.NotificationPayload) string {
	text := plainText(p)
	if p.RelatedType != "" && p.RelatedID != "" {
		text += fmt.Sprintf("\n\n[%s] %s #%s", p.Type, p.RelatedType, p.RelatedID)
	} else if p.Type != "" {
		text += fmt.Sprintf("\n\n[%s]", p.Type)
	}
	return text
}
