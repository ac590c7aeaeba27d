package channels

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"intercity-backend/internal/config"
	"intercity-backend/internal/models"
	"intercity-backend/internal/repository"
	"intercity-backend/internal/services/notification"
	"intercity-backend/internal/utils"
	"intercity-backend/internal/websocket"
)

var samplePayload = models.NotificationPayload{
	UserID:      2,
	Title:       "Бронирование подтверждено",
	Message:     "Водитель подтвердил вашу поездку Алматы - Астана",
	Type:        models.TypeBookingConfirmed,
	Category:    models.CategoryBooking,
	Priority:    models.PriorityHigh,
	RelatedID:   "15",
	RelatedType: "booking",
}

type recordingPusher struct {
	userID   uint
	messages []*websocket.Message
}

func (p *recordingPusher) SendToUser(userID uint, m *websocket.Message) (int, error) {
	p.userID = userID
	p.messages = append(p.messages, m)
	return 1, nil
}

func TestInAppStoresAndPushes(t *testing.T) {
	store := repository.NewMemoryStore()
	clock := utils.NewFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	pusher := &recordingPusher{}
	ch := NewInAppChannel(store.Notifications, pusher, clock)

	if err := ch.Send(context.Background(), nil, samplePayload); err != nil {
		t.Fatalf("send: %v", err)
	}

	inbox, err := store.Notifications.ListByUser(context.Background(), 2, 10)
	if err != nil || len(inbox) != 1 {
		t.Fatalf("expected 1 inbox entry, got %d %v", len(inbox), err)
	}
	if inbox[0].Read || !inbox[0].CreatedAt.Equal(clock.Now()) || inbox[0].ID == "" {
		t.Fatalf("unexpected inbox entry %+v", inbox[0])
	}
	if pusher.userID != 2 || len(pusher.messages) != 1 || pusher.messages[0].Type != websocket.NotificationType {
		t.Fatalf("expected realtime push to user 2, got %+v", pusher)
	}

	operator := samplePayload
	operator.UserID = 0
	if err := ch.Send(context.Background(), nil, operator); !errors.Is(err, notification.ErrNoContact) {
		t.Fatalf("expected ErrNoContact for payload without user, got %v", err)
	}
}

func TestPushPostsToFCM(t *testing.T) {
	var got fcmPayload
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := NewPushChannel("server-key")
	ch.endpoint = srv.URL

	user := &models.User{ID: 2, FCMToken: "device-token"}
	if err := ch.Send(context.Background(), user, samplePayload); err != nil {
		t.Fatalf("send: %v", err)
	}
	if auth != "key=server-key" {
		t.Fatalf("unexpected authorization header %q", auth)
	}
	if got.To != "device-token" || got.Notification.Title != samplePayload.Title || got.Priority != "high" {
		t.Fatalf("unexpected FCM payload %+v", got)
	}
	if got.Data["related_id"] != "15" || got.Data["type"] != string(models.TypeBookingConfirmed) {
		t.Fatalf("unexpected FCM data %+v", got.Data)
	}

	if err := ch.Send(context.Background(), &models.User{ID: 3}, samplePayload); !errors.Is(err, notification.ErrNoContact) {
		t.Fatalf("expected ErrNoContact without token, got %v", err)
	}
}

func TestPushReportsFCMFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ch := NewPushChannel("server-key")
	ch.endpoint = srv.URL

	err := ch.Send(context.Background(), &models.User{ID: 2, FCMToken: "t"}, samplePayload)
	if err == nil || errors.Is(err, notification.ErrNoContact) {
		t.Fatalf("expected retryable error, got %v", err)
	}
}

func TestEmailBuildsMultipartMessage(t *testing.T) {
	ch := NewEmailChannel("smtp.example.kz", "587", "robot", "secret", "noreply@example.kz")

	var sentTo []string
	var sentMsg string
	ch.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		if addr != "smtp.example.kz:587" || from != "noreply@example.kz" {
			t.Errorf("unexpected addr %s from %s", addr, from)
		}
		sentTo = to
		sentMsg = string(msg)
		return nil
	}

	if err := ch.Send(context.Background(), &models.User{ID: 2, Email: "aigerim@example.kz"}, samplePayload); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(sentTo) != 1 || sentTo[0] != "aigerim@example.kz" {
		t.Fatalf("unexpected recipients %v", sentTo)
	}
	for _, want := range []string{"multipart/alternative", "text/plain; charset=UTF-8", "text/html; charset=UTF-8", "<h2>Бронирование подтверждено</h2>"} {
		if !strings.Contains(sentMsg, want) {
			t.Fatalf("message missing %q:\n%s", want, sentMsg)
		}
	}

	if err := ch.Send(context.Background(), &models.User{ID: 3}, samplePayload); !errors.Is(err, notification.ErrNoContact) {
		t.Fatalf("expected ErrNoContact without email, got %v", err)
	}
}

func newGreenAPIServer(t *testing.T, received *map[string]string, path *string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*path = r.URL.Path
		json.NewDecoder(r.Body).Decode(received)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"idMessage":"BAE5F4886F8A"}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestWhatsAppSendsToPhone(t *testing.T) {
	received := map[string]string{}
	var path string
	srv := newGreenAPIServer(t, &received, &path)

	ch := NewWhatsAppChannel(NewGreenAPIClient("1101", "token", srv.URL))
	if err := ch.Send(context.Background(), &models.User{ID: 2, Phone: "+77011234567"}, samplePayload); err != nil {
		t.Fatalf("send: %v", err)
	}
	if path != "/waInstance1101/sendMessage/token" {
		t.Fatalf("unexpected path %s", path)
	}
	if received["chatId"] != "77011234567@c.us" || !strings.HasPrefix(received["message"], samplePayload.Title) {
		t.Fatalf("unexpected request %v", received)
	}

	for _, phone := range []string{"", "8-701-123", "+7701123456789"} {
		err := ch.Send(context.Background(), &models.User{ID: 2, Phone: phone}, samplePayload)
		if !errors.Is(err, notification.ErrNoContact) {
			t.Fatalf("phone %q: expected ErrNoContact, got %v", phone, err)
		}
	}
}

func TestWhatsAppOperatorChat(t *testing.T) {
	received := map[string]string{}
	var path string
	srv := newGreenAPIServer(t, &received, &path)

	ch := NewWhatsAppOperatorChat(NewGreenAPIClient("1101", "token", srv.URL), "120363025@g.us")
	if err := ch.Send(context.Background(), nil, samplePayload); err != nil {
		t.Fatalf("send: %v", err)
	}
	if received["chatId"] != "120363025@g.us" || !strings.Contains(received["message"], "booking #15") {
		t.Fatalf("unexpected request %v", received)
	}
}

func TestGreenAPIRequiresIDMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	api := NewGreenAPIClient("1101", "token", srv.URL)
	if _, err := api.SendMessage(context.Background(), "77011234567@c.us", "текст"); err == nil {
		t.Fatal("expected error without idMessage")
	}
}

func TestTelegramChat(t *testing.T) {
	var body map[string]interface{}
	var path string
	ok := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		json.NewDecoder(r.Body).Decode(&body)
		if ok {
			w.Write([]byte(`{"ok":true,"result":{"message_id":1}}`))
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"ok":false,"description":"Bad Request: chat not found"}`))
	}))
	defer srv.Close()

	ch := NewTelegramChat("123:abc", "-100500")
	ch.baseURL = srv.URL

	if err := ch.Send(context.Background(), nil, samplePayload); err != nil {
		t.Fatalf("send: %v", err)
	}
	if path != "/bot123:abc/sendMessage" || body["chat_id"] != "-100500" {
		t.Fatalf("unexpected request %s %v", path, body)
	}

	ok = false
	if err := ch.Send(context.Background(), nil, samplePayload); err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("expected Telegram error, got %v", err)
	}
}

func TestFromConfigSelectsConfiguredChannels(t *testing.T) {
	store := repository.NewMemoryStore()
	clock := utils.NewFakeClock(time.Now())

	senders, chat := FromConfig(config.Config{}, store.Notifications, &recordingPusher{}, clock)
	if _, ok := senders[models.ChannelInApp]; !ok {
		t.Fatal("in-app must always be configured")
	}
	for _, ch := range []models.Channel{models.ChannelPush, models.ChannelEmail, models.ChannelSMS} {
		if _, ok := senders[ch]; ok {
			t.Fatalf("channel %s must be disabled without settings", ch)
		}
	}
	if _, ok := chat.(LogChat); !ok {
		t.Fatalf("expected log fallback for operator chat, got %T", chat)
	}

	cfg := config.Config{
		FirebaseServerKey: "key",
		SMTP:              config.SMTPConfig{Host: "smtp.example.kz", Port: "587", From: "noreply@example.kz"},
		GreenAPI:          config.GreenAPIConfig{InstanceID: "1101", Token: "t", BaseURL: "https://api.green-api.com", OperatorChatID: "120363025@g.us"},
	}
	senders, chat = FromConfig(cfg, store.Notifications, &recordingPusher{}, clock)
	if len(senders) != 5 {
		t.Fatalf("expected 5 channels, got %d", len(senders))
	}
	if _, ok := chat.(*WhatsAppOperatorChat); !ok {
		t.Fatalf("expected WhatsApp operator chat, got %T", chat)
	}

	cfg.Telegram = config.TelegramConfig{BotToken: "123:abc", ChatID: "-100500"}
	if _, chat = FromConfig(cfg, store.Notifications, &recordingPusher{}, clock); chat == nil {
		t.Fatal("expected operator chat")
	}
	if _, ok := chat.(*TelegramChat); !ok {
		t.Fatalf("Telegram must take precedence, got %T", chat)
	}
}
