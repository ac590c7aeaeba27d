package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func newHubServer(t *testing.T, userID uint) (*Hub, *httptest.Server, context.CancelFunc) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	r := gin.New()
	r.GET("/ws", func(c *gin.Context) {
		if userID > 0 {
			c.Set("user_id", userID)
		}
		c.Next()
	}, hub.Handler())

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return hub, srv, cancel
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func waitConnected(t *testing.T, hub *Hub, userID uint, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.Connected(userID) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d connections for user %d, got %d", want, userID, hub.Connected(userID))
}

func TestSendToUserReachesEveryConnection(t *testing.T) {
	hub, srv, cancel := newHubServer(t, 7)
	defer cancel()

	first := dial(t, srv)
	defer first.Close()
	second := dial(t, srv)
	defer second.Close()
	waitConnected(t, hub, 7, 2)

	n, err := hub.SendToUser(7, &Message{Type: NotificationType, Payload: map[string]string{"title": "Бронирование подтверждено"}})
	if err != nil || n != 2 {
		t.Fatalf("expected delivery to 2 connections, got %d %v", n, err)
	}

	for _, conn := range []*websocket.Conn{first, second} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil || msg.Type != NotificationType {
			t.Fatalf("unexpected message %s: %v", raw, err)
		}
	}

	if n, _ := hub.SendToUser(8, &Message{Type: NotificationType}); n != 0 {
		t.Fatalf("user without connections must receive nothing, got %d", n)
	}
}

func TestPingGetsPong(t *testing.T) {
	hub, srv, cancel := newHubServer(t, 3)
	defer cancel()

	conn := dial(t, srv)
	defer conn.Close()
	waitConnected(t, hub, 3, 1)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil || !strings.Contains(string(raw), `"pong"`) {
		t.Fatalf("expected pong, got %s %v", raw, err)
	}
}

func TestDisconnectUnregisters(t *testing.T) {
	hub, srv, cancel := newHubServer(t, 5)
	defer cancel()

	conn := dial(t, srv)
	waitConnected(t, hub, 5, 1)
	conn.Close()
	waitConnected(t, hub, 5, 0)
}

func TestHandlerRequiresUser(t *testing.T) {
	_, srv, cancel := newHubServer(t, 0)
	defer cancel()

	resp, err := http.Get(srv.URL + "/ws")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}
