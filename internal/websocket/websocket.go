package websocket

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// NotificationType - тип сообщения с новым уведомлением во входящих
const NotificationType = "NOTIFICATION"

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 16
)

// Message - формат сообщения WebSocket
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Client - одно соединение пользователя
type Client struct {
	conn   *websocket.Conn
	userID uint
	send   chan []byte
}

// Hub держит соединения по пользователям. Создается явно и передается
// тем, кому нужно отправлять сообщения
type Hub struct {
	mu            sync.RWMutex
	clientsByUser map[uint]map[*Client]struct{}
	register      chan *Client
	unregister    chan *Client
	done          chan struct{}
	upgrader      websocket.Upgrader
}

func NewHub() *Hub {
	return &Hub{
		clientsByUser: make(map[uint]map[*Client]struct{}),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		done:          make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Разрешаем подключения с любых источников
			},
		},
	}
}

// Run обрабатывает регистрацию соединений до отмены ctx
func (h *Hub) Run(ctx context.Context) {
	log.Printf("WebSocketHub: запущен")
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			log.Printf("WebSocketHub: остановлен")
			return

		case client := <-h.register:
			h.mu.Lock()
			if _, ok := h.clientsByUser[client.userID]; !ok {
				h.clientsByUser[client.userID] = make(map[*Client]struct{})
			}
			h.clientsByUser[client.userID][client] = struct{}{}
			h.mu.Unlock()
			log.Printf("WebSocketHub: пользователь %d подключился", client.userID)

		case client := <-h.unregister:
			h.remove(client)
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.clientsByUser[client.userID]
	if !ok {
		return
	}
	if _, exists := conns[client]; !exists {
		return
	}
	delete(conns, client)
	close(client.send)
	if len(conns) == 0 {
		delete(h.clientsByUser, client.userID)
	}
	log.Printf("WebSocketHub: пользователь %d отключился", client.userID)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for userID, conns := range h.clientsByUser {
		for client := range conns {
			close(client.send)
		}
		delete(h.clientsByUser, userID)
	}
}

// Connected возвращает количество соединений пользователя
func (h *Hub) Connected(userID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clientsByUser[userID])
}

// SendToUser отправляет сообщение во все соединения пользователя.
// Возвращает количество соединений, принявших сообщение
func (h *Hub) SendToUser(userID uint, message *Message) (int, error) {
	data, err := json.Marshal(message)
	if err != nil {
		return 0, err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for client := range h.clientsByUser[userID] {
		select {
		case client.send <- data:
			delivered++
		default:
			// Медленный клиент пропускает сообщение, уведомление останется во входящих
			log.Printf("WebSocketHub: буфер пользователя %d переполнен", userID)
		}
	}
	return delivered, nil
}

// reply отправляет ответ одному соединению, если оно еще зарегистрировано
func (h *Hub) reply(client *Client, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if _, ok := h.clientsByUser[client.userID][client]; !ok {
		return
	}
	select {
	case client.send <- data:
	default:
	}
}

// Handler принимает WebSocket соединение авторизованного пользователя
func (h *Hub) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetUint("user_id")
		if userID == 0 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Требуется авторизация"})
			return
		}

		conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("WebSocketHub: ошибка обновления соединения: %v", err)
			return
		}

		client := &Client{conn: conn, userID: userID, send: make(chan []byte, sendBuffer)}
		select {
		case h.register <- client:
		case <-h.done:
			conn.Close()
			return
		}

		go h.writePump(client)
		go h.readPump(client)
	}
}

// readPump читает ping-сообщения клиента и следит за обрывом соединения
func (h *Hub) readPump(client *Client) {
	defer func() {
		select {
		case h.unregister <- client:
		case <-h.done:
		}
		client.conn.Close()
	}()

	client.conn.SetReadLimit(4096)
	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := client.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil || msg.Type != "ping" {
			continue
		}
		pong, _ := json.Marshal(map[string]interface{}{"type": "pong", "time": time.Now().Unix()})
		h.reply(client, pong)
	}
}

func (h *Hub) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case data, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Printf("WebSocketHub: ошибка отправки пользователю %d: %v", client.userID, err)
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
