package view

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/loykin/samgo/internal/achievement"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 8
)

// Message is the JSON frame pushed to websocket clients.
type Message struct {
	Type         string               `json:"type"` // "reset" or "snapshot"
	Achievements []achievement.Record `json:"achievements,omitempty"`
	Achieved     int                  `json:"achieved"`
	At           time.Time            `json:"at"`
}

// Hub broadcasts view updates to websocket clients. A new client receives the
// last completed snapshot first.
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	pending []achievement.Record
	last    *Message
}

type client struct {
	conn *websocket.Conn
	send chan Message
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:  logger.With("component", "view"),
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

func (h *Hub) Reset() {
	h.mu.Lock()
	h.pending = nil
	h.mu.Unlock()
	h.broadcast(Message{Type: "reset", At: time.Now().UTC()})
}

func (h *Hub) Add(r achievement.Record) {
	h.mu.Lock()
	h.pending = append(h.pending, r)
	h.mu.Unlock()
}

func (h *Hub) Finalize() {
	h.mu.Lock()
	m := Message{Type: "snapshot", Achievements: h.pending, At: time.Now().UTC()}
	if m.Achievements == nil {
		m.Achievements = []achievement.Record{}
	}
	for _, r := range m.Achievements {
		if r.Achieved {
			m.Achieved++
		}
	}
	h.pending = nil
	h.last = &m
	h.mu.Unlock()
	h.broadcast(m)
}

// Clients reports the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) broadcast(m Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- m:
		default:
			// slow client
			h.logger.Debug("Dropping view client", "remote", c.conn.RemoteAddr().String())
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// ServeHTTP upgrades the request and streams messages until the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", "error", err)
		return
	}
	c := &client{conn: conn, send: make(chan Message, sendBuffer)}
	h.mu.Lock()
	if h.last != nil {
		c.send <- *h.last
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// readPump only handles control frames; client messages are discarded.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case m, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(m); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
