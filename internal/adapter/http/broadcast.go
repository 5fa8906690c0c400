package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/couchcryptid/p2pquake-service/internal/domain"
	"github.com/couchcryptid/p2pquake-service/internal/observability"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxClientFrame = 512
	sendBuffer     = 64
)

// Envelope types sent to downstream clients.
const (
	msgConnected = "connection_established"
	msgEvent     = "p2p_event"
	msgPong      = "pong"
)

type outbound struct {
	Type      string          `json:"type"`
	Code      domain.InfoCode `json:"code,omitempty"`
	Data      domain.Message  `json:"data,omitempty"`
	Message   string          `json:"message,omitempty"`
	Timestamp string          `json:"timestamp"`
}

type inbound struct {
	Type string `json:"type"`
}

// Broadcaster fans parsed events out to browser WebSocket clients. It is an
// http.Handler for the upgrade endpoint and a monitor handler for events.
// A client whose send buffer is full is disconnected.
type Broadcaster struct {
	upgrader websocket.Upgrader
	metrics  *observability.Metrics
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	clients map[uuid.UUID]*client
	closed  bool
}

type client struct {
	id   uuid.UUID
	conn *websocket.Conn
	send chan []byte
}

// NewBroadcaster creates a broadcaster with no clients.
func NewBroadcaster(metrics *observability.Metrics, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
		clients: make(map[uuid.UUID]*client),
	}
}

// ServeHTTP upgrades the request and serves the client until it disconnects.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{id: uuid.New(), conn: conn, send: make(chan []byte, sendBuffer)}
	if !b.add(c) {
		_ = conn.Close()
		return
	}
	b.logger.Info("websocket client connected", "client_id", c.id, "clients", b.Count())

	b.enqueue(c, outbound{Type: msgConnected, Message: "Connected to P2P earthquake feed"})
	go b.writePump(c)
	b.readPump(c)
}

// Handle broadcasts msg to every client. It never fails.
func (b *Broadcaster) Handle(_ context.Context, msg domain.Message) error {
	payload, err := b.encode(outbound{Type: msgEvent, Code: msg.Meta().Code, Data: msg})
	if err != nil {
		b.logger.Error("encode broadcast event", "error", err)
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for id, c := range b.clients {
		select {
		case c.send <- payload:
		default:
			b.logger.Warn("dropping slow websocket client", "client_id", id)
			b.removeLocked(c)
		}
	}
	return nil
}

// Count returns the number of connected clients.
func (b *Broadcaster) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Close disconnects every client and refuses new ones.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for _, c := range b.clients {
		b.removeLocked(c)
	}
}

func (b *Broadcaster) add(c *client) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.clients[c.id] = c
	b.metrics.BroadcastClients.Set(float64(len(b.clients)))
	return true
}

func (b *Broadcaster) remove(c *client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(c)
}

// removeLocked closes c.send exactly once; the write pump then closes the socket.
func (b *Broadcaster) removeLocked(c *client) {
	if _, ok := b.clients[c.id]; !ok {
		return
	}
	delete(b.clients, c.id)
	close(c.send)
	b.metrics.BroadcastClients.Set(float64(len(b.clients)))
}

func (b *Broadcaster) enqueue(c *client, m outbound) {
	payload, err := b.encode(m)
	if err != nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[c.id]; !ok {
		return
	}
	select {
	case c.send <- payload:
	default:
		b.removeLocked(c)
	}
}

func (b *Broadcaster) encode(m outbound) ([]byte, error) {
	m.Timestamp = b.now().UTC().Format(time.RFC3339)
	return json.Marshal(m)
}

func (b *Broadcaster) readPump(c *client) {
	defer func() {
		b.remove(c)
		_ = c.conn.Close()
		b.logger.Info("websocket client disconnected", "client_id", c.id)
	}()

	c.conn.SetReadLimit(maxClientFrame)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				b.logger.Warn("websocket client read error", "client_id", c.id, "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var in inbound
		if err := json.Unmarshal(data, &in); err == nil && in.Type == "ping" {
			b.enqueue(c, outbound{Type: msgPong})
		}
	}
}

func (b *Broadcaster) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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
