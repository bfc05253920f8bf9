// Package api provides the HTTP and WebSocket read surface over the engine.
package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/atlas-quant/optopus-engine/internal/events"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// wsMessage is the envelope broadcast to every connected WebSocket client.
type wsMessage struct {
	Type      events.EventType `json:"type"`
	Event     events.Event     `json:"event"`
	Timestamp int64            `json:"timestamp"`
}

// client is one connected WebSocket subscriber.
type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// hub fans events.Bus events out to every connected WebSocket client. It
// subscribes to the bus once via SubscribeAll and owns the broadcast
// fan-out; individual clients never touch the bus directly.
type hub struct {
	logger *zap.Logger

	mu      sync.RWMutex
	clients map[*client]bool

	upgrader websocket.Upgrader
}

func newHub(logger *zap.Logger) *hub {
	return &hub{
		logger:  logger.Named("ws"),
		clients: make(map[*client]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// subscribe wires the hub to the bus, broadcasting every event it carries.
// Returns the Subscription so the caller can Unsubscribe on shutdown.
func (h *hub) subscribe(bus *events.Bus) *events.Subscription {
	return bus.SubscribeAll(func(e events.Event) error {
		h.broadcast(e)
		return nil
	})
}

func (h *hub) broadcast(e events.Event) {
	msg := wsMessage{Type: e.GetType(), Event: e, Timestamp: e.GetTimestamp().UnixMilli()}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal event for broadcast", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("client send buffer full, dropping event", zap.String("client", c.id))
		}
	}
}

func (h *hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
}

func (h *hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// handleWebSocket upgrades the connection and starts its read/write pumps.
// The feed is one-directional (server to client); any inbound message is
// treated only as a liveness signal, never a command.
func (h *hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{id: uuid.New().String(), conn: conn, send: make(chan []byte, 256)}
	h.register(c)
	h.logger.Info("websocket client connected", zap.String("id", c.id))

	go h.writePump(c)
	go h.readPump(c)
}

func (h *hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
		h.logger.Info("websocket client disconnected", zap.String("id", c.id))
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (h *hub) writePump(c *client) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
