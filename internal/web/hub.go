package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/numia-vision/edge-counter/internal/logger"
	"github.com/numia-vision/edge-counter/internal/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// local network dashboard, same policy as the REST CORS layer
		return true
	},
}

// liveClient is one connected dashboard browser
type liveClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

// Hub fans live snapshots out to connected dashboard clients. Slow clients
// whose send buffer fills are disconnected rather than allowed to stall the
// broadcast.
type Hub struct {
	clients    map[*liveClient]bool
	register   chan *liveClient
	unregister chan *liveClient
	broadcast  chan []byte

	logger  *logger.Logger
	metrics *metrics.Metrics

	stop     chan struct{}
	stopOnce sync.Once

	mu     sync.RWMutex
	latest []byte // last broadcast payload, replayed to new clients
}

// NewHub creates a live snapshot hub
func NewHub(log *logger.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		clients:    make(map[*liveClient]bool),
		register:   make(chan *liveClient, 10),
		unregister: make(chan *liveClient, 10),
		broadcast:  make(chan []byte, 100),
		stop:       make(chan struct{}),
		logger:     log,
		metrics:    m,
	}
}

// Run processes hub events until Stop is called; must run in its own
// goroutine
func (h *Hub) Run() {
	for {
		select {
		case <-h.stop:
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
				h.metrics.ClientDisconnected()
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			latest := h.latest
			h.mu.Unlock()
			h.metrics.ClientConnected()
			h.logger.Info("Live client connected", "client_id", client.id, "total", h.ClientCount())

			// bring the new client up to date immediately
			if latest != nil {
				select {
				case client.send <- latest:
				default:
				}
			}

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.metrics.ClientDisconnected()
				h.logger.Info("Live client disconnected", "client_id", client.id, "total", len(h.clients))
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			h.latest = message
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					delete(h.clients, client)
					close(client.send)
					h.metrics.ClientDisconnected()
					h.logger.Warn("Live client buffer full, disconnecting", "client_id", client.id)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Stop terminates the Run loop and disconnects every client. Idempotent.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.stop)
	})
}

// Broadcast marshals a payload and queues it for all clients. Non-blocking:
// if the hub is saturated the payload is dropped, the next snapshot
// supersedes it anyway.
func (h *Hub) Broadcast(payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("Failed to marshal live payload", "error", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// handleLive upgrades a dashboard connection and starts its pumps
func (h *Hub) handleLive(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Websocket upgrade failed", "error", err)
		return
	}

	client := &liveClient{
		id:   fmt.Sprintf("%s_%d", c.ClientIP(), time.Now().UnixNano()),
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
	}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

// readPump drains inbound frames; the dashboard never sends meaningful data
// but the read loop is required to process control frames
func (c *liveClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump delivers queued snapshots and keepalive pings
func (c *liveClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
