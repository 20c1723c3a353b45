// Package live streams aggregate updates to WebSocket clients.
package live

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/homewatt/homewatt/pkg/config"
	"github.com/homewatt/homewatt/pkg/rollup"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// No Origin header = direct connection (non-browser clients).
		return origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host
	},
	ReadBufferSize:  config.WSReadBufferSize,
	WriteBufferSize: config.WSWriteBufferSize,
}

// AggregateUpdate is the message broadcast after each recompute.
type AggregateUpdate struct {
	Type                  string  `json:"type"`
	DeviceID              string  `json:"device_id"`
	Period                string  `json:"period"`
	TotalPowerConsumption float64 `json:"total_power_consumption"`
	Timestamp             int64   `json:"timestamp"`
}

// client is one WebSocket connection. All writes to the connection go
// through writePump, which is the connection's only writer; the hub only
// ever sends to the client's buffered send channel.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// writePump owns every write on the connection: broadcast messages and
// keepalive pings. It exits when the send channel closes or a write fails.
func (c *client) writePump(log zerolog.Logger) {
	ticker := time.NewTicker(config.WSPingInterval)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
			if !ok {
				// Hub closed the channel; say goodbye.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().Err(err).Msg("websocket write error")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Hub manages WebSocket connections for the aggregate-update feed.
type Hub struct {
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	broadcast  chan []byte

	log zerolog.Logger
	mu  sync.RWMutex
}

// NewHub creates a WebSocket hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		register:   make(chan *client, config.WSChannelBuffer),
		unregister: make(chan *client, config.WSChannelBuffer),
		broadcast:  make(chan []byte, config.WSBroadcastBuffer),
		log:        logger.With().Str("component", "live").Logger(),
	}
}

// AggregateUpdated implements rollup.Notifier.
func (h *Hub) AggregateUpdated(deviceID string, period rollup.Period, total float64) {
	h.Broadcast(AggregateUpdate{
		Type:                  "aggregate_update",
		DeviceID:              deviceID,
		Period:                string(period),
		TotalPowerConsumption: total,
		Timestamp:             time.Now().Unix(),
	})
}

// Run starts the hub's main loop. It owns the client set; a client whose
// send buffer is full is dropped inline so a stalled connection can never
// block the loop.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
				c.conn.Close()
			}
			h.mu.Unlock()
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.log.Debug().Int("clients", count).Msg("websocket client connected")
		case c := <-h.unregister:
			h.mu.Lock()
			h.drop(c)
			count := len(h.clients)
			h.mu.Unlock()
			h.log.Debug().Int("clients", count).Msg("websocket client disconnected")
		case message := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					h.log.Warn().Msg("client send buffer full, dropping client")
					h.drop(c)
				}
			}
			h.mu.Unlock()
		}
	}
}

// drop removes a client and releases its connection. Idempotent so the
// unregister path and the full-buffer path cannot double-close. Caller
// holds mu.
func (h *Hub) drop(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	c.conn.Close()
}

// Broadcast sends a message to all connected clients. Drops the message
// when the channel is full rather than blocking the caller.
func (h *Hub) Broadcast(data any) {
	message, err := json.Marshal(data)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to encode broadcast message")
		return
	}

	select {
	case h.broadcast <- message:
	default:
		h.log.Warn().Msg("broadcast channel full, dropping message")
	}
}

// HasClients returns true if any WebSocket clients are connected.
func (h *Hub) HasClients() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients) > 0
}

// Handle upgrades HTTP requests to WebSocket connections.
func (h *Hub) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, config.WSSendBuffer),
	}
	h.register <- c
	go c.writePump(h.log)

	defer func() {
		h.unregister <- c
	}()

	conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
		return nil
	})

	// Read loop handles control frames and detects connection close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Debug().Err(err).Msg("websocket closed unexpectedly")
			}
			break
		}
	}
}
