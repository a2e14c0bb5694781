// Package ws broadcasts enriched race events to WebSocket subscribers.
// It is one of the sinks hung off the pipeline; a commentary dashboard or
// a strategy console subscribes to /stream and receives every published
// event for the sessions it watches.
package ws

import (
	"context"
	"net/http"
	"sync"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/okian/stint/internal/domain/model"
	"github.com/okian/stint/pkg/logger"
	"github.com/okian/stint/pkg/metrics"
)

// Default hub configuration constants.
const (
	defaultSendBuffer = 64
)

// Hub tracks connected clients and fans published events out to them.
// A client whose send buffer is full is disconnected rather than allowed
// to stall the broadcast path.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}

	sendBuffer int
	upgrader   websocket.Upgrader
	log        logger.Logger
}

// Option applies a configuration option to the Hub.
type Option func(*Hub)

// WithSendBuffer sets the per-client outbound buffer size.
func WithSendBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.log = l
		}
	}
}

// NewHub creates a broadcast hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		clients:    make(map[*Client]struct{}),
		sendBuffer: defaultSendBuffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The stream is read-only telemetry; any origin may subscribe.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log: logger.Get().Named("ws"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Publish implements sink.Sink: the enriched event is serialized once and
// fanned out to every subscriber watching its session.
func (h *Hub) Publish(ctx context.Context, ev model.EnrichedRaceEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		if c.watches(ev.SessionKey) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- payload:
		default:
			// Slow consumer: cut it loose instead of blocking the pipeline.
			metrics.RecordBroadcastClientDrop()
			h.remove(c)
			c.close()
		}
	}
	return nil
}

// HandleStream upgrades GET /stream requests and subscribes the client.
// An optional ?session= query parameter narrows the subscription.
func (h *Hub) HandleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn(r.Context(), "websocket upgrade failed", logger.Error(err))
		return
	}

	c := newClient(h, conn, r.URL.Query().Get("session"))
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.UpdateBroadcastClients(n)

	go c.writePump()
	go c.readPump()
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects all subscribers.
func (h *Hub) Close() error {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*Client]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	metrics.UpdateBroadcastClients(0)
	return nil
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	metrics.UpdateBroadcastClients(n)
}
