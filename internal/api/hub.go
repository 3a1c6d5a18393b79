package api

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/nerrad567/gray-logic-lightify/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-lightify/internal/infrastructure/logging"
)

const (
	defaultPingInterval = 30 * time.Second
	defaultPongTimeout  = 10 * time.Second
)

// Hub tracks WebSocket clients and fans events out to their subscriptions.
type Hub struct {
	logger *logging.Logger

	pingInterval time.Duration
	pongWait     time.Duration
	readLimit    int64

	mu      sync.RWMutex
	clients map[*WSClient]struct{}

	// initialState, when set, returns the events a client receives as soon
	// as it subscribes to channel, before any live update.
	initialState func(channel string) []any
}

// NewHub applies the websocket section of config.yaml. Non-positive
// intervals fall back to 30s pings and a 10s pong timeout.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	h := &Hub{
		logger:       logger,
		pingInterval: defaultPingInterval,
		pongWait:     defaultPongTimeout,
		readLimit:    int64(cfg.MaxMessageSize),
		clients:      make(map[*WSClient]struct{}),
	}
	if cfg.PingInterval > 0 {
		h.pingInterval = time.Duration(cfg.PingInterval) * time.Second
	}
	if cfg.PongTimeout > 0 {
		h.pongWait = time.Duration(cfg.PongTimeout) * time.Second
	}
	return h
}

// Run blocks until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := lo.Keys(h.clients)
	clear(h.clients)
	h.mu.Unlock()

	for _, c := range clients {
		c.closeSend()
		if c.conn != nil {
			c.conn.Close()
		}
	}
}

// Register adds a client.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

// Unregister removes a client and closes its send channel. Calling it
// twice is harmless.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	delete(h.clients, client)
	n := len(h.clients)
	h.mu.Unlock()

	client.closeSend()
	h.logger.Debug("websocket client disconnected", "clients", n)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues an event for every client subscribed to channel.
// Client locks are only taken after the hub lock is released.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := json.Marshal(newEvent(channel, payload))
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "error", err)
		return
	}

	h.mu.RLock()
	clients := lo.Keys(h.clients)
	h.mu.RUnlock()

	recipients := lo.Filter(clients, func(c *WSClient, _ int) bool {
		return c.isSubscribed(channel)
	})
	for _, c := range recipients {
		c.trySend(data)
	}
	if len(recipients) > 0 {
		h.logger.Debug("broadcast sent", "channel", channel, "recipients", len(recipients))
	}
}

func newEvent(channel string, payload any) WSMessage {
	return WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}
}
