package api

import (
	"encoding/json"
	"net/http"
	"path"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"

	"github.com/nerrad567/gray-logic-lightify/internal/bridges/lightify"
)

// Message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

// Event channels clients may subscribe to.
const (
	ChannelLightState   = "light.state_changed"
	ChannelLightRemoved = "light.removed"
)

// wsSendBufferSize is the per-client outbound queue length. A client that
// falls further behind loses events.
const wsSendBufferSize = 256

// WSMessage is the envelope for every frame in both directions.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload of subscribe and unsubscribe messages.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// inboundMessage defers payload decoding until the type is known.
type inboundMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// WSClient is one WebSocket connection.
type WSClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu            sync.RWMutex
	subscriptions map[string]struct{}
	closed        bool
}

// The API has no browser origin policy, so any origin is accepted.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
	}
	s.hub.Register(client)

	go client.writePump()
	go client.readPump()
}

// currentLightStates is the Hub's initialState: a new light.state_changed
// subscriber first receives one event per known light.
func (s *Server) currentLightStates(channel string) []any {
	if channel != ChannelLightState {
		return nil
	}
	return lo.Map(s.bridge.LightSnapshots(), func(snap lightify.LightSnapshot, _ int) any {
		return lightify.NewStateMessage(snap)
	})
}

// subscribeStateUpdates relays the bridge's retained light state messages
// to WebSocket clients.
func (s *Server) subscribeStateUpdates() error {
	if s.mqtt == nil {
		return nil
	}
	topic := lightify.StateSubscribeTopic()
	s.logger.Info("subscribing to light state for WebSocket relay", "topic", topic)
	return s.mqtt.Subscribe(topic, 1, s.relayState)
}

// relayState broadcasts one MQTT light state message. An empty retained
// payload means the light was removed.
func (s *Server) relayState(topic string, payload []byte) error {
	if len(payload) == 0 {
		s.hub.Broadcast(ChannelLightRemoved, map[string]string{"address": path.Base(topic)})
		return nil
	}

	var msg lightify.StateMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		s.logger.Warn("failed to parse state message for WebSocket broadcast", "topic", topic, "error", err)
		return nil
	}
	s.hub.Broadcast(ChannelLightState, msg)
	return nil
}

// readPump handles client messages until the connection fails or the peer
// stops answering pings. Any inbound frame extends the read deadline.
func (c *WSClient) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	if c.hub.readLimit > 0 {
		c.conn.SetReadLimit(c.hub.readLimit)
	}
	extend := func() error {
		return c.conn.SetReadDeadline(time.Now().Add(c.hub.pingInterval + c.hub.pongWait))
	}
	extend() //nolint:errcheck // a dead conn fails the first read
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		extend() //nolint:errcheck // a dead conn fails the next read
		c.handleMessage(data)
	}
}

// writePump drains the send queue and pings on the hub's interval. It
// sends a close frame once the queue is closed.
func (c *WSClient) writePump() {
	ticker := time.NewTicker(c.hub.pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		c.conn.SetWriteDeadline(time.Now().Add(c.hub.pongWait)) //nolint:errcheck // surfaced by WriteMessage
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				write(websocket.CloseMessage, nil) //nolint:errcheck // peer may already be gone
				return
			}
			if err := write(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) handleMessage(data []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe, WSTypeUnsubscribe:
		var sub WSSubscribePayload
		if len(msg.Payload) == 0 || json.Unmarshal(msg.Payload, &sub) != nil {
			c.sendError(msg.ID, "invalid "+msg.Type+" payload")
			return
		}
		if msg.Type == WSTypeSubscribe {
			c.subscribe(msg.ID, sub.Channels)
		} else {
			c.unsubscribe(msg.ID, sub.Channels)
		}
	case WSTypePing:
		c.sendResponse(msg.ID, WSTypePong, nil)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// subscribe acknowledges the request, then queues the initial state of each
// channel the client was not already subscribed to.
func (c *WSClient) subscribe(id string, channels []string) {
	c.mu.Lock()
	added := lo.Filter(lo.Uniq(channels), func(ch string, _ int) bool {
		_, had := c.subscriptions[ch]
		return !had
	})
	for _, ch := range added {
		c.subscriptions[ch] = struct{}{}
	}
	c.mu.Unlock()

	c.hub.logger.Info("websocket client subscribed", "channels", channels)
	c.sendResponse(id, WSTypeResponse, map[string]any{"subscribed": channels})

	if c.hub.initialState == nil {
		return
	}
	for _, ch := range added {
		for _, payload := range c.hub.initialState(ch) {
			if data, err := json.Marshal(newEvent(ch, payload)); err == nil {
				c.trySend(data)
			}
		}
	}
}

func (c *WSClient) unsubscribe(id string, channels []string) {
	c.mu.Lock()
	for _, ch := range channels {
		delete(c.subscriptions, ch)
	}
	c.mu.Unlock()

	c.sendResponse(id, WSTypeResponse, map[string]any{"unsubscribed": channels})
}

func (c *WSClient) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subscriptions[channel]
	return ok
}

// trySend queues data unless the client has gone or its queue is full.
func (c *WSClient) trySend(data []byte) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// closeSend closes the send queue exactly once.
func (c *WSClient) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *WSClient) sendResponse(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.trySend(data)
}

func (c *WSClient) sendError(id, message string) {
	c.sendResponse(id, WSTypeError, map[string]string{"message": message})
}
