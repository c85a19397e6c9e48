package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-iot/internal/command"
	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/logging"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

// ChannelAll subscribes a client to every event. A channel ending in ".*"
// subscribes to every event name under that prefix, e.g. "command.*".
const ChannelAll = "*"

const (
	wsSendBufferSize = 256
	wsMaxMessageSize = 8192
	wsPingInterval   = 30 * time.Second
	wsPongTimeout    = 10 * time.Second
)

// WSMessage is the envelope for every frame in both directions.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload selects events by name and, optionally, by device.
// With no devices every device's events are delivered; events that carry
// no device (such as automation.executed) ignore the device list.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
	Devices  []string `json:"devices,omitempty"`
}

// subscription is a client's current event selection.
type subscription struct {
	mu       sync.RWMutex
	channels map[string]struct{}
	devices  map[string]struct{}
}

func newSubscription() *subscription {
	return &subscription{
		channels: make(map[string]struct{}),
		devices:  make(map[string]struct{}),
	}
}

func (s *subscription) add(p WSSubscribePayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range p.Channels {
		s.channels[ch] = struct{}{}
	}
	for _, d := range p.Devices {
		s.devices[d] = struct{}{}
	}
}

func (s *subscription) remove(p WSSubscribePayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range p.Channels {
		delete(s.channels, ch)
	}
	for _, d := range p.Devices {
		delete(s.devices, d)
	}
}

func (s *subscription) matches(channel, deviceUUID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if deviceUUID != "" && len(s.devices) > 0 {
		if _, ok := s.devices[deviceUUID]; !ok {
			return false
		}
	}
	if _, ok := s.channels[ChannelAll]; ok {
		return true
	}
	if _, ok := s.channels[channel]; ok {
		return true
	}
	for ch := range s.channels {
		if prefix, ok := strings.CutSuffix(ch, "*"); ok && strings.HasSuffix(prefix, ".") &&
			strings.HasPrefix(channel, prefix) {
			return true
		}
	}
	return false
}

// Hub fans lifecycle events and automation summaries out to WebSocket clients.
type Hub struct {
	logger  *logging.Logger
	mu      sync.RWMutex
	clients map[*WSClient]struct{}
}

// WSClient is one connected WebSocket.
type WSClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	sub  *subscription

	// subject is the token subject, empty when auth is disabled.
	subject string
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Callers authenticate with a bearer token, not cookies.
	CheckOrigin: func(*http.Request) bool { return true },
}

// NewHub creates a hub. Run must be started for shutdown to disconnect clients.
func NewHub(logger *logging.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

func newClient(hub *Hub, conn *websocket.Conn, subject string) *WSClient {
	return &WSClient{
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, wsSendBufferSize),
		sub:     newSubscription(),
		subject: subject,
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close() //nolint:errcheck // shutting down
		}
		delete(h.clients, client)
	}
}

// Register adds a client.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n, "subject", client.subject)
}

// Unregister removes a client. Only the call that removes it closes its
// send channel, so repeated calls are safe.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	n := len(h.clients)
	h.mu.Unlock()

	if existed {
		close(client.send)
		h.logger.Debug("websocket client disconnected", "clients", n, "subject", client.subject)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends payload on channel to every subscribed client.
func (h *Hub) Broadcast(channel string, payload any) {
	h.publish(channel, "", payload)
}

// Emit sends a lifecycle event on the channel named after it, honouring
// each client's device filter.
func (h *Hub) Emit(_ context.Context, event command.Event) {
	h.publish(event.Name, event.DeviceUUID, event)
}

var _ command.EventSink = (*Hub)(nil)

func (h *Hub) publish(channel, deviceUUID string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("encoding websocket event failed", "channel", channel, "error", err)
		return
	}

	// Snapshot under the hub lock; client locks are taken after release.
	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if c.sub.matches(channel, deviceUUID) {
			c.trySend(data)
		}
	}
}

// handleWebSocket upgrades the connection. authMiddleware has already run.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	var subject string
	if claims := claimsFromContext(r.Context()); claims != nil {
		subject = claims.Subject
	}
	client := newClient(s.hub, conn, subject)
	s.hub.Register(client)

	go client.writePump()
	go client.readPump()
}

func (c *WSClient) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close() //nolint:errcheck // already failing
	}()

	extend := func() error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPingInterval + wsPongTimeout))
	}
	c.conn.SetReadLimit(wsMaxMessageSize)
	extend() //nolint:errcheck // surfaces on the next read
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		// Any frame counts as liveness, for clients that ignore pings.
		extend() //nolint:errcheck // surfaces on the next read
		c.handleMessage(data)
	}
}

func (c *WSClient) writePump() {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close() //nolint:errcheck // pump exiting
	}()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil) //nolint:errcheck // best effort
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(wsPongTimeout)) //nolint:errcheck // write reports it
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsPongTimeout)) //nolint:errcheck // write reports it
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) handleMessage(data []byte) {
	var msg struct {
		Type    string             `json:"type"`
		ID      string             `json:"id"`
		Payload WSSubscribePayload `json:"payload"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypePing:
		c.reply(msg.ID, WSTypePong, nil)
	case WSTypeSubscribe:
		c.sub.add(msg.Payload)
		c.reply(msg.ID, WSTypeResponse, map[string]any{
			"subscribed": msg.Payload.Channels,
			"devices":    msg.Payload.Devices,
		})
	case WSTypeUnsubscribe:
		c.sub.remove(msg.Payload)
		c.reply(msg.ID, WSTypeResponse, map[string]any{
			"unsubscribed": msg.Payload.Channels,
			"devices":      msg.Payload.Devices,
		})
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// trySend queues data without blocking. A full buffer drops the frame, and
// a send racing Unregister is absorbed.
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // send on closed channel
	}()
	select {
	case c.send <- data:
	default:
		c.hub.logger.Debug("websocket client buffer full, dropping frame", "subject", c.subject)
	}
}

func (c *WSClient) reply(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	})
	if err == nil {
		c.trySend(data)
	}
}

func (c *WSClient) sendError(id, message string) {
	c.reply(id, WSTypeError, map[string]string{"message": message})
}
