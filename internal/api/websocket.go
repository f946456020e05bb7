package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/mqtt-connector/internal/infrastructure/config"
	"github.com/nerrad567/mqtt-connector/internal/infrastructure/logging"
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

// Broadcast channels.
const (
	// ChannelEvents carries every connector event at info level and above.
	ChannelEvents = "connector.event"
	// ChannelStateChanged carries connection state transitions only.
	ChannelStateChanged = "connector.state_changed"
)

const (
	wsSendBufferSize    = 256
	defaultPingInterval = 30 * time.Second
	defaultPongTimeout  = 10 * time.Second
)

// channelSet is a bitmask over the broadcast channels.
type channelSet uint8

const (
	chanEvents channelSet = 1 << iota
	chanStateChanged
)

var channelBits = map[string]channelSet{
	ChannelEvents:       chanEvents,
	ChannelStateChanged: chanStateChanged,
}

// parseChannels maps channel names to a set. Names are validated as a
// whole so that a request with one bad name changes nothing.
func parseChannels(names []string) (channelSet, error) {
	var set channelSet
	for _, name := range names {
		bit, ok := channelBits[name]
		if !ok {
			return 0, fmt.Errorf("unknown channel %q (want %s or %s)", name, ChannelEvents, ChannelStateChanged)
		}
		set |= bit
	}
	return set, nil
}

// WSMessage represents a message sent to/from a WebSocket client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload for subscribe/unsubscribe messages.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// Hub fans connector events out to WebSocket clients.
//
// Broadcast never blocks: a client whose buffer is full misses the message
// and the miss is counted.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[*WSClient]struct{}

	dropped atomic.Uint64
}

// WSClient is one connected WebSocket client.
type WSClient struct {
	hub   *Hub
	conn  *websocket.Conn
	state func() string

	// mu guards channels, closed and sends on send.
	mu       sync.Mutex
	send     chan []byte
	channels channelSet
	closed   bool
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by the CORS middleware.
	CheckOrigin: func(*http.Request) bool { return true },
}

// NewHub creates a new WebSocket hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*WSClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.close()
		c.conn.Close()
	}
}

func (h *Hub) register(c *WSClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

func (h *Hub) unregister(c *WSClient) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	c.close()
	h.logger.Debug("websocket client disconnected", "clients", n)
}

// Broadcast sends payload to every client subscribed to channel. Unknown
// channels are ignored.
func (h *Hub) Broadcast(channel string, payload any) {
	bit, ok := channelBits[channel]
	if !ok {
		h.logger.Warn("broadcast on unknown channel", "channel", channel)
		return
	}

	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.deliver(bit, data)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns the number of broadcasts lost to full client buffers.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// intervals returns the ping interval and pong wait, defaulting zero values.
func (h *Hub) intervals() (ping, pong time.Duration) {
	ping = time.Duration(h.cfg.PingInterval) * time.Second
	if ping <= 0 {
		ping = defaultPingInterval
	}
	pong = time.Duration(h.cfg.PongTimeout) * time.Second
	if pong <= 0 {
		pong = defaultPongTimeout
	}
	return ping, pong
}

// handleWebSocket upgrades the connection. Channels may be chosen up front
// with ?channels=a,b; otherwise the client receives nothing until it
// subscribes.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	var initial channelSet
	if q := r.URL.Query().Get("channels"); q != "" {
		set, err := parseChannels(strings.Split(q, ","))
		if err != nil {
			writeBadRequest(w, err.Error())
			return
		}
		initial = set
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &WSClient{
		hub:      s.hub,
		conn:     conn,
		state:    func() string { return s.connector.State().String() },
		send:     make(chan []byte, wsSendBufferSize),
		channels: initial,
	}
	s.hub.register(c)

	go c.writePump()
	go c.readPump()
}

func (c *WSClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	pingInterval, pongWait := c.hub.intervals()
	extend := func() error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	}
	c.conn.SetReadLimit(int64(c.hub.cfg.MaxMessageSize))
	extend() //nolint:errcheck // a failed deadline surfaces on the next read
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		extend() //nolint:errcheck // as above
		c.handleMessage(data)
	}
}

func (c *WSClient) writePump() {
	pingInterval, pongWait := c.hub.intervals()
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(pongWait)) //nolint:errcheck // write fails instead
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil) //nolint:errcheck // closing anyway
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(pongWait)) //nolint:errcheck // write fails instead
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
		c.reply("", WSTypeError, map[string]string{"message": "invalid JSON message"})
		return
	}

	switch msg.Type {
	case WSTypeSubscribe, WSTypeUnsubscribe:
		set, err := parseChannels(msg.Payload.Channels)
		if err != nil {
			c.reply(msg.ID, WSTypeError, map[string]string{"message": err.Error()})
			return
		}
		c.mu.Lock()
		if msg.Type == WSTypeSubscribe {
			c.channels |= set
		} else {
			c.channels &^= set
		}
		c.mu.Unlock()
		// The current state lets a new subscriber interpret the transitions
		// that follow.
		c.reply(msg.ID, WSTypeResponse, map[string]any{
			msg.Type + "d": msg.Payload.Channels,
			"state":        c.state(),
		})
	case WSTypePing:
		c.reply(msg.ID, WSTypePong, nil)
	default:
		c.reply(msg.ID, WSTypeError, map[string]string{"message": "unknown message type: " + msg.Type})
	}
}

// deliver queues data if the client subscribes to any channel in want.
func (c *WSClient) deliver(want channelSet, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.channels&want == 0 {
		return
	}
	select {
	case c.send <- data:
	default:
		c.hub.dropped.Add(1)
	}
}

func (c *WSClient) reply(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// close stops further sends and lets writePump exit.
func (c *WSClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}
