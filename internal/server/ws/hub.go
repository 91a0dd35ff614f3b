// Package ws streams negotiation and mandi price events to browser clients
// and answers live offer classification requests while a buyer types.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/annabazaar/pricingengine/internal/domain"
	"github.com/annabazaar/pricingengine/internal/service"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 256

	classifyTimeout = 5 * time.Second

	// replayLimit caps the events returned per channel by one replay request.
	replayLimit = 100
)

// Channels are the bus channels the hub relays.
var Channels = []string{
	domain.ChannelNegotiations,
	domain.ChannelMandiPrices,
}

// DraftClassifier classifies an unsent offer against a negotiation's band.
type DraftClassifier interface {
	ClassifyDraft(ctx context.Context, negotiationID string, role domain.Role, price float64) (service.ClassifyResult, error)
}

// client represents a single WebSocket connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	subs map[string]bool
	mu   sync.RWMutex
}

// inbound is any JSON message a client may send.
type inbound struct {
	Action   string   `json:"action"` // subscribe, unsubscribe, classify, replay
	Channels []string `json:"channels,omitempty"`
	After    string   `json:"after,omitempty"` // stream ID for replay; "0" is the start

	Ref           string      `json:"ref,omitempty"`
	NegotiationID string      `json:"negotiation_id,omitempty"`
	OfferPrice    float64     `json:"offer_price,omitempty"`
	Role          domain.Role `json:"role,omitempty"`
}

// envelope is every message the hub sends.
type envelope struct {
	Type    string          `json:"type"`
	Ref     string          `json:"ref,omitempty"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// broadcastMsg carries a message along with its source channel so the hub
// can route it only to clients subscribed to that channel.
type broadcastMsg struct {
	channel string
	data    []byte
}

// Hub manages a set of connected WebSocket clients and broadcasts messages
// from the signal bus to all subscribed clients.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	done       chan struct{}
	bus        domain.SignalBus
	classifier DraftClassifier
	upgrader   websocket.Upgrader
	mu         sync.RWMutex
	logger     *slog.Logger
	mode       string
	startedAt  time.Time
}

// Config captures runtime metadata sent to clients on connect.
type Config struct {
	Mode           string
	StartedAt      time.Time
	AllowedOrigins []string
}

// NewHub creates a hub bridging bus to WebSocket clients. classifier may be
// nil, in which case classify requests are answered with an error.
func NewHub(bus domain.SignalBus, classifier DraftClassifier, logger *slog.Logger, cfg Config) *Hub {
	mode := strings.TrimSpace(strings.ToLower(cfg.Mode))
	if mode == "" {
		mode = "unknown"
	}
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}

	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		bus:        bus,
		classifier: classifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
		logger:    logger.With(slog.String("component", "ws_hub")),
		mode:      mode,
		startedAt: startedAt,
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, o := range allowed {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

// Run starts the hub's main event loop. It handles client registration,
// unregistration and broadcasting, and exits when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)

	if h.bus != nil {
		for _, ch := range Channels {
			go h.subscribeToChannel(ctx, ch)
		}
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Info("ws: client connected", slog.Int("total_clients", h.clientCount()))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected", slog.Int("total_clients", h.clientCount()))

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if c.isSubscribed(msg.channel) {
					select {
					case c.send <- msg.data:
					default:
						h.logger.Warn("ws: dropping message for slow client")
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// subscribeToChannel forwards bus messages on channel to the broadcast loop,
// wrapped in an envelope typed by the channel name.
func (h *Hub) subscribeToChannel(ctx context.Context, channel string) {
	msgCh, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.Error("ws: failed to subscribe to channel",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}

	h.logger.Info("ws: subscribed to channel", slog.String("channel", channel))

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgCh:
			if !ok {
				h.logger.Warn("ws: channel subscription closed", slog.String("channel", channel))
				return
			}
			out, err := encode(envelope{Type: channel, Payload: rawJSON(data)})
			if err != nil {
				continue
			}
			select {
			case h.broadcast <- broadcastMsg{channel: channel, data: out}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// HandleWS upgrades an HTTP request to a WebSocket connection and registers
// the client with the hub. Clients start subscribed to every channel.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[string]bool, len(Channels)),
	}
	for _, ch := range Channels {
		c.subs[ch] = true
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	c.sendHello()

	go c.writePump()
	go c.readPump()
}

// clientCount returns the number of currently connected clients.
func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump reads client requests until the connection closes.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error", slog.String("error", err.Error()))
			}
			return
		}

		var msg inbound
		if err := json.Unmarshal(message, &msg); err != nil {
			c.reply(envelope{Type: "error", Error: "invalid JSON message"})
			continue
		}
		c.handle(msg)
	}
}

func (c *client) handle(msg inbound) {
	switch msg.Action {
	case "subscribe", "unsubscribe":
		c.mu.Lock()
		for _, ch := range msg.Channels {
			if msg.Action == "subscribe" {
				c.subs[ch] = true
			} else {
				delete(c.subs, ch)
			}
		}
		c.mu.Unlock()
	case "classify":
		c.classify(msg)
	case "replay":
		c.replay(msg)
	default:
		c.reply(envelope{Type: "error", Ref: msg.Ref, Error: "unknown action " + msg.Action})
	}
}

// classify answers a live classification request against the snapshot band
// of the named negotiation.
func (c *client) classify(msg inbound) {
	if c.hub.classifier == nil {
		c.reply(envelope{Type: "error", Ref: msg.Ref, Error: "classification unavailable"})
		return
	}
	role := msg.Role
	if role == "" {
		role = domain.RoleBuyer
	}

	ctx, cancel := context.WithTimeout(context.Background(), classifyTimeout)
	defer cancel()
	res, err := c.hub.classifier.ClassifyDraft(ctx, msg.NegotiationID, role, msg.OfferPrice)
	if err != nil {
		c.reply(envelope{Type: "error", Ref: msg.Ref, Error: err.Error()})
		return
	}
	payload, err := json.Marshal(res)
	if err != nil {
		return
	}
	c.reply(envelope{Type: "classification", Ref: msg.Ref, Payload: payload})
}

// replay sends stored events newer than msg.After for each requested
// channel, then a "replayed" marker carrying msg.Ref. Each event carries its
// stream ID so the client can resume from it.
func (c *client) replay(msg inbound) {
	if c.hub.bus == nil {
		c.reply(envelope{Type: "error", Ref: msg.Ref, Error: "replay unavailable"})
		return
	}
	channels := msg.Channels
	if len(channels) == 0 {
		channels = Channels
	}
	after := msg.After
	if after == "" {
		after = "0"
	}

	ctx, cancel := context.WithTimeout(context.Background(), classifyTimeout)
	defer cancel()
	for _, ch := range channels {
		if !slices.Contains(Channels, ch) {
			c.reply(envelope{Type: "error", Ref: msg.Ref, Error: "unknown channel " + ch})
			return
		}
		events, err := c.hub.bus.StreamRead(ctx, ch, after, replayLimit)
		if err != nil {
			c.hub.logger.Warn("ws: replay read failed",
				slog.String("channel", ch),
				slog.String("error", err.Error()),
			)
			c.reply(envelope{Type: "error", Ref: msg.Ref, Error: "replay failed"})
			return
		}
		for _, e := range events {
			c.reply(envelope{Type: ch, Ref: msg.Ref, ID: e.ID, Payload: rawJSON(e.Payload)})
		}
	}
	c.reply(envelope{Type: "replayed", Ref: msg.Ref})
}

// sendHello lets clients mark the connection healthy before any events flow.
func (c *client) sendHello() {
	uptime := max(int64(time.Since(c.hub.startedAt).Seconds()), 0)
	payload, err := json.Marshal(map[string]any{
		"mode":           c.hub.mode,
		"uptime_seconds": uptime,
		"channels":       Channels,
	})
	if err != nil {
		return
	}
	c.reply(envelope{Type: "hello", Payload: payload})
}

// reply queues msg without blocking; a full buffer drops it.
func (c *client) reply(msg envelope) {
	data, err := encode(msg)
	if err != nil {
		return
	}
	defer func() { _ = recover() }() // send on a channel the hub already closed
	select {
	case c.send <- data:
	default:
	}
}

func (c *client) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subs[channel]
}

// writePump pumps messages from the hub to the WebSocket connection as text
// frames and sends periodic pings.
func (c *client) writePump() {
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

func encode(e envelope) ([]byte, error) {
	return json.Marshal(e)
}

// rawJSON passes valid JSON through and quotes anything else.
func rawJSON(data []byte) json.RawMessage {
	if json.Valid(data) {
		return data
	}
	quoted, _ := json.Marshal(string(data))
	return quoted
}
