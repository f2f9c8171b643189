// Package stream is the WebSocket push fabric: per-channel subscriber
// sets with a monotonically ordered broadcast and drop-newest-on-full
// backpressure. It mirrors the read API's data as it is written rather
// than polling it.
package stream

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Channel names recognized by the hub.
const (
	ChannelWhales = "whales"
	ChannelTrades = "trades"
)

const (
	outboundQueueDepth = 32
	writeWait          = 10 * time.Second
	pongWait           = 60 * time.Second
	pingPeriod         = (pongWait * 9) / 10
)

// envelope wraps a broadcast payload with the ordering metadata every
// subscriber relies on to detect gaps or reordering.
type envelope struct {
	Type          string `json:"type"`
	Channel       string `json:"channel,omitempty"`
	BroadcastID   int64  `json:"_broadcast_id,omitempty"`
	BroadcastTime string `json:"_broadcast_time,omitempty"`
	Timestamp     string `json:"timestamp,omitempty"`
	Data          any    `json:"data,omitempty"`
}

// Client is one subscriber's WebSocket connection, owning a buffered
// outbound queue drained by its own writePump goroutine.
type Client struct {
	conn    *websocket.Conn
	channel string
	send    chan []byte
	hub     *Hub
	logger  *slog.Logger
}

// Hub fans broadcasts out to per-channel subscriber sets.
type Hub struct {
	mu          sync.Mutex
	subscribers map[string]map[*Client]bool
	broadcastID atomic.Int64
	logger      *slog.Logger
}

// NewHub builds an empty Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		subscribers: make(map[string]map[*Client]bool),
		logger:      logger.With("component", "stream"),
	}
}

// Register creates a Client for conn on channel, starts its write/read
// pumps, and sends the initial "connected" envelope. It returns once the
// client has disconnected.
func (h *Hub) Register(conn *websocket.Conn, channel string) {
	c := &Client{
		conn:    conn,
		channel: channel,
		send:    make(chan []byte, outboundQueueDepth),
		hub:     h,
		logger:  h.logger,
	}

	h.mu.Lock()
	if h.subscribers[channel] == nil {
		h.subscribers[channel] = make(map[*Client]bool)
	}
	h.subscribers[channel][c] = true
	h.mu.Unlock()

	connected, _ := json.Marshal(envelope{
		Type:      "connected",
		Channel:   channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	c.send <- connected

	go c.writePump()
	c.readPump() // blocks until the connection errors or closes

	conn.Close() // idempotent; forces writePump's blocked write/ping to fail
	h.unregister(c)
}

// unregister removes c from its channel's subscriber set. It never
// closes c.send: a Broadcast goroutine may already hold a reference to
// c and attempt a send concurrently, and sending on a closed channel
// panics. The channel and its buffered messages are simply abandoned
// for the garbage collector once the last reference drops.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subscribers[c.channel], c)
}

// Broadcast sends payload to every current subscriber of channel under
// a single monotonically increasing broadcast id. A subscriber whose
// outbound queue is full has the message dropped for it rather than
// blocking the broadcaster (drop-newest-on-full). The envelope type is
// "whale_alert" on the whales channel, "new_trade" on the trades channel,
// and "message" on any other channel.
func (h *Hub) Broadcast(channel string, payload any) {
	id := h.broadcastID.Add(1)
	now := time.Now().UTC()
	msgType := "message"
	switch channel {
	case ChannelWhales:
		msgType = "whale_alert"
	case ChannelTrades:
		msgType = "new_trade"
	}
	body, err := json.Marshal(envelope{
		Type:          msgType,
		Channel:       channel,
		BroadcastID:   id,
		BroadcastTime: now.Format(time.RFC3339Nano),
		Data:          payload,
	})
	if err != nil {
		h.logger.Error("marshal broadcast envelope", "channel", channel, "error", err)
		return
	}

	h.mu.Lock()
	recipients := make([]*Client, 0, len(h.subscribers[channel]))
	for c := range h.subscribers[channel] {
		recipients = append(recipients, c)
	}
	h.mu.Unlock()

	for _, c := range recipients {
		select {
		case c.send <- body:
		default:
			h.logger.Warn("dropping broadcast for slow subscriber", "channel", channel, "broadcast_id", id)
		}
	}
}

// Status is a snapshot of hub state for the /api/ws/status endpoint and
// the read API's health endpoint.
type Status struct {
	Subscribers map[string]int `json:"subscribers"`
	QueueDepth  int            `json:"queue_depth"`
}

func (h *Hub) status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := Status{Subscribers: make(map[string]int), QueueDepth: outboundQueueDepth}
	for channel, set := range h.subscribers {
		s.Subscribers[channel] = len(set)
	}
	return s
}

// Status returns a snapshot of per-channel subscriber counts.
func (h *Hub) Status() Status { return h.status() }

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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

// readPump drains inbound frames, dispatching the two control messages
// subscribers may send ("ping", "status") and discarding everything
// else. It returns (and triggers unregistration) on any read error.
func (c *Client) readPump() {
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		switch string(msg) {
		case "ping":
			select {
			case c.send <- []byte("pong"):
			default:
			}
		case "status":
			body, err := json.Marshal(c.hub.status())
			if err != nil {
				continue
			}
			select {
			case c.send <- body:
			default:
			}
		}
	}
}
