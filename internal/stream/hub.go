// Package stream pushes worker events to websocket clients of the ops API.
package stream

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/gridsense/pdmon/internal/events"
	"github.com/gridsense/pdmon/internal/utils"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 256
)

// MessageType identifies the payload of a stream message
type MessageType string

const (
	// MessageTypeAlarm carries an events.AlarmEvent
	MessageTypeAlarm MessageType = "alarm"
	// MessageTypePointState carries an events.PointStateEvent
	MessageTypePointState MessageType = "point_state"
)

// Message is the JSON document written to clients. Topic is the point code.
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Topic     string      `json:"topic"`
	Payload   interface{} `json:"payload"`
}

// clientMessage is what clients may send to narrow their subscription
type clientMessage struct {
	Action string `json:"action"`
	Topic  string `json:"topic"`
}

type client struct {
	conn    *websocket.Conn
	subject string
	send    chan []byte

	mu     sync.Mutex
	topics map[string]bool
}

// wants reports whether the client receives messages for a topic. A client
// without subscriptions receives everything.
func (c *client) wants(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.topics) == 0 || c.topics[topic]
}

func (c *client) subscribe(topic string, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if on {
		c.topics[topic] = true
	} else {
		delete(c.topics, topic)
	}
}

// Hub tracks connected clients and fans events out to them. It implements
// events.Publisher; publishing never blocks on a slow client.
type Hub struct {
	logger *utils.Logger
	now    func() time.Time

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

var _ events.Publisher = (*Hub)(nil)

// NewHub creates an empty hub
func NewHub(logger *utils.Logger) *Hub {
	return &Hub{
		logger:  logger.Named("stream"),
		now:     time.Now,
		clients: make(map[*client]struct{}),
	}
}

// Serve registers an upgraded connection and blocks until the client goes
// away or the hub is closed
func (h *Hub) Serve(conn *websocket.Conn, subject string) {
	c := &client{
		conn:    conn,
		subject: subject,
		send:    make(chan []byte, sendBuffer),
		topics:  make(map[string]bool),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	h.logger.Debug("Stream client connected", zap.String("subject", subject))

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writePump(c)
	}()
	h.readPump(c)
	<-done

	h.logger.Debug("Stream client disconnected", zap.String("subject", subject))
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// PublishAlarm implements events.Publisher
func (h *Hub) PublishAlarm(event *events.AlarmEvent) error {
	return h.broadcast(MessageTypeAlarm, event.PointCode, event)
}

// PublishPointState implements events.Publisher
func (h *Hub) PublishPointState(event *events.PointStateEvent) error {
	return h.broadcast(MessageTypePointState, event.PointCode, event)
}

// Close disconnects every client and rejects new ones
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) broadcast(messageType MessageType, topic string, payload interface{}) error {
	data, err := json.Marshal(&Message{
		Type:      messageType,
		Timestamp: h.now().UTC(),
		Topic:     topic,
		Payload:   payload,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal stream message: %w", err)
	}

	var slow []*client

	h.mu.RLock()
	for c := range h.clients {
		if !c.wants(topic) {
			continue
		}
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("Stream client buffer full, disconnecting", zap.String("subject", c.subject))
		h.remove(c)
	}
	return nil
}

// remove closes the send channel of a registered client exactly once
func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("Unexpected stream close", zap.Error(err), zap.String("subject", c.subject))
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Topic == "" {
			h.logger.Debug("Ignoring invalid stream client message", zap.ByteString("message", data))
			continue
		}

		switch msg.Action {
		case "subscribe":
			c.subscribe(msg.Topic, true)
		case "unsubscribe":
			c.subscribe(msg.Topic, false)
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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
