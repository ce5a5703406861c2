// Package ws pushes newly ingested points and sync events to subscribed
// clients over WebSocket connections.
package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/savegress/vitalsync/pkg/models"
)

// MessageType constants for WebSocket messages
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeNewPoint    = "new_point"
	TypeSyncEvent   = "sync_event"
	TypeError       = "error"
	TypePong        = "pong"
)

// SubscriptionType constants
const (
	SubPoints = "points"
	SubSync   = "sync"
)

// Message represents a WebSocket message
type Message struct {
	Type      string          `json:"type"`
	PatientID string          `json:"patient_id,omitempty"`
	Channel   string          `json:"channel,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Error     string          `json:"error,omitempty"`
}

// Client represents a connected WebSocket client
type Client struct {
	ID            string
	conn          *websocket.Conn
	hub           *Hub
	send          chan []byte
	subscriptions map[string]bool
	mu            sync.RWMutex
}

// Hub manages WebSocket connections and message broadcasting
type Hub struct {
	clients    map[*Client]bool
	channels   map[string]map[*Client]bool // channel -> clients
	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage
	mu         sync.RWMutex
	stopCh     chan struct{}
	logger     *zap.Logger
}

// BroadcastMessage represents a message to broadcast
type BroadcastMessage struct {
	Channel string
	Message *Message
}

// NewHub creates a new Hub instance
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		channels:   make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
		stopCh:     make(chan struct{}),
		logger:     logger,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case <-h.stopCh:
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
		case client := <-h.unregister:
			h.removeClient(client)
		case msg := <-h.broadcast:
			h.broadcastToChannel(msg)
		}
	}
}

// Stop stops the hub
func (h *Hub) Stop() {
	close(h.stopCh)
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		client.conn.Close()
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// removeClient removes a client from all channels
func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)

		for channel := range client.subscriptions {
			if clients, ok := h.channels[channel]; ok {
				delete(clients, client)
				if len(clients) == 0 {
					delete(h.channels, channel)
				}
			}
		}
	}
}

// broadcastToChannel sends a message to all clients subscribed to a channel.
// Clients with full send buffers are skipped; a slow dashboard must never
// block ingestion.
func (h *Hub) broadcastToChannel(msg *BroadcastMessage) {
	h.mu.RLock()
	clients, ok := h.channels[msg.Channel]
	h.mu.RUnlock()

	if !ok {
		return
	}

	data, err := json.Marshal(msg.Message)
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range clients {
		select {
		case client.send <- data:
		default:
		}
	}
}

// Subscribe subscribes a client to a channel
func (h *Hub) Subscribe(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.channels[channel]; !ok {
		h.channels[channel] = make(map[*Client]bool)
	}
	h.channels[channel][client] = true

	client.mu.Lock()
	client.subscriptions[channel] = true
	client.mu.Unlock()
}

// Unsubscribe unsubscribes a client from a channel
func (h *Hub) Unsubscribe(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.channels[channel]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.channels, channel)
		}
	}

	client.mu.Lock()
	delete(client.subscriptions, channel)
	client.mu.Unlock()
}

// Broadcast sends a message to a channel
func (h *Hub) Broadcast(channel string, msg *Message) {
	msg.Timestamp = time.Now().UTC()
	select {
	case h.broadcast <- &BroadcastMessage{Channel: channel, Message: msg}:
	default:
	}
}

// BroadcastPoint broadcasts a newly stored point to the patient's
// subscribers
func (h *Hub) BroadcastPoint(point *models.NormalizedPoint) {
	data, _ := json.Marshal(point)
	h.Broadcast(channelKey(SubPoints, point.PatientID), &Message{
		Type:      TypeNewPoint,
		PatientID: point.PatientID,
		Channel:   SubPoints,
		Data:      data,
	})
}

// BroadcastSyncRecord broadcasts a sync audit record to the patient's
// subscribers
func (h *Hub) BroadcastSyncRecord(rec *models.SyncRecord) {
	data, _ := json.Marshal(rec)
	h.Broadcast(channelKey(SubSync, rec.PatientID), &Message{
		Type:      TypeSyncEvent,
		PatientID: rec.PatientID,
		Channel:   SubSync,
		Data:      data,
	})
}

// GetStats returns hub statistics
func (h *Hub) GetStats() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()

	channelStats := make(map[string]int)
	for channel, clients := range h.channels {
		channelStats[channel] = len(clients)
	}

	return map[string]interface{}{
		"total_clients":   len(h.clients),
		"total_channels":  len(h.channels),
		"channel_clients": channelStats,
	}
}

// NewClient creates a new client
func NewClient(hub *Hub, conn *websocket.Conn, id string) *Client {
	return &Client{
		ID:            id,
		conn:          conn,
		hub:           hub,
		send:          make(chan []byte, 256),
		subscriptions: make(map[string]bool),
	}
}

// ReadPump reads messages from the WebSocket connection
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, message, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					c.hub.logger.Debug("websocket read error", zap.Error(err))
				}
				return
			}

			c.handleMessage(message)
		}
	}
}

// WritePump writes messages to the WebSocket connection
func (c *Client) WritePump(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes incoming WebSocket messages
func (c *Client) handleMessage(data []byte) {
	var msg struct {
		Type      string `json:"type"`
		Channel   string `json:"channel"`
		PatientID string `json:"patient_id"`
	}

	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("invalid message format")
		return
	}

	switch msg.Type {
	case TypeSubscribe:
		channel := channelKey(msg.Channel, msg.PatientID)
		c.hub.Subscribe(c, channel)
		c.sendAck("subscribed", channel)

	case TypeUnsubscribe:
		channel := channelKey(msg.Channel, msg.PatientID)
		c.hub.Unsubscribe(c, channel)
		c.sendAck("unsubscribed", channel)

	case "ping":
		c.sendPong()

	default:
		c.sendError("unknown message type")
	}
}

// sendError sends an error message to the client
func (c *Client) sendError(errMsg string) {
	msg := &Message{
		Type:      TypeError,
		Error:     errMsg,
		Timestamp: time.Now().UTC(),
	}
	data, _ := json.Marshal(msg)
	select {
	case c.send <- data:
	default:
	}
}

// sendAck sends an acknowledgment message
func (c *Client) sendAck(action, channel string) {
	msg := map[string]interface{}{
		"type":      "ack",
		"action":    action,
		"channel":   channel,
		"timestamp": time.Now().UTC(),
	}
	data, _ := json.Marshal(msg)
	select {
	case c.send <- data:
	default:
	}
}

// sendPong sends a pong response
func (c *Client) sendPong() {
	msg := &Message{
		Type:      TypePong,
		Timestamp: time.Now().UTC(),
	}
	data, _ := json.Marshal(msg)
	select {
	case c.send <- data:
	default:
	}
}

// channelKey generates a channel key
func channelKey(parts ...string) string {
	key := ""
	for _, part := range parts {
		if part == "" {
			continue
		}
		if key != "" {
			key += ":"
		}
		key += part
	}
	return key
}
