// Package status pushes document ingestion updates to WebSocket
// subscribers. Clients join rooms (one per document or per owner) and
// receive every state change published for that room.
package status

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/corpusd/corpusd/internal/metrics"
	"github.com/corpusd/corpusd/internal/models"
	"github.com/corpusd/corpusd/internal/queue"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
	sendBuffer     = 16
)

// Room name helpers.
func DocumentRoom(documentID string) string { return "document:" + documentID }
func UserRoom(ownerID string) string        { return "user:" + ownerID }

// Envelope is the outbound message format.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Inbound is the client-to-server message format.
type Inbound struct {
	Action string `json:"action"` // "subscribe" or "unsubscribe"
	Room   string `json:"room"`
}

// Hub fans status updates out to room subscribers. Delivery is
// best-effort: a client that cannot keep up is disconnected rather than
// allowed to stall the publisher.
type Hub struct {
	upgrader   websocket.Upgrader
	collectors *metrics.Metrics
	logger     *slog.Logger

	mu      sync.RWMutex
	rooms   map[string]map[*client]struct{}
	clients map[*client]struct{}
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan Envelope
	done chan struct{}

	mu    sync.Mutex
	rooms map[string]struct{}
}

// NewHub creates a Hub. collectors may be nil.
func NewHub(collectors *metrics.Metrics, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		collectors: collectors,
		logger:     logger,
		rooms:      map[string]map[*client]struct{}{},
		clients:    map[*client]struct{}{},
	}
}

// ServeHTTP lets the hub be mounted directly on a route.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.ServeWS(w, r)
}

// ServeWS upgrades an HTTP request to a WebSocket subscription.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		hub:   h,
		conn:  conn,
		send:  make(chan Envelope, sendBuffer),
		done:  make(chan struct{}),
		rooms: map[string]struct{}{},
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.collectors.ClientConnected()

	go c.writePump()
	go c.readPump()
}

// Publish sends an event to every subscriber of a room.
func (h *Hub) Publish(room, event string, data any) {
	h.mu.RLock()
	subscribers := make([]*client, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		subscribers = append(subscribers, c)
	}
	h.mu.RUnlock()

	envelope := Envelope{Event: event, Data: data}
	for _, c := range subscribers {
		select {
		case c.send <- envelope:
		default:
			h.logger.Warn("dropping slow websocket client", "room", room)
			h.drop(c)
		}
	}
}

// PublishDocumentStatus notifies subscribers of a single document.
func (h *Hub) PublishDocumentStatus(status models.JobStatus) {
	h.Publish(DocumentRoom(status.DocumentID), "document-status", status)
}

// PublishUserUpdate tells an owner's subscribers that their document
// list changed.
func (h *Hub) PublishUserUpdate(ownerID string, status models.JobStatus) {
	h.Publish(UserRoom(ownerID), "user-documents-update", status)
}

// Run consumes job events until ctx is cancelled or the channel closes.
// Every event reaches the document room; terminal events additionally
// reach the owner's room.
func (h *Hub) Run(ctx context.Context, events <-chan queue.JobEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			h.PublishDocumentStatus(event.Status)
			if event.Type == queue.EventCompleted || event.Type == queue.EventFailed {
				h.PublishUserUpdate(event.OwnerID, event.Status)
			}
		}
	}
}

// RoomSize returns the subscriber count of a room. Used by tests and
// metrics.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.drop(c)
	}
}

func (h *Hub) subscribe(c *client, room string) {
	h.mu.Lock()
	if h.rooms[room] == nil {
		h.rooms[room] = map[*client]struct{}{}
	}
	h.rooms[room][c] = struct{}{}
	h.mu.Unlock()

	c.mu.Lock()
	c.rooms[room] = struct{}{}
	c.mu.Unlock()
}

func (h *Hub) unsubscribe(c *client, room string) {
	h.mu.Lock()
	if subs := h.rooms[room]; subs != nil {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.rooms, room)
		}
	}
	h.mu.Unlock()

	c.mu.Lock()
	delete(c.rooms, room)
	c.mu.Unlock()
}

// drop removes a client from every room and closes its connection.
func (h *Hub) drop(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	h.mu.Unlock()
	h.collectors.ClientDisconnected()

	c.mu.Lock()
	rooms := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		rooms = append(rooms, room)
	}
	c.mu.Unlock()

	for _, room := range rooms {
		h.unsubscribe(c, room)
	}

	// The send channel stays open so concurrent publishers never hit a
	// closed channel; writePump exits via done instead.
	close(c.done)
	_ = c.conn.Close()
}

func (c *client) readPump() {
	defer func() {
		c.hub.drop(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg Inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			c.hub.logger.Debug("ignoring malformed subscription message", "error", err)
			continue
		}
		if msg.Room == "" {
			continue
		}

		switch msg.Action {
		case "subscribe":
			c.hub.subscribe(c, msg.Room)
		case "unsubscribe":
			c.hub.unsubscribe(c, msg.Room)
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
			return
		case envelope := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(envelope); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
