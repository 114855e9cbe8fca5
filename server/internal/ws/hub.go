package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fieldgrid/fieldgrid/pkg/types"
	"github.com/fieldgrid/fieldgrid/server/internal/ingest"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong response before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// sendBufSize is the per-client outgoing message buffer depth.
	sendBufSize = 16

	// eventBufSize bounds commits queued between ingestion and Run.
	eventBufSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// CORS is applied at the reverse proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Message is the JSON envelope sent to clients.
type Message struct {
	Event     string      `json:"event"`
	ProjectID string      `json:"projectId"`
	Data      *BatchEvent `json:"data,omitempty"`
}

// BatchEvent describes one committed batch.
type BatchEvent struct {
	IdempotencyKey string             `json:"idempotencyKey"`
	Created        int                `json:"created"`
	Counts         types.StatusCounts `json:"counts"`
	Actor          string             `json:"actor,omitempty"`
	CommittedAt    time.Time          `json:"committedAt"`
}

// Recorder is told the connected client count whenever it changes.
type Recorder interface {
	ClientsChanged(n int)
}

// Hub fans committed batches out to the WebSocket clients subscribed to
// the batch's project. It implements ingest.Listener.
type Hub struct {
	events   chan Message
	recorder Recorder

	mu      sync.RWMutex
	clients map[string]map[*client]struct{} // key: project ID
	total   int
}

// client represents one connected WebSocket client.
type client struct {
	project string
	conn    *websocket.Conn
	send    chan []byte
}

// New creates a Hub. rec may be nil.
func New(rec Recorder) *Hub {
	return &Hub{
		events:   make(chan Message, eventBufSize),
		recorder: rec,
		clients:  make(map[string]map[*client]struct{}),
	}
}

// BatchCommitted queues a batch.committed event. It never blocks; events
// are dropped when the queue is full.
func (h *Hub) BatchCommitted(_ context.Context, c ingest.Commit) {
	o := c.Outcome
	msg := Message{
		Event:     "batch.committed",
		ProjectID: o.ProjectID,
		Data: &BatchEvent{
			IdempotencyKey: o.IdempotencyKey,
			Created:        len(o.Created),
			Counts:         o.Counts,
			Actor:          o.Actor,
			CommittedAt:    o.CommittedAt,
		},
	}
	select {
	case h.events <- msg:
	default:
		slog.Warn("ws: event queue full, dropping", "project", o.ProjectID, "key", o.IdempotencyKey)
	}
}

// Run delivers queued events until ctx is cancelled, then closes all
// active connections.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case msg := <-h.events:
			h.broadcast(msg)
		}
	}
}

// ServeHTTP upgrades the connection and subscribes it to the project named
// by the {id} path value. A "subscribed" message is sent immediately.
// Blocks until the connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	project := r.PathValue("id")
	if project == "" {
		http.Error(w, "missing project id", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := &client{
		project: project,
		conn:    conn,
		send:    make(chan []byte, sendBufSize),
	}
	if data, err := json.Marshal(Message{Event: "subscribed", ProjectID: project}); err == nil {
		c.send <- data
	}
	h.register(c)
	defer h.unregister(c)

	go c.writePump()
	c.readPump()
}

// Count returns the number of currently connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.total
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	set, ok := h.clients[c.project]
	if !ok {
		set = make(map[*client]struct{})
		h.clients[c.project] = set
	}
	set[c] = struct{}{}
	h.total++
	n := h.total
	h.mu.Unlock()
	h.clientsChanged(n)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	set := h.clients[c.project]
	_, ok := set[c]
	if ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.clients, c.project)
		}
		close(c.send)
		h.total--
	}
	n := h.total
	h.mu.Unlock()
	if ok {
		h.clientsChanged(n)
	}
}

func (h *Hub) clientsChanged(n int) {
	if h.recorder != nil {
		h.recorder.ClientsChanged(n)
	}
}

func (h *Hub) broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("ws: marshal event", "err", err)
		return
	}

	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients[msg.ProjectID]))
	for c := range h.clients[msg.ProjectID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- data:
		default:
			// Slow consumer.
			h.unregister(c)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	for project, set := range h.clients {
		for c := range set {
			close(c.send)
		}
		delete(h.clients, project)
	}
	h.total = 0
	h.mu.Unlock()
	h.clientsChanged(0)
}

// writePump drains the client's send channel and sends periodic pings.
// Runs in its own goroutine per client.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump processes control frames and detects disconnects. Blocks until
// the connection closes.
func (c *client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
