// Package viz streams journaled events to browser front-ends.
//
// One WebSocket per client on /ws (port 6696 by default); every
// applied event on the node is broadcast to every connected client as
// one JSON message. The stream is best-effort: a client that cannot
// keep up is disconnected rather than allowed to stall the
// simulation.
package viz

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/daviddao/gridlock/pkg/event"
	"github.com/daviddao/gridlock/pkg/ident"
)

// StreamMessage is one event as sent to clients.
type StreamMessage struct {
	Entity ident.ID        `json:"entity"`
	Seq    int64           `json:"seq"`
	Type   string          `json:"type"`
	Event  json.RawMessage `json:"event"`
	SentAt int64           `json:"sent_at"`
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub fans events out to the connected clients.
type Hub struct {
	log *slog.Logger

	mu      sync.Mutex
	clients map[string]*client
}

// NewHub returns an empty hub.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{log: log, clients: make(map[string]*client)}
}

// Subscribe registers a connection and starts its writer. Returns the
// session ID.
func (h *Hub) Subscribe(conn *websocket.Conn) string {
	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, 256),
	}
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	go h.writer(c)
	return c.id
}

// Disconnect drops a client and closes its socket.
func (h *Hub) Disconnect(id string) {
	h.mu.Lock()
	c, ok := h.clients[id]
	delete(h.clients, id)
	h.mu.Unlock()
	if ok {
		close(c.send)
		c.conn.Close()
	}
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Observe is wired as the runtime's event sink: it encodes the applied
// event once and queues it for every client. Slow clients are dropped.
func (h *Hub) Observe(id ident.ID, seq int64, ev event.Event) {
	payload, err := event.Marshal(ev)
	if err != nil {
		h.log.Warn("viz encode failed", "entity", string(id), "error", err)
		return
	}
	var env struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		return
	}
	msg, err := json.Marshal(StreamMessage{
		Entity: id,
		Seq:    seq,
		Type:   env.Type,
		Event:  env.Data,
		SentAt: time.Now().UnixMilli(),
	})
	if err != nil {
		return
	}

	h.mu.Lock()
	var stalled []string
	for _, c := range h.clients {
		select {
		case c.send <- msg:
		default:
			stalled = append(stalled, c.id)
		}
	}
	h.mu.Unlock()

	for _, cid := range stalled {
		h.log.Warn("dropping stalled viz client", "client", cid)
		h.Disconnect(cid)
	}
}

func (h *Hub) writer(c *client) {
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.Disconnect(c.id)
			return
		}
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	h.mu.Unlock()
	for _, id := range ids {
		h.Disconnect(id)
	}
}
