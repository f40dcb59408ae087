package viz

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

// Handler upgrades /ws requests and parks them on the hub.
type Handler struct {
	hub      *Hub
	log      *slog.Logger
	upgrader websocket.Upgrader
}

// NewHandler builds the /ws endpoint handler.
func NewHandler(hub *Hub, log *slog.Logger) *Handler {
	return &Handler{
		hub: hub,
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
	}
}

// Handle upgrades the connection and holds it open until the client
// goes away. Client frames are read and discarded: the stream is
// one-way.
func (h *Handler) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	id := h.hub.Subscribe(conn)
	h.log.Info("viz client connected", "client", id, "remote", r.RemoteAddr)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.hub.Disconnect(id)
	h.log.Info("viz client disconnected", "client", id)
}
