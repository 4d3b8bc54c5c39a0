package server

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/BioHazard786/Lockstep/internal/hub"
)

// Configure the websocket upgrader
var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,

	// Participants are not authenticated; any origin may connect.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeWs returns an http.HandlerFunc that upgrades rendezvous connections
// and hands them to the hub.
func ServeWs(h *hub.Hub, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("failed to upgrade connection", "remote", r.RemoteAddr, "error", err)
			return
		}

		client := hub.NewClient(h, conn)
		if !h.Register(client) {
			conn.Close()
			return
		}

		go client.WritePump()
		go client.ReadPump()
	}
}

// healthCheckHandler reports liveness.
func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Rendezvous server is healthy."))
}
