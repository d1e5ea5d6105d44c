// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, and the bundled chat page.
package server

import (
	_ "embed"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/chattrace/internal/config"
)

//go:embed static/index.html
var indexPage []byte

// Server holds the HTTP-facing state of the relay: the hub that owns the
// connections and the upgrader configured with the origin policy.
type Server struct {
	hub      *Hub
	upgrader websocket.Upgrader
	origins  *originPolicy
}

// New builds the HTTP handlers for cfg on top of hub.
func New(cfg config.Config, hub *Hub) *Server {
	s := &Server{
		hub:     hub,
		origins: newOriginPolicy(cfg.AllowedOrigins),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.checkOrigin,
	}
	return s
}

// WebSocketHandler handles WebSocket upgrade requests and manages client connections.
// It validates that the request uses the GET method, upgrades the HTTP connection
// to WebSocket, creates a new Client instance, and hands it to the hub which
// starts the client's read/write pumps.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	// Upgrade replies with 403 itself when CheckOrigin rejects the request.
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	client := NewClient(conn, s.hub, r.RemoteAddr)
	if !s.hub.Register(client) {
		slog.Warn("Hub is shut down; dropping connection", "remote_addr", r.RemoteAddr)
		client.closeConnection()
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
func (s *Server) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = fmt.Fprintf(w, "chattrace relay is running (%d connections)", s.hub.ClientCount())
}

// IndexHandler serves the chat page. Only the root path is served; anything
// else under "/" is a 404.
func (s *Server) IndexHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write(indexPage); err != nil {
		slog.Warn("Error writing HTML response", "error", err)
	}
}
