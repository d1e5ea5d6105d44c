// Package server coordinates client registration, outbound delivery, and
// connection cleanup for the relay via the Hub type.
package server

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Hub owns every live WebSocket connection and its outbound queue. It
// implements chat.Deliverer: frames are queued on the recipient's buffered
// send channel, so each recipient receives frames in the order they were
// delivered.
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	lifecycle  Lifecycle
	opts       ClientOptions
}

// NewHub creates and initializes a new Hub instance with all necessary channels
// and client map. A Lifecycle must be attached with SetLifecycle before Run.
func NewHub(opts ClientOptions) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		opts:       sanitizeClientOptions(opts),
	}
}

// SetLifecycle attaches the handler that receives inbound connection events.
func (h *Hub) SetLifecycle(l Lifecycle) {
	h.lifecycle = l
}

// Options returns the per-connection limits applied to new clients.
func (h *Hub) Options() ClientOptions {
	return h.opts
}

// Register hands a new client to the hub loop. It reports false when the hub
// has already shut down.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// ClientCount returns the number of connections the hub is tracking.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Deliver queues frame on the session's send channel without blocking. A
// recipient whose buffer is full is evicted: its channel is closed, which
// makes its write pump send a close frame and tear the connection down.
func (h *Hub) Deliver(sessionID string, frame []byte) error {
	sent, known := h.safeSend(sessionID, frame)
	if !known {
		return ErrUnknownRecipient
	}
	if !sent {
		h.evict(sessionID, "send buffer full")
		return ErrSendBufferFull
	}
	return nil
}

func (h *Hub) safeSend(sessionID string, frame []byte) (sent, known bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Recovered from panic in safeSend", "session_id", sessionID, "panic", r)
			sent = false
		}
	}()

	// Hold the read lock for the whole send so the channel cannot be closed
	// underneath us.
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	client, exists := h.clients[sessionID]
	if !exists || client.closed {
		return false, false
	}

	select {
	case client.send <- frame:
		return true, true
	default:
		return false, true
	}
}

// Run starts the hub's main event loop, handling client registration and
// unregistration. This method should be called in a separate goroutine
// as it runs until Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			h.handleRegister(client)

		case client := <-h.unregister:
			h.remove(client)
		}
	}
}

func (h *Hub) handleRegister(client *Client) {
	if client == nil {
		slog.Warn("Received nil client registration; skipping")
		return
	}

	h.mutex.Lock()
	if _, exists := h.clients[client.id]; exists {
		h.mutex.Unlock()
		slog.Error("Duplicate client id rejected", "session_id", client.id, "remote_addr", client.addr)
		client.closeConnection()
		return
	}
	client.closed = false
	h.clients[client.id] = client
	clientCount := len(h.clients)
	h.mutex.Unlock()
	slog.Info("Client registered", "session_id", client.id, "remote_addr", client.addr, "total_clients", clientCount)

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

// release is called by a client's read pump on exit.
func (h *Hub) release(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
		h.remove(client)
	}
}

// remove drops client from the hub and closes its send channel once.
func (h *Hub) remove(client *Client) {
	if client == nil {
		return
	}

	h.mutex.Lock()
	current, ok := h.clients[client.id]
	if !ok || current != client {
		h.mutex.Unlock()
		return
	}
	delete(h.clients, client.id)
	client.closed = true
	clientCount := len(h.clients)
	h.mutex.Unlock()

	// Close the channel after releasing the lock
	close(client.send)
	slog.Info("Client unregistered", "session_id", client.id, "remote_addr", client.addr, "total_clients", clientCount)
}

func (h *Hub) evict(sessionID, reason string) {
	h.mutex.RLock()
	client, ok := h.clients[sessionID]
	h.mutex.RUnlock()
	if !ok {
		return
	}
	slog.Warn("Evicting slow client", "session_id", sessionID, "remote_addr", client.addr, "reason", reason)
	h.remove(client)
}

// shutdownClients gracefully closes all active client connections
func (h *Hub) shutdownClients() {
	slog.Info("Shutting down all client connections...")

	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.Unlock()

	for _, client := range clients {
		client.closeConnection()
	}

	slog.Info("Closed client connections", "count", len(clients))
}

// Shutdown initiates graceful shutdown of the hub and waits for all goroutines to complete.
// It returns after all client connections are closed and goroutines have finished,
// or when the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	slog.Info("Initiating hub shutdown...")

	h.cancel()

	deadline := time.After(timeout)

	select {
	case <-h.done:
	case <-deadline:
		slog.Warn("Hub shutdown timeout reached before the event loop stopped")
		return context.DeadlineExceeded
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Hub shutdown completed successfully")
		return nil
	case <-deadline:
		slog.Warn("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
