// Package server manages individual WebSocket clients, handling read/write
// pumps, rate limiting, inbound event decoding and lifecycle control for
// each connection.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/Tyrowin/chattrace/internal/chat"
)

const (
	pongWait     = 60 * time.Second
	pingPeriod   = 54 * time.Second
	writeTimeout = 10 * time.Second
)

// Client represents one WebSocket connection, identified by the session id
// the hub assigned when it was accepted.
type Client struct {
	id             string
	conn           *websocket.Conn
	send           chan []byte
	hub            *Hub
	addr           string
	closed         bool
	maxMessageSize int64
	rateLimiter    *rate.Limiter
}

// NewClient creates a new Client instance with a fresh session id, the
// provided WebSocket connection, hub reference, and client address. The
// client's send channel is buffered to handle message queuing.
func NewClient(conn *websocket.Conn, hub *Hub, addr string) *Client {
	opts := hub.Options()
	if conn != nil {
		conn.SetReadLimit(opts.MaxMessageSize)
	}

	return &Client{
		id:             uuid.NewString(),
		conn:           conn,
		send:           make(chan []byte, opts.SendBuffer),
		hub:            hub,
		addr:           addr,
		maxMessageSize: opts.MaxMessageSize,
		rateLimiter:    newRateLimiter(opts.RateBurst, opts.RateInterval),
	}
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		slog.Warn("Error setting initial read deadline", "session_id", c.id, "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			slog.Warn("Error setting read deadline in pong handler", "session_id", c.id, "error", err)
		}
		return nil
	})
}

// handleReadError logs appropriate error messages based on the error type
// and returns true if the read loop should break
func (c *Client) handleReadError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, websocket.ErrReadLimit) {
		slog.Warn("Message exceeded maximum size", "session_id", c.id, "max_bytes", c.maxMessageSize)
		return true
	}

	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure) {
		slog.Debug("Client closed connection", "session_id", c.id, "reason", err)
		return true
	}

	if errors.Is(err, io.EOF) || isExpectedCloseError(err) {
		slog.Debug("Client connection closed", "session_id", c.id, "reason", err)
		return true
	}

	if websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig) {
		slog.Warn("Unexpected WebSocket close", "session_id", c.id, "error", err)
		return true
	}

	slog.Warn("WebSocket read error", "session_id", c.id, "remote_addr", c.addr, "error", err)
	return true
}

// checkRateLimit reports whether the next inbound event may be processed.
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.Allow() {
		slog.Warn("Rate limit exceeded; discarding event", "session_id", c.id, "burst", c.rateLimiter.Burst())
		return false
	}
	return true
}

// processMessage decodes one inbound frame and dispatches it to the
// lifecycle. Malformed frames and unknown events are logged and dropped.
func (c *Client) processMessage(rawMessage []byte) bool {
	var env chat.Envelope
	if err := json.Unmarshal(rawMessage, &env); err != nil {
		slog.Warn("Invalid frame", "session_id", c.id, "error", err)
		return false
	}

	switch env.Event {
	case chat.EventJoin:
		var req chat.JoinRequest
		if err := decodeData(env.Data, &req); err != nil {
			slog.Warn("Invalid join payload", "session_id", c.id, "error", err)
			return false
		}
		c.hub.lifecycle.OnJoin(c.id, req.Username)

	case chat.EventMessage:
		var req chat.MessageRequest
		if err := decodeData(env.Data, &req); err != nil {
			slog.Warn("Invalid message payload", "session_id", c.id, "error", err)
			return false
		}
		c.hub.lifecycle.OnMessage(c.id, req.Username, req.Message)

	default:
		slog.Warn("Unknown event", "session_id", c.id, "event", env.Event)
		return false
	}
	return true
}

// decodeData treats a missing payload as an empty one.
func decodeData(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	return json.Unmarshal(data, v)
}

func (c *Client) readPump() {
	connected := true
	if err := c.hub.lifecycle.OnConnect(c.id); err != nil {
		slog.Error("Connection rejected by lifecycle", "session_id", c.id, "remote_addr", c.addr, "error", err)
		connected = false
	}

	defer func() {
		if connected {
			c.hub.lifecycle.OnDisconnect(c.id)
		}
		c.hub.release(c)
		c.closeConnection()
	}()

	if !connected {
		return
	}

	c.setupReadConnection()

	for {
		_, rawMessage, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}

		if !c.checkRateLimit() {
			continue
		}

		c.processMessage(rawMessage)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Client) closeConnection() {
	if c.conn == nil {
		return
	}
	if err := c.conn.Close(); err != nil {
		if !isExpectedCloseError(err) {
			slog.Warn("Error closing connection", "session_id", c.id, "error", err)
		}
	}
}

// handleMessage processes outgoing messages and returns false if the connection should be closed
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		slog.Warn("Error setting write deadline", "session_id", c.id, "error", err)
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	return c.writeTextMessage(message)
}

// writeCloseMessage sends a close message to the client
func (c *Client) writeCloseMessage() bool {
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
		if !isExpectedCloseError(err) {
			slog.Warn("Error writing close message", "session_id", c.id, "error", err)
		}
	}
	return false
}

// writeTextMessage writes a text message and any queued messages
func (c *Client) writeTextMessage(message []byte) bool {
	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		slog.Warn("Error creating writer", "session_id", c.id, "error", err)
		return false
	}

	if !c.writeMessageContent(w, message) {
		return false
	}

	if !c.writeQueuedMessages(w) {
		return false
	}

	return c.closeWriter(w)
}

// writeMessageContent writes the main message content
func (c *Client) writeMessageContent(w io.WriteCloser, message []byte) bool {
	if _, err := w.Write(message); err != nil {
		slog.Warn("Error writing message", "session_id", c.id, "error", err)
		return false
	}
	return true
}

// writeQueuedMessages coalesces frames already waiting in the queue into the
// same WebSocket message, newline separated.
func (c *Client) writeQueuedMessages(w io.WriteCloser) bool {
	n := len(c.send)
	for i := 0; i < n; i++ {
		if !c.writeQueuedMessage(w) {
			return false
		}
	}
	return true
}

// writeQueuedMessage writes a single queued message with newline separator
func (c *Client) writeQueuedMessage(w io.WriteCloser) bool {
	message, ok := <-c.send
	if !ok {
		return true
	}
	if _, err := w.Write([]byte{'\n'}); err != nil {
		slog.Warn("Error writing newline", "session_id", c.id, "error", err)
		return false
	}
	if _, err := w.Write(message); err != nil {
		slog.Warn("Error writing queued message", "session_id", c.id, "error", err)
		return false
	}
	return true
}

// closeWriter closes the message writer
func (c *Client) closeWriter(w io.WriteCloser) bool {
	if err := w.Close(); err != nil {
		slog.Warn("Error closing writer", "session_id", c.id, "error", err)
		return false
	}
	return true
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		slog.Warn("Error setting write deadline for ping", "session_id", c.id, "error", err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		slog.Debug("Error writing ping message", "session_id", c.id, "error", err)
		return false
	}
	return true
}
