// Package server defines the transport-facing contracts and utility helpers
// that are reused across client and hub logic.
package server

import (
	"errors"
	"strings"
)

// Delivery errors returned by Hub.Deliver.
var (
	ErrUnknownRecipient = errors.New("recipient not connected")
	ErrSendBufferFull   = errors.New("recipient send buffer full")
)

// Lifecycle receives the inbound events of every connection. Calls for a
// single connection are made sequentially from that connection's read pump.
type Lifecycle interface {
	OnConnect(sessionID string) error
	OnJoin(sessionID, username string)
	OnMessage(sessionID, username, body string)
	OnDisconnect(sessionID string)
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
