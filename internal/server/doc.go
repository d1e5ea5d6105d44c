// Package server implements the WebSocket transport and HTTP surface of the
// ChatTrace relay.
//
// The implementation is organized into specialized files for client options,
// hub management, clients, routing, origin checks and HTTP handlers. The hub
// owns the outbound queue of every connection and implements chat.Deliverer;
// each client's read pump feeds inbound events to the chat lifecycle.
package server
