package chat

import "encoding/json"

// DefaultRoom is the single shared room every joining session is placed in.
const DefaultRoom = "main_chat"

// AnonymousName is the display name used when a client supplies none.
const AnonymousName = "Anonymous"

// TimestampLayout is the hour:minute:second layout of message timestamps.
const TimestampLayout = "15:04:05"

// Inbound event names sent by clients.
const (
	EventJoin    = "join"
	EventMessage = "message"
)

// Outbound event names emitted to clients.
const (
	EventUserJoined = "user_joined"
	EventNewMessage = "new_message"
)

// Envelope is the JSON frame exchanged over the transport in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// JoinRequest is the payload of an inbound join event.
type JoinRequest struct {
	Username string `json:"username"`
}

// MessageRequest is the payload of an inbound message event.
type MessageRequest struct {
	Username string `json:"username"`
	Message  string `json:"message"`
}

// UserJoined is the payload of an outbound user_joined event.
type UserJoined struct {
	Username string `json:"username"`
}

// NewMessage is the payload of an outbound new_message event.
type NewMessage struct {
	Username  string `json:"username"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// EncodeEvent marshals payload and wraps it in an Envelope.
func EncodeEvent(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}
