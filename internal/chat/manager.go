package chat

import (
	"log/slog"
	"time"

	"github.com/Tyrowin/chattrace/internal/eventlog"
)

//go:generate mockgen -destination=mocks/mock_sink.go -package=mocks github.com/Tyrowin/chattrace/internal/eventlog Sink

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces the time source used for log records and message
// timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithRoom changes the room joining sessions are placed in.
func WithRoom(room string) Option {
	return func(m *Manager) {
		m.room = room
	}
}

// Manager drives each session through connect, join, message and disconnect.
// It is called by the transport once per inbound event and runs each event
// synchronously to completion. Methods are safe for concurrent use across
// sessions.
type Manager struct {
	registry    *Registry
	broadcaster *Broadcaster
	sink        eventlog.Sink
	room        string
	now         func() time.Time
}

// NewManager wires a Manager over the registry, outbound deliverer and log sink.
func NewManager(registry *Registry, out Deliverer, sink eventlog.Sink, opts ...Option) *Manager {
	if sink == nil {
		sink = eventlog.Discard{}
	}
	m := &Manager{
		registry:    registry,
		broadcaster: NewBroadcaster(registry, out),
		sink:        sink,
		room:        DefaultRoom,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Registry returns the session registry the manager mutates.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// OnConnect registers a new session. Joining is a separate step, so nothing
// is broadcast. An empty id or an id that is already live is rejected and the
// existing session is left untouched.
func (m *Manager) OnConnect(sessionID string) error {
	if sessionID == "" {
		return ErrEmptySessionID
	}

	if _, err := m.registry.Register(sessionID); err != nil {
		slog.Error("Rejected session registration", "session_id", sessionID, "error", err)
		return err
	}

	m.record(eventlog.Connect(m.now(), sessionID))
	slog.Info("Client connected", "session_id", sessionID)
	return nil
}

// OnJoin assigns the session its display name and room, then announces the
// join to the whole room, the joining session included.
func (m *Manager) OnJoin(sessionID, requestedUsername string) {
	username := requestedUsername
	if username == "" {
		username = AnonymousName
	}

	if err := m.registry.SetIdentity(sessionID, username, m.room); err != nil {
		slog.Warn("Join from unregistered session", "session_id", sessionID, "username", username, "error", err)
	}

	m.record(eventlog.Join(m.now(), username, sessionID))
	m.broadcaster.Broadcast(m.room, EventUserJoined, UserJoined{Username: username})
}

// OnMessage relays a chat message to the whole room, sender included. A
// prior join is not required. The client-supplied username is trusted; when
// it is empty the session's registered name is used, or AnonymousName for an
// unknown session.
func (m *Manager) OnMessage(sessionID, username, body string) {
	if username == "" {
		username = m.registeredName(sessionID)
	}

	now := m.now()
	m.record(eventlog.Message(now, username, body))
	m.broadcaster.Broadcast(m.room, EventNewMessage, NewMessage{
		Username:  username,
		Message:   body,
		Timestamp: now.Format(TimestampLayout),
	})
}

// OnDisconnect records the departure and removes the session. Other clients
// are not notified.
func (m *Manager) OnDisconnect(sessionID string) {
	m.record(eventlog.Disconnect(m.now(), sessionID))
	m.registry.Unregister(sessionID)
	slog.Info("Client disconnected", "session_id", sessionID, "remaining_sessions", m.registry.Count())
}

func (m *Manager) registeredName(sessionID string) string {
	s, err := m.registry.Lookup(sessionID)
	if err != nil || s.DisplayName == "" {
		return AnonymousName
	}
	return s.DisplayName
}

// record appends to the event log outside the registry lock. Failures are
// reported to operators only.
func (m *Manager) record(rec eventlog.Record) {
	if err := m.sink.Append(rec); err != nil {
		slog.Warn("Failed to append event log record", "event_type", rec.Type, "error", err)
	}
}
