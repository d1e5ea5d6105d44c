package chat

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
)

// Session is one connected client as seen by the registry.
type Session struct {
	ID          string
	DisplayName string
	Room        string
	ConnectedAt time.Time
}

// Joined reports whether the session has been assigned a room.
func (s Session) Joined() bool {
	return s.Room != ""
}

// Registry tracks live sessions and the room membership index. A single
// RWMutex guards both maps; a session id is in at most one room set and every
// id in a room set has a live session entry.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	rooms    map[string]map[string]struct{}
	now      func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		rooms:    make(map[string]map[string]struct{}),
		now:      time.Now,
	}
}

// Register creates a session with no room or display name.
func (r *Registry) Register(id string) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.sessions[id]; ok {
		return *existing, &DuplicateSessionError{ID: id}
	}

	s := &Session{ID: id, ConnectedAt: r.now()}
	r.sessions[id] = s
	slog.Debug("Session registered", "session_id", id, "total_sessions", len(r.sessions))
	return *s, nil
}

// SetIdentity updates the display name and places the session in room. A
// session already in another room is moved; joining the same room again only
// updates the name.
func (r *Registry) SetIdentity(id, displayName, room string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return &UnknownSessionError{ID: id}
	}

	if s.Room != "" && s.Room != room {
		r.leaveLocked(s.Room, id)
	}

	s.DisplayName = displayName
	s.Room = room

	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		r.rooms[room] = members
	}
	members[id] = struct{}{}
	return nil
}

// Lookup returns a copy of the session.
func (r *Registry) Lookup(id string) (Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return Session{}, &UnknownSessionError{ID: id}
	}
	return *s, nil
}

// Unregister removes the session and its membership. Absent ids are ignored.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return
	}
	if s.Room != "" {
		r.leaveLocked(s.Room, id)
	}
	delete(r.sessions, id)
	slog.Debug("Session unregistered", "session_id", id, "total_sessions", len(r.sessions))
}

// Members returns the ids currently in room, sorted for stable iteration.
func (r *Registry) Members(room string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := lo.Keys(r.rooms[room])
	sort.Strings(ids)
	return ids
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Rooms returns the names of rooms with at least one member.
func (r *Registry) Rooms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := lo.Keys(r.rooms)
	sort.Strings(names)
	return names
}

// leaveLocked removes id from room, pruning the set when it empties.
// Caller must hold the write lock.
func (r *Registry) leaveLocked(room, id string) {
	members, ok := r.rooms[room]
	if !ok {
		return
	}
	delete(members, id)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
}
