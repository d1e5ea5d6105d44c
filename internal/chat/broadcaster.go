package chat

import (
	"log/slog"
)

//go:generate mockgen -destination=mocks/mock_deliverer.go -package=mocks github.com/Tyrowin/chattrace/internal/chat Deliverer

// Deliverer hands an encoded frame to one session's outbound queue. The
// transport implements it; Deliver must be safe for concurrent use and must
// preserve call order for a single session.
type Deliverer interface {
	Deliver(sessionID string, frame []byte) error
}

// Broadcaster fans a payload out to every member of a room.
type Broadcaster struct {
	registry *Registry
	out      Deliverer
}

// NewBroadcaster creates a Broadcaster that resolves membership from registry
// and delivers through out.
func NewBroadcaster(registry *Registry, out Deliverer) *Broadcaster {
	return &Broadcaster{registry: registry, out: out}
}

// Broadcast encodes the event once and delivers it to every session in room,
// resolving membership at call time. A failure for one recipient is logged
// and does not stop delivery to the rest. It returns the number of
// successful deliveries.
func (b *Broadcaster) Broadcast(room, event string, payload any) int {
	frame, err := EncodeEvent(event, payload)
	if err != nil {
		slog.Error("Failed to encode broadcast", "event", event, "room", room, "error", err)
		return 0
	}

	members := b.registry.Members(room)
	delivered := 0
	for _, id := range members {
		if err := b.out.Deliver(id, frame); err != nil {
			slog.Warn("Broadcast delivery failed", "event", event, "room", room, "session_id", id, "error", err)
			continue
		}
		delivered++
	}

	slog.Debug("Broadcast complete", "event", event, "room", room, "recipients", len(members), "delivered", delivered)
	return delivered
}
