package chat

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/Tyrowin/chattrace/internal/chat/mocks"
	"github.com/Tyrowin/chattrace/internal/eventlog"
)

var fixedNow = time.Date(2026, 10, 19, 14, 3, 7, 0, time.Local)

func fixedClock() time.Time { return fixedNow }

func newTestManager(t *testing.T) (*Manager, *recordingDeliverer, func() []string) {
	t.Helper()
	out := newRecordingDeliverer()
	sink, lines := memorySink(t)
	return NewManager(NewRegistry(), out, sink, WithClock(fixedClock)), out, lines
}

func TestOnConnectRegistersWithoutBroadcast(t *testing.T) {
	m, out, lines := newTestManager(t)

	require.NoError(t, m.OnConnect("s1"))

	s, err := m.Registry().Lookup("s1")
	require.NoError(t, err)
	assert.False(t, s.Joined())
	assert.Zero(t, out.total())
	assert.Equal(t, []string{"[2026-10-19 14:03:07] CONNECT: Session s1 connected"}, lines())
}

func TestOnConnectRejectsEmptyAndDuplicateIDs(t *testing.T) {
	m, _, lines := newTestManager(t)

	assert.ErrorIs(t, m.OnConnect(""), ErrEmptySessionID)

	require.NoError(t, m.OnConnect("s1"))
	m.OnJoin("s1", "alice")

	err := m.OnConnect("s1")
	assert.ErrorIs(t, err, ErrDuplicateSession)

	s, lookupErr := m.Registry().Lookup("s1")
	require.NoError(t, lookupErr)
	assert.Equal(t, "alice", s.DisplayName)
	assert.Equal(t, 1, countType(lines(), eventlog.EventConnect))
}

func TestOnJoinBroadcastsToWholeRoomIncludingJoiner(t *testing.T) {
	m, out, lines := newTestManager(t)
	require.NoError(t, m.OnConnect("a"))
	require.NoError(t, m.OnConnect("b"))
	m.OnJoin("a", "alice")
	m.OnJoin("b", "bob")

	// a saw both joins, b only its own.
	require.Len(t, out.received("a"), 2)
	require.Len(t, out.received("b"), 1)

	var joined UserJoined
	assert.Equal(t, EventUserJoined, decodeFrame(t, out.received("b")[0], &joined))
	assert.Equal(t, "bob", joined.Username)

	assert.Contains(t, lines(), "[2026-10-19 14:03:07] JOIN: User bob joined from session b")
}

func TestOnJoinDefaultsToAnonymous(t *testing.T) {
	m, out, _ := newTestManager(t)
	require.NoError(t, m.OnConnect("a"))
	m.OnJoin("a", "")

	s, err := m.Registry().Lookup("a")
	require.NoError(t, err)
	assert.Equal(t, AnonymousName, s.DisplayName)
	assert.Equal(t, DefaultRoom, s.Room)

	var joined UserJoined
	decodeFrame(t, out.received("a")[0], &joined)
	assert.Equal(t, AnonymousName, joined.Username)
}

func TestOnJoinUnknownSessionFailsOpen(t *testing.T) {
	m, out, lines := newTestManager(t)
	require.NoError(t, m.OnConnect("member"))
	m.OnJoin("member", "mia")

	m.OnJoin("ghost", "casper")

	assert.Equal(t, []string{"member"}, m.Registry().Members(DefaultRoom))
	require.Len(t, out.received("member"), 2)
	assert.Empty(t, out.received("ghost"))
	assert.Equal(t, 2, countType(lines(), eventlog.EventJoin))
}

// connect -> join(U) -> message(M) reaches every room member.
func TestMessageReachesEveryMember(t *testing.T) {
	m, out, _ := newTestManager(t)
	ids := []string{"a", "b", "c"}
	for _, id := range ids {
		require.NoError(t, m.OnConnect(id))
		m.OnJoin(id, "user-"+id)
	}

	m.OnMessage("a", "user-a", "hello room")

	for _, id := range ids {
		frames := out.received(id)
		var msg NewMessage
		assert.Equal(t, EventNewMessage, decodeFrame(t, frames[len(frames)-1], &msg))
		assert.Equal(t, "user-a", msg.Username)
		assert.Equal(t, "hello room", msg.Message)
		assert.Equal(t, "14:03:07", msg.Timestamp)
	}
}

func TestMessageTimestampUsesWallClock(t *testing.T) {
	out := newRecordingDeliverer()
	m := NewManager(NewRegistry(), out, nil)
	require.NoError(t, m.OnConnect("a"))
	m.OnJoin("a", "alice")
	m.OnMessage("a", "alice", "tick")

	frames := out.received("a")
	var msg NewMessage
	decodeFrame(t, frames[len(frames)-1], &msg)
	_, err := time.Parse(TimestampLayout, msg.Timestamp)
	assert.NoError(t, err)
}

func TestRejoinChangesRegisteredName(t *testing.T) {
	m, out, _ := newTestManager(t)
	require.NoError(t, m.OnConnect("a"))
	m.OnJoin("a", "alice")
	m.OnJoin("a", "alicia")

	frames := out.received("a")
	require.Len(t, frames, 2)
	var first, second UserJoined
	decodeFrame(t, frames[0], &first)
	decodeFrame(t, frames[1], &second)
	assert.Equal(t, "alice", first.Username)
	assert.Equal(t, "alicia", second.Username)

	// Registry-attributed message uses the second name.
	m.OnMessage("a", "", "who am i")
	frames = out.received("a")
	var msg NewMessage
	decodeFrame(t, frames[len(frames)-1], &msg)
	assert.Equal(t, "alicia", msg.Username)
}

func TestMessageTrustsClientUsername(t *testing.T) {
	m, out, lines := newTestManager(t)
	require.NoError(t, m.OnConnect("a"))
	m.OnJoin("a", "alice")

	m.OnMessage("a", "not-alice", "spoofed")

	frames := out.received("a")
	var msg NewMessage
	decodeFrame(t, frames[len(frames)-1], &msg)
	assert.Equal(t, "not-alice", msg.Username)
	assert.Contains(t, lines(), "[2026-10-19 14:03:07] MESSAGE: not-alice: spoofed")
}

func TestMessageWithoutJoin(t *testing.T) {
	m, out, lines := newTestManager(t)
	require.NoError(t, m.OnConnect("member"))
	m.OnJoin("member", "mia")
	require.NoError(t, m.OnConnect("lurker"))

	m.OnMessage("lurker", "", "anyone?")
	m.OnMessage("never-connected", "bob", "hi")

	frames := out.received("member")
	require.Len(t, frames, 3)
	var anon, bob NewMessage
	decodeFrame(t, frames[1], &anon)
	decodeFrame(t, frames[2], &bob)
	assert.Equal(t, AnonymousName, anon.Username)
	assert.Equal(t, "bob", bob.Username)
	assert.Empty(t, out.received("lurker"))
	assert.Equal(t, 2, countType(lines(), eventlog.EventMessage))
}

func TestDisconnectWithoutJoin(t *testing.T) {
	ctrl := gomock.NewController(t)
	out := mocks.NewMockDeliverer(ctrl)
	out.EXPECT().Deliver(gomock.Any(), gomock.Any()).Times(0)
	sink, lines := memorySink(t)
	m := NewManager(NewRegistry(), out, sink, WithClock(fixedClock))

	require.NoError(t, m.OnConnect("s1"))
	m.OnDisconnect("s1")

	assert.Zero(t, m.Registry().Count())
	assert.Equal(t, []string{
		"[2026-10-19 14:03:07] CONNECT: Session s1 connected",
		"[2026-10-19 14:03:07] DISCONNECT: Session s1 disconnected",
	}, lines())
}

func TestDisconnectUnknownSessionIsNoop(t *testing.T) {
	m, out, lines := newTestManager(t)
	m.OnDisconnect("ghost")
	m.OnDisconnect("ghost")

	assert.Zero(t, out.total())
	assert.Equal(t, 2, countType(lines(), eventlog.EventDisconnect))
}

// N joined, one leaves: the next message reaches N-1.
func TestMessageAfterDisconnectReachesRemaining(t *testing.T) {
	m, out, _ := newTestManager(t)
	const n = 5
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("s%d", i)
		require.NoError(t, m.OnConnect(id))
		m.OnJoin(id, id)
	}

	m.OnDisconnect("s2")
	assert.NotContains(t, m.Registry().Members(DefaultRoom), "s2")

	before := out.total()
	m.OnMessage("s0", "s0", "still here?")
	assert.Equal(t, n-1, out.total()-before)
	assert.Len(t, out.received("s2"), n-2, "s2 only saw joins that happened while it was present")
}

// 100 concurrent joins: no lost updates.
func TestConcurrentJoins(t *testing.T) {
	m, _, lines := newTestManager(t)
	const n = 100

	for i := 0; i < n; i++ {
		require.NoError(t, m.OnConnect(fmt.Sprintf("s%03d", i)))
	}

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			m.OnJoin(fmt.Sprintf("s%03d", i), fmt.Sprintf("user%d", i))
		}(i)
	}
	wg.Wait()

	assert.Len(t, m.Registry().Members(DefaultRoom), n)
	assert.Equal(t, n, countType(lines(), eventlog.EventJoin))
}

// Each message yields one MESSAGE record and one broadcast, body intact.
func TestMessageRoundTrip(t *testing.T) {
	bodies := []string{"", "plain", "  padded  ", "emoji 🎉", "quotes \" and \\ backslash", "<b>html</b>"}

	for _, body := range bodies {
		t.Run(fmt.Sprintf("%q", body), func(t *testing.T) {
			m, out, lines := newTestManager(t)
			require.NoError(t, m.OnConnect("a"))
			m.OnJoin("a", "alice")
			before := out.total()

			m.OnMessage("a", "alice", body)

			assert.Equal(t, 1, out.total()-before)
			frames := out.received("a")
			var msg NewMessage
			assert.Equal(t, EventNewMessage, decodeFrame(t, frames[len(frames)-1], &msg))
			assert.Equal(t, body, msg.Message)

			assert.Equal(t, 1, countType(lines(), eventlog.EventMessage))
			assert.Contains(t, lines(), "[2026-10-19 14:03:07] MESSAGE: alice: "+body)
		})
	}
}

func TestSinkFailureDoesNotAbortChatFlow(t *testing.T) {
	ctrl := gomock.NewController(t)
	sink := mocks.NewMockSink(ctrl)
	sink.EXPECT().Append(gomock.Any()).Return(errors.New("disk full")).AnyTimes()

	out := newRecordingDeliverer()
	m := NewManager(NewRegistry(), out, sink, WithClock(fixedClock))

	require.NoError(t, m.OnConnect("a"))
	m.OnJoin("a", "alice")
	m.OnMessage("a", "alice", "still delivered")
	assert.Len(t, out.received("a"), 2)

	m.OnDisconnect("a")
	assert.Zero(t, m.Registry().Count())
}

func TestManagerRecordsEventsInOrder(t *testing.T) {
	ctrl := gomock.NewController(t)
	sink := mocks.NewMockSink(ctrl)
	gomock.InOrder(
		sink.EXPECT().Append(eventlog.Connect(fixedNow, "a")).Return(nil),
		sink.EXPECT().Append(eventlog.Join(fixedNow, "alice", "a")).Return(nil),
		sink.EXPECT().Append(eventlog.Message(fixedNow, "alice", "hi")).Return(nil),
		sink.EXPECT().Append(eventlog.Disconnect(fixedNow, "a")).Return(nil),
	)

	m := NewManager(NewRegistry(), newRecordingDeliverer(), sink, WithClock(fixedClock))
	require.NoError(t, m.OnConnect("a"))
	m.OnJoin("a", "alice")
	m.OnMessage("a", "alice", "hi")
	m.OnDisconnect("a")
}

func TestWithRoom(t *testing.T) {
	out := newRecordingDeliverer()
	m := NewManager(NewRegistry(), out, nil, WithRoom("lobby"))
	require.NoError(t, m.OnConnect("a"))
	m.OnJoin("a", "alice")

	assert.Equal(t, []string{"a"}, m.Registry().Members("lobby"))
	assert.Empty(t, m.Registry().Members(DefaultRoom))
	assert.Len(t, out.received("a"), 1)
}
