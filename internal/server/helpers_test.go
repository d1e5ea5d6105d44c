package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/chattrace/internal/chat"
	"github.com/Tyrowin/chattrace/internal/config"
	"github.com/Tyrowin/chattrace/internal/eventlog"
)

const readTimeout = 5 * time.Second

// testRelay is a full relay behind an httptest server, logging to an
// in-memory filesystem.
type testRelay struct {
	hub      *Hub
	registry *chat.Registry
	server   *httptest.Server
	fs       afero.Fs
}

func newTestRelay(t *testing.T, opts ClientOptions) *testRelay {
	t.Helper()

	fs := afero.NewMemMapFs()
	sink, err := eventlog.OpenFile(fs, "logs/chat.log")
	require.NoError(t, err)

	hub := NewHub(opts)
	registry := chat.NewRegistry()
	hub.SetLifecycle(chat.NewManager(registry, hub, sink))
	go hub.Run()

	srv := New(config.Default(), hub)
	ts := httptest.NewServer(srv.Routes())

	t.Cleanup(func() {
		ts.Close()
		_ = hub.Shutdown(5 * time.Second)
		_ = sink.Close()
	})

	return &testRelay{hub: hub, registry: registry, server: ts, fs: fs}
}

func (r *testRelay) wsURL() string {
	return "ws" + strings.TrimPrefix(r.server.URL, "http") + "/ws"
}

// logLines returns the event log contents one line per entry.
func (r *testRelay) logLines(t *testing.T) []string {
	t.Helper()
	data, err := afero.ReadFile(r.fs, "logs/chat.log")
	require.NoError(t, err)
	trimmed := strings.TrimSuffix(string(data), "\n")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "\n")
}

func (r *testRelay) countLog(t *testing.T, typ eventlog.EventType) int {
	t.Helper()
	n := 0
	for _, line := range r.logLines(t) {
		if strings.Contains(line, "] "+string(typ)+": ") {
			n++
		}
	}
	return n
}

// wsClient wraps a test connection and splits coalesced WebSocket messages
// back into individual frames.
type wsClient struct {
	t       *testing.T
	conn    *websocket.Conn
	pending [][]byte
}

func (r *testRelay) dial(t *testing.T) *wsClient {
	t.Helper()
	conn, resp, err := dialWithOrigin(r.wsURL(), r.server.URL)
	if resp != nil {
		_ = resp.Body.Close()
	}
	require.NoError(t, err)
	c := &wsClient{t: t, conn: conn}
	t.Cleanup(func() { _ = conn.Close() })
	return c
}

func dialWithOrigin(url, origin string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}
	return dialer.Dial(url, headers)
}

func (c *wsClient) send(event string, payload any) {
	c.t.Helper()
	frame, err := chat.EncodeEvent(event, payload)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, frame))
}

func (c *wsClient) join(username string) {
	c.t.Helper()
	c.send(chat.EventJoin, chat.JoinRequest{Username: username})
}

func (c *wsClient) say(username, body string) {
	c.t.Helper()
	c.send(chat.EventMessage, chat.MessageRequest{Username: username, Message: body})
}

// next returns the next outbound frame, decoding its payload into v.
func (c *wsClient) next(v any) string {
	c.t.Helper()
	for len(c.pending) == 0 {
		require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(readTimeout)))
		_, data, err := c.conn.ReadMessage()
		require.NoError(c.t, err)
		for _, frame := range strings.Split(string(data), "\n") {
			if frame != "" {
				c.pending = append(c.pending, []byte(frame))
			}
		}
	}

	frame := c.pending[0]
	c.pending = c.pending[1:]

	var env chat.Envelope
	require.NoError(c.t, json.Unmarshal(frame, &env))
	if v != nil {
		require.NoError(c.t, json.Unmarshal(env.Data, v))
	}
	return env.Event
}

func (c *wsClient) expectUserJoined(username string) {
	c.t.Helper()
	var p chat.UserJoined
	require.Equal(c.t, chat.EventUserJoined, c.next(&p))
	require.Equal(c.t, username, p.Username)
}

func (c *wsClient) expectMessage() chat.NewMessage {
	c.t.Helper()
	var p chat.NewMessage
	require.Equal(c.t, chat.EventNewMessage, c.next(&p))
	return p
}
