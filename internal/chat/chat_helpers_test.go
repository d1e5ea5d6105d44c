package chat

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/chattrace/internal/eventlog"
)

// recordingDeliverer keeps every frame delivered to each session in order.
type recordingDeliverer struct {
	mu     sync.Mutex
	frames map[string][][]byte
}

func newRecordingDeliverer() *recordingDeliverer {
	return &recordingDeliverer{frames: make(map[string][][]byte)}
}

func (d *recordingDeliverer) Deliver(sessionID string, frame []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.frames[sessionID] = append(d.frames[sessionID], frame)
	return nil
}

func (d *recordingDeliverer) received(sessionID string) [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]byte(nil), d.frames[sessionID]...)
}

func (d *recordingDeliverer) total() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, f := range d.frames {
		n += len(f)
	}
	return n
}

func decodeFrame(t *testing.T, frame []byte, payload any) string {
	t.Helper()
	var env Envelope
	require.NoError(t, json.Unmarshal(frame, &env))
	require.NoError(t, json.Unmarshal(env.Data, payload))
	return env.Event
}

// memorySink returns a file sink on an in-memory filesystem and a reader for
// its contents.
func memorySink(t *testing.T) (*eventlog.FileSink, func() []string) {
	t.Helper()
	fs := afero.NewMemMapFs()
	sink, err := eventlog.OpenFile(fs, "logs/chat.log")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })

	return sink, func() []string {
		data, err := afero.ReadFile(fs, "logs/chat.log")
		require.NoError(t, err)
		trimmed := strings.TrimSuffix(string(data), "\n")
		if trimmed == "" {
			return nil
		}
		return strings.Split(trimmed, "\n")
	}
}

func countType(lines []string, typ eventlog.EventType) int {
	n := 0
	for _, l := range lines {
		if strings.Contains(l, "] "+string(typ)+": ") {
			n++
		}
	}
	return n
}
