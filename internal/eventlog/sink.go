package eventlog

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
)

// ErrClosed is returned by Append after the sink has been closed.
var ErrClosed = errors.New("eventlog: sink closed")

// Sink appends records to a durable log.
type Sink interface {
	Append(rec Record) error
	Close() error
}

// FileSink appends records to a single file. Appends are serialized by the
// sink's own mutex so callers never need to hold their own locks across disk
// writes.
type FileSink struct {
	mu     sync.Mutex
	file   afero.File
	path   string
	closed bool
}

// OpenFile opens (or creates) the log file at path on fs in append mode,
// creating the parent directory if needed.
func OpenFile(fs afero.Fs, path string) (*FileSink, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log directory %s: %w", dir, err)
		}
	}

	f, err := fs.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open event log %s: %w", path, err)
	}

	slog.Info("Event log opened", "path", path)
	return &FileSink{file: f, path: path}, nil
}

// Path returns the file path the sink writes to.
func (s *FileSink) Path() string {
	return s.path
}

// Append writes one record as a single line.
func (s *FileSink) Append(rec Record) error {
	line := rec.Format()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if _, err := s.file.WriteString(line); err != nil {
		return fmt.Errorf("append %s record: %w", rec.Type, err)
	}
	return nil
}

// Close flushes and closes the underlying file. Closing twice is a no-op.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.file.Sync(); err != nil {
		slog.Warn("Event log sync failed", "path", s.path, "error", err)
	}
	return s.file.Close()
}

// Discard is a Sink that drops every record.
type Discard struct{}

// Append implements Sink.
func (Discard) Append(Record) error { return nil }

// Close implements Sink.
func (Discard) Close() error { return nil }
