// Package eventlog implements the append-only operational log of connection
// and message events. Records are written one per line and are never read
// back by the running server.
package eventlog

import (
	"fmt"
	"strings"
	"time"
)

// EventType identifies the kind of lifecycle event a Record describes.
type EventType string

// Event types written to the log.
const (
	EventConnect    EventType = "CONNECT"
	EventJoin       EventType = "JOIN"
	EventMessage    EventType = "MESSAGE"
	EventDisconnect EventType = "DISCONNECT"
)

// TimeLayout is the timestamp layout used at the start of every log line.
const TimeLayout = "2006-01-02 15:04:05"

// Record is a single log entry.
type Record struct {
	Time   time.Time
	Type   EventType
	Detail string
}

// lineBreaks keeps client-supplied text from splitting a record across lines.
var lineBreaks = strings.NewReplacer("\r", `\r`, "\n", `\n`)

// Format renders the record as a single log line including the trailing
// newline. Carriage returns and newlines in the detail are written as the
// two-character sequences \r and \n.
func (r Record) Format() string {
	return fmt.Sprintf("[%s] %s: %s\n", r.Time.Format(TimeLayout), r.Type, lineBreaks.Replace(r.Detail))
}

// Connect builds a CONNECT record for the given session.
func Connect(at time.Time, sessionID string) Record {
	return Record{Time: at, Type: EventConnect, Detail: fmt.Sprintf("Session %s connected", sessionID)}
}

// Join builds a JOIN record.
func Join(at time.Time, username, sessionID string) Record {
	return Record{Time: at, Type: EventJoin, Detail: fmt.Sprintf("User %s joined from session %s", username, sessionID)}
}

// Message builds a MESSAGE record in "username: body" form.
func Message(at time.Time, username, body string) Record {
	return Record{Time: at, Type: EventMessage, Detail: username + ": " + body}
}

// Disconnect builds a DISCONNECT record for the given session.
func Disconnect(at time.Time, sessionID string) Record {
	return Record{Time: at, Type: EventDisconnect, Detail: fmt.Sprintf("Session %s disconnected", sessionID)}
}
