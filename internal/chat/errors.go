package chat

import (
	"errors"
	"fmt"
)

// Sentinel errors matched with errors.Is.
var (
	ErrUnknownSession   = errors.New("unknown session")
	ErrDuplicateSession = errors.New("duplicate session")
	ErrEmptySessionID   = errors.New("empty session id")
)

// UnknownSessionError reports an operation on a session id that is not in the
// registry.
type UnknownSessionError struct {
	ID string
}

func (e *UnknownSessionError) Error() string {
	return fmt.Sprintf("session %q: %v", e.ID, ErrUnknownSession)
}

// Is makes errors.Is(err, ErrUnknownSession) true.
func (e *UnknownSessionError) Is(target error) bool {
	return target == ErrUnknownSession
}

// DuplicateSessionError reports an attempt to register a session id that is
// already live.
type DuplicateSessionError struct {
	ID string
}

func (e *DuplicateSessionError) Error() string {
	return fmt.Sprintf("session %q: %v", e.ID, ErrDuplicateSession)
}

// Is makes errors.Is(err, ErrDuplicateSession) true.
func (e *DuplicateSessionError) Is(target error) bool {
	return target == ErrDuplicateSession
}
