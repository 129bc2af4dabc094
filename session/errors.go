package session

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrNotFound means there is no session with a requested identity.
	ErrNotFound = errors.New("no such session")
	// ErrInvalidState means a transition is not legal from the current state.
	ErrInvalidState = errors.New("invalid state for transition")
	// ErrNotAuthorized means the actor is neither the host nor holds the
	// management capability.
	ErrNotAuthorized = errors.New("not authorized")
	// ErrAlreadyActive means a live session of the same kind already exists
	// for the server.
	ErrAlreadyActive = errors.New("session already active")
	// ErrInvalidKind means a session was requested with an unknown kind.
	ErrInvalidKind = errors.New("unknown session kind")
)

// Error is an error from a manager operation.
type Error struct {
	// Op is the name of the operation, e.g. "activate".
	Op string
	// ID is the session the operation targeted, if any.
	ID uuid.UUID
	// State is the state of the session when the operation was rejected.
	State State
	// Existing is the live session that blocked a start, if any.
	Existing *Session
	// Err is one of the sentinel errors in this package.
	Err error
}

func (e *Error) Error() string {
	switch {
	case e.Existing != nil:
		return fmt.Sprintf("session: %s: %v: %s %v is %v", e.Op, e.Err, e.Existing.Kind, e.Existing.ID, e.Existing.State)
	case e.State != 0:
		return fmt.Sprintf("session: %s %v: %v (state %v)", e.Op, e.ID, e.Err, e.State)
	default:
		return fmt.Sprintf("session: %s %v: %v", e.Op, e.ID, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}
