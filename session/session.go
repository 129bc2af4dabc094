// Package session tracks shift and training sessions and drives each through
// its lifecycle.
//
// A session moves along Scheduled → Waiting → Active → (Locked ⇄ Active)* →
// Ended. The Manager only records state and decides whether a transition is
// legal. It never talks to a chat platform; callers render the returned
// session with [Manager.Plan] and apply that to their announcement.
package session

import (
	"time"

	"github.com/google/uuid"
)

// Kind is the kind of event a session represents.
type Kind int

const (
	Shift Kind = iota + 1
	Training
)

// ParseKind parses a kind name. It returns zero for unknown names.
func ParseKind(s string) Kind {
	switch s {
	case "shift", "Shift", "s":
		return Shift
	case "training", "Training", "train":
		return Training
	default:
		return 0
	}
}

func (k Kind) String() string {
	switch k {
	case Shift:
		return "shift"
	case Training:
		return "training"
	default:
		return "unknown"
	}
}

// State is a session lifecycle state.
type State int

const (
	Scheduled State = iota + 1
	Waiting
	Active
	Locked
	Ended
)

func (s State) String() string {
	switch s {
	case Scheduled:
		return "scheduled"
	case Waiting:
		return "waiting"
	case Active:
		return "active"
	case Locked:
		return "locked"
	case Ended:
		return "ended"
	default:
		return "unknown"
	}
}

// Live reports whether the state is one in which the session occupies its
// server's slot for its kind.
func (s State) Live() bool {
	return s >= Scheduled && s < Ended
}

// Automatic is the EndedBy value of a session ended by timeout.
const Automatic = "\x00automatic"

// Session is a snapshot of one tracked session.
// Sessions returned by a Manager are copies; modifying one has no effect on
// the manager.
type Session struct {
	// ID is the session identity.
	ID uuid.UUID
	// Guild is the ID of the server that owns the session.
	Guild string
	// Kind is the kind of the session.
	Kind Kind
	// Host is the ID of the user who created the session.
	Host string
	// State is the lifecycle state.
	State State
	// Slot is the time slot label chosen when the session was booked.
	// It is empty for sessions started immediately.
	Slot string
	// Created is the time the session was created.
	Created time.Time
	// Started is the time of the transition into Active.
	Started time.Time
	// LockedAt is the time of the most recent transition into Locked.
	// It is zero whenever the session is not locked.
	LockedAt time.Time
	// EndedAt is the time of the transition into Ended.
	EndedAt time.Time
	// EndedBy is the ID of the user who ended the session, or Automatic.
	EndedBy string
	// Announcement is an opaque reference to the announcement driven by the
	// session. It is owned by the presentation layer, and it is the one
	// field that may still be set after the session ends.
	Announcement string
}

// Auto reports whether the session was ended by timeout.
func (s *Session) Auto() bool {
	return s.State == Ended && s.EndedBy == Automatic
}

// Duration returns how long the session was active, or zero if it never
// started.
func (s *Session) Duration() time.Duration {
	if s.Started.IsZero() {
		return 0
	}
	if s.EndedAt.IsZero() {
		return 0
	}
	return s.EndedAt.Sub(s.Started)
}
