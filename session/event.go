package session

import "time"

// EventType identifies a transition.
type EventType int

const (
	EventStarted EventType = iota + 1
	EventConfirmed
	EventActivated
	EventLocked
	EventUnlocked
	EventEnded
	EventExpired
	EventCancelled
	EventPurged
)

func (t EventType) String() string {
	switch t {
	case EventStarted:
		return "started"
	case EventConfirmed:
		return "confirmed"
	case EventActivated:
		return "activated"
	case EventLocked:
		return "locked"
	case EventUnlocked:
		return "unlocked"
	case EventEnded:
		return "ended"
	case EventExpired:
		return "expired"
	case EventCancelled:
		return "cancelled"
	case EventPurged:
		return "purged"
	default:
		return "unknown"
	}
}

// Event describes a transition applied by a Manager.
type Event struct {
	Type EventType
	// Session is the session as it was immediately after the transition.
	Session Session
	// At is the time of the transition.
	At time.Time
}
