package session

import (
	"fmt"
	"time"
)

// Control is a set of lifecycle actions offered on an announcement.
type Control uint8

const (
	ControlStart Control = 1 << iota
	ControlLock
	ControlUnlock
	ControlEnd
	ControlConfirm
	ControlCancel
)

// Has reports whether c includes all of x.
func (c Control) Has(x Control) bool {
	return c&x == x
}

// Tone is the visual treatment of an announcement.
type Tone int

const (
	ToneNeutral Tone = iota
	ToneLive
	TonePaused
	ToneOver
)

// Plan is a platform-independent description of how a session's
// announcement should look.
type Plan struct {
	Title       string
	Description string
	// Status is a short line describing the state, e.g. when it started.
	Status string
	// Host is the host as formatted by the markup.
	Host string
	// Controls is the set of actions to offer.
	Controls Control
	Tone     Tone
	// DeleteAt is the time an ended session's announcement is removed.
	// It is zero for sessions that have not ended.
	DeleteAt time.Time
}

// Markup formats values for display on a chat platform.
type Markup interface {
	// User formats a reference to a user.
	User(id string) string
	// Relative formats a timestamp, typically relative to the reader's now.
	Relative(t time.Time) string
}

// Plain is a Markup that uses raw IDs and RFC 3339 times.
var Plain Markup = plain{}

type plain struct{}

func (plain) User(id string) string       { return id }
func (plain) Relative(t time.Time) string { return t.UTC().Format(time.RFC3339) }

// Plan renders a session using the manager's markup and retention.
func (m *Manager) Plan(s Session) Plan {
	return Render(s, m.markup, m.retention)
}

// Render describes the announcement for a session in its current state.
func Render(s Session, mk Markup, retention time.Duration) Plan {
	host := mk.User(s.Host)
	p := Plan{Host: host}
	noun, place := s.Kind.String(), venue(s.Kind)
	switch s.State {
	case Scheduled:
		p.Title = heading(s.Kind) + " Booked"
		p.Description = fmt.Sprintf("%s booked a %s for %s. It will be announced once the host confirms it.", host, noun, s.Slot)
		p.Status = "Awaiting confirmation"
		p.Controls = ControlConfirm | ControlCancel
	case Waiting:
		p.Title = heading(s.Kind)
		p.Description = fmt.Sprintf("A %s is about to be hosted at %s!%s", noun, place, pitch(s.Kind))
		p.Status = "Waiting for the host to start"
		p.Controls = ControlStart | ControlEnd
	case Active:
		p.Title = liveHeading(s.Kind)
		p.Description = fmt.Sprintf("A %s is currently being hosted at %s!%s", noun, place, pitch(s.Kind))
		p.Status = "Started " + mk.Relative(s.Started)
		p.Controls = ControlLock | ControlEnd
		p.Tone = ToneLive
	case Locked:
		p.Title = liveHeading(s.Kind) + " (Locked)"
		p.Description = fmt.Sprintf("The %s at %s is locked. No new attendees may join.", noun, place)
		p.Status = "Locked " + mk.Relative(s.LockedAt)
		p.Controls = ControlUnlock | ControlEnd
		p.Tone = TonePaused
	case Ended:
		p.Title = heading(s.Kind) + " Ended"
		p.DeleteAt = s.EndedAt.Add(retention)
		if s.Auto() {
			p.Description = fmt.Sprintf("The %s hosted by %s ended automatically.", noun, host)
		} else {
			p.Description = fmt.Sprintf("The %s hosted by %s has just ended. Thank you for attending! We appreciate your presence and look forward to seeing you at future %ss.", noun, host, noun)
		}
		p.Description += "\n\nDeleting this message " + mk.Relative(p.DeleteAt)
		p.Status = "Ended " + mk.Relative(s.EndedAt)
		p.Tone = ToneOver
	}
	return p
}

func heading(k Kind) string {
	switch k {
	case Shift:
		return "Shift"
	case Training:
		return "Training"
	default:
		return "Session"
	}
}

func liveHeading(k Kind) string {
	if k == Shift {
		return "Session Ping"
	}
	return heading(k)
}

func venue(k Kind) string {
	if k == Training {
		return "the training center"
	}
	return "the hotel"
}

func pitch(k Kind) string {
	if k == Shift {
		return " Come to the hotel for a nice and comfy room! Active staff may get a chance of promotion."
	}
	return ""
}
