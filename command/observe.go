package command

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vinns/concierge/journal"
	"github.com/vinns/concierge/session"
)

// Observe returns a session observer which keeps announcements, the journal,
// and metrics in step with the registry. ctx bounds the observer's platform
// calls, since timer-driven transitions have no request context of their own.
func (robo *Robot) Observe(ctx context.Context) func(session.Event) {
	return func(ev session.Event) {
		robo.observe(ctx, ev)
	}
}

func (robo *Robot) observe(ctx context.Context, ev session.Event) {
	s := ev.Session
	count(robo.Metrics.Transitions, s.Kind.String(), ev.Type.String())
	switch ev.Type {
	case session.EventStarted:
		if robo.Metrics.LiveSessions != nil {
			robo.Metrics.LiveSessions.Observe(1)
		}
		// The starting command posts the announcement.
	case session.EventConfirmed:
		robo.promote(ctx, s)
	case session.EventActivated, session.EventLocked, session.EventUnlocked:
		robo.refresh(ctx, s.ID)
	case session.EventEnded, session.EventExpired:
		if robo.Metrics.LiveSessions != nil {
			robo.Metrics.LiveSessions.Observe(-1)
		}
		if !s.Started.IsZero() && robo.Metrics.SessionLength != nil {
			robo.Metrics.SessionLength.Observe(s.Duration().Seconds(), s.Kind.String())
		}
		if ev.Type == session.EventExpired {
			robo.Log.InfoContext(ctx, "session expired", slog.String("session", s.ID.String()), slog.String("guild", s.Guild))
		}
		robo.record(ctx, s)
		if _, ok := robo.Sessions.Get(s.ID); ok {
			robo.refresh(ctx, s.ID)
		} else {
			// Discarded booking.
			robo.remove(ctx, s.Announcement)
		}
	case session.EventCancelled:
		if robo.Metrics.LiveSessions != nil {
			robo.Metrics.LiveSessions.Observe(-1)
		}
		robo.remove(ctx, s.Announcement)
	case session.EventPurged:
		robo.remove(ctx, s.Announcement)
	}
}

// record journals an ended session.
func (robo *Robot) record(ctx context.Context, s session.Session) {
	if robo.Journal == nil || s.State != session.Ended {
		return
	}
	if err := journal.Record(ctx, robo.Journal, s); err != nil {
		robo.Log.ErrorContext(ctx, "couldn't record session", slog.Any("err", err), slog.String("session", s.ID.String()))
	}
}

// promote replaces a confirmed booking's prompt with a real announcement.
func (robo *Robot) promote(ctx context.Context, s session.Session) {
	g := robo.guild(s.Guild)
	if g == nil {
		robo.Log.WarnContext(ctx, "session in unknown guild", slog.String("guild", s.Guild))
		return
	}
	old := s.Announcement
	channel, mention, link := robo.announceTarget(ctx, g, s.Kind, channelOf(old))
	a := Announcement{Session: s, Plan: robo.Sessions.Plan(s), Mention: mention, Link: link}
	ref, err := robo.announce(ctx, channel, a)
	if err != nil {
		robo.Log.ErrorContext(ctx, "couldn't announce confirmed session", slog.Any("err", err), slog.String("session", s.ID.String()))
		return
	}
	if _, err := robo.Sessions.Attach(s.ID, ref); err != nil {
		robo.remove(ctx, ref)
	}
	robo.remove(ctx, old)
}

// refresh renders the latest state of a session onto its announcement.
// Rendering the registry's current snapshot rather than an event's keeps
// racing updates from leaving a stale announcement.
func (robo *Robot) refresh(ctx context.Context, id uuid.UUID) {
	s, ok := robo.Sessions.Get(id)
	if !ok || s.Announcement == "" || robo.Announcer == nil {
		return
	}
	a := Announcement{Session: s, Plan: robo.Sessions.Plan(s)}
	if g := robo.guild(s.Guild); g != nil {
		_, a.Mention, a.Link = robo.announceTarget(ctx, g, s.Kind, "")
	}
	if s.State != session.Waiting && s.State != session.Active {
		a.Mention = ""
	}
	start := time.Now()
	err := robo.Announcer.Update(ctx, s.Announcement, a)
	observe(robo.Metrics.AnnounceLatency, start)
	if err != nil {
		robo.Log.ErrorContext(ctx, "couldn't update announcement",
			slog.Any("err", err),
			slog.String("session", s.ID.String()),
			slog.String("ref", s.Announcement),
		)
	}
}

func (robo *Robot) announce(ctx context.Context, channel string, a Announcement) (string, error) {
	start := time.Now()
	ref, err := robo.Announcer.Announce(ctx, channel, a)
	observe(robo.Metrics.AnnounceLatency, start)
	return ref, err
}

func (robo *Robot) remove(ctx context.Context, ref string) {
	if ref == "" || robo.Announcer == nil {
		return
	}
	if err := robo.Announcer.Remove(ctx, ref); err != nil {
		robo.Log.ErrorContext(ctx, "couldn't remove announcement", slog.Any("err", err), slog.String("ref", ref))
	}
}

// channelOf extracts the channel from a channel/message reference.
func channelOf(ref string) string {
	ch, _, ok := strings.Cut(ref, "/")
	if !ok {
		return ""
	}
	return ch
}
