package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/vinns/concierge/session"
)

// Start starts or books a session.
//
// Args: "kind" is the session kind. "slot", if present, books the session for
// that time slot instead of starting it now.
func Start(ctx context.Context, robo *Robot, call *Invocation) {
	count(robo.Metrics.CommandCount, "start")
	kind := session.ParseKind(call.Args["kind"])
	if kind == 0 {
		call.reply(ctx, "I don't know that kind of session.")
		return
	}
	if !call.canManage() {
		robo.deny(ctx, call, "start", kind, &session.Error{Op: "start", Err: session.ErrNotAuthorized})
		return
	}
	s, err := robo.Sessions.Start(call.Guild.ID, kind, call.Message.Sender, call.Args["slot"])
	if err != nil {
		robo.deny(ctx, call, "start", kind, err)
		return
	}
	log := robo.Log.With(slog.String("session", s.ID.String()), slog.String("guild", s.Guild), slog.String("kind", kind.String()))
	log.InfoContext(ctx, "session started", slog.String("host", s.Host), slog.String("state", s.State.String()))
	var channel, mention, link string
	if s.State == session.Scheduled {
		// Bookings are confirmed where they're made.
		channel = call.Message.To
		_, _, link = robo.announceTarget(ctx, call.Guild, kind, call.Message.To)
	} else {
		channel, mention, link = robo.announceTarget(ctx, call.Guild, kind, call.Message.To)
	}
	a := Announcement{Session: s, Plan: robo.Sessions.Plan(s), Mention: mention, Link: link}
	ref, err := robo.announce(ctx, channel, a)
	if err != nil {
		log.ErrorContext(ctx, "couldn't announce session", slog.Any("err", err), slog.String("channel", channel))
		call.reply(ctx, "I couldn't post the announcement, so the "+kind.String()+" was not started.")
		robo.abandon(ctx, s)
		return
	}
	cur, err := robo.Sessions.Attach(s.ID, ref)
	if err != nil {
		// Already gone. Nothing will clean up the announcement.
		log.WarnContext(ctx, "session vanished before attach", slog.Any("err", err))
		robo.remove(ctx, ref)
		return
	}
	if cur.State != s.State {
		// Someone pressed a button before we knew which message it was on.
		robo.refresh(ctx, s.ID)
	}
}

// abandon withdraws a session that could not be announced.
func (robo *Robot) abandon(ctx context.Context, s session.Session) {
	var err error
	if s.State == session.Scheduled {
		_, err = robo.Sessions.Cancel(s.ID, s.Host)
	} else {
		_, err = robo.Sessions.End(ctx, s.ID, "")
	}
	if err != nil {
		robo.Log.ErrorContext(ctx, "couldn't abandon session", slog.Any("err", err), slog.String("session", s.ID.String()))
	}
}

// Confirm confirms a booked session.
//
// Args: "id" is the session ID.
func Confirm(ctx context.Context, robo *Robot, call *Invocation) {
	robo.act(ctx, call, "confirm", func(id uuid.UUID) (session.Session, error) {
		return robo.Sessions.Confirm(id, call.Message.Sender)
	})
}

// Cancel withdraws a booked session.
//
// Args: "id" is the session ID.
func Cancel(ctx context.Context, robo *Robot, call *Invocation) {
	robo.act(ctx, call, "cancel", func(id uuid.UUID) (session.Session, error) {
		return robo.Sessions.Cancel(id, call.Message.Sender)
	})
}

// Activate starts a waiting session.
//
// Args: "id" is the session ID.
func Activate(ctx context.Context, robo *Robot, call *Invocation) {
	robo.act(ctx, call, "activate", func(id uuid.UUID) (session.Session, error) {
		return robo.Sessions.Activate(ctx, id, call.Message.Sender)
	})
}

// Lock locks an active session.
//
// Args: "id" is the session ID.
func Lock(ctx context.Context, robo *Robot, call *Invocation) {
	robo.act(ctx, call, "lock", func(id uuid.UUID) (session.Session, error) {
		return robo.Sessions.Lock(ctx, id, call.Message.Sender)
	})
}

// Unlock unlocks a locked session.
//
// Args: "id" is the session ID.
func Unlock(ctx context.Context, robo *Robot, call *Invocation) {
	robo.act(ctx, call, "unlock", func(id uuid.UUID) (session.Session, error) {
		return robo.Sessions.Unlock(ctx, id, call.Message.Sender)
	})
}

// End ends a session.
//
// Args: "id" is the session ID.
func End(ctx context.Context, robo *Robot, call *Invocation) {
	robo.act(ctx, call, "end", func(id uuid.UUID) (session.Session, error) {
		return robo.Sessions.End(ctx, id, call.Message.Sender)
	})
}

// act runs a transition on the session named by the "id" argument.
// Announcement updates happen through the manager's observer.
func (robo *Robot) act(ctx context.Context, call *Invocation, op string, f func(uuid.UUID) (session.Session, error)) {
	count(robo.Metrics.CommandCount, op)
	id, err := uuid.Parse(call.Args["id"])
	if err != nil {
		robo.deny(ctx, call, op, 0, &session.Error{Op: op, Err: session.ErrNotFound})
		return
	}
	kind := session.Kind(0)
	if s, ok := robo.Sessions.Get(id); ok {
		if s.Guild != call.Guild.ID {
			// Sessions are only visible in their own servers.
			robo.deny(ctx, call, op, 0, &session.Error{Op: op, ID: id, Err: session.ErrNotFound})
			return
		}
		kind = s.Kind
	}
	s, err := f(id)
	if err != nil {
		robo.deny(ctx, call, op, kind, err)
		return
	}
	robo.Log.InfoContext(ctx, "session "+op,
		slog.String("session", s.ID.String()),
		slog.String("guild", s.Guild),
		slog.String("actor", call.Message.Sender),
		slog.String("state", s.State.String()),
	)
}

// EndByMessage ends a session identified by its announcement message, or the
// current session of a kind if no message is given.
//
// Args: "kind" is the session kind. "message" is the announcement message ID.
func EndByMessage(ctx context.Context, robo *Robot, call *Invocation) {
	count(robo.Metrics.CommandCount, "end-by-message")
	kind := session.ParseKind(call.Args["kind"])
	if kind == 0 {
		call.reply(ctx, "I don't know that kind of session.")
		return
	}
	msg := strings.TrimSpace(call.Args["message"])
	var target session.Session
	found := false
	if msg == "" {
		target, found = robo.Sessions.Current(call.Guild.ID, kind)
	} else {
		for _, s := range robo.Sessions.List(call.Guild.ID) {
			if s.Kind == kind && s.State != session.Ended && matchRef(s.Announcement, msg) {
				target, found = s, true
				break
			}
		}
	}
	if !found {
		robo.deny(ctx, call, "end", kind, &session.Error{Op: "end", Err: session.ErrNotFound})
		return
	}
	s, err := robo.Sessions.End(ctx, target.ID, call.Message.Sender)
	if err != nil {
		robo.deny(ctx, call, "end", kind, err)
		return
	}
	robo.Log.InfoContext(ctx, "session end",
		slog.String("session", s.ID.String()),
		slog.String("guild", s.Guild),
		slog.String("actor", call.Message.Sender),
	)
	call.reply(ctx, fmt.Sprintf("Ended the %s.", kind))
}

// matchRef reports whether an announcement reference names the message id.
// References may carry a channel prefix separated by a slash.
func matchRef(ref, id string) bool {
	if ref == "" || id == "" {
		return false
	}
	return ref == id || strings.HasSuffix(ref, "/"+id)
}

// deny tells the invoker why an operation failed.
func (robo *Robot) deny(ctx context.Context, call *Invocation, op string, kind session.Kind, err error) {
	noun := kind.String()
	if kind == 0 {
		noun = "session"
	}
	var text, reason string
	var e *session.Error
	errors.As(err, &e)
	switch {
	case errors.Is(err, session.ErrNotAuthorized):
		text, reason = "You don't have permission to do that.", "unauthorized"
	case errors.Is(err, session.ErrNotFound):
		text, reason = fmt.Sprintf("No active %s found for this server.", noun), "not-found"
	case errors.Is(err, session.ErrAlreadyActive):
		reason = "already-active"
		text = fmt.Sprintf("A %s is already running.", noun)
		if e != nil && e.Existing != nil && e.Existing.Announcement != "" && robo.Announcer != nil {
			text = fmt.Sprintf("A %s is already running: %s", noun, robo.Announcer.Link(e.Existing.Guild, e.Existing.Announcement))
		}
	case errors.Is(err, session.ErrInvalidState):
		reason = "invalid-state"
		st := session.State(0)
		if e != nil {
			st = e.State
		}
		text = stateDenial(op, noun, st)
	default:
		reason = "error"
		text = "Something went wrong."
		robo.Log.ErrorContext(ctx, "session operation failed", slog.String("op", op), slog.Any("err", err))
	}
	count(robo.Metrics.Rejections, op, reason)
	robo.Log.DebugContext(ctx, "denied",
		slog.String("op", op),
		slog.String("user", call.Message.Sender),
		slog.String("reason", reason),
	)
	call.reply(ctx, text)
}

func stateDenial(op, noun string, st session.State) string {
	switch st {
	case session.Ended:
		return fmt.Sprintf("That %s has already ended.", noun)
	case session.Scheduled:
		return fmt.Sprintf("That %s hasn't been confirmed yet.", noun)
	}
	switch op {
	case "activate":
		return fmt.Sprintf("That %s has already started.", noun)
	case "lock":
		if st == session.Locked {
			return fmt.Sprintf("That %s is already locked.", noun)
		}
		return fmt.Sprintf("That %s hasn't started yet.", noun)
	case "unlock":
		return fmt.Sprintf("That %s isn't locked.", noun)
	case "confirm", "cancel":
		return fmt.Sprintf("That %s was already confirmed.", noun)
	default:
		return fmt.Sprintf("That %s can't do that right now.", noun)
	}
}
