package command

import (
	"context"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/vinns/concierge/guild"
	"github.com/vinns/concierge/metrics"
	"github.com/vinns/concierge/session"
	"github.com/vinns/concierge/settings"
	"github.com/vinns/concierge/syncmap"
)

// Robot is the bot state as is visible to commands.
type Robot struct {
	Log *slog.Logger
	// Guilds is the configuration of each server by ID.
	Guilds *syncmap.Map[string, *guild.Guild]
	// Sessions is the session registry.
	Sessions *session.Manager
	// Settings holds runtime overrides.
	Settings settings.Store
	// Journal records ended sessions. It may be nil.
	Journal *sqlitex.Pool
	// Announcer applies render plans to the chat platform.
	Announcer Announcer
	Metrics   metrics.Metrics
}

// Announcement is everything needed to display a session.
type Announcement struct {
	Session session.Session
	Plan    session.Plan
	// Mention is the role to ping. It is empty when the session's state
	// doesn't warrant a ping.
	Mention string
	// Link is the join link for the session's venue.
	Link string
}

// Announcer manages the messages representing sessions.
type Announcer interface {
	// Announce posts a new announcement to a channel and returns an opaque
	// reference to it.
	Announce(ctx context.Context, channel string, a Announcement) (string, error)
	// Update replaces the content of an announcement.
	Update(ctx context.Context, ref string, a Announcement) error
	// Remove deletes an announcement.
	Remove(ctx context.Context, ref string) error
	// Link returns a URL pointing to an announcement.
	Link(guild, ref string) string
}

// observe records a latency in seconds, if the observer is configured.
func observe(o metrics.Observer, start time.Time, labels ...string) {
	if o == nil {
		return
	}
	o.Observe(time.Since(start).Seconds(), labels...)
}

// count increments a counter, if the observer is configured.
func count(o metrics.Observer, labels ...string) {
	if o == nil {
		return
	}
	o.Observe(1, labels...)
}

// guild returns the configuration for a server.
func (robo *Robot) guild(id string) *guild.Guild {
	if robo.Guilds == nil {
		return nil
	}
	g, _ := robo.Guilds.Load(id)
	return g
}

// announceTarget resolves the channel and mention role for a kind of session
// in a server. Runtime overrides win over static configuration. The channel
// falls back to fallback.
func (robo *Robot) announceTarget(ctx context.Context, g *guild.Guild, kind session.Kind, fallback string) (channel, mention, link string) {
	a := g.Announce[kind]
	channel, mention, link = a.Channel, a.Mention, a.Link
	if robo.Settings != nil {
		o, err := robo.Settings.Overrides(ctx, g.ID, kind)
		if err != nil {
			robo.Log.ErrorContext(ctx, "couldn't read overrides",
				slog.Any("err", err),
				slog.String("guild", g.ID),
				slog.String("kind", kind.String()),
			)
		}
		if o.Channel != "" {
			channel = o.Channel
		}
		if o.Mention != "" {
			mention = o.Mention
		}
	}
	if channel == "" {
		channel = fallback
	}
	return channel, mention, link
}
