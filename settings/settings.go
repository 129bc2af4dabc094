// Package settings defines persistent per-server overrides set at runtime.
package settings

import (
	"context"

	"github.com/vinns/concierge/session"
)

// Overrides is the runtime announcement configuration for one session kind
// in one server. Empty fields fall back to static configuration.
type Overrides struct {
	// Channel is the channel in which to announce sessions.
	Channel string
	// Mention is the role to ping in announcements.
	Mention string
}

// Store is a store of runtime overrides.
type Store interface {
	// Overrides returns the overrides for a session kind in a server.
	// A server with no overrides yields the zero Overrides and no error.
	Overrides(ctx context.Context, guild string, kind session.Kind) (Overrides, error)
	// SetChannel sets the announcement channel override.
	// An empty channel clears it.
	SetChannel(ctx context.Context, guild string, kind session.Kind, channel string) error
	// SetMention sets the mention role override.
	// An empty role clears it.
	SetMention(ctx context.Context, guild string, kind session.Kind, role string) error
}
