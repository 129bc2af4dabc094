// Package guild holds the runtime configuration of each server the bot serves.
package guild

import (
	"math/rand/v2"
	"slices"
	"strings"

	"gitlab.com/zephyrtronium/pick"

	"github.com/vinns/concierge/session"
)

type Guild struct {
	// ID is the server's snowflake.
	ID string
	// Name is the name of the server's configuration table.
	Name string
	// Announce is the announcement configuration for each session kind.
	Announce map[session.Kind]Announce
	// Manage is the set of roles with the management capability.
	Manage []string
	// Admins is the set of users who may change configuration.
	// Admins also hold the management capability.
	Admins []string
	// Reports is where finished reports are routed.
	Reports Reports
	// Categories is the set of suggestion categories in menu order.
	Categories []Category
	// Cooldown limits how often a user may open reports and suggestions.
	Cooldown *Cooldown
	// Emotes is the distribution of emotes appended to confirmations.
	Emotes *pick.Dist[string]
}

// Announce is the static announcement configuration for a session kind.
// Runtime settings override Channel and Mention.
type Announce struct {
	// Channel is the channel in which sessions are announced. If empty,
	// sessions are announced where they are started.
	Channel string
	// Mention is the role to ping in announcements.
	Mention string
	// Link is the join link shown in announcements.
	Link string
}

// Reports is the routing of finished reports.
type Reports struct {
	// Staff is the channel receiving reports about staff.
	Staff string
	// Guest is the channel receiving reports about guests.
	Guest string
}

// Category is a suggestion category.
type Category struct {
	// Name is the identifier of the category used in menus.
	Name string
	// Label is the display name of the category.
	Label string
	// Channel is the channel receiving suggestions in the category.
	Channel string
}

// IsAdmin reports whether user may change the server's configuration.
func (g *Guild) IsAdmin(user string) bool {
	return slices.Contains(g.Admins, user)
}

// CanManage reports whether a user holding roles has the management
// capability.
func (g *Guild) CanManage(user string, roles []string) bool {
	if g.IsAdmin(user) {
		return true
	}
	for _, r := range roles {
		if slices.Contains(g.Manage, r) {
			return true
		}
	}
	return false
}

// Category returns the suggestion category with the given name.
func (g *Guild) Category(name string) (Category, bool) {
	i := slices.IndexFunc(g.Categories, func(c Category) bool { return strings.EqualFold(c.Name, name) })
	if i < 0 {
		return Category{}, false
	}
	return g.Categories[i], true
}

// Emote picks an emote to decorate a message. It returns the empty string if
// the server has no emotes.
func (g *Guild) Emote() string {
	if g.Emotes == nil {
		return ""
	}
	return g.Emotes.Pick(rand.Uint32())
}
