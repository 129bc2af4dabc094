package command

import (
	"context"
	"log/slog"
)

// Members looks up the roles of server members.
type Members interface {
	Roles(ctx context.Context, guild, user string) ([]string, error)
}

// Authorizer grants the management capability by server configuration.
// It implements session.Authorizer.
type Authorizer struct {
	Robot   *Robot
	Members Members
}

// CanManage reports whether user is an admin of guild or holds one of its
// management roles.
func (a *Authorizer) CanManage(ctx context.Context, user, guild string) bool {
	g := a.Robot.guild(guild)
	if g == nil {
		return false
	}
	if g.IsAdmin(user) {
		return true
	}
	roles, err := a.Members.Roles(ctx, guild, user)
	if err != nil {
		a.Robot.Log.WarnContext(ctx, "couldn't get member roles",
			slog.Any("err", err),
			slog.String("guild", guild),
			slog.String("user", user),
		)
		return false
	}
	return g.CanManage(user, roles)
}
