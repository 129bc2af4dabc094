package command

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vinns/concierge/session"
)

// SetChannel sets the announcement channel for a kind of session.
//
// Args: "kind" is the session kind. "channel" is a channel ID or mention;
// empty reverts to the configured channel.
func SetChannel(ctx context.Context, robo *Robot, call *Invocation) {
	count(robo.Metrics.CommandCount, "channel")
	kind, ok := robo.adminKind(ctx, call)
	if !ok {
		return
	}
	ch := snowflake(call.Args["channel"], "<#")
	if err := robo.Settings.SetChannel(ctx, call.Guild.ID, kind, ch); err != nil {
		robo.Log.ErrorContext(ctx, "couldn't set channel", slog.Any("err", err), slog.String("guild", call.Guild.ID))
		call.reply(ctx, "I couldn't save that.")
		return
	}
	robo.Log.InfoContext(ctx, "set channel", slog.String("guild", call.Guild.ID), slog.String("kind", kind.String()), slog.String("channel", ch))
	if ch == "" {
		call.reply(ctx, fmt.Sprintf("%s announcements will use the default channel.", title(kind)))
		return
	}
	call.reply(ctx, fmt.Sprintf("%s announcements will be sent to <#%s>.", title(kind), ch))
}

// SetMention sets the role pinged by announcements for a kind of session.
//
// Args: "kind" is the session kind. "role" is a role ID or mention; empty
// reverts to the configured role.
func SetMention(ctx context.Context, robo *Robot, call *Invocation) {
	count(robo.Metrics.CommandCount, "mention")
	kind, ok := robo.adminKind(ctx, call)
	if !ok {
		return
	}
	role := snowflake(call.Args["role"], "<@&")
	if err := robo.Settings.SetMention(ctx, call.Guild.ID, kind, role); err != nil {
		robo.Log.ErrorContext(ctx, "couldn't set mention", slog.Any("err", err), slog.String("guild", call.Guild.ID))
		call.reply(ctx, "I couldn't save that.")
		return
	}
	robo.Log.InfoContext(ctx, "set mention", slog.String("guild", call.Guild.ID), slog.String("kind", kind.String()), slog.String("role", role))
	if role == "" {
		call.reply(ctx, fmt.Sprintf("%s announcements will ping the default role.", title(kind)))
		return
	}
	call.reply(ctx, fmt.Sprintf("%s announcements will ping <@&%s>.", title(kind), role))
}

// adminKind checks that the invoker is an admin and parses the kind argument.
func (robo *Robot) adminKind(ctx context.Context, call *Invocation) (session.Kind, bool) {
	if !call.Guild.IsAdmin(call.Message.Sender) {
		count(robo.Metrics.Rejections, "config", "unauthorized")
		call.reply(ctx, "You don't have permission to do that.")
		return 0, false
	}
	kind := session.ParseKind(call.Args["kind"])
	if kind == 0 {
		call.reply(ctx, "I don't know that kind of session.")
		return 0, false
	}
	return kind, true
}

// snowflake extracts an ID from a raw ID or a mention with the given opener.
func snowflake(s, open string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, open)
	return strings.TrimSuffix(s, ">")
}

func title(k session.Kind) string {
	switch k {
	case session.Shift:
		return "Shift"
	case session.Training:
		return "Training"
	default:
		return "Session"
	}
}

// effective is the effective configuration of a server as shown to admins.
type effective struct {
	Guild      string               `yaml:"guild"`
	Sessions   map[string]announce  `yaml:"sessions"`
	Manage     []string             `yaml:"manage,omitempty"`
	Admins     []string             `yaml:"admins,omitempty"`
	Reports    map[string]string    `yaml:"reports,omitempty"`
	Categories []map[string]string  `yaml:"suggestions,omitempty"`
	Live       map[string]liveEntry `yaml:"live,omitempty"`
}

type announce struct {
	Channel string `yaml:"channel,omitempty"`
	Mention string `yaml:"mention,omitempty"`
	Link    string `yaml:"link,omitempty"`
}

type liveEntry struct {
	ID    string `yaml:"id"`
	Host  string `yaml:"host"`
	State string `yaml:"state"`
}

// ShowConfig shows the server's effective configuration as YAML.
func ShowConfig(ctx context.Context, robo *Robot, call *Invocation) {
	count(robo.Metrics.CommandCount, "config")
	if !call.Guild.IsAdmin(call.Message.Sender) {
		count(robo.Metrics.Rejections, "config", "unauthorized")
		call.reply(ctx, "You don't have permission to do that.")
		return
	}
	b, err := yaml.Marshal(robo.effective(ctx, call))
	if err != nil {
		robo.Log.ErrorContext(ctx, "couldn't marshal config", slog.Any("err", err))
		call.reply(ctx, "Something went wrong.")
		return
	}
	call.reply(ctx, "```yaml\n"+string(b)+"```")
}

func (robo *Robot) effective(ctx context.Context, call *Invocation) effective {
	g := call.Guild
	e := effective{
		Guild:    g.ID,
		Sessions: make(map[string]announce, 2),
		Manage:   g.Manage,
		Admins:   g.Admins,
	}
	for _, k := range []session.Kind{session.Shift, session.Training} {
		ch, m, l := robo.announceTarget(ctx, g, k, "")
		e.Sessions[k.String()] = announce{Channel: ch, Mention: m, Link: l}
		if s, ok := robo.Sessions.Current(g.ID, k); ok {
			if e.Live == nil {
				e.Live = make(map[string]liveEntry, 2)
			}
			e.Live[k.String()] = liveEntry{ID: s.ID.String(), Host: s.Host, State: s.State.String()}
		}
	}
	if g.Reports.Staff != "" || g.Reports.Guest != "" {
		e.Reports = map[string]string{"staff": g.Reports.Staff, "guest": g.Reports.Guest}
	}
	for _, c := range g.Categories {
		e.Categories = append(e.Categories, map[string]string{"name": c.Name, "label": c.Label, "channel": c.Channel})
	}
	return e
}
