package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/sync/errgroup"

	"github.com/vinns/concierge/command"
	"github.com/vinns/concierge/guild"
	"github.com/vinns/concierge/metrics"
	"github.com/vinns/concierge/report"
	"github.com/vinns/concierge/session"
	"github.com/vinns/concierge/suggest"
	"github.com/vinns/concierge/timer"
)

// Robot is the overall configuration for the bot.
type Robot struct {
	// cmd is the state shared with commands.
	cmd *command.Robot
	// timers drives session expiry and purging.
	timers *timer.Set[string]
	// reports is the report intake desk.
	reports *report.Desk
	// suggestions holds suggestions awaiting a category.
	suggestions *suggest.Box
	// watch fans session events out to API subscribers.
	watch *hub
	// metrics is the bot's metrics.
	metrics metrics.Metrics
	// owner is the name of the owner.
	owner string
	// ownerContact describes contact information for the owner.
	ownerContact string
	// prefix is the text command prefix.
	prefix string
	// slots is the set of schedulable time slots. Empty allows any.
	slots []string
	// dg is the Discord session.
	dg *discordgo.Session
}

// New creates a Robot driving dg. It sets cmd.Announcer and cmd.Sessions.
// Session timers run until Run returns.
func New(ctx context.Context, cfg *Config, cmd *command.Robot, dg *discordgo.Session) *Robot {
	robo := &Robot{
		cmd:          cmd,
		timers:       timer.New[string](),
		watch:        newHub(),
		metrics:      cmd.Metrics,
		owner:        cfg.Owner.Name,
		ownerContact: cfg.Owner.Contact,
		prefix:       cfg.Discord.prefix(),
		slots:        cfg.Sessions.Slots,
		dg:           dg,
	}
	cmd.Announcer = &announcer{s: dg}
	observe := cmd.Observe(ctx)
	cmd.Sessions = session.New(session.Options{
		Lifetime:   cfg.Sessions.lifetime(),
		Retention:  cfg.Sessions.retention(),
		Scheduler:  robo.timers,
		Authorizer: &command.Authorizer{Robot: cmd, Members: members{s: dg}},
		Markup:     markup{},
		Observe: func(ev session.Event) {
			observe(ev)
			robo.watch.publish(ev)
		},
	})
	robo.reports = report.NewDesk(report.Options{
		Expired: func(r report.Report) { robo.reportExpired(ctx, r) },
	})
	robo.suggestions = suggest.NewBox(suggest.Options{
		Expired: func(s suggest.Suggestion) { robo.suggestionExpired(ctx, s) },
	})
	return robo
}

// guild returns the configuration for a server, or nil if the server isn't
// configured.
func (robo *Robot) guild(id string) *guild.Guild {
	g, _ := robo.cmd.Guilds.Load(id)
	return g
}

// validSlot reports whether slot may be booked.
func (robo *Robot) validSlot(slot string) bool {
	return slot == "" || len(robo.slots) == 0 || slices.Contains(robo.slots, slot)
}

// Run connects to Discord and serves the API until ctx is canceled.
func (robo *Robot) Run(ctx context.Context, listen string) error {
	group, ctx := errgroup.WithContext(ctx)
	if robo.dg != nil {
		group.Go(func() error { return robo.discord(ctx) })
	}
	if listen != "" {
		group.Go(func() error { return robo.api(ctx, listen, new(http.ServeMux), robo.metrics.Collectors()) })
	}
	group.Go(func() error { return robo.sweep(ctx, time.Minute) })
	err := group.Wait()
	robo.timers.Stop()
	robo.reports.Close()
	robo.suggestions.Close()
	if errors.Is(err, context.Canceled) {
		// If the first error is context canceled, then we are shutting down
		// normally in response to a sigint.
		err = nil
	}
	return err
}

// sweep periodically forgets elapsed cooldowns.
func (robo *Robot) sweep(ctx context.Context, every time.Duration) error {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-t.C:
			n := 0
			for _, g := range robo.cmd.Guilds.All() {
				n += g.Cooldown.Sweep(now)
			}
			if n > 0 {
				slog.DebugContext(ctx, "swept cooldowns", slog.Int("n", n))
			}
		}
	}
}
