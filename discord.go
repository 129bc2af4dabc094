package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/vinns/concierge/command"
	"github.com/vinns/concierge/guild"
	"github.com/vinns/concierge/message"
	"github.com/vinns/concierge/metrics"
)

// discord connects to Discord and handles events until ctx is canceled.
func (robo *Robot) discord(ctx context.Context) error {
	s := robo.dg
	s.Identify.Intents = discordgo.IntentGuilds |
		discordgo.IntentGuildMessages |
		discordgo.IntentGuildMembers |
		discordgo.IntentMessageContent

	// Register slash commands on startup
	s.AddHandler(func(s *discordgo.Session, ev *discordgo.Ready) {
		_, err := s.ApplicationCommandBulkOverwrite(ev.Application.ID, "", robo.slashCommands(), discordgo.WithContext(ctx))
		if err != nil {
			slog.ErrorContext(ctx, "couldn't update slash commands", slog.Any("err", err))
			return
		}
		slog.InfoContext(ctx, "discord ready", slog.String("user", ev.User.Username), slog.Int("guilds", len(ev.Guilds)))
	})
	s.AddHandler(func(s *discordgo.Session, ev *discordgo.MessageCreate) {
		robo.onMessage(ctx, ev)
	})
	s.AddHandler(func(s *discordgo.Session, ev *discordgo.InteractionCreate) {
		switch ev.Type {
		case discordgo.InteractionApplicationCommand:
			robo.onSlash(ctx, ev)
		case discordgo.InteractionMessageComponent:
			robo.onComponent(ctx, ev)
		}
	})

	if err := s.Open(); err != nil {
		return fmt.Errorf("couldn't connect to discord: %w", err)
	}
	<-ctx.Done()
	if err := s.Close(); err != nil {
		slog.ErrorContext(ctx, "couldn't close discord connection", slog.Any("err", err))
	}
	return ctx.Err()
}

func (robo *Robot) slashCommands() []*discordgo.ApplicationCommand {
	slot := &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "slot",
		Description: "Time slot to book",
		Required:    true,
	}
	for _, s := range robo.slots {
		slot.Choices = append(slot.Choices, &discordgo.ApplicationCommandOptionChoice{Name: s, Value: s})
	}
	hosting := func(name, noun string) *discordgo.ApplicationCommand {
		return &discordgo.ApplicationCommand{
			Name:        name,
			Description: "Host a " + noun,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "start",
					Description: "Announce a " + noun + " now",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "schedule",
					Description: "Book a " + noun + " for later",
					Options:     []*discordgo.ApplicationCommandOption{slot},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "end",
					Description: "End the current " + noun,
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "message",
							Description: "ID of the announcement message",
						},
					},
				},
			},
		}
	}
	kind := &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "kind",
		Description: "Kind of session",
		Required:    true,
		Choices: []*discordgo.ApplicationCommandOptionChoice{
			{Name: "shift", Value: "shift"},
			{Name: "training", Value: "training"},
		},
	}
	permission := int64(discordgo.PermissionManageServer)
	return []*discordgo.ApplicationCommand{
		hosting("shift", "shift"),
		hosting("training", "training"),
		{
			Name:                     "config",
			Description:              "Configure session announcements",
			DefaultMemberPermissions: &permission,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "channel",
					Description: "Set or reset the announcement channel",
					Options: []*discordgo.ApplicationCommandOption{
						kind,
						{
							Type:         discordgo.ApplicationCommandOptionChannel,
							Name:         "channel",
							Description:  "Announcement channel; omit to use the default",
							ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText},
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "mention",
					Description: "Set or reset the role pinged by announcements",
					Options: []*discordgo.ApplicationCommandOption{
						kind,
						{
							Type:        discordgo.ApplicationCommandOptionRole,
							Name:        "role",
							Description: "Role to ping; omit to use the default",
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "show",
					Description: "Show this server's configuration",
				},
			},
		},
		{
			Name:        "report",
			Description: "Report a staff member or guest",
		},
		{
			Name:        "suggest",
			Description: "Send a suggestion",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "text",
					Description: "Your suggestion",
					Required:    true,
				},
			},
		},
	}
}

// onMessage handles a chat message: report answers and text commands.
func (robo *Robot) onMessage(ctx context.Context, ev *discordgo.MessageCreate) {
	// Ignore messages sent by bots
	if ev.Author == nil || ev.Author.Bot || ev.GuildID == "" {
		return
	}
	g := robo.guild(ev.GuildID)
	if g == nil {
		return
	}
	msg := message.FromDiscord(ev.Message)
	log := slog.With(slog.String("trace", msg.ID), slog.String("in", msg.Guild))
	reply := robo.replyInChannel
	if r, ok := robo.reports.Get(msg.To, msg.Sender); ok {
		robo.reportMessage(ctx, g, msg, r, reply)
		return
	}
	text, ok := parseCommand(robo.prefix, msg.Text)
	if !ok {
		return
	}
	c, args := findCommand(textCommands, text)
	if c == nil {
		log.DebugContext(ctx, "no command", slog.String("text", text))
		return
	}
	log.InfoContext(ctx, "command", slog.String("name", c.name), slog.String("sender", msg.Sender))
	switch c.name {
	case cmdReport:
		robo.openReport(ctx, g, msg, reply)
		return
	case cmdSuggest:
		robo.openSuggestion(ctx, g, msg, args["text"], reply)
		return
	case cmdCancel:
		// Reporters' messages are handled above.
		reply(ctx, message.Format(msg.ID, msg.To, "You have no report open here."))
		return
	}
	if !robo.validSlot(args["slot"]) {
		reply(ctx, message.Format(msg.ID, msg.To, "I don't know that time slot. Choose one of: %s.", strings.Join(robo.slots, ", ")))
		return
	}
	call := command.Invocation{
		Guild:   g,
		Message: msg,
		Args:    args,
		Reply:   reply,
	}
	c.fn(ctx, robo.cmd, &call)
}

// replyInChannel sends a reply as a normal message. Messages can't be
// private outside of interactions.
func (robo *Robot) replyInChannel(ctx context.Context, m message.Sent) {
	if _, err := robo.dg.ChannelMessageSendComplex(m.To, message.ToDiscord(m), discordgo.WithContext(ctx)); err != nil {
		slog.ErrorContext(ctx, "couldn't send reply", slog.Any("err", err), slog.String("channel", m.To))
	}
}

// interaction sets up handling of an interaction. It returns nil if the
// interaction isn't from a configured server or couldn't be acknowledged.
// Otherwise the caller must call finish on the returned reply.
func (robo *Robot) interaction(ctx context.Context, ev *discordgo.InteractionCreate, update bool) (*guild.Guild, *message.Received, *interactionReply) {
	msg := message.FromInteraction(ev.Interaction, time.Now())
	g := robo.guild(ev.GuildID)
	if g == nil || msg.Sender == "" {
		text := "I'm not set up for this server."
		if robo.ownerContact != "" {
			text += " Ask " + robo.owner + " at " + robo.ownerContact + "."
		}
		err := robo.dg.InteractionRespond(ev.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: text,
				Flags:   discordgo.MessageFlagsEphemeral,
			},
		}, discordgo.WithContext(ctx))
		if err != nil {
			slog.ErrorContext(ctx, "couldn't respond to interaction", slog.Any("err", err))
		}
		return nil, nil, nil
	}
	r := &interactionReply{s: robo.dg, i: ev.Interaction, update: update}
	if err := r.ack(ctx); err != nil {
		slog.ErrorContext(ctx, "couldn't acknowledge interaction", slog.Any("err", err), slog.String("in", g.ID))
		return nil, nil, nil
	}
	return g, msg, r
}

// onSlash handles slash commands.
func (robo *Robot) onSlash(ctx context.Context, ev *discordgo.InteractionCreate) {
	g, msg, r := robo.interaction(ctx, ev, false)
	if r == nil {
		return
	}
	defer r.finish(ctx)
	data := ev.ApplicationCommandData()
	slog.InfoContext(ctx, "slash command",
		slog.String("trace", msg.ID),
		slog.String("in", g.ID),
		slog.String("name", data.Name),
		slog.String("sender", msg.Sender),
	)
	var fn command.Func
	args := make(map[string]string)
	switch data.Name {
	case "shift", "training":
		if len(data.Options) == 0 {
			return
		}
		sub := data.Options[0]
		opts := optionMap(sub.Options)
		args["kind"] = data.Name
		switch sub.Name {
		case "start":
			fn = command.Start
		case "schedule":
			if !robo.validSlot(opts["slot"]) {
				r.send(ctx, message.Format(msg.ID, msg.To, "I don't know that time slot.").AsPrivate())
				return
			}
			args["slot"] = opts["slot"]
			fn = command.Start
		case "end":
			args["message"] = opts["message"]
			fn = command.EndByMessage
		}
	case "config":
		if len(data.Options) == 0 {
			return
		}
		sub := data.Options[0]
		opts := optionMap(sub.Options)
		args["kind"] = opts["kind"]
		switch sub.Name {
		case "channel":
			args["channel"] = opts["channel"]
			fn = command.SetChannel
		case "mention":
			args["role"] = opts["role"]
			fn = command.SetMention
		case "show":
			fn = command.ShowConfig
		}
	case "report":
		robo.openReport(ctx, g, msg, r.send)
		return
	case "suggest":
		robo.openSuggestion(ctx, g, msg, optionMap(data.Options)["text"], r.send)
		return
	}
	if fn == nil {
		return
	}
	call := command.Invocation{
		Guild:   g,
		Message: msg,
		Args:    args,
		Reply:   r.send,
	}
	fn(ctx, robo.cmd, &call)
}

// optionMap collects the string-valued options of a command. Channel and
// role options carry IDs.
func optionMap(opts []*discordgo.ApplicationCommandInteractionDataOption) map[string]string {
	m := make(map[string]string, len(opts))
	for _, o := range opts {
		if s, ok := o.Value.(string); ok {
			m[o.Name] = s
		}
	}
	return m
}

// onComponent handles button presses and menu choices.
func (robo *Robot) onComponent(ctx context.Context, ev *discordgo.InteractionCreate) {
	g, msg, r := robo.interaction(ctx, ev, true)
	if r == nil {
		return
	}
	defer r.finish(ctx)
	data := ev.MessageComponentData()
	slog.InfoContext(ctx, "component",
		slog.String("trace", msg.ID),
		slog.String("in", g.ID),
		slog.String("id", data.CustomID),
		slog.String("sender", msg.Sender),
	)
	kind, rest, _ := strings.Cut(data.CustomID, ":")
	switch kind {
	case "session":
		op, id, _ := strings.Cut(rest, ":")
		fn := sessionOps[op]
		if fn == nil {
			return
		}
		call := command.Invocation{
			Guild:   g,
			Message: msg,
			Args:    map[string]string{"id": id},
			Reply:   r.send,
		}
		fn(ctx, robo.cmd, &call)
	case "report":
		robo.reportComponent(ctx, g, msg, rest, r.send)
	case "suggest":
		robo.suggestComponent(ctx, g, msg, rest, data.Values, r.send)
	}
}

// interactionReply sends replies to an interaction. Slash commands get an
// ephemeral deferred response which the first reply fills in; components get
// a deferred update and ephemeral followups.
type interactionReply struct {
	s      *discordgo.Session
	i      *discordgo.Interaction
	update bool

	mu      sync.Mutex
	replied bool
}

func (r *interactionReply) ack(ctx context.Context) error {
	resp := &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	}
	if r.update {
		resp = &discordgo.InteractionResponse{Type: discordgo.InteractionResponseDeferredMessageUpdate}
	}
	return r.s.InteractionRespond(r.i, resp, discordgo.WithContext(ctx))
}

func (r *interactionReply) send(ctx context.Context, m message.Sent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	first := !r.replied
	r.replied = true
	if first && !r.update {
		_, err := r.s.InteractionResponseEdit(r.i, &discordgo.WebhookEdit{
			Content:         &m.Text,
			AllowedMentions: &discordgo.MessageAllowedMentions{},
		}, discordgo.WithContext(ctx))
		if err != nil {
			slog.ErrorContext(ctx, "couldn't edit interaction response", slog.Any("err", err))
		}
		return
	}
	var flags discordgo.MessageFlags
	if m.Private {
		flags = discordgo.MessageFlagsEphemeral
	}
	_, err := r.s.FollowupMessageCreate(r.i, true, &discordgo.WebhookParams{
		Content:         m.Text,
		Flags:           flags,
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}, discordgo.WithContext(ctx))
	if err != nil {
		slog.ErrorContext(ctx, "couldn't send interaction followup", slog.Any("err", err))
	}
}

// finish completes a slash command's deferred response if nothing replied.
func (r *interactionReply) finish(ctx context.Context) {
	r.mu.Lock()
	done := r.replied || r.update
	r.mu.Unlock()
	if done {
		return
	}
	r.send(ctx, message.Sent{Text: "Done.", Private: true})
}

// count increments a counter, if the observer is configured.
func count(o metrics.Observer, labels ...string) {
	if o == nil {
		return
	}
	o.Observe(1, labels...)
}
