package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/vinns/concierge/command"
	"github.com/vinns/concierge/session"
)

// announcer manages session announcements as Discord messages with embeds
// and buttons. References have the form channel/message.
type announcer struct {
	s *discordgo.Session
}

var _ command.Announcer = (*announcer)(nil)

func (a *announcer) Announce(ctx context.Context, channel string, an command.Announcement) (string, error) {
	content, embed, comps := renderAnnouncement(an)
	m, err := a.s.ChannelMessageSendComplex(channel, &discordgo.MessageSend{
		Content:         content,
		Embeds:          []*discordgo.MessageEmbed{embed},
		Components:      comps,
		AllowedMentions: allowRole(an.Mention),
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("couldn't send announcement: %w", err)
	}
	return channel + "/" + m.ID, nil
}

func (a *announcer) Update(ctx context.Context, ref string, an command.Announcement) error {
	ch, id, ok := strings.Cut(ref, "/")
	if !ok {
		return fmt.Errorf("malformed announcement reference %q", ref)
	}
	content, embed, comps := renderAnnouncement(an)
	embeds := []*discordgo.MessageEmbed{embed}
	_, err := a.s.ChannelMessageEditComplex(&discordgo.MessageEdit{
		ID:              id,
		Channel:         ch,
		Content:         &content,
		Embeds:          &embeds,
		Components:      &comps,
		AllowedMentions: allowRole(an.Mention),
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("couldn't edit announcement: %w", err)
	}
	return nil
}

func (a *announcer) Remove(ctx context.Context, ref string) error {
	ch, id, ok := strings.Cut(ref, "/")
	if !ok {
		return fmt.Errorf("malformed announcement reference %q", ref)
	}
	if err := a.s.ChannelMessageDelete(ch, id, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("couldn't delete announcement: %w", err)
	}
	return nil
}

func (a *announcer) Link(guild, ref string) string {
	return messageLink(guild, ref)
}

// messageLink returns the URL of the message with a channel/message
// reference.
func messageLink(guild, ref string) string {
	ch, id, ok := strings.Cut(ref, "/")
	if !ok || guild == "" {
		return ""
	}
	return "https://discord.com/channels/" + guild + "/" + ch + "/" + id
}

// allowRole permits pinging only the given role.
func allowRole(role string) *discordgo.MessageAllowedMentions {
	m := &discordgo.MessageAllowedMentions{}
	if role != "" {
		m.Roles = []string{role}
	}
	return m
}

var toneColors = map[session.Tone]int{
	session.ToneNeutral: 0x5865f2,
	session.ToneLive:    0x57f287,
	session.TonePaused:  0xfee75c,
	session.ToneOver:    0xed4245,
}

// sessionButtons is the layout of announcement controls, in display order.
var sessionButtons = []struct {
	control session.Control
	label   string
	style   discordgo.ButtonStyle
	op      string
}{
	{session.ControlConfirm, "Confirm", discordgo.SuccessButton, "confirm"},
	{session.ControlCancel, "Cancel", discordgo.SecondaryButton, "cancel"},
	{session.ControlStart, "Start", discordgo.SuccessButton, "activate"},
	{session.ControlLock, "Lock", discordgo.SecondaryButton, "lock"},
	{session.ControlUnlock, "Unlock", discordgo.PrimaryButton, "unlock"},
	{session.ControlEnd, "End", discordgo.DangerButton, "end"},
}

// sessionOps maps announcement button operations to commands.
var sessionOps = map[string]command.Func{
	"confirm":  command.Confirm,
	"cancel":   command.Cancel,
	"activate": command.Activate,
	"lock":     command.Lock,
	"unlock":   command.Unlock,
	"end":      command.End,
}

func sessionCustomID(op string, s session.Session) string {
	return "session:" + op + ":" + s.ID.String()
}

// renderAnnouncement lays out an announcement as a Discord message.
func renderAnnouncement(an command.Announcement) (content string, embed *discordgo.MessageEmbed, comps []discordgo.MessageComponent) {
	p := an.Plan
	if an.Mention != "" {
		content = "<@&" + an.Mention + ">"
	}
	embed = &discordgo.MessageEmbed{
		Title:       p.Title,
		Description: p.Description,
		Color:       toneColors[p.Tone],
		Footer:      &discordgo.MessageEmbedFooter{Text: an.Session.ID.String()},
		Timestamp:   an.Session.Created.UTC().Format(time.RFC3339),
	}
	if p.Host != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Host", Value: p.Host, Inline: true})
	}
	if p.Status != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Status", Value: p.Status, Inline: true})
	}
	var row []discordgo.MessageComponent
	for _, b := range sessionButtons {
		if !p.Controls.Has(b.control) {
			continue
		}
		row = append(row, discordgo.Button{
			Label:    b.label,
			Style:    b.style,
			CustomID: sessionCustomID(b.op, an.Session),
		})
	}
	if an.Link != "" && an.Session.State.Live() {
		row = append(row, discordgo.Button{Label: "Join", Style: discordgo.LinkButton, URL: an.Link})
	}
	// Edits need an explicitly empty list to clear old buttons.
	comps = []discordgo.MessageComponent{}
	if len(row) != 0 {
		comps = append(comps, discordgo.ActionsRow{Components: row})
	}
	return content, embed, comps
}

// markup formats values with Discord message syntax.
type markup struct{}

func (markup) User(id string) string {
	if id == "" || id == session.Automatic {
		return "automatic"
	}
	return "<@" + id + ">"
}

func (markup) Relative(t time.Time) string {
	return fmt.Sprintf("<t:%d:R>", t.Unix())
}

// members looks up member roles through the Discord state cache, falling
// back to the API.
type members struct {
	s *discordgo.Session
}

func (m members) Roles(ctx context.Context, guild, user string) ([]string, error) {
	if m.s.State != nil {
		if mem, err := m.s.State.Member(guild, user); err == nil {
			return mem.Roles, nil
		}
	}
	mem, err := m.s.GuildMember(guild, user, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("couldn't get member: %w", err)
	}
	return mem.Roles, nil
}
