package message

import (
	"time"

	"github.com/bwmarrin/discordgo"
)

// FromDiscord adapts a Discord message.
func FromDiscord(m *discordgo.Message) *Received {
	r := Received{
		ID:        m.ID,
		Guild:     m.GuildID,
		To:        m.ChannelID,
		Timestamp: m.Timestamp.UnixMilli(),
		Text:      m.Content,
	}
	if m.Author != nil {
		r.Sender = m.Author.ID
		r.Name = m.Author.Username
		if m.Author.GlobalName != "" {
			r.Name = m.Author.GlobalName
		}
	}
	if m.Member != nil {
		r.Roles = m.Member.Roles
		if m.Member.Nick != "" {
			r.Name = m.Member.Nick
		}
	}
	for _, a := range m.Attachments {
		r.Attachments = append(r.Attachments, Attachment{
			URL:         a.URL,
			Name:        a.Filename,
			ContentType: a.ContentType,
			Size:        a.Size,
		})
	}
	return &r
}

// FromInteraction adapts a Discord interaction, such as a slash command or a
// button press, received at now. The result has no text.
func FromInteraction(i *discordgo.Interaction, now time.Time) *Received {
	r := Received{
		ID:        i.ID,
		Guild:     i.GuildID,
		To:        i.ChannelID,
		Timestamp: now.UnixMilli(),
	}
	u := i.User
	if i.Member != nil {
		u = i.Member.User
		r.Roles = i.Member.Roles
	}
	if u != nil {
		r.Sender = u.ID
		r.Name = u.Username
		if u.GlobalName != "" {
			r.Name = u.GlobalName
		}
	}
	if i.Member != nil && i.Member.Nick != "" {
		r.Name = i.Member.Nick
	}
	return &r
}

// ToDiscord creates a message to send to Discord. If reply is not empty,
// the result references that message.
func ToDiscord(m Sent) *discordgo.MessageSend {
	r := discordgo.MessageSend{
		Content:         m.Text,
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}
	if m.Reply != "" {
		r.Reference = &discordgo.MessageReference{MessageID: m.Reply, ChannelID: m.To}
	}
	return &r
}
