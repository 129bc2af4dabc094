package message_test

import (
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/go-cmp/cmp"

	"github.com/vinns/concierge/message"
)

func TestFromDiscord(t *testing.T) {
	ts := time.UnixMilli(1717243200000)
	cases := []struct {
		name string
		in   *discordgo.Message
		want *message.Received
	}{
		{
			name: "member",
			in: &discordgo.Message{
				ID:        "1",
				GuildID:   "g",
				ChannelID: "c",
				Content:   "-shift",
				Timestamp: ts,
				Author:    &discordgo.User{ID: "u", Username: "bocchi", GlobalName: "Bocchi"},
				Member:    &discordgo.Member{Nick: "Hitori", Roles: []string{"r1", "r2"}},
				Attachments: []*discordgo.MessageAttachment{
					{URL: "https://cdn.example/a.png", Filename: "a.png", ContentType: "image/png", Size: 7},
				},
			},
			want: &message.Received{
				ID:          "1",
				Guild:       "g",
				To:          "c",
				Sender:      "u",
				Name:        "Hitori",
				Text:        "-shift",
				Timestamp:   1717243200000,
				Roles:       []string{"r1", "r2"},
				Attachments: []message.Attachment{
					{URL: "https://cdn.example/a.png", Name: "a.png", ContentType: "image/png", Size: 7},
				},
			},
		},
		{
			name: "direct",
			in: &discordgo.Message{
				ID:        "2",
				ChannelID: "dm",
				Content:   "hi",
				Timestamp: ts,
				Author:    &discordgo.User{ID: "u", Username: "bocchi"},
			},
			want: &message.Received{
				ID:        "2",
				To:        "dm",
				Sender:    "u",
				Name:      "bocchi",
				Text:      "hi",
				Timestamp: 1717243200000,
			},
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := message.FromDiscord(c.in)
			if diff := cmp.Diff(c.want, got); diff != "" {
				t.Errorf("wrong message (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFromInteraction(t *testing.T) {
	now := time.UnixMilli(1717243200000)
	cases := []struct {
		name string
		in   *discordgo.Interaction
		want *message.Received
	}{
		{
			name: "member",
			in: &discordgo.Interaction{
				ID:        "i",
				GuildID:   "g",
				ChannelID: "c",
				Member: &discordgo.Member{
					User:  &discordgo.User{ID: "u", Username: "nijika", GlobalName: "Nijika"},
					Roles: []string{"r"},
				},
			},
			want: &message.Received{
				ID:        "i",
				Guild:     "g",
				To:        "c",
				Sender:    "u",
				Name:      "Nijika",
				Timestamp: 1717243200000,
				Roles:     []string{"r"},
			},
		},
		{
			name: "nick",
			in: &discordgo.Interaction{
				ID:        "i",
				GuildID:   "g",
				ChannelID: "c",
				Member: &discordgo.Member{
					User: &discordgo.User{ID: "u", Username: "kita"},
					Nick: "Ikuyo",
				},
			},
			want: &message.Received{
				ID:        "i",
				Guild:     "g",
				To:        "c",
				Sender:    "u",
				Name:      "Ikuyo",
				Timestamp: 1717243200000,
			},
		},
		{
			name: "direct",
			in: &discordgo.Interaction{
				ID:        "i",
				ChannelID: "dm",
				User:      &discordgo.User{ID: "u", Username: "ryo"},
			},
			want: &message.Received{
				ID:        "i",
				To:        "dm",
				Sender:    "u",
				Name:      "ryo",
				Timestamp: 1717243200000,
			},
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := message.FromInteraction(c.in, now)
			if diff := cmp.Diff(c.want, got); diff != "" {
				t.Errorf("wrong message (-want +got):\n%s", diff)
			}
		})
	}
}

func TestHasRole(t *testing.T) {
	m := message.Received{Roles: []string{"a", "b"}}
	if !m.HasRole("x", "b") {
		t.Errorf("didn't find held role")
	}
	if m.HasRole("x", "y") {
		t.Errorf("found role not held")
	}
	if m.HasRole() {
		t.Errorf("found role in empty set")
	}
}

func TestFormat(t *testing.T) {
	m := message.Format("r", "c", "  %s is %d  ", "x", 1).AsPrivate()
	want := message.Sent{Reply: "r", To: "c", Text: "x is 1", Private: true}
	if m != want {
		t.Errorf("wrong message: want %+v, got %+v", want, m)
	}
}
