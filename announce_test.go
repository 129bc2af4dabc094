package main

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/vinns/concierge/command"
	"github.com/vinns/concierge/guild"
	"github.com/vinns/concierge/report"
	"github.com/vinns/concierge/session"
	"github.com/vinns/concierge/suggest"
)

func buttonIDs(comps []discordgo.MessageComponent) []string {
	var r []string
	for _, c := range comps {
		row, ok := c.(discordgo.ActionsRow)
		if !ok {
			continue
		}
		for _, b := range row.Components {
			switch b := b.(type) {
			case discordgo.Button:
				if b.URL != "" {
					r = append(r, b.URL)
				} else {
					r = append(r, b.CustomID)
				}
			case discordgo.SelectMenu:
				r = append(r, b.CustomID)
			}
		}
	}
	return r
}

func TestRenderAnnouncement(t *testing.T) {
	id := uuid.MustParse("d6ab3ce1-4f07-4b53-9d0b-0e1b5cfa2a4e")
	t0 := time.Unix(1717243200, 0)
	cases := []struct {
		name    string
		s       session.Session
		mention string
		link    string
		content string
		color   int
		ids     []string
	}{
		{
			name:    "waiting",
			s:       session.Session{ID: id, Kind: session.Shift, Host: "bocchi", State: session.Waiting, Created: t0},
			mention: "1",
			link:    "https://example.com/hotel",
			content: "<@&1>",
			color:   0x5865f2,
			ids: []string{
				"session:activate:" + id.String(),
				"session:end:" + id.String(),
				"https://example.com/hotel",
			},
		},
		{
			name:  "scheduled",
			s:     session.Session{ID: id, Kind: session.Training, Host: "bocchi", State: session.Scheduled, Slot: "evening", Created: t0},
			color: 0x5865f2,
			ids: []string{
				"session:confirm:" + id.String(),
				"session:cancel:" + id.String(),
			},
		},
		{
			name:  "active",
			s:     session.Session{ID: id, Kind: session.Shift, Host: "bocchi", State: session.Active, Created: t0, Started: t0},
			color: 0x57f287,
			ids: []string{
				"session:lock:" + id.String(),
				"session:end:" + id.String(),
			},
		},
		{
			name:  "locked",
			s:     session.Session{ID: id, Kind: session.Shift, Host: "bocchi", State: session.Locked, Created: t0, Started: t0, LockedAt: t0},
			color: 0xfee75c,
			ids: []string{
				"session:unlock:" + id.String(),
				"session:end:" + id.String(),
			},
		},
		{
			name:  "ended",
			s:     session.Session{ID: id, Kind: session.Shift, Host: "bocchi", State: session.Ended, Created: t0, EndedAt: t0, EndedBy: session.Automatic},
			link:  "https://example.com/hotel",
			color: 0xed4245,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			an := command.Announcement{
				Session: c.s,
				Plan:    session.Render(c.s, markup{}, session.DefaultRetention),
				Mention: c.mention,
				Link:    c.link,
			}
			content, embed, comps := renderAnnouncement(an)
			if content != c.content {
				t.Errorf("wrong content: want %q, got %q", c.content, content)
			}
			if embed.Color != c.color {
				t.Errorf("wrong color: want %#x, got %#x", c.color, embed.Color)
			}
			if embed.Footer == nil || embed.Footer.Text != id.String() {
				t.Errorf("footer should carry the session id: %+v", embed.Footer)
			}
			if comps == nil {
				t.Error("components must be non-nil to clear old buttons")
			}
			if diff := cmp.Diff(c.ids, buttonIDs(comps)); diff != "" {
				t.Errorf("wrong buttons (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSessionButtonsHaveOps(t *testing.T) {
	for _, b := range sessionButtons {
		if sessionOps[b.op] == nil {
			t.Errorf("button %s has no operation %q", b.label, b.op)
		}
	}
}

func TestMessageLink(t *testing.T) {
	cases := []struct {
		guild, ref, want string
	}{
		{"1", "2/3", "https://discord.com/channels/1/2/3"},
		{"", "2/3", ""},
		{"1", "3", ""},
	}
	for _, c := range cases {
		if got := messageLink(c.guild, c.ref); got != c.want {
			t.Errorf("messageLink(%q, %q): want %q, got %q", c.guild, c.ref, c.want, got)
		}
	}
}

func TestMarkup(t *testing.T) {
	var m markup
	if got := m.User("1"); got != "<@1>" {
		t.Errorf("wrong user: %q", got)
	}
	if got := m.User(session.Automatic); got != "automatic" {
		t.Errorf("wrong automatic user: %q", got)
	}
	if got := m.Relative(time.Unix(1717243200, 0)); got != "<t:1717243200:R>" {
		t.Errorf("wrong time: %q", got)
	}
}

func TestAllowRole(t *testing.T) {
	if m := allowRole(""); len(m.Roles) != 0 || len(m.Parse) != 0 {
		t.Errorf("empty role should allow nothing: %+v", m)
	}
	if m := allowRole("1"); !cmp.Equal(m.Roles, []string{"1"}) {
		t.Errorf("wrong roles: %v", m.Roles)
	}
}

func TestReportPrompt(t *testing.T) {
	id := uuid.MustParse("0b8ad1f7-5b45-4a8b-8a2a-7a4a1c0f2e11")
	cases := []struct {
		name string
		r    report.Report
		ids  []string
		has  string
	}{
		{
			name: "choosing",
			r:    report.Report{ID: id, Stage: report.Choosing},
			ids:  []string{"report:staff:" + id.String(), "report:guest:" + id.String(), "report:cancel:" + id.String()},
			has:  "Choose the type",
		},
		{
			name: "asking",
			r:    report.Report{ID: id, Kind: report.Staff, Stage: report.Asking},
			ids:  []string{"report:cancel:" + id.String()},
			has:  "username",
		},
		{
			name: "proving",
			r:    report.Report{ID: id, Kind: report.Guest, Stage: report.Proving, Proofs: []report.Proof{{URL: "a"}, {URL: "b"}}},
			ids:  []string{"report:done:" + id.String(), "report:cancel:" + id.String()},
			has:  "Proofs received: 2",
		},
		{
			name: "submitted",
			r:    report.Report{ID: id, Kind: report.Guest, Stage: report.Submitted},
			has:  "successfully",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			content, comps := reportPrompt(c.r)
			if !strings.Contains(content, c.has) {
				t.Errorf("content %q doesn't contain %q", content, c.has)
			}
			if comps == nil {
				t.Error("components must be non-nil")
			}
			if diff := cmp.Diff(c.ids, buttonIDs(comps)); diff != "" {
				t.Errorf("wrong buttons (-want +got):\n%s", diff)
			}
		})
	}
}

func TestReportEmbed(t *testing.T) {
	r := report.Report{
		ID:       uuid.New(),
		Reporter: "bocchi",
		Kind:     report.Guest,
		Answers: []report.Answer{
			{Question: report.Question{Label: "Username"}, Text: "kita"},
			{Question: report.Question{Label: "Reason"}, Text: strings.Repeat("x", 2000)},
		},
		Proofs: []report.Proof{
			{URL: "https://cdn.example/a.txt", Name: "a.txt", ContentType: "text/plain", Data: []byte("log")},
			{URL: "https://cdn.example/b.png", Name: "b.png", ContentType: "image/png", Data: []byte("png")},
			{URL: "https://cdn.example/c.png", Name: "c.png", ContentType: "image/png"},
			{URL: "https://example.com/clip"},
		},
	}
	files, links := proofFiles(r.Proofs)
	var fileNames []string
	for _, f := range files {
		fileNames = append(fileNames, f.Name)
	}
	if diff := cmp.Diff([]string{"a.txt", "b.png"}, fileNames); diff != "" {
		t.Errorf("wrong files (-want +got):\n%s", diff)
	}
	// A file that couldn't be fetched is still reported by its link.
	if diff := cmp.Diff([]string{"https://cdn.example/c.png", "https://example.com/clip"}, links); diff != "" {
		t.Errorf("wrong links (-want +got):\n%s", diff)
	}
	e := reportEmbed(r, files, links)
	if e.Image == nil || e.Image.URL != "attachment://b.png" {
		t.Errorf("first image not shown: %+v", e.Image)
	}
	var names []string
	for _, f := range e.Fields {
		names = append(names, f.Name)
		if len(f.Value) > 1024 {
			t.Errorf("field %s is too long: %d", f.Name, len(f.Value))
		}
	}
	if diff := cmp.Diff([]string{"Reporter", "Username", "Reason", "Proof"}, names); diff != "" {
		t.Errorf("wrong fields (-want +got):\n%s", diff)
	}
	if e.Fields[0].Value != "<@bocchi>" {
		t.Errorf("wrong reporter: %q", e.Fields[0].Value)
	}
	wantProof := "Attached: a.txt\nAttached: b.png\nhttps://cdn.example/c.png\nhttps://example.com/clip"
	if got := e.Fields[3].Value; got != wantProof {
		t.Errorf("wrong proof field:\nwant %q\ngot  %q", wantProof, got)
	}
}

func TestProofFilesLimit(t *testing.T) {
	var proofs []report.Proof
	for i := range maxProofFiles + 2 {
		proofs = append(proofs, report.Proof{URL: fmt.Sprintf("https://cdn.example/%d.png", i), Name: "p.png", Data: []byte{1}})
	}
	files, links := proofFiles(proofs)
	if len(files) != maxProofFiles || len(links) != 2 {
		t.Errorf("wrong split: %d files, %d links", len(files), len(links))
	}
}

func TestReportChannel(t *testing.T) {
	g := &guild.Guild{Reports: guild.Reports{Staff: "1", Guest: "2"}}
	if got := reportChannel(g, report.Staff); got != "1" {
		t.Errorf("wrong staff channel %q", got)
	}
	if got := reportChannel(g, report.Guest); got != "2" {
		t.Errorf("wrong guest channel %q", got)
	}
	if got := reportChannel(g, 0); got != "" {
		t.Errorf("unchosen kind has channel %q", got)
	}
}

func TestSuggestionMenu(t *testing.T) {
	s := suggest.Suggestion{
		Token: "tok",
		Categories: []guild.Category{
			{Name: "bot", Label: "Bot", Channel: "1"},
			{Name: "hotel", Label: "Hotel", Channel: "2"},
		},
	}
	comps := suggestionMenu(s)
	if diff := cmp.Diff([]string{"suggest:tok"}, buttonIDs(comps)); diff != "" {
		t.Errorf("wrong menu id (-want +got):\n%s", diff)
	}
	menu := comps[0].(discordgo.ActionsRow).Components[0].(discordgo.SelectMenu)
	var vals []string
	for _, o := range menu.Options {
		vals = append(vals, o.Value)
	}
	if diff := cmp.Diff([]string{"bot", "hotel", suggest.CancelChoice}, vals); diff != "" {
		t.Errorf("wrong options (-want +got):\n%s", diff)
	}
}

func TestTruncate(t *testing.T) {
	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"hotel", 10, "hotel"},
		{"hotel", 3, "hot"},
		{"ホテル", 4, "ホ"},
		{"ホテル", 2, ""},
	}
	for _, c := range cases {
		if got := truncate(c.in, c.n); got != c.want {
			t.Errorf("truncate(%q, %d): want %q, got %q", c.in, c.n, c.want, got)
		}
	}
}
