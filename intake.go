package main

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"

	"github.com/vinns/concierge/guild"
	"github.com/vinns/concierge/message"
	"github.com/vinns/concierge/report"
	"github.com/vinns/concierge/suggest"
)

type replyFunc = func(ctx context.Context, m message.Sent)

// cooldown checks a user's cooldown for an action, telling them how long to
// wait if they can't do it yet.
func cooldown(ctx context.Context, g *guild.Guild, msg *message.Received, action string, reply replyFunc) bool {
	d, ok := g.Cooldown.Use(action+"/"+msg.Sender, time.Now())
	if !ok {
		reply(ctx, message.Format(msg.ID, msg.To, "Please wait %s before doing that again.", d.Round(time.Second)).AsPrivate())
	}
	return ok
}

// editPrompt replaces the content and controls of a flow's prompt message.
func (robo *Robot) editPrompt(ctx context.Context, ref, content string, comps []discordgo.MessageComponent) {
	ch, id, ok := strings.Cut(ref, "/")
	if !ok {
		return
	}
	_, err := robo.dg.ChannelMessageEditComplex(&discordgo.MessageEdit{
		ID:              id,
		Channel:         ch,
		Content:         &content,
		Components:      &comps,
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}, discordgo.WithContext(ctx))
	if err != nil {
		slog.ErrorContext(ctx, "couldn't edit prompt", slog.Any("err", err), slog.String("ref", ref))
	}
}

// sendPrompt posts a flow's prompt message and returns its reference.
func (robo *Robot) sendPrompt(ctx context.Context, channel, content string, comps []discordgo.MessageComponent) (string, error) {
	m, err := robo.dg.ChannelMessageSendComplex(channel, &discordgo.MessageSend{
		Content:         content,
		Components:      comps,
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", err
	}
	return channel + "/" + m.ID, nil
}

func button(label string, style discordgo.ButtonStyle, id string) discordgo.MessageComponent {
	return discordgo.Button{Label: label, Style: style, CustomID: id}
}

// reportPrompt lays out the prompt for a report's current step.
func reportPrompt(r report.Report) (string, []discordgo.MessageComponent) {
	id := r.ID.String()
	cancel := button("Cancel", discordgo.DangerButton, "report:cancel:"+id)
	var row []discordgo.MessageComponent
	content := r.Next()
	switch r.Stage {
	case report.Choosing:
		row = []discordgo.MessageComponent{
			button("Staff Report", discordgo.PrimaryButton, "report:staff:"+id),
			button("Guest Report", discordgo.PrimaryButton, "report:guest:"+id),
			cancel,
		}
	case report.Asking:
		row = []discordgo.MessageComponent{cancel}
	case report.Proving:
		content += fmt.Sprintf("\n\nProofs received: %d", len(r.Proofs))
		row = []discordgo.MessageComponent{
			button("Done", discordgo.SuccessButton, "report:done:"+id),
			cancel,
		}
	}
	comps := []discordgo.MessageComponent{}
	if len(row) != 0 {
		comps = append(comps, discordgo.ActionsRow{Components: row})
	}
	return content, comps
}

func (robo *Robot) showReport(ctx context.Context, r report.Report) {
	if r.Prompt == "" {
		return
	}
	content, comps := reportPrompt(r)
	robo.editPrompt(ctx, r.Prompt, content, comps)
}

// openReport starts the report flow for the sender of msg.
func (robo *Robot) openReport(ctx context.Context, g *guild.Guild, msg *message.Received, reply replyFunc) {
	count(robo.metrics.CommandCount, "report")
	if !cooldown(ctx, g, msg, "report", reply) {
		return
	}
	r, err := robo.reports.Open(g.ID, msg.To, msg.Sender)
	if err != nil {
		reply(ctx, message.Format(msg.ID, msg.To, "You already have a report open here. Say cancel to stop it.").AsPrivate())
		return
	}
	content, comps := reportPrompt(r)
	ref, err := robo.sendPrompt(ctx, msg.To, "<@"+msg.Sender+"> "+content, comps)
	if err != nil {
		slog.ErrorContext(ctx, "couldn't send report prompt", slog.Any("err", err), slog.String("channel", msg.To))
		robo.reports.Cancel(msg.To, msg.Sender)
		reply(ctx, message.Format(msg.ID, msg.To, "I couldn't start the report.").AsPrivate())
		return
	}
	robo.reports.Attach(msg.To, msg.Sender, ref)
	slog.InfoContext(ctx, "report opened", slog.String("report", r.ID.String()), slog.String("in", g.ID), slog.String("reporter", msg.Sender))
}

// reportMessage handles a chat message from a user with an open report.
func (robo *Robot) reportMessage(ctx context.Context, g *guild.Guild, msg *message.Received, r report.Report, reply replyFunc) {
	var err error
	switch {
	case report.IsCancel(msg.Text, robo.prefix):
		r, err = robo.reports.Cancel(msg.To, msg.Sender)
	case r.Stage == report.Asking:
		r, err = robo.reports.Answer(msg.To, msg.Sender, msg.Text)
		if err == nil {
			robo.deleteMessage(ctx, msg)
		}
	case r.Stage == report.Proving:
		// Files must be fetched before their message is deleted.
		files := robo.fetchProofs(ctx, msg.Attachments, uploadLimit-stored(r.Proofs))
		var n int
		r, n, err = robo.reports.Prove(msg.To, msg.Sender, msg.Text, files)
		if err == nil && n == 0 {
			reply(ctx, message.Format(msg.ID, msg.To, "Please upload a file or send a link, or press Done when finished."))
			return
		}
		if err == nil {
			robo.deleteMessage(ctx, msg)
		}
	default:
		// Choosing happens with buttons.
		return
	}
	if err != nil {
		robo.reportError(ctx, msg, err, reply)
		return
	}
	robo.showReport(ctx, r)
}

// reportComponent handles a button press on a report prompt.
func (robo *Robot) reportComponent(ctx context.Context, g *guild.Guild, msg *message.Received, data string, reply replyFunc) {
	action, id, _ := strings.Cut(data, ":")
	r, ok := robo.reports.Get(msg.To, msg.Sender)
	if !ok || r.ID.String() != id {
		reply(ctx, message.Format(msg.ID, msg.To, "This isn't your report.").AsPrivate())
		return
	}
	var err error
	switch action {
	case "staff":
		r, err = robo.reports.Choose(msg.To, msg.Sender, report.Staff)
	case "guest":
		r, err = robo.reports.Choose(msg.To, msg.Sender, report.Guest)
	case "cancel":
		r, err = robo.reports.Cancel(msg.To, msg.Sender)
	case "done":
		if reportChannel(g, r.Kind) == "" {
			reply(ctx, message.Format(msg.ID, msg.To, "This server has nowhere to send %s reports.", r.Kind).AsPrivate())
			return
		}
		r, err = robo.reports.Finish(msg.To, msg.Sender)
		if err == nil {
			robo.deliverReport(ctx, g, msg, r, reply)
		}
	default:
		return
	}
	if err != nil {
		robo.reportError(ctx, msg, err, reply)
		return
	}
	robo.showReport(ctx, r)
}

func (robo *Robot) reportError(ctx context.Context, msg *message.Received, err error, reply replyFunc) {
	var text string
	switch {
	case errors.Is(err, report.ErrNoProof):
		text = "Please provide at least one proof before finishing."
	case errors.Is(err, report.ErrEmpty):
		text = "Please answer the question."
	case errors.Is(err, report.ErrNoReport):
		text = "You have no report open here."
	case errors.Is(err, report.ErrWrongStage):
		text = "That doesn't apply right now."
	default:
		slog.ErrorContext(ctx, "report failed", slog.Any("err", err))
		text = "Something went wrong."
	}
	reply(ctx, message.Format(msg.ID, msg.To, "%s", text).AsPrivate())
}

func reportChannel(g *guild.Guild, k report.Kind) string {
	switch k {
	case report.Staff:
		return g.Reports.Staff
	case report.Guest:
		return g.Reports.Guest
	default:
		return ""
	}
}

// deleteMessage removes a reporter's message once the desk has its content,
// so answers and proof don't stay in the channel where the report was made.
func (robo *Robot) deleteMessage(ctx context.Context, msg *message.Received) {
	if err := robo.dg.ChannelMessageDelete(msg.To, msg.ID, discordgo.WithContext(ctx)); err != nil {
		slog.WarnContext(ctx, "couldn't delete report message", slog.Any("err", err), slog.String("channel", msg.To), slog.String("message", msg.ID))
	}
}

const (
	// uploadLimit is the total size of files Discord accepts in one message.
	uploadLimit = 10 << 20
	// maxProofFiles is the number of files Discord accepts in one message.
	maxProofFiles = 10
)

// stored returns the number of bytes of proof files already held.
func stored(proofs []report.Proof) int {
	n := 0
	for _, p := range proofs {
		n += len(p.Data)
	}
	return n
}

// fetchProofs downloads attachments as proof while they can still be
// fetched. Files that fail or don't fit in budget bytes are kept as links.
func (robo *Robot) fetchProofs(ctx context.Context, atts []message.Attachment, budget int) []report.Proof {
	var r []report.Proof
	for _, a := range atts {
		p := report.Proof{URL: a.URL, Name: cmp.Or(a.Name, "proof"), ContentType: a.ContentType}
		if a.Size <= budget {
			b, err := download(ctx, robo.dg.Client, a.URL, budget)
			if err != nil {
				slog.WarnContext(ctx, "couldn't fetch proof", slog.Any("err", err), slog.String("url", a.URL))
			} else {
				p.Data = b
				budget -= len(b)
			}
		}
		r = append(r, p)
	}
	return r
}

var errTooLarge = errors.New("file too large")

// download fetches the file at url, failing if it is larger than limit bytes.
func download(ctx context.Context, client *http.Client, url string, limit int) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("couldn't make request for %s: %w", url, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("couldn't download %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("couldn't download %s: %s", url, resp.Status)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, int64(limit)+1))
	if err != nil {
		return nil, fmt.Errorf("couldn't read %s: %w", url, err)
	}
	if len(b) > limit {
		return nil, errTooLarge
	}
	return b, nil
}

// proofFiles splits a report's proof into files to upload and links.
func proofFiles(proofs []report.Proof) (files []*discordgo.File, links []string) {
	for _, p := range proofs {
		if p.Data == nil || len(files) >= maxProofFiles {
			links = append(links, p.URL)
			continue
		}
		files = append(files, &discordgo.File{
			Name:        p.Name,
			ContentType: p.ContentType,
			Reader:      bytes.NewReader(p.Data),
		})
	}
	return files, links
}

// reportEmbed lays out a submitted report for its destination channel.
// Uploaded files are listed by name and the first image is shown.
func reportEmbed(r report.Report, files []*discordgo.File, links []string) *discordgo.MessageEmbed {
	e := &discordgo.MessageEmbed{
		Title:     r.Kind.Title(),
		Color:     0xed4245,
		Timestamp: r.Opened.UTC().Format(time.RFC3339),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Reporter", Value: "<@" + r.Reporter + ">"},
		},
		Footer: &discordgo.MessageEmbedFooter{Text: r.ID.String()},
	}
	for _, a := range r.Answers {
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{Name: a.Label, Value: truncate(a.Text, 1024)})
	}
	var proof []string
	for _, f := range files {
		proof = append(proof, "Attached: "+f.Name)
		if e.Image == nil && strings.HasPrefix(f.ContentType, "image/") {
			e.Image = &discordgo.MessageEmbedImage{URL: "attachment://" + f.Name}
		}
	}
	proof = append(proof, links...)
	e.Fields = append(e.Fields, &discordgo.MessageEmbedField{Name: "Proof", Value: truncate(strings.Join(proof, "\n"), 1024)})
	return e
}

func (robo *Robot) deliverReport(ctx context.Context, g *guild.Guild, msg *message.Received, r report.Report, reply replyFunc) {
	ch := reportChannel(g, r.Kind)
	files, links := proofFiles(r.Proofs)
	_, err := robo.dg.ChannelMessageSendComplex(ch, &discordgo.MessageSend{
		Embeds:          []*discordgo.MessageEmbed{reportEmbed(r, files, links)},
		Files:           files,
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}, discordgo.WithContext(ctx))
	if err != nil {
		slog.ErrorContext(ctx, "couldn't deliver report", slog.Any("err", err), slog.String("report", r.ID.String()), slog.String("channel", ch))
		reply(ctx, message.Format(msg.ID, msg.To, "I couldn't deliver your report. Please tell a staff member.").AsPrivate())
		return
	}
	count(robo.metrics.ReportsSent, r.Kind.String())
	slog.InfoContext(ctx, "report submitted", slog.String("report", r.ID.String()), slog.String("in", g.ID), slog.String("kind", r.Kind.String()))
}

// reportExpired shows that a report timed out.
func (robo *Robot) reportExpired(ctx context.Context, r report.Report) {
	slog.InfoContext(ctx, "report timed out", slog.String("report", r.ID.String()), slog.String("in", r.Guild))
	robo.showReport(ctx, r)
}

// suggestionMenu lays out the category menu for a suggestion.
func suggestionMenu(s suggest.Suggestion) []discordgo.MessageComponent {
	opts := make([]discordgo.SelectMenuOption, 0, len(s.Categories)+1)
	for _, c := range s.Categories {
		opts = append(opts, discordgo.SelectMenuOption{Label: c.Label, Value: c.Name})
	}
	opts = append(opts, discordgo.SelectMenuOption{Label: "Cancel", Value: suggest.CancelChoice})
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.SelectMenu{
					MenuType:    discordgo.StringSelectMenu,
					CustomID:    "suggest:" + s.Token,
					Placeholder: "Choose a category",
					Options:     opts,
				},
			},
		},
	}
}

// openSuggestion holds a suggestion and asks its author for a category.
func (robo *Robot) openSuggestion(ctx context.Context, g *guild.Guild, msg *message.Received, text string, reply replyFunc) {
	count(robo.metrics.CommandCount, "suggest")
	if !cooldown(ctx, g, msg, "suggest", reply) {
		return
	}
	s, err := robo.suggestions.Open(g.ID, msg.To, msg.Sender, text, g.Categories)
	switch {
	case errors.Is(err, suggest.ErrEmpty):
		reply(ctx, message.Format(msg.ID, msg.To, "Please include your suggestion.").AsPrivate())
		return
	case errors.Is(err, suggest.ErrNoCategories):
		reply(ctx, message.Format(msg.ID, msg.To, "This server doesn't take suggestions.").AsPrivate())
		return
	case err != nil:
		slog.ErrorContext(ctx, "couldn't open suggestion", slog.Any("err", err))
		return
	}
	ref, err := robo.sendPrompt(ctx, msg.To, "<@"+msg.Sender+"> **Choose a category for your suggestion:**", suggestionMenu(s))
	if err != nil {
		slog.ErrorContext(ctx, "couldn't send suggestion menu", slog.Any("err", err), slog.String("channel", msg.To))
		reply(ctx, message.Format(msg.ID, msg.To, "I couldn't take your suggestion.").AsPrivate())
		return
	}
	robo.suggestions.Attach(s.Token, ref)
}

// suggestComponent handles a choice from a suggestion's category menu.
func (robo *Robot) suggestComponent(ctx context.Context, g *guild.Guild, msg *message.Received, token string, values []string, reply replyFunc) {
	if len(values) == 0 {
		return
	}
	s, err := robo.suggestions.Choose(token, msg.Sender, values[0])
	switch {
	case errors.Is(err, suggest.ErrNotAuthor):
		reply(ctx, message.Format(msg.ID, msg.To, "Only the author of this suggestion can choose its category.").AsPrivate())
		return
	case errors.Is(err, suggest.ErrExpired):
		reply(ctx, message.Format(msg.ID, msg.To, "This menu has expired.").AsPrivate())
		return
	case errors.Is(err, suggest.ErrUnknownCategory):
		reply(ctx, message.Format(msg.ID, msg.To, "I don't know that category.").AsPrivate())
		return
	case err != nil:
		slog.ErrorContext(ctx, "couldn't choose suggestion category", slog.Any("err", err))
		return
	}
	if !s.Cancelled {
		_, err := robo.dg.ChannelMessageSendComplex(s.Chosen.Channel, &discordgo.MessageSend{
			Embeds:          []*discordgo.MessageEmbed{suggestionEmbed(s, msg.Name)},
			AllowedMentions: &discordgo.MessageAllowedMentions{},
		}, discordgo.WithContext(ctx))
		if err != nil {
			slog.ErrorContext(ctx, "couldn't route suggestion", slog.Any("err", err), slog.String("channel", s.Chosen.Channel))
			reply(ctx, message.Format(msg.ID, msg.To, "I couldn't send your suggestion.").AsPrivate())
			return
		}
		count(robo.metrics.SuggestionsSent, s.Chosen.Name)
		slog.InfoContext(ctx, "suggestion routed", slog.String("in", g.ID), slog.String("category", s.Chosen.Name))
	}
	robo.editPrompt(ctx, s.Prompt, s.Confirmation(), []discordgo.MessageComponent{})
}

// suggestionEmbed lays out a routed suggestion.
func suggestionEmbed(s suggest.Suggestion, author string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "Suggestion",
		Description: truncate(s.Text, 4096),
		Color:       0x5865f2,
		Author:      &discordgo.MessageEmbedAuthor{Name: author},
		Fields: []*discordgo.MessageEmbedField{
			{Name: "From", Value: "<@" + s.Author + ">", Inline: true},
			{Name: "Category", Value: s.Chosen.Label, Inline: true},
		},
		Timestamp: s.Opened.UTC().Format(time.RFC3339),
	}
}

// suggestionExpired shows that a suggestion's menu timed out.
func (robo *Robot) suggestionExpired(ctx context.Context, s suggest.Suggestion) {
	if s.Prompt == "" {
		return
	}
	robo.editPrompt(ctx, s.Prompt, "❌ | You took too long! Command cancelled", []discordgo.MessageComponent{})
}

// truncate shortens s to at most n bytes without splitting a code point.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
