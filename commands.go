package main

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/vinns/concierge/command"
)

// textCommand is a command invoked by a prefixed chat message.
type textCommand struct {
	// parse matches the text after the prefix. Named groups become
	// arguments.
	parse *regexp.Regexp
	// fn is the command to run. It is nil for commands handled by the
	// Discord layer directly.
	fn command.Func
	// name identifies the command.
	name string
	// args are fixed arguments added to every invocation.
	args map[string]string
}

// parseCommand returns the text following prefix if text is a command.
func parseCommand(prefix, text string) (string, bool) {
	text = strings.TrimSpace(text)
	if prefix == "" || !strings.HasPrefix(text, prefix) {
		return "", false
	}
	text = text[len(prefix):]
	r, _ := utf8.DecodeRuneInString(text)
	if !unicode.IsLetter(r) {
		// A bare prefix or something like "--" or "- shift".
		return "", false
	}
	return text, true
}

func findCommand(cmds []textCommand, text string) (*textCommand, map[string]string) {
	for i := range cmds {
		c := &cmds[i]
		u := c.parse.FindStringSubmatch(text)
		if len(u) == 0 {
			continue
		}
		m := make(map[string]string, len(u)-1+len(c.args))
		s := c.parse.SubexpNames()
		for k, v := range u[1:] {
			if s[k+1] != "" {
				m[s[k+1]] = v
			}
		}
		for k, v := range c.args {
			m[k] = v
		}
		return c, m
	}
	return nil, nil
}

// Names of commands handled outside the command package.
const (
	cmdReport  = "report"
	cmdSuggest = "suggest"
	cmdCancel  = "cancel"
)

var textCommands = []textCommand{
	{
		parse: regexp.MustCompile(`^(?i:shift|s)(?:\s+(?<slot>\S.*?))?\s*$`),
		fn:    command.Start,
		name:  "shift",
		args:  map[string]string{"kind": "shift"},
	},
	{
		parse: regexp.MustCompile(`^(?i:training|train)(?:\s+(?<slot>\S.*?))?\s*$`),
		fn:    command.Start,
		name:  "training",
		args:  map[string]string{"kind": "training"},
	},
	{
		parse: regexp.MustCompile(`^(?i:endshift|es)(?:\s+(?<message>\d+))?\s*$`),
		fn:    command.EndByMessage,
		name:  "endshift",
		args:  map[string]string{"kind": "shift"},
	},
	{
		parse: regexp.MustCompile(`^(?i:endtraining|et)(?:\s+(?<message>\d+))?\s*$`),
		fn:    command.EndByMessage,
		name:  "endtraining",
		args:  map[string]string{"kind": "training"},
	},
	{
		parse: regexp.MustCompile(`^(?i:shiftchannel)(?:\s+(?<channel><#\d+>|\d+))?\s*$`),
		fn:    command.SetChannel,
		name:  "shiftchannel",
		args:  map[string]string{"kind": "shift"},
	},
	{
		parse: regexp.MustCompile(`^(?i:shiftmention)(?:\s+(?<role><@&\d+>|\d+))?\s*$`),
		fn:    command.SetMention,
		name:  "shiftmention",
		args:  map[string]string{"kind": "shift"},
	},
	{
		parse: regexp.MustCompile(`^(?i:trainingchannel)(?:\s+(?<channel><#\d+>|\d+))?\s*$`),
		fn:    command.SetChannel,
		name:  "trainingchannel",
		args:  map[string]string{"kind": "training"},
	},
	{
		parse: regexp.MustCompile(`^(?i:trainingmention)(?:\s+(?<role><@&\d+>|\d+))?\s*$`),
		fn:    command.SetMention,
		name:  "trainingmention",
		args:  map[string]string{"kind": "training"},
	},
	{
		parse: regexp.MustCompile(`^(?i:trainingconfig|config)\s*$`),
		fn:    command.ShowConfig,
		name:  "config",
	},
	{
		parse: regexp.MustCompile(`^(?i:report)\s*$`),
		name:  cmdReport,
	},
	{
		parse: regexp.MustCompile(`^(?i:suggest)\s+(?<text>(?s:.+))$`),
		name:  cmdSuggest,
	},
	{
		parse: regexp.MustCompile(`^(?i:cancel)\s*$`),
		name:  cmdCancel,
	},
}
