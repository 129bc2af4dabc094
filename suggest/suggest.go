// Package suggest routes member suggestions to per-category channels.
package suggest

import (
	"cmp"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vinns/concierge/guild"
	"github.com/vinns/concierge/timer"
)

// Timeout is how long an author has to choose a category.
const Timeout = 60 * time.Second

// CancelChoice is the menu value that withdraws a suggestion.
const CancelChoice = "cancel"

var (
	// ErrEmpty means the suggestion has no text.
	ErrEmpty = errors.New("empty suggestion")
	// ErrNoCategories means the server has no suggestion categories.
	ErrNoCategories = errors.New("no suggestion categories")
	// ErrNotAuthor means someone other than the author tried to choose.
	ErrNotAuthor = errors.New("only the author may choose")
	// ErrExpired means the menu timed out or was already used.
	ErrExpired = errors.New("suggestion menu expired")
	// ErrUnknownCategory means the choice names no category.
	ErrUnknownCategory = errors.New("unknown category")
)

// Suggestion is a pending or routed suggestion.
type Suggestion struct {
	// Token identifies the suggestion's category menu.
	Token   string
	Guild   string
	Channel string
	Author  string
	Text    string
	Opened  time.Time
	// Categories is the menu offered to the author, excluding cancel.
	Categories []guild.Category
	// Chosen is the category the suggestion was routed to.
	Chosen guild.Category
	// Cancelled is set when the author withdrew the suggestion.
	Cancelled bool
	// Prompt is an opaque reference to the message showing the menu.
	Prompt string
}

// Confirmation is the text shown to the author once the suggestion is
// routed or cancelled.
func (s *Suggestion) Confirmation() string {
	if s.Cancelled {
		return "❌ | Command cancelled."
	}
	return "✅ | Successfully sent your suggestion to <#" + s.Chosen.Channel + ">"
}

// Options configures a Box.
type Options struct {
	// Clock is the time source. Defaults to time.Now.
	Clock func() time.Time
	// Expired, if not nil, receives suggestions whose menus time out.
	Expired func(Suggestion)
	// Timeout defaults to Timeout.
	Timeout time.Duration
}

// Box holds suggestions awaiting a category.
type Box struct {
	mu     sync.Mutex
	open   map[string]*Suggestion
	timers timer.Set[string]
	opts   Options
}

func NewBox(opts Options) *Box {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	opts.Timeout = cmp.Or(opts.Timeout, Timeout)
	return &Box{
		open: make(map[string]*Suggestion),
		opts: opts,
	}
}

// Open holds a suggestion until its author picks one of cats.
func (b *Box) Open(guild, channel, author, text string, cats []guild.Category) (Suggestion, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Suggestion{}, ErrEmpty
	}
	if len(cats) == 0 {
		return Suggestion{}, ErrNoCategories
	}
	s := &Suggestion{
		Token:      uuid.NewString(),
		Guild:      guild,
		Channel:    channel,
		Author:     author,
		Text:       text,
		Opened:     b.opts.Clock(),
		Categories: cats,
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.open[s.Token] = s
	tok := s.Token
	b.timers.After(tok, b.opts.Timeout, func() { b.expire(tok) })
	return *s, nil
}

func (b *Box) expire(tok string) {
	b.mu.Lock()
	s := b.open[tok]
	delete(b.open, tok)
	b.mu.Unlock()
	if s != nil && b.opts.Expired != nil {
		b.opts.Expired(*s)
	}
}

// Attach records the reference of the message showing a suggestion's menu.
func (b *Box) Attach(token, ref string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s := b.open[token]; s != nil {
		s.Prompt = ref
	}
}

// Choose applies user's menu choice to a suggestion. Choosing CancelChoice
// withdraws it. Either way the menu is spent.
func (b *Box) Choose(token, user, choice string) (Suggestion, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.open[token]
	if s == nil || b.opts.Clock().Sub(s.Opened) >= b.opts.Timeout {
		return Suggestion{}, ErrExpired
	}
	if user != s.Author {
		return Suggestion{}, ErrNotAuthor
	}
	if strings.EqualFold(choice, CancelChoice) {
		s.Cancelled = true
	} else {
		g := guild.Guild{Categories: s.Categories}
		c, ok := g.Category(choice)
		if !ok {
			return Suggestion{}, ErrUnknownCategory
		}
		s.Chosen = c
	}
	delete(b.open, token)
	b.timers.Cancel(token)
	return *s, nil
}

// Len returns the number of suggestions awaiting a category.
func (b *Box) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.open)
}

// Close cancels all pending timeouts.
func (b *Box) Close() {
	b.timers.Stop()
}
