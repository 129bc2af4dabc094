// Package report runs the interactive report intake flow.
//
// A reporter opens a report, chooses whether it concerns staff or a guest,
// answers a fixed list of questions, and then submits proofs until they
// finish or cancel. Each step has its own deadline; a reporter who misses one
// loses the report.
package report

import (
	"cmp"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/vinns/concierge/timer"
)

// Timeouts for each step of the flow.
const (
	ChooseTimeout = 20 * time.Second
	AnswerTimeout = 120 * time.Second
	ProofTimeout  = 10 * time.Minute
)

var (
	// ErrInProgress means the reporter already has a report open in the
	// channel.
	ErrInProgress = errors.New("report already in progress")
	// ErrNoReport means the reporter has no report open in the channel.
	ErrNoReport = errors.New("no report in progress")
	// ErrWrongStage means the action doesn't apply to the report's current
	// step.
	ErrWrongStage = errors.New("wrong step for that")
	// ErrNoProof means the reporter tried to finish without any proof.
	ErrNoProof = errors.New("no proof provided")
	// ErrEmpty means the reporter answered with nothing.
	ErrEmpty = errors.New("empty answer")
)

// Kind is whom a report concerns.
type Kind int

const (
	Staff Kind = iota + 1
	Guest
)

func (k Kind) String() string {
	switch k {
	case Staff:
		return "staff"
	case Guest:
		return "guest"
	default:
		return "unknown"
	}
}

// Title returns the display name of the kind.
func (k Kind) Title() string {
	switch k {
	case Staff:
		return "Staff Report"
	case Guest:
		return "Guest Report"
	default:
		return "Report"
	}
}

// Stage is a step of the flow.
type Stage int

const (
	Choosing Stage = iota + 1
	Asking
	Proving
	Submitted
	Cancelled
	TimedOut
)

// Question is one question asked of the reporter.
type Question struct {
	// Label is the short name used when the report is delivered.
	Label string
	// Prompt is the question as asked.
	Prompt string
}

var questions = map[Kind][]Question{
	Staff: {
		{Label: "Username", Prompt: "What is the username of the user you're reporting?"},
		{Label: "Rank", Prompt: "What is the rank of the suspect?"},
		{Label: "Reason", Prompt: "What is the reason for this report?"},
	},
	Guest: {
		{Label: "Username", Prompt: "What is the username of the user you're reporting?"},
		{Label: "Reason", Prompt: "What is the reason for this report?"},
	},
}

// Questions returns the questions asked for a kind of report.
func Questions(k Kind) []Question {
	return questions[k]
}

// ProofPrompt is the instruction shown during the proof step.
const ProofPrompt = "Please provide proof of this happening. You can upload a video/image or use a link to an image or video. You can upload multiple files. Press Done when finished. You have 10 minutes."

// Answer is a reporter's answer to a question.
type Answer struct {
	Question
	Text string
}

// Proof is one piece of evidence for a report: an uploaded file or a link.
type Proof struct {
	// URL is where the proof was found.
	URL string
	// Name and ContentType describe an uploaded file. Name is empty for links.
	Name        string
	ContentType string
	// Data is the content of an uploaded file, fetched while its message
	// still existed. It is nil for links and for files that couldn't be
	// fetched.
	Data []byte
}

// Report is a snapshot of a report.
type Report struct {
	ID       uuid.UUID
	Guild    string
	Channel  string
	Reporter string
	Kind     Kind
	Stage    Stage
	Answers  []Answer
	Proofs   []Proof
	Opened   time.Time
	// Prompt is an opaque reference to the message showing the flow.
	Prompt string
}

// Next describes what to show the reporter for the report's current step.
func (r *Report) Next() string {
	switch r.Stage {
	case Choosing:
		return "**Choose the type of your report:**\nStaff Report\nGuest Report\nCancel"
	case Asking:
		qs := questions[r.Kind]
		return "**" + r.Kind.Title() + "**\n" + qs[len(r.Answers)].Prompt
	case Proving:
		return "**" + r.Kind.Title() + "**\n" + ProofPrompt
	case Submitted:
		return "✅ | The report has successfully been sent!"
	case Cancelled:
		return "❌ | Cancelled report"
	case TimedOut:
		return "❌ | You took too long! Command cancelled"
	default:
		return ""
	}
}

type key struct {
	channel string
	user    string
}

// Options configures a Desk.
type Options struct {
	// Clock is the time source. Defaults to time.Now.
	Clock func() time.Time
	// Expired, if not nil, is called with each report that times out, after
	// the report is discarded.
	Expired func(Report)
	// Choose, Answer, and Proof are the deadlines for each step.
	// They default to ChooseTimeout, AnswerTimeout, and ProofTimeout.
	Choose, Answer, Proof time.Duration
}

// Desk tracks open reports.
type Desk struct {
	mu     sync.Mutex
	open   map[key]*Report
	timers timer.Set[key]
	opts   Options
}

// NewDesk creates a report desk.
func NewDesk(opts Options) *Desk {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	opts.Choose = cmp.Or(opts.Choose, ChooseTimeout)
	opts.Answer = cmp.Or(opts.Answer, AnswerTimeout)
	opts.Proof = cmp.Or(opts.Proof, ProofTimeout)
	return &Desk{
		open: make(map[key]*Report),
		opts: opts,
	}
}

// Open opens a report for a reporter in a channel.
func (d *Desk) Open(guild, channel, user string) (Report, error) {
	k := key{channel, user}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.open[k]; ok {
		return Report{}, ErrInProgress
	}
	r := &Report{
		ID:       uuid.New(),
		Guild:    guild,
		Channel:  channel,
		Reporter: user,
		Stage:    Choosing,
		Opened:   d.opts.Clock(),
	}
	d.open[k] = r
	d.deadline(k, r.ID, d.opts.Choose)
	return *r, nil
}

// deadline arranges for the report under k to time out after dur unless it
// moves to another step first. The desk's lock must be held.
func (d *Desk) deadline(k key, id uuid.UUID, dur time.Duration) {
	d.timers.After(k, dur, func() { d.timeout(k, id) })
}

func (d *Desk) timeout(k key, id uuid.UUID) {
	d.mu.Lock()
	r := d.open[k]
	if r == nil || r.ID != id {
		d.mu.Unlock()
		return
	}
	delete(d.open, k)
	r.Stage = TimedOut
	s := *r
	d.mu.Unlock()
	if d.opts.Expired != nil {
		d.opts.Expired(s)
	}
}

// Attach records the reference of the message showing a report's flow.
func (d *Desk) Attach(channel, user, ref string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r := d.open[key{channel, user}]; r != nil {
		r.Prompt = ref
	}
}

// Get returns the reporter's open report in a channel.
func (d *Desk) Get(channel, user string) (Report, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r := d.open[key{channel, user}]
	if r == nil {
		return Report{}, false
	}
	return r.snapshot(), true
}

func (r *Report) snapshot() Report {
	s := *r
	s.Answers = append([]Answer(nil), r.Answers...)
	s.Proofs = append([]Proof(nil), r.Proofs...)
	return s
}

// Choose sets the kind of a report and moves to the first question.
func (d *Desk) Choose(channel, user string, kind Kind) (Report, error) {
	k := key{channel, user}
	d.mu.Lock()
	defer d.mu.Unlock()
	r := d.open[k]
	if r == nil {
		return Report{}, ErrNoReport
	}
	if r.Stage != Choosing || questions[kind] == nil {
		return Report{}, ErrWrongStage
	}
	r.Kind = kind
	r.Stage = Asking
	d.deadline(k, r.ID, d.opts.Answer)
	return r.snapshot(), nil
}

// IsCancel reports whether a message's text asks to cancel the report.
func IsCancel(text, prefix string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	return t == "cancel" || (prefix != "" && t == prefix+"cancel")
}

// Answer records the answer to the current question. After the last
// question, the report moves to the proof step.
func (d *Desk) Answer(channel, user, text string) (Report, error) {
	text = strings.TrimSpace(norm.NFC.String(text))
	if text == "" {
		return Report{}, ErrEmpty
	}
	k := key{channel, user}
	d.mu.Lock()
	defer d.mu.Unlock()
	r := d.open[k]
	if r == nil {
		return Report{}, ErrNoReport
	}
	if r.Stage != Asking {
		return Report{}, ErrWrongStage
	}
	qs := questions[r.Kind]
	r.Answers = append(r.Answers, Answer{Question: qs[len(r.Answers)], Text: text})
	if len(r.Answers) < len(qs) {
		d.deadline(k, r.ID, d.opts.Answer)
	} else {
		r.Stage = Proving
		d.deadline(k, r.ID, d.opts.Proof)
	}
	return r.snapshot(), nil
}

// Prove adds proof from a reporter's message: its files and any links in its
// text. It reports how many proofs were added. Adding any proof restarts the
// deadline for the proof step.
func (d *Desk) Prove(channel, user, text string, files []Proof) (Report, int, error) {
	p := append([]Proof(nil), files...)
	for _, l := range Links(text) {
		p = append(p, Proof{URL: l})
	}
	k := key{channel, user}
	d.mu.Lock()
	defer d.mu.Unlock()
	r := d.open[k]
	if r == nil {
		return Report{}, 0, ErrNoReport
	}
	if r.Stage != Proving {
		return Report{}, 0, ErrWrongStage
	}
	if len(p) != 0 {
		r.Proofs = append(r.Proofs, p...)
		d.deadline(k, r.ID, d.opts.Proof)
	}
	return r.snapshot(), len(p), nil
}

// Links returns the http and https links in text.
func Links(text string) []string {
	var r []string
	for _, w := range strings.Fields(text) {
		w = strings.Trim(w, "<>()")
		if strings.HasPrefix(w, "https://") || strings.HasPrefix(w, "http://") {
			r = append(r, w)
		}
	}
	return r
}

// Finish submits a report in the proof step. The report is removed from the
// desk; the caller delivers it.
func (d *Desk) Finish(channel, user string) (Report, error) {
	k := key{channel, user}
	d.mu.Lock()
	defer d.mu.Unlock()
	r := d.open[k]
	if r == nil {
		return Report{}, ErrNoReport
	}
	if r.Stage != Proving {
		return Report{}, ErrWrongStage
	}
	if len(r.Proofs) == 0 {
		return Report{}, ErrNoProof
	}
	d.timers.Cancel(k)
	delete(d.open, k)
	r.Stage = Submitted
	return r.snapshot(), nil
}

// Cancel discards the reporter's open report.
func (d *Desk) Cancel(channel, user string) (Report, error) {
	k := key{channel, user}
	d.mu.Lock()
	defer d.mu.Unlock()
	r := d.open[k]
	if r == nil {
		return Report{}, ErrNoReport
	}
	d.timers.Cancel(k)
	delete(d.open, k)
	r.Stage = Cancelled
	return r.snapshot(), nil
}

// Len returns the number of open reports.
func (d *Desk) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.open)
}

// Close cancels all deadlines. Open reports remain but never time out.
func (d *Desk) Close() {
	d.timers.Stop()
}
