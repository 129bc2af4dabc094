package command_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/vinns/concierge/command"
	"github.com/vinns/concierge/guild"
	"github.com/vinns/concierge/journal"
	"github.com/vinns/concierge/message"
	"github.com/vinns/concierge/metrics"
	"github.com/vinns/concierge/session"
	"github.com/vinns/concierge/settings/sqlsettings"
	"github.com/vinns/concierge/syncmap"
)

type posted struct {
	Channel string
	Title   string
	State   session.State
	Mention string
	Link    string
}

// announcer records announcements in memory.
type announcer struct {
	mu      sync.Mutex
	n       int
	live    map[string]posted
	removed []string
	fail    bool
}

func (a *announcer) Announce(ctx context.Context, channel string, an command.Announcement) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail {
		return "", errors.New("platform is down")
	}
	a.n++
	ref := fmt.Sprintf("%s/%d", channel, a.n)
	a.live[ref] = posted{Channel: channel, Title: an.Plan.Title, State: an.Session.State, Mention: an.Mention, Link: an.Link}
	return ref, nil
}

func (a *announcer) Update(ctx context.Context, ref string, an command.Announcement) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.live[ref]
	if !ok {
		return fmt.Errorf("no message %s", ref)
	}
	p.Title, p.State, p.Mention = an.Plan.Title, an.Session.State, an.Mention
	a.live[ref] = p
	return nil
}

func (a *announcer) Remove(ctx context.Context, ref string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.live, ref)
	a.removed = append(a.removed, ref)
	return nil
}

func (a *announcer) Link(guild, ref string) string {
	return "https://discord.com/channels/" + guild + "/" + ref
}

func (a *announcer) get(ref string) (posted, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.live[ref]
	return p, ok
}

// members serves roles from a map.
type members map[string][]string

func (m members) Roles(ctx context.Context, guild, user string) ([]string, error) {
	r, ok := m[user]
	if !ok {
		return nil, errors.New("unknown member")
	}
	return r, nil
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
	return c.t
}

var dbCount atomic.Int64

func testDB(t *testing.T) *sqlitex.Pool {
	k := dbCount.Add(1)
	pool, err := sqlitex.NewPool(fmt.Sprintf("file:test-command-%d.db?mode=memory&cache=shared", k), sqlitex.PoolOptions{Flags: sqlite.OpenReadWrite | sqlite.OpenCreate | sqlite.OpenMemory | sqlite.OpenSharedCache | sqlite.OpenURI})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { pool.Close() })
	ctx := context.Background()
	if err := sqlsettings.Init(ctx, pool); err != nil {
		t.Fatal(err)
	}
	if err := journal.Init(ctx, pool); err != nil {
		t.Fatal(err)
	}
	return pool
}

type fixture struct {
	robo *command.Robot
	ann  *announcer
	clk  *clock
	g    *guild.Guild
	db   *sqlitex.Pool
}

func newFixture(t *testing.T) *fixture {
	ctx := context.Background()
	db := testDB(t)
	g := &guild.Guild{
		ID: "kessoku",
		Announce: map[session.Kind]guild.Announce{
			session.Shift:    {Channel: "shifts", Mention: "staff-ping", Link: "https://hotel.example"},
			session.Training: {Mention: "trainee-ping"},
		},
		Manage: []string{"host-role"},
		Admins: []string{"owner"},
	}
	guilds := syncmap.New[string, *guild.Guild]()
	guilds.Store(g.ID, g)
	f := &fixture{
		ann: &announcer{live: make(map[string]posted)},
		clk: &clock{t: time.Date(2024, 6, 1, 20, 0, 0, 0, time.UTC)},
		g:   g,
		db:  db,
	}
	f.robo = &command.Robot{
		Log:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		Guilds:    guilds,
		Settings:  sqlsettings.Open(db),
		Journal:   db,
		Announcer: f.ann,
		Metrics:   metrics.New(),
	}
	auth := &command.Authorizer{
		Robot: f.robo,
		Members: members{
			"bocchi": {"host-role"},
			"nijika": {"host-role"},
			"kita":   {"guest"},
		},
	}
	f.robo.Sessions = session.New(session.Options{
		Clock:      f.clk.Now,
		Authorizer: auth,
		Observe:    f.robo.Observe(ctx),
	})
	return f
}

// call runs a command as user in channel and returns its replies.
func (f *fixture) call(cmd command.Func, user, channel string, args map[string]string) []string {
	var mu sync.Mutex
	var replies []string
	roles := map[string][]string{"bocchi": {"host-role"}, "nijika": {"host-role"}}[user]
	inv := command.Invocation{
		Guild: f.g,
		Message: &message.Received{
			ID:     "m",
			Guild:  f.g.ID,
			To:     channel,
			Sender: user,
			Roles:  roles,
		},
		Args: args,
		Reply: func(ctx context.Context, msg message.Sent) {
			mu.Lock()
			replies = append(replies, msg.Text)
			mu.Unlock()
		},
	}
	cmd(context.Background(), f.robo, &inv)
	return replies
}

func TestShiftLifecycle(t *testing.T) {
	f := newFixture(t)
	if r := f.call(command.Start, "bocchi", "lobby", map[string]string{"kind": "shift"}); len(r) != 0 {
		t.Errorf("unexpected replies to start: %q", r)
	}
	s, ok := f.robo.Sessions.Current("kessoku", session.Shift)
	if !ok {
		t.Fatal("no shift after start")
	}
	p, ok := f.ann.get(s.Announcement)
	if !ok {
		t.Fatalf("no announcement at %q", s.Announcement)
	}
	want := posted{Channel: "shifts", Title: "Shift", State: session.Waiting, Mention: "staff-ping", Link: "https://hotel.example"}
	if diff := cmp.Diff(want, p); diff != "" {
		t.Errorf("wrong announcement (-want +got):\n%s", diff)
	}
	id := map[string]string{"id": s.ID.String()}

	f.call(command.Activate, "bocchi", "shifts", id)
	if p, _ := f.ann.get(s.Announcement); p.State != session.Active || p.Title != "Session Ping" {
		t.Errorf("announcement not updated on activate: %+v", p)
	}
	f.call(command.Lock, "nijika", "shifts", id)
	if p, _ := f.ann.get(s.Announcement); p.State != session.Locked || p.Mention != "" {
		t.Errorf("announcement not updated on lock: %+v", p)
	}
	f.call(command.Unlock, "bocchi", "shifts", id)
	f.clk.Advance(time.Hour)
	f.call(command.End, "bocchi", "shifts", id)
	if p, _ := f.ann.get(s.Announcement); p.State != session.Ended || p.Title != "Shift Ended" {
		t.Errorf("announcement not updated on end: %+v", p)
	}

	hist, err := journal.Recent(context.Background(), f.db, "kessoku", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 1 || hist[0].ID != s.ID || hist[0].EndedBy != "bocchi" {
		t.Errorf("wrong history: %+v", hist)
	}

	now := f.clk.Advance(10 * time.Minute)
	if _, ok := f.robo.Sessions.Purge(s.ID, now); !ok {
		t.Fatal("couldn't purge")
	}
	if _, ok := f.ann.get(s.Announcement); ok {
		t.Errorf("announcement survived purge")
	}
}

func TestStartDenied(t *testing.T) {
	f := newFixture(t)
	r := f.call(command.Start, "kita", "lobby", map[string]string{"kind": "shift"})
	if diff := cmp.Diff([]string{"You don't have permission to do that."}, r); diff != "" {
		t.Errorf("wrong replies (-want +got):\n%s", diff)
	}
	if _, ok := f.robo.Sessions.Current("kessoku", session.Shift); ok {
		t.Errorf("denied start created a session")
	}
	r = f.call(command.Start, "bocchi", "lobby", map[string]string{"kind": "party"})
	if len(r) != 1 || !strings.Contains(r[0], "don't know") {
		t.Errorf("wrong reply for unknown kind: %q", r)
	}
}

func TestAlreadyActive(t *testing.T) {
	f := newFixture(t)
	f.call(command.Start, "bocchi", "lobby", map[string]string{"kind": "shift"})
	s, _ := f.robo.Sessions.Current("kessoku", session.Shift)
	r := f.call(command.Start, "nijika", "lobby", map[string]string{"kind": "shift"})
	want := "A shift is already running: https://discord.com/channels/kessoku/" + s.Announcement
	if diff := cmp.Diff([]string{want}, r); diff != "" {
		t.Errorf("wrong replies (-want +got):\n%s", diff)
	}
}

func TestStrangerDenied(t *testing.T) {
	f := newFixture(t)
	f.call(command.Start, "bocchi", "lobby", map[string]string{"kind": "shift"})
	s, _ := f.robo.Sessions.Current("kessoku", session.Shift)
	r := f.call(command.Activate, "kita", "shifts", map[string]string{"id": s.ID.String()})
	if diff := cmp.Diff([]string{"You don't have permission to do that."}, r); diff != "" {
		t.Errorf("wrong replies (-want +got):\n%s", diff)
	}
	if g, _ := f.robo.Sessions.Get(s.ID); g.State != session.Waiting {
		t.Errorf("denied activation changed state to %v", g.State)
	}
	r = f.call(command.Lock, "bocchi", "shifts", map[string]string{"id": s.ID.String()})
	if diff := cmp.Diff([]string{"That shift hasn't started yet."}, r); diff != "" {
		t.Errorf("wrong replies for early lock (-want +got):\n%s", diff)
	}
	r = f.call(command.End, "bocchi", "shifts", map[string]string{"id": "nonsense"})
	if diff := cmp.Diff([]string{"No active session found for this server."}, r); diff != "" {
		t.Errorf("wrong replies for bad id (-want +got):\n%s", diff)
	}
}

func TestChannelFallback(t *testing.T) {
	f := newFixture(t)
	// Training has no configured channel, so it's announced where started.
	f.call(command.Start, "bocchi", "lobby", map[string]string{"kind": "training"})
	s, _ := f.robo.Sessions.Current("kessoku", session.Training)
	if p, _ := f.ann.get(s.Announcement); p.Channel != "lobby" || p.Mention != "trainee-ping" {
		t.Errorf("wrong fallback announcement: %+v", p)
	}
	f.call(command.End, "bocchi", "lobby", map[string]string{"id": s.ID.String()})

	// Overrides win over configuration.
	r := f.call(command.SetChannel, "owner", "lobby", map[string]string{"kind": "training", "channel": "<#center>"})
	if diff := cmp.Diff([]string{"Training announcements will be sent to <#center>."}, r); diff != "" {
		t.Errorf("wrong replies (-want +got):\n%s", diff)
	}
	f.call(command.SetMention, "owner", "lobby", map[string]string{"kind": "training", "role": "<@&everyone-trainees>"})
	f.call(command.Start, "bocchi", "lobby", map[string]string{"kind": "training"})
	s, _ = f.robo.Sessions.Current("kessoku", session.Training)
	if p, _ := f.ann.get(s.Announcement); p.Channel != "center" || p.Mention != "everyone-trainees" {
		t.Errorf("wrong overridden announcement: %+v", p)
	}
}

func TestConfigRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	for _, cmd := range []command.Func{command.SetChannel, command.SetMention, command.ShowConfig} {
		r := f.call(cmd, "bocchi", "lobby", map[string]string{"kind": "shift", "channel": "x", "role": "y"})
		if diff := cmp.Diff([]string{"You don't have permission to do that."}, r); diff != "" {
			t.Errorf("wrong replies (-want +got):\n%s", diff)
		}
	}
}

func TestShowConfig(t *testing.T) {
	f := newFixture(t)
	f.call(command.Start, "bocchi", "lobby", map[string]string{"kind": "shift"})
	r := f.call(command.ShowConfig, "owner", "lobby", nil)
	if len(r) != 1 {
		t.Fatalf("wrong number of replies: %q", r)
	}
	for _, want := range []string{"```yaml\n", "guild: kessoku", "channel: shifts", "mention: staff-ping", "host: bocchi", "state: waiting"} {
		if !strings.Contains(r[0], want) {
			t.Errorf("config missing %q:\n%s", want, r[0])
		}
	}
}

func TestBooking(t *testing.T) {
	f := newFixture(t)
	f.call(command.Start, "bocchi", "lobby", map[string]string{"kind": "shift", "slot": "9:00 PM EST"})
	s, ok := f.robo.Sessions.Current("kessoku", session.Shift)
	if !ok || s.State != session.Scheduled {
		t.Fatalf("no booking: %+v", s)
	}
	booking := s.Announcement
	if p, _ := f.ann.get(booking); p.Channel != "lobby" || p.Mention != "" {
		t.Errorf("wrong booking prompt: %+v", p)
	}
	r := f.call(command.Confirm, "nijika", "lobby", map[string]string{"id": s.ID.String()})
	if diff := cmp.Diff([]string{"You don't have permission to do that."}, r); diff != "" {
		t.Errorf("wrong replies (-want +got):\n%s", diff)
	}
	f.call(command.Confirm, "bocchi", "lobby", map[string]string{"id": s.ID.String()})
	s, _ = f.robo.Sessions.Get(s.ID)
	if s.State != session.Waiting {
		t.Errorf("wrong state after confirm: %v", s.State)
	}
	if _, ok := f.ann.get(booking); ok {
		t.Errorf("booking prompt survived confirmation")
	}
	if p, _ := f.ann.get(s.Announcement); p.Channel != "shifts" || p.Mention != "staff-ping" {
		t.Errorf("wrong announcement after confirm: %+v", p)
	}
}

func TestCancelBooking(t *testing.T) {
	f := newFixture(t)
	f.call(command.Start, "bocchi", "lobby", map[string]string{"kind": "training", "slot": "10:00 PM EST"})
	s, _ := f.robo.Sessions.Current("kessoku", session.Training)
	f.call(command.Cancel, "bocchi", "lobby", map[string]string{"id": s.ID.String()})
	if _, ok := f.robo.Sessions.Get(s.ID); ok {
		t.Errorf("cancelled booking still exists")
	}
	if _, ok := f.ann.get(s.Announcement); ok {
		t.Errorf("booking prompt survived cancel")
	}
}

func TestEndByMessage(t *testing.T) {
	f := newFixture(t)
	f.call(command.Start, "bocchi", "lobby", map[string]string{"kind": "shift"})
	s, _ := f.robo.Sessions.Current("kessoku", session.Shift)
	_, msg, _ := strings.Cut(s.Announcement, "/")
	r := f.call(command.EndByMessage, "kita", "lobby", map[string]string{"kind": "shift", "message": msg})
	if diff := cmp.Diff([]string{"You don't have permission to do that."}, r); diff != "" {
		t.Errorf("wrong replies for stranger (-want +got):\n%s", diff)
	}
	r = f.call(command.EndByMessage, "nijika", "lobby", map[string]string{"kind": "training", "message": msg})
	if diff := cmp.Diff([]string{"No active training found for this server."}, r); diff != "" {
		t.Errorf("wrong replies for wrong kind (-want +got):\n%s", diff)
	}
	r = f.call(command.EndByMessage, "nijika", "lobby", map[string]string{"kind": "shift", "message": msg})
	if diff := cmp.Diff([]string{"Ended the shift."}, r); diff != "" {
		t.Errorf("wrong replies (-want +got):\n%s", diff)
	}
	if g, _ := f.robo.Sessions.Get(s.ID); g.State != session.Ended || g.EndedBy != "nijika" {
		t.Errorf("wrong session after end: %+v", g)
	}
}

func TestAnnounceFailure(t *testing.T) {
	f := newFixture(t)
	f.ann.fail = true
	r := f.call(command.Start, "bocchi", "lobby", map[string]string{"kind": "shift"})
	if len(r) != 1 || !strings.Contains(r[0], "couldn't post") {
		t.Errorf("wrong reply to failed announcement: %q", r)
	}
	if _, ok := f.robo.Sessions.Current("kessoku", session.Shift); ok {
		t.Errorf("unannounced session still holds the slot")
	}
	f.ann.fail = false
	f.call(command.Start, "bocchi", "lobby", map[string]string{"kind": "shift"})
	if _, ok := f.robo.Sessions.Current("kessoku", session.Shift); !ok {
		t.Errorf("couldn't start after failed announcement")
	}
}

func TestExpiry(t *testing.T) {
	f := newFixture(t)
	f.call(command.Start, "bocchi", "lobby", map[string]string{"kind": "shift"})
	s, _ := f.robo.Sessions.Current("kessoku", session.Shift)
	f.call(command.Activate, "bocchi", "shifts", map[string]string{"id": s.ID.String()})
	now := f.clk.Advance(3 * time.Hour)
	if _, ok := f.robo.Sessions.ExpireIfTimedOut(s.ID, now); !ok {
		t.Fatal("didn't expire")
	}
	if p, _ := f.ann.get(s.Announcement); p.State != session.Ended {
		t.Errorf("announcement not updated on expiry: %+v", p)
	}
	hist, _ := journal.Recent(context.Background(), f.db, "kessoku", 5)
	if len(hist) != 1 || !hist[0].Automatic {
		t.Errorf("wrong history after expiry: %+v", hist)
	}
}
