package session

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultLifetime is the time after creation at which a session that has
	// not ended is ended automatically.
	DefaultLifetime = 3 * time.Hour
	// DefaultRetention is the time an ended session remains visible before
	// it is purged.
	DefaultRetention = 10 * time.Minute
)

// Scheduler runs delayed callbacks keyed by name.
// [*timer.Set] implements Scheduler.
type Scheduler interface {
	// After schedules f to run after d, replacing any callback pending under
	// the same key.
	After(key string, d time.Duration, f func())
	// Cancel cancels the callback pending under key, if any.
	Cancel(key string) bool
}

// Authorizer decides whether a user holds the management capability in a
// server, which allows acting on sessions the user does not host.
type Authorizer interface {
	CanManage(ctx context.Context, user, guild string) bool
}

// AuthorizerFunc adapts a function to an Authorizer.
type AuthorizerFunc func(ctx context.Context, user, guild string) bool

func (f AuthorizerFunc) CanManage(ctx context.Context, user, guild string) bool {
	return f(ctx, user, guild)
}

// Options configures a Manager.
type Options struct {
	// Lifetime is the maximum session lifetime measured from creation.
	// Defaults to DefaultLifetime.
	Lifetime time.Duration
	// Retention is the delay between a session ending and its removal.
	// Defaults to DefaultRetention.
	Retention time.Duration
	// Clock is the time source for every recorded timestamp.
	// Defaults to time.Now.
	Clock func() time.Time
	// Scheduler runs expiry and purge callbacks. It is required for sessions
	// to expire or be purged without explicit calls.
	Scheduler Scheduler
	// Authorizer grants the management capability. If nil, only hosts may
	// act on their sessions.
	Authorizer Authorizer
	// Markup formats users and times in render plans.
	// Defaults to Plain.
	Markup Markup
	// Observe, if not nil, receives every transition after it is applied.
	// It is called without any manager lock held, possibly concurrently.
	Observe func(Event)
}

// Manager is the authoritative registry of sessions.
// All methods are safe to call concurrently. Operations on the registry are
// serialized, so racing transitions on the same session resolve in some
// order with each observing the result of the previous.
type Manager struct {
	mu sync.Mutex
	// byID holds every session that has not been purged.
	byID map[uuid.UUID]*Session
	// live maps each server and kind to its single non-ended session.
	live map[liveKey]uuid.UUID

	lifetime  time.Duration
	retention time.Duration
	clock     func() time.Time
	sched     Scheduler
	auth      Authorizer
	markup    Markup
	observe   func(Event)
}

type liveKey struct {
	guild string
	kind  Kind
}

// New creates a new session manager.
func New(opts Options) *Manager {
	m := &Manager{
		byID:      make(map[uuid.UUID]*Session),
		live:      make(map[liveKey]uuid.UUID),
		lifetime:  opts.Lifetime,
		retention: opts.Retention,
		clock:     opts.Clock,
		sched:     opts.Scheduler,
		auth:      opts.Authorizer,
		markup:    opts.Markup,
		observe:   opts.Observe,
	}
	if m.lifetime <= 0 {
		m.lifetime = DefaultLifetime
	}
	if m.retention <= 0 {
		m.retention = DefaultRetention
	}
	if m.clock == nil {
		m.clock = time.Now
	}
	if m.sched == nil {
		m.sched = nopScheduler{}
	}
	if m.markup == nil {
		m.markup = Plain
	}
	return m
}

// Lifetime returns the configured maximum session lifetime.
func (m *Manager) Lifetime() time.Duration { return m.lifetime }

// Retention returns the configured retention delay.
func (m *Manager) Retention() time.Duration { return m.retention }

// Start creates a session hosted by host.
// If slot is not empty, the session is booked for that time slot and starts
// Scheduled pending confirmation by the host; otherwise it starts Waiting.
// Start fails with ErrAlreadyActive if guild already has a live session of
// the same kind.
func (m *Manager) Start(guild string, kind Kind, host, slot string) (Session, error) {
	if kind != Shift && kind != Training {
		return Session{}, &Error{Op: "start", Err: ErrInvalidKind}
	}
	m.mu.Lock()
	k := keyOf(guild, kind)
	if id, ok := m.live[k]; ok {
		cur := *m.byID[id]
		m.mu.Unlock()
		return Session{}, &Error{Op: "start", ID: id, State: cur.State, Existing: &cur, Err: ErrAlreadyActive}
	}
	now := m.clock()
	s := &Session{
		ID:      uuid.New(),
		Guild:   guild,
		Kind:    kind,
		Host:    host,
		State:   Waiting,
		Slot:    slot,
		Created: now,
	}
	if slot != "" {
		s.State = Scheduled
	}
	m.byID[s.ID] = s
	m.live[k] = s.ID
	id := s.ID
	m.sched.After(expireKey(id), m.lifetime, func() { m.expire(id) })
	r := *s
	m.mu.Unlock()
	m.emit(Event{Type: EventStarted, Session: r, At: now})
	return r, nil
}

// Confirm confirms a scheduled session, moving it to Waiting.
// Only the host may confirm.
func (m *Manager) Confirm(id uuid.UUID, user string) (Session, error) {
	m.mu.Lock()
	s := m.byID[id]
	switch {
	case s == nil:
		m.mu.Unlock()
		return Session{}, &Error{Op: "confirm", ID: id, Err: ErrNotFound}
	case s.Host != user:
		st := s.State
		m.mu.Unlock()
		return Session{}, &Error{Op: "confirm", ID: id, State: st, Err: ErrNotAuthorized}
	case s.State != Scheduled:
		st := s.State
		m.mu.Unlock()
		return Session{}, &Error{Op: "confirm", ID: id, State: st, Err: ErrInvalidState}
	}
	now := m.clock()
	s.State = Waiting
	r := *s
	m.mu.Unlock()
	m.emit(Event{Type: EventConfirmed, Session: r, At: now})
	return r, nil
}

// Cancel withdraws a scheduled session that has not been confirmed.
// Only the host may cancel. The session is removed immediately.
func (m *Manager) Cancel(id uuid.UUID, user string) (Session, error) {
	m.mu.Lock()
	s := m.byID[id]
	switch {
	case s == nil:
		m.mu.Unlock()
		return Session{}, &Error{Op: "cancel", ID: id, Err: ErrNotFound}
	case s.Host != user:
		st := s.State
		m.mu.Unlock()
		return Session{}, &Error{Op: "cancel", ID: id, State: st, Err: ErrNotAuthorized}
	case s.State != Scheduled:
		st := s.State
		m.mu.Unlock()
		return Session{}, &Error{Op: "cancel", ID: id, State: st, Err: ErrInvalidState}
	}
	now := m.clock()
	s.State = Ended
	s.EndedAt = now
	s.EndedBy = user
	m.removeLocked(s)
	r := *s
	m.mu.Unlock()
	m.emit(Event{Type: EventCancelled, Session: r, At: now})
	return r, nil
}

// Activate starts a waiting session.
func (m *Manager) Activate(ctx context.Context, id uuid.UUID, actor string) (Session, error) {
	return m.act(ctx, "activate", EventActivated, id, actor,
		func(s State) bool { return s == Waiting },
		func(s *Session, now time.Time) {
			s.State = Active
			s.Started = now
		},
	)
}

// Lock locks an active session.
func (m *Manager) Lock(ctx context.Context, id uuid.UUID, actor string) (Session, error) {
	return m.act(ctx, "lock", EventLocked, id, actor,
		func(s State) bool { return s == Active },
		func(s *Session, now time.Time) {
			s.State = Locked
			s.LockedAt = now
		},
	)
}

// Unlock returns a locked session to Active.
func (m *Manager) Unlock(ctx context.Context, id uuid.UUID, actor string) (Session, error) {
	return m.act(ctx, "unlock", EventUnlocked, id, actor,
		func(s State) bool { return s == Locked },
		func(s *Session, now time.Time) {
			s.State = Active
			s.LockedAt = time.Time{}
		},
	)
}

// End ends a waiting, active, or locked session and schedules its purge.
// An empty actor ends the session automatically, as by timeout, and skips
// authorization.
func (m *Manager) End(ctx context.Context, id uuid.UUID, actor string) (Session, error) {
	by := actor
	if by == "" {
		by = Automatic
	}
	return m.act(ctx, "end", EventEnded, id, actor,
		func(s State) bool { return s == Waiting || s == Active || s == Locked },
		func(s *Session, now time.Time) { m.endLocked(s, now, by) },
	)
}

// act applies a transition on behalf of actor.
// Authorization is decided without holding the registry lock, since the
// authorizer may consult the chat platform. The state check and mutation
// happen together under the lock.
func (m *Manager) act(ctx context.Context, op string, ev EventType, id uuid.UUID, actor string, from func(State) bool, apply func(*Session, time.Time)) (Session, error) {
	m.mu.Lock()
	s := m.byID[id]
	if s == nil {
		m.mu.Unlock()
		return Session{}, &Error{Op: op, ID: id, Err: ErrNotFound}
	}
	host, guild, st := s.Host, s.Guild, s.State
	m.mu.Unlock()
	if actor != "" && actor != host && !m.canManage(ctx, actor, guild) {
		return Session{}, &Error{Op: op, ID: id, State: st, Err: ErrNotAuthorized}
	}

	m.mu.Lock()
	s = m.byID[id]
	if s == nil {
		m.mu.Unlock()
		return Session{}, &Error{Op: op, ID: id, Err: ErrNotFound}
	}
	if !from(s.State) {
		st := s.State
		m.mu.Unlock()
		return Session{}, &Error{Op: op, ID: id, State: st, Err: ErrInvalidState}
	}
	now := m.clock()
	apply(s, now)
	r := *s
	m.mu.Unlock()
	m.emit(Event{Type: ev, Session: r, At: now})
	return r, nil
}

func (m *Manager) canManage(ctx context.Context, user, guild string) bool {
	if m.auth == nil {
		return false
	}
	return m.auth.CanManage(ctx, user, guild)
}

// ExpireIfTimedOut ends the session automatically if it has outlived the
// configured lifetime as of now. It reports whether it ended the session;
// calling it on an ended, purged, or unknown session does nothing.
// A scheduled session that was never confirmed is discarded instead of
// waiting out the retention delay.
func (m *Manager) ExpireIfTimedOut(id uuid.UUID, now time.Time) (Session, bool) {
	m.mu.Lock()
	s := m.byID[id]
	if s == nil || s.State == Ended || now.Sub(s.Created) < m.lifetime {
		m.mu.Unlock()
		return Session{}, false
	}
	if s.State == Scheduled {
		s.State = Ended
		s.EndedAt = now
		s.EndedBy = Automatic
		m.removeLocked(s)
	} else {
		m.endLocked(s, now, Automatic)
	}
	r := *s
	m.mu.Unlock()
	m.emit(Event{Type: EventExpired, Session: r, At: now})
	return r, true
}

// Purge removes an ended session once the retention delay has elapsed since
// it ended. It reports whether it removed the session; calling it early or on
// a live or unknown session does nothing.
func (m *Manager) Purge(id uuid.UUID, now time.Time) (Session, bool) {
	m.mu.Lock()
	s := m.byID[id]
	if s == nil || s.State != Ended || now.Sub(s.EndedAt) < m.retention {
		m.mu.Unlock()
		return Session{}, false
	}
	m.removeLocked(s)
	r := *s
	m.mu.Unlock()
	m.emit(Event{Type: EventPurged, Session: r, At: now})
	return r, true
}

// sweep is the purge callback. If the clock disagrees with the scheduler
// about whether the retention delay has elapsed, it tries again later.
func (m *Manager) sweep(id uuid.UUID) {
	now := m.clock()
	if _, ok := m.Purge(id, now); ok {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.byID[id]
	if s == nil || s.State != Ended {
		return
	}
	d := max(m.retention-now.Sub(s.EndedAt), time.Second)
	m.sched.After(purgeKey(id), d, func() { m.sweep(id) })
}

// expire is the expiry callback. Like sweep, it tries again later if the
// clock says the lifetime has not yet elapsed.
func (m *Manager) expire(id uuid.UUID) {
	now := m.clock()
	if _, ok := m.ExpireIfTimedOut(id, now); ok {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.byID[id]
	if s == nil || s.State == Ended {
		return
	}
	d := max(m.lifetime-now.Sub(s.Created), time.Second)
	m.sched.After(expireKey(id), d, func() { m.expire(id) })
}

// endLocked marks s ended, frees its slot, and swaps its expiry for a purge.
// The manager's lock must be held.
func (m *Manager) endLocked(s *Session, now time.Time, by string) {
	s.State = Ended
	s.EndedAt = now
	s.EndedBy = by
	s.LockedAt = time.Time{}
	k := keyOf(s.Guild, s.Kind)
	if m.live[k] == s.ID {
		delete(m.live, k)
	}
	id := s.ID
	m.sched.Cancel(expireKey(id))
	m.sched.After(purgeKey(id), m.retention, func() { m.sweep(id) })
}

// removeLocked removes s from the registry and cancels its callbacks.
// The manager's lock must be held.
func (m *Manager) removeLocked(s *Session) {
	k := keyOf(s.Guild, s.Kind)
	if m.live[k] == s.ID {
		delete(m.live, k)
	}
	delete(m.byID, s.ID)
	m.sched.Cancel(expireKey(s.ID))
	m.sched.Cancel(purgeKey(s.ID))
}

// Attach binds an announcement reference to a session.
// The reference is the only thing that may change on an ended session: an
// announcement posted after a racing End is still bound, so the purge that
// follows can remove it.
func (m *Manager) Attach(id uuid.UUID, ref string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.byID[id]
	if s == nil {
		return Session{}, &Error{Op: "attach", ID: id, Err: ErrNotFound}
	}
	s.Announcement = ref
	return *s, nil
}

// Get returns the session with the given identity.
func (m *Manager) Get(id uuid.UUID) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.byID[id]
	if s == nil {
		return Session{}, false
	}
	return *s, true
}

// Current returns the live session of a kind in a server.
func (m *Manager) Current(guild string, kind Kind) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.live[keyOf(guild, kind)]
	if !ok {
		return Session{}, false
	}
	return *m.byID[id], true
}

// ByAnnouncement finds the session in a server driving an announcement.
func (m *Manager) ByAnnouncement(guild, ref string) (Session, bool) {
	if ref == "" {
		return Session{}, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.byID {
		if s.Guild == guild && s.Announcement == ref {
			return *s, true
		}
	}
	return Session{}, false
}

// List returns the sessions of a server which have not been purged, ordered
// by creation time.
func (m *Manager) List(guild string) []Session {
	m.mu.Lock()
	r := make([]Session, 0, 2)
	for _, s := range m.byID {
		if s.Guild == guild {
			r = append(r, *s)
		}
	}
	m.mu.Unlock()
	sortSessions(r)
	return r
}

// All returns every session which has not been purged, ordered by creation
// time.
func (m *Manager) All() []Session {
	m.mu.Lock()
	r := make([]Session, 0, len(m.byID))
	for _, s := range m.byID {
		r = append(r, *s)
	}
	m.mu.Unlock()
	sortSessions(r)
	return r
}

func sortSessions(r []Session) {
	slices.SortFunc(r, func(a, b Session) int {
		if c := a.Created.Compare(b.Created); c != 0 {
			return c
		}
		return slices.Compare(a.ID[:], b.ID[:])
	})
}

func (m *Manager) emit(ev Event) {
	if m.observe != nil {
		m.observe(ev)
	}
}

func keyOf(guild string, kind Kind) liveKey {
	return liveKey{guild: guild, kind: kind}
}

func expireKey(id uuid.UUID) string { return id.String() + "/expire" }
func purgeKey(id uuid.UUID) string  { return id.String() + "/purge" }

type nopScheduler struct{}

func (nopScheduler) After(string, time.Duration, func()) {}
func (nopScheduler) Cancel(string) bool                  { return false }
