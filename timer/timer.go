// Package timer provides cancellable delayed callbacks keyed by identity.
package timer

import (
	"sync"
	"time"
)

// Set is a set of pending callbacks. Each key has at most one pending
// callback; scheduling a key again replaces its callback.
// The zero value is ready to use.
type Set[K comparable] struct {
	mu sync.Mutex
	m  map[K]*entry
}

type entry struct {
	t *time.Timer
}

// New returns a new empty Set.
func New[K comparable]() *Set[K] {
	return &Set[K]{m: make(map[K]*entry)}
}

// After schedules f to run once d has elapsed. Any callback already pending
// under key is cancelled first.
// f runs on its own goroutine and is never run if it is cancelled before it
// fires.
func (s *Set[K]) After(key K, d time.Duration, f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m == nil {
		s.m = make(map[K]*entry)
	}
	if old := s.m[key]; old != nil {
		old.t.Stop()
	}
	e := new(entry)
	e.t = time.AfterFunc(d, func() {
		s.mu.Lock()
		// The entry may have been replaced or cancelled after the timer fired
		// but before we got the lock.
		cur := s.m[key]
		if cur != e {
			s.mu.Unlock()
			return
		}
		delete(s.m, key)
		s.mu.Unlock()
		f()
	})
	s.m[key] = e
}

// Cancel cancels the callback pending under key.
// It reports whether there was one.
func (s *Set[K]) Cancel(key K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.m[key]
	if e == nil {
		return false
	}
	e.t.Stop()
	delete(s.m, key)
	return true
}

// Pending reports whether a callback is pending under key.
func (s *Set[K]) Pending(key K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.m[key]
	return ok
}

// Len returns the number of pending callbacks.
func (s *Set[K]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}

// Stop cancels all pending callbacks.
func (s *Set[K]) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.m {
		e.t.Stop()
		delete(s.m, k)
	}
}
