// Package observe provides a small synchronous publish/subscribe subject.
//
// Publish invokes every subscriber on the publishing goroutine, at the point
// of the state change. Subscribers must not block.
package observe

import (
	"sort"
	"sync"
)

// Subject fans values out to registered callbacks. The zero value is ready
// to use. A Subject remembers the last published value and replays it to
// new subscribers.
type Subject[T any] struct {
	mu      sync.Mutex
	subs    map[uint64]func(T)
	seq     uint64
	last    T
	hasLast bool
	closed  bool
}

// Subscribe registers fn and returns a function that removes it. Calling the
// returned function more than once is safe.
func (s *Subject[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	s.mu.Lock()
	if s.subs == nil {
		s.subs = make(map[uint64]func(T))
	}
	s.seq++
	id := s.seq
	s.subs[id] = fn
	last, replay := s.last, s.hasLast
	s.mu.Unlock()

	if replay {
		fn(last)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// Publish records v as the current value and calls every subscriber in
// subscription order. Publishing after Close is a no-op.
func (s *Subject[T]) Publish(v T) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.last, s.hasLast = v, true
	ids := make([]uint64, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]func(T), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.subs[id])
	}
	s.mu.Unlock()

	// Snapshot first so callbacks may subscribe or unsubscribe.
	for _, fn := range fns {
		fn(v)
	}
}

// Last returns the most recently published value.
func (s *Subject[T]) Last() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.hasLast
}

// Close drops all subscribers and ignores further publishes.
func (s *Subject[T]) Close() {
	s.mu.Lock()
	s.closed = true
	s.subs = nil
	s.mu.Unlock()
}

// Len returns the number of active subscribers.
func (s *Subject[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}
