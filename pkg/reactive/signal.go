package reactive

import (
	"reflect"
	"sync"
)

// Signal is a value cell. Set marks subscribers dirty only when the new
// value is not deeply equal to the current one.
type Signal[T any] struct {
	id uint64

	mu    sync.RWMutex
	value T
	subs  map[uint64]Listener
}

// NewSignal creates a signal holding initial.
func NewSignal[T any](initial T) *Signal[T] {
	return &Signal[T]{
		id:    nextID(),
		value: initial,
		subs:  make(map[uint64]Listener),
	}
}

// ID returns the signal's identifier.
func (s *Signal[T]) ID() uint64 {
	return s.id
}

// Get returns the current value.
func (s *Signal[T]) Get() T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

// Peek returns the current value. It is Get under the name hosts with
// dependency tracking use for untracked reads.
func (s *Signal[T]) Peek() T {
	return s.Get()
}

// Set replaces the value.
func (s *Signal[T]) Set(value T) {
	s.Update(func(T) T { return value })
}

// Update replaces the value with fn(current), atomically with respect to
// other writers. fn runs with the signal locked and must not touch it.
func (s *Signal[T]) Update(fn func(T) T) {
	s.mu.Lock()
	next := fn(s.value)
	if reflect.DeepEqual(s.value, next) {
		s.mu.Unlock()
		return
	}
	s.value = next
	subs := make([]Listener, 0, len(s.subs))
	for _, l := range s.subs {
		subs = append(subs, l)
	}
	s.mu.Unlock()

	for _, l := range subs {
		l.MarkDirty()
	}
}

// Subscribe registers l. Subscribing the same listener twice is a no-op.
func (s *Signal[T]) Subscribe(l Listener) {
	if l == nil {
		return
	}
	s.mu.Lock()
	s.subs[l.ID()] = l
	s.mu.Unlock()
}

// Unsubscribe removes l.
func (s *Signal[T]) Unsubscribe(l Listener) {
	if l == nil {
		return
	}
	s.mu.Lock()
	delete(s.subs, l.ID())
	s.mu.Unlock()
}

func (s *Signal[T]) listeners() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}
