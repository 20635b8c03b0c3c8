// Package broadcast provides a process-local publish/subscribe bus keyed by
// event name.
//
// Delivery is synchronous: Publish calls every subscriber registered for the
// event before it returns. Subscribers are called over a snapshot taken at
// publish time, so a subscriber may unsubscribe itself (or others) while
// being notified.
//
//	bus := broadcast.New()
//	stop := bus.Subscribe("changed", func(payload any) {
//	    fmt.Println("got", payload)
//	})
//	bus.Publish("changed", 42)
//	stop()
package broadcast

import (
	"sync"
	"sync/atomic"
)

var idCounter uint64

func nextID() uint64 {
	return atomic.AddUint64(&idCounter, 1)
}

type subscription struct {
	id     uint64
	fn     func(payload any)
	active atomic.Bool
}

// Bus is a synchronous, process-local event bus. It is safe for concurrent
// use. The zero value is not usable; call New.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]*subscription
	closed bool
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[string][]*subscription)}
}

var (
	defaultBus     *Bus
	defaultBusOnce sync.Once
)

// Default returns the process-wide bus.
func Default() *Bus {
	defaultBusOnce.Do(func() {
		defaultBus = New()
	})
	return defaultBus
}

// Subscribe registers fn for event. The returned function removes exactly
// this registration and may be called any number of times.
// Subscribing to a closed bus returns a no-op unsubscribe.
func (b *Bus) Subscribe(event string, fn func(payload any)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return func() {}
	}
	id := nextID()
	sub := &subscription{id: id, fn: fn}
	sub.active.Store(true)
	b.subs[event] = append(b.subs[event], sub)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(event, id) })
	}
}

func (b *Bus) remove(event string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[event]
	for i, s := range subs {
		if s.id == id {
			s.active.Store(false)
			// Copy so snapshots held by in-flight Publish calls stay intact.
			next := make([]*subscription, 0, len(subs)-1)
			next = append(next, subs[:i]...)
			next = append(next, subs[i+1:]...)
			if len(next) == 0 {
				delete(b.subs, event)
			} else {
				b.subs[event] = next
			}
			return
		}
	}
}

// Publish delivers payload to every subscriber of event, synchronously and
// in subscription order. A subscriber removed while the fan-out is running
// is skipped.
func (b *Bus) Publish(event string, payload any) {
	b.mu.RLock()
	subs := b.subs[event]
	b.mu.RUnlock()

	for _, s := range subs {
		if s.active.Load() {
			s.fn(payload)
		}
	}
}

// Len returns the number of subscribers for event.
func (b *Bus) Len(event string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[event])
}

// Close drops every subscription. Later Subscribe calls are no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for _, subs := range b.subs {
		for _, s := range subs {
			s.active.Store(false)
		}
	}
	b.subs = make(map[string][]*subscription)
}
