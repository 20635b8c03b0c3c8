package storage

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/vango-dev/localstore/pkg/broadcast"
)

// Memory is an in-process origin: one map shared by any number of contexts.
// A write through one context fires the change signal of every other
// context, the way a browser fires "storage" in every tab but the writer.
// Writes made on the Memory itself come from outside every context and
// signal all of them.
type Memory struct {
	mu     sync.RWMutex
	items  map[string]string
	peers  map[uint64]*MemoryContext
	closed bool

	reads atomic.Int64
}

// NewMemory creates an empty in-memory origin.
func NewMemory() *Memory {
	return &Memory{
		items: make(map[string]string),
		peers: make(map[uint64]*MemoryContext),
	}
}

var contextCounter uint64

// Context attaches a new context to the origin.
func (m *Memory) Context() *MemoryContext {
	c := &MemoryContext{
		origin: m,
		id:     atomic.AddUint64(&contextCounter, 1),
		bus:    broadcast.New(),
	}

	m.mu.Lock()
	if !m.closed {
		m.peers[c.id] = c
	}
	m.mu.Unlock()

	return c
}

// GetItem returns the value for key.
func (m *Memory) GetItem(ctx context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return "", false, ErrClosed
	}

	m.reads.Add(1)
	v, ok := m.items[key]
	return v, ok, nil
}

// SetItem stores value and signals every context.
func (m *Memory) SetItem(ctx context.Context, key, value string) error {
	return m.write(key, value, true, 0)
}

// RemoveItem deletes key and signals every context.
func (m *Memory) RemoveItem(ctx context.Context, key string) error {
	return m.write(key, "", false, 0)
}

// write applies a change and signals every context except from.
func (m *Memory) write(key, value string, set bool, from uint64) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}

	if set {
		m.items[key] = value
	} else {
		delete(m.items, key)
	}

	peers := make([]*MemoryContext, 0, len(m.peers))
	for id, p := range m.peers {
		if id != from {
			peers = append(peers, p)
		}
	}
	m.mu.Unlock()

	for _, p := range peers {
		p.bus.Publish(changedEvent, key)
	}
	return nil
}

// Len returns the number of stored entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// Reads returns how many GetItem calls reached the origin, through any
// context. Useful for asserting cache behavior.
func (m *Memory) Reads() int64 {
	return m.reads.Load()
}

// Close drops all entries and detaches every context.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}

	m.closed = true
	m.items = nil
	for _, p := range m.peers {
		p.bus.Close()
	}
	m.peers = nil
	return nil
}

// MemoryContext is one participant of a Memory origin. It implements
// Storage and ChangeSource.
type MemoryContext struct {
	origin *Memory
	id     uint64
	bus    *broadcast.Bus
}

// GetItem returns the value for key from the shared origin.
func (c *MemoryContext) GetItem(ctx context.Context, key string) (string, bool, error) {
	return c.origin.GetItem(ctx, key)
}

// SetItem stores value and signals the other contexts.
func (c *MemoryContext) SetItem(ctx context.Context, key, value string) error {
	return c.origin.write(key, value, true, c.id)
}

// RemoveItem deletes key and signals the other contexts.
func (c *MemoryContext) RemoveItem(ctx context.Context, key string) error {
	return c.origin.write(key, "", false, c.id)
}

// Subscribe registers fn for changes made by other contexts.
func (c *MemoryContext) Subscribe(fn func()) (cancel func()) {
	if fn == nil {
		return func() {}
	}
	return c.bus.Subscribe(changedEvent, func(any) { fn() })
}

// Close detaches the context from its origin and drops its subscribers.
func (c *MemoryContext) Close() error {
	c.origin.mu.Lock()
	if c.origin.peers != nil {
		delete(c.origin.peers, c.id)
	}
	c.origin.mu.Unlock()

	c.bus.Close()
	return nil
}
