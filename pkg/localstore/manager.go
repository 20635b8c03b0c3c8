package localstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vango-dev/localstore/internal/errors"
	"github.com/vango-dev/localstore/pkg/broadcast"
	"github.com/vango-dev/localstore/pkg/metrics"
	"github.com/vango-dev/localstore/pkg/reactive"
	"github.com/vango-dev/localstore/pkg/storage"
)

// watchEvent is the event name on a manager's private watcher bus.
const watchEvent = "change"

// Manager is a typed, cached accessor for one key. It is safe for
// concurrent use.
type Manager[T any] struct {
	key        string
	validate   Validator[T]
	def        T
	hasDefault bool

	host    *Host
	logger  *slog.Logger
	metrics *metrics.Collector
	timeout time.Duration

	// mu guards the cache slot. gen counts slot mutations so a populating
	// read can tell whether it raced with a write or an invalidation.
	mu     sync.Mutex
	cached bool
	slot   Slot[T]
	gen    uint64

	// fill serializes populating reads so concurrent Gets read once.
	fill sync.Mutex

	watchers *broadcast.Bus

	stopLocal    func()
	stopExternal func()
	destroyOnce  sync.Once
}

// New creates a manager for key without a default value.
func New[T any](key string, validate Validator[T], opts ...Option) *Manager[T] {
	var zero T
	return newManager(key, validate, zero, false, opts)
}

// NewWithDefault creates a manager for key that resolves to def whenever
// no usable value is stored.
func NewWithDefault[T any](key string, validate Validator[T], def T, opts ...Option) *Manager[T] {
	return newManager(key, validate, def, true, opts)
}

func newManager[T any](key string, validate Validator[T], def T, hasDefault bool, opts []Option) *Manager[T] {
	o := options{
		logger:  slog.Default(),
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}

	m := &Manager[T]{
		key:        key,
		validate:   validate,
		def:        def,
		hasDefault: hasDefault,
		host:       o.host,
		logger:     o.logger.With("key", key),
		metrics:    o.metrics,
		timeout:    o.timeout,
		watchers:   broadcast.New(),
	}

	if h := m.host; h != nil {
		if h.Bus != nil {
			m.stopLocal = h.Bus.Subscribe(ChangeEvent, m.onLocal)
		}
		if h.Changes != nil {
			m.stopExternal = h.Changes.Subscribe(m.onExternal)
		}
	}

	return m
}

// Key returns the managed key.
func (m *Manager[T]) Key() string {
	return m.key
}

func (m *Manager[T]) store() storage.Storage {
	if m.host == nil {
		return nil
	}
	return m.host.Storage
}

func (m *Manager[T]) fallback() (T, bool) {
	return m.def, m.hasDefault
}

func (m *Manager[T]) withTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), m.timeout)
}

// Read resolves the stored value, bypassing the cache. It returns the
// default when the store is unavailable, the key is missing, or the value
// cannot be decoded or validated. ok is false when there is neither a
// usable value nor a default.
func (m *Manager[T]) Read() (T, bool) {
	s := m.store()
	if s == nil {
		m.metrics.ObserveRead(metrics.OutcomeUnavailable, 0)
		return m.fallback()
	}

	ctx, cancel := m.withTimeout()
	defer cancel()

	start := time.Now()
	raw, found, err := s.GetItem(ctx, m.key)
	elapsed := time.Since(start)

	if err != nil {
		m.logger.Debug("localstore: storage read failed", "error", errors.New("E004").Wrap(err))
		m.metrics.ObserveRead(metrics.OutcomeStoreError, elapsed)
		return m.fallback()
	}
	if !found {
		m.metrics.ObserveRead(metrics.OutcomeMissing, elapsed)
		return m.fallback()
	}

	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		m.logger.Debug("localstore: stored value is not JSON", "error", errors.New("E002").Wrap(err))
		m.metrics.ObserveRead(metrics.OutcomeDecodeError, elapsed)
		return m.fallback()
	}

	v, err := m.check(decoded)
	if err != nil {
		m.logger.Debug("localstore: stored value rejected", "error", errors.New("E003").Wrap(err))
		m.metrics.ObserveRead(metrics.OutcomeInvalid, elapsed)
		return m.fallback()
	}

	m.metrics.ObserveRead(metrics.OutcomeValue, elapsed)
	return v, true
}

// check runs the validator. A panicking validator counts as a rejection.
func (m *Manager[T]) check(decoded any) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("validator panicked: %v", r)
		}
	}()
	return m.validate(decoded)
}

// Get returns the cached value, reading the store once when the cache is
// empty.
func (m *Manager[T]) Get() (T, bool) {
	if s, ok := m.cachedSlot(); ok {
		m.metrics.CacheHit()
		return s.Value, s.Present
	}

	m.fill.Lock()
	defer m.fill.Unlock()

	// Another Get may have filled the slot while we waited
	m.mu.Lock()
	if m.cached {
		s := m.slot
		m.mu.Unlock()
		m.metrics.CacheHit()
		return s.Value, s.Present
	}
	gen := m.gen
	m.mu.Unlock()

	m.metrics.CacheMiss()
	v, ok := m.Read()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		// A write or notification landed during the read. A write wins;
		// after an invalidation the read result is returned uncached.
		if m.cached {
			return m.slot.Value, m.slot.Present
		}
		return v, ok
	}
	m.cached = true
	m.slot = Slot[T]{Value: v, Present: ok}
	m.gen++
	return v, ok
}

func (m *Manager[T]) cachedSlot() (Slot[T], bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.slot, m.cached
}

// setSlot makes the cache present with s.
func (m *Manager[T]) setSlot(s Slot[T]) {
	m.mu.Lock()
	m.cached = true
	m.slot = s
	m.gen++
	m.mu.Unlock()
}

// invalidate empties the cache.
func (m *Manager[T]) invalidate() {
	m.mu.Lock()
	m.cached = false
	m.slot = Slot[T]{}
	m.gen++
	m.mu.Unlock()
}

// Set stores v, caches it and notifies watchers before returning. When
// the store is unavailable only the cache and watchers are updated.
func (m *Manager[T]) Set(v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		m.metrics.ObserveWrite("set", err)
		return errors.New("E020").
			WithDetail("Value for key " + m.key + " cannot be stored as JSON").
			Wrap(err)
	}

	if s := m.store(); s != nil {
		ctx, cancel := m.withTimeout()
		err := s.SetItem(ctx, m.key, string(data))
		cancel()
		m.metrics.ObserveWrite("set", err)
		if err != nil {
			m.logger.Warn("localstore: storage write failed", "error", err)
			return errors.New("E021").Wrap(err)
		}
	}

	next := Slot[T]{Value: v, Present: true}
	m.setSlot(next)
	m.emit(next)
	return nil
}

// Update computes the new value from the current Get result and stores it
// like Set. fn is called exactly once and must be pure.
func (m *Manager[T]) Update(fn func(current T, ok bool) T) error {
	return m.Set(fn(m.Get()))
}

// Remove deletes the stored value, caches the default and notifies
// watchers before returning.
func (m *Manager[T]) Remove() error {
	if s := m.store(); s != nil {
		ctx, cancel := m.withTimeout()
		err := s.RemoveItem(ctx, m.key)
		cancel()
		m.metrics.ObserveWrite("remove", err)
		if err != nil {
			m.logger.Warn("localstore: storage remove failed", "error", err)
			return errors.New("E022").Wrap(err)
		}
	}

	v, ok := m.fallback()
	next := Slot[T]{Value: v, Present: ok}
	m.setSlot(next)
	m.emit(next)
	return nil
}

// emit sends a local notification. Without a bus it is delivered to this
// manager only.
func (m *Manager[T]) emit(s Slot[T]) {
	change := Change{Key: m.key, Slot: s}
	if m.host != nil && m.host.Bus != nil {
		m.host.Bus.Publish(ChangeEvent, change)
		return
	}
	m.onLocal(change)
}

// onLocal handles a local notification from any manager sharing the bus.
func (m *Manager[T]) onLocal(payload any) {
	change, ok := payload.(Change)
	if !ok || change.Key != m.key {
		return
	}

	m.metrics.Notification(metrics.OriginLocal)
	if s, ok := change.Slot.(Slot[T]); ok {
		m.setSlot(s)
	} else {
		// Same key held as a different type: re-read on next Get
		m.invalidate()
	}
	m.watchers.Publish(watchEvent, nil)
}

// onExternal handles a change made by another context. It may run on a
// backend goroutine.
func (m *Manager[T]) onExternal() {
	m.metrics.Notification(metrics.OriginExternal)
	m.invalidate()
	m.watchers.Publish(watchEvent, nil)
}

// Watch calls listener with the resolved value after every local or
// cross-context change. The returned function removes exactly this
// registration and is safe to call more than once.
func (m *Manager[T]) Watch(listener func(value T, ok bool)) (dispose func()) {
	if listener == nil {
		return func() {}
	}
	return m.watchers.Subscribe(watchEvent, func(any) {
		listener(m.Get())
	})
}

// Use binds the value to a reactive signal for the lifetime of owner. The
// signal starts with the current Get result and follows every change;
// equal values do not re-trigger dependent effects.
func (m *Manager[T]) Use(owner *reactive.Owner) (*reactive.Signal[Slot[T]], error) {
	if owner == nil || owner.IsDisposed() {
		return nil, errors.New("E010").
			WithDetail("Use of key " + m.key + " needs a live reactive owner")
	}

	v, ok := m.Get()
	sig := reactive.NewSignal(Slot[T]{Value: v, Present: ok})
	stop := m.Watch(func(v T, ok bool) {
		sig.Set(Slot[T]{Value: v, Present: ok})
	})
	owner.OnCleanup(stop)
	return sig, nil
}

// Destroy releases the bus and change-source subscriptions and drops all
// watchers. The store and the cache are left as they are. Destroy is
// idempotent.
func (m *Manager[T]) Destroy() {
	m.destroyOnce.Do(func() {
		if m.stopLocal != nil {
			m.stopLocal()
		}
		if m.stopExternal != nil {
			m.stopExternal()
		}
		m.watchers.Close()
	})
}
