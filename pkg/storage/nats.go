package storage

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/vango-dev/localstore/pkg/broadcast"
)

// NATS stores entries in a JetStream key-value bucket. The change signal is
// driven by a bucket watcher. Updates caused by this instance are skipped:
// puts by revision, deletes by a per-key count of outstanding deletes,
// since JetStream returns no revision for them.
type NATS struct {
	kv     jetstream.KeyValue
	logger *slog.Logger

	subs *broadcast.Bus

	// writeMu is held across a write and its bookkeeping, and by the
	// watcher loop while it matches an update, so an update can never be
	// matched before its write is recorded. Lock order: writeMu, then mu.
	writeMu sync.Mutex
	// watching is set once the watcher runs. Before that nothing is
	// recorded, since no update will ever consume it.
	watching atomic.Bool
	// ownPuts holds revisions of puts made through this instance.
	ownPuts map[uint64]struct{}
	// ownDeletes counts deletes per key whose watcher update is pending.
	ownDeletes map[string]int

	mu      sync.Mutex
	watcher jetstream.KeyWatcher
	cancel  context.CancelFunc
	closed  bool
}

// NATSOption configures NATS behavior.
type NATSOption func(*NATS)

// WithNATSLogger sets the logger for watcher failures.
func WithNATSLogger(logger *slog.Logger) NATSOption {
	return func(n *NATS) {
		n.logger = logger
	}
}

// NewNATS creates a store over an existing key-value bucket.
func NewNATS(kv jetstream.KeyValue, opts ...NATSOption) *NATS {
	n := &NATS{
		kv:         kv,
		logger:     slog.Default(),
		subs:       broadcast.New(),
		ownPuts:    make(map[uint64]struct{}),
		ownDeletes: make(map[string]int),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *NATS) isClosed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}

// GetItem returns the value stored for key.
func (n *NATS) GetItem(ctx context.Context, key string) (string, bool, error) {
	if n.isClosed() {
		return "", false, ErrClosed
	}

	entry, err := n.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	if entry.Operation() != jetstream.KeyValuePut {
		return "", false, nil
	}
	return string(entry.Value()), true, nil
}

// SetItem puts value under key.
func (n *NATS) SetItem(ctx context.Context, key, value string) error {
	if n.isClosed() {
		return ErrClosed
	}

	n.writeMu.Lock()
	defer n.writeMu.Unlock()

	rev, err := n.kv.PutString(ctx, key, value)
	if err != nil {
		return err
	}
	if n.watching.Load() {
		n.ownPuts[rev] = struct{}{}
	}
	return nil
}

// RemoveItem deletes key. Deleting a missing key is not an error.
func (n *NATS) RemoveItem(ctx context.Context, key string) error {
	if n.isClosed() {
		return ErrClosed
	}

	n.writeMu.Lock()
	defer n.writeMu.Unlock()

	err := n.kv.Delete(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		// No marker was written, so no update will follow
		return nil
	}
	if err != nil {
		return err
	}
	if n.watching.Load() {
		n.ownDeletes[key]++
	}
	return nil
}

// Subscribe registers fn for bucket changes. The watcher is started on
// first use.
func (n *NATS) Subscribe(fn func()) (cancel func()) {
	if fn == nil {
		return func() {}
	}

	if err := n.watch(); err != nil {
		n.logger.Warn("localstore: nats watch failed", "error", err)
	}
	return n.subs.Subscribe(changedEvent, func(any) { fn() })
}

func (n *NATS) watch() error {
	// Writes wait while the watcher starts, so each one is either before
	// it (and never delivered) or recorded.
	n.writeMu.Lock()
	defer n.writeMu.Unlock()
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrClosed
	}
	if n.watcher != nil {
		return nil
	}

	// Watch does not apply a timeout as it creates a long-lived watcher
	ctx, cancel := context.WithCancel(context.Background())
	w, err := n.kv.WatchAll(ctx, jetstream.UpdatesOnly())
	if err != nil {
		cancel()
		return err
	}

	n.watcher = w
	n.cancel = cancel
	n.watching.Store(true)
	go n.loop(w.Updates())
	return nil
}

func (n *NATS) loop(updates <-chan jetstream.KeyValueEntry) {
	for entry := range updates {
		// nil marks the end of the initial values
		if entry == nil {
			continue
		}
		if n.mine(entry) {
			continue
		}
		n.subs.Publish(changedEvent, entry.Key())
	}
}

// mine reports whether entry was written through this instance and
// forgets the record. It blocks while a write is in flight.
func (n *NATS) mine(entry jetstream.KeyValueEntry) bool {
	n.writeMu.Lock()
	defer n.writeMu.Unlock()

	switch entry.Operation() {
	case jetstream.KeyValuePut:
		if _, ok := n.ownPuts[entry.Revision()]; ok {
			delete(n.ownPuts, entry.Revision())
			return true
		}
	case jetstream.KeyValueDelete:
		key := entry.Key()
		if c := n.ownDeletes[key]; c > 0 {
			if c == 1 {
				delete(n.ownDeletes, key)
			} else {
				n.ownDeletes[key] = c - 1
			}
			return true
		}
	}
	return false
}

// Close stops the watcher. The bucket and its connection stay open.
func (n *NATS) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	w, cancel := n.watcher, n.cancel
	n.mu.Unlock()

	n.subs.Close()
	if w == nil {
		return nil
	}

	err := w.Stop()
	cancel()
	return err
}
