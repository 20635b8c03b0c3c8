package reactive

import (
	"sync"
	"sync/atomic"
)

// Effect is a side effect that re-runs when one of its sources changes.
//
// Effects run immediately when created. When a source changes, the effect
// is scheduled on its Owner and re-runs on the next RunPendingEffects; an
// effect without an Owner re-runs synchronously.
type Effect struct {
	id uint64

	fn func() Cleanup

	// cleanup is the cleanup function from the last run.
	cleanup Cleanup
	runMu   sync.Mutex

	sources []Source

	owner *Owner

	// pending indicates the effect is scheduled for re-run.
	pending atomic.Bool

	disposed atomic.Bool

	runs atomic.Int64
}

// MarkDirty marks the effect as needing to re-run.
func (e *Effect) MarkDirty() {
	if e.disposed.Load() {
		return
	}

	if e.owner == nil {
		e.run()
		return
	}

	// Schedule at most once per flush
	if e.pending.CompareAndSwap(false, true) {
		e.owner.schedule(e)
	}
}

// ID returns the unique identifier for this effect.
func (e *Effect) ID() uint64 {
	return e.id
}

// Runs returns how many times the effect body has executed.
func (e *Effect) Runs() int64 {
	return e.runs.Load()
}

func (e *Effect) run() {
	if e.disposed.Load() {
		return
	}

	e.runMu.Lock()
	defer e.runMu.Unlock()

	e.pending.Store(false)

	if e.cleanup != nil {
		e.cleanup()
		e.cleanup = nil
	}

	e.runs.Add(1)
	e.cleanup = e.fn()
}

func (e *Effect) dispose() {
	if e.disposed.Swap(true) {
		return
	}

	for _, s := range e.sources {
		s.Unsubscribe(e)
	}

	e.runMu.Lock()
	cleanup := e.cleanup
	e.cleanup = nil
	e.runMu.Unlock()

	if cleanup != nil {
		cleanup()
	}
}

// Dispose stops the effect and runs its last cleanup.
func (e *Effect) Dispose() {
	e.dispose()
}

// CreateEffect creates an effect owned by owner that depends on sources.
// The owner may be nil, in which case the effect must be disposed by hand.
// On a disposed owner the effect is returned already disposed and never
// runs.
//
// Example:
//
//	CreateEffect(owner, func() Cleanup {
//	    fmt.Println("Count is:", count.Peek())
//	    return func() { fmt.Println("Cleanup") }
//	}, count)
func CreateEffect(owner *Owner, fn func() Cleanup, sources ...Source) *Effect {
	e := &Effect{
		id:      nextID(),
		fn:      fn,
		owner:   owner,
		sources: sources,
	}

	if owner != nil && !owner.adopt(e) {
		e.disposed.Store(true)
		return e
	}

	for _, s := range sources {
		s.Subscribe(e)
	}
	if e.disposed.Load() {
		// Owner disposed while subscribing
		for _, s := range sources {
			s.Unsubscribe(e)
		}
		return e
	}

	e.run()

	return e
}
