package reactive

import "sync"

// Owner is a disposal scope for effects, cleanups and child scopes. A UI
// host creates one per mounted component and bindings such as
// localstore.Manager.Use hang their teardown on it.
type Owner struct {
	id     uint64
	parent *Owner

	// mu guards everything below. disposed is read under mu so that a
	// registration either lands before Dispose collects it or runs at once.
	mu       sync.Mutex
	disposed bool
	children []*Owner
	effects  []*Effect
	cleanups []func()
	pending  []*Effect
}

// NewOwner creates an Owner under parent, or a root Owner when parent is
// nil. A child of a disposed parent starts out disposed.
func NewOwner(parent *Owner) *Owner {
	o := &Owner{id: nextID(), parent: parent}
	if parent == nil {
		return o
	}

	parent.mu.Lock()
	if parent.disposed {
		o.disposed = true
	} else {
		parent.children = append(parent.children, o)
	}
	parent.mu.Unlock()
	return o
}

// ID returns the owner's identifier.
func (o *Owner) ID() uint64 {
	return o.id
}

// IsDisposed reports whether Dispose has been called.
func (o *Owner) IsDisposed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.disposed
}

// OnCleanup registers fn to run when the Owner is disposed. On a disposed
// Owner fn runs immediately.
func (o *Owner) OnCleanup(fn func()) {
	if fn == nil {
		return
	}

	o.mu.Lock()
	if o.disposed {
		o.mu.Unlock()
		fn()
		return
	}
	o.cleanups = append(o.cleanups, fn)
	o.mu.Unlock()
}

// adopt records e as owned. It reports false when the Owner is already
// disposed.
func (o *Owner) adopt(e *Effect) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.disposed {
		return false
	}
	o.effects = append(o.effects, e)
	return true
}

func (o *Owner) schedule(e *Effect) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.disposed {
		o.pending = append(o.pending, e)
	}
}

func (o *Owner) detach(child *Owner) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, c := range o.children {
		if c == child {
			o.children = append(o.children[:i], o.children[i+1:]...)
			return
		}
	}
}

// RunPendingEffects runs the effects scheduled since the last call, then
// does the same for every child.
func (o *Owner) RunPendingEffects() {
	o.mu.Lock()
	if o.disposed {
		o.mu.Unlock()
		return
	}
	pending := o.pending
	o.pending = nil
	children := append([]*Owner(nil), o.children...)
	o.mu.Unlock()

	for _, e := range pending {
		e.run()
	}
	for _, c := range children {
		c.RunPendingEffects()
	}
}

// Dispose tears the Owner down: children last-created first, then
// effects, then cleanups in reverse registration order. It is idempotent.
func (o *Owner) Dispose() {
	o.mu.Lock()
	if o.disposed {
		o.mu.Unlock()
		return
	}
	o.disposed = true
	children, effects, cleanups := o.children, o.effects, o.cleanups
	o.children, o.effects, o.cleanups, o.pending = nil, nil, nil, nil
	o.mu.Unlock()

	if o.parent != nil {
		o.parent.detach(o)
	}
	for i := len(children) - 1; i >= 0; i-- {
		children[i].Dispose()
	}
	for _, e := range effects {
		e.dispose()
	}
	for i := len(cleanups) - 1; i >= 0; i-- {
		cleanups[i]()
	}
}
