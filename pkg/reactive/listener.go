package reactive

// Listener is notified when a source it subscribed to changes.
type Listener interface {
	// MarkDirty is called after every change. Effects schedule a re-run.
	MarkDirty()

	// ID identifies the listener; a source holds at most one subscription
	// per ID.
	ID() uint64
}

// Cleanup is returned by an effect body. It runs before the next run and
// when the effect is disposed.
type Cleanup func()

// Source is a value cell listeners can subscribe to.
type Source interface {
	Subscribe(l Listener)
	Unsubscribe(l Listener)
}
