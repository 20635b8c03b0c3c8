package storage

import (
	"context"
	"errors"
)

// Storage is a string-keyed persistent store.
// Implementations must be safe for concurrent use.
type Storage interface {
	// GetItem returns the raw value for key.
	// Returns ("", false, nil) if the key doesn't exist.
	GetItem(ctx context.Context, key string) (string, bool, error)

	// SetItem stores value under key, replacing any previous value.
	SetItem(ctx context.Context, key, value string) error

	// RemoveItem deletes key. Removing a missing key is not an error.
	RemoveItem(ctx context.Context, key string) error
}

// ChangeSource is the cross-context "an entry changed" signal. Callbacks
// carry no payload and are not filtered by key: receivers re-read whatever
// they care about. Callbacks may run on a backend goroutine.
type ChangeSource interface {
	// Subscribe registers fn and returns a function that removes it.
	// The returned function is safe to call more than once.
	Subscribe(fn func()) (cancel func())
}

// Publisher announces that key changed to other contexts.
type Publisher interface {
	Publish(ctx context.Context, key string) error
}

// ErrClosed is returned when operations are attempted on a closed store.
var ErrClosed = errors.New("storage: store is closed")

// ChangeSourceOf returns the change signal of s, looking through
// decorators. It returns nil if s has none.
func ChangeSourceOf(s Storage) ChangeSource {
	for s != nil {
		if cs, ok := s.(ChangeSource); ok {
			return cs
		}
		u, ok := s.(interface{ Unwrap() Storage })
		if !ok {
			return nil
		}
		s = u.Unwrap()
	}
	return nil
}

// changedEvent is the broadcast event backends use to fan out their change
// signal to subscribers.
const changedEvent = "storage"
