package localstore

import (
	"github.com/vango-dev/localstore/pkg/broadcast"
	"github.com/vango-dev/localstore/pkg/storage"
)

// ChangeEvent is the bus event carrying local notifications.
const ChangeEvent = "localStorageChange"

// Host is the platform capability a Manager runs against. Every field is
// optional: without Storage the store is unavailable and reads resolve to
// the default; without Changes no cross-context notifications arrive;
// without Bus managers do not see each other's writes.
type Host struct {
	Storage storage.Storage
	Changes storage.ChangeSource
	Bus     *broadcast.Bus
}

// NewHost creates a host over s with its own bus. The change source is
// taken from s when it provides one.
func NewHost(s storage.Storage) *Host {
	return &Host{
		Storage: s,
		Changes: storage.ChangeSourceOf(s),
		Bus:     broadcast.New(),
	}
}

// Change is the payload of a local notification.
type Change struct {
	// Key is the key that changed.
	Key string

	// Slot is the sender's Slot[T]. Receivers holding the key as another
	// type drop their cache instead of adopting it.
	Slot any
}

// Slot is a resolved value. Present is false when there is neither a
// usable stored value nor a default.
type Slot[T any] struct {
	Value   T
	Present bool
}
