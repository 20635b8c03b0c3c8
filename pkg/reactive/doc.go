// Package reactive provides the minimal reactive primitives a UI host needs
// to bind to a localstore.Manager: value cells that notify on change, scopes
// that release resources on dispose, and effects that re-run when a cell
// actually changes.
//
// Dependencies are declared explicitly rather than tracked implicitly:
//
//	owner := reactive.NewOwner(nil)
//	count := reactive.NewSignal(0)
//
//	reactive.CreateEffect(owner, func() reactive.Cleanup {
//	    fmt.Println("count is", count.Peek())
//	    return nil
//	}, count)
//
//	count.Set(1)              // schedules the effect
//	count.Set(1)              // equal value, nothing scheduled
//	owner.RunPendingEffects() // prints "count is 1"
//	owner.Dispose()
package reactive

import "sync/atomic"

var idCounter uint64

// nextID returns a process-unique identifier for signals, owners and effects.
func nextID() uint64 {
	return atomic.AddUint64(&idCounter, 1)
}
