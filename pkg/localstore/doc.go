// Package localstore provides a typed, cached accessor over a string-keyed
// persistent store, kept coherent across managers in one process and across
// contexts sharing the store.
//
// A Manager owns one key. It caches the last resolved value, writes through
// to the store and fans changes out to watchers:
//
//	host := localstore.NewHost(storage.NewMemory().Context())
//	theme := localstore.NewWithDefault("theme", localstore.As[string](), "light",
//	    localstore.WithHost(host))
//	defer theme.Destroy()
//
//	stop := theme.Watch(func(v string, ok bool) {
//	    fmt.Println("theme is now", v)
//	})
//	defer stop()
//
//	theme.Set("dark")
//
// # Notifications
//
// Managers sharing a Host exchange local notifications on the host's bus.
// A local notification carries the new cache slot, which receivers with the
// same key adopt without reading the store.
//
// Changes made by other contexts arrive through the host's ChangeSource.
// These carry no payload and are not filtered by key: every manager drops
// its cache and re-reads on the next Get.
//
// # Failure handling
//
// The read path never fails. A missing store, a storage error, a value that
// is not valid JSON and a value rejected by the validator all resolve to
// the default. Write failures are returned as coded errors and leave the
// cache untouched.
package localstore
