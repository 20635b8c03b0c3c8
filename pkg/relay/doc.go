// Package relay carries cross-context change signals over WebSocket for
// backends that have no change feed of their own (SQL, S3).
//
// A Hub accepts connections and rebroadcasts every change message to all
// other connections. A Client dials a hub and implements both
// storage.Publisher and storage.ChangeSource, so it plugs into
// storage.Notifying on the write side and into a localstore Host on the
// listening side:
//
//	client, err := relay.Dial(ctx, "ws://localhost:7420/relay")
//	store := storage.Notifying(storage.NewSQL(db), client, logger)
//	host := localstore.Host{Storage: store, Changes: client, Bus: broadcast.New()}
//
// The Hub is itself a Publisher and ChangeSource, so the process serving the
// relay takes part without dialing itself.
//
// Messages carry the changed key for logging only; receivers treat every
// message as "something changed" and re-read.
package relay
