package storage

import (
	"context"
	"log/slog"
)

type notifying struct {
	next   Storage
	pub    Publisher
	logger *slog.Logger
}

// Notifying wraps s so every successful write is announced through pub.
// Use it for backends without a native change signal. Publish failures
// are logged and not returned: the write itself succeeded.
func Notifying(s Storage, pub Publisher, logger *slog.Logger) Storage {
	if logger == nil {
		logger = slog.Default()
	}
	return &notifying{next: s, pub: pub, logger: logger}
}

func (n *notifying) GetItem(ctx context.Context, key string) (string, bool, error) {
	return n.next.GetItem(ctx, key)
}

func (n *notifying) SetItem(ctx context.Context, key, value string) error {
	if err := n.next.SetItem(ctx, key, value); err != nil {
		return err
	}
	n.publish(ctx, key)
	return nil
}

func (n *notifying) RemoveItem(ctx context.Context, key string) error {
	if err := n.next.RemoveItem(ctx, key); err != nil {
		return err
	}
	n.publish(ctx, key)
	return nil
}

func (n *notifying) publish(ctx context.Context, key string) {
	if err := n.pub.Publish(ctx, key); err != nil {
		n.logger.Warn("localstore: change announcement failed", "key", key, "error", err)
	}
}

// Unwrap returns the wrapped store.
func (n *notifying) Unwrap() Storage {
	return n.next
}
