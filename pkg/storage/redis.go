package storage

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/vango-dev/localstore/pkg/broadcast"
)

// Redis is a Redis-backed store. Every write is followed by a message on a
// pub/sub channel; the change signal fires for messages published by other
// Redis instances (other contexts), never for this instance's own writes.
type Redis struct {
	client  redis.UniversalClient
	prefix  string
	channel string
	origin  string
	logger  *slog.Logger

	subs *broadcast.Bus

	mu     sync.Mutex
	pubsub *redis.PubSub
	cancel context.CancelFunc
	closed bool
}

// RedisOption configures Redis behavior.
type RedisOption func(*redisConfig)

type redisConfig struct {
	prefix  string
	channel string
	logger  *slog.Logger
}

// WithRedisPrefix sets the key prefix.
// Default: "localstore:".
func WithRedisPrefix(prefix string) RedisOption {
	return func(c *redisConfig) {
		c.prefix = prefix
	}
}

// WithRedisChannel sets the pub/sub channel used for change messages.
// Default: "localstore:changes".
func WithRedisChannel(channel string) RedisOption {
	return func(c *redisConfig) {
		c.channel = channel
	}
}

// WithRedisLogger sets the logger for pub/sub failures.
func WithRedisLogger(logger *slog.Logger) RedisOption {
	return func(c *redisConfig) {
		c.logger = logger
	}
}

// redisChange is the pub/sub message body.
type redisChange struct {
	Origin string `json:"origin"`
	Key    string `json:"key"`
}

// NewRedis creates a new Redis-backed store. The caller keeps ownership of
// client.
func NewRedis(client redis.UniversalClient, opts ...RedisOption) *Redis {
	cfg := &redisConfig{
		prefix:  "localstore:",
		channel: "localstore:changes",
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return &Redis{
		client:  client,
		prefix:  cfg.prefix,
		channel: cfg.channel,
		origin:  uuid.NewString(),
		logger:  cfg.logger,
		subs:    broadcast.New(),
	}
}

func (r *Redis) key(key string) string {
	return r.prefix + key
}

func (r *Redis) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// GetItem returns the value stored for key.
func (r *Redis) GetItem(ctx context.Context, key string) (string, bool, error) {
	if r.isClosed() {
		return "", false, ErrClosed
	}

	value, err := r.client.Get(ctx, r.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

// SetItem stores value without expiration and announces the change.
func (r *Redis) SetItem(ctx context.Context, key, value string) error {
	if r.isClosed() {
		return ErrClosed
	}

	if err := r.client.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		return err
	}
	r.announce(ctx, key)
	return nil
}

// RemoveItem deletes key and announces the change.
func (r *Redis) RemoveItem(ctx context.Context, key string) error {
	if r.isClosed() {
		return ErrClosed
	}

	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return err
	}
	r.announce(ctx, key)
	return nil
}

// announce publishes a change message. The write already succeeded, so a
// publish failure only delays other contexts and is logged, not returned.
func (r *Redis) announce(ctx context.Context, key string) {
	body, err := json.Marshal(redisChange{Origin: r.origin, Key: key})
	if err != nil {
		return
	}
	if err := r.client.Publish(ctx, r.channel, body).Err(); err != nil {
		r.logger.Warn("localstore: redis publish failed",
			"channel", r.channel, "key", key, "error", err)
	}
}

// Subscribe registers fn for changes announced by other contexts. The
// pub/sub connection is opened on first use.
func (r *Redis) Subscribe(fn func()) (cancel func()) {
	if fn == nil {
		return func() {}
	}

	if err := r.listen(); err != nil {
		r.logger.Warn("localstore: redis subscribe failed", "channel", r.channel, "error", err)
	}
	return r.subs.Subscribe(changedEvent, func(any) { fn() })
}

func (r *Redis) listen() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if r.pubsub != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	ps := r.client.Subscribe(ctx, r.channel)

	// Wait for the subscription confirmation so writes made right after
	// Subscribe returns are not missed.
	confirmCtx, confirmCancel := context.WithTimeout(ctx, 5*time.Second)
	defer confirmCancel()
	if _, err := ps.Receive(confirmCtx); err != nil {
		cancel()
		ps.Close()
		return err
	}

	r.pubsub = ps
	r.cancel = cancel
	go r.loop(ps.Channel())
	return nil
}

func (r *Redis) loop(ch <-chan *redis.Message) {
	for msg := range ch {
		var change redisChange
		if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
			r.logger.Debug("localstore: ignoring malformed change message",
				"channel", msg.Channel, "error", err)
			continue
		}
		if change.Origin == r.origin {
			continue
		}
		r.subs.Publish(changedEvent, change.Key)
	}
}

// Origin returns the identifier this instance stamps on its change messages.
func (r *Redis) Origin() string {
	return r.origin
}

// Close stops the pub/sub listener.
// Note: This does not close the underlying Redis client,
// as it may be shared with other components.
func (r *Redis) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	ps, cancel := r.pubsub, r.cancel
	r.mu.Unlock()

	r.subs.Close()
	if ps == nil {
		return nil
	}

	cancel()
	return ps.Close()
}
