package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vango-dev/localstore/internal/errors"
	"github.com/vango-dev/localstore/pkg/broadcast"
)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientLogger sets the logger for read loop failures.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithDialer sets the websocket dialer. Default: websocket.DefaultDialer.
func WithDialer(d *websocket.Dialer) ClientOption {
	return func(c *Client) {
		c.dialer = d
	}
}

// Client is a hub connection. It publishes local writes and signals
// subscribers when another client announces one.
type Client struct {
	conn   *websocket.Conn
	dialer *websocket.Dialer
	origin string
	logger *slog.Logger
	subs   *broadcast.Bus

	wmu    sync.Mutex
	once   sync.Once
	closed atomic.Bool
	done   chan struct{}
}

// Dial connects to the hub at url.
func Dial(ctx context.Context, url string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		dialer: websocket.DefaultDialer,
		origin: uuid.NewString(),
		logger: slog.Default(),
		subs:   broadcast.New(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	conn, _, err := c.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.New("E060").
			WithDetail("Could not connect to " + url).
			Wrap(err)
	}
	c.conn = conn

	go c.readLoop()
	return c, nil
}

// Origin returns the identifier stamped on this client's messages.
func (c *Client) Origin() string {
	return c.origin
}

// Publish announces that key changed.
func (c *Client) Publish(ctx context.Context, key string) error {
	data, err := json.Marshal(Message{Type: TypeChange, Origin: c.origin, Key: key})
	if err != nil {
		return err
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetWriteDeadline(deadline)
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return errors.New("E060").Wrap(err)
	}
	return nil
}

// Subscribe registers fn for changes announced by other clients.
func (c *Client) Subscribe(fn func()) (cancel func()) {
	if fn == nil {
		return func() {}
	}
	return c.subs.Subscribe(changedEvent, func(any) { fn() })
}

func (c *Client) readLoop() {
	defer close(c.done)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !c.closed.Load() {
				c.logger.Warn("localstore: relay connection lost", "error", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Debug("localstore: ignoring relay frame", "error", errors.New("E061").Wrap(err))
			continue
		}
		if msg.Type != TypeChange || msg.Origin == c.origin {
			continue
		}
		c.subs.Publish(changedEvent, msg.Key)
	}
}

// Done is closed when the connection has ended.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close sends a close frame, closes the connection and waits for the read
// loop to exit. It must not be called from a subscriber callback.
func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		c.closed.Store(true)

		c.wmu.Lock()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.wmu.Unlock()

		err = c.conn.Close()
		<-c.done
		c.subs.Close()
	})
	return err
}
