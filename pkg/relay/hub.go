package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/vango-dev/localstore/pkg/broadcast"
)

// peer is one hub connection. Writes are serialized because a websocket
// connection supports a single concurrent writer.
type peer struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

func (p *peer) write(data []byte) error {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithHubLogger sets the logger for dropped connections and bad frames.
func WithHubLogger(logger *slog.Logger) HubOption {
	return func(h *Hub) {
		h.logger = logger
	}
}

// WithOnRelay sets a callback invoked once for every change message the
// hub accepts, before it is rebroadcast.
func WithOnRelay(fn func(msg Message)) HubOption {
	return func(h *Hub) {
		h.onRelay = fn
	}
}

// WithCheckOrigin sets the origin check for the websocket upgrade.
// Default: allow all origins.
func WithCheckOrigin(fn func(r *http.Request) bool) HubOption {
	return func(h *Hub) {
		h.upgrader.CheckOrigin = fn
	}
}

// Hub rebroadcasts change messages between connected clients. The hub
// process itself takes part as one more context: Publish announces its own
// writes to every client and Subscribe observes every client's writes.
type Hub struct {
	mu       sync.RWMutex
	peers    map[*peer]bool
	upgrader websocket.Upgrader
	logger   *slog.Logger
	onRelay  func(Message)
	subs     *broadcast.Bus
}

// NewHub creates a new hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		peers:  make(map[*peer]bool),
		logger: slog.Default(),
		subs:   broadcast.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP upgrades the request and relays its messages until the client
// disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := h.upgrader.Upgrade(w, req, nil)
	if err != nil {
		h.logger.Debug("localstore: relay upgrade failed", "remote", req.RemoteAddr, "error", err)
		return
	}

	p := &peer{conn: conn}
	h.mu.Lock()
	h.peers[p] = true
	h.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type != TypeChange {
			h.logger.Debug("localstore: ignoring relay frame", "remote", req.RemoteAddr)
			continue
		}
		if h.onRelay != nil {
			h.onRelay(msg)
		}
		h.broadcast(data, p)
		h.subs.Publish(changedEvent, msg.Key)
	}

	h.drop(p)
}

// Publish announces a change made by the hub process to every client.
func (h *Hub) Publish(ctx context.Context, key string) error {
	data, err := json.Marshal(Message{Type: TypeChange, Origin: "hub", Key: key})
	if err != nil {
		return err
	}
	h.broadcast(data, nil)
	return nil
}

// Subscribe registers fn for changes announced by clients.
func (h *Hub) Subscribe(fn func()) (cancel func()) {
	if fn == nil {
		return func() {}
	}
	return h.subs.Subscribe(changedEvent, func(any) { fn() })
}

// broadcast sends data to every peer except from.
func (h *Hub) broadcast(data []byte, from *peer) {
	h.mu.RLock()
	peers := make([]*peer, 0, len(h.peers))
	for p := range h.peers {
		if p != from {
			peers = append(peers, p)
		}
	}
	h.mu.RUnlock()

	for _, p := range peers {
		if err := p.write(data); err != nil {
			h.logger.Debug("localstore: dropping relay peer", "error", err)
			h.drop(p)
		}
	}
}

func (h *Hub) drop(p *peer) {
	h.mu.Lock()
	delete(h.peers, p)
	h.mu.Unlock()
	p.conn.Close()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

// Close closes all client connections and drops subscribers.
func (h *Hub) Close() {
	h.subs.Close()

	h.mu.Lock()
	defer h.mu.Unlock()

	for p := range h.peers {
		p.conn.Close()
		delete(h.peers, p)
	}
}
