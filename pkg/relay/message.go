package relay

// MessageType identifies a relay message.
type MessageType string

const (
	// TypeChange announces that an entry was written or removed.
	TypeChange MessageType = "change"
)

// Message is the JSON frame exchanged between clients and the hub.
type Message struct {
	Type   MessageType `json:"type"`
	Origin string      `json:"origin,omitempty"`
	Key    string      `json:"key,omitempty"`
}

// changedEvent is the bus event subscribers are registered under.
const changedEvent = "relay.change"
