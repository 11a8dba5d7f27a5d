// Package protocol defines the WebSocket message types and structures used
// for communication between the chat engine and the messaging server. All
// messages are serialized as JSON and follow a consistent envelope format
// with a type discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/keyhaven/chat-engine/internal/message"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeTyping     = "typing"
	TypeStopTyping = "stop_typing"
	TypePing       = "ping"
)

// Server -> Client message types.
const (
	TypeNewMessage   = "new_message"
	TypeOnlineUsers  = "online_users"
	TypeUserTyping   = "user_typing"
	TypeUserStopped  = "user_stopped_typing"
	TypeMessagesRead = "messages_read"
	TypeError        = "error"
	TypePong         = "pong"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// TypingMsg tells the server the client started typing to a counterpart.
type TypingMsg struct {
	Type string `json:"type"`
	To   string `json:"to"`
}

// StopTypingMsg tells the server the client stopped typing to a counterpart.
type StopTypingMsg struct {
	Type string `json:"type"`
	To   string `json:"to"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// NewMessageMsg delivers a freshly created message to its receiver.
type NewMessageMsg struct {
	Type    string          `json:"type"`
	Message message.Message `json:"message"`
}

// OnlineUsersMsg carries the full membership snapshot. The server broadcasts
// it wholesale whenever presence changes; clients replace their local set
// rather than applying deltas. LastSeen maps offline identities the client
// may care about to their most recent disconnect time.
type OnlineUsersMsg struct {
	Type     string               `json:"type"`
	Online   []string             `json:"online"`
	LastSeen map[string]time.Time `json:"last_seen,omitempty"`
}

// UserTypingMsg relays a counterpart's typing indicator.
type UserTypingMsg struct {
	Type string `json:"type"`
	From string `json:"from"`
}

// UserStoppedMsg relays that a counterpart stopped typing.
type UserStoppedMsg struct {
	Type string `json:"type"`
	From string `json:"from"`
}

// MessagesReadMsg tells a sender that the counterpart has read every message
// the sender had delivered to them so far.
type MessagesReadMsg struct {
	Type   string    `json:"type"`
	Reader string    `json:"reader"`
	ReadAt time.Time `json:"read_at"`
}

// ErrorMsg is sent by the server to communicate an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeTyping:
		var m TypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeStopTyping:
		var m StopTypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// ParseServerMessage parses raw WebSocket bytes pushed by the server into a
// typed server message. It is the client-side mirror of ParseClientMessage.
func ParseServerMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeNewMessage:
		var m NewMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeOnlineUsers:
		var m OnlineUsersMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeUserTyping:
		var m UserTypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeUserStopped:
		var m UserStoppedMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMessagesRead:
		var m MessagesReadMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeError:
		var m ErrorMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePong:
		var m PongMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown server message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewMessage creates a JSON-encoded byte slice for a wire message going in
// either direction. The msgType is injected into the payload under the
// "type" key so callers can leave the Type field zero on the payload struct.
func NewMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal wire message: %w", err)
	}
	return out, nil
}
