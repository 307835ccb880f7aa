// Package message defines the mpclip sync protocol.
//
// All messages are newline-delimited JSON. Clip text is base64-encoded so that
// any byte sequence the clipboard produced survives the JSON round-trip.
// Each message is exactly one line: <json>\n
package message

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// Type identifies the kind of message.
type Type string

const (
	TypeClip           Type = "CLIP"
	TypePing           Type = "PING"
	TypePong           Type = "PONG"
	TypeAuth           Type = "AUTH"
	TypeStatus         Type = "STATUS"
	TypeStatusResponse Type = "STATUS_RESPONSE"
	TypeError          Type = "ERROR"
	TypeStop           Type = "STOP" // local IPC only
)

// Role identifies what answered a STATUS request.
type Role string

const (
	RoleRelay Role = "relay"
	RoleAgent Role = "agent"
)

// ErrAuthFailed is the ERROR text a relay sends before closing an
// unauthenticated connection.
const ErrAuthFailed = "auth_failed"

// Clip is one clipboard text with its origin and creation time.
type Clip struct {
	Data      string    `json:"data"` // base64-encoded UTF-8 text
	Source    string    `json:"source,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewClip stamps text with the current time.
func NewClip(text, source string) *Clip {
	return &Clip{
		Data:      base64.StdEncoding.EncodeToString([]byte(text)),
		Source:    source,
		Timestamp: time.Now().UTC(),
	}
}

// Text returns the decoded clip text.
func (c *Clip) Text() (string, error) {
	b, err := base64.StdEncoding.DecodeString(c.Data)
	if err != nil {
		return "", fmt.Errorf("clip decode: %w", err)
	}
	return string(b), nil
}

// Before reports whether c was created strictly before other.
func (c *Clip) Before(other *Clip) bool { return c.Timestamp.Before(other.Timestamp) }

// PeerInfo carries metadata about a relay peer, used in STATUS responses.
type PeerInfo struct {
	ID          string    `json:"id"`
	Source      string    `json:"source"`
	Addr        string    `json:"addr"`
	ConnectedAt time.Time `json:"connected_at"`
	LastSeen    time.Time `json:"last_seen"`
}

// AgentInfo is the agent's view of itself in a STATUS response.
type AgentInfo struct {
	Server    string   `json:"server"`
	Connected bool     `json:"connected"`
	Seat      string   `json:"seat,omitempty"`
	Lines     []string `json:"lines,omitempty"`

	Selections uint64 `json:"selections"`
	Emitted    uint64 `json:"emitted"`
	Superseded uint64 `json:"superseded"`
}

// Message is the top-level wire envelope.
type Message struct {
	// Always present
	Type   Type   `json:"type"`
	Source string `json:"source,omitempty"`

	// CLIP
	Clip *Clip `json:"clip,omitempty"`

	// AUTH: token, base64-encoded
	Payload string `json:"payload,omitempty"`

	// STATUS_RESPONSE
	Role  Role       `json:"role,omitempty"`
	Peers []PeerInfo `json:"peers,omitempty"`
	Agent *AgentInfo `json:"agent,omitempty"`

	// ERROR
	Error string `json:"error,omitempty"`
}

// Encode serialises the message to JSON without a trailing newline.
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Decode deserialises a message from raw JSON bytes.
func Decode(b []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("message decode: %w", err)
	}
	if m.Type == "" {
		return nil, fmt.Errorf("message decode: missing type")
	}
	return &m, nil
}

// NewAuth builds the AUTH message a client sends first when a token is set.
func NewAuth(source, token string) *Message {
	return &Message{
		Type:    TypeAuth,
		Source:  source,
		Payload: base64.StdEncoding.EncodeToString([]byte(token)),
	}
}

// Token returns the decoded AUTH token, or "" if it is malformed.
func (m *Message) Token() string {
	b, err := base64.StdEncoding.DecodeString(m.Payload)
	if err != nil {
		return ""
	}
	return string(b)
}
