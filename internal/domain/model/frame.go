package model

import "time"

// FrameType enumerates the framed wire protocol between client and relay.
type FrameType string

const (
	// Client -> server control frames.
	FrameHello FrameType = "HELLO"
	FramePing  FrameType = "PING"
	FramePong  FrameType = "PONG"
	FrameBye   FrameType = "BYE"

	// Client -> server data frame.
	FrameRelay FrameType = "RELAY"

	// Server -> client frames.
	FrameWelcome FrameType = "WELCOME"
	FrameDeliver FrameType = "DELIVER"
	FrameError   FrameType = "ERROR"
)

// MaxRelayPayloadBytes caps a single RELAY payload.
const MaxRelayPayloadBytes = 1 << 20 // 1 MiB

// Frame is the JSON envelope for all wire messages. Payload travels
// base64-encoded by encoding/json.
type Frame struct {
	Type FrameType `json:"type"`

	// HELLO
	TenantID      string `json:"tenantId,omitempty"`
	ClientVersion string `json:"clientVersion,omitempty"`

	// RELAY
	Target  string `json:"target,omitempty"`
	Payload []byte `json:"payload,omitempty"`

	// BYE
	Reason string `json:"reason,omitempty"`

	// WELCOME
	ConnectionID string `json:"connectionId,omitempty"`
	ServerTime   int64  `json:"serverTime,omitempty"`

	// DELIVER
	From string `json:"from,omitempty"`

	// ERROR
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Delivery is the unit handed to a connection's transport adapter.
type Delivery struct {
	From       string
	Payload    []byte
	EnqueuedAt time.Time
}
