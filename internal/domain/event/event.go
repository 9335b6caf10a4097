package event

import "time"

// Stable event categories emitted by the core. These double as bus topics.
const (
	ClientConnected    = "client-connected"
	ClientDisconnected = "client-disconnected"
	MessageRelayed     = "message-relayed"
	BufferOverflow     = "buffer-overflow"
	BufferExpired      = "buffer-expired"
	TenantThrottled    = "tenant-throttled"
	TenantRemoved      = "tenant-removed"
	TenantTierChanged  = "tenant-tier-changed"
	HealthCheck        = "health-check"
	WebhookSent        = "webhook-sent"
	WebhookFailed      = "webhook-failed"
	WebhookDLQ         = "webhook-dlq"
	BusDLQ             = "bus-dlq"
	RuleDisabled       = "rule-disabled"
)

const ContentTypeJSON = "application/json"

// Event is an immutable data packet flowing through the bus. The payload
// is opaque to every component in the core.
type Event struct {
	Topic         string    `json:"topic"`
	Payload       []byte    `json:"payload"`
	ContentType   string    `json:"content_type"`
	Sequence      uint64    `json:"sequence"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	TenantID      string    `json:"tenant_id,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`

	// Hops counts how many trigger rules have fired in this event's
	// causal chain. Guards against rule fan-out cycles.
	Hops int `json:"hops,omitempty"`
}
