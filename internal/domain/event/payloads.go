package event

// Payload bodies for the core's own lifecycle events. They carry
// identifiers and sizes, never relayed payload bytes.

type ConnectedPayload struct {
	TenantID     string `json:"tenant_id"`
	ConnectionID string `json:"connection_id"`
}

type DisconnectedPayload struct {
	TenantID     string `json:"tenant_id"`
	ConnectionID string `json:"connection_id"`
	Reason       string `json:"reason,omitempty"`
}

type RelayedPayload struct {
	TenantID  string `json:"tenant_id"`
	SenderID  string `json:"sender_id"`
	TargetID  string `json:"target_id,omitempty"`
	Bytes     int    `json:"bytes"`
	Delivered int    `json:"delivered"`
	Buffered  bool   `json:"buffered"`
}

type ThrottledPayload struct {
	TenantID string `json:"tenant_id"`
	Reason   string `json:"reason"`
	Limit    int    `json:"limit,omitempty"`
}

// Throttle reasons.
const (
	ThrottleReasonRate           = "rate"
	ThrottleReasonMaxConnections = "max_connections"
)

type BufferOverflowPayload struct {
	TenantID     string `json:"tenant_id"`
	TargetID     string `json:"target_id"`
	DroppedBytes int    `json:"dropped_bytes"`
}

type BufferExpiredPayload struct {
	TenantID     string `json:"tenant_id"`
	ExpiredCount int    `json:"expired_count"`
	ExpiredBytes int    `json:"expired_bytes"`
}

type TenantRemovedPayload struct {
	TenantID string `json:"tenant_id"`
}

type TierChangedPayload struct {
	TenantID string `json:"tenant_id"`
	OldTier  string `json:"old_tier"`
	NewTier  string `json:"new_tier"`
}

type HealthCheckPayload struct {
	Status           string  `json:"status"`
	TotalTenants     int     `json:"total_tenants"`
	TotalConnections int     `json:"total_connections"`
	UptimeMs         int64   `json:"uptime_ms"`
	MessagesPerSec   float64 `json:"messages_per_sec"`
}

type WebhookOutcomePayload struct {
	RegistrationID string `json:"registration_id"`
	Topic          string `json:"topic"`
	Sequence       uint64 `json:"sequence"`
	Attempt        int    `json:"attempt"`
	StatusCode     int    `json:"status_code,omitempty"`
	ErrorKind      string `json:"error_kind,omitempty"`
}

type DLQPayload struct {
	Target    string `json:"target"`
	Topic     string `json:"topic"`
	Sequence  uint64 `json:"sequence"`
	ErrorKind string `json:"error_kind"`
	Attempts  int    `json:"attempts"`
}

type RuleDisabledPayload struct {
	RuleID string `json:"rule_id"`
	Error  string `json:"error"`
}
