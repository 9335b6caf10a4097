package model

import "time"

// TenantMetrics is a consistent point-in-time view of a single tenant.
type TenantMetrics struct {
	TenantID          string    `json:"tenant_id"`
	Tier              Tier      `json:"tier"`
	ActiveConnections int       `json:"active_connections"`
	BufferedMessages  int       `json:"buffered_messages"`
	BufferedBytes     int64     `json:"buffered_bytes"`
	MessagesRelayed   uint64    `json:"messages_relayed"`
	BytesRelayed      uint64    `json:"bytes_relayed"`
	LastActivityAt    time.Time `json:"last_activity_at"`
}

// ConnectionInfo describes a single live connection.
type ConnectionInfo struct {
	ID              string    `json:"id"`
	TenantID        string    `json:"tenant_id"`
	ConnectedAt     time.Time `json:"connected_at"`
	LastMessageAt   time.Time `json:"last_message_at,omitzero"`
	MessagesRelayed uint64    `json:"messages_relayed"`
	BytesRelayed    uint64    `json:"bytes_relayed"`
}

// Snapshot is the queryable telemetry export of the whole relay.
type Snapshot struct {
	Status            string           `json:"status"`
	TotalTenants      int              `json:"total_tenants"`
	TotalConnections  int              `json:"total_connections"`
	MessagesPerSecond float64          `json:"messages_per_second"`
	BytesPerSecond    float64          `json:"bytes_per_second"`
	BufferUtilization float64          `json:"buffer_utilization"`
	UptimeMs          int64            `json:"uptime_ms"`
	DLQSizeByKind     map[string]int   `json:"dlq_size_by_kind"`
	Webhooks          []WebhookStats   `json:"webhooks"`
	Bus               BusStats         `json:"bus"`
	Tenants           []TenantMetrics  `json:"tenants,omitempty"`
}

// WebhookStats summarizes delivery outcomes for one registration.
type WebhookStats struct {
	RegistrationID string `json:"registration_id"`
	URL            string `json:"url"`
	Circuit        string `json:"circuit"`
	Sent           uint64 `json:"sent"`
	Failed         uint64 `json:"failed"`
	DeadLettered   uint64 `json:"dead_lettered"`
}

// BusStats summarizes event bus health counters.
type BusStats struct {
	Subscriptions          int    `json:"subscriptions"`
	Published              uint64 `json:"published"`
	FilterErrors           uint64 `json:"filter_errors"`
	DroppedByQueuePressure uint64 `json:"dropped_by_queue_pressure"`
}
