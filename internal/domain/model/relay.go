package model

// RelayResult reports the outcome of one relay operation.
type RelayResult struct {
	// Delivered is the number of live mailbox handoffs.
	Delivered int `json:"delivered"`
	// Buffered reports whether at least one copy was parked for an
	// absent or saturated target.
	Buffered bool `json:"buffered"`
	// Deferred counts recipients whose transport signalled saturation.
	Deferred int `json:"deferred"`
	// DroppedBytes accumulates broadcast copies lost to buffer overflow.
	DroppedBytes int `json:"dropped_bytes,omitempty"`
}
