package model

import "errors"

// Admission errors are returned to the caller of Connect.
var (
	ErrUnknownTenant = errors.New("unknown tenant")
	ErrCapExceeded   = errors.New("connection cap exceeded")
	ErrRateLimited   = errors.New("rate limited")
	ErrDraining      = errors.New("draining")
)

// Relay errors.
var (
	ErrUnknownSender    = errors.New("unknown sender connection")
	ErrBufferFull       = errors.New("tenant buffer full")
	ErrPayloadTooLarge  = errors.New("payload too large")
	ErrDeliveryDeferred = errors.New("delivery deferred")
)

// Bus errors.
var (
	ErrReplayTruncated = errors.New("replay window truncated")
	ErrQueueOverflow   = errors.New("subscription queue overflow")
	ErrUnknownTopic    = errors.New("unknown topic")
)

// Lifecycle errors.
var (
	ErrNotStarted     = errors.New("not started")
	ErrAlreadyStopped = errors.New("already stopped")
	ErrDestroyed      = errors.New("destroyed")
)

// ErrorCode maps a taxonomy error to its stable wire identifier.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnknownTenant):
		return "UnknownTenant"
	case errors.Is(err, ErrCapExceeded):
		return "CapExceeded"
	case errors.Is(err, ErrRateLimited):
		return "RateLimited"
	case errors.Is(err, ErrDraining):
		return "Draining"
	case errors.Is(err, ErrUnknownSender):
		return "UnknownSender"
	case errors.Is(err, ErrBufferFull):
		return "BufferFull"
	case errors.Is(err, ErrPayloadTooLarge):
		return "PayloadTooLarge"
	case errors.Is(err, ErrDeliveryDeferred):
		return "DeliveryDeferred"
	case errors.Is(err, ErrReplayTruncated):
		return "ReplayTruncated"
	case errors.Is(err, ErrNotStarted):
		return "NotStarted"
	case errors.Is(err, ErrAlreadyStopped):
		return "AlreadyStopped"
	case errors.Is(err, ErrDestroyed):
		return "Destroyed"
	default:
		return "Internal"
	}
}
