package model

// Tier is the subscription class of a tenant. It determines the
// per-tenant connection cap.
type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// TierLimits maps a tier to its maximum number of concurrent connections.
// A tier absent from the map fails closed (limit zero).
type TierLimits map[Tier]int

// DefaultTierLimits returns the deployment defaults.
func DefaultTierLimits() TierLimits {
	return TierLimits{
		TierFree:       10,
		TierPro:        100,
		TierEnterprise: 1000,
	}
}

// Limit resolves the cap for a tier. Unknown tiers get zero.
func (tl TierLimits) Limit(t Tier) int {
	return tl[t]
}

// Valid reports whether t is one of the recognized tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierPro, TierEnterprise:
		return true
	}
	return false
}
