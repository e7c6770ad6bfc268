package domain

import "time"

// Tier is a user's service level. It selects the rate budget and the
// pacing between analysis batches.
type Tier string

// Available tiers.
const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// IsValid returns true if the tier is recognised.
func (t Tier) IsValid() bool {
	switch t {
	case TierFree, TierPro, TierEnterprise:
		return true
	default:
		return false
	}
}

// String returns the string representation.
func (t Tier) String() string {
	return string(t)
}

// AllTiers returns every tier in ascending order of budget.
func AllTiers() []Tier {
	return []Tier{TierFree, TierPro, TierEnterprise}
}

// TierLimits is the request budget for one tier.
type TierLimits struct {
	// Requests is the number of model calls allowed per window.
	Requests int `validate:"gt=0"`

	// PerMinutes is the window length in minutes.
	PerMinutes int `validate:"gt=0"`

	// DelayBetweenChunks is the minimum pause between two batches.
	DelayBetweenChunks time.Duration `validate:"gte=0"`
}

// Window returns the window duration.
func (l TierLimits) Window() time.Duration {
	return time.Duration(l.PerMinutes) * time.Minute
}

// DefaultTierLimits returns the built-in budgets.
func DefaultTierLimits() map[Tier]TierLimits {
	return map[Tier]TierLimits{
		TierFree:       {Requests: 15, PerMinutes: 1, DelayBetweenChunks: 4 * time.Second},
		TierPro:        {Requests: 60, PerMinutes: 1, DelayBetweenChunks: time.Second},
		TierEnterprise: {Requests: 300, PerMinutes: 1, DelayBetweenChunks: 200 * time.Millisecond},
	}
}

// RateBudget is the mutable per-tier counter owned by the rate limiter.
type RateBudget struct {
	WindowStart     time.Time
	RequestCount    int
	Limit           int
	Window          time.Duration
	InterBatchDelay time.Duration
}

// Expired reports whether the window has rolled over at now.
func (b RateBudget) Expired(now time.Time) bool {
	return now.Sub(b.WindowStart) > b.Window
}
