// Package ratelimit enforces per-tier request budgets for model calls.
//
// The budget is a fixed window: every tier may issue Requests calls per
// window of PerMinutes minutes. When the budget is spent, callers wait out
// the remainder of the window plus a safety margin. Budgets are process
// local and are not persisted.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/custodia-labs/lectern/internal/core/domain"
	"github.com/custodia-labs/lectern/internal/logger"
)

// DefaultSafetyMargin is added to every window wait.
const DefaultSafetyMargin = time.Second

// Limiter is a fixed-window limiter keyed by tier.
// It is safe for concurrent use; requests for the same tier are serialised.
type Limiter struct {
	mu     sync.Mutex
	tiers  map[domain.Tier]*tierState
	limits map[domain.Tier]domain.TierLimits
	margin time.Duration
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

type tierState struct {
	mu     sync.Mutex
	budget domain.RateBudget
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithSafetyMargin overrides the margin added to window waits.
func WithSafetyMargin(d time.Duration) Option {
	return func(l *Limiter) {
		if d >= 0 {
			l.margin = d
		}
	}
}

// WithClock replaces the time source and the sleep function.
// Intended for tests.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
		if sleep != nil {
			l.sleep = sleep
		}
	}
}

// New creates a limiter for the given tier limits.
// Tiers missing from limits use the built-in defaults.
func New(limits map[domain.Tier]domain.TierLimits, opts ...Option) *Limiter {
	merged := domain.DefaultTierLimits()
	for tier, l := range limits {
		if l.Requests > 0 && l.PerMinutes > 0 {
			merged[tier] = l
		}
	}

	l := &Limiter{
		tiers:  make(map[domain.Tier]*tierState),
		limits: merged,
		margin: DefaultSafetyMargin,
		now:    time.Now,
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Limits returns the limits in effect for a tier.
// Unknown tiers are treated as the free tier.
func (l *Limiter) Limits(tier domain.Tier) domain.TierLimits {
	if limits, ok := l.limits[tier]; ok {
		return limits
	}
	return l.limits[domain.TierFree]
}

// Acquire blocks until a request slot is available for the tier.
// It returns an error only when ctx is cancelled.
func (l *Limiter) Acquire(ctx context.Context, tier domain.Tier) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	state := l.state(tier)
	state.mu.Lock()
	defer state.mu.Unlock()

	b := &state.budget
	now := l.now()
	if b.WindowStart.IsZero() || b.Expired(now) {
		b.WindowStart = now
		b.RequestCount = 0
	}

	if b.RequestCount < b.Limit {
		b.RequestCount++
		return nil
	}

	wait := b.Window - now.Sub(b.WindowStart) + l.margin
	if wait < l.margin {
		wait = l.margin
	}
	logger.Debug("rate limit: tier %s spent %d/%d, waiting %s", tier, b.RequestCount, b.Limit, wait)

	if err := l.sleep(ctx, wait); err != nil {
		return err
	}

	b.WindowStart = l.now()
	b.RequestCount = 1
	return nil
}

// Snapshot returns a copy of the current budget of a tier.
func (l *Limiter) Snapshot(tier domain.Tier) domain.RateBudget {
	state := l.state(tier)
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.budget
}

func (l *Limiter) state(tier domain.Tier) *tierState {
	if _, ok := l.limits[tier]; !ok {
		tier = domain.TierFree
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.tiers[tier]
	if !ok {
		limits := l.limits[tier]
		s = &tierState{budget: domain.RateBudget{
			Limit:           limits.Requests,
			Window:          limits.Window(),
			InterBatchDelay: limits.DelayBetweenChunks,
		}}
		l.tiers[tier] = s
	}
	return s
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
