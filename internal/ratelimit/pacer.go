package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Pacer spaces consecutive batches of one pipeline run.
// The first Wait returns immediately; later calls wait until at least
// the configured delay has passed since the previous one.
type Pacer struct {
	limiter *rate.Limiter
}

// NewPacer creates a pacer with the given minimum delay.
// A non-positive delay disables pacing.
func NewPacer(delay time.Duration) *Pacer {
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	return &Pacer{limiter: rate.NewLimiter(limit, 1)}
}

// Wait blocks until the next batch may start or ctx is cancelled.
func (p *Pacer) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}
