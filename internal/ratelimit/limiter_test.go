package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/lectern/internal/core/domain"
)

// fakeClock advances only when the limiter sleeps or the test moves it.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func newTestLimiter(clock *fakeClock, requests int) *Limiter {
	limits := map[domain.Tier]domain.TierLimits{
		domain.TierFree: {Requests: requests, PerMinutes: 1, DelayBetweenChunks: time.Second},
	}
	return New(limits, WithClock(clock.Now, clock.Sleep))
}

func TestAcquire_WithinBudget(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock, 3)

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Acquire(context.Background(), domain.TierFree))
	}

	assert.Empty(t, clock.sleeps)
	assert.Equal(t, 3, l.Snapshot(domain.TierFree).RequestCount)
}

func TestAcquire_WaitsAtLimit(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock, 2)
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx, domain.TierFree))
	clock.Advance(20 * time.Second)
	require.NoError(t, l.Acquire(ctx, domain.TierFree))

	start := l.Snapshot(domain.TierFree).WindowStart
	require.NoError(t, l.Acquire(ctx, domain.TierFree))

	require.Len(t, clock.sleeps, 1)
	assert.Equal(t, 40*time.Second+DefaultSafetyMargin, clock.sleeps[0])

	b := l.Snapshot(domain.TierFree)
	assert.Equal(t, 1, b.RequestCount, "the waiting request counts in the new window")
	assert.True(t, b.WindowStart.After(start))
}

func TestAcquire_RequestsNeverExceedLimitPerWindow(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock, 5)

	windows := map[time.Time]int{}
	for i := 0; i < 23; i++ {
		require.NoError(t, l.Acquire(context.Background(), domain.TierFree))
		windows[l.Snapshot(domain.TierFree).WindowStart]++
		clock.Advance(time.Second)
	}

	for start, count := range windows {
		assert.LessOrEqual(t, count, 5, "window starting %s", start)
	}
}

func TestAcquire_ResetsExpiredWindow(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock, 1)
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx, domain.TierFree))
	clock.Advance(time.Minute + time.Millisecond)
	require.NoError(t, l.Acquire(ctx, domain.TierFree))

	assert.Empty(t, clock.sleeps)
	assert.Equal(t, 1, l.Snapshot(domain.TierFree).RequestCount)
}

func TestAcquire_WindowBoundaryIsInclusive(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock, 1)
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx, domain.TierFree))
	clock.Advance(time.Minute)
	require.NoError(t, l.Acquire(ctx, domain.TierFree))

	require.Len(t, clock.sleeps, 1)
	assert.Equal(t, DefaultSafetyMargin, clock.sleeps[0])
}

func TestAcquire_CancelledContext(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock, 1)

	require.NoError(t, l.Acquire(context.Background(), domain.TierFree))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := l.Acquire(ctx, domain.TierFree)

	assert.ErrorIs(t, err, context.Canceled)
}

func TestAcquire_TiersAreIndependent(t *testing.T) {
	clock := newFakeClock()
	l := New(map[domain.Tier]domain.TierLimits{
		domain.TierFree: {Requests: 1, PerMinutes: 1},
		domain.TierPro:  {Requests: 1, PerMinutes: 1},
	}, WithClock(clock.Now, clock.Sleep))
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx, domain.TierFree))
	require.NoError(t, l.Acquire(ctx, domain.TierPro))

	assert.Empty(t, clock.sleeps)
}

func TestAcquire_UnknownTierUsesFree(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock, 1)
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx, domain.Tier("platinum")))
	require.NoError(t, l.Acquire(ctx, domain.TierFree))

	assert.Len(t, clock.sleeps, 1)
	assert.Equal(t, 1, l.Limits("platinum").Requests)
}

func TestAcquire_Concurrent(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock, 10)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.Acquire(context.Background(), domain.TierFree))
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, l.Snapshot(domain.TierFree).RequestCount)
	assert.Empty(t, clock.sleeps)
}

func TestNew_DefaultsFillMissingTiers(t *testing.T) {
	l := New(nil)

	assert.Equal(t, domain.DefaultTierLimits()[domain.TierPro], l.Limits(domain.TierPro))
	assert.Equal(t, 300, l.Limits(domain.TierEnterprise).Requests)
}

func TestPacer(t *testing.T) {
	p := NewPacer(30 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, p.Wait(ctx))
	require.NoError(t, p.Wait(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)

	disabled := NewPacer(0)
	for i := 0; i < 5; i++ {
		require.NoError(t, disabled.Wait(ctx))
	}
}
