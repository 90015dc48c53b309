package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestMemory(capacity int) (*Memory, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	m := NewMemory(Config{Capacity: capacity, Refill: 1, Interval: time.Minute})
	m.now = clock.now
	return m, clock
}

func TestMemoryAllowsBurstThenWaits(t *testing.T) {
	m, clock := newTestMemory(2)
	ctx := context.Background()

	d, err := m.Allow(ctx, "ip:10.0.0.1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(1), d.Remaining)

	d, _ = m.Allow(ctx, "ip:10.0.0.1")
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(0), d.Remaining)

	d, _ = m.Allow(ctx, "ip:10.0.0.1")
	assert.False(t, d.Allowed)
	assert.InDelta(t, time.Minute.Seconds(), d.RetryAfter.Seconds(), 1)

	d, _ = m.Allow(ctx, "ip:10.0.0.2")
	assert.True(t, d.Allowed, "keys have separate buckets")

	clock.t = clock.t.Add(time.Minute)
	d, _ = m.Allow(ctx, "ip:10.0.0.1")
	assert.True(t, d.Allowed)
}

func TestMemoryDeniedCallsDoNotDrainFutureTokens(t *testing.T) {
	m, clock := newTestMemory(1)
	ctx := context.Background()

	d, _ := m.Allow(ctx, "k")
	require.True(t, d.Allowed)
	for i := 0; i < 5; i++ {
		d, _ = m.Allow(ctx, "k")
		assert.False(t, d.Allowed)
	}

	clock.t = clock.t.Add(time.Minute)
	d, _ = m.Allow(ctx, "k")
	assert.True(t, d.Allowed)
}

func TestMemoryDropsIdleKeys(t *testing.T) {
	m, clock := newTestMemory(2)
	ctx := context.Background()

	_, _ = m.Allow(ctx, "a")
	_, _ = m.Allow(ctx, "b")
	assert.Equal(t, 2, m.Len())

	clock.t = clock.t.Add(4 * time.Minute)
	_, _ = m.Allow(ctx, "b")
	assert.Equal(t, 1, m.Len())
}

func TestConfigTTLCoversFullRefill(t *testing.T) {
	assert.Equal(t, 3*time.Minute, Config{Capacity: 2, Refill: 1, Interval: time.Minute}.ttl())
	assert.Equal(t, 2*time.Minute, Config{Capacity: 60, Refill: 60, Interval: time.Minute}.ttl())
}
