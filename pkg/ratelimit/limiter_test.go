package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestTokenBucket_Allow(t *testing.T) {
	clock := &testClock{now: time.Unix(0, 0)}
	tb := NewTokenBucket(5, 1.0, clock.Now)

	for i := 0; i < 5; i++ {
		assert.True(t, tb.Allow(), "request %d should be allowed", i+1)
	}
	assert.False(t, tb.Allow(), "6th request should be denied")

	clock.Advance(2 * time.Second)
	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow())
}

func TestTokenBucket_Tokens(t *testing.T) {
	tb := NewTokenBucket(10, 1.0, func() time.Time { return time.Unix(0, 0) })
	assert.Equal(t, 10.0, tb.Tokens())

	tb.Allow()
	assert.Equal(t, 9.0, tb.Tokens())
}

func TestMemoryLimiter(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{now: time.Unix(0, 0)}
	l := NewMemoryLimiter(2, 1.0, time.Minute)
	l.now = clock.Now

	allowed, err := l.Allow(ctx, "key1")
	require.NoError(t, err)
	assert.True(t, allowed)
	allowed, _ = l.Allow(ctx, "key1")
	assert.True(t, allowed)
	allowed, _ = l.Allow(ctx, "key1")
	assert.False(t, allowed)

	// separate bucket
	allowed, _ = l.Allow(ctx, "key2")
	assert.True(t, allowed)

	clock.Advance(1100 * time.Millisecond)
	allowed, _ = l.Allow(ctx, "key1")
	assert.True(t, allowed)

	assert.Equal(t, 2, l.Size())
	clock.Advance(2 * time.Minute)
	assert.Equal(t, 2, l.Sweep())
	assert.Equal(t, 0, l.Size())
}
