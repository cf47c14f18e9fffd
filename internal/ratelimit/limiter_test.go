package ratelimit

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterAllowsUpToLimit(t *testing.T) {
	limiter := NewLimiter()

	for i := 0; i < 5; i++ {
		ok, _ := limiter.Allow("login:1.2.3.4", 5, time.Minute)
		assert.True(t, ok, fmt.Sprintf("request %d should be allowed", i+1))
	}

	ok, retryAfter := limiter.Allow("login:1.2.3.4", 5, time.Minute)
	assert.False(t, ok, "request over limit should be rejected")
	assert.GreaterOrEqual(t, retryAfter, time.Second)
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	limiter := NewLimiter()

	ok, _ := limiter.Allow("login:1.1.1.1", 1, time.Minute)
	require.True(t, ok)
	ok, _ = limiter.Allow("login:1.1.1.1", 1, time.Minute)
	require.False(t, ok)

	ok, _ = limiter.Allow("login:2.2.2.2", 1, time.Minute)
	assert.True(t, ok, "a different key has its own window")
}

func TestLimiterWindowRollover(t *testing.T) {
	limiter := NewLimiter()
	windowSize := 50 * time.Millisecond

	ok, _ := limiter.Allow("otp:1.2.3.4", 2, windowSize)
	require.True(t, ok)
	ok, _ = limiter.Allow("otp:1.2.3.4", 2, windowSize)
	require.True(t, ok)
	ok, _ = limiter.Allow("otp:1.2.3.4", 2, windowSize)
	require.False(t, ok)

	time.Sleep(windowSize + 20*time.Millisecond)

	ok, _ = limiter.Allow("otp:1.2.3.4", 2, windowSize)
	assert.True(t, ok, "window rollover resets the count")
	ok, _ = limiter.Allow("otp:1.2.3.4", 2, windowSize)
	assert.True(t, ok)
	ok, _ = limiter.Allow("otp:1.2.3.4", 2, windowSize)
	assert.False(t, ok)
}

func TestLimiterConcurrentCounting(t *testing.T) {
	limiter := NewLimiter()

	const callers = 200
	const limit = 50

	var allowed int64
	var wg sync.WaitGroup
	start := make(chan struct{})

	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			<-start
			if ok, _ := limiter.Allow("register:9.9.9.9", limit, time.Minute); ok {
				atomic.AddInt64(&allowed, 1)
			}
		}()
	}

	close(start)
	wg.Wait()

	assert.Equal(t, int64(limit), allowed, "exactly limit requests must win")
}

func TestLimiterPruneIdle(t *testing.T) {
	limiter := NewLimiter()

	limiter.Allow("a", 10, 10*time.Millisecond)
	limiter.Allow("b", 10, 10*time.Millisecond)

	time.Sleep(30 * time.Millisecond)
	pruned := limiter.PruneIdle(20 * time.Millisecond)
	assert.Equal(t, 2, pruned)

	// Pruning must not affect correctness of subsequent calls.
	ok, _ := limiter.Allow("a", 10, 10*time.Millisecond)
	assert.True(t, ok)
}
