package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func newTestLimiter(t *testing.T, maxFailures int, window, block time.Duration) (*AuthFailureLimiter, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	limiter := NewAuthFailureLimiter(maxFailures, window, block)
	limiter.now = clock.now
	t.Cleanup(limiter.Stop)
	return limiter, clock
}

func TestAuthFailureLimiter_UnknownClientNotBlocked(t *testing.T) {
	limiter, _ := newTestLimiter(t, 3, time.Minute, 5*time.Minute)

	blocked, remaining := limiter.Blocked("client1")

	assert.False(t, blocked)
	assert.Equal(t, time.Duration(0), remaining)
}

func TestAuthFailureLimiter_BlocksAfterMaxFailures(t *testing.T) {
	limiter, clock := newTestLimiter(t, 3, time.Minute, 5*time.Minute)

	for range 3 {
		assert.Equal(t, time.Duration(0), limiter.RecordFailure("client1"))
	}
	assert.Equal(t, 5*time.Minute, limiter.RecordFailure("client1"))

	clock.t = clock.t.Add(time.Minute)
	blocked, remaining := limiter.Blocked("client1")
	assert.True(t, blocked)
	assert.Equal(t, 4*time.Minute, remaining)

	other, _ := limiter.Blocked("client2")
	assert.False(t, other)
}

func TestAuthFailureLimiter_BlockExpires(t *testing.T) {
	limiter, clock := newTestLimiter(t, 1, time.Minute, time.Minute)

	limiter.RecordFailure("client1")
	limiter.RecordFailure("client1")

	clock.t = clock.t.Add(61 * time.Second)
	blocked, _ := limiter.Blocked("client1")
	assert.False(t, blocked)
}

func TestAuthFailureLimiter_WindowResetsCount(t *testing.T) {
	limiter, clock := newTestLimiter(t, 2, time.Minute, 5*time.Minute)

	limiter.RecordFailure("client1")
	limiter.RecordFailure("client1")
	clock.t = clock.t.Add(2 * time.Minute)

	assert.Equal(t, time.Duration(0), limiter.RecordFailure("client1"))
	blocked, _ := limiter.Blocked("client1")
	assert.False(t, blocked)
}

func TestAuthFailureLimiter_Reset(t *testing.T) {
	limiter, _ := newTestLimiter(t, 1, time.Minute, 5*time.Minute)

	limiter.RecordFailure("client1")
	limiter.RecordFailure("client1")
	limiter.Reset("client1")

	blocked, _ := limiter.Blocked("client1")
	assert.False(t, blocked)
}

func TestAuthFailureLimiter_CleanupRemovesOldRecords(t *testing.T) {
	limiter, clock := newTestLimiter(t, 3, time.Minute, time.Minute)

	limiter.RecordFailure("client1")
	clock.t = clock.t.Add(3 * time.Minute)
	limiter.RecordFailure("client2")

	limiter.cleanup()

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	assert.NotContains(t, limiter.failures, "client1")
	assert.Contains(t, limiter.failures, "client2")
}
