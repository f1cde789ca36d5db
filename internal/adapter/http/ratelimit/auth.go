package ratelimit

import (
	"sync"
	"time"
)

type failureRecord struct {
	Count        int
	LastFailure  time.Time
	BlockedUntil time.Time
}

// AuthFailureLimiter blocks a client after too many failed token checks
// within a window. Successful requests are never counted.
type AuthFailureLimiter struct {
	mu             sync.Mutex
	failures       map[string]*failureRecord
	maxFailures    int
	windowDuration time.Duration
	blockDuration  time.Duration
	now            func() time.Time
	done           chan struct{}
	stopOnce       sync.Once
}

func NewAuthFailureLimiter(maxFailures int, windowDuration, blockDuration time.Duration) *AuthFailureLimiter {
	limiter := &AuthFailureLimiter{
		failures:       make(map[string]*failureRecord),
		maxFailures:    maxFailures,
		windowDuration: windowDuration,
		blockDuration:  blockDuration,
		now:            time.Now,
		done:           make(chan struct{}),
	}

	go limiter.cleanupLoop()

	return limiter
}

// Blocked reports whether clientID is currently locked out and for how long.
func (r *AuthFailureLimiter) Blocked(clientID string) (bool, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.failures[clientID]
	if !ok {
		return false, 0
	}

	now := r.now()
	if now.Before(record.BlockedUntil) {
		return true, record.BlockedUntil.Sub(now)
	}
	return false, 0
}

// RecordFailure counts a failed attempt and returns the block duration when
// the client has now exceeded the limit.
func (r *AuthFailureLimiter) RecordFailure(clientID string) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	record, ok := r.failures[clientID]
	if !ok {
		record = &failureRecord{}
		r.failures[clientID] = record
	}

	if now.Sub(record.LastFailure) > r.windowDuration {
		record.Count = 0
	}

	record.Count++
	record.LastFailure = now

	if record.Count > r.maxFailures {
		record.BlockedUntil = now.Add(r.blockDuration)
		record.Count = 0
		return r.blockDuration
	}

	return 0
}

func (r *AuthFailureLimiter) Reset(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.failures, clientID)
}

func (r *AuthFailureLimiter) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
}

func (r *AuthFailureLimiter) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.cleanup()
		}
	}
}

func (r *AuthFailureLimiter) cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for clientID, record := range r.failures {
		if now.Sub(record.LastFailure) > r.windowDuration*2 && now.After(record.BlockedUntil) {
			delete(r.failures, clientID)
		}
	}
}
