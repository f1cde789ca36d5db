package service

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bnema/altq/internal/adapter/storage/sqlite"
	"github.com/bnema/altq/internal/port"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: baseTime}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type tickRecorder struct {
	mu        sync.Mutex
	scheduled []time.Duration
	kicks     int
}

func (r *tickRecorder) Schedule(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scheduled = append(r.scheduled, d)
}

func (r *tickRecorder) Kick() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kicks++
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) Publish(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *eventRecorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestQueue(t *testing.T, inspector port.EntityInspector) (*Queue, *sqlite.Store, *testClock, *eventRecorder) {
	t.Helper()
	store := newTestStore(t)
	clock := newTestClock()
	events := &eventRecorder{}
	q := NewQueue(store, inspector, events, 30*time.Second)
	q.now = clock.Now
	return q, store, clock, events
}
