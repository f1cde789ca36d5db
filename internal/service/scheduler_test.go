package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/bnema/altq/internal/infrastructure/backoff"
	"github.com/bnema/altq/internal/port/mocks"
)

type fakeRunner struct {
	mu        sync.Mutex
	results   []TickResult
	errs      []error
	calls     int
	active    int
	maxActive int
	delay     time.Duration
	called    chan struct{}
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{called: make(chan struct{}, 64)}
}

func (r *fakeRunner) RunTick(ctx context.Context) (TickResult, error) {
	r.mu.Lock()
	idx := r.calls
	r.calls++
	r.active++
	r.maxActive = max(r.maxActive, r.active)
	var result TickResult
	var err error
	if idx < len(r.results) {
		result = r.results[idx]
	}
	if idx < len(r.errs) {
		err = r.errs[idx]
	}
	delay := r.delay
	r.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	r.mu.Lock()
	r.active--
	r.mu.Unlock()
	r.called <- struct{}{}
	return result, err
}

func (r *fakeRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func waitCall(t *testing.T, r *fakeRunner) {
	t.Helper()
	select {
	case <-r.called:
	case <-time.After(2 * time.Second):
		t.Fatal("tick did not run")
	}
}

func startScheduler(t *testing.T, runner TickRunner, opts ...SchedulerOption) *Scheduler {
	t.Helper()
	opts = append([]SchedulerOption{WithMinDelay(10 * time.Millisecond), WithSafetySchedule("")}, opts...)
	s, err := NewScheduler(runner, opts...)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(s.Stop)
	return s
}

func TestNewScheduler_InvalidSafetySchedule(t *testing.T) {
	_, err := NewScheduler(newFakeRunner(), WithSafetySchedule("every tuesday"))
	assert.Error(t, err)
}

func TestScheduler_StartRunsPendingWork(t *testing.T) {
	runner := newFakeRunner()
	startScheduler(t, runner)

	waitCall(t, runner)
	assert.Equal(t, 1, runner.callCount())
}

func TestScheduler_ScheduleIsDebouncedAndDeferReplaces(t *testing.T) {
	runner := newFakeRunner()
	s := startScheduler(t, runner)
	waitCall(t, runner)

	s.Schedule(time.Hour)
	first, pending := s.NextWakeup()
	require.True(t, pending)

	s.Schedule(20 * time.Millisecond)
	second, _ := s.NextWakeup()
	assert.Equal(t, first, second)

	s.Kick()
	third, _ := s.NextWakeup()
	assert.Equal(t, first, third)

	s.Defer(20 * time.Millisecond)
	replaced, pending := s.NextWakeup()
	require.True(t, pending)
	assert.True(t, replaced.Before(first))

	waitCall(t, runner)
	assert.Equal(t, 2, runner.callCount())
}

func TestScheduler_ScheduleClampsToMinDelay(t *testing.T) {
	runner := newFakeRunner()
	s, err := NewScheduler(runner, WithMinDelay(time.Hour), WithSafetySchedule(""))
	require.NoError(t, err)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(s.Stop)
	waitCall(t, runner)

	s.Schedule(time.Second)

	due, pending := s.NextWakeup()
	require.True(t, pending)
	assert.Equal(t, fixed.Add(time.Hour), due)
}

func TestScheduler_FollowsTickResult(t *testing.T) {
	runner := newFakeRunner()
	runner.results = []TickResult{
		{Next: 10 * time.Millisecond},
		{Next: time.Hour, Deferred: true},
	}
	s := startScheduler(t, runner)

	waitCall(t, runner)
	waitCall(t, runner)

	assert.Eventually(t, func() bool {
		_, pending := s.NextWakeup()
		return pending
	}, time.Second, 5*time.Millisecond)
	due, _ := s.NextWakeup()
	assert.WithinDuration(t, time.Now().Add(time.Hour), due, 5*time.Second)
	assert.Equal(t, 2, runner.callCount())
}

func TestScheduler_BacksOffAfterError(t *testing.T) {
	runner := newFakeRunner()
	runner.errs = []error{errors.New("database is locked")}
	b := backoff.New(10*time.Millisecond, 10*time.Millisecond, 2.0)
	b.Jitter = false
	startScheduler(t, runner, WithBackoff(b))

	waitCall(t, runner)
	waitCall(t, runner)
	assert.Equal(t, 2, runner.callCount())
}

func TestScheduler_RespectsTickGate(t *testing.T) {
	gate := mocks.NewTickGateMock(t)
	gate.EXPECT().Reserve(mock.Anything, mock.Anything, false).Return(false, nil).Once()

	runner := newFakeRunner()
	s := startScheduler(t, runner, WithTickGate(gate))

	_, pending := s.NextWakeup()
	assert.False(t, pending)
	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, runner.callCount())
}

func TestScheduler_ReleasesGateWhenFiring(t *testing.T) {
	gate := mocks.NewTickGateMock(t)
	gate.EXPECT().Reserve(mock.Anything, mock.Anything, false).Return(true, nil).Once()
	gate.EXPECT().Release(mock.Anything).Return(nil).Once()

	runner := newFakeRunner()
	startScheduler(t, runner, WithTickGate(gate))

	waitCall(t, runner)
}

func TestScheduler_RunOnceIsSingleFlight(t *testing.T) {
	runner := newFakeRunner()
	runner.delay = 10 * time.Millisecond
	s, err := NewScheduler(runner, WithSafetySchedule(""))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.RunOnce(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, runner.callCount())
	assert.Equal(t, 1, runner.maxActive)
}

func TestScheduler_StopPreventsFurtherTicks(t *testing.T) {
	runner := newFakeRunner()
	s := startScheduler(t, runner)
	waitCall(t, runner)

	s.Stop()
	s.Kick()
	s.Schedule(10 * time.Millisecond)

	_, pending := s.NextWakeup()
	assert.False(t, pending)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, runner.callCount())
}
