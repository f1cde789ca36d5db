package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/bnema/altq/internal/infrastructure/backoff"
	"github.com/bnema/altq/internal/infrastructure/logger"
	"github.com/bnema/altq/internal/port"
)

const (
	DefaultMinDelay       = 5 * time.Second
	DefaultSafetySchedule = "@every 5m"

	gateTimeout = 2 * time.Second
)

// cronParser supports standard 5-field cron and descriptors like "@every 5m".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

func ParseSafetySchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

type TickRunner interface {
	RunTick(ctx context.Context) (TickResult, error)
}

type SchedulerOption func(*Scheduler)

// WithTickGate shares the next wake-up with other processes.
func WithTickGate(gate port.TickGate) SchedulerOption {
	return func(s *Scheduler) { s.gate = gate }
}

func WithMinDelay(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.minDelay = d }
}

// WithSafetySchedule sets the cron expression of the idle safety tick.
// An empty expression disables it.
func WithSafetySchedule(expr string) SchedulerOption {
	return func(s *Scheduler) { s.safety = expr }
}

func WithBackoff(b *backoff.Backoff) SchedulerOption {
	return func(s *Scheduler) { s.backoff = b }
}

// Scheduler owns the single pending wake-up of the worker. Schedule keeps an
// earlier wake-up, Defer replaces it. Ticks never overlap within a process.
type Scheduler struct {
	runner   TickRunner
	gate     port.TickGate
	backoff  *backoff.Backoff
	minDelay time.Duration
	safety   string
	now      func() time.Time

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	timer    *time.Timer
	due      time.Time
	failures int
	cron     *cronlib.Cron

	runMu sync.Mutex
	wg    sync.WaitGroup
}

func NewScheduler(runner TickRunner, opts ...SchedulerOption) (*Scheduler, error) {
	s := &Scheduler{
		runner:   runner,
		backoff:  backoff.New(5*time.Second, 10*time.Minute, 2.0),
		minDelay: DefaultMinDelay,
		safety:   DefaultSafetySchedule,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.safety != "" {
		if _, err := ParseSafetySchedule(s.safety); err != nil {
			return nil, fmt.Errorf("parse safety schedule %q: %w", s.safety, err)
		}
	}
	return s, nil
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx != nil {
		return errors.New("scheduler already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	if s.safety != "" {
		s.cron = cronlib.New(
			cronlib.WithParser(cronParser),
			cronlib.WithLogger(cronlib.PrintfLogger(logger.Debug)),
		)
		if _, err := s.cron.AddFunc(s.safety, s.Kick); err != nil {
			s.cancel()
			s.ctx = nil
			return fmt.Errorf("add safety tick: %w", err)
		}
		s.cron.Start()
	}

	// Resume whatever was left pending by a previous run.
	s.armLocked(0, false)

	logger.Info.Printf("scheduler started (safety=%q, min delay=%s)", s.safety, s.minDelay)
	return nil
}

// Stop cancels the pending wake-up and waits for a running tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.ctx == nil {
		s.mu.Unlock()
		return
	}
	s.cancel()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
		s.due = time.Time{}
	}
	c := s.cron
	s.mu.Unlock()

	// Kick takes mu, so the cron must be drained without holding it.
	if c != nil {
		<-c.Stop().Done()
	}
	s.wg.Wait()
	logger.Info.Printf("scheduler stopped")
}

// Schedule requests a tick after d unless one is already pending.
func (s *Scheduler) Schedule(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.runningLocked() || s.timer != nil {
		return
	}
	s.armLocked(max(d, s.minDelay), false)
}

// Defer replaces any pending wake-up with one after d.
func (s *Scheduler) Defer(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.runningLocked() {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.armLocked(max(d, s.minDelay), true)
}

// Kick runs a tick as soon as possible when nothing is pending.
func (s *Scheduler) Kick() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.runningLocked() || s.timer != nil {
		return
	}
	s.armLocked(0, false)
}

// NextWakeup returns the due time of the pending wake-up, if any.
func (s *Scheduler) NextWakeup() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.due, s.timer != nil
}

func (s *Scheduler) runningLocked() bool {
	return s.ctx != nil && s.ctx.Err() == nil
}

func (s *Scheduler) armLocked(d time.Duration, replace bool) {
	due := s.now().Add(d)

	if s.gate != nil {
		ctx, cancel := context.WithTimeout(s.ctx, gateTimeout)
		ok, err := s.gate.Reserve(ctx, due, replace)
		cancel()
		if err != nil {
			logger.Warn.Printf("tick gate reserve: %v", err)
		} else if !ok {
			logger.Debug.Printf("tick already reserved by another process")
			return
		}
	}

	s.due = due
	s.timer = time.AfterFunc(d, s.fire)
}

func (s *Scheduler) fire() {
	s.mu.Lock()
	if !s.runningLocked() {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.due = time.Time{}
	ctx := s.ctx
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	if s.gate != nil {
		gctx, cancel := context.WithTimeout(ctx, gateTimeout)
		if err := s.gate.Release(gctx); err != nil {
			logger.Warn.Printf("tick gate release: %v", err)
		}
		cancel()
	}

	if !s.runMu.TryLock() {
		// The running tick reschedules when it finishes.
		return
	}
	defer s.runMu.Unlock()

	result, err := s.runner.RunTick(ctx)
	s.after(result, err)
}

// RunOnce runs a tick now, waiting for any tick already in progress.
func (s *Scheduler) RunOnce(ctx context.Context) (TickResult, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if err := ctx.Err(); err != nil {
		return TickResult{}, err
	}

	result, err := s.runner.RunTick(ctx)
	s.after(result, err)
	return result, err
}

func (s *Scheduler) after(result TickResult, err error) {
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.mu.Lock()
		s.failures++
		failures := s.failures
		s.mu.Unlock()

		delay := s.backoff.Duration(failures)
		logger.Error.Printf("tick failed (%d in a row), retrying in %s: %v", failures, delay.Round(time.Second), err)
		s.Schedule(delay)
		return
	}

	s.mu.Lock()
	s.failures = 0
	s.mu.Unlock()

	switch {
	case result.Deferred:
		logger.Info.Printf("next tick deferred by %s", result.Next)
		s.Defer(result.Next)
	case result.Next > 0:
		s.Schedule(result.Next)
	}
}
