package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/bnema/altq/internal/domain"
	"github.com/bnema/altq/internal/infrastructure/logger"
	"github.com/bnema/altq/internal/port"
)

const (
	deferredMessage    = "deferred: rate limited"
	interruptedMessage = "deferred: worker stopped"
)

type outcome int

const (
	outcomeDone outcome = iota
	outcomeRateLimited
	outcomeInterrupted
)

type WorkerConfig struct {
	BatchSize       int
	MaxAttempts     int
	StaleTimeout    time.Duration
	Retention       time.Duration
	NextDelay       time.Duration
	RateLimitDelay  time.Duration
	GenerateTimeout time.Duration
}

func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		BatchSize:       3,
		MaxAttempts:     3,
		StaleTimeout:    10 * time.Minute,
		Retention:       48 * time.Hour,
		NextDelay:       45 * time.Second,
		RateLimitDelay:  time.Hour,
		GenerateTimeout: 60 * time.Second,
	}
}

// TickResult tells the scheduler when the worker wants to run again.
// A zero Next means idle. Deferred asks the scheduler to replace any
// earlier wake-up with Next.
type TickResult struct {
	Claimed   int
	Completed int
	Retried   int
	Failed    int
	Next      time.Duration
	Deferred  bool
}

type Worker struct {
	queue     *Queue
	generator port.Generator
	inspector port.EntityInspector
	limiter   *rate.Limiter
	cfg       WorkerConfig
}

// NewWorker builds a worker. inspector and limiter may be nil.
func NewWorker(queue *Queue, generator port.Generator, inspector port.EntityInspector, limiter *rate.Limiter, cfg WorkerConfig) *Worker {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Worker{
		queue:     queue,
		generator: generator,
		inspector: inspector,
		limiter:   limiter,
		cfg:       cfg,
	}
}

// RunTick processes one batch. Per-job store errors are logged and do not
// stop the batch; only failures to claim are returned. When ctx is cancelled
// mid-batch the unprocessed jobs go back to pending before RunTick returns.
func (w *Worker) RunTick(ctx context.Context) (TickResult, error) {
	var result TickResult

	if _, err := w.queue.ResetStale(ctx, w.cfg.StaleTimeout); err != nil {
		logger.Error.Printf("tick: %v", err)
	}

	jobs, err := w.queue.ClaimBatch(ctx, w.cfg.BatchSize)
	if err != nil {
		return result, fmt.Errorf("claim batch: %w", err)
	}
	result.Claimed = len(jobs)

	if len(jobs) == 0 {
		w.purge(ctx)
		return result, nil
	}

	logger.Info.Printf("tick: claimed %d jobs", len(jobs))

	// Claimed rows are always released, even once ctx is done.
	finishCtx := context.WithoutCancel(ctx)

batch:
	for i, job := range jobs {
		if ctx.Err() != nil {
			w.interrupt(finishCtx, jobs[i:], &result)
			return result, nil
		}
		switch w.process(ctx, finishCtx, job, &result) {
		case outcomeRateLimited:
			w.deferRemaining(finishCtx, jobs[i+1:], deferredMessage, &result)
			result.Next = w.cfg.RateLimitDelay
			result.Deferred = true
			break batch
		case outcomeInterrupted:
			w.interrupt(finishCtx, jobs[i:], &result)
			return result, nil
		}
	}

	if !result.Deferred {
		pending, err := w.queue.Pending(ctx)
		if err != nil {
			logger.Error.Printf("tick: count pending: %v", err)
		} else if pending > 0 {
			result.Next = w.cfg.NextDelay
		}
	}

	w.purge(ctx)
	return result, nil
}

// process runs one job. ctx bounds the inspection and generation; finishCtx
// is used to record the outcome.
func (w *Worker) process(ctx, finishCtx context.Context, job *domain.Job, result *TickResult) outcome {
	if w.inspector != nil {
		entity, err := w.inspector.Inspect(ctx, job.EntityID)
		if err == nil && !entity.Eligible() {
			logger.Info.Printf("job %d: entity %d no longer eligible", job.ID, job.EntityID)
			w.complete(finishCtx, job, result)
			return outcomeDone
		}
		if err != nil {
			if ctx.Err() != nil {
				return outcomeInterrupted
			}
			logger.Warn.Printf("job %d: inspect entity %d: %v", job.ID, job.EntityID, err)
		}
	}

	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return outcomeInterrupted
			}
			w.retryOrFail(finishCtx, job, err, result)
			return outcomeDone
		}
	}

	_, err := w.generate(ctx, job)
	if err == nil {
		w.complete(finishCtx, job, result)
		return outcomeDone
	}
	if ctx.Err() != nil {
		return outcomeInterrupted
	}

	switch domain.KindOf(err) {
	case domain.KindRateLimited:
		if markErr := w.queue.MarkRetry(finishCtx, job, err.Error()); markErr != nil {
			w.logMarkErr(job, markErr)
		} else {
			result.Retried++
		}
		logger.Warn.Printf("rate limited on job %d; pausing for %s", job.ID, w.cfg.RateLimitDelay)
		return outcomeRateLimited
	case domain.KindNotEligible:
		w.complete(finishCtx, job, result)
		return outcomeDone
	default:
		w.retryOrFail(finishCtx, job, err, result)
		return outcomeDone
	}
}

func (w *Worker) generate(ctx context.Context, job *domain.Job) (string, error) {
	if w.cfg.GenerateTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.GenerateTimeout)
		defer cancel()
	}
	out, err := w.generator.Generate(ctx, job.EntityID, job.Source, job.RetryCount())
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		return "", fmt.Errorf("generation timed out after %s: %w", w.cfg.GenerateTimeout, err)
	}
	return out, err
}

func (w *Worker) complete(ctx context.Context, job *domain.Job, result *TickResult) {
	if err := w.queue.MarkComplete(ctx, job); err != nil {
		w.logMarkErr(job, err)
		return
	}
	result.Completed++
}

func (w *Worker) retryOrFail(ctx context.Context, job *domain.Job, cause error, result *TickResult) {
	if job.Attempts >= w.cfg.MaxAttempts {
		if err := w.queue.MarkFailed(ctx, job, cause.Error()); err != nil {
			w.logMarkErr(job, err)
			return
		}
		result.Failed++
		return
	}
	if err := w.queue.MarkRetry(ctx, job, cause.Error()); err != nil {
		w.logMarkErr(job, err)
		return
	}
	result.Retried++
}

// logMarkErr logs a store error from recording a job's outcome. A lost claim
// means another tick owns the row now, so the job is skipped.
func (w *Worker) logMarkErr(job *domain.Job, err error) {
	if errors.Is(err, domain.ErrClaimLost) {
		logger.Warn.Printf("job %d: claim lost, skipping (entity=%d)", job.ID, job.EntityID)
		return
	}
	logger.Error.Printf("job %d: %v", job.ID, err)
}

// deferRemaining returns claimed but unprocessed jobs to pending so the
// next tick can pick them up without waiting for the stale sweep.
func (w *Worker) deferRemaining(ctx context.Context, jobs []*domain.Job, msg string, result *TickResult) {
	for _, job := range jobs {
		if err := w.queue.MarkRetry(ctx, job, msg); err != nil {
			w.logMarkErr(job, err)
			continue
		}
		result.Retried++
	}
}

func (w *Worker) interrupt(ctx context.Context, jobs []*domain.Job, result *TickResult) {
	logger.Info.Printf("tick interrupted; returning %d jobs to pending", len(jobs))
	w.deferRemaining(ctx, jobs, interruptedMessage, result)
}

func (w *Worker) purge(ctx context.Context) {
	if _, err := w.queue.PurgeCompleted(ctx, w.cfg.Retention); err != nil {
		logger.Error.Printf("tick: %v", err)
	}
}
