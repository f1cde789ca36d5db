package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bnema/altq/internal/domain"
	"github.com/bnema/altq/internal/infrastructure/logger"
	"github.com/bnema/altq/internal/port"
)

const (
	minStaleTimeout       = 60 * time.Second
	recentWindow          = 24 * time.Hour
	redundantCleanupEvery = time.Hour
)

// TickRequester is the part of the Scheduler the queue needs to ask for a
// wake-up after new work arrives.
type TickRequester interface {
	Schedule(d time.Duration)
	Kick()
}

// Queue applies queue policy on top of a JobStore: source sanitising, error
// trimming, the should-generate gate, event publishing and tick requests.
type Queue struct {
	store        port.JobStore
	inspector    port.EntityInspector
	events       EventPublisher
	enqueueDelay time.Duration
	now          func() time.Time

	mu          sync.Mutex
	ticks       TickRequester
	lastCleanup time.Time
}

func NewQueue(store port.JobStore, inspector port.EntityInspector, events EventPublisher, enqueueDelay time.Duration) *Queue {
	return &Queue{
		store:        store,
		inspector:    inspector,
		events:       events,
		enqueueDelay: enqueueDelay,
		now:          time.Now,
	}
}

// SetTickRequester wires the scheduler after construction; the scheduler
// itself depends on a worker built from this queue.
func (q *Queue) SetTickRequester(t TickRequester) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ticks = t
}

func (q *Queue) requester() TickRequester {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ticks
}

func (q *Queue) schedule() {
	if t := q.requester(); t != nil {
		t.Schedule(q.enqueueDelay)
	}
}

func (q *Queue) kick() {
	if t := q.requester(); t != nil {
		t.Kick()
	}
}

// Enqueue adds a pending job for entityID. Unless force is set, entities that
// already have output are skipped.
func (q *Queue) Enqueue(ctx context.Context, entityID int64, source string, force bool) (*domain.Job, bool, error) {
	if entityID <= 0 {
		return nil, false, domain.ErrInvalidEntity
	}

	if !force && q.inspector != nil {
		entity, err := q.inspector.Inspect(ctx, entityID)
		if err != nil {
			return nil, false, fmt.Errorf("inspect entity %d: %w", entityID, err)
		}
		if !entity.Eligible() {
			return nil, false, fmt.Errorf("entity %d: %w", entityID, domain.ErrInvalidEntity)
		}
		if entity.HasOutput {
			return nil, false, nil
		}
	}

	source = domain.SanitizeSource(source)
	job, created, err := q.store.Enqueue(ctx, entityID, source, q.now())
	if err != nil {
		return nil, false, fmt.Errorf("enqueue entity %d: %w", entityID, err)
	}
	if created {
		q.publish(job, EventEnqueued, "")
		q.schedule()
	}
	return job, created, nil
}

func (q *Queue) EnqueueMany(ctx context.Context, entityIDs []int64, source string) (int, error) {
	source = domain.SanitizeSource(source)
	n, err := q.store.EnqueueMany(ctx, entityIDs, source, q.now())
	if err != nil {
		return 0, fmt.Errorf("enqueue %d entities: %w", len(entityIDs), err)
	}
	if n > 0 {
		logger.Info.Printf("enqueued %d jobs (source=%s)", n, source)
		q.schedule()
	}
	return n, nil
}

// ClearForEntities deletes every job of the given entities, whatever its status.
func (q *Queue) ClearForEntities(ctx context.Context, entityIDs []int64) (int64, error) {
	n, err := q.store.ClearForEntities(ctx, entityIDs)
	if err != nil {
		return 0, fmt.Errorf("clear jobs of %d entities: %w", len(entityIDs), err)
	}
	if n > 0 {
		logger.Info.Printf("deleted %d jobs of %d entities", n, len(entityIDs))
	}
	return n, nil
}

func (q *Queue) ClaimBatch(ctx context.Context, n int) ([]*domain.Job, error) {
	jobs, err := q.store.ClaimBatch(ctx, n, q.now())
	if err != nil {
		return nil, err
	}
	for _, job := range jobs {
		q.publish(job, EventClaimed, "")
	}
	return jobs, nil
}

func (q *Queue) MarkComplete(ctx context.Context, job *domain.Job) error {
	if err := q.store.MarkComplete(ctx, job.ID, job.ClaimToken, q.now()); err != nil {
		return fmt.Errorf("complete job %d: %w", job.ID, err)
	}
	logger.Info.Printf("job %d completed (entity=%d, attempts=%d)", job.ID, job.EntityID, job.Attempts)
	q.publishStatus(job, EventCompleted, domain.JobStatusCompleted, "")
	return nil
}

func (q *Queue) MarkRetry(ctx context.Context, job *domain.Job, errMsg string) error {
	errMsg = domain.TrimError(errMsg)
	if err := q.store.MarkRetry(ctx, job.ID, job.ClaimToken, errMsg); err != nil {
		return fmt.Errorf("retry job %d: %w", job.ID, err)
	}
	logger.Warn.Printf("job %d will retry (entity=%d, attempts=%d): %s", job.ID, job.EntityID, job.Attempts, logger.SanitizeForLog(errMsg))
	q.publishStatus(job, EventRetry, domain.JobStatusPending, errMsg)
	return nil
}

func (q *Queue) MarkFailed(ctx context.Context, job *domain.Job, errMsg string) error {
	errMsg = domain.TrimError(errMsg)
	if err := q.store.MarkFailed(ctx, job.ID, job.ClaimToken, errMsg); err != nil {
		return fmt.Errorf("fail job %d: %w", job.ID, err)
	}
	logger.Error.Printf("job %d failed (entity=%d, attempts=%d): %s", job.ID, job.EntityID, job.Attempts, logger.SanitizeForLog(errMsg))
	q.publishStatus(job, EventFailed, domain.JobStatusFailed, errMsg)
	return nil
}

// ResetStale returns processing jobs locked longer than timeout to pending.
// Timeouts under a minute are raised to one minute.
func (q *Queue) ResetStale(ctx context.Context, timeout time.Duration) (int64, error) {
	timeout = max(timeout, minStaleTimeout)
	n, err := q.store.ResetStale(ctx, q.now().Add(-timeout))
	if err != nil {
		return 0, fmt.Errorf("reset stale jobs: %w", err)
	}
	if n > 0 {
		logger.Warn.Printf("reset %d stale jobs", n)
		if q.events != nil {
			q.events.Publish(Event{Type: EventReset, Status: string(domain.JobStatusPending), Message: fmt.Sprintf("%d stale jobs reset", n), At: q.now()})
		}
	}
	return n, nil
}

func (q *Queue) PurgeCompleted(ctx context.Context, maxAge time.Duration) (int64, error) {
	maxAge = max(maxAge, 0)
	n, err := q.store.PurgeCompleted(ctx, q.now().Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("purge completed jobs: %w", err)
	}
	if n > 0 {
		logger.Debug.Printf("purged %d completed jobs", n)
	}
	return n, nil
}

func (q *Queue) ClearCompleted(ctx context.Context) (int64, error) {
	return q.store.ClearCompleted(ctx)
}

func (q *Queue) RetryJob(ctx context.Context, jobID int64) error {
	if err := q.store.RetryJob(ctx, jobID); err != nil {
		return err
	}
	logger.Info.Printf("job %d queued for manual retry", jobID)
	q.kick()
	return nil
}

func (q *Queue) RetryFailed(ctx context.Context) (int64, error) {
	n, err := q.store.RetryFailed(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logger.Info.Printf("%d failed jobs queued for retry", n)
		q.kick()
	}
	return n, nil
}

// CleanupRedundant completes pending jobs whose entity already has output.
func (q *Queue) CleanupRedundant(ctx context.Context) (int64, error) {
	if q.inspector == nil {
		return 0, nil
	}

	ids, err := q.store.PendingEntityIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending entities: %w", err)
	}

	var done []int64
	for _, id := range ids {
		entity, err := q.inspector.Inspect(ctx, id)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return 0, err
			}
			logger.Warn.Printf("inspect entity %d: %v", id, err)
			continue
		}
		if entity.HasOutput {
			done = append(done, id)
		}
	}
	if len(done) == 0 {
		return 0, nil
	}

	n, err := q.store.CompletePendingForEntities(ctx, done, q.now())
	if err != nil {
		return 0, fmt.Errorf("complete redundant jobs: %w", err)
	}
	if n > 0 {
		logger.Info.Printf("completed %d redundant jobs", n)
	}
	return n, nil
}

// Stats counts jobs by status. At most once an hour it first clears out
// redundant pending jobs.
func (q *Queue) Stats(ctx context.Context) (domain.Stats, error) {
	if q.cleanupDue() {
		if _, err := q.CleanupRedundant(ctx); err != nil {
			logger.Warn.Printf("redundant job cleanup: %v", err)
		}
	}
	return q.store.Stats(ctx, q.now().Add(-recentWindow))
}

func (q *Queue) cleanupDue() bool {
	if q.inspector == nil {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	if !q.lastCleanup.IsZero() && now.Sub(q.lastCleanup) < redundantCleanupEvery {
		return false
	}
	q.lastCleanup = now
	return true
}

// Pending reports the pending count without triggering cleanup.
func (q *Queue) Pending(ctx context.Context) (int, error) {
	stats, err := q.store.Stats(ctx, q.now().Add(-recentWindow))
	if err != nil {
		return 0, err
	}
	return stats.Pending, nil
}

func (q *Queue) Get(ctx context.Context, jobID int64) (*domain.Job, error) {
	return q.store.Get(ctx, jobID)
}

func (q *Queue) Recent(ctx context.Context, limit int) ([]*domain.Job, error) {
	return q.store.Recent(ctx, limit)
}

func (q *Queue) RecentFailures(ctx context.Context, limit int) ([]*domain.Job, error) {
	return q.store.RecentFailures(ctx, limit)
}

func (q *Queue) publish(job *domain.Job, eventType, message string) {
	q.publishStatus(job, eventType, job.Status, message)
}

func (q *Queue) publishStatus(job *domain.Job, eventType string, status domain.JobStatus, message string) {
	if q.events == nil {
		return
	}
	q.events.Publish(Event{
		JobID:    job.ID,
		EntityID: job.EntityID,
		Type:     eventType,
		Status:   string(status),
		Message:  message,
		At:       q.now(),
	})
}
