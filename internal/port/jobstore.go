package port

import (
	"context"
	"time"

	"github.com/bnema/altq/internal/domain"
)

// JobStore persists queue rows. Every state transition is a single atomic
// store operation; ClaimBatch must never hand the same row to two callers.
//
// A processing row is owned by the claim token ClaimBatch stamped on it.
// MarkComplete, MarkRetry and MarkFailed only apply while the row is still
// processing under that token and return domain.ErrClaimLost otherwise, so a
// worker whose claim was reset by ResetStale or RetryJob and handed to
// another tick cannot overwrite the new owner's row. domain.ErrNotFound is
// returned when the row no longer exists.
type JobStore interface {
	Enqueue(ctx context.Context, entityID int64, source string, now time.Time) (*domain.Job, bool, error)
	EnqueueMany(ctx context.Context, entityIDs []int64, source string, now time.Time) (int, error)
	ClearForEntities(ctx context.Context, entityIDs []int64) (int64, error)

	ClaimBatch(ctx context.Context, limit int, now time.Time) ([]*domain.Job, error)
	MarkComplete(ctx context.Context, jobID int64, claimToken string, now time.Time) error
	MarkRetry(ctx context.Context, jobID int64, claimToken string, errMsg string) error
	MarkFailed(ctx context.Context, jobID int64, claimToken string, errMsg string) error

	ResetStale(ctx context.Context, lockedBefore time.Time) (int64, error)
	PurgeCompleted(ctx context.Context, completedBefore time.Time) (int64, error)
	ClearCompleted(ctx context.Context) (int64, error)
	RetryJob(ctx context.Context, jobID int64) error
	RetryFailed(ctx context.Context) (int64, error)

	PendingEntityIDs(ctx context.Context) ([]int64, error)
	CompletePendingForEntities(ctx context.Context, entityIDs []int64, now time.Time) (int64, error)

	Get(ctx context.Context, jobID int64) (*domain.Job, error)
	Stats(ctx context.Context, recentSince time.Time) (domain.Stats, error)
	Recent(ctx context.Context, limit int) ([]*domain.Job, error)
	RecentFailures(ctx context.Context, limit int) ([]*domain.Job, error)

	Close() error
}
