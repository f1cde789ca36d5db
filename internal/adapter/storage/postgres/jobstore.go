package postgres

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bnema/altq/internal/domain"
	"github.com/bnema/altq/internal/port"
)

const jobColumns = `id, entity_id, status, attempts, source, last_error, enqueued_at, locked_at, completed_at, claim_token`

const uniqueViolation = "23505"

const claimRetries = 3

const insertPendingSQL = `
INSERT INTO jobs (entity_id, status, source, enqueued_at)
SELECT $1, 'pending', $2, $3
WHERE NOT EXISTS (
    SELECT 1 FROM jobs WHERE entity_id = $1 AND status IN ('pending', 'processing')
)
RETURNING ` + jobColumns

const claimSQL = `
UPDATE jobs
SET status = 'processing', locked_at = $1, attempts = attempts + 1, claim_token = $2
WHERE id IN (
    SELECT j.id FROM jobs j
    WHERE j.status = 'pending'
      AND NOT EXISTS (
          SELECT 1 FROM jobs p WHERE p.entity_id = j.entity_id AND p.status = 'processing'
      )
      AND j.id = (
          SELECT q.id FROM jobs q
          WHERE q.entity_id = j.entity_id AND q.status = 'pending'
          ORDER BY q.enqueued_at ASC, q.id ASC
          LIMIT 1
      )
    ORDER BY j.enqueued_at ASC, j.id ASC
    LIMIT $3
    FOR UPDATE SKIP LOCKED
)
AND status = 'pending'
RETURNING ` + jobColumns

func (s *Store) Enqueue(ctx context.Context, entityID int64, source string, now time.Time) (*domain.Job, bool, error) {
	if entityID <= 0 {
		return nil, false, domain.ErrInvalidEntity
	}

	var (
		job     *domain.Job
		created bool
	)
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		job, created, err = enqueueLocked(ctx, tx, entityID, source, now)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return job, created, nil
}

// enqueueLocked serialises enqueues of the same entity with a transaction
// scoped advisory lock so the existence check and insert cannot interleave.
func enqueueLocked(ctx context.Context, tx pgx.Tx, entityID int64, source string, now time.Time) (*domain.Job, bool, error) {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, entityID); err != nil {
		return nil, false, fmt.Errorf("lock entity %d: %w", entityID, err)
	}

	job, err := scanJob(tx.QueryRow(ctx, insertPendingSQL, entityID, source, now.UTC()))
	if err == nil {
		return job, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("insert job for entity %d: %w", entityID, err)
	}

	existing, err := scanJob(tx.QueryRow(ctx, `
SELECT `+jobColumns+` FROM jobs
WHERE entity_id = $1 AND status IN ('pending', 'processing')
ORDER BY id ASC LIMIT 1`, entityID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("lookup active job for entity %d: %w", entityID, err)
	}
	return existing, false, nil
}

func (s *Store) EnqueueMany(ctx context.Context, entityIDs []int64, source string, now time.Time) (int, error) {
	ids := domain.UniqueEntityIDs(entityIDs)
	if len(ids) == 0 {
		return 0, nil
	}
	// Lock order must be stable across callers.
	locked := slices.Clone(ids)
	slices.Sort(locked)

	count := 0
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, id := range locked {
			if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, id); err != nil {
				return fmt.Errorf("lock entity %d: %w", id, err)
			}
		}

		if source == domain.SourceRegenerate {
			if _, err := tx.Exec(ctx, `DELETE FROM jobs WHERE entity_id = ANY($1)`, ids); err != nil {
				return fmt.Errorf("clear jobs for entities: %w", err)
			}
		}

		for _, id := range ids {
			_, created, err := enqueueLocked(ctx, tx, id, source, now)
			if err != nil {
				return err
			}
			if created {
				count++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) ClearForEntities(ctx context.Context, entityIDs []int64) (int64, error) {
	ids := domain.UniqueEntityIDs(entityIDs)
	if len(ids) == 0 {
		return 0, nil
	}
	return s.execCount(ctx, `DELETE FROM jobs WHERE entity_id = ANY($1)`, ids)
}

func (s *Store) ClaimBatch(ctx context.Context, limit int, now time.Time) ([]*domain.Job, error) {
	if limit < 1 {
		limit = 1
	}

	var lastErr error
	for range claimRetries {
		jobs, err := s.claimOnce(ctx, limit, now)
		if err == nil {
			return jobs, nil
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			// Another claimer took a sibling row of the same entity.
			lastErr = err
			continue
		}
		return nil, fmt.Errorf("claim batch: %w", err)
	}
	return nil, fmt.Errorf("claim batch: %w", lastErr)
}

func (s *Store) claimOnce(ctx context.Context, limit int, now time.Time) ([]*domain.Job, error) {
	rows, err := s.pool.Query(ctx, claimSQL, now.UTC(), uuid.NewString(), limit)
	if err != nil {
		return nil, err
	}
	jobs, err := scanJobs(rows)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(jobs, func(a, b *domain.Job) int {
		if c := a.EnqueuedAt.Compare(b.EnqueuedAt); c != 0 {
			return c
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return jobs, nil
}

func (s *Store) MarkComplete(ctx context.Context, jobID int64, claimToken string, now time.Time) error {
	return s.finish(ctx, jobID, `
UPDATE jobs SET status = 'completed', completed_at = $3, locked_at = NULL, last_error = ''
WHERE id = $1 AND status = 'processing' AND claim_token = $2`, jobID, claimToken, now.UTC())
}

func (s *Store) MarkRetry(ctx context.Context, jobID int64, claimToken string, errMsg string) error {
	return s.finish(ctx, jobID, `
UPDATE jobs SET status = 'pending', locked_at = NULL, last_error = $3
WHERE id = $1 AND status = 'processing' AND claim_token = $2`, jobID, claimToken, errMsg)
}

func (s *Store) MarkFailed(ctx context.Context, jobID int64, claimToken string, errMsg string) error {
	return s.finish(ctx, jobID, `
UPDATE jobs SET status = 'failed', locked_at = NULL, last_error = $3
WHERE id = $1 AND status = 'processing' AND claim_token = $2`, jobID, claimToken, errMsg)
}

// finish runs a claim-guarded update and tells a missing row apart from one
// that another claim now owns.
func (s *Store) finish(ctx context.Context, jobID int64, query string, args ...any) error {
	n, err := s.execCount(ctx, query, args...)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if _, err := s.Get(ctx, jobID); err != nil {
		return err
	}
	return domain.ErrClaimLost
}

func (s *Store) ResetStale(ctx context.Context, lockedBefore time.Time) (int64, error) {
	return s.execCount(ctx, `
UPDATE jobs SET status = 'pending', locked_at = NULL
WHERE status = 'processing' AND locked_at IS NOT NULL AND locked_at < $1`, lockedBefore.UTC())
}

func (s *Store) PurgeCompleted(ctx context.Context, completedBefore time.Time) (int64, error) {
	return s.execCount(ctx, `
DELETE FROM jobs
WHERE status = 'completed' AND completed_at IS NOT NULL AND completed_at <= $1`, completedBefore.UTC())
}

func (s *Store) ClearCompleted(ctx context.Context) (int64, error) {
	return s.execCount(ctx, `DELETE FROM jobs WHERE status = 'completed'`)
}

func (s *Store) RetryJob(ctx context.Context, jobID int64) error {
	n, err := s.execCount(ctx, `
UPDATE jobs SET status = 'pending', locked_at = NULL, last_error = ''
WHERE id = $1 AND status IN ('failed', 'processing')`, jobID)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if _, err := s.Get(ctx, jobID); err != nil {
		return err
	}
	return domain.ErrInvalidTransition
}

func (s *Store) RetryFailed(ctx context.Context) (int64, error) {
	return s.execCount(ctx, `
UPDATE jobs SET status = 'pending', locked_at = NULL, last_error = ''
WHERE status = 'failed'`)
}

func (s *Store) PendingEntityIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT entity_id FROM jobs WHERE status = 'pending' ORDER BY entity_id ASC`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func (s *Store) CompletePendingForEntities(ctx context.Context, entityIDs []int64, now time.Time) (int64, error) {
	ids := domain.UniqueEntityIDs(entityIDs)
	if len(ids) == 0 {
		return 0, nil
	}
	return s.execCount(ctx, `
UPDATE jobs SET status = 'completed', completed_at = $1, locked_at = NULL, last_error = ''
WHERE status = 'pending' AND entity_id = ANY($2)`, now.UTC(), ids)
}

func (s *Store) execCount(ctx context.Context, query string, args ...any) (int64, error) {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) Get(ctx context.Context, jobID int64) (*domain.Job, error) {
	job, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

func (s *Store) Stats(ctx context.Context, recentSince time.Time) (domain.Stats, error) {
	var stats domain.Stats
	err := s.pool.QueryRow(ctx, `
SELECT
    COUNT(*) FILTER (WHERE status = 'pending'),
    COUNT(*) FILTER (WHERE status = 'processing'),
    COUNT(*) FILTER (WHERE status = 'completed'),
    COUNT(*) FILTER (WHERE status = 'failed'),
    COUNT(*) FILTER (WHERE status = 'completed' AND completed_at > $1)
FROM jobs`, recentSince.UTC()).Scan(
		&stats.Pending,
		&stats.Processing,
		&stats.Completed,
		&stats.Failed,
		&stats.CompletedRecent,
	)
	if err != nil {
		return stats, fmt.Errorf("count jobs: %w", err)
	}
	return stats, nil
}

func (s *Store) Recent(ctx context.Context, limit int) ([]*domain.Job, error) {
	return s.list(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY enqueued_at DESC, id DESC LIMIT $1`, limit)
}

func (s *Store) RecentFailures(ctx context.Context, limit int) ([]*domain.Job, error) {
	return s.list(ctx, `SELECT `+jobColumns+` FROM jobs WHERE status = 'failed' ORDER BY enqueued_at DESC, id DESC LIMIT $1`, limit)
}

func (s *Store) list(ctx context.Context, query string, limit int) ([]*domain.Job, error) {
	if limit < 1 {
		limit = 1
	}
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	return scanJobs(rows)
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		job    domain.Job
		status string
	)
	if err := row.Scan(
		&job.ID,
		&job.EntityID,
		&status,
		&job.Attempts,
		&job.Source,
		&job.LastError,
		&job.EnqueuedAt,
		&job.LockedAt,
		&job.CompletedAt,
		&job.ClaimToken,
	); err != nil {
		return nil, err
	}
	job.Status = domain.JobStatus(status)
	job.EnqueuedAt = job.EnqueuedAt.UTC()
	if job.LockedAt != nil {
		t := job.LockedAt.UTC()
		job.LockedAt = &t
	}
	if job.CompletedAt != nil {
		t := job.CompletedAt.UTC()
		job.CompletedAt = &t
	}
	return &job, nil
}

func scanJobs(rows pgx.Rows) ([]*domain.Job, error) {
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

var _ port.JobStore = (*Store)(nil)
