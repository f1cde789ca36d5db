package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bnema/altq/internal/domain"
	"github.com/bnema/altq/internal/port"
)

const jobColumns = `id, entity_id, status, attempts, source, last_error, enqueued_at, locked_at, completed_at, claim_token`

// Keeps IN (...) lists well under SQLITE_MAX_VARIABLE_NUMBER.
const maxInParams = 500

const insertPendingSQL = `
INSERT INTO jobs (entity_id, status, source, enqueued_at)
SELECT ?, 'pending', ?, ?
WHERE NOT EXISTS (
    SELECT 1 FROM jobs WHERE entity_id = ? AND status IN ('pending', 'processing')
)
RETURNING ` + jobColumns

// claimSQL picks the oldest pending rows, one per entity, skipping entities
// that already have a row in processing, and flips them in the same statement.
const claimSQL = `
UPDATE jobs
SET status = 'processing', locked_at = ?, attempts = attempts + 1, claim_token = ?
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
    LIMIT ?
)
AND status = 'pending'
RETURNING ` + jobColumns

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) Enqueue(ctx context.Context, entityID int64, source string, now time.Time) (*domain.Job, bool, error) {
	if entityID <= 0 {
		return nil, false, domain.ErrInvalidEntity
	}
	return enqueueOne(ctx, s.db, entityID, source, now)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func enqueueOne(ctx context.Context, q queryer, entityID int64, source string, now time.Time) (*domain.Job, bool, error) {
	row := q.QueryRowContext(ctx, insertPendingSQL, entityID, source, toMillis(now), entityID)
	job, err := scanJob(row)
	if err == nil {
		return job, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("insert job for entity %d: %w", entityID, err)
	}

	existing, err := scanJob(q.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE entity_id = ? AND status IN ('pending', 'processing')
		 ORDER BY id ASC LIMIT 1`, entityID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin enqueue: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if source == domain.SourceRegenerate {
		if _, err := deleteForEntities(ctx, tx, ids); err != nil {
			return 0, err
		}
	}

	count := 0
	for _, id := range ids {
		_, created, err := enqueueOne(ctx, tx, id, source, now)
		if err != nil {
			return 0, err
		}
		if created {
			count++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit enqueue: %w", err)
	}
	return count, nil
}

func (s *Store) ClearForEntities(ctx context.Context, entityIDs []int64) (int64, error) {
	ids := domain.UniqueEntityIDs(entityIDs)
	if len(ids) == 0 {
		return 0, nil
	}
	return deleteForEntities(ctx, s.db, ids)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func deleteForEntities(ctx context.Context, e execer, ids []int64) (int64, error) {
	var total int64
	for _, chunk := range chunkIDs(ids) {
		res, err := e.ExecContext(ctx,
			`DELETE FROM jobs WHERE entity_id IN (`+placeholders(len(chunk))+`)`,
			int64Args(chunk)...)
		if err != nil {
			return total, fmt.Errorf("clear jobs for entities: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func (s *Store) ClaimBatch(ctx context.Context, limit int, now time.Time) ([]*domain.Job, error) {
	if limit < 1 {
		limit = 1
	}

	rows, err := s.db.QueryContext(ctx, claimSQL, toMillis(now), uuid.NewString(), limit)
	if err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}
	jobs, err := scanJobs(rows)
	if err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}

	// RETURNING does not guarantee order.
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].EnqueuedAt.Equal(jobs[j].EnqueuedAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].EnqueuedAt.Before(jobs[j].EnqueuedAt)
	})
	return jobs, nil
}

func (s *Store) MarkComplete(ctx context.Context, jobID int64, claimToken string, now time.Time) error {
	return s.finish(ctx, jobID, `
UPDATE jobs SET status = 'completed', completed_at = ?, locked_at = NULL, last_error = ''
WHERE id = ? AND status = 'processing' AND claim_token = ?`, toMillis(now), jobID, claimToken)
}

func (s *Store) MarkRetry(ctx context.Context, jobID int64, claimToken string, errMsg string) error {
	return s.finish(ctx, jobID, `
UPDATE jobs SET status = 'pending', locked_at = NULL, last_error = ?
WHERE id = ? AND status = 'processing' AND claim_token = ?`, errMsg, jobID, claimToken)
}

func (s *Store) MarkFailed(ctx context.Context, jobID int64, claimToken string, errMsg string) error {
	return s.finish(ctx, jobID, `
UPDATE jobs SET status = 'failed', locked_at = NULL, last_error = ?
WHERE id = ? AND status = 'processing' AND claim_token = ?`, errMsg, jobID, claimToken)
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
WHERE status = 'processing' AND locked_at IS NOT NULL AND locked_at < ?`, toMillis(lockedBefore))
}

func (s *Store) PurgeCompleted(ctx context.Context, completedBefore time.Time) (int64, error) {
	return s.execCount(ctx, `
DELETE FROM jobs
WHERE status = 'completed' AND completed_at IS NOT NULL AND completed_at <= ?`, toMillis(completedBefore))
}

func (s *Store) ClearCompleted(ctx context.Context) (int64, error) {
	return s.execCount(ctx, `DELETE FROM jobs WHERE status = 'completed'`)
}

func (s *Store) RetryJob(ctx context.Context, jobID int64) error {
	n, err := s.execCount(ctx, `
UPDATE jobs SET status = 'pending', locked_at = NULL, last_error = ''
WHERE id = ? AND status IN ('failed', 'processing')`, jobID)
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
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT entity_id FROM jobs WHERE status = 'pending' ORDER BY entity_id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) CompletePendingForEntities(ctx context.Context, entityIDs []int64, now time.Time) (int64, error) {
	ids := domain.UniqueEntityIDs(entityIDs)
	var total int64
	for _, chunk := range chunkIDs(ids) {
		args := append([]any{toMillis(now)}, int64Args(chunk)...)
		n, err := s.execCount(ctx, `
UPDATE jobs SET status = 'completed', completed_at = ?, locked_at = NULL, last_error = ''
WHERE status = 'pending' AND entity_id IN (`+placeholders(len(chunk))+`)`, args...)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (s *Store) execCount(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) Get(ctx context.Context, jobID int64) (*domain.Job, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, jobID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

func (s *Store) Stats(ctx context.Context, recentSince time.Time) (domain.Stats, error) {
	var stats domain.Stats

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return stats, fmt.Errorf("count jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return stats, err
		}
		switch domain.JobStatus(status) {
		case domain.JobStatusPending:
			stats.Pending = n
		case domain.JobStatusProcessing:
			stats.Processing = n
		case domain.JobStatusCompleted:
			stats.Completed = n
		case domain.JobStatusFailed:
			stats.Failed = n
		}
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}

	err = s.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM jobs
WHERE status = 'completed' AND completed_at IS NOT NULL AND completed_at > ?`,
		toMillis(recentSince)).Scan(&stats.CompletedRecent)
	if err != nil {
		return stats, fmt.Errorf("count recent completions: %w", err)
	}
	return stats, nil
}

func (s *Store) Recent(ctx context.Context, limit int) ([]*domain.Job, error) {
	return s.list(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY enqueued_at DESC, id DESC LIMIT ?`, limit)
}

func (s *Store) RecentFailures(ctx context.Context, limit int) ([]*domain.Job, error) {
	return s.list(ctx, `SELECT `+jobColumns+` FROM jobs WHERE status = 'failed' ORDER BY enqueued_at DESC, id DESC LIMIT ?`, limit)
}

func (s *Store) list(ctx context.Context, query string, limit int) ([]*domain.Job, error) {
	if limit < 1 {
		limit = 1
	}
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	return scanJobs(rows)
}

// Helper conversions

func scanJob(row rowScanner) (*domain.Job, error) {
	var (
		job         domain.Job
		status      string
		enqueuedAt  int64
		lockedAt    sql.NullInt64
		completedAt sql.NullInt64
	)
	if err := row.Scan(
		&job.ID,
		&job.EntityID,
		&status,
		&job.Attempts,
		&job.Source,
		&job.LastError,
		&enqueuedAt,
		&lockedAt,
		&completedAt,
		&job.ClaimToken,
	); err != nil {
		return nil, err
	}

	job.Status = domain.JobStatus(status)
	job.EnqueuedAt = fromMillis(enqueuedAt)
	if lockedAt.Valid {
		t := fromMillis(lockedAt.Int64)
		job.LockedAt = &t
	}
	if completedAt.Valid {
		t := fromMillis(completedAt.Int64)
		job.CompletedAt = &t
	}
	return &job, nil
}

func scanJobs(rows *sql.Rows) ([]*domain.Job, error) {
	defer func() { _ = rows.Close() }()

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

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func chunkIDs(ids []int64) [][]int64 {
	var chunks [][]int64
	for len(ids) > maxInParams {
		chunks = append(chunks, ids[:maxInParams])
		ids = ids[maxInParams:]
	}
	if len(ids) > 0 {
		chunks = append(chunks, ids)
	}
	return chunks
}

var _ port.JobStore = (*Store)(nil)
