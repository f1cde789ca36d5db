package jsonfile

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bnema/altq/internal/domain"
	"github.com/bnema/altq/internal/port"
)

// Store keeps the whole queue in one JSON document. It is only safe for a
// single process.
type Store struct {
	mu     sync.RWMutex
	path   string
	nextID int64
	jobs   map[int64]*domain.Job
}

type document struct {
	NextID int64         `json:"next_id"`
	Jobs   []*domain.Job `json:"jobs"`
}

func NewStore(dataDir string) (*Store, error) {
	path := filepath.Join(dataDir, "jobs.json")

	store := &Store{
		path:   path,
		nextID: 1,
		jobs:   make(map[int64]*domain.Job),
	}

	if err := store.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	return store, nil
}

func (s *Store) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}

	if len(data) == 0 {
		return nil
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}

	for _, j := range doc.Jobs {
		s.jobs[j.ID] = j
		if j.ID >= s.nextID {
			s.nextID = j.ID + 1
		}
	}
	if doc.NextID > s.nextID {
		s.nextID = doc.NextID
	}

	return nil
}

func (s *Store) save() error {
	tmpPath := s.path + ".tmp"

	doc := document{NextID: s.nextID, Jobs: s.sorted()}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}

	return os.Rename(tmpPath, s.path)
}

// sorted returns every job ordered by (enqueued_at, id).
func (s *Store) sorted() []*domain.Job {
	list := make([]*domain.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		list = append(list, j)
	}
	slices.SortFunc(list, compareQueueOrder)
	return list
}

func compareQueueOrder(a, b *domain.Job) int {
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
}

func (s *Store) active(entityID int64) *domain.Job {
	var found *domain.Job
	for _, j := range s.jobs {
		if j.EntityID != entityID {
			continue
		}
		if j.Status != domain.JobStatusPending && j.Status != domain.JobStatusProcessing {
			continue
		}
		if found == nil || j.ID < found.ID {
			found = j
		}
	}
	return found
}

func (s *Store) insert(entityID int64, source string, now time.Time) (*domain.Job, bool) {
	if existing := s.active(entityID); existing != nil {
		return existing, false
	}
	job := &domain.Job{
		ID:         s.nextID,
		EntityID:   entityID,
		Status:     domain.JobStatusPending,
		Source:     source,
		EnqueuedAt: now.UTC(),
	}
	s.nextID++
	s.jobs[job.ID] = job
	return job, true
}

func (s *Store) Enqueue(_ context.Context, entityID int64, source string, now time.Time) (*domain.Job, bool, error) {
	if entityID <= 0 {
		return nil, false, domain.ErrInvalidEntity
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, created := s.insert(entityID, source, now)
	if !created {
		return clone(job), false, nil
	}
	if err := s.save(); err != nil {
		delete(s.jobs, job.ID)
		return nil, false, err
	}
	return clone(job), true, nil
}

func (s *Store) EnqueueMany(_ context.Context, entityIDs []int64, source string, now time.Time) (int, error) {
	ids := domain.UniqueEntityIDs(entityIDs)
	if len(ids) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if source == domain.SourceRegenerate {
		s.deleteForEntities(ids)
	}

	count := 0
	for _, id := range ids {
		if _, created := s.insert(id, source, now); created {
			count++
		}
	}
	return count, s.save()
}

func (s *Store) deleteForEntities(ids []int64) int64 {
	var n int64
	for id, j := range s.jobs {
		if slices.Contains(ids, j.EntityID) {
			delete(s.jobs, id)
			n++
		}
	}
	return n
}

func (s *Store) ClearForEntities(_ context.Context, entityIDs []int64) (int64, error) {
	ids := domain.UniqueEntityIDs(entityIDs)
	if len(ids) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.deleteForEntities(ids)
	if n == 0 {
		return 0, nil
	}
	return n, s.save()
}

func (s *Store) ClaimBatch(_ context.Context, limit int, now time.Time) ([]*domain.Job, error) {
	if limit < 1 {
		limit = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	busy := make(map[int64]bool)
	for _, j := range s.jobs {
		if j.Status == domain.JobStatusProcessing {
			busy[j.EntityID] = true
		}
	}

	token := uuid.NewString()
	lockedAt := now.UTC()
	var claimed []*domain.Job
	for _, j := range s.sorted() {
		if len(claimed) >= limit {
			break
		}
		if j.Status != domain.JobStatusPending || busy[j.EntityID] {
			continue
		}
		busy[j.EntityID] = true
		j.Status = domain.JobStatusProcessing
		j.Attempts++
		j.LockedAt = &lockedAt
		j.ClaimToken = token
		claimed = append(claimed, clone(j))
	}

	if len(claimed) == 0 {
		return nil, nil
	}
	return claimed, s.save()
}

// finish applies fn only while jobID is still processing under claimToken.
func (s *Store) finish(jobID int64, claimToken string, fn func(*domain.Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if j.Status != domain.JobStatusProcessing || j.ClaimToken != claimToken {
		return domain.ErrClaimLost
	}
	fn(j)
	return s.save()
}

func (s *Store) MarkComplete(_ context.Context, jobID int64, claimToken string, now time.Time) error {
	return s.finish(jobID, claimToken, func(j *domain.Job) { complete(j, now) })
}

func complete(j *domain.Job, now time.Time) {
	completedAt := now.UTC()
	j.Status = domain.JobStatusCompleted
	j.CompletedAt = &completedAt
	j.LockedAt = nil
	j.LastError = ""
}

func (s *Store) MarkRetry(_ context.Context, jobID int64, claimToken string, errMsg string) error {
	return s.finish(jobID, claimToken, func(j *domain.Job) {
		j.Status = domain.JobStatusPending
		j.LockedAt = nil
		j.LastError = errMsg
	})
}

func (s *Store) MarkFailed(_ context.Context, jobID int64, claimToken string, errMsg string) error {
	return s.finish(jobID, claimToken, func(j *domain.Job) {
		j.Status = domain.JobStatusFailed
		j.LockedAt = nil
		j.LastError = errMsg
	})
}

// updateWhere applies fn to every job matching pred and saves once.
func (s *Store) updateWhere(pred func(*domain.Job) bool, fn func(*domain.Job)) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, j := range s.jobs {
		if pred(j) {
			fn(j)
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return n, s.save()
}

func (s *Store) deleteWhere(pred func(*domain.Job) bool) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, j := range s.jobs {
		if pred(j) {
			delete(s.jobs, id)
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return n, s.save()
}

func (s *Store) ResetStale(_ context.Context, lockedBefore time.Time) (int64, error) {
	return s.updateWhere(
		func(j *domain.Job) bool {
			return j.Status == domain.JobStatusProcessing && j.LockedAt != nil && j.LockedAt.Before(lockedBefore)
		},
		func(j *domain.Job) {
			j.Status = domain.JobStatusPending
			j.LockedAt = nil
		},
	)
}

func (s *Store) PurgeCompleted(_ context.Context, completedBefore time.Time) (int64, error) {
	return s.deleteWhere(func(j *domain.Job) bool {
		return j.Status == domain.JobStatusCompleted && j.CompletedAt != nil && !j.CompletedAt.After(completedBefore)
	})
}

func (s *Store) ClearCompleted(_ context.Context) (int64, error) {
	return s.deleteWhere(func(j *domain.Job) bool {
		return j.Status == domain.JobStatusCompleted
	})
}

func (s *Store) RetryJob(_ context.Context, jobID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if j.Status != domain.JobStatusFailed && j.Status != domain.JobStatusProcessing {
		return domain.ErrInvalidTransition
	}
	resetToPending(j)
	return s.save()
}

func resetToPending(j *domain.Job) {
	j.Status = domain.JobStatusPending
	j.LockedAt = nil
	j.LastError = ""
}

func (s *Store) RetryFailed(_ context.Context) (int64, error) {
	return s.updateWhere(
		func(j *domain.Job) bool { return j.Status == domain.JobStatusFailed },
		resetToPending,
	)
}

func (s *Store) PendingEntityIDs(_ context.Context) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[int64]struct{})
	var ids []int64
	for _, j := range s.jobs {
		if j.Status != domain.JobStatusPending {
			continue
		}
		if _, ok := seen[j.EntityID]; ok {
			continue
		}
		seen[j.EntityID] = struct{}{}
		ids = append(ids, j.EntityID)
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *Store) CompletePendingForEntities(_ context.Context, entityIDs []int64, now time.Time) (int64, error) {
	ids := domain.UniqueEntityIDs(entityIDs)
	if len(ids) == 0 {
		return 0, nil
	}
	return s.updateWhere(
		func(j *domain.Job) bool {
			return j.Status == domain.JobStatusPending && slices.Contains(ids, j.EntityID)
		},
		func(j *domain.Job) { complete(j, now) },
	)
}

func (s *Store) Get(_ context.Context, jobID int64) (*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return clone(j), nil
}

func (s *Store) Stats(_ context.Context, recentSince time.Time) (domain.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats domain.Stats
	for _, j := range s.jobs {
		switch j.Status {
		case domain.JobStatusPending:
			stats.Pending++
		case domain.JobStatusProcessing:
			stats.Processing++
		case domain.JobStatusCompleted:
			stats.Completed++
			if j.CompletedAt != nil && j.CompletedAt.After(recentSince) {
				stats.CompletedRecent++
			}
		case domain.JobStatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

func (s *Store) Recent(_ context.Context, limit int) ([]*domain.Job, error) {
	return s.newest(limit, func(*domain.Job) bool { return true }), nil
}

func (s *Store) RecentFailures(_ context.Context, limit int) ([]*domain.Job, error) {
	return s.newest(limit, func(j *domain.Job) bool { return j.Status == domain.JobStatusFailed }), nil
}

func (s *Store) newest(limit int, pred func(*domain.Job) bool) []*domain.Job {
	if limit < 1 {
		limit = 1
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.sorted()
	var out []*domain.Job
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		if pred(all[i]) {
			out = append(out, clone(all[i]))
		}
	}
	return out
}

func (s *Store) Close() error {
	return nil
}

func clone(j *domain.Job) *domain.Job {
	c := *j
	if j.LockedAt != nil {
		t := *j.LockedAt
		c.LockedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

var _ port.JobStore = (*Store)(nil)
