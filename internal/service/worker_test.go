package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/bnema/altq/internal/domain"
	"github.com/bnema/altq/internal/port/mocks"
)

func testWorkerConfig() WorkerConfig {
	cfg := DefaultWorkerConfig()
	cfg.GenerateTimeout = time.Second
	return cfg
}

func seed(t *testing.T, q *Queue, clock *testClock, ids ...int64) []*domain.Job {
	t.Helper()
	var jobs []*domain.Job
	for _, id := range ids {
		job, created, err := q.Enqueue(context.Background(), id, domain.SourceUpload, true)
		require.NoError(t, err)
		require.True(t, created)
		jobs = append(jobs, job)
		clock.Advance(time.Second)
	}
	return jobs
}

func TestWorker_IdleTick(t *testing.T) {
	q, _, _, _ := newTestQueue(t, nil)
	gen := mocks.NewGeneratorMock(t)
	w := NewWorker(q, gen, nil, nil, testWorkerConfig())

	result, err := w.RunTick(context.Background())

	require.NoError(t, err)
	assert.Equal(t, TickResult{}, result)
}

func TestWorker_SuccessfulBatch(t *testing.T) {
	ctx := context.Background()
	q, store, clock, _ := newTestQueue(t, nil)
	seed(t, q, clock, 1, 2, 3, 4)

	gen := mocks.NewGeneratorMock(t)
	var order []int64
	gen.EXPECT().Generate(mock.Anything, mock.Anything, domain.SourceUpload, 0).
		RunAndReturn(func(_ context.Context, id int64, _ string, _ int) (string, error) {
			order = append(order, id)
			return "a cat on a sofa", nil
		}).Times(3)

	w := NewWorker(q, gen, nil, nil, testWorkerConfig())
	result, err := w.RunTick(ctx)

	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, order)
	assert.Equal(t, 3, result.Claimed)
	assert.Equal(t, 3, result.Completed)
	assert.Equal(t, 45*time.Second, result.Next)
	assert.False(t, result.Deferred)

	stats, err := store.Stats(ctx, baseTime.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 3, stats.Completed)
}

func TestWorker_RateLimitAbortsBatch(t *testing.T) {
	ctx := context.Background()
	q, store, clock, _ := newTestQueue(t, nil)
	jobs := seed(t, q, clock, 1, 2, 3)

	gen := mocks.NewGeneratorMock(t)
	gen.EXPECT().Generate(mock.Anything, int64(1), mock.Anything, 0).Return("ok", nil).Once()
	gen.EXPECT().Generate(mock.Anything, int64(2), mock.Anything, 0).
		Return("", domain.NewGenerateError(domain.KindRateLimited, "quota exhausted")).Once()

	w := NewWorker(q, gen, nil, nil, testWorkerConfig())
	result, err := w.RunTick(ctx)

	require.NoError(t, err)
	assert.True(t, result.Deferred)
	assert.Equal(t, time.Hour, result.Next)
	assert.Equal(t, 1, result.Completed)
	assert.Equal(t, 2, result.Retried)

	second, err := store.Get(ctx, jobs[1].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, second.Status)
	assert.Equal(t, 1, second.Attempts)
	assert.Contains(t, second.LastError, "quota exhausted")

	third, err := store.Get(ctx, jobs[2].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, third.Status)
	assert.Equal(t, deferredMessage, third.LastError)
	assert.Nil(t, third.LockedAt)
}

func TestWorker_RateLimitNeverFailsJob(t *testing.T) {
	ctx := context.Background()
	q, store, clock, _ := newTestQueue(t, nil)
	jobs := seed(t, q, clock, 1)

	gen := mocks.NewGeneratorMock(t)
	gen.EXPECT().Generate(mock.Anything, int64(1), mock.Anything, mock.Anything).
		Return("", domain.NewGenerateError(domain.KindRateLimited, "429")).Times(4)

	w := NewWorker(q, gen, nil, nil, testWorkerConfig())
	for range 4 {
		_, err := w.RunTick(ctx)
		require.NoError(t, err)
	}

	got, err := store.Get(ctx, jobs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, got.Status)
	assert.Equal(t, 4, got.Attempts)
}

func TestWorker_TerminalConvergence(t *testing.T) {
	ctx := context.Background()
	q, store, clock, _ := newTestQueue(t, nil)
	jobs := seed(t, q, clock, 9)

	gen := mocks.NewGeneratorMock(t)
	for retry := range 3 {
		gen.EXPECT().Generate(mock.Anything, int64(9), domain.SourceUpload, retry).
			Return("", errors.New("upstream 500")).Once()
	}

	w := NewWorker(q, gen, nil, nil, testWorkerConfig())

	statuses := make([]domain.JobStatus, 0, 3)
	for range 3 {
		_, err := w.RunTick(ctx)
		require.NoError(t, err)
		got, err := store.Get(ctx, jobs[0].ID)
		require.NoError(t, err)
		statuses = append(statuses, got.Status)
	}
	assert.Equal(t, []domain.JobStatus{domain.JobStatusPending, domain.JobStatusPending, domain.JobStatusFailed}, statuses)

	result, err := w.RunTick(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Claimed)
	assert.Zero(t, result.Next)

	got, err := store.Get(ctx, jobs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	assert.Equal(t, 3, got.Attempts)
	assert.Equal(t, "upstream 500", got.LastError)
}

func TestWorker_FailsOnceAttemptsExhausted(t *testing.T) {
	ctx := context.Background()
	q, store, clock, _ := newTestQueue(t, nil)
	jobs := seed(t, q, clock, 9)

	for range 3 {
		claimed, err := store.ClaimBatch(ctx, 1, clock.Now())
		require.NoError(t, err)
		require.NoError(t, store.MarkRetry(ctx, claimed[0].ID, claimed[0].ClaimToken, "retry"))
	}

	gen := mocks.NewGeneratorMock(t)
	gen.EXPECT().Generate(mock.Anything, int64(9), mock.Anything, 3).
		Return("", errors.New("still broken")).Once()

	w := NewWorker(q, gen, nil, nil, testWorkerConfig())
	result, err := w.RunTick(ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	got, err := store.Get(ctx, jobs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	assert.Equal(t, 4, got.Attempts)
}

func TestWorker_NotEligibleCompletes(t *testing.T) {
	ctx := context.Background()

	t.Run("inspector reports entity gone", func(t *testing.T) {
		inspector := mocks.NewEntityInspectorMock(t)
		inspector.EXPECT().Inspect(mock.Anything, int64(4)).Return(domain.Entity{ID: 4}, nil).Once()
		q, store, clock, _ := newTestQueue(t, nil)
		jobs := seed(t, q, clock, 4)

		w := NewWorker(q, mocks.NewGeneratorMock(t), inspector, nil, testWorkerConfig())
		result, err := w.RunTick(ctx)

		require.NoError(t, err)
		assert.Equal(t, 1, result.Completed)
		got, _ := store.Get(ctx, jobs[0].ID)
		assert.Equal(t, domain.JobStatusCompleted, got.Status)
	})

	t.Run("generator classifies not eligible", func(t *testing.T) {
		q, store, clock, _ := newTestQueue(t, nil)
		jobs := seed(t, q, clock, 4)
		gen := mocks.NewGeneratorMock(t)
		gen.EXPECT().Generate(mock.Anything, int64(4), mock.Anything, 0).
			Return("", domain.NewGenerateError(domain.KindNotEligible, "unsupported mime type")).Once()

		w := NewWorker(q, gen, nil, nil, testWorkerConfig())
		result, err := w.RunTick(ctx)

		require.NoError(t, err)
		assert.Equal(t, 1, result.Completed)
		got, _ := store.Get(ctx, jobs[0].ID)
		assert.Equal(t, domain.JobStatusCompleted, got.Status)
		assert.Empty(t, got.LastError)
	})
}

func TestWorker_TimeoutCountsAsAttempt(t *testing.T) {
	ctx := context.Background()
	q, store, clock, _ := newTestQueue(t, nil)
	jobs := seed(t, q, clock, 4)

	gen := mocks.NewGeneratorMock(t)
	gen.EXPECT().Generate(mock.Anything, int64(4), mock.Anything, 0).
		RunAndReturn(func(ctx context.Context, _ int64, _ string, _ int) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		}).Once()

	cfg := testWorkerConfig()
	cfg.GenerateTimeout = 20 * time.Millisecond
	w := NewWorker(q, gen, nil, nil, cfg)
	result, err := w.RunTick(ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, result.Retried)
	assert.False(t, result.Deferred)
	got, _ := store.Get(ctx, jobs[0].ID)
	assert.Equal(t, domain.JobStatusPending, got.Status)
	assert.Contains(t, got.LastError, "timed out")
}

func TestWorker_RecoversStaleJobs(t *testing.T) {
	ctx := context.Background()
	q, store, clock, _ := newTestQueue(t, nil)
	jobs := seed(t, q, clock, 4)

	_, err := store.ClaimBatch(ctx, 1, clock.Now())
	require.NoError(t, err)
	clock.Advance(11 * time.Minute)

	gen := mocks.NewGeneratorMock(t)
	gen.EXPECT().Generate(mock.Anything, int64(4), mock.Anything, 1).Return("ok", nil).Once()

	w := NewWorker(q, gen, nil, nil, testWorkerConfig())
	result, err := w.RunTick(ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, result.Completed)
	got, _ := store.Get(ctx, jobs[0].ID)
	assert.Equal(t, 2, got.Attempts)
}

func TestWorker_RateLimiterDeadlineRetriesJob(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	q, store, clock, _ := newTestQueue(t, nil)
	jobs := seed(t, q, clock, 1)

	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	require.True(t, limiter.Allow())

	w := NewWorker(q, mocks.NewGeneratorMock(t), nil, limiter, testWorkerConfig())
	result, err := w.RunTick(ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, result.Retried)
	got, err := store.Get(ctx, jobs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, got.Status)
	assert.Equal(t, 1, got.Attempts)
}

func TestWorker_CancelMidBatchReleasesJobs(t *testing.T) {
	q, store, clock, _ := newTestQueue(t, nil)
	jobs := seed(t, q, clock, 1, 2, 3)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gen := mocks.NewGeneratorMock(t)
	gen.EXPECT().Generate(mock.Anything, int64(1), mock.Anything, 0).
		RunAndReturn(func(ctx context.Context, _ int64, _ string, _ int) (string, error) {
			cancel()
			return "", ctx.Err()
		}).Once()

	cfg := testWorkerConfig()
	cfg.MaxAttempts = 1
	w := NewWorker(q, gen, nil, nil, cfg)
	result, err := w.RunTick(ctx)

	require.NoError(t, err)
	assert.Equal(t, 3, result.Claimed)
	assert.Equal(t, 3, result.Retried)
	assert.Zero(t, result.Failed)
	assert.Zero(t, result.Completed)

	for _, job := range jobs {
		got, err := store.Get(context.Background(), job.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusPending, got.Status, "job %d", job.ID)
		assert.Equal(t, 1, got.Attempts)
		assert.Nil(t, got.LockedAt)
		assert.Equal(t, interruptedMessage, got.LastError)
	}
}

func TestWorker_CancelledBeforeNextJob(t *testing.T) {
	q, store, clock, _ := newTestQueue(t, nil)
	jobs := seed(t, q, clock, 1, 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gen := mocks.NewGeneratorMock(t)
	gen.EXPECT().Generate(mock.Anything, int64(1), mock.Anything, 0).
		RunAndReturn(func(context.Context, int64, string, int) (string, error) {
			cancel()
			return "a dog", nil
		}).Once()

	w := NewWorker(q, gen, nil, nil, testWorkerConfig())
	result, err := w.RunTick(ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, result.Completed)
	assert.Equal(t, 1, result.Retried)

	first, err := store.Get(context.Background(), jobs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, first.Status)

	second, err := store.Get(context.Background(), jobs[1].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, second.Status)
	assert.Equal(t, interruptedMessage, second.LastError)
}

func TestWorker_SkipsJobWhoseClaimWasLost(t *testing.T) {
	ctx := context.Background()
	q, store, clock, _ := newTestQueue(t, nil)
	jobs := seed(t, q, clock, 7)

	var reclaimed []*domain.Job
	gen := mocks.NewGeneratorMock(t)
	gen.EXPECT().Generate(mock.Anything, int64(7), mock.Anything, 0).
		RunAndReturn(func(context.Context, int64, string, int) (string, error) {
			// The generation outlives the stale timeout and another tick
			// takes the row over.
			clock.Advance(11 * time.Minute)
			_, err := store.ResetStale(ctx, clock.Now().Add(-10*time.Minute))
			require.NoError(t, err)
			reclaimed, err = store.ClaimBatch(ctx, 1, clock.Now())
			require.NoError(t, err)
			return "", errors.New("upstream 500")
		}).Once()

	w := NewWorker(q, gen, nil, nil, testWorkerConfig())
	result, err := w.RunTick(ctx)

	require.NoError(t, err)
	assert.Zero(t, result.Retried)
	assert.Zero(t, result.Failed)
	require.Len(t, reclaimed, 1)

	got, err := store.Get(ctx, jobs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusProcessing, got.Status)
	assert.Equal(t, reclaimed[0].ClaimToken, got.ClaimToken)
	assert.Equal(t, 2, got.Attempts)
	assert.Empty(t, got.LastError)

	again, err := store.ClaimBatch(ctx, 1, clock.Now())
	require.NoError(t, err)
	assert.Empty(t, again)
}
