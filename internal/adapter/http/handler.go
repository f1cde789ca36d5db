package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/bnema/altq/internal/domain"
)

const (
	defaultListLimit = 20
	maxListLimit     = 200
	maxEnqueueIDs    = 5000
	maxBodyBytes     = 1 << 20
)

type QueueService interface {
	Enqueue(ctx context.Context, entityID int64, source string, force bool) (*domain.Job, bool, error)
	EnqueueMany(ctx context.Context, entityIDs []int64, source string) (int, error)
	Stats(ctx context.Context) (domain.Stats, error)
	Get(ctx context.Context, jobID int64) (*domain.Job, error)
	Recent(ctx context.Context, limit int) ([]*domain.Job, error)
	RecentFailures(ctx context.Context, limit int) ([]*domain.Job, error)
	RetryJob(ctx context.Context, jobID int64) error
	RetryFailed(ctx context.Context) (int64, error)
	ClearCompleted(ctx context.Context) (int64, error)
	CleanupRedundant(ctx context.Context) (int64, error)
}

type TickKicker interface {
	Kick()
}

type Handlers struct {
	queue QueueService
	ticks TickKicker
}

func NewHandlers(queue QueueService, ticks TickKicker) *Handlers {
	return &Handlers{queue: queue, ticks: ticks}
}

type enqueueRequest struct {
	EntityIDs []int64 `json:"entity_ids"`
	Source    string  `json:"source"`
	Force     bool    `json:"force"`
}

type enqueueResponse struct {
	Enqueued int         `json:"enqueued"`
	Job      *domain.Job `json:"job,omitempty"`
}

func (h *Handlers) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func (h *Handlers) Stats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := h.queue.Stats(r.Context())
		if err != nil {
			writeServiceErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func (h *Handlers) Recent() http.HandlerFunc {
	return h.list(h.queue.Recent)
}

func (h *Handlers) Failures() http.HandlerFunc {
	return h.list(h.queue.RecentFailures)
}

func (h *Handlers) list(fetch func(context.Context, int) ([]*domain.Job, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, ok := parseLimit(r)
		if !ok {
			writeErr(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		jobs, err := fetch(r.Context(), limit)
		if err != nil {
			writeServiceErr(w, err)
			return
		}
		if jobs == nil {
			jobs = []*domain.Job{}
		}
		writeJSON(w, http.StatusOK, jobs)
	}
}

// Enqueue accepts one or more entity ids. A single id goes through the
// should-generate gate unless force is set; batches and regenerate
// requests are enqueued as given.
func (h *Handlers) Enqueue() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req enqueueRequest
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeErr(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if len(req.EntityIDs) == 0 {
			writeErr(w, http.StatusBadRequest, "entity_ids is required")
			return
		}
		if len(req.EntityIDs) > maxEnqueueIDs {
			writeErr(w, http.StatusBadRequest, "too many entity_ids")
			return
		}

		if len(req.EntityIDs) == 1 && domain.SanitizeSource(req.Source) != domain.SourceRegenerate {
			job, created, err := h.queue.Enqueue(r.Context(), req.EntityIDs[0], req.Source, req.Force)
			if err != nil {
				writeServiceErr(w, err)
				return
			}
			resp := enqueueResponse{Job: job}
			if created {
				resp.Enqueued = 1
			}
			writeJSON(w, http.StatusOK, resp)
			return
		}

		n, err := h.queue.EnqueueMany(r.Context(), req.EntityIDs, req.Source)
		if err != nil {
			writeServiceErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, enqueueResponse{Enqueued: n})
	}
}

func (h *Handlers) Job() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := jobID(r)
		if !ok {
			writeErr(w, http.StatusBadRequest, "invalid job id")
			return
		}
		job, err := h.queue.Get(r.Context(), id)
		if err != nil {
			writeServiceErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}

func (h *Handlers) Retry() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := jobID(r)
		if !ok {
			writeErr(w, http.StatusBadRequest, "invalid job id")
			return
		}
		if err := h.queue.RetryJob(r.Context(), id); err != nil {
			writeServiceErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int64{"retried": 1})
	}
}

func (h *Handlers) RetryFailed() http.HandlerFunc {
	return h.count("retried", h.queue.RetryFailed)
}

func (h *Handlers) ClearCompleted() http.HandlerFunc {
	return h.count("deleted", h.queue.ClearCompleted)
}

func (h *Handlers) Cleanup() http.HandlerFunc {
	return h.count("completed", h.queue.CleanupRedundant)
}

func (h *Handlers) count(key string, op func(context.Context) (int64, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := op(r.Context())
		if err != nil {
			writeServiceErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int64{key: n})
	}
}

func (h *Handlers) Tick() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if h.ticks == nil {
			writeErr(w, http.StatusServiceUnavailable, "scheduler not running")
			return
		}
		h.ticks.Kick()
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
	}
}

func parseLimit(r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, false
	}
	return min(n, maxListLimit), true
}

func jobID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		return 0, false
	}
	return id, true
}
