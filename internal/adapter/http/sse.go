package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bnema/altq/internal/infrastructure/logger"
	"github.com/bnema/altq/internal/service"
)

const keepAliveInterval = 15 * time.Second

type SSEHandler struct {
	eventBus *service.EventBus
	queue    QueueService
}

func NewSSEHandler(eventBus *service.EventBus, queue QueueService) *SSEHandler {
	return &SSEHandler{eventBus: eventBus, queue: queue}
}

// sseWrite writes an SSE event, handling multi-line data correctly.
func sseWrite(w http.ResponseWriter, eventName string, data string) {
	_, _ = fmt.Fprintf(w, "event: %s\n", eventName)
	for _, line := range strings.Split(data, "\n") {
		_, _ = fmt.Fprintf(w, "data: %s\n", line)
	}
	_, _ = fmt.Fprint(w, "\n")
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func sseJSON(w http.ResponseWriter, eventName string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Error.Printf("sse: encode %s: %v", eventName, err)
		return
	}
	sseWrite(w, eventName, string(data))
}

// sendKeepAlive writes an SSE comment to keep the connection active.
func sendKeepAlive(w http.ResponseWriter) {
	_, _ = fmt.Fprint(w, ": keep-alive\n\n")
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

// Events streams job transitions. The optional entity_id query parameter
// narrows the stream to one entity. The first event carries current stats.
func (h *SSEHandler) Events() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entityID := service.AllEntities
		if raw := r.URL.Query().Get("entity_id"); raw != "" {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || id < 1 {
				writeErr(w, http.StatusBadRequest, "invalid entity_id")
				return
			}
			entityID = id
		}

		ch := h.eventBus.Subscribe(entityID)
		defer h.eventBus.Unsubscribe(entityID, ch)

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)

		ctx := r.Context()
		if stats, err := h.queue.Stats(ctx); err == nil {
			sseJSON(w, "stats", stats)
		} else {
			logger.Warn.Printf("sse: stats: %v", err)
			sendKeepAlive(w)
		}

		keepAlive := time.NewTicker(keepAliveInterval)
		defer keepAlive.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-keepAlive.C:
				sendKeepAlive(w)
			case event, ok := <-ch:
				if !ok {
					return
				}
				sseJSON(w, event.Type, event)
			}
		}
	}
}
