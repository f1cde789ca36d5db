package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/bnema/altq/internal/adapter/http/middleware"
	"github.com/bnema/altq/internal/service"
)

type Server struct {
	router      chi.Router
	handlers    *Handlers
	sseHandler  *SSEHandler
	auth        *TokenAuth
	behindProxy bool
}

func NewServer(queue QueueService, ticks TickKicker, eventBus *service.EventBus, auth *TokenAuth, behindProxy bool) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		handlers:    NewHandlers(queue, ticks),
		sseHandler:  NewSSEHandler(eventBus, queue),
		auth:        auth,
		behindProxy: behindProxy,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	r := s.router

	r.Use(chimw.RequestID)
	if s.behindProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(chimw.Recoverer)
	r.Use(RequestLogger)

	r.Get("/healthz", s.handlers.Health())

	r.Route("/api", func(r chi.Router) {
		r.Use(s.auth.Middleware)

		r.Get("/events", s.sseHandler.Events())

		r.Route("/queue", func(r chi.Router) {
			r.Get("/stats", s.handlers.Stats())
			r.Get("/jobs", s.handlers.Recent())
			r.Post("/jobs", s.handlers.Enqueue())
			r.Get("/jobs/{id}", s.handlers.Job())
			r.Post("/jobs/{id}/retry", s.handlers.Retry())
			r.Get("/failures", s.handlers.Failures())
			r.Post("/retry-failed", s.handlers.RetryFailed())
			r.Delete("/completed", s.handlers.ClearCompleted())
			r.Post("/cleanup", s.handlers.Cleanup())
			r.Post("/tick", s.handlers.Tick())
		})
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	middleware.SecurityHeaders(s.router).ServeHTTP(w, r)
}
