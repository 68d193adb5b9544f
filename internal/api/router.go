package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	apiMiddleware "github.com/phrazzld/sift/internal/api/middleware"
	"github.com/phrazzld/sift/internal/task"
)

// NewRouter creates the status API router.
func NewRouter(store task.Reader, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.NewTraceMiddleware(logger))

	h := NewTaskHandler(store, logger)

	r.Get("/health", h.Health)
	r.Get("/stats", h.Stats)
	r.Route("/tasks", func(r chi.Router) {
		r.Get("/", h.ListTasks)
		r.Get("/*", h.GetTask)
	})

	return r
}
