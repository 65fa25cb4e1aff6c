package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/james-andrews-coulter/essay-search-engine/internal/session"
	"github.com/james-andrews-coulter/essay-search-engine/internal/telemetry"
)

// NewRouter builds the API routes over a session.
func NewRouter(sess *session.Session, recorder *telemetry.Recorder, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := newHandlers(sess, recorder, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/search", h.search)
		r.Get("/tags", h.tags)
		r.Get("/chunks/{id}", h.chunk)
		r.Get("/chunks/{id}/related", h.related)
		r.Get("/status", h.status)
		r.Get("/stats", h.stats)
		r.Post("/update/check", h.updateCheck)
		r.Post("/update/apply", h.updateApply)
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	return r
}
