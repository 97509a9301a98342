package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Router builds ALTEC's HTTP surface: submit/poll/cancel/delete (spec.md §6),
// wrapped in chi's request-id/real-ip/recoverer/timeout middleware plus CORS.
func Router(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Route("/tasks", func(r chi.Router) {
		r.Post("/", h.Submit)
		r.Get("/{kind}/{resource_id}", h.Poll)
		r.Post("/{kind}/{resource_id}/cancel", h.Cancel)
		r.Delete("/{kind}/{resource_id}", h.Delete)
	})

	return r
}
