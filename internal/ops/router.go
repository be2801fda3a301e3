// Package ops exposes the daemon's operational HTTP surface: health,
// metrics and read-only views of reconciled state.
package ops

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/abhi-singhs/slackhub-messenger-sub000/internal/session"
	"github.com/abhi-singhs/slackhub-messenger-sub000/internal/store"
)

// NewRouter creates and configures the ops HTTP router.
func NewRouter(logger zerolog.Logger, st store.RemoteStore, sess *session.Session) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(Metrics)

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(Logger(logger))
	r.Use(chimw.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := NewHandler(st, sess)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/health", h.Health)
	r.Get("/state/channels", h.Channels)
	r.Get("/state/messages/{channelID}", h.Messages)
	r.Get("/state/presence", h.Presence)

	return r
}
