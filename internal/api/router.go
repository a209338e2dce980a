package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rflorenc/state-handoff/internal/config"
	"github.com/rflorenc/state-handoff/internal/events"
	"github.com/rflorenc/state-handoff/internal/handoff"
	"github.com/rflorenc/state-handoff/internal/host"
)

// Server holds shared state for all API handlers.
type Server struct {
	Host     *host.Host
	Feed     *events.Feed
	Codes    handoff.Codes
	Accounts []config.Account
	// Metrics serves /metrics when set.
	Metrics http.Handler
	Logger  *slog.Logger
}

func (s *Server) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// NewRouter builds the chi router with all API routes.
func NewRouter(s *Server) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Get("/codes", s.ListCodes)

		// Instances
		r.Get("/instances", s.ListInstances)
		r.Get("/instances/{addr}", s.GetInstance)
		r.Get("/instances/{addr}/events", s.ListEvents)

		// Queries carry no identity.
		r.Post("/instances/{addr}/query", s.QueryInstance)

		// State changes are made on behalf of an account.
		r.Group(func(r chi.Router) {
			r.Use(s.basicAuth)
			r.Post("/instances", s.CreateInstance)
			r.Post("/instances/{addr}/execute", s.ExecuteInstance)
			r.Post("/instances/{addr}/migrate", s.MigrateInstance)
			r.Post("/instances/{addr}/pull", s.PullInstance)
		})
	})

	// WebSocket (outside /api to avoid JSON content-type assumptions)
	r.Get("/ws/instances/{addr}/events", s.StreamEvents)

	if s.Metrics != nil {
		r.Handle("/metrics", s.Metrics)
	}

	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
