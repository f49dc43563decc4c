package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthCheckTimeout bounds the dependency checks of GET /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.Get("/routes", s.handleListRoutes)
		r.Get("/routes/{id}", s.handleGetRoute)
		r.Get("/subscriptions", s.handleSubscriptions)
		r.Post("/match", s.handleMatch)
		r.Get("/journal", s.handleJournal)
		r.Post("/auth/login", s.handleLogin)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/publish", s.handlePublish)
			r.Post("/auth/ws-ticket", s.handleWSTicket)
		})

		// WebSocket (auth via ticket, validated in handler)
		r.Get("/events", s.handleWebSocket)
	})

	return r
}

// handleHealth reports the server and its dependencies.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	status := http.StatusOK
	checks := map[string]string{}

	if s.clients != nil && !s.clients.Disabled() {
		checks["mqtt"] = "ok"
		if err := s.clients.HealthCheck(ctx); err != nil {
			checks["mqtt"] = err.Error()
			status = http.StatusServiceUnavailable
		}
	}
	if s.db != nil {
		checks["database"] = "ok"
		if err := s.db.HealthCheck(ctx); err != nil {
			checks["database"] = err.Error()
			status = http.StatusServiceUnavailable
		}
	}
	if s.influx != nil {
		checks["influxdb"] = "ok"
		if err := s.influx.HealthCheck(ctx); err != nil {
			checks["influxdb"] = err.Error()
			status = http.StatusServiceUnavailable
		}
	}

	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}

	writeJSON(w, status, map[string]any{
		"status":  state,
		"version": s.version,
		"checks":  checks,
	})
}
