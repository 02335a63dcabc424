package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	// Unknown routes get a structured JSON 404 rather than chi's plain text.
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "resource not found")
	})

	// Liveness probe for process monitors.
	r.Get("/healthz", s.handleHealthz)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)
	})

	return r
}

// handleHealthz is the bare liveness probe: the process is up.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// handleHealth reports the server version and dependency health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	deps := map[string]string{}

	if s.mqtt != nil {
		deps["mqtt"] = healthString(s.mqtt, r)
	}
	if s.history != nil {
		deps["influxdb"] = healthString(s.history, r)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"version":      s.version,
		"dependencies": deps,
	})
}

func healthString(hc HealthChecker, r *http.Request) string {
	if err := hc.HealthCheck(r.Context()); err != nil {
		return err.Error()
	}
	return "ok"
}

// handleStatus reports the supervised worker's current state.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.supervisor.Stats())
}
