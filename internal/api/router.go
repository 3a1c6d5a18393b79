package api

import (
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
)

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

		r.Route("/lights", func(r chi.Router) {
			r.Get("/", s.handleListLights)
			r.Get("/{address}", s.handleGetLight)
		})
		r.Get("/groups", s.handleListGroups)
		r.Post("/refresh", s.handleRefresh)
		r.Post("/luminaries/{name}/command", s.handleCommand)
		r.Get("/commands", s.handleListCommands)

		r.Route("/snapshots", func(r chi.Router) {
			r.Get("/lights", s.handleListLightSnapshots)
			r.Get("/groups", s.handleListGroupSnapshots)
		})

		r.Get("/ws", s.handleWebSocket)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "route not found")
	})

	return r
}

// handleHealth returns the server health status.
// The status is "degraded" while the gateway session is down.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	gw := s.bridge.Gateway()
	status := "ok"
	if !gw.IsConnected() {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": s.version,
		"gateway": map[string]any{
			"connected": gw.IsConnected(),
			"address":   remoteAddr(gw),
		},
	})
}

func remoteAddr(gw interface{ RemoteAddr() net.Addr }) string {
	if addr := gw.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
