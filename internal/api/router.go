package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-iot/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.With(s.requirePermission(auth.PermDeviceRead)).Get("/ws", s.handleWebSocket)

			r.Route("/devices", func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermDeviceRead))
				r.Get("/", s.handleListDevices)

				r.Route("/{uuid}", func(r chi.Router) {
					r.Get("/", s.handleGetDevice)
					r.Get("/states", s.handleGetDeviceStates)
					r.Get("/states/latest", s.handleGetLastState)
					r.Get("/commands", s.handleListDeviceCommands)
					r.With(s.requirePermission(auth.PermCommandDispatch)).
						Post("/topics/{key}/commands", s.handleDispatchCommand)
				})
			})

			r.Route("/commands", func(r chi.Router) {
				r.With(s.requirePermission(auth.PermDeviceRead)).Get("/{id}", s.handleGetCommand)
				r.With(s.requirePermission(auth.PermCommandExpire)).Post("/expire", s.handleExpireCommands)
			})

			if s.rules != nil {
				r.Route("/automations", func(r chi.Router) {
					r.With(s.requirePermission(auth.PermAutomationRead)).Get("/", s.handleListRules)
					r.With(s.requirePermission(auth.PermAutomationWrite)).Post("/", s.handleCreateRule)

					r.Route("/{id}", func(r chi.Router) {
						r.With(s.requirePermission(auth.PermAutomationRead)).Get("/", s.handleGetRule)
						r.With(s.requirePermission(auth.PermAutomationWrite)).Put("/", s.handleUpdateRule)
						r.With(s.requirePermission(auth.PermAutomationWrite)).Delete("/", s.handleDeleteRule)
						r.With(s.requirePermission(auth.PermAutomationExecute)).Post("/execute", s.handleExecuteRule)
						if s.executions != nil {
							r.With(s.requirePermission(auth.PermAutomationRead)).Get("/executions", s.handleListExecutions)
						}
					})
				})
			}

			r.With(s.requirePermission(auth.PermAuditRead)).Get("/audit", s.handleListAudit)
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"version":    s.version,
		"ws_clients": s.hub.ClientCount(),
	})
}
