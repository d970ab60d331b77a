package api

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/hnode2-datasink/internal/hnode"
)

// healthCheckTimeout bounds the dependency checks run by /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	if s.secCfg.RateLimit.Enabled {
		r.Use(s.rateLimitMiddleware(newClientLimiter(s.secCfg.RateLimit.RequestsPerMinute)))
	}
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "no such endpoint")
	})
	mounted := s.device.Endpoints()
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		if allow := allowedMethods(mounted, r.URL.Path); len(allow) > 0 {
			w.Header().Set("Allow", strings.Join(allow, ", "))
		}
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
	})

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", s.metrics.Handler())

	// Framework endpoints shared by every device type
	r.Route("/hnode2/device", func(r chi.Router) {
		r.Get("/info", s.handleDeviceInfo)
		r.Get("/config", s.handleGetConfig)
		r.Put("/config", s.handlePutConfig)
		r.Get("/config/history", s.handleConfigHistory)
		r.Get("/endpoints", s.handleListEndpoints)
		r.Get("/endpoints/{dispatchID}/openapi", s.handleEndpointDocument)
	})

	// Device endpoint sets, one route per (path, method) of each table
	for _, ep := range mounted {
		for _, route := range ep.Table.Routes() {
			r.Method(route.Method, route.Path, s.operationHandler(ep, route.OperationID))
		}
		s.logger.Debug("endpoint set mounted",
			"dispatch_id", ep.DispatchID,
			"routes", len(ep.Table.Routes()),
		)
	}

	return r
}

// allowedMethods collects the methods the mounted endpoint sets define
// for path, sorted and without duplicates.
func allowedMethods(endpoints []hnode.Endpoint, path string) []string {
	var methods []string
	for _, ep := range endpoints {
		methods = append(methods, ep.Table.Methods(path)...)
	}
	slices.Sort(methods)
	return slices.Compact(methods)
}

// handleHealth reports the server and its dependencies.
// Any failing dependency turns the response into 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(s.healthChecks))
	for name, hc := range s.healthChecks {
		if err := hc.HealthCheck(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	writeJSON(w, status, map[string]any{
		"status":      overall,
		"version":     s.version,
		"configState": s.lifecycle.State().String(),
		"checks":      checks,
	})
}
