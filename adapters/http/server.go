// Package http provides the HTTP server around the OCCI channel: the router,
// its middleware and the operational endpoints.
package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/artpar/occigate/adapters/metrics"
)

// DefaultTimeout bounds every request when RouterConfig.Timeout is zero.
const DefaultTimeout = 60 * time.Second

// VersionResponse represents the version endpoint response.
type VersionResponse struct {
	Version string `json:"version"`
	Service string `json:"service"`
	Backend string `json:"backend,omitempty"`
}

// HealthChecker interface for checking backend health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthHandler provides health check endpoints.
type HealthHandler struct {
	backend HealthChecker
}

// NewHealthHandler creates a new health handler. backend may be nil.
func NewHealthHandler(backend HealthChecker) *HealthHandler {
	return &HealthHandler{backend: backend}
}

// Liveness returns a simple liveness check.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readiness checks if the backend is ready to handle traffic.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if h.backend != nil {
		if err := h.backend.HealthCheck(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// RouterConfig holds optional configuration for the router.
type RouterConfig struct {
	Metrics     *metrics.Collector
	Gatherer    prometheus.Gatherer // Registry the collector was created with; defaults to the global one
	MetricsPath string              // Defaults to /metrics; nil Metrics disables the endpoint
	Auth        *BasicAuth          // Optional basic auth in front of the OCCI channel
	Health      HealthChecker       // Optional backend readiness check
	Events      *EventStream        // Optional lifecycle event stream, served behind Auth
	Version     VersionResponse
	Timeout     time.Duration
}

// EventsPath is where the event stream is served.
const EventsPath = "/events"

// NewRouter creates the main HTTP router with the OCCI channel mounted at
// the root.
func NewRouter(channel http.Handler, logger zerolog.Logger, cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	metricsPath := cfg.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(NewLoggingMiddleware(logger, metricsPath))
	r.Use(middleware.Recoverer)

	if cfg.Metrics != nil {
		r.Use(NewMetricsMiddleware(cfg.Metrics, metricsPath))
	}

	// Health endpoints (no auth required)
	health := NewHealthHandler(cfg.Health)
	r.Get("/health", health.Liveness)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	if cfg.Metrics != nil {
		if cfg.Gatherer != nil {
			r.Handle(metricsPath, promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
		} else {
			r.Handle(metricsPath, promhttp.Handler())
		}
	}

	version := cfg.Version
	if version.Service == "" {
		version.Service = "occigate"
	}
	r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, version)
	})

	r.Group(func(r chi.Router) {
		if cfg.Auth != nil {
			r.Use(cfg.Auth.Middleware)
		}
		if cfg.Events != nil {
			r.Get(EventsPath, cfg.Events.ServeHTTP)
		}
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(timeout))
			r.Mount("/", channel)
		})
	})

	return r
}

// NewLoggingMiddleware creates a new logging middleware.
func NewLoggingMiddleware(logger zerolog.Logger, metricsPath string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			// Skip logging for health checks and metrics
			if internal(r.URL.Path, metricsPath) {
				return
			}

			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("http request")
		})
	}
}

// NewMetricsMiddleware records request counts and durations.
func NewMetricsMiddleware(m *metrics.Collector, metricsPath string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Skip metrics for internal endpoints
			if internal(r.URL.Path, metricsPath) {
				next.ServeHTTP(w, r)
				return
			}

			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := statusLabel(ww.Status())
			path := metrics.NormalizePath(r.URL.Path)

			m.RequestsTotal.WithLabelValues(r.Method, path, status).Inc()
			m.RequestDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
		})
	}
}

func internal(path, metricsPath string) bool {
	return strings.HasPrefix(path, "/health") || path == metricsPath || path == "/version" || path == EventsPath
}

// statusLabel returns a string label for the status code.
func statusLabel(status int) string {
	switch {
	case status == 0:
		return "200"
	case status < 100 || status > 599:
		return "other"
	default:
		return strconv.Itoa(status)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
