package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/skypro1111/voicesafe/internal/config"
	"github.com/skypro1111/voicesafe/internal/metrics"
	"github.com/skypro1111/voicesafe/internal/moderation"
	"github.com/skypro1111/voicesafe/internal/presence"
	"github.com/skypro1111/voicesafe/internal/recording"
)

const serviceName = "voicesafe"

// StatusSource is the SDK state the status server reports on.
type StatusSource interface {
	Snapshot() recording.Snapshot
	PresenceStats() presence.Stats
	ClientStats() moderation.ClientStats
	RefreshConfig()
}

// HTTPServer exposes local status endpoints for an embedded SDK instance
type HTTPServer struct {
	server   *http.Server
	handler  http.Handler
	logger   *slog.Logger
	config   *config.Config
	source   StatusSource
	metrics  *metrics.Metrics
	version  string
	listener net.Listener

	startTime time.Time
}

// NewHTTPServer creates a new status server
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger,
	appConfig *config.Config, source StatusSource, m *metrics.Metrics, version string) *HTTPServer {

	h := &HTTPServer{
		logger:    logger.With(slog.String("component", "http")),
		config:    appConfig,
		source:    source,
		metrics:   m,
		version:   version,
		startTime: time.Now(),
	}

	h.handler = h.routes()
	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      h.handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// Handler returns the router, for embedding or tests.
func (h *HTTPServer) Handler() http.Handler {
	return h.handler
}

func (h *HTTPServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.Group(func(r chi.Router) {
		r.Use(h.withMetrics)

		r.Get("/", h.handleRoot)
		r.Get("/health", h.handleHealth)
		r.Get("/status", h.handleStatus)
		r.Get("/config", h.handleConfig)
		r.Post("/config/refresh", h.handleRefresh)
		r.Get("/stats/upload", h.handleUploadStats)
		r.Get("/stats/presence", h.handlePresenceStats)
	})

	if h.metrics != nil {
		r.Handle("/metrics", h.metrics.Handler())
	}

	return r
}

// withMetrics records request count, latency and errors per route pattern
func (h *HTTPServer) withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		endpoint := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			endpoint = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		h.metrics.RecordHTTPRequest(r.Method, endpoint, fmt.Sprintf("%d", status), time.Since(startTime).Seconds())

		if status >= 400 {
			errorType := "client_error"
			if status >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	})
}

// Start listens on the configured address and serves in the background
func (h *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.server.Addr, err)
	}
	h.listener = ln

	h.logger.Info("Starting HTTP status server", slog.String("address", ln.Addr().String()))

	go func() {
		if err := h.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Addr returns the bound address once started.
func (h *HTTPServer) Addr() string {
	if h.listener == nil {
		return h.server.Addr
	}
	return h.listener.Addr().String()
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP status server")
	return h.server.Shutdown(ctx)
}

func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := h.source.Snapshot()

	status := "healthy"
	if snap.LastConfigError != "" {
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]any{
			"name":    serviceName,
			"version": h.version,
		},
		"components": map[string]any{
			"recorder": map[string]any{
				"state":           snap.StateName,
				"ticks":           snap.Ticks,
				"windows_flushed": snap.Counters.WindowsFlushed,
			},
			"uploader": map[string]any{
				"in_flight":      snap.UploadsInFlight,
				"uploads_failed": snap.Counters.UploadsFailed,
			},
			"remote_config": map[string]any{
				"fetches":    snap.Counters.ConfigFetches,
				"failures":   snap.Counters.ConfigFailures,
				"last_error": snap.LastConfigError,
			},
		},
	})
}

func (h *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.source.Snapshot())
}

func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if h.config == nil {
		http.Error(w, "Configuration unavailable", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, h.config.Sanitized())
}

func (h *HTTPServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	h.source.RefreshConfig()
	h.logger.Info("Remote config refresh requested")
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "scheduled"})
}

func (h *HTTPServer) handleUploadStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.source.ClientStats())
}

func (h *HTTPServer) handlePresenceStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.source.PresenceStats())
}

func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": serviceName,
		"version": h.version,
		"endpoints": map[string]string{
			"GET /":                "API documentation",
			"GET /health":          "Health check",
			"GET /status":          "Recorder state and counters",
			"GET /config":          "Configuration without secrets",
			"POST /config/refresh": "Refetch remote config on the next tick",
			"GET /stats/upload":    "Moderation client statistics",
			"GET /stats/presence":  "Player session statistics",
			"GET /metrics":         "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
