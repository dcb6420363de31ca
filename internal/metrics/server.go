package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/dagu-org/sysgenid/internal/common/config"
	"github.com/dagu-org/sysgenid/internal/common/logger"
	"github.com/dagu-org/sysgenid/internal/common/logger/tag"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server serves /metrics and /health.
type Server struct {
	cfg        config.Metrics
	version    string
	source     SnapshotSource
	registry   *prometheus.Registry
	startTime  time.Time
	httpServer *http.Server
	listener   net.Listener
}

func NewServer(cfg config.Metrics, version string, source SnapshotSource, registry *prometheus.Registry) *Server {
	return &Server{
		cfg:       cfg,
		version:   version,
		source:    source,
		registry:  registry,
		startTime: time.Now(),
	}
}

// Handler returns the router.
func (srv *Server) Handler() http.Handler {
	r := chi.NewMux()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/metrics", promhttp.HandlerFor(srv.registry, promhttp.HandlerOpts{}).ServeHTTP)
	r.Get("/health", srv.handleHealth)
	return r
}

// Start binds the listen address and serves in the background. Bind errors
// are returned directly.
func (srv *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", srv.cfg.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", srv.cfg.Addr(), err)
	}
	srv.listener = listener
	srv.httpServer = &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	logger.Info(ctx, "Metrics server is starting", tag.Addr(srv.Addr()))
	go func() {
		if err := srv.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "Metrics server stopped unexpectedly", tag.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (srv *Server) Addr() string {
	if srv.listener != nil {
		return srv.listener.Addr().String()
	}
	return srv.cfg.Addr()
}

// Shutdown gracefully shuts down the server
func (srv *Server) Shutdown(ctx context.Context) error {
	if srv.httpServer == nil {
		return nil
	}
	logger.Info(ctx, "Metrics server is shutting down", tag.Addr(srv.Addr()))

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	srv.httpServer.SetKeepAlivesEnabled(false)
	return srv.httpServer.Shutdown(shutdownCtx)
}

type healthResponse struct {
	Status     string          `json:"status"`
	Version    string          `json:"version"`
	Uptime     string          `json:"uptime"`
	Generation uint32          `json:"generation"`
	Tracked    int             `json:"tracked"`
	Outdated   int             `json:"outdated"`
	Ready      bool            `json:"ready"`
	Watchers   []watcherStatus `json:"watchers"`
}

type watcherStatus struct {
	ID         string `json:"id"`
	State      string `json:"state"`
	Generation uint32 `json:"generation,omitempty"`
}

func (srv *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := srv.source.Snapshot()

	resp := healthResponse{
		Status:     "ok",
		Version:    srv.version,
		Uptime:     time.Since(srv.startTime).Truncate(time.Second).String(),
		Generation: uint32(snap.Generation),
		Tracked:    snap.Tracked,
		Outdated:   snap.Outdated,
		Ready:      snap.Ready,
		Watchers:   make([]watcherStatus, 0, len(snap.Watchers)),
	}
	for _, rec := range snap.Watchers {
		resp.Watchers = append(resp.Watchers, watcherStatus{
			ID:         string(rec.ID),
			State:      rec.State.String(),
			Generation: uint32(rec.Generation),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error(r.Context(), "Failed to write health response", tag.Error(err))
	}
}
