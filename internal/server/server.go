package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/BioHazard786/Lockstep/internal/config"
	"github.com/BioHazard786/Lockstep/internal/hub"
)

const shutdownTimeout = 5 * time.Second

// NewMux registers the rendezvous endpoints. WebSocket upgrades are served
// on "/" and on the configured path; /health and /metrics are plain HTTP.
func NewMux(h *hub.Hub, metrics *hub.PrometheusCollector, path string, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	ws := ServeWs(h, logger)

	mux.HandleFunc("/health", healthCheckHandler)
	if metrics != nil {
		mux.Handle("/metrics", metrics.Handler())
	}
	if path != "" && path != "/" {
		mux.HandleFunc(path, ws)
	}
	mux.HandleFunc("/", ws)
	return mux
}

// Run starts the rendezvous server and blocks until ctx is cancelled or the
// listener fails.
func Run(ctx context.Context, cfg *config.Config) error {
	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.ListenAddr, err)
	}
	return Serve(ctx, listener, cfg)
}

// Serve runs the rendezvous server on an existing listener.
func Serve(ctx context.Context, listener net.Listener, cfg *config.Config) error {
	logger := slog.Default().With("component", "rendezvous")
	metrics := hub.NewPrometheusCollector()

	h := hub.New(
		hub.WithMetrics(metrics),
		hub.WithLogger(logger),
		hub.WithRateLimit(cfg.RateLimit, cfg.RateBurst),
	)

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go h.Run(hubCtx)

	srv := &http.Server{
		Handler:           NewMux(h, metrics, cfg.Path, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting rendezvous server", "addr", listener.Addr().String(), "path", cfg.Path)
		serveErr <- srv.Serve(listener)
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("rendezvous server: %w", err)

	case <-ctx.Done():
		logger.Info("shutting down rendezvous server")
		stopHub()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}
