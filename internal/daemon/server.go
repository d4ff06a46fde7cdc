package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/masbolt/masbolt/internal/config"
	agentrpc "github.com/masbolt/masbolt/internal/rpc/agent"
)

// Server hosts the pipeline, file store, run history, health and metrics endpoints.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger
	app    *App
}

// NewServer constructs a daemon instance.
func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	app, err := NewApp(cfg, logger)
	if err != nil {
		return nil, err
	}
	return newServer(app), nil
}

func newServer(app *App) *Server {
	return &Server{cfg: app.Config, logger: app.Logger, app: app}
}

// Handler builds the HTTP routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/metrics", s.metricsHandler)

	mux.HandleFunc("/api/multiagent", s.multiAgentHandler)
	mux.Handle("/agent/run", agentrpc.NewHandler(s.app.Runner, s.app.Metrics))
	if s.connectEnabled() {
		path, handler := agentrpc.NewConnectHandler(s.app.Runner, s.app.Metrics)
		mux.Handle(path, handler)
	}

	mux.HandleFunc("GET /api/files", s.filesHandler)
	mux.HandleFunc("GET /api/files/get", s.fileHandler)
	mux.HandleFunc("GET /api/files/modifications", s.modificationsHandler)
	mux.HandleFunc("POST /api/files/modifications/reset", s.resetModificationsHandler)
	mux.HandleFunc("GET /api/files/watch", s.watchHandler)

	mux.HandleFunc("GET /api/runs", s.runsHandler)
	mux.HandleFunc("GET /api/runs/{id}", s.runHandler)

	handler := http.Handler(mux)
	if s.connectEnabled() {
		handler = h2c.NewHandler(handler, &http2.Server{})
	}
	return handler
}

// Run starts the file store and the HTTP server and blocks until ctx is cancelled or either fails.
func (s *Server) Run(ctx context.Context) error {
	defer func() {
		if err := s.app.Close(); err != nil {
			s.logger.Warn("failed to close run history", zap.Error(err))
		}
	}()

	if err := s.app.Start(ctx); err != nil {
		return err
	}

	server := &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.app.Files.Run(gctx)
	})
	g.Go(func() error {
		s.logger.Info("starting masbolt daemon", zap.String("addr", s.cfg.Server.Addr), zap.String("sandbox", s.cfg.Sandbox.Root))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutting down masbolt daemon")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func (s *Server) connectEnabled() bool {
	return strings.ToLower(strings.TrimSpace(s.cfg.Server.Transport)) != "ndjson"
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"files":  s.app.Files.FilesCount(),
		"busy":   s.app.Runner.Busy(),
	})
}

func (s *Server) metricsHandler(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Server.MetricsEnabled {
		http.NotFound(w, r)
		return
	}

	promhttp.HandlerFor(s.app.Metrics.Registry(), promhttp.HandlerOpts{}).ServeHTTP(w, r)
}
