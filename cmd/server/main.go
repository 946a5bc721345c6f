package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/copyleftdev/annealer/internal/catalog"
	"github.com/copyleftdev/annealer/internal/config"
	apperrors "github.com/copyleftdev/annealer/internal/errors"
	"github.com/copyleftdev/annealer/internal/jobs"
	"github.com/copyleftdev/annealer/internal/logging"
	"github.com/copyleftdev/annealer/internal/metrics"
	"github.com/copyleftdev/annealer/internal/server"
	"github.com/copyleftdev/annealer/internal/store"
	"github.com/copyleftdev/annealer/internal/telemetry"
)

var version = "dev"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize base logger
	logger, err := logging.NewLogger(&logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	serviceLogger := logger.WithFields(map[string]interface{}{
		"service": cfg.Telemetry.ServiceName,
		"version": version,
	})

	if err := run(cfg, serviceLogger); err != nil {
		serviceLogger.Error("Server exited with error", map[string]interface{}{"error": err})
		logger.Sync()
		os.Exit(1)
	}
	serviceLogger.Info("Server exited properly")
}

func run(cfg *config.Config, logger *logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	zl := logger.Zap()

	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Environment,
		Exporter:       cfg.Telemetry.Exporter,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:   true,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("Tracer shutdown failed", map[string]interface{}{"error": err})
		}
	}()

	storeCfg := store.DefaultConfig(cfg.Store.Path)
	if cfg.Store.InMemory {
		storeCfg = store.InMemoryConfig()
	}
	storeCfg.SyncWrites = cfg.Store.SyncWrites
	storeCfg.Logger = zl
	runs, err := store.Open(storeCfg)
	if err != nil {
		return fmt.Errorf("open run store: %w", err)
	}
	defer runs.Close()

	presets, err := catalog.New(cfg.Catalog.Dir, zl.Named("catalog"))
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	if cfg.Catalog.Watch {
		go func() {
			if err := presets.Watch(ctx); err != nil {
				logger.Error("Catalog watcher stopped", map[string]interface{}{"error": err})
			}
		}()
	}

	mt := metrics.New()
	mgr, err := jobs.NewManager(jobs.Config{
		Workers:            cfg.Optimization.WorkerCount,
		RunTimeout:         cfg.Optimization.RunTimeout,
		MaxIterationsLimit: cfg.Optimization.MaxIterationsLimit,
	}, runs, jobs.WithLogger(zl.Named("jobs")), jobs.WithMetrics(mt))
	if err != nil {
		return fmt.Errorf("create job manager: %w", err)
	}
	if _, err := mgr.Recover(ctx); err != nil {
		return fmt.Errorf("recover runs: %w", err)
	}

	// Create router
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware(logger))
	r.Use(apperrors.RecoveryMiddleware(logger))
	r.Use(mt.Middleware)
	r.Use(middleware.Timeout(cfg.HTTP.WriteTimeout))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", mt.Handler())

	srv := server.NewServer(cfg, logger, mgr, presets, server.WithMetrics(mt))
	srv.RegisterRoutes(r)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting server", map[string]interface{}{
			"address": httpServer.Addr,
			"workers": cfg.Optimization.WorkerCount,
		})
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal to gracefully shut down the server
	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", map[string]interface{}{"error": err})
	}
	if err := mgr.Close(shutdownCtx); err != nil {
		logger.Error("Runs did not stop in time", map[string]interface{}{"error": err})
	}

	logger.Info("Server stopped")
	return nil
}
