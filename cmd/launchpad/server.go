package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	coredeployment "github.com/artpar/launchpad/internal/core/deployment"
	"github.com/artpar/launchpad/internal/core/domain"
	"github.com/artpar/launchpad/internal/shell/api"
	"github.com/artpar/launchpad/internal/shell/docker"
	"github.com/artpar/launchpad/internal/shell/logsink"
	"github.com/artpar/launchpad/internal/shell/metrics"
	"github.com/artpar/launchpad/internal/shell/orchestrator"
	"github.com/artpar/launchpad/internal/shell/tracker"
	"github.com/artpar/launchpad/internal/shell/workers"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess         = 0
	ExitConfigError     = 1
	ExitDockerError     = 3
	ExitHTTPServerError = 4
)

// startupTimeout bounds the runtime ping and label recovery at startup.
const startupTimeout = 15 * time.Second

// =============================================================================
// Server
// =============================================================================

// Server represents the Launchpad application server.
type Server struct {
	config       *Config
	httpServer   *http.Server
	docker       docker.Client
	orchestrator *orchestrator.Orchestrator
	buildLogs    *logsink.Async
	reconciler   *workers.Reconciler
	logger       *slog.Logger
}

// NewServer creates a new server with the given config.
func NewServer(cfg *Config, logger *slog.Logger) (*Server, error) {
	// Connect to Docker
	d, err := docker.NewDockerClient(cfg.Docker.Host)
	if err != nil {
		return nil, &ServerError{
			Op:       "NewServer",
			Err:      err,
			ExitCode: ExitDockerError,
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	// Verify Docker connection
	if err := d.Ping(ctx); err != nil {
		d.Close()
		return nil, &ServerError{
			Op:       "NewServer",
			Err:      err,
			ExitCode: ExitDockerError,
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rec := metrics.New(registry)

	// Build output goes to live subscribers and the process log. The async
	// stage keeps a slow consumer from stalling a build.
	events := logsink.NewHub(cfg.LogSink.HistorySize, cfg.LogSink.MaxDeployments)
	buildLogs := logsink.NewAsync(
		logsink.Multi{events, logsink.NewSlogSink(logger)},
		cfg.LogSink.BufferSize,
		rec.SinkDropped,
	)

	orch := orchestrator.New(d, buildLogs, cfg.Orchestrator.OrchestratorSettings(), rec, logger)

	records := tracker.New(logger)
	orch.OnStatus(func(u orchestrator.StatusUpdate) {
		if u.Status == domain.StatusPending {
			events.Reset(u.DeploymentID)
		}
		records.Observe(u)
	})

	publicHost := cfg.Orchestrator.PublicHost
	urlFor := func(port int) string {
		return coredeployment.ServiceURL(publicHost, port)
	}

	// Rebuild port and deployment state from the labels of running containers.
	listedAt := time.Now()
	if summaries, err := orch.Recover(ctx); err != nil {
		logger.Warn("startup recovery failed", "error", err)
	} else {
		records.Sync(summaries, listedAt, urlFor)
		logger.Info("recovered managed containers",
			"count", len(summaries),
			"next_port", orch.Ports().Peek(),
		)
	}

	var reconciler *workers.Reconciler
	if cfg.Reconciler.Enabled {
		reconciler = workers.NewReconciler(orch, records, urlFor, rec, workers.ReconcilerConfig{
			Interval: cfg.Reconciler.Interval,
			Timeout:  cfg.Reconciler.Timeout,
		}, logger)
	}

	handler := api.NewHandler(api.Deps{
		Orchestrator: orch,
		Runtime:      d,
		Tracker:      records,
		Events:       events,
		Metrics:      rec,
		Gatherer:     registry,
		URLFor:       urlFor,
		Logger:       logger,
	})

	// Create HTTP server
	httpServer := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	// Shutdown waits for active handlers; event followers would otherwise
	// hold it until the deadline.
	httpServer.RegisterOnShutdown(handler.CloseStreams)

	return &Server{
		config:       cfg,
		httpServer:   httpServer,
		docker:       d,
		orchestrator: orch,
		buildLogs:    buildLogs,
		reconciler:   reconciler,
		logger:       logger,
	}, nil
}

// Start starts the server and blocks until shutdown.
func (s *Server) Start(ctx context.Context) error {
	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	if s.reconciler != nil {
		s.reconciler.Start()
	}

	// Start HTTP server in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server",
			"address", s.config.Server.Address())
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or error
	select {
	case sig := <-sigCh:
		s.logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		s.Shutdown(context.Background())
		return &ServerError{
			Op:       "Start",
			Err:      err,
			ExitCode: ExitHTTPServerError,
		}
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown(context.Background())
}

// Shutdown stops accepting requests, lets in-flight deploys finish, flushes
// pending build output and releases the Docker client.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("initiating graceful shutdown")

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.Server.ShutdownTimeout)
	defer cancel()

	// Shutdown HTTP server
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	if s.reconciler != nil {
		s.reconciler.Stop()
	}

	// Deploys run detached from request contexts; give them the rest of the
	// shutdown window.
	if err := s.orchestrator.Wait(shutdownCtx); err != nil {
		s.logger.Warn("deploys still running at shutdown", "error", err)
	}

	if err := s.buildLogs.Close(shutdownCtx); err != nil {
		s.logger.Warn("build log buffer not drained", "error", err, "dropped", s.buildLogs.Dropped())
	}

	// Close Docker client
	if err := s.docker.Close(); err != nil {
		s.logger.Error("Docker client close error", "error", err)
	}

	s.logger.Info("shutdown complete")
	return nil
}

// =============================================================================
// Server Error
// =============================================================================

// ServerError represents an error during server operation.
type ServerError struct {
	Op       string
	Err      error
	ExitCode int
}

func (e *ServerError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *ServerError) Unwrap() error {
	return e.Err
}
