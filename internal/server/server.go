// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-hsm.
//
// go-hsm is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package server wires the HSM core to its transports. It owns the core
// dispatch goroutine, the audit backend, authentication, health checks,
// metrics and the REST and QUIC listeners.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jeremyhahn/go-hsm/internal/config"
	"github.com/jeremyhahn/go-hsm/internal/quic"
	"github.com/jeremyhahn/go-hsm/internal/rest"
	"github.com/jeremyhahn/go-hsm/pkg/adapters/audit"
	"github.com/jeremyhahn/go-hsm/pkg/adapters/logger"
	"github.com/jeremyhahn/go-hsm/pkg/client"
	"github.com/jeremyhahn/go-hsm/pkg/health"
	"github.com/jeremyhahn/go-hsm/pkg/hsm"
	"github.com/jeremyhahn/go-hsm/pkg/metrics"
	"github.com/jeremyhahn/go-hsm/pkg/ratelimit"
)

// Server runs the HSM core and all enabled protocol servers.
type Server struct {
	config *config.Config
	mu     sync.RWMutex
	logger *slog.Logger

	core     *hsm.Core
	auditLog audit.Adapter

	// Protocol servers
	restServer *rest.Server
	quicServer *quic.Server

	// Health checker
	healthChecker *health.Checker

	// Rate limiter
	rateLimiter *ratelimit.Limiter

	// Metrics
	metricsCollector *metrics.ResourceCollector

	// Lifecycle
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	coreDone   chan struct{}
	shutdownCh chan struct{}
}

// New creates a new server instance.
func New(cfg *config.Config) (*Server, error) {
	logger := setupLogger(cfg.Logging)

	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		config:     cfg,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		coreDone:   make(chan struct{}),
		shutdownCh: make(chan struct{}),
	}

	if err := s.initializeAudit(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize audit backend: %w", err)
	}

	if err := s.initializeCore(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize core: %w", err)
	}

	s.initializeHealth()

	return s, nil
}

// setupLogger configures the logger based on config
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	case "text", "console":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// getBuildVersion retrieves the version from build information
func getBuildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}

	for _, setting := range info.Settings {
		if setting.Key == "vcs.version" {
			if setting.Value != "" && setting.Value != "devel" {
				return setting.Value
			}
		}
		if setting.Key == "vcs.revision" {
			if len(setting.Value) >= 7 {
				return setting.Value[:7]
			}
			return setting.Value
		}
	}

	if info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}

	return "dev"
}

// initializeAudit selects the audit backend from configuration.
func (s *Server) initializeAudit() error {
	switch s.config.Audit.Backend {
	case "", "memory":
		s.auditLog = audit.NewMemoryAdapter()
		s.logger.Info("Audit backend initialized", "backend", "memory")
	case "file":
		adapter, err := audit.NewFileAdapter(s.config.Audit.Path)
		if err != nil {
			return err
		}
		s.auditLog = adapter
		s.logger.Info("Audit backend initialized", "backend", "file", "path", s.config.Audit.Path)
	case "none":
		s.auditLog = audit.NewNoopAdapter()
		s.logger.Info("Audit backend initialized", "backend", "none")
	default:
		return fmt.Errorf("unknown audit backend %q", s.config.Audit.Backend)
	}
	return nil
}

// initializeCore builds the HSM core and starts its dispatch loop.
func (s *Server) initializeCore() error {
	core, err := hsm.New(&hsm.Config{
		Config: s.config.Core,
		Audit:  s.auditLog,
		Logger: logger.NewSlogAdapter(&logger.SlogConfig{
			Logger: s.logger.With("component", "core"),
		}),
	})
	if err != nil {
		return err
	}
	s.core = core

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(s.coreDone)
		if err := core.Run(s.ctx); err != nil {
			s.logger.Error("Core dispatch loop exited", slog.Any("error", err))
		}
	}()

	s.logger.Info("Core initialized",
		"max_clients", s.config.Core.MaxClients,
		"key_store_capacity", s.config.Core.KeyStoreCapacity,
		"channel_depth", s.config.Core.ChannelDepth)

	return nil
}

// initializeHealth creates and configures the health checker.
func (s *Server) initializeHealth() {
	s.healthChecker = health.NewChecker()

	s.healthChecker.RegisterCheck("core", func(ctx context.Context) health.CheckResult {
		start := time.Now()
		if !s.core.Healthy() {
			return health.CheckResult{
				Name:    "core",
				Status:  health.StatusUnhealthy,
				Message: "Core is halted",
				Latency: time.Since(start),
			}
		}
		return health.CheckResult{
			Name:    "core",
			Status:  health.StatusHealthy,
			Message: "Core is dispatching",
			Latency: time.Since(start),
		}
	})

	s.logger.Info("Health checker initialized", "checks", len(s.healthChecker.GetAllChecks()))
}

// Start starts all enabled protocol servers
func (s *Server) Start() error {
	s.logger.Info("Starting HSM server...")

	if s.config.Metrics.Enabled {
		if err := s.initializeMetrics(); err != nil {
			s.logger.Error("Failed to initialize metrics", slog.Any("error", err))
			return fmt.Errorf("failed to initialize metrics: %w", err)
		}
	}

	if s.config.RateLimit.Enabled {
		s.rateLimiter = ratelimit.New(&ratelimit.Config{
			Enabled:           true,
			RequestsPerMinute: s.config.RateLimit.RequestsPerMin,
		})
		s.logger.Info("Rate limiter enabled",
			"requests_per_min", s.config.RateLimit.RequestsPerMin)
	}

	// REST is built even when only QUIC is enabled: the QUIC listener
	// serves the REST router.
	if err := s.buildREST(); err != nil {
		return err
	}

	if s.config.Protocols.REST {
		s.wg.Add(1)
		go s.startREST()
	}

	if s.config.Protocols.QUIC {
		s.wg.Add(1)
		go s.startQUIC()
	}

	if s.config.Metrics.Enabled {
		s.wg.Add(1)
		go s.startMetrics()
	}

	// Mark service as fully started for startup probes
	if s.healthChecker != nil {
		s.healthChecker.MarkStarted()
	}

	s.logger.Info("All servers started successfully")

	return nil
}

// buildREST constructs the REST server and its core client endpoint.
func (s *Server) buildREST() error {
	authenticator, err := s.config.Auth.CreateAuthenticator()
	if err != nil {
		return fmt.Errorf("failed to create authenticator: %w", err)
	}

	restConfig := &rest.Config{
		Port:          s.config.Server.RESTPort,
		Core:          s.core,
		Version:       getBuildVersion(),
		Authenticator: authenticator,
		RateLimiter:   s.rateLimiter,
		Logger: logger.NewSlogAdapter(&logger.SlogConfig{
			Logger: s.logger.With("component", "rest"),
		}),
	}

	if s.config.TLS.Enabled {
		tlsConfig, err := s.config.TLS.LoadTLSConfig()
		if err != nil {
			return fmt.Errorf("failed to load TLS configuration: %w", err)
		}
		restConfig.TLSConfig = tlsConfig
	}

	// The HTTP layer is client 0 of the core channel interface.
	ep, err := s.core.Endpoint(0)
	if err != nil {
		return fmt.Errorf("failed to acquire core endpoint: %w", err)
	}
	restConfig.Client = client.New(ep)

	s.restServer, err = rest.NewServer(restConfig)
	if err != nil {
		return fmt.Errorf("failed to create REST server: %w", err)
	}

	if s.healthChecker != nil {
		s.restServer.SetHealthChecker(s.healthChecker)
	}

	return nil
}

// startREST starts the REST API server
func (s *Server) startREST() {
	defer s.wg.Done()

	s.logger.Info("Starting REST server", "port", s.config.Server.RESTPort)

	if err := s.restServer.Start(); err != nil {
		s.logger.Error("REST server error", slog.Any("error", err))
	}
}

// startQUIC starts the QUIC/HTTP3 server
func (s *Server) startQUIC() {
	defer s.wg.Done()

	tlsConfig, err := s.config.TLS.LoadTLSConfig()
	if err != nil {
		s.logger.Error("Failed to load TLS configuration for QUIC", slog.Any("error", err))
		return
	}

	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.QUICPort)

	quicConfig := &quic.Config{
		Addr:      addr,
		TLSConfig: tlsConfig,
		Handler:   s.restServer.Handler(),
		Logger: logger.NewSlogAdapter(&logger.SlogConfig{
			Logger: s.logger.With("component", "quic"),
		}),
	}

	s.quicServer, err = quic.NewServer(quicConfig)
	if err != nil {
		s.logger.Error("Failed to create QUIC server", slog.Any("error", err))
		return
	}

	s.logger.Info("Starting QUIC server", "address", addr)

	if err := s.quicServer.Start(); err != nil {
		s.logger.Error("QUIC server error", slog.Any("error", err))
	}
}

// initializeMetrics initializes the metrics subsystem
func (s *Server) initializeMetrics() error {
	metrics.Enable()

	s.metricsCollector = metrics.StartResourceCollector(s.ctx, 30*time.Second)

	s.logger.Info("Metrics initialized")
	return nil
}

// startMetrics starts the Prometheus metrics server
func (s *Server) startMetrics() {
	defer s.wg.Done()

	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Metrics.Port)

	mux := http.NewServeMux()
	mux.Handle(s.config.Metrics.Path, promhttp.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second, // Prevent Slowloris attacks
	}

	s.logger.Info("Starting metrics server", "address", addr, "path", s.config.Metrics.Path)

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.logger.Error("Metrics server error", slog.Any("error", err))
	}
}

// Core returns the running HSM core.
func (s *Server) Core() *hsm.Core {
	return s.core
}

// RESTServer returns the REST server instance
func (s *Server) RESTServer() *rest.Server {
	return s.restServer
}

// QUICServer returns the QUIC server instance
func (s *Server) QUICServer() *quic.Server {
	return s.quicServer
}

// HealthChecker returns the health checker instance
func (s *Server) HealthChecker() *health.Checker {
	return s.healthChecker
}

// Shutdown gracefully shuts down all servers
func (s *Server) Shutdown() error {
	s.logger.Info("Shutting down server...")

	if s.metricsCollector != nil {
		s.metricsCollector.Stop()
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop accepting new requests before winding down the core.
	if s.restServer != nil {
		s.logger.Info("Shutting down REST server...")
		if err := s.restServer.Stop(shutdownCtx); err != nil {
			s.logger.Error("Error shutting down REST server", slog.Any("error", err))
		}
	}

	if s.quicServer != nil {
		s.logger.Info("Shutting down QUIC server...")
		if err := s.quicServer.Stop(); err != nil {
			s.logger.Error("Error shutting down QUIC server", slog.Any("error", err))
		}
	}

	// Cancel the core dispatch loop and wait for it to drain.
	s.cancel()

	select {
	case <-s.coreDone:
	case <-shutdownCtx.Done():
		s.logger.Warn("Core drain timeout exceeded")
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("All servers stopped")
	case <-shutdownCtx.Done():
		s.logger.Warn("Shutdown timeout exceeded, forcing stop")
	}

	// Zeroize key material last.
	if s.core != nil {
		if err := s.core.Shutdown(); err != nil {
			s.logger.Error("Error shutting down core", slog.Any("error", err))
		}
	}

	close(s.shutdownCh)
	s.logger.Info("Server shutdown complete")

	return nil
}

// WaitForShutdown blocks until the server is shut down
func (s *Server) WaitForShutdown() {
	<-s.shutdownCh
}

// SetupSignalHandler sets up signal handling for graceful shutdown
func SetupSignalHandler() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-signalCh
		slog.Info("Received shutdown signal")
		cancel()
	}()

	return ctx
}
