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

package rest

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jeremyhahn/go-hsm/pkg/adapters/auth"
	"github.com/jeremyhahn/go-hsm/pkg/adapters/logger"
	"github.com/jeremyhahn/go-hsm/pkg/client"
	"github.com/jeremyhahn/go-hsm/pkg/health"
	"github.com/jeremyhahn/go-hsm/pkg/hsm"
	"github.com/jeremyhahn/go-hsm/pkg/metrics"
	"github.com/jeremyhahn/go-hsm/pkg/ratelimit"
)

// Server represents the REST API server.
type Server struct {
	server        *http.Server
	handlers      *HandlerContext
	port          int
	tlsConfig     *tls.Config
	authenticator auth.Authenticator
	logger        logger.Logger
	rateLimiter   *ratelimit.Limiter
}

// Config holds the REST server configuration.
type Config struct {
	// Port is the HTTP port to listen on (default: 8443)
	Port int

	// Core is the HSM core serving the API. Required.
	Core *hsm.Core

	// Client is the core endpoint the HTTP layer submits requests on.
	// Required.
	Client *client.Client

	// Version is the API version string
	Version string

	// TLSConfig is the TLS configuration for HTTPS (optional)
	TLSConfig *tls.Config

	// Authenticator is the authentication adapter (optional, defaults to NoOp)
	Authenticator auth.Authenticator

	// Logger is the logging adapter (optional, uses slog if not provided)
	Logger logger.Logger

	// RateLimiter throttles requests per client IP (optional)
	RateLimiter *ratelimit.Limiter

	// ReadTimeout is the maximum duration for reading the entire request
	ReadTimeout time.Duration

	// WriteTimeout is the maximum duration before timing out writes
	WriteTimeout time.Duration

	// IdleTimeout is the maximum amount of time to wait for the next request
	IdleTimeout time.Duration
}

// NewServer creates a new REST API server.
func NewServer(cfg *Config) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Core == nil {
		return nil, fmt.Errorf("core is required")
	}
	if cfg.Client == nil {
		return nil, fmt.Errorf("client is required")
	}

	// Set defaults
	if cfg.Port == 0 {
		cfg.Port = 8443
	}
	if cfg.Version == "" {
		cfg.Version = "1.0.0"
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 15 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}

	// Set up authenticator (default to NoOp if not provided)
	authenticator := cfg.Authenticator
	if authenticator == nil {
		authenticator = auth.NewNoOpAuthenticator()
	}

	// Set up logger (default to slog if not provided)
	log := cfg.Logger
	if log == nil {
		log = logger.NewSlogAdapter(&logger.SlogConfig{
			Level: logger.LevelInfo,
		})
	}

	handlers := NewHandlerContext(cfg.Core, cfg.Client, cfg.Version)

	server := &Server{
		handlers:      handlers,
		port:          cfg.Port,
		tlsConfig:     cfg.TLSConfig,
		authenticator: authenticator,
		logger:        log,
		rateLimiter:   cfg.RateLimiter,
	}

	router := server.setupRouter()

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
		TLSConfig:    cfg.TLSConfig,
	}

	server.server = httpServer

	return server, nil
}

// setupRouter configures the chi router with all routes and middleware.
func (s *Server) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	// Apply global middleware
	r.Use(s.RecoveryMiddleware())
	r.Use(s.CorrelationMiddleware()) // Add correlation ID before logging
	r.Use(s.LoggingMiddleware())
	r.Use(metrics.HTTPMiddleware) // Metrics middleware
	r.Use(CORSMiddleware)
	if s.rateLimiter != nil {
		r.Use(ratelimit.Middleware(s.rateLimiter))
	}

	// Legacy health endpoint (backwards compatibility)
	r.Get("/health", s.handlers.HealthHandler)
	r.Head("/health", s.handlers.HealthHandler)

	// Kubernetes-style health probes (no auth required)
	r.Get("/health/live", s.handlers.LivenessHandler)
	r.Get("/health/ready", s.handlers.ReadinessHandler)
	r.Get("/health/startup", s.handlers.StartupHandler)

	// API v1 routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		// Apply authentication middleware to all API routes
		r.Use(s.AuthenticationMiddleware())

		// Service endpoints
		r.Get("/info", s.handlers.InfoHandler)
		r.Get("/audit", s.handlers.AuditHandler)

		// Key endpoints
		r.Post("/keys", s.handlers.GenerateKeyHandler)
		r.Get("/keys", s.handlers.ListKeysHandler)
		r.Post("/keys/import", s.handlers.ImportKeyHandler)
		r.Delete("/keys/{id}", s.handlers.DeleteKeyHandler)
		r.Post("/keys/{id}/export", s.handlers.ExportKeyHandler)
		r.Get("/keys/{id}/public", s.handlers.GetPublicKeyHandler)

		// Crypto operation endpoints
		r.Post("/keys/{id}/encrypt", s.handlers.EncryptHandler)
		r.Post("/keys/{id}/decrypt", s.handlers.DecryptHandler)
		r.Post("/keys/{id}/sign", s.handlers.SignHandler)
		r.Post("/keys/{id}/verify", s.handlers.VerifyHandler)
		r.Post("/keys/{id}/derive", s.handlers.DeriveKeyHandler)

		// Keyless operation endpoints
		r.Post("/hash", s.handlers.HashHandler)
		r.Post("/random", s.handlers.RandomHandler)
	})

	return r
}

// Handler returns the configured router. The QUIC listener reuses it so
// both transports serve the same API surface.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the REST API server.
func (s *Server) Start() error {
	if s.tlsConfig != nil {
		s.logger.Info("Starting HTTPS server",
			logger.Int("port", s.port),
			logger.String("auth", s.authenticator.Name()))

		if err := s.server.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("failed to start HTTPS server: %w", err)
		}
	} else {
		s.logger.Info("Starting HTTP server",
			logger.Int("port", s.port),
			logger.String("auth", s.authenticator.Name()))

		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
	}

	return nil
}

// Stop gracefully stops the REST API server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down server")

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("Failed to shutdown server", logger.Error(err))
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info("Server stopped")
	return nil
}

// Port returns the port the server is listening on.
func (s *Server) Port() int {
	return s.port
}

// SetHealthChecker sets the health checker for the server.
func (s *Server) SetHealthChecker(checker *health.Checker) {
	s.handlers.HealthChecker = checker
}
