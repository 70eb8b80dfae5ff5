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

// Package quic serves the HSM HTTP API over QUIC/HTTP3. The handler is
// shared with the REST server so both transports expose the same routes.
package quic

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"sync"

	"github.com/jeremyhahn/go-hsm/pkg/adapters/logger"
	"github.com/quic-go/quic-go/http3"
)

// Server represents a QUIC/HTTP3 server.
type Server struct {
	addr      string
	tlsConfig *tls.Config
	handler   http.Handler
	logger    logger.Logger
	server    *http3.Server
	wg        sync.WaitGroup
}

// Config holds the QUIC server configuration.
type Config struct {
	// Addr is the UDP listen address (default: "localhost:8444")
	Addr string

	// TLSConfig is required; QUIC has no cleartext mode.
	TLSConfig *tls.Config

	// Handler serves the requests, normally the REST router.
	Handler http.Handler

	// Logger is the logging adapter (optional, uses slog if not provided)
	Logger logger.Logger
}

// NewServer creates a new QUIC/HTTP3 server.
func NewServer(config *Config) (*Server, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if config.Handler == nil {
		return nil, fmt.Errorf("handler is required")
	}
	if config.TLSConfig == nil {
		return nil, fmt.Errorf("TLS config is required")
	}

	addr := config.Addr
	if addr == "" {
		addr = "localhost:8444"
	}

	log := config.Logger
	if log == nil {
		log = logger.NewSlogAdapter(&logger.SlogConfig{
			Level: logger.LevelInfo,
		})
	}

	tlsConfig := config.TLSConfig.Clone()
	if tlsConfig.MinVersion < tls.VersionTLS13 {
		tlsConfig.MinVersion = tls.VersionTLS13
	}
	tlsConfig.NextProtos = []string{"h3"}

	return &Server{
		addr:      addr,
		tlsConfig: tlsConfig,
		handler:   config.Handler,
		logger:    log,
	}, nil
}

// Start starts the QUIC server.
func (s *Server) Start() error {
	s.server = &http3.Server{
		Addr:      s.addr,
		Handler:   s.handler,
		TLSConfig: s.tlsConfig,
	}

	s.logger.Info("Starting QUIC/HTTP3 server",
		logger.String("addr", s.addr))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("QUIC server error", logger.Error(err))
		}
	}()

	return nil
}

// Stop stops the QUIC server.
func (s *Server) Stop() error {
	s.logger.Info("Stopping QUIC server")

	if s.server != nil {
		if err := s.server.Close(); err != nil {
			s.logger.Error("Failed to close server", logger.Error(err))
			return err
		}
	}

	s.wg.Wait()
	s.logger.Info("QUIC server stopped")
	return nil
}

// Addr returns the server address.
func (s *Server) Addr() string {
	return s.addr
}
