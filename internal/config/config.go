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

package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jeremyhahn/go-hsm/pkg/types"
)

// Config represents the complete server configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Protocols ProtocolsConfig `yaml:"protocols"`
	Core      types.Config    `yaml:"core"`
	Audit     AuditConfig     `yaml:"audit"`
	Logging   LoggingConfig   `yaml:"logging"`
	TLS       TLSConfig       `yaml:"tls"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Health    HealthConfig    `yaml:"health"`
}

// ServerConfig contains server-level settings
type ServerConfig struct {
	Host     string `yaml:"host"`
	RESTPort int    `yaml:"rest_port"`
	QUICPort int    `yaml:"quic_port"`
}

// ProtocolsConfig controls which protocols are enabled
type ProtocolsConfig struct {
	REST bool `yaml:"rest"`
	QUIC bool `yaml:"quic"`
}

// AuditConfig controls where the security audit trail is written
type AuditConfig struct {
	Backend string `yaml:"backend"` // memory, file, none
	Path    string `yaml:"path"`    // JSONL file path for the file backend
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TLSConfig controls TLS/SSL settings
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`

	// Client certificate verification (mTLS)
	ClientAuth string   `yaml:"client_auth"` // none, request, require, verify, require_and_verify
	ClientCAs  []string `yaml:"client_cas"`  // Additional client CA certificates

	// TLS version and cipher suites
	MinVersion          string   `yaml:"min_version"`           // TLS1.2, TLS1.3
	MaxVersion          string   `yaml:"max_version"`           // TLS1.2, TLS1.3
	CipherSuites        []string `yaml:"cipher_suites"`         // Specific cipher suites to allow
	PreferServerCiphers bool     `yaml:"prefer_server_ciphers"` // Server chooses cipher suite

	// Certificate rotation
	WatchCertFiles bool `yaml:"watch_cert_files"` // Auto-reload certificates on change
}

// AuthConfig controls authentication and authorization
type AuthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Type    string `yaml:"type"` // noop, apikey, mtls, jwt

	// API Key authentication
	APIKeys map[string]APIKeyConfig `yaml:"api_keys,omitempty"` // key -> config mapping

	// JWT authentication
	JWT *JWTConfig `yaml:"jwt,omitempty"`

	// mTLS authentication
	MTLS bool `yaml:"mtls"` // Use mTLS from client certificates
}

// APIKeyConfig represents an API key and its associated identity
type APIKeyConfig struct {
	Subject     string                 `yaml:"subject"`
	Roles       []string               `yaml:"roles,omitempty"`
	Permissions []string               `yaml:"permissions,omitempty"`
	Claims      map[string]interface{} `yaml:"claims,omitempty"`
}

// JWTConfig controls JWT authentication
type JWTConfig struct {
	PublicKeyFile string   `yaml:"public_key_file"`
	Issuer        string   `yaml:"issuer"`
	Audience      []string `yaml:"audience"`
}

// RateLimitConfig controls rate limiting
type RateLimitConfig struct {
	Enabled        bool `yaml:"enabled"`
	RequestsPerMin int  `yaml:"requests_per_min"`
}

// MetricsConfig controls metrics endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	Port    int    `yaml:"port"`
}

// HealthConfig controls health check endpoint
type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns the configuration used when no config file is given:
// REST on localhost with the default core sizing, audit to memory, no TLS.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:     "localhost",
			RESTPort: 8443,
			QUICPort: 8444,
		},
		Protocols: ProtocolsConfig{REST: true},
		Core:      types.DefaultConfig(),
		Audit:     AuditConfig{Backend: "memory"},
		Logging:   LoggingConfig{Level: "info", Format: "json"},
		Metrics:   MetricsConfig{Enabled: true, Path: "/metrics"},
		Health:    HealthConfig{Enabled: true, Path: "/health"},
	}
}

// Load reads configuration from a YAML file and applies environment variable overrides
func Load(path string) (*Config, error) {
	// #nosec G304 - Config file path is provided by admin/user
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration
func applyEnvOverrides(cfg *Config) {
	// Server settings
	if host := os.Getenv("HSM_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if restPort := os.Getenv("HSM_REST_PORT"); restPort != "" {
		port, err := strconv.Atoi(restPort)
		if err != nil {
			log.Printf("Warning: invalid HSM_REST_PORT value %q, using default %d: %v",
				restPort, cfg.Server.RESTPort, err)
		} else if port < 1 || port > 65535 {
			log.Printf("Warning: invalid HSM_REST_PORT value %q (out of range 1-65535), using default %d",
				restPort, cfg.Server.RESTPort)
		} else {
			cfg.Server.RESTPort = port
		}
	}
	if quicPort := os.Getenv("HSM_QUIC_PORT"); quicPort != "" {
		port, err := strconv.Atoi(quicPort)
		if err != nil {
			log.Printf("Warning: invalid HSM_QUIC_PORT value %q, using default %d: %v",
				quicPort, cfg.Server.QUICPort, err)
		} else if port < 1 || port > 65535 {
			log.Printf("Warning: invalid HSM_QUIC_PORT value %q (out of range 1-65535), using default %d",
				quicPort, cfg.Server.QUICPort)
		} else {
			cfg.Server.QUICPort = port
		}
	}

	// Logging
	if level := os.Getenv("HSM_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := os.Getenv("HSM_LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}

	// Audit
	if auditPath := os.Getenv("HSM_AUDIT_PATH"); auditPath != "" {
		cfg.Audit.Backend = "file"
		cfg.Audit.Path = auditPath
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server ports
	if c.Protocols.REST && (c.Server.RESTPort < 1 || c.Server.RESTPort > 65535) {
		return fmt.Errorf("invalid REST port: %d", c.Server.RESTPort)
	}
	if c.Protocols.QUIC && (c.Server.QUICPort < 1 || c.Server.QUICPort > 65535) {
		return fmt.Errorf("invalid QUIC port: %d", c.Server.QUICPort)
	}

	// Validate at least one protocol is enabled
	if !c.Protocols.REST && !c.Protocols.QUIC {
		return fmt.Errorf("at least one protocol must be enabled")
	}

	// QUIC always runs over TLS
	if c.Protocols.QUIC && !c.TLS.Enabled {
		return fmt.Errorf("QUIC requires TLS to be enabled")
	}

	// Validate core sizing
	if err := c.Core.Validate(); err != nil {
		return fmt.Errorf("invalid core configuration: %w", err)
	}

	// Validate audit backend
	switch strings.ToLower(c.Audit.Backend) {
	case "memory", "none", "":
	case "file":
		if c.Audit.Path == "" {
			return fmt.Errorf("audit path is required for the file backend")
		}
	default:
		return fmt.Errorf("invalid audit backend: %s (must be memory, file, or none)", c.Audit.Backend)
	}

	// Validate logging level
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, error, or fatal)", c.Logging.Level)
	}

	// Validate logging format
	validFormats := map[string]bool{
		"json": true, "text": true, "console": true,
	}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s (must be json, text, or console)", c.Logging.Format)
	}

	// Validate TLS settings
	if c.TLS.Enabled {
		if c.TLS.CertFile == "" {
			return fmt.Errorf("TLS cert_file is required when TLS is enabled")
		}
		if c.TLS.KeyFile == "" {
			return fmt.Errorf("TLS key_file is required when TLS is enabled")
		}
	}

	return nil
}
