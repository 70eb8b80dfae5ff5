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
	"os"
	"path/filepath"
	"testing"
	"time"
)

const testYAML = `
server:
  host: 0.0.0.0
  rest_port: 8443
  quic_port: 8444
protocols:
  rest: true
  quic: false
core:
  max_clients: 8
  key_store_capacity: 64
  channel_depth: 16
  max_in_flight: 16
  rng_reseed_interval: 5m
  max_payload: 8192
audit:
  backend: file
  path: /var/log/hsm/audit.jsonl
logging:
  level: debug
  format: json
ratelimit:
  enabled: true
  requests_per_min: 600
metrics:
  enabled: true
  path: /metrics
health:
  enabled: true
  path: /health
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, testYAML))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %v, want 0.0.0.0", cfg.Server.Host)
	}
	if cfg.Server.RESTPort != 8443 {
		t.Errorf("Server.RESTPort = %v, want 8443", cfg.Server.RESTPort)
	}
	if !cfg.Protocols.REST {
		t.Error("Protocols.REST = false, want true")
	}
	if cfg.Protocols.QUIC {
		t.Error("Protocols.QUIC = true, want false")
	}
	if cfg.Core.MaxClients != 8 {
		t.Errorf("Core.MaxClients = %v, want 8", cfg.Core.MaxClients)
	}
	if cfg.Core.KeyStoreCapacity != 64 {
		t.Errorf("Core.KeyStoreCapacity = %v, want 64", cfg.Core.KeyStoreCapacity)
	}
	if cfg.Core.RNGReseedInterval != 5*time.Minute {
		t.Errorf("Core.RNGReseedInterval = %v, want 5m", cfg.Core.RNGReseedInterval)
	}
	if cfg.Audit.Backend != "file" {
		t.Errorf("Audit.Backend = %v, want file", cfg.Audit.Backend)
	}
	if cfg.Audit.Path != "/var/log/hsm/audit.jsonl" {
		t.Errorf("Audit.Path = %v", cfg.Audit.Path)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %v, want debug", cfg.Logging.Level)
	}
	if !cfg.RateLimit.Enabled || cfg.RateLimit.RequestsPerMin != 600 {
		t.Errorf("RateLimit = %+v, want enabled with 600 req/min", cfg.RateLimit)
	}
}

func TestLoadDefaults(t *testing.T) {
	// Minimal config falls back to defaults for everything unspecified.
	cfg, err := Load(writeConfig(t, "protocols:\n  rest: true\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.RESTPort != 8443 {
		t.Errorf("Server.RESTPort = %v, want default 8443", cfg.Server.RESTPort)
	}
	if cfg.Core.MaxClients != 4 {
		t.Errorf("Core.MaxClients = %v, want default 4", cfg.Core.MaxClients)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %v, want default info", cfg.Logging.Level)
	}
	if cfg.Audit.Backend != "memory" {
		t.Errorf("Audit.Backend = %v, want default memory", cfg.Audit.Backend)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("Load() with missing file should fail")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	if _, err := Load(writeConfig(t, "server: [not a map")); err == nil {
		t.Error("Load() with invalid YAML should fail")
	}
}

func TestEnvOverrides(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		check   func(t *testing.T, cfg *Config)
	}{
		{
			name:    "override host",
			envVars: map[string]string{"HSM_HOST": "10.0.0.5"},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Server.Host != "10.0.0.5" {
					t.Errorf("Server.Host = %v, want 10.0.0.5", cfg.Server.Host)
				}
			},
		},
		{
			name:    "override REST port",
			envVars: map[string]string{"HSM_REST_PORT": "9001"},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Server.RESTPort != 9001 {
					t.Errorf("Server.RESTPort = %v, want 9001", cfg.Server.RESTPort)
				}
			},
		},
		{
			name:    "invalid REST port keeps default",
			envVars: map[string]string{"HSM_REST_PORT": "not-a-port"},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Server.RESTPort != 8443 {
					t.Errorf("Server.RESTPort = %v, want default 8443", cfg.Server.RESTPort)
				}
			},
		},
		{
			name:    "out of range port keeps default",
			envVars: map[string]string{"HSM_QUIC_PORT": "70000"},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Server.QUICPort != 8444 {
					t.Errorf("Server.QUICPort = %v, want default 8444", cfg.Server.QUICPort)
				}
			},
		},
		{
			name:    "override log level",
			envVars: map[string]string{"HSM_LOG_LEVEL": "debug"},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Logging.Level != "debug" {
					t.Errorf("Logging.Level = %v, want debug", cfg.Logging.Level)
				}
			},
		},
		{
			name:    "audit path switches backend to file",
			envVars: map[string]string{"HSM_AUDIT_PATH": "/tmp/audit.jsonl"},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Audit.Backend != "file" || cfg.Audit.Path != "/tmp/audit.jsonl" {
					t.Errorf("Audit = %+v, want file backend at /tmp/audit.jsonl", cfg.Audit)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}
			cfg := Default()
			applyEnvOverrides(cfg)
			tt.check(t, cfg)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr bool
	}{
		{
			name:   "default is valid",
			mutate: func(cfg *Config) {},
		},
		{
			name:    "no protocols",
			mutate:  func(cfg *Config) { cfg.Protocols = ProtocolsConfig{} },
			wantErr: true,
		},
		{
			name:    "bad REST port",
			mutate:  func(cfg *Config) { cfg.Server.RESTPort = 0 },
			wantErr: true,
		},
		{
			name: "QUIC without TLS",
			mutate: func(cfg *Config) {
				cfg.Protocols.QUIC = true
			},
			wantErr: true,
		},
		{
			name: "QUIC with TLS",
			mutate: func(cfg *Config) {
				cfg.Protocols.QUIC = true
				cfg.TLS.Enabled = true
				cfg.TLS.CertFile = "server.crt"
				cfg.TLS.KeyFile = "server.key"
			},
		},
		{
			name:    "bad core sizing",
			mutate:  func(cfg *Config) { cfg.Core.MaxClients = 0 },
			wantErr: true,
		},
		{
			name:    "bad log level",
			mutate:  func(cfg *Config) { cfg.Logging.Level = "verbose" },
			wantErr: true,
		},
		{
			name:    "bad log format",
			mutate:  func(cfg *Config) { cfg.Logging.Format = "xml" },
			wantErr: true,
		},
		{
			name:    "file audit without path",
			mutate:  func(cfg *Config) { cfg.Audit = AuditConfig{Backend: "file"} },
			wantErr: true,
		},
		{
			name:    "unknown audit backend",
			mutate:  func(cfg *Config) { cfg.Audit = AuditConfig{Backend: "syslog"} },
			wantErr: true,
		},
		{
			name:    "TLS without cert",
			mutate:  func(cfg *Config) { cfg.TLS.Enabled = true },
			wantErr: true,
		},
		{
			name: "TLS without key",
			mutate: func(cfg *Config) {
				cfg.TLS.Enabled = true
				cfg.TLS.CertFile = "server.crt"
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
