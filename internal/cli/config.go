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

package cli

import (
	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-hsm/internal/config"
)

// DefaultConfigPath is used when no --config flag is given.
const DefaultConfigPath = "/etc/hsm/config.yaml"

// Config holds global CLI configuration
type Config struct {
	// ConfigFile is the path to the configuration file
	ConfigFile string

	// OutputFormat controls output formatting (json, text)
	OutputFormat string

	// Verbose enables verbose logging
	Verbose bool
}

// NewConfig creates a new Config with default values
func NewConfig() *Config {
	return &Config{
		OutputFormat: "text",
	}
}

// loadServerConfig loads the server configuration, falling back to
// defaults when no config file is present.
func (c *Config) loadServerConfig() (*config.Config, error) {
	path := c.ConfigFile
	if path == "" {
		path = DefaultConfigPath
	}
	if c.ConfigFile == "" {
		// No explicit config; missing default file means use defaults.
		if cfg, err := config.Load(path); err == nil {
			return cfg, nil
		}
		return config.Default(), nil
	}
	return config.Load(path)
}

// configCmd validates and prints the effective configuration.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Validate and display the effective configuration",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := getConfig().loadServerConfig()
		if err != nil {
			handleError(err)
		}

		printer := NewPrinter(getConfig().OutputFormat, cmd.OutOrStdout())
		if err := printer.PrintConfig(cfg); err != nil {
			handleError(err)
		}
	},
}
