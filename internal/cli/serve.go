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
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-hsm/internal/server"
)

// serveCmd runs the HSM server until interrupted.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HSM server",
	Long: `Run the HSM core and its protocol servers. The core dispatch loop
starts first; REST and QUIC listeners come up according to the
configuration. SIGINT and SIGTERM trigger a graceful shutdown that
drains in-flight requests and zeroizes the key store.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := getConfig().loadServerConfig()
		if err != nil {
			return err
		}

		printVerbose("configuration loaded, rest=%v quic=%v",
			cfg.Protocols.REST, cfg.Protocols.QUIC)

		srv, err := server.New(cfg)
		if err != nil {
			return err
		}

		shutdownCtx := server.SetupSignalHandler()

		if err := srv.Start(); err != nil {
			return err
		}

		<-shutdownCtx.Done()

		if err := srv.Shutdown(); err != nil {
			return err
		}

		slog.Info("Server stopped successfully")
		return nil
	},
}
