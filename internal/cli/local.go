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
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-hsm/pkg/client"
	"github.com/jeremyhahn/go-hsm/pkg/hsm"
	"github.com/jeremyhahn/go-hsm/pkg/types"
)

// withLocalCore runs fn against a throwaway in-process core. The full
// channel and wire path is exercised, same as a remote caller's.
func withLocalCore(fn func(ctx context.Context, c *client.Client) error) error {
	core, err := hsm.New(&hsm.Config{})
	if err != nil {
		return err
	}
	defer core.Shutdown() //nolint:errcheck

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = core.Run(runCtx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	ep, err := core.Endpoint(0)
	if err != nil {
		return err
	}

	ctx, opCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer opCancel()

	return fn(ctx, client.New(ep))
}

var hashAlgorithm string

// hashCmd computes a digest with the core's hash engine.
var hashCmd = &cobra.Command{
	Use:   "hash [file]",
	Short: "Compute a message digest",
	Long: `Compute a digest of the given file, or of standard input when no
file is given, using the core's hash engine.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var input io.Reader = os.Stdin
		if len(args) == 1 {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close() //nolint:errcheck
			input = f
		}

		message, err := io.ReadAll(input)
		if err != nil {
			return err
		}

		alg, err := types.ParseAlgorithm(hashAlgorithm)
		if err != nil {
			return err
		}

		return withLocalCore(func(ctx context.Context, c *client.Client) error {
			digest, err := c.Hash(ctx, alg, message)
			if err != nil {
				return err
			}
			printer := NewPrinter(getConfig().OutputFormat, cmd.OutOrStdout())
			return printer.PrintBytes("digest", digest)
		})
	},
}

var randomLength int

// randomCmd draws bytes from the core DRBG.
var randomCmd = &cobra.Command{
	Use:   "random",
	Short: "Generate random bytes",
	Long:  `Draw bytes from the core's ChaCha20-based DRBG.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if randomLength <= 0 || randomLength > types.MaxRandomRequest {
			return fmt.Errorf("length must be in 1..%d", types.MaxRandomRequest)
		}

		return withLocalCore(func(ctx context.Context, c *client.Client) error {
			random, err := c.GetRandom(ctx, randomLength)
			if err != nil {
				return err
			}
			printer := NewPrinter(getConfig().OutputFormat, cmd.OutOrStdout())
			return printer.PrintBytes("random", random)
		})
	},
}

func init() {
	hashCmd.Flags().StringVarP(&hashAlgorithm, "algorithm", "a", "sha256",
		"hash algorithm (sha256, sha384, sha512, sha3-256, sha3-512, blake3)")
	randomCmd.Flags().IntVarP(&randomLength, "length", "n", 32,
		"number of random bytes")
}
