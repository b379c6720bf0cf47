// Command sessionvault encrypts recorded session chunks, builds Merkle
// manifests over them and anchors the manifests to a ledger.
//
// Usage:
//
//	sessionvault keygen
//	sessionvault chunk encrypt --session S --index 0 --in chunk.bin --out chunk.sealed
//	sessionvault wallet create signer
//	sessionvault manifest create --session S --hashes-file hashes.txt
//	sessionvault manifest anchor S --wallet signer
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// globalOptions holds the persistent flags shared by every subcommand.
type globalOptions struct {
	configPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "sessionvault",
		Short: "Protect recorded session data with per-chunk encryption and ledger-anchored manifests",
		Long: `sessionvault seals recorded session chunks under per-chunk keys, builds
Merkle manifests over the encrypted chunks and anchors each manifest to a
ledger with a signature from a local wallet.

Configuration is read from --config (TOML, JSON or YAML) and may be
overridden with SESSIONVAULT_* environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "configuration file (default: platform config dir)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newKeygenCmd(opts),
		newChunkCmd(opts),
		newWalletCmd(opts),
		newManifestCmd(opts),
		newMetricsCmd(opts),
	)
	return root
}

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, uiError.Sprint("✗")+" "+err.Error())
		os.Exit(1)
	}
}
