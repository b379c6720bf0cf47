package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"sessionvault/internal/config"
	"sessionvault/internal/metrics"
)

func newMetricsCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Expose Prometheus metrics",
	}
	cmd.AddCommand(newMetricsServeCmd(opts))
	return cmd
}

func newMetricsServeCmd(opts *globalOptions) *cobra.Command {
	var (
		addr  string
		watch bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve /metrics until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				if a.metrics == nil {
					a.metrics = metrics.New(a.cfg.Metrics.Namespace)
				}
				if addr == "" {
					addr = a.cfg.Metrics.ListenAddr
				}

				// Gauges reflect the store and wallet table of this process.
				if _, err := a.walletManager(); err != nil {
					return err
				}

				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()

				if watch {
					if err := a.watchConfig(ctx); err != nil {
						a.log().Warn("config watch disabled", "error", err)
					}
				}

				a.log().Info("serving metrics", "addr", addr)
				printSuccess(cmd.OutOrStdout(), "Serving metrics on %s", uiPath.Sprint("http://"+addr+"/metrics"))
				return a.metrics.Serve(ctx, addr)
			})
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default: metrics.listen_addr)")
	cmd.Flags().BoolVar(&watch, "watch-config", true, "log and audit configuration file changes")
	return cmd
}

// watchConfig reports configuration edits while a long-running command is
// up. Settings already wired into components are not swapped.
func (a *app) watchConfig(ctx context.Context) error {
	a.loader.OnChange(func(cfg *config.Config) {
		a.log().Info("configuration changed", "path", a.loader.Path(), "storage", cfg.Storage.Type, "ledger", cfg.Ledger.Backend)
		_ = a.audit.LogConfigChange(ctx, a.loader.Path())
	})
	if err := a.loader.Watch(); err != nil {
		return err
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-a.loader.Errors():
				a.log().Warn("config reload failed", "error", err)
			}
		}
	}()
	return nil
}
