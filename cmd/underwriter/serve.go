package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"underwriter/internal/httpapi"
	"underwriter/internal/kernel"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var listenAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator behind the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if listenAddr != "" {
				cfg.HTTP.ListenAddr = listenAddr
			}
			if err := opts.unlockSecrets(cfg); err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			k, err := kernel.NewKernel(ctx, cfg)
			if err != nil {
				return fmt.Errorf("failed to create kernel: %w", err)
			}
			defer func() {
				if stopErr := k.Stop(); stopErr != nil {
					opts.logger.Error("Error stopping kernel: %v", stopErr)
				}
			}()
			if err := k.Start(); err != nil {
				return fmt.Errorf("failed to start kernel: %w", err)
			}

			return httpapi.NewServer(serverDeps(k)).Start(ctx, cfg.HTTP.ListenAddr)
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", "", "listen address (overrides http.listen_addr)")
	return cmd
}

// serverDeps leaves disabled services as nil interfaces.
func serverDeps(k *kernel.Kernel) httpapi.Deps {
	deps := httpapi.Deps{
		Processor: k.Orchestrator,
		Queues:    k.Fabric,
	}
	if k.Store != nil {
		deps.Records = k.Store
	}
	if k.Metrics != nil {
		deps.Metrics = k.Metrics.Handler()
	}
	return deps
}
