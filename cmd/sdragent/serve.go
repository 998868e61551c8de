package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/effective-security/sdragent/api"
	"github.com/effective-security/sdragent/config"
	"github.com/effective-security/xlog"
	"github.com/spf13/cobra"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	var address string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the HTTP API.

The configured external servers are registered and connected before serving.
Press Ctrl+C to gracefully shutdown.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(flags.configFile)
			if err != nil {
				return err
			}
			if address != "" {
				cfg.HTTP.Address = address
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&address, "address", "", "listen address, overrides the configuration")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	a, err := wireApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err = a.connectServers(ctx); err != nil {
		return err
	}

	srv := api.New(a.engine, a.catalog, a.cache, a.servers, a.store)
	err = srv.Start(ctx, cfg.HTTP.Address)
	logger.ContextKV(ctx, xlog.INFO, "status", "stopped")
	return err
}
