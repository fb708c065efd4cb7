// Command readapi serves the operator-facing search and reporting surface
// described in spec §4.7: full-text search, per-domain detail pages, and a
// live stats snapshot (JSON, or a text/html operator report).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/onionrecon/core/internal/config"
	"github.com/onionrecon/core/internal/metrics"
	"github.com/onionrecon/core/internal/readapi"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "readapi",
		Short: "Serve the search and reporting HTTP surface over the crawl store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.Flags().StringVar(&configPath, "config", "", "path to a config file (yaml/toml/json); environment variables take precedence over it")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	gw, closeGw, err := config.OpenGateway(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeGw()

	var metricsSrv *metrics.Server
	if cfg.MetricsPort > 0 {
		metricsSrv = metrics.Start(cfg.MetricsPort)
		defer metricsSrv.Stop(context.Background())
	}

	srv := readapi.New(gw, logger)
	srv.Start(cfg.ReadAPIAddr)
	logger.Info("readapi: started", "addr", cfg.ReadAPIAddr)

	<-ctx.Done()
	logger.Info("readapi: shutting down")
	return srv.Stop(context.Background())
}
