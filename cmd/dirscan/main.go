// Command dirscan runs the directory-scan worker pool described in spec
// §4.5: dequeue a domain job, baseline against an unguessable path, probe
// the profile's path list through a SOCKS5 client, and persist.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/onionrecon/core/internal/config"
	"github.com/onionrecon/core/internal/dirscan"
	"github.com/onionrecon/core/internal/metrics"
	"github.com/onionrecon/core/internal/socksproxy"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "dirscan",
		Short: "Run the directory-scan worker pool against domains in the dir-scan queue",
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

	pool, err := config.OpenSOCKSPool(cfg)
	if err != nil {
		return err
	}

	var metricsSrv *metrics.Server
	if cfg.MetricsPort > 0 {
		metricsSrv = metrics.Start(cfg.MetricsPort)
		defer metricsSrv.Stop(context.Background())
	}

	var wg sync.WaitGroup
	workers := make([]*dirscan.Worker, cfg.DirScanWorkers)
	for i := 0; i < cfg.DirScanWorkers; i++ {
		workerID := fmt.Sprintf("dirscan-%d", i)

		client, err := socksproxy.New(socksproxy.Config{Pool: pool})
		if err != nil {
			return fmt.Errorf("dirscan: build proxy client for %s: %w", workerID, err)
		}

		w := dirscan.New(gw, client, dirscan.Config{
			WorkerID:  workerID,
			PathDelay: cfg.DirScanPathDelay,
		}, logger)
		workers[i] = w

		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}

	logger.Info("dirscan: started", "workers", cfg.DirScanWorkers, "tor_addr", cfg.TorAddr())

	<-ctx.Done()
	logger.Info("dirscan: shutting down")
	for _, w := range workers {
		w.Stop()
	}
	wg.Wait()
	return nil
}
