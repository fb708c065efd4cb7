// Command crawler runs the crawl-queue worker pool described in spec §4.4:
// dequeue via the prefetcher, fetch through a per-worker SOCKS5 client,
// extract links, and persist through the write buffer.
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
	"github.com/onionrecon/core/internal/crawler"
	"github.com/onionrecon/core/internal/metrics"
	"github.com/onionrecon/core/internal/queue"
	"github.com/onionrecon/core/internal/socksproxy"
	"github.com/onionrecon/core/internal/writebuffer"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "crawler",
		Short: "Run the crawl-queue worker pool against the configured hidden-service targets",
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

	pre := queue.New(gw, queue.Config{
		BatchSize:    cfg.PrefetchBatch,
		LowWater:     cfg.PrefetchLowWater,
		RefillPeriod: cfg.PrefetchPeriod,
		WorkerID:     "prefetcher",
	}, logger)
	go pre.Run(ctx)
	defer pre.Stop()

	wb := writebuffer.New(gw, writebuffer.Config{
		FlushPeriod: cfg.FlushPeriod,
		MaxBuffer:   cfg.WriteBufferCap,
	}, logger)
	go wb.Run(ctx)
	defer wb.Stop()

	var wg sync.WaitGroup
	workers := make([]*crawler.Worker, cfg.CrawlerWorkers)
	for i := 0; i < cfg.CrawlerWorkers; i++ {
		workerID := fmt.Sprintf("crawler-%d", i)

		client, err := socksproxy.New(socksproxy.Config{
			Pool:         pool,
			MaxBodyBytes: cfg.ContentMaxBytes,
		})
		if err != nil {
			return fmt.Errorf("crawler: build proxy client for %s: %w", workerID, err)
		}

		w := crawler.New(gw, pre, wb, client, crawler.Config{
			WorkerID:      workerID,
			BatchSize:     cfg.CrawlBatchSize,
			CrawlDelay:    cfg.CrawlDelay,
			RespectRobots: cfg.RespectRobots,
			UserAgent:     cfg.CrawlUserAgent,
		}, logger)
		workers[i] = w

		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}

	logger.Info("crawler: started", "workers", cfg.CrawlerWorkers, "tor_addr", cfg.TorAddr())

	<-ctx.Done()
	logger.Info("crawler: shutting down")
	for _, w := range workers {
		w.Stop()
	}
	wg.Wait()
	return nil
}
