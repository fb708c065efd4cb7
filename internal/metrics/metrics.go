// Package metrics exposes Prometheus counters, histograms, and gauges for
// every worker in the pipeline, served over a dedicated HTTP listener
// independent of the read API.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CrawlAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onionrecon_crawl_attempts_total",
			Help: "Total number of URL fetch attempts by the crawler worker",
		},
		[]string{"domain", "outcome"}, // outcome: success, http_error, connection_failure
	)

	CrawlDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "onionrecon_crawl_duration_seconds",
			Help:    "Duration of a single crawler GET, from dispatch to body read",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 45, 90},
		},
		[]string{"domain"},
	)

	CrawlBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onionrecon_crawl_bytes_total",
			Help: "Total response bytes read by the crawler worker, post-truncation",
		},
		[]string{"domain"},
	)

	ProxyFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onionrecon_proxy_failures_total",
			Help: "Total SOCKS5 dial/request failures, by endpoint",
		},
		[]string{"endpoint"},
	)

	PrefetchBufferDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "onionrecon_prefetch_buffer_depth",
			Help: "Current number of crawl_queue rows held in the prefetcher buffer",
		},
		[]string{"worker_id"},
	)

	ScanJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onionrecon_scan_jobs_total",
			Help: "Total port-scan or dir-scan jobs completed, by subsystem and outcome",
		},
		[]string{"subsystem", "outcome"}, // subsystem: port-scan, dir-scan; outcome: success, unreachable, lock_contention
	)

	DomainLockContentionTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onionrecon_domain_lock_contention_total",
			Help: "Total failed AcquireDomainLock calls, by subsystem",
		},
		[]string{"subsystem"},
	)
)

// Server encapsulates an HTTP server exposing /metrics.
type Server struct {
	srv *http.Server
}

// Start begins listening on the specified port and exposes /metrics. The
// server runs in a background goroutine and must be stopped via Server.Stop
// to release resources and avoid leaks.
func Start(port int) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:         fmt.Sprintf("127.0.0.1:%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server failed: %v\n", err)
		}
	}()

	return &Server{srv: srv}
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
