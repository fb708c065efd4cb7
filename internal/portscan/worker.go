// Package portscan implements the port-scan worker described in spec §4.6:
// per domain, open a raw TCP connection through the proxy for each port in
// a profile's list, read a short banner, classify it, and persist the
// result. Up to 5 probes run concurrently per worker, 200ms apart.
package portscan

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/onionrecon/core/internal/metrics"
	"github.com/onionrecon/core/internal/storage"
	"github.com/onionrecon/core/pkg/ratelimit"
)

const (
	defaultConnectTimeout = 10 * time.Second
	bannerReadCap         = 4096
	bannerReadTimeout     = 5 * time.Second
	maxConcurrentProbes   = 5
	interProbeDelay       = 200 * time.Millisecond
	interProbeJitter      = 0.2
	defaultIdleDelay      = 5 * time.Second
)

// tcpDialer is the slice of socksproxy.Client the port-scan worker depends
// on, kept as an interface for the same testability reason as the crawler's
// proxyGetter.
type tcpDialer interface {
	TCPConnect(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error)
}

// Config tunes a Worker.
type Config struct {
	WorkerID       string
	ConnectTimeout time.Duration
}

// Worker is one port-scan worker: one domain job at a time, ports probed
// with bounded concurrency within that job.
type Worker struct {
	gw      storage.Gateway
	proxy   tcpDialer
	cfg     Config
	logger  *slog.Logger
	limiter *ratelimit.Limiter

	stop chan struct{}
}

// New builds a Worker. Probe dispatch is paced by a ratelimit.Limiter so
// concurrent probes across workers don't all fire in lockstep.
func New(gw storage.Gateway, proxy tcpDialer, cfg Config, logger *slog.Logger) *Worker {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		gw:      gw,
		proxy:   proxy,
		cfg:     cfg,
		logger:  logger,
		limiter: ratelimit.NewLimiter(1/interProbeDelay.Seconds(), interProbeJitter),
		stop:    make(chan struct{}),
	}
}

// Stop halts the worker loop after its current job finishes.
func (w *Worker) Stop() { close(w.stop) }

// Run loops dequeue → scan → sleep until ctx is cancelled or Stop is called.
// A child context is cancelled the moment either ctx or Stop fires, so the
// limiter's Wait inside processJob stays responsive to both.
func (w *Worker) Run(ctx context.Context) {
	defer w.limiter.Stop()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.stop:
			cancel()
		case <-runCtx.Done():
		}
	}()

	for {
		select {
		case <-runCtx.Done():
			return
		default:
		}

		job, err := w.gw.GetNextScanJob(runCtx, w.cfg.WorkerID)
		if err != nil {
			w.logger.Error("portscan: dequeue failed", "err", err)
			job = nil
		}
		if job == nil {
			select {
			case <-time.After(defaultIdleDelay):
			case <-runCtx.Done():
				return
			}
			continue
		}

		w.processJob(runCtx, *job)
	}
}

func (w *Worker) processJob(ctx context.Context, job storage.ScanQueueEntry) {
	acquired, err := w.gw.AcquireDomainLock(ctx, storage.SubsystemPortScan, job.Domain, w.cfg.WorkerID)
	if err != nil {
		w.logger.Error("portscan: acquire lock failed", "domain", job.Domain, "err", err)
		return
	}
	if !acquired {
		w.logger.Debug("portscan: lock contention, returning job to queue", "domain", job.Domain)
		metrics.DomainLockContentionTotal.WithLabelValues(string(storage.SubsystemPortScan)).Inc()
		metrics.ScanJobsTotal.WithLabelValues("port-scan", "lock_contention").Inc()
		_ = w.gw.MarkScanJobDone(ctx, job.Domain, false)
		return
	}
	defer func() {
		if err := w.gw.ReleaseDomainLock(ctx, storage.SubsystemPortScan, job.Domain, w.cfg.WorkerID); err != nil {
			w.logger.Error("portscan: release lock failed", "domain", job.Domain, "err", err)
		}
	}()

	ports := PortsFor(job.Profile)

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results []storage.PortScanResult
	)
	sem := make(chan struct{}, maxConcurrentProbes)

probeLoop:
	for i, port := range ports {
		select {
		case <-ctx.Done():
			break probeLoop
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(port int) {
			defer wg.Done()
			defer func() { <-sem }()

			res := w.probePort(ctx, job.Domain, port)
			if res == nil {
				return
			}
			mu.Lock()
			results = append(results, *res)
			mu.Unlock()
		}(port)

		if (i+1)%20 == 0 {
			if err := w.gw.ExtendDomainLock(ctx, storage.SubsystemPortScan, job.Domain, w.cfg.WorkerID); err != nil {
				w.logger.Error("portscan: extend lock failed", "domain", job.Domain, "err", err)
			}
		}

		if i < len(ports)-1 {
			if err := w.limiter.Wait(ctx); err != nil {
				break probeLoop
			}
		}
	}
	wg.Wait()

	if len(results) > 0 {
		if err := w.gw.InsertPortScanResults(ctx, results); err != nil {
			w.logger.Error("portscan: insert results failed", "domain", job.Domain, "err", err)
			metrics.ScanJobsTotal.WithLabelValues("port-scan", "unreachable").Inc()
			_ = w.gw.MarkScanJobDone(ctx, job.Domain, false)
			return
		}
	}

	metrics.ScanJobsTotal.WithLabelValues("port-scan", "success").Inc()
	_ = w.gw.MarkScanJobDone(ctx, job.Domain, true)
}

// probePort opens one TCP connection, reads a banner, and classifies the
// result. A nil return means the probe was retryable (a SOCKS general
// server failure) and should simply be skipped, not recorded.
func (w *Worker) probePort(ctx context.Context, domain string, port int) *storage.PortScanResult {
	addr := fmt.Sprintf("%s:%d", domain, port)

	conn, err := w.proxy.TCPConnect(ctx, addr, w.cfg.ConnectTimeout)
	if err != nil {
		state, record := classifyDialError(err)
		if !record {
			return nil
		}
		return &storage.PortScanResult{Domain: domain, Port: port, State: state, ScannedAt: time.Now().UTC()}
	}
	defer conn.Close()

	banner := readBanner(conn)
	service, version, confidence := Match(banner)

	return &storage.PortScanResult{
		Domain:         domain,
		Port:           port,
		State:          storage.PortOpen,
		Banner:         banner,
		ServiceName:    service,
		ServiceVersion: version,
		Confidence:     confidence,
		ScannedAt:      time.Now().UTC(),
	}
}

// classifyDialError maps a TCPConnect error to the port-state/record
// decision from spec §4.6: refused → closed, timeout → filtered/timeout,
// SOCKS general failure → retryable (don't record, advance).
func classifyDialError(err error) (state storage.PortState, record bool) {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "general socks server failure"):
		return "", false
	case strings.Contains(msg, "refused"):
		return storage.PortClosed, true
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out"):
		return storage.PortTimeout, true
	default:
		return storage.PortFiltered, true
	}
}

// readBanner reads up to bannerReadCap bytes within bannerReadTimeout. A
// service that sends nothing unprompted (common for onion HTTP servers)
// yields an empty banner, which Match leaves without a service name; the
// port is still recorded open.
func readBanner(conn net.Conn) string {
	_ = conn.SetReadDeadline(time.Now().Add(bannerReadTimeout))
	buf := make([]byte, bannerReadCap)
	n, _ := conn.Read(buf)
	if n <= 0 {
		return ""
	}
	return string(buf[:n])
}
