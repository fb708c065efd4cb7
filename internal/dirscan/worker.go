// Package dirscan implements the directory-scan worker described in spec
// §4.5: per domain, capture a baseline against an unguessable path, probe a
// profile's path list with HEAD (GET only on a 200), classify each result
// against the baseline, and persist everything in one pass.
package dirscan

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/onionrecon/core/internal/metrics"
	"github.com/onionrecon/core/internal/socksproxy"
	"github.com/onionrecon/core/internal/storage"
	"github.com/onionrecon/core/pkg/ratelimit"
)

const (
	baselinePathLength    = 24
	maxConsecutiveFailures = 3
	leaseExtendEvery      = 20
	defaultPathDelay      = 1 * time.Second
	defaultIdleDelay      = 5 * time.Second
	pathDelayJitter       = 0.2
)

// proxyClient is the slice of socksproxy.Client the dir-scan worker depends
// on, kept as an interface for the same reason as the crawler's proxyGetter.
type proxyClient interface {
	Get(ctx context.Context, url string, headers map[string]string) (*socksproxy.Result, error)
	Head(ctx context.Context, url string, headers map[string]string) (*socksproxy.Result, error)
}

// Config tunes a Worker.
type Config struct {
	WorkerID  string
	PathDelay time.Duration
}

// Worker is one dir-scan worker: one domain job at a time, in order.
type Worker struct {
	gw      storage.Gateway
	proxy   proxyClient
	cfg     Config
	logger  *slog.Logger
	limiter *ratelimit.Limiter

	stop chan struct{}
}

// New builds a Worker. The path delay is enforced by a ratelimit.Limiter
// with a little jitter, so two workers scanning different domains don't
// settle into lockstep probe timing.
func New(gw storage.Gateway, proxy proxyClient, cfg Config, logger *slog.Logger) *Worker {
	if cfg.PathDelay <= 0 {
		cfg.PathDelay = defaultPathDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		gw:      gw,
		proxy:   proxy,
		cfg:     cfg,
		logger:  logger,
		limiter: ratelimit.NewLimiter(1/cfg.PathDelay.Seconds(), pathDelayJitter),
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

		job, err := w.gw.GetNextDirScanJob(runCtx, w.cfg.WorkerID)
		if err != nil {
			w.logger.Error("dirscan: dequeue failed", "err", err)
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

func (w *Worker) processJob(ctx context.Context, job storage.DirScanQueueEntry) {
	acquired, err := w.gw.AcquireDomainLock(ctx, storage.SubsystemDirScan, job.Domain, w.cfg.WorkerID)
	if err != nil {
		w.logger.Error("dirscan: acquire lock failed", "domain", job.Domain, "err", err)
		return
	}
	if !acquired {
		w.logger.Debug("dirscan: lock contention, returning job to queue", "domain", job.Domain)
		metrics.DomainLockContentionTotal.WithLabelValues(string(storage.SubsystemDirScan)).Inc()
		metrics.ScanJobsTotal.WithLabelValues("dir-scan", "lock_contention").Inc()
		_ = w.gw.MarkDirScanJobDone(ctx, job.Domain, false)
		return
	}
	defer func() {
		if err := w.gw.ReleaseDomainLock(ctx, storage.SubsystemDirScan, job.Domain, w.cfg.WorkerID); err != nil {
			w.logger.Error("dirscan: release lock failed", "domain", job.Domain, "err", err)
		}
	}()

	baseURL := "http://" + job.Domain

	baseline, unreachable := w.captureBaseline(ctx, baseURL)
	if unreachable {
		w.logger.Warn("dirscan: domain unreachable at baseline", "domain", job.Domain)
		metrics.ScanJobsTotal.WithLabelValues("dir-scan", "unreachable").Inc()
		_ = w.gw.MarkDirScanJobDone(ctx, job.Domain, false)
		return
	}

	paths := PathsFor(job.Profile)
	results := make([]storage.DirScanResult, 0, len(paths))
	consecutiveFailures := 0

	for i, path := range paths {
		url := baseURL + "/" + strings.TrimPrefix(path, "/")

		headRes, err := w.proxy.Head(ctx, url, nil)
		if err != nil {
			w.logger.Error("dirscan: head request construction failed", "url", url, "err", err)
			continue
		}
		if !headRes.Success {
			if socksproxy.IsConnectionFailure(headRes.Error) {
				consecutiveFailures++
				if consecutiveFailures >= maxConsecutiveFailures {
					w.logger.Warn("dirscan: aborting scan after consecutive failures", "domain", job.Domain, "path", path)
					metrics.ScanJobsTotal.WithLabelValues("dir-scan", "unreachable").Inc()
					_ = w.gw.MarkDirScanJobDone(ctx, job.Domain, false)
					return
				}
				continue
			}
			consecutiveFailures = 0
			continue
		}
		consecutiveFailures = 0

		probe := Probe{
			Path:         path,
			StatusCode:   headRes.StatusCode,
			ContentType:  headRes.Headers.Get("Content-Type"),
			ServerHeader: headRes.Headers.Get("Server"),
			ResponseTime: headRes.Duration,
		}
		if loc := headRes.Headers.Get("Location"); loc != "" {
			probe.RedirectTarget = loc
		}
		if cl := headRes.Headers.Get("Content-Length"); cl != "" {
			if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
				probe.ContentLength = n
			}
		}

		if headRes.StatusCode == 200 {
			if getRes, err := w.proxy.Get(ctx, url, nil); err == nil && getRes.Success {
				probe.Body = getRes.Body
				if probe.ContentLength == 0 {
					probe.ContentLength = int64(len(getRes.Body))
				}
			}
		}

		results = append(results, Classify(probe, baseline))

		if (i+1)%leaseExtendEvery == 0 {
			if err := w.gw.ExtendDomainLock(ctx, storage.SubsystemDirScan, job.Domain, w.cfg.WorkerID); err != nil {
				w.logger.Error("dirscan: extend lock failed", "domain", job.Domain, "err", err)
			}
		}

		if i < len(paths)-1 {
			if err := w.limiter.Wait(ctx); err != nil {
				return
			}
		}
	}

	if len(results) > 0 {
		if err := w.gw.InsertDirScanResults(ctx, results); err != nil {
			w.logger.Error("dirscan: insert results failed", "domain", job.Domain, "err", err)
			metrics.ScanJobsTotal.WithLabelValues("dir-scan", "unreachable").Inc()
			_ = w.gw.MarkDirScanJobDone(ctx, job.Domain, false)
			return
		}
	}

	metrics.ScanJobsTotal.WithLabelValues("dir-scan", "success").Inc()
	_ = w.gw.MarkDirScanJobDone(ctx, job.Domain, true)
}

// captureBaseline implements spec §4.5 step 2: GET an unguessable path and
// record its status, body length and first snippetCap bytes as the
// no-such-path baseline. The body is not capped here; its size is bounded
// only by the proxy client's MaxBodyBytes. A transport
// failure here means the domain itself is unreachable, not merely that the
// path doesn't exist.
func (w *Worker) captureBaseline(ctx context.Context, baseURL string) (Baseline, bool) {
	randPath, err := socksproxy.RandomPath(baselinePathLength)
	if err != nil {
		return Baseline{}, true
	}

	res, err := w.proxy.Get(ctx, baseURL+"/"+randPath, nil)
	if err != nil || !res.Success {
		return Baseline{}, true
	}

	return Baseline{
		StatusCode:    res.StatusCode,
		ContentLength: int64(len(res.Body)),
		BodySnippet:   snippet(res.Body, snippetCap),
	}, false
}
