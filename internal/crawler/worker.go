// Package crawler implements the worker described in spec §4.4: it pulls
// batches of URLs from the prefetcher, fetches each through the SOCKS5
// proxy client, extracts links, and persists the result transactionally.
package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/onionrecon/core/internal/bypass"
	"github.com/onionrecon/core/internal/linkextract"
	"github.com/onionrecon/core/internal/metrics"
	"github.com/onionrecon/core/internal/queue"
	"github.com/onionrecon/core/internal/socksproxy"
	"github.com/onionrecon/core/internal/storage"
	"github.com/onionrecon/core/internal/writebuffer"
)

const (
	defaultBatchSize  = 3
	defaultCrawlDelay = 2 * time.Second
	htmlStoreCap      = 100 * 1024

	elementLinkPriority    = 100
	errorPageLinkPriority  = 150
	textOnlyDomainPriority = 50
	scanQueueSeedPriority  = 100
)

// isConnectionFailure reports whether errMsg matches the connection-failure
// pattern set (P4's trigger condition), shared with the dir-scan worker's
// unreachable-abort check.
func isConnectionFailure(errMsg string) bool {
	return socksproxy.IsConnectionFailure(errMsg)
}

// Config tunes a Worker.
type Config struct {
	WorkerID   string
	BatchSize  int
	CrawlDelay time.Duration
	// RespectRobots gates robots.txt enforcement. Off by default: most
	// hidden services never publish a robots.txt, and the ones that do
	// rarely intend it for an index of onion addresses.
	RespectRobots bool
	UserAgent     string
}

// proxyGetter is the slice of socksproxy.Client a Worker depends on. Kept as
// an interface so tests can exercise the persistence and queueing logic
// without a live SOCKS5 endpoint.
type proxyGetter interface {
	Get(ctx context.Context, url string, headers map[string]string) (*socksproxy.Result, error)
}

// Worker is one crawler worker instance: one proxy client, one prefetcher
// handle, one write buffer handle, looping until Stop is called.
type Worker struct {
	gw     storage.Gateway
	pre    *queue.Prefetcher
	wb     *writebuffer.Buffer
	proxy  proxyGetter
	cfg    Config
	logger *slog.Logger
	robots *RobotsAuditor

	stop chan struct{}
}

// New builds a Worker. The prefetcher and write buffer are shared across
// workers in a process; the proxy client is per-worker (spec §5).
func New(gw storage.Gateway, pre *queue.Prefetcher, wb *writebuffer.Buffer, proxy proxyGetter, cfg Config, logger *slog.Logger) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.CrawlDelay <= 0 {
		cfg.CrawlDelay = defaultCrawlDelay
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "*"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		gw:     gw,
		pre:    pre,
		wb:     wb,
		proxy:  proxy,
		cfg:    cfg,
		logger: logger,
		robots: NewRobotsAuditor(proxy, logger),
		stop:   make(chan struct{}),
	}
}

// Run loops batch-fetch → process → sleep until ctx is cancelled or Stop is
// called. A stop lets the current batch finish before exiting (spec §5's
// suspension-point rule).
func (w *Worker) Run(ctx context.Context) {
	delay := w.cfg.CrawlDelay
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		default:
		}

		batch := w.pre.Take(ctx, w.cfg.BatchSize)
		if len(batch) == 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			case <-w.stop:
				return
			}
			continue
		}

		if err := w.processBatch(ctx, batch); err != nil {
			w.logger.Error("crawler: batch processing error, backing off", "err", err, "worker_id", w.cfg.WorkerID)
			delay = 2 * w.cfg.CrawlDelay
		} else {
			delay = w.cfg.CrawlDelay
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		}
	}
}

// Stop halts the worker loop after its current batch finishes.
func (w *Worker) Stop() {
	close(w.stop)
}

func (w *Worker) processBatch(ctx context.Context, batch []storage.CrawlQueueEntry) error {
	for i, entry := range batch {
		w.processOne(ctx, entry)

		if i < len(batch)-1 {
			jitter := 500*time.Millisecond + time.Duration(rand.Int63n(int64(1000*time.Millisecond)))
			select {
			case <-time.After(jitter):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

func (w *Worker) processOne(ctx context.Context, entry storage.CrawlQueueEntry) {
	domain := entry.Domain

	acquired, err := w.gw.AcquireDomainLock(ctx, storage.SubsystemCrawl, domain, w.cfg.WorkerID)
	if err != nil {
		w.logger.Error("crawler: acquire lock failed", "domain", domain, "err", err)
		return
	}
	if !acquired {
		w.logger.Debug("crawler: lock contention, returning url to pending", "domain", domain, "url", entry.URL)
		metrics.DomainLockContentionTotal.WithLabelValues(string(storage.SubsystemCrawl)).Inc()
		_ = w.gw.MarkURLCompleted(ctx, entry.URL, false, "lock contention")
		return
	}
	defer func() {
		if err := w.gw.ReleaseDomainLock(ctx, storage.SubsystemCrawl, domain, w.cfg.WorkerID); err != nil {
			w.logger.Error("crawler: release lock failed", "domain", domain, "err", err)
		}
		if err := w.gw.UpdateDomainStatus(ctx, domain, storage.CrawlCompleted, w.cfg.WorkerID); err != nil {
			w.logger.Error("crawler: update domain status failed", "domain", domain, "err", err)
		}
	}()

	if err := w.gw.UpdateDomainStatus(ctx, domain, storage.CrawlCrawling, w.cfg.WorkerID); err != nil {
		w.logger.Error("crawler: update domain status failed", "domain", domain, "err", err)
	}

	if w.cfg.RespectRobots && !w.robots.IsAllowed(ctx, entry.URL, w.cfg.UserAgent) {
		w.logger.Debug("crawler: url disallowed by robots.txt", "url", entry.URL)
		_ = w.gw.MarkURLCompleted(ctx, entry.URL, false, "disallowed by robots.txt")
		return
	}

	res, err := w.proxy.Get(ctx, entry.URL, nil)
	if err != nil {
		w.logger.Error("crawler: request construction failed", "url", entry.URL, "err", err)
		_ = w.gw.MarkURLCompleted(ctx, entry.URL, false, err.Error())
		return
	}

	if !res.Success {
		outcome := "http_error"
		if isConnectionFailure(res.Error) {
			outcome = "connection_failure"
		}
		metrics.CrawlAttemptsTotal.WithLabelValues(domain, outcome).Inc()
		w.handleFetchFailure(ctx, entry, res.Error)
		return
	}

	metrics.CrawlAttemptsTotal.WithLabelValues(domain, "success").Inc()
	metrics.CrawlDuration.WithLabelValues(domain).Observe(res.Duration.Seconds())
	metrics.CrawlBytesTotal.WithLabelValues(domain).Add(float64(len(res.Body)))

	w.persist(ctx, entry, res)
}

func (w *Worker) handleFetchFailure(ctx context.Context, entry storage.CrawlQueueEntry, errMsg string) {
	if isConnectionFailure(errMsg) {
		failed, err := w.gw.MarkDomainConnectionFailed(ctx, entry.Domain, errMsg)
		if err != nil {
			w.logger.Error("crawler: mark domain connection failed error", "domain", entry.Domain, "err", err)
		}
		w.wb.BufferCrawlLog(ctx, storage.CrawlLog{
			URL: entry.URL, Domain: entry.Domain, Success: false,
			Error: errMsg, WorkerID: w.cfg.WorkerID, CreatedAt: time.Now().UTC(),
		})
		w.logger.Warn("crawler: connection failure cascaded", "domain", entry.Domain, "urls_failed", failed, "err", errMsg)
		return
	}
	if err := w.gw.MarkURLCompleted(ctx, entry.URL, false, errMsg); err != nil {
		w.logger.Error("crawler: mark url completed (failure) error", "url", entry.URL, "err", err)
	}
	w.wb.BufferCrawlLog(ctx, storage.CrawlLog{
		URL: entry.URL, Domain: entry.Domain, Success: false,
		Error: errMsg, WorkerID: w.cfg.WorkerID, CreatedAt: time.Now().UTC(),
	})
}

func (w *Worker) persist(ctx context.Context, entry storage.CrawlQueueEntry, res *socksproxy.Result) {
	isErrorPage := res.StatusCode >= 400
	contentType := res.Headers.Get("Content-Type")
	isHTML := strings.Contains(strings.ToLower(contentType), "text/html")

	var page linkextract.Page
	if isHTML {
		page = linkextract.Extract(entry.URL, res.Body)
	}
	title := page.Title
	if isErrorPage {
		title = fmt.Sprintf("[%d] %s", res.StatusCode, title)
	}

	accessible := !isErrorPage
	if blocked, _ := bypass.Analyze(bypass.Response{StatusCode: res.StatusCode, Headers: res.Headers, Body: res.Body}, bypass.DefaultDetectors()); blocked {
		accessible = false
	}

	htmlOut := ""
	if isHTML && len(res.Body) < htmlStoreCap {
		htmlOut = string(res.Body)
	}

	var scanSeeds []string
	var dirScanSeeds []string
	var firstCrawl bool

	err := w.gw.Transaction(ctx, func(ctx context.Context, tx storage.Gateway) error {
		domainRes, err := tx.UpsertDomain(ctx, storage.DomainUpsert{Address: entry.Domain, Title: titlePtr(title)})
		if err != nil {
			return fmt.Errorf("crawler: upsert domain: %w", err)
		}
		firstCrawl = domainRes.CrawlCount == 1

		pageID, err := tx.UpsertPage(ctx, storage.PageUpsert{
			DomainID:        domainRes.ID,
			URL:             entry.URL,
			Path:            pathOf(entry.URL),
			Title:           title,
			ContentText:     page.ContentText,
			ContentHTML:     htmlOut,
			StatusCode:      res.StatusCode,
			ContentLength:   int64(len(res.Body)),
			ContentType:     contentType,
			Language:        page.Language,
			MetaDescription: page.MetaDescription,
			H1:              page.H1,
			Accessible:      accessible,
		})
		if err != nil {
			return fmt.Errorf("crawler: upsert page: %w", err)
		}

		if isHTML {
			links := make([]storage.Link, 0, len(page.Links))
			var elementPriority = elementLinkPriority
			if isErrorPage {
				elementPriority = errorPageLinkPriority
			}
			newURLsByDomain := make(map[string][]string)
			for _, l := range page.Links {
				onionDomain := linkextract.OnionDomain(l.URL)
				var targetDomainID int64
				linkType := linkextract.Classify(entry.Domain, l.URL)
				links = append(links, storage.Link{
					SourcePageID: pageID,
					TargetURL:    l.URL,
					TargetDomainID: targetDomainID,
					AnchorText:   l.AnchorText,
					Type:         linkType,
					Source:       storage.LinkSourceElement,
					Position:     l.Position,
				})
				if onionDomain != "" {
					newURLsByDomain[onionDomain] = append(newURLsByDomain[onionDomain], l.URL)
					scanSeeds = append(scanSeeds, onionDomain)
					dirScanSeeds = append(dirScanSeeds, onionDomain)
				}
			}
			if err := tx.InsertLinks(ctx, pageID, links); err != nil {
				return fmt.Errorf("crawler: insert links: %w", err)
			}
			for domain, urls := range newURLsByDomain {
				if err := tx.AddToCrawlQueue(ctx, urls, domain, elementPriority); err != nil {
					return fmt.Errorf("crawler: seed element links: %w", err)
				}
			}

			for _, d := range page.TextOnionDomains {
				scanSeeds = append(scanSeeds, d)
				dirScanSeeds = append(dirScanSeeds, d)
				if err := tx.AddToCrawlQueue(ctx, []string{"http://" + d + "/"}, d, textOnlyDomainPriority); err != nil {
					return fmt.Errorf("crawler: seed text-discovered domains: %w", err)
				}
			}
		}

		headers := make([]storage.Header, 0, len(res.Headers))
		for name, values := range res.Headers {
			for _, v := range values {
				headers = append(headers, storage.Header{PageID: pageID, Name: name, Value: v})
			}
		}
		if err := tx.InsertHeaders(ctx, pageID, headers); err != nil {
			return fmt.Errorf("crawler: insert headers: %w", err)
		}

		return nil
	})

	if err != nil {
		w.logger.Error("crawler: transaction failed, sleeping before continuing", "url", entry.URL, "err", err)
		w.wb.BufferCrawlLog(ctx, storage.CrawlLog{
			URL: entry.URL, Domain: entry.Domain, Success: false,
			Error: err.Error(), WorkerID: w.cfg.WorkerID, CreatedAt: time.Now().UTC(),
		})
		time.Sleep(2 * w.cfg.CrawlDelay)
		return
	}

	for _, d := range dedupStrings(scanSeeds) {
		w.wb.BufferScanSeed(ctx, storage.ScanQueueEntry{Domain: d, Profile: storage.ProfileStandard, Priority: scanQueueSeedPriority})
	}
	for _, d := range dedupStrings(dirScanSeeds) {
		w.wb.BufferDirScanSeed(ctx, storage.DirScanQueueEntry{Domain: d, Profile: storage.ProfileStandard, Priority: scanQueueSeedPriority})
	}

	if firstCrawl {
		w.seedFromSitemap(ctx, entry.Domain)
	}

	if err := w.gw.MarkURLCompleted(ctx, entry.URL, true, ""); err != nil {
		w.logger.Error("crawler: mark url completed error", "url", entry.URL, "err", err)
	}
	w.wb.BufferCrawlLog(ctx, storage.CrawlLog{
		URL: entry.URL, Domain: entry.Domain, Success: true,
		WorkerID: w.cfg.WorkerID, CreatedAt: time.Now().UTC(),
	})
}

func titlePtr(s string) *string {
	return &s
}

func pathOf(rawURL string) string {
	const schemeSep = "://"
	idx := strings.Index(rawURL, schemeSep)
	if idx < 0 {
		return "/"
	}
	rest := rawURL[idx+len(schemeSep):]
	slash := strings.IndexByte(rest, '/')
	if slash < 0 {
		return "/"
	}
	return rest[slash:]
}

func dedupStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
