// Package queue implements the in-memory pull-ahead buffer that sits
// between crawler workers and the storage gateway's getNextUrls call, so a
// stampede of idle workers doesn't turn into a stampede of SELECT FOR
// UPDATE SKIP LOCKED round trips.
package queue

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/onionrecon/core/internal/metrics"
	"github.com/onionrecon/core/internal/storage"
)

const (
	defaultBatchSize   = 50
	defaultLowWater    = 10
	defaultRefillPeriod = 5 * time.Second
)

// Config tunes the prefetcher. Zero values fall back to the spec defaults.
type Config struct {
	BatchSize    int
	LowWater     int
	RefillPeriod time.Duration
	WorkerID     string
}

// Prefetcher holds a buffer of crawl_queue entries already marked
// processing in the store, so Take never blocks on a database round trip
// except when the buffer is empty.
type Prefetcher struct {
	gw     storage.Gateway
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	buf     []storage.CrawlQueueEntry
	filling atomic.Bool

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New creates a Prefetcher. Call Run in a goroutine to start the periodic
// refill loop; Take works even before Run starts, triggering refills itself.
func New(gw storage.Gateway, cfg Config, logger *slog.Logger) *Prefetcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.LowWater <= 0 {
		cfg.LowWater = defaultLowWater
	}
	if cfg.RefillPeriod <= 0 {
		cfg.RefillPeriod = defaultRefillPeriod
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Prefetcher{
		gw:     gw,
		cfg:    cfg,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Run drives the periodic refill. It returns when ctx is cancelled or Stop
// is called.
func (p *Prefetcher) Run(ctx context.Context) {
	defer close(p.doneCh)
	ticker := time.NewTicker(p.cfg.RefillPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.maybeRefill(ctx)
		}
	}
}

// Stop halts the periodic refill loop started by Run.
func (p *Prefetcher) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	<-p.doneCh
}

// Take returns up to n queue entries already marked processing. It may
// trigger a refill if the buffer drops below the low-water mark, but never
// blocks on that refill — callers see only what is already buffered.
func (p *Prefetcher) Take(ctx context.Context, n int) []storage.CrawlQueueEntry {
	p.mu.Lock()
	if n > len(p.buf) {
		n = len(p.buf)
	}
	out := append([]storage.CrawlQueueEntry(nil), p.buf[:n]...)
	p.buf = p.buf[n:]
	low := len(p.buf) < p.cfg.LowWater
	depth := len(p.buf)
	p.mu.Unlock()

	metrics.PrefetchBufferDepth.WithLabelValues(p.cfg.WorkerID).Set(float64(depth))

	if low {
		p.maybeRefill(ctx)
	}
	return out
}

// maybeRefill issues a single getNextUrls call if one is not already in
// flight, satisfying the prefetcher's at-most-one-refill guarantee.
func (p *Prefetcher) maybeRefill(ctx context.Context) {
	if !p.filling.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer p.filling.Store(false)

		entries, err := p.gw.GetNextURLs(ctx, p.cfg.WorkerID, p.cfg.BatchSize)
		if err != nil {
			p.logger.Error("prefetcher refill failed", "err", err)
			return
		}
		if len(entries) == 0 {
			return
		}

		p.mu.Lock()
		p.buf = append(p.buf, entries...)
		depth := len(p.buf)
		p.mu.Unlock()

		metrics.PrefetchBufferDepth.WithLabelValues(p.cfg.WorkerID).Set(float64(depth))
	}()
}

// Len reports the current buffer depth.
func (p *Prefetcher) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buf)
}
