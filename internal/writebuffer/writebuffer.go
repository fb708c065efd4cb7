// Package writebuffer coalesces two append-heavy streams — crawl attempt
// logs and scan-queue seed domains — into periodic bulk inserts, so a busy
// crawler pool doesn't issue one INSERT per page per stream.
package writebuffer

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/onionrecon/core/internal/storage"
)

const (
	defaultFlushPeriod = 2 * time.Second
	defaultMaxBuffer    = 50
)

// Config tunes the write buffer. Zero values fall back to spec defaults.
type Config struct {
	FlushPeriod time.Duration
	MaxBuffer   int
}

// Buffer is the write buffer described in spec §4.3: two independent
// streams, each flushed on a timer or when full, with at most one flush of
// each stream in flight at a time.
type Buffer struct {
	gw     storage.Gateway
	cfg    Config
	logger *slog.Logger

	logsMu sync.Mutex
	logs   []storage.CrawlLog
	logsFlushing atomic.Bool

	scanMu   sync.Mutex
	scanSeeds map[string]storage.ScanQueueEntry
	dirScanSeeds map[string]storage.DirScanQueueEntry
	scanFlushing atomic.Bool

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New creates a Buffer. Call Run in a goroutine to drive the flush timer.
func New(gw storage.Gateway, cfg Config, logger *slog.Logger) *Buffer {
	if cfg.FlushPeriod <= 0 {
		cfg.FlushPeriod = defaultFlushPeriod
	}
	if cfg.MaxBuffer <= 0 {
		cfg.MaxBuffer = defaultMaxBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Buffer{
		gw:           gw,
		cfg:          cfg,
		logger:       logger,
		scanSeeds:    make(map[string]storage.ScanQueueEntry),
		dirScanSeeds: make(map[string]storage.DirScanQueueEntry),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// Run drives the periodic flush until ctx is cancelled or Stop is called.
func (b *Buffer) Run(ctx context.Context) {
	defer close(b.doneCh)
	ticker := time.NewTicker(b.cfg.FlushPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.flushAll(context.Background())
			return
		case <-b.stopCh:
			b.flushAll(context.Background())
			return
		case <-ticker.C:
			b.flushAll(ctx)
		}
	}
}

// Stop halts the flush loop and awaits one final flush (P5: no entry is
// dropped just because the process is shutting down).
func (b *Buffer) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
	<-b.doneCh
}

// BufferCrawlLog enqueues one crawl attempt record.
func (b *Buffer) BufferCrawlLog(ctx context.Context, l storage.CrawlLog) {
	b.logsMu.Lock()
	b.logs = append(b.logs, l)
	full := len(b.logs) >= b.cfg.MaxBuffer
	b.logsMu.Unlock()

	if full {
		b.flushLogs(ctx)
	}
}

// BufferScanSeed enqueues a domain for port scanning, deduplicating by
// domain and keeping the lowest (= highest priority) value seen (P6).
func (b *Buffer) BufferScanSeed(ctx context.Context, e storage.ScanQueueEntry) {
	b.scanMu.Lock()
	if existing, ok := b.scanSeeds[e.Domain]; !ok || e.Priority < existing.Priority {
		b.scanSeeds[e.Domain] = e
	}
	full := len(b.scanSeeds)+len(b.dirScanSeeds) >= b.cfg.MaxBuffer
	b.scanMu.Unlock()

	if full {
		b.flushScans(ctx)
	}
}

// BufferDirScanSeed enqueues a domain for directory scanning, with the same
// lowest-priority dedup rule as BufferScanSeed.
func (b *Buffer) BufferDirScanSeed(ctx context.Context, e storage.DirScanQueueEntry) {
	b.scanMu.Lock()
	if existing, ok := b.dirScanSeeds[e.Domain]; !ok || e.Priority < existing.Priority {
		b.dirScanSeeds[e.Domain] = e
	}
	full := len(b.scanSeeds)+len(b.dirScanSeeds) >= b.cfg.MaxBuffer
	b.scanMu.Unlock()

	if full {
		b.flushScans(ctx)
	}
}

func (b *Buffer) flushAll(ctx context.Context) {
	b.flushLogs(ctx)
	b.flushScans(ctx)
}

// flushLogs sends the buffered crawl logs in one batch. On failure the
// original entries are re-prepended ahead of anything buffered meanwhile,
// so no entry is lost and ordering is preserved (P5).
func (b *Buffer) flushLogs(ctx context.Context) {
	if !b.logsFlushing.CompareAndSwap(false, true) {
		return
	}
	defer b.logsFlushing.Store(false)

	b.logsMu.Lock()
	if len(b.logs) == 0 {
		b.logsMu.Unlock()
		return
	}
	batch := b.logs
	b.logs = nil
	b.logsMu.Unlock()

	if err := b.gw.LogCrawl(ctx, batch); err != nil {
		b.logger.Error("write buffer: crawl log flush failed, re-queuing", "count", len(batch), "err", err)
		b.logsMu.Lock()
		b.logs = append(append([]storage.CrawlLog(nil), batch...), b.logs...)
		b.logsMu.Unlock()
	}
}

// flushScans sends the buffered scan-queue and dir-scan-queue seeds. On
// failure the seeds are merged back in, still honoring the lowest-priority
// dedup rule, so a failed flush loses nothing.
func (b *Buffer) flushScans(ctx context.Context) {
	if !b.scanFlushing.CompareAndSwap(false, true) {
		return
	}
	defer b.scanFlushing.Store(false)

	b.scanMu.Lock()
	if len(b.scanSeeds) == 0 && len(b.dirScanSeeds) == 0 {
		b.scanMu.Unlock()
		return
	}
	scanBatch := make([]storage.ScanQueueEntry, 0, len(b.scanSeeds))
	for _, e := range b.scanSeeds {
		scanBatch = append(scanBatch, e)
	}
	dirBatch := make([]storage.DirScanQueueEntry, 0, len(b.dirScanSeeds))
	for _, e := range b.dirScanSeeds {
		dirBatch = append(dirBatch, e)
	}
	b.scanSeeds = make(map[string]storage.ScanQueueEntry)
	b.dirScanSeeds = make(map[string]storage.DirScanQueueEntry)
	b.scanMu.Unlock()

	var failed bool
	if len(scanBatch) > 0 {
		if err := b.gw.AddToScanQueue(ctx, scanBatch); err != nil {
			b.logger.Error("write buffer: scan queue flush failed, re-queuing", "count", len(scanBatch), "err", err)
			failed = true
		}
	}
	if len(dirBatch) > 0 {
		if err := b.gw.AddToDirScanQueue(ctx, dirBatch); err != nil {
			b.logger.Error("write buffer: dir scan queue flush failed, re-queuing", "count", len(dirBatch), "err", err)
			failed = true
		}
	}
	if !failed {
		return
	}

	b.scanMu.Lock()
	for _, e := range scanBatch {
		if existing, ok := b.scanSeeds[e.Domain]; !ok || e.Priority < existing.Priority {
			b.scanSeeds[e.Domain] = e
		}
	}
	for _, e := range dirBatch {
		if existing, ok := b.dirScanSeeds[e.Domain]; !ok || e.Priority < existing.Priority {
			b.dirScanSeeds[e.Domain] = e
		}
	}
	b.scanMu.Unlock()
}
