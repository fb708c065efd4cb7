//go:build integration

// Package test exercises the crawl pipeline end to end against a real
// SQLite-backed storage.Gateway: queue seeding, fetch, persistence, link
// discovery, and the write buffer's crawl_log flush. The anonymizing proxy
// itself is out of scope (per the package's design), so the proxy layer is
// a direct fake pointed at an httptest server rather than a live Tor
// circuit.
package test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/onionrecon/core/internal/crawler"
	"github.com/onionrecon/core/internal/queue"
	"github.com/onionrecon/core/internal/socksproxy"
	"github.com/onionrecon/core/internal/storage/sqlite"
	"github.com/onionrecon/core/internal/writebuffer"
)

// directProxy satisfies the crawler's proxyGetter by issuing a plain HTTP
// GET against an httptest server, standing in for a socksproxy.Client
// without a live SOCKS5 endpoint.
type directProxy struct {
	client *http.Client
}

func (p *directProxy) Get(ctx context.Context, url string, headers map[string]string) (*socksproxy.Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return &socksproxy.Result{Success: false, Error: err.Error()}, nil
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &socksproxy.Result{Success: false, Error: err.Error()}, nil
	}
	return &socksproxy.Result{
		Success:    true,
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       body,
	}, nil
}

func newTestGateway(t *testing.T) *sqlite.Gateway {
	t.Helper()
	gw, err := sqlite.New("file::memory:?cache=shared", 1)
	if err != nil {
		t.Fatalf("open sqlite gateway: %v", err)
	}
	t.Cleanup(func() { gw.Close() })
	return gw
}

// TestIntegration_CrawlPersistsPagesAndQueuesLinks seeds one crawl_queue
// entry, runs a real crawler.Worker against an httptest target through the
// actual queue.Prefetcher and writebuffer.Buffer, and asserts the resulting
// domain/page/link rows and crawl_log entry land in storage.
func TestIntegration_CrawlPersistsPagesAndQueuesLinks(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><title>Root</title></head><body>
			<a href="/page1">Page 1</a>
			mentions abcdefghijklmnopqrstuvwxyzabcdefghijklmnopqrstuvwxy2.onion in text
		</body></html>`)
	})
	mux.HandleFunc("/page1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><title>Page 1</title></head><body>no links here</body></html>`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	gw := newTestGateway(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quietLogger := slog.New(slog.NewTextHandler(io.Discard, nil))

	domain := "integration-test.onion"
	if err := gw.AddToCrawlQueue(ctx, []string{server.URL + "/"}, domain, 100); err != nil {
		t.Fatalf("seed crawl queue: %v", err)
	}

	pre := queue.New(gw, queue.Config{WorkerID: "it-1", BatchSize: 10, LowWater: 1, RefillPeriod: 10 * time.Millisecond}, quietLogger)
	go pre.Run(ctx)
	defer pre.Stop()

	wb := writebuffer.New(gw, writebuffer.Config{FlushPeriod: 10 * time.Millisecond, MaxBuffer: 1000}, quietLogger)
	go wb.Run(ctx)
	defer wb.Stop()

	proxy := &directProxy{client: server.Client()}
	w := crawler.New(gw, pre, wb, proxy, crawler.Config{WorkerID: "it-1", BatchSize: 10, CrawlDelay: 10 * time.Millisecond}, quietLogger)
	go w.Run(ctx)
	defer w.Stop()

	deadline := time.Now().Add(5 * time.Second)
	var page1Seeded bool
	for time.Now().Before(deadline) {
		logs, err := gw.RecentCrawlLogs(ctx, 10)
		if err != nil {
			t.Fatalf("recent crawl logs: %v", err)
		}
		for _, l := range logs {
			if l.URL == server.URL+"/page1" {
				page1Seeded = true
			}
		}
		if page1Seeded {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !page1Seeded {
		t.Fatal("expected /page1 to be crawled (discovered via the root page's anchor link)")
	}

	domRow, err := gw.GetDomain(ctx, domain)
	if err != nil {
		t.Fatalf("get domain: %v", err)
	}
	if domRow == nil {
		t.Fatal("expected domain row to exist after crawl")
	}
	if domRow.CrawlCount < 1 {
		t.Fatalf("expected crawl_count >= 1, got %d", domRow.CrawlCount)
	}

	pages, err := gw.ListPagesByDomain(ctx, domRow.ID, 10, 0)
	if err != nil {
		t.Fatalf("list pages: %v", err)
	}
	if len(pages) != 2 {
		t.Fatalf("expected 2 pages persisted (root, page1), got %d", len(pages))
	}

	var rootPageID int64
	for _, p := range pages {
		if p.Title == "Root" {
			rootPageID = p.ID
		}
	}
	if rootPageID == 0 {
		t.Fatal("expected to find the root page among persisted pages")
	}

	links, err := gw.ListLinksFrom(ctx, rootPageID, 10, 0)
	if err != nil {
		t.Fatalf("list links: %v", err)
	}
	if len(links) != 1 {
		t.Fatalf("expected 1 element link from the root page, got %d", len(links))
	}
}
