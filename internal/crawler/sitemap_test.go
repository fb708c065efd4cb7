package crawler

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/onionrecon/core/internal/queue"
	"github.com/onionrecon/core/internal/socksproxy"
	"github.com/onionrecon/core/internal/storage"
	"github.com/onionrecon/core/internal/writebuffer"
)

// routingProxy returns a canned Result keyed by URL suffix, letting a test
// fetch a page and its robots.txt/sitemap.xml with distinct bodies.
type routingProxy struct {
	byPath map[string]*socksproxy.Result
}

func (p *routingProxy) Get(ctx context.Context, url string, headers map[string]string) (*socksproxy.Result, error) {
	for suffix, res := range p.byPath {
		if len(url) >= len(suffix) && url[len(url)-len(suffix):] == suffix {
			return res, nil
		}
	}
	return &socksproxy.Result{Success: false, Error: "not found"}, nil
}

func newSitemapWorker(gw storage.Gateway, proxy proxyGetter, respectRobots bool) *Worker {
	pre := queue.New(gw, queue.Config{RefillPeriod: time.Hour}, nil)
	wb := writebuffer.New(gw, writebuffer.Config{FlushPeriod: time.Hour, MaxBuffer: 1000}, nil)
	return New(gw, pre, wb, proxy, Config{WorkerID: "w1", RespectRobots: respectRobots}, nil)
}

const sampleSitemap = `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>http://abc.onion/forum</loc></url>
  <url><loc>http://abc.onion/market</loc></url>
</urlset>`

func TestProcessOneFirstCrawlSeedsFromSitemap(t *testing.T) {
	gw := newFakeGateway()
	page := []byte(`<html><head><title>Hi</title></head><body>no links here</body></html>`)
	proxy := &routingProxy{byPath: map[string]*socksproxy.Result{
		"abc.onion/": {Success: true, StatusCode: 200, Headers: http.Header{"Content-Type": {"text/html"}}, Body: page},
		"sitemap.xml": {Success: true, StatusCode: 200, Body: []byte(sampleSitemap)},
	}}
	w := newSitemapWorker(gw, proxy, false)

	entry := storage.CrawlQueueEntry{URL: "http://abc.onion/", Domain: "abc.onion"}
	w.processOne(context.Background(), entry)

	if len(gw.queuedURLs) != 1 {
		t.Fatalf("expected exactly 1 seed call from the sitemap, got %d: %+v", len(gw.queuedURLs), gw.queuedURLs)
	}
	seeded := gw.queuedURLs[0]
	if len(seeded.urls) != 2 {
		t.Fatalf("expected 2 urls seeded from sitemap, got %d", len(seeded.urls))
	}
}

func TestProcessOneSecondCrawlDoesNotReseedSitemap(t *testing.T) {
	gw := newFakeGateway()
	gw.crawlCounts["abc.onion"] = 1 // already crawled once before this call
	page := []byte(`<html><head><title>Hi</title></head><body>no links here</body></html>`)
	proxy := &routingProxy{byPath: map[string]*socksproxy.Result{
		"abc.onion/":  {Success: true, StatusCode: 200, Headers: http.Header{"Content-Type": {"text/html"}}, Body: page},
		"sitemap.xml": {Success: true, StatusCode: 200, Body: []byte(sampleSitemap)},
	}}
	w := newSitemapWorker(gw, proxy, false)

	entry := storage.CrawlQueueEntry{URL: "http://abc.onion/", Domain: "abc.onion"}
	w.processOne(context.Background(), entry)

	if len(gw.queuedURLs) != 0 {
		t.Fatalf("expected no sitemap reseed on a domain's second crawl, got %+v", gw.queuedURLs)
	}
}

func TestProcessOneRobotsDisallowedSkipsFetch(t *testing.T) {
	gw := newFakeGateway()
	robotsTxt := []byte("User-agent: *\nDisallow: /private\n")
	proxy := &routingProxy{byPath: map[string]*socksproxy.Result{
		"robots.txt": {Success: true, StatusCode: 200, Body: robotsTxt},
	}}
	w := newSitemapWorker(gw, proxy, true)

	entry := storage.CrawlQueueEntry{URL: "http://abc.onion/private/page", Domain: "abc.onion"}
	w.processOne(context.Background(), entry)

	if success, ok := gw.completedURLs[entry.URL]; !ok || success {
		t.Fatalf("expected url marked completed(false) when disallowed by robots.txt, got ok=%v success=%v", ok, success)
	}
}

func TestProcessOneRobotsAllowedFetchesNormally(t *testing.T) {
	gw := newFakeGateway()
	robotsTxt := []byte("User-agent: *\nDisallow: /private\n")
	page := []byte(`<html><head><title>Hi</title></head><body>ok</body></html>`)
	proxy := &routingProxy{byPath: map[string]*socksproxy.Result{
		"robots.txt":   {Success: true, StatusCode: 200, Body: robotsTxt},
		"abc.onion/": {Success: true, StatusCode: 200, Headers: http.Header{"Content-Type": {"text/html"}}, Body: page},
	}}
	w := newSitemapWorker(gw, proxy, true)

	entry := storage.CrawlQueueEntry{URL: "http://abc.onion/", Domain: "abc.onion"}
	w.processOne(context.Background(), entry)

	if success, ok := gw.completedURLs[entry.URL]; !ok || !success {
		t.Fatalf("expected url marked completed(true) when allowed, got ok=%v success=%v", ok, success)
	}
}
