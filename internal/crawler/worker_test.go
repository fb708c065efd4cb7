package crawler

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/onionrecon/core/internal/queue"
	"github.com/onionrecon/core/internal/socksproxy"
	"github.com/onionrecon/core/internal/storage"
	"github.com/onionrecon/core/internal/writebuffer"
)

// fakeGateway is an in-memory storage.Gateway test double covering exactly
// the methods the crawler worker calls.
type fakeGateway struct {
	storage.Gateway

	mu sync.Mutex

	locksHeld      map[string]bool
	domainStatuses map[string]storage.CrawlStatus
	completedURLs  map[string]bool
	failedDomains  map[string]int
	crawlCounts    map[string]int
	links          []storage.Link
	headers        []storage.Header
	queuedURLs     []struct {
		urls     []string
		domain   string
		priority int
	}
	denyLock bool
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		locksHeld:      make(map[string]bool),
		domainStatuses: make(map[string]storage.CrawlStatus),
		completedURLs:  make(map[string]bool),
		failedDomains:  make(map[string]int),
		crawlCounts:    make(map[string]int),
	}
}

func (f *fakeGateway) AcquireDomainLock(ctx context.Context, subsys storage.Subsystem, domain, workerID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.denyLock {
		return false, nil
	}
	f.locksHeld[domain] = true
	return true, nil
}

func (f *fakeGateway) ReleaseDomainLock(ctx context.Context, subsys storage.Subsystem, domain, workerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.locksHeld, domain)
	return nil
}

func (f *fakeGateway) ExtendDomainLock(ctx context.Context, subsys storage.Subsystem, domain, workerID string) error {
	return nil
}

func (f *fakeGateway) UpdateDomainStatus(ctx context.Context, domain string, status storage.CrawlStatus, workerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.domainStatuses[domain] = status
	return nil
}

func (f *fakeGateway) Transaction(ctx context.Context, body func(ctx context.Context, tx storage.Gateway) error) error {
	return body(ctx, f)
}

func (f *fakeGateway) UpsertDomain(ctx context.Context, u storage.DomainUpsert) (storage.DomainUpsertResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.crawlCounts[u.Address]++
	return storage.DomainUpsertResult{ID: 1, Address: u.Address, CrawlCount: f.crawlCounts[u.Address]}, nil
}

func (f *fakeGateway) UpsertPage(ctx context.Context, p storage.PageUpsert) (int64, error) {
	return 1, nil
}

func (f *fakeGateway) InsertLinks(ctx context.Context, pageID int64, links []storage.Link) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.links = append(f.links, links...)
	return nil
}

func (f *fakeGateway) InsertHeaders(ctx context.Context, pageID int64, headers []storage.Header) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.headers = append(f.headers, headers...)
	return nil
}

func (f *fakeGateway) AddToCrawlQueue(ctx context.Context, urls []string, domain string, priority int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queuedURLs = append(f.queuedURLs, struct {
		urls     []string
		domain   string
		priority int
	}{urls, domain, priority})
	return nil
}

func (f *fakeGateway) MarkURLCompleted(ctx context.Context, url string, success bool, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completedURLs[url] = success
	return nil
}

func (f *fakeGateway) MarkDomainConnectionFailed(ctx context.Context, domain string, errMsg string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failedDomains[domain]++
	return 3, nil
}

// fakeProxy returns a canned Result for every Get call.
type fakeProxy struct {
	result *socksproxy.Result
	err    error
}

func (p *fakeProxy) Get(ctx context.Context, url string, headers map[string]string) (*socksproxy.Result, error) {
	return p.result, p.err
}

func newWorker(gw storage.Gateway, proxy proxyGetter) *Worker {
	pre := queue.New(gw, queue.Config{RefillPeriod: time.Hour}, nil)
	wb := writebuffer.New(gw, writebuffer.Config{FlushPeriod: time.Hour, MaxBuffer: 1000}, nil)
	return New(gw, pre, wb, proxy, Config{WorkerID: "w1"}, nil)
}

func TestProcessOneSuccessPersistsAndQueuesLinks(t *testing.T) {
	gw := newFakeGateway()
	body := []byte(`<html><head><title>Hi</title></head><body>
		<a href="/page2">Page 2</a>
		<a href="http://bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb.onion/">External</a>
		abcdefghijklmnopqrstuvwxyzabcdefghijklmnopqrstuvwxyz2345.onion mentioned here
	</body></html>`)
	proxy := &fakeProxy{result: &socksproxy.Result{
		Success:    true,
		StatusCode: 200,
		Headers:    http.Header{"Content-Type": {"text/html"}},
		Body:       body,
	}}
	w := newWorker(gw, proxy)

	entry := storage.CrawlQueueEntry{URL: "http://abc.onion/", Domain: "abc.onion"}
	w.processOne(context.Background(), entry)

	if !gw.completedURLs["http://abc.onion/"] {
		t.Fatal("expected url marked completed successfully")
	}
	if gw.domainStatuses["abc.onion"] != storage.CrawlCompleted {
		t.Fatalf("expected domain status completed, got %v", gw.domainStatuses["abc.onion"])
	}
	if gw.locksHeld["abc.onion"] {
		t.Fatal("expected lock released after processing")
	}
	if len(gw.links) != 2 {
		t.Fatalf("expected 2 element links inserted, got %d", len(gw.links))
	}
	if len(gw.queuedURLs) != 3 {
		t.Fatalf("expected 3 queue seed calls (same-domain link, external-domain link, text domain), got %d", len(gw.queuedURLs))
	}

	const externalDomain = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb.onion"
	var sawSameDomain, sawExternalDomain bool
	for _, q := range gw.queuedURLs {
		for _, u := range q.urls {
			switch u {
			case "http://abc.onion/page2":
				sawSameDomain = true
				if q.domain != "abc.onion" {
					t.Errorf("expected same-domain link queued under abc.onion, got %q", q.domain)
				}
			case "http://" + externalDomain + "/":
				sawExternalDomain = true
				if q.domain != externalDomain {
					t.Errorf("expected external link queued under its own domain %q, got %q", externalDomain, q.domain)
				}
			}
		}
	}
	if !sawSameDomain {
		t.Fatal("expected the same-domain link to be queued")
	}
	if !sawExternalDomain {
		t.Fatal("expected the external-domain link to be queued under its own domain, not the source domain")
	}
}

func TestProcessOneConnectionFailureCascades(t *testing.T) {
	gw := newFakeGateway()
	proxy := &fakeProxy{result: &socksproxy.Result{
		Success: false,
		Error:   "dial tcp: ECONNREFUSED",
	}}
	w := newWorker(gw, proxy)

	entry := storage.CrawlQueueEntry{URL: "http://abc.onion/", Domain: "abc.onion"}
	w.processOne(context.Background(), entry)

	if gw.failedDomains["abc.onion"] != 1 {
		t.Fatalf("expected MarkDomainConnectionFailed called once, got %d", gw.failedDomains["abc.onion"])
	}
	if len(gw.completedURLs) != 0 {
		t.Fatalf("expected no MarkURLCompleted call on a connection failure, got %v", gw.completedURLs)
	}
}

func TestProcessOneNonConnectionFailureMarksURLFailed(t *testing.T) {
	gw := newFakeGateway()
	proxy := &fakeProxy{result: &socksproxy.Result{
		Success: false,
		Error:   "unexpected EOF",
	}}
	w := newWorker(gw, proxy)

	entry := storage.CrawlQueueEntry{URL: "http://abc.onion/", Domain: "abc.onion"}
	w.processOne(context.Background(), entry)

	if gw.failedDomains["abc.onion"] != 0 {
		t.Fatal("expected no domain cascade for a non-connection-failure error")
	}
	if success, ok := gw.completedURLs["http://abc.onion/"]; !ok || success {
		t.Fatalf("expected MarkURLCompleted(url, false, ...), got ok=%v success=%v", ok, success)
	}
}

func TestProcessOneLockContentionSkipsWithoutFetching(t *testing.T) {
	gw := newFakeGateway()
	gw.denyLock = true
	fetched := false
	proxy := &fakeProxyFunc{fn: func() { fetched = true }}
	w := newWorker(gw, proxy)

	entry := storage.CrawlQueueEntry{URL: "http://abc.onion/", Domain: "abc.onion"}
	w.processOne(context.Background(), entry)

	if fetched {
		t.Fatal("expected no fetch attempt when the domain lock is held elsewhere")
	}
	if success, ok := gw.completedURLs["http://abc.onion/"]; !ok || success {
		t.Fatalf("expected the url returned to pending via MarkURLCompleted(false), got ok=%v success=%v", ok, success)
	}
}

type fakeProxyFunc struct {
	fn func()
}

func (p *fakeProxyFunc) Get(ctx context.Context, url string, headers map[string]string) (*socksproxy.Result, error) {
	p.fn()
	return &socksproxy.Result{Success: true, StatusCode: 200}, nil
}

func TestIsConnectionFailureMatchesPatternSet(t *testing.T) {
	cases := []struct {
		err  string
		want bool
	}{
		{"dial tcp: ECONNREFUSED", true},
		{"lookup abc.onion: ENOTFOUND", true},
		{"General SOCKS server failure", true},
		{"context deadline exceeded: ETIMEDOUT", true},
		{"unexpected EOF", false},
		{"malformed response", false},
	}
	for _, tc := range cases {
		if got := isConnectionFailure(tc.err); got != tc.want {
			t.Errorf("isConnectionFailure(%q) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
