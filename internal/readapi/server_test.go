package readapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/onionrecon/core/internal/storage"
)

type fakeGateway struct {
	storage.Gateway

	searchResults []storage.SearchResult
	searchQuery   storage.SearchQuery
	stats         storage.Stats
	domain        *storage.Domain
	pages         []storage.Page
	links         []storage.Link
}

func (f *fakeGateway) Search(ctx context.Context, q storage.SearchQuery) ([]storage.SearchResult, error) {
	f.searchQuery = q
	return f.searchResults, nil
}

func (f *fakeGateway) Stats(ctx context.Context) (storage.Stats, error) {
	return f.stats, nil
}

func (f *fakeGateway) GetDomain(ctx context.Context, address string) (*storage.Domain, error) {
	if f.domain == nil || f.domain.Address != address {
		return nil, nil
	}
	return f.domain, nil
}

func (f *fakeGateway) ListPagesByDomain(ctx context.Context, domainID int64, limit, offset int) ([]storage.Page, error) {
	return f.pages, nil
}

func (f *fakeGateway) ListLinksTo(ctx context.Context, domainID int64, limit, offset int) ([]storage.Link, error) {
	return f.links, nil
}

func newTestServer(gw *fakeGateway) (*Server, *http.ServeMux) {
	s := New(gw, nil)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /search", s.handleSearch)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /domain/{addr}", s.handleDomain)
	return s, mux
}

func TestHandleIndexParsesQueryAndRendersResults(t *testing.T) {
	gw := &fakeGateway{
		searchResults: []storage.SearchResult{
			{Page: storage.Page{Title: "Hidden Market", URL: "http://abc.onion/"}, Domain: storage.Domain{Address: "abc.onion"}},
		},
	}
	_, mux := newTestServer(gw)

	req := httptest.NewRequest(http.MethodGet, "/?q=bitcoin", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if gw.searchQuery.Text == nil || *gw.searchQuery.Text != "bitcoin" {
		t.Fatalf("expected parsed query text %q, got %v", "bitcoin", gw.searchQuery.Text)
	}
	if !strings.Contains(rec.Body.String(), "Hidden Market") {
		t.Fatal("expected rendered result title in body")
	}
}

func TestHandleSearchRedirectsToIndexWithNormalizedParams(t *testing.T) {
	gw := &fakeGateway{}
	_, mux := newTestServer(gw)

	req := httptest.NewRequest(http.MethodGet, "/search?q=bitcoin", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rec.Code)
	}
	loc := rec.Header().Get("Location")
	if !strings.HasPrefix(loc, "/?") || !strings.Contains(loc, "q=bitcoin") {
		t.Fatalf("expected redirect to / with q param, got %q", loc)
	}
}

func TestHandleStatsReturnsJSON(t *testing.T) {
	gw := &fakeGateway{stats: storage.Stats{DomainCount: 5, PageCount: 42}}
	_, mux := newTestServer(gw)

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got storage.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("expected valid JSON body: %v", err)
	}
	if got.DomainCount != 5 || got.PageCount != 42 {
		t.Fatalf("unexpected stats body: %+v", got)
	}
}

func TestHandleDomainRendersPagesAndLinks(t *testing.T) {
	gw := &fakeGateway{
		domain: &storage.Domain{ID: 1, Address: "abc.onion", CrawlCount: 3},
		pages:  []storage.Page{{Title: "Home", URL: "http://abc.onion/"}},
		links:  []storage.Link{{TargetURL: "http://abc.onion/forum", Type: storage.LinkOnionInternal}},
	}
	_, mux := newTestServer(gw)

	req := httptest.NewRequest(http.MethodGet, "/domain/abc.onion", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "abc.onion") || !strings.Contains(body, "Home") {
		t.Fatal("expected rendered domain page to include domain address and page title")
	}
}

func TestHandleDomainUnknownAddressReturns404(t *testing.T) {
	gw := &fakeGateway{}
	_, mux := newTestServer(gw)

	req := httptest.NewRequest(http.MethodGet, "/domain/nosuch.onion", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
