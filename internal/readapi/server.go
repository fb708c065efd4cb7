package readapi

import (
	"context"
	"encoding/json"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/onionrecon/core/internal/analyzer"
	"github.com/onionrecon/core/internal/report"
	"github.com/onionrecon/core/internal/storage"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

// Server is the read API's HTTP surface (spec §4.7).
type Server struct {
	gw     storage.Gateway
	logger *slog.Logger

	indexTmpl  *template.Template
	domainTmpl *template.Template

	srv *http.Server
}

// New builds a Server. Templates are parsed once at construction, matching
// the teacher's startup-time template.Must pattern.
func New(gw storage.Gateway, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	funcs := template.FuncMap{"add": func(a, b int) int { return a + b }}
	return &Server{
		gw:         gw,
		logger:     logger,
		indexTmpl:  template.Must(template.New("index").Funcs(funcs).Parse(indexHTML)),
		domainTmpl: template.Must(template.New("domain").Funcs(funcs).Parse(domainHTML)),
	}
}

// Start begins listening on addr in a background goroutine. The server
// must be stopped via Server.Stop to release resources.
func (s *Server) Start(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /search", s.handleSearch)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /domain/{addr}", s.handleDomain)

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("readapi: server failed", "err", err)
		}
	}()

	return s.srv
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

// resultView pairs a stored search result with a rendered excerpt showing
// why it matched the free-text query.
type resultView struct {
	storage.SearchResult
	Snippet string
}

type indexPageData struct {
	Query   string
	Results []resultView
	Limit   int
	Offset  int
	HasMore bool
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("q")
	limit, offset := parsePagination(r)

	q := ParseQuery(raw)
	q.Limit = limit + 1 // fetch one extra to know whether to show "more"
	q.Offset = offset

	results, err := s.gw.Search(r.Context(), q)
	if err != nil {
		s.logger.Error("readapi: search failed", "err", err)
		http.Error(w, "search failed", http.StatusInternalServerError)
		return
	}

	hasMore := len(results) > limit
	if hasMore {
		results = results[:limit]
	}

	views := make([]resultView, len(results))
	for i, res := range results {
		views[i] = resultView{SearchResult: res, Snippet: excerptFor(res.Page.ContentText, q)}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.indexTmpl.Execute(w, indexPageData{
		Query:   raw,
		Results: views,
		Limit:   limit,
		Offset:  offset,
		HasMore: hasMore,
	}); err != nil {
		s.logger.Error("readapi: render index failed", "err", err)
	}
}

// excerptFor renders the first matching sentence for the query's free-text
// term, falling back to an empty string when there is no free-text term or
// it doesn't occur verbatim in the page's extracted text.
func excerptFor(contentText string, q storage.SearchQuery) string {
	if q.Text == nil {
		return ""
	}
	excerpts := analyzer.FindExcerpts(contentText, []string{*q.Text})
	if len(excerpts) == 0 || len(excerpts[0].Sentences) == 0 {
		return ""
	}
	return excerpts[0].Sentences[0]
}

// handleSearch normalizes q/limit/offset and 302s to / (spec §4.7).
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)

	vals := url.Values{}
	if q := r.URL.Query().Get("q"); q != "" {
		vals.Set("q", q)
	}
	vals.Set("limit", strconv.Itoa(limit))
	vals.Set("offset", strconv.Itoa(offset))

	http.Redirect(w, r, "/?"+vals.Encode(), http.StatusFound)
}

// recentLogsForReport bounds how much crawl_logs history backs the
// text/html report formats; the JSON format (the default) needs none of it.
const recentLogsForReport = 1000

// handleStats serves the live Stats snapshot as JSON by default (spec
// §4.7). A `?format=text` or `?format=html` query param instead renders an
// operator-facing report.Summary built from that snapshot plus recent
// crawl_logs history.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.gw.Stats(r.Context())
	if err != nil {
		s.logger.Error("readapi: stats failed", "err", err)
		http.Error(w, "stats failed", http.StatusInternalServerError)
		return
	}

	switch r.URL.Query().Get("format") {
	case "text", "html":
		s.renderReport(w, r, stats)
	default:
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(stats); err != nil {
			s.logger.Error("readapi: encode stats failed", "err", err)
		}
	}
}

func (s *Server) renderReport(w http.ResponseWriter, r *http.Request, stats storage.Stats) {
	logs, err := s.gw.RecentCrawlLogs(r.Context(), recentLogsForReport)
	if err != nil {
		s.logger.Error("readapi: recent crawl logs failed", "err", err)
		http.Error(w, "report failed", http.StatusInternalServerError)
		return
	}
	summary := report.GenerateSummary(stats, logs)

	if r.URL.Query().Get("format") == "html" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := report.WriteHTML(w, summary); err != nil {
			s.logger.Error("readapi: render html report failed", "err", err)
		}
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err := report.WriteText(w, summary); err != nil {
		s.logger.Error("readapi: render text report failed", "err", err)
	}
}

type domainPageData struct {
	Domain  storage.Domain
	Pages   []storage.Page
	Links   []storage.Link
	Limit   int
	Offset  int
	HasMore bool
}

func (s *Server) handleDomain(w http.ResponseWriter, r *http.Request) {
	addr := r.PathValue("addr")
	domain, err := s.gw.GetDomain(r.Context(), addr)
	if err != nil {
		s.logger.Error("readapi: get domain failed", "addr", addr, "err", err)
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	if domain == nil {
		http.NotFound(w, r)
		return
	}

	limit, offset := parsePagination(r)

	pages, err := s.gw.ListPagesByDomain(r.Context(), domain.ID, limit+1, offset)
	if err != nil {
		s.logger.Error("readapi: list pages failed", "domain", addr, "err", err)
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	links, err := s.gw.ListLinksTo(r.Context(), domain.ID, limit, offset)
	if err != nil {
		s.logger.Error("readapi: list incoming links failed", "domain", addr, "err", err)
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}

	hasMore := len(pages) > limit
	if hasMore {
		pages = pages[:limit]
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.domainTmpl.Execute(w, domainPageData{
		Domain:  *domain,
		Pages:   pages,
		Links:   links,
		Limit:   limit,
		Offset:  offset,
		HasMore: hasMore,
	}); err != nil {
		s.logger.Error("readapi: render domain failed", "err", err)
	}
}

func parsePagination(r *http.Request) (limit, offset int) {
	limit = defaultLimit
	offset = 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
