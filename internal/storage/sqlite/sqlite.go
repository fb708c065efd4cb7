// Package sqlite is a SQLite-backed storage.Gateway for single-process
// deployments. SQLite has no row-level locking, so dequeues use
// BEGIN IMMEDIATE transactions to serialize access instead of Postgres's
// FOR UPDATE SKIP LOCKED — a single writer lock rather than per-row locks,
// which is safe but means concurrent dequeues block instead of skipping
// past each other.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/onionrecon/core/internal/storage"
)

const defaultLeaseDuration = 10 * time.Minute
const htmlStoreCap = 100 * 1024

const schema = `
CREATE TABLE IF NOT EXISTS domains (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	address TEXT NOT NULL UNIQUE,
	title TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	first_seen DATETIME NOT NULL,
	last_crawled DATETIME,
	crawl_count INTEGER NOT NULL DEFAULT 0,
	active BOOLEAN NOT NULL DEFAULT 1,
	crawl_status TEXT NOT NULL DEFAULT 'pending',
	crawl_started_at DATETIME,
	last_worker_id TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS pages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	domain_id INTEGER NOT NULL REFERENCES domains(id),
	url TEXT NOT NULL UNIQUE,
	path TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL DEFAULT '',
	content_text TEXT NOT NULL DEFAULT '',
	content_html TEXT,
	status_code INTEGER NOT NULL DEFAULT 0,
	content_length INTEGER NOT NULL DEFAULT 0,
	content_type TEXT NOT NULL DEFAULT '',
	language TEXT NOT NULL DEFAULT '',
	meta_description TEXT NOT NULL DEFAULT '',
	h1 TEXT NOT NULL DEFAULT '',
	last_crawled DATETIME,
	crawl_count INTEGER NOT NULL DEFAULT 0,
	accessible BOOLEAN NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS headers (
	page_id INTEGER NOT NULL REFERENCES pages(id),
	name TEXT NOT NULL,
	value TEXT NOT NULL,
	UNIQUE (page_id, name)
);

CREATE TABLE IF NOT EXISTS links (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	source_page_id INTEGER NOT NULL REFERENCES pages(id),
	target_url TEXT NOT NULL,
	target_domain_id INTEGER,
	anchor_text TEXT NOT NULL DEFAULT '',
	link_type TEXT NOT NULL,
	link_source TEXT NOT NULL,
	position INTEGER NOT NULL DEFAULT 0,
	UNIQUE (source_page_id, position)
);

CREATE TABLE IF NOT EXISTS crawl_queue (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	url TEXT NOT NULL UNIQUE,
	domain TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	priority INTEGER NOT NULL DEFAULT 100,
	attempts INTEGER NOT NULL DEFAULT 0,
	worker_id TEXT NOT NULL DEFAULT '',
	inserted_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS crawl_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	url TEXT NOT NULL,
	domain TEXT NOT NULL,
	success BOOLEAN NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	worker_id TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS domain_locks (
	subsystem TEXT NOT NULL,
	domain TEXT NOT NULL,
	worker_id TEXT NOT NULL,
	lease_to DATETIME NOT NULL,
	PRIMARY KEY (subsystem, domain)
);

CREATE TABLE IF NOT EXISTS scan_queue (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	domain TEXT NOT NULL UNIQUE,
	profile TEXT NOT NULL DEFAULT 'standard',
	status TEXT NOT NULL DEFAULT 'pending',
	priority INTEGER NOT NULL DEFAULT 100,
	attempts INTEGER NOT NULL DEFAULT 0,
	worker_id TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS dir_scan_queue (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	domain TEXT NOT NULL UNIQUE,
	profile TEXT NOT NULL DEFAULT 'standard',
	status TEXT NOT NULL DEFAULT 'pending',
	priority INTEGER NOT NULL DEFAULT 100,
	attempts INTEGER NOT NULL DEFAULT 0,
	worker_id TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS port_scans (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	domain TEXT NOT NULL,
	port INTEGER NOT NULL,
	state TEXT NOT NULL,
	banner TEXT NOT NULL DEFAULT '',
	service_name TEXT NOT NULL DEFAULT '',
	service_version TEXT NOT NULL DEFAULT '',
	confidence REAL NOT NULL DEFAULT 0,
	scanned_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS dir_scan_results (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	domain TEXT NOT NULL,
	path TEXT NOT NULL,
	status_code INTEGER NOT NULL,
	content_length INTEGER NOT NULL DEFAULT 0,
	content_type TEXT NOT NULL DEFAULT '',
	response_time_ms INTEGER NOT NULL DEFAULT 0,
	server_header TEXT NOT NULL DEFAULT '',
	redirect_target TEXT NOT NULL DEFAULT '',
	body_snippet BLOB,
	is_interesting BOOLEAN NOT NULL DEFAULT 0,
	interest_reason TEXT NOT NULL DEFAULT '',
	interest_category TEXT NOT NULL DEFAULT '',
	scanned_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_crawl_queue_dispatch ON crawl_queue (status, priority, inserted_at);
CREATE INDEX IF NOT EXISTS idx_pages_domain ON pages (domain_id);
CREATE INDEX IF NOT EXISTS idx_links_source ON links (source_page_id);
CREATE INDEX IF NOT EXISTS idx_links_target_domain ON links (target_domain_id);
CREATE INDEX IF NOT EXISTS idx_port_scans_domain ON port_scans (domain);
`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var _ storage.Gateway = (*Gateway)(nil)

// Gateway is the SQLite storage.Gateway implementation.
type Gateway struct {
	db *sql.DB // nil when this Gateway wraps a transaction
	ex execer
}

// New opens (or creates) a SQLite database at dsn and applies the schema.
func New(dsn string, maxOpenConns int) (*Gateway, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	if maxOpenConns <= 0 {
		maxOpenConns = 10
	}
	// SQLite serializes writers regardless; this caps reader fan-out.
	db.SetMaxOpenConns(maxOpenConns)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}

	return &Gateway{db: db, ex: db}, nil
}

func (g *Gateway) Close() error {
	if g.db != nil {
		return g.db.Close()
	}
	return nil
}

// Transaction opens a BEGIN IMMEDIATE transaction, which takes SQLite's
// single writer lock up front rather than on first write — the substitute
// for Postgres's row-level FOR UPDATE SKIP LOCKED in this backend.
func (g *Gateway) Transaction(ctx context.Context, body func(ctx context.Context, tx storage.Gateway) error) error {
	if g.db == nil {
		return fmt.Errorf("sqlite: nested transactions are not supported")
	}
	conn, err := g.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("sqlite: acquire conn: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return fmt.Errorf("sqlite: begin immediate: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(ctx, "ROLLBACK")
		}
	}()

	txGateway := &Gateway{ex: connExecer{conn}}
	if err := body(ctx, txGateway); err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	committed = true
	return nil
}

// connExecer adapts *sql.Conn to the execer interface.
type connExecer struct{ c interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
} }

func (c connExecer) ExecContext(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return c.c.ExecContext(ctx, q, args...)
}
func (c connExecer) QueryContext(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	return c.c.QueryContext(ctx, q, args...)
}
func (c connExecer) QueryRowContext(ctx context.Context, q string, args ...any) *sql.Row {
	return c.c.QueryRowContext(ctx, q, args...)
}

func h1Join(h1 []string) string   { return strings.Join(h1, "\x1f") }
func h1Split(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\x1f")
}

func (g *Gateway) UpsertDomain(ctx context.Context, u storage.DomainUpsert) (storage.DomainUpsertResult, error) {
	title := ""
	if u.Title != nil {
		title = *u.Title
	}
	desc := ""
	if u.Description != nil {
		desc = *u.Description
	}
	incrementCrawl := u.Title != nil
	now := time.Now().UTC()

	_, err := g.ex.ExecContext(ctx, `
		INSERT INTO domains (address, title, description, first_seen, last_crawled, crawl_count)
		VALUES (?, ?, ?, ?, CASE WHEN ? THEN ? ELSE NULL END, CASE WHEN ? THEN 1 ELSE 0 END)
		ON CONFLICT (address) DO UPDATE SET
			title = CASE WHEN ? THEN excluded.title ELSE domains.title END,
			description = CASE WHEN ? != '' THEN excluded.description ELSE domains.description END,
			last_crawled = CASE WHEN ? THEN ? ELSE domains.last_crawled END,
			crawl_count = domains.crawl_count + CASE WHEN ? THEN 1 ELSE 0 END
	`, u.Address, title, desc, now, incrementCrawl, now, incrementCrawl,
		incrementCrawl, desc, incrementCrawl, now, incrementCrawl)
	if err != nil {
		return storage.DomainUpsertResult{}, fmt.Errorf("sqlite: upsert domain: %w", err)
	}

	row := g.ex.QueryRowContext(ctx, `SELECT id, address, crawl_count FROM domains WHERE address = ?`, u.Address)
	var res storage.DomainUpsertResult
	if err := row.Scan(&res.ID, &res.Address, &res.CrawlCount); err != nil {
		return storage.DomainUpsertResult{}, fmt.Errorf("sqlite: read upserted domain: %w", err)
	}
	return res, nil
}

func (g *Gateway) UpsertPage(ctx context.Context, p storage.PageUpsert) (int64, error) {
	var htmlArg any
	if p.ContentHTML != "" && int64(len(p.ContentHTML)) < htmlStoreCap {
		htmlArg = p.ContentHTML
	}
	now := time.Now().UTC()

	_, err := g.ex.ExecContext(ctx, `
		INSERT INTO pages (
			domain_id, url, path, title, content_text, content_html, status_code,
			content_length, content_type, language, meta_description, h1, last_crawled, crawl_count, accessible
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,1,?)
		ON CONFLICT (url) DO UPDATE SET
			domain_id = excluded.domain_id,
			path = excluded.path,
			title = excluded.title,
			content_text = excluded.content_text,
			content_html = excluded.content_html,
			status_code = excluded.status_code,
			content_length = excluded.content_length,
			content_type = excluded.content_type,
			language = excluded.language,
			meta_description = excluded.meta_description,
			h1 = excluded.h1,
			last_crawled = excluded.last_crawled,
			crawl_count = pages.crawl_count + 1,
			accessible = excluded.accessible
	`, p.DomainID, p.URL, p.Path, p.Title, p.ContentText, htmlArg, p.StatusCode,
		p.ContentLength, p.ContentType, p.Language, p.MetaDescription, h1Join(p.H1), now, p.Accessible)
	if err != nil {
		return 0, fmt.Errorf("sqlite: upsert page: %w", err)
	}

	var id int64
	if err := g.ex.QueryRowContext(ctx, `SELECT id FROM pages WHERE url = ?`, p.URL).Scan(&id); err != nil {
		return 0, fmt.Errorf("sqlite: read upserted page: %w", err)
	}
	return id, nil
}

func (g *Gateway) InsertLinks(ctx context.Context, pageID int64, links []storage.Link) error {
	for _, l := range links {
		var targetDomainID any
		if l.TargetDomainID != 0 {
			targetDomainID = l.TargetDomainID
		}
		_, err := g.ex.ExecContext(ctx, `
			INSERT INTO links (source_page_id, target_url, target_domain_id, anchor_text, link_type, link_source, position)
			VALUES (?,?,?,?,?,?,?)
			ON CONFLICT (source_page_id, position) DO NOTHING
		`, pageID, l.TargetURL, targetDomainID, l.AnchorText, l.Type, l.Source, l.Position)
		if err != nil {
			return fmt.Errorf("sqlite: insert links: %w", err)
		}
	}
	return nil
}

func (g *Gateway) InsertHeaders(ctx context.Context, pageID int64, headers []storage.Header) error {
	for _, h := range headers {
		_, err := g.ex.ExecContext(ctx, `
			INSERT INTO headers (page_id, name, value) VALUES (?,?,?)
			ON CONFLICT (page_id, name) DO UPDATE SET value = excluded.value
		`, pageID, h.Name, h.Value)
		if err != nil {
			return fmt.Errorf("sqlite: insert headers: %w", err)
		}
	}
	return nil
}

func (g *Gateway) UpdateDomainStatus(ctx context.Context, domain string, status storage.CrawlStatus, workerID string) error {
	now := time.Now().UTC()
	_, err := g.ex.ExecContext(ctx, `
		UPDATE domains SET
			crawl_status = ?,
			crawl_started_at = CASE WHEN ? = 'crawling' THEN ? ELSE crawl_started_at END,
			last_worker_id = CASE WHEN ? != '' THEN ? ELSE last_worker_id END
		WHERE address = ?
	`, status, status, now, workerID, workerID, domain)
	if err != nil {
		return fmt.Errorf("sqlite: update domain status: %w", err)
	}
	return nil
}

func (g *Gateway) GetDomain(ctx context.Context, address string) (*storage.Domain, error) {
	row := g.ex.QueryRowContext(ctx, `
		SELECT id, address, title, description, first_seen, last_crawled, crawl_count,
			active, crawl_status, crawl_started_at, last_worker_id
		FROM domains WHERE address = ?
	`, address)

	var d storage.Domain
	var lastCrawled, crawlStarted *time.Time
	if err := row.Scan(&d.ID, &d.Address, &d.Title, &d.Description, &d.FirstSeen, &lastCrawled,
		&d.CrawlCount, &d.Active, &d.CrawlStatus, &crawlStarted, &d.LastWorkerID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlite: get domain: %w", err)
	}
	if lastCrawled != nil {
		d.LastCrawled = *lastCrawled
	}
	if crawlStarted != nil {
		d.CrawlStartedAt = *crawlStarted
	}
	return &d, nil
}

func (g *Gateway) ListPagesByDomain(ctx context.Context, domainID int64, limit, offset int) ([]storage.Page, error) {
	rows, err := g.ex.QueryContext(ctx, `
		SELECT id, domain_id, url, path, title, content_text, COALESCE(content_html, ''), status_code,
			content_length, content_type, language, meta_description, h1, last_crawled, crawl_count, accessible
		FROM pages WHERE domain_id = ? ORDER BY last_crawled DESC LIMIT ? OFFSET ?
	`, domainID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list pages: %w", err)
	}
	defer rows.Close()

	var out []storage.Page
	for rows.Next() {
		var p storage.Page
		var h1 string
		var lastCrawled *time.Time
		if err := rows.Scan(&p.ID, &p.DomainID, &p.URL, &p.Path, &p.Title, &p.ContentText, &p.ContentHTML,
			&p.StatusCode, &p.ContentLength, &p.ContentType, &p.Language, &p.MetaDescription, &h1,
			&lastCrawled, &p.CrawlCount, &p.Accessible); err != nil {
			return nil, fmt.Errorf("sqlite: scan page: %w", err)
		}
		p.H1 = h1Split(h1)
		if lastCrawled != nil {
			p.LastCrawled = *lastCrawled
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (g *Gateway) ListLinksFrom(ctx context.Context, pageID int64, limit, offset int) ([]storage.Link, error) {
	return g.queryLinks(ctx, `WHERE source_page_id = ? ORDER BY position ASC LIMIT ? OFFSET ?`, pageID, limit, offset)
}

func (g *Gateway) ListLinksTo(ctx context.Context, domainID int64, limit, offset int) ([]storage.Link, error) {
	return g.queryLinks(ctx, `WHERE target_domain_id = ? ORDER BY id DESC LIMIT ? OFFSET ?`, domainID, limit, offset)
}

func (g *Gateway) queryLinks(ctx context.Context, where string, id int64, limit, offset int) ([]storage.Link, error) {
	rows, err := g.ex.QueryContext(ctx, `
		SELECT id, source_page_id, target_url, COALESCE(target_domain_id, 0), anchor_text, link_type, link_source, position
		FROM links `+where, id, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list links: %w", err)
	}
	defer rows.Close()

	var out []storage.Link
	for rows.Next() {
		var l storage.Link
		if err := rows.Scan(&l.ID, &l.SourcePageID, &l.TargetURL, &l.TargetDomainID, &l.AnchorText, &l.Type, &l.Source, &l.Position); err != nil {
			return nil, fmt.Errorf("sqlite: scan link: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (g *Gateway) AddToCrawlQueue(ctx context.Context, urls []string, domain string, priority int) error {
	now := time.Now().UTC()
	for _, u := range urls {
		_, err := g.ex.ExecContext(ctx, `
			INSERT INTO crawl_queue (url, domain, priority, inserted_at) VALUES (?,?,?,?)
			ON CONFLICT (url) DO NOTHING
		`, u, domain, priority, now)
		if err != nil {
			return fmt.Errorf("sqlite: add to crawl queue: %w", err)
		}
	}
	return nil
}

// GetNextURLs must run inside a Transaction (BEGIN IMMEDIATE) for its
// select-then-update to be atomic across workers; SQLite has no per-row
// lock to take instead.
func (g *Gateway) GetNextURLs(ctx context.Context, workerID string, n int) ([]storage.CrawlQueueEntry, error) {
	rows, err := g.ex.QueryContext(ctx, `
		SELECT id, url, domain, status, priority, attempts, worker_id, inserted_at
		FROM crawl_queue WHERE status = 'pending'
		ORDER BY priority ASC, inserted_at ASC LIMIT ?
	`, n)
	if err != nil {
		return nil, fmt.Errorf("sqlite: select next urls: %w", err)
	}
	var out []storage.CrawlQueueEntry
	for rows.Next() {
		var e storage.CrawlQueueEntry
		if err := rows.Scan(&e.ID, &e.URL, &e.Domain, &e.Status, &e.Priority, &e.Attempts, &e.WorkerID, &e.InsertedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("sqlite: scan queue entry: %w", err)
		}
		out = append(out, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		_, err := g.ex.ExecContext(ctx, `
			UPDATE crawl_queue SET status = 'processing', worker_id = ?, attempts = attempts + 1 WHERE id = ?
		`, workerID, out[i].ID)
		if err != nil {
			return nil, fmt.Errorf("sqlite: mark url dispatched: %w", err)
		}
		out[i].Status = storage.QueueProcessing
		out[i].WorkerID = workerID
		out[i].Attempts++
	}
	return out, nil
}

func (g *Gateway) MarkURLCompleted(ctx context.Context, url string, success bool, errMsg string) error {
	status := storage.QueueCompleted
	if !success {
		status = storage.QueueFailed
	}
	_, err := g.ex.ExecContext(ctx, `UPDATE crawl_queue SET status = ? WHERE url = ?`, status, url)
	if err != nil {
		return fmt.Errorf("sqlite: mark url completed: %w", err)
	}
	return nil
}

func (g *Gateway) MarkDomainConnectionFailed(ctx context.Context, domain string, errMsg string) (int, error) {
	res, err := g.ex.ExecContext(ctx, `UPDATE crawl_queue SET status = 'failed' WHERE domain = ? AND status = 'pending'`, domain)
	if err != nil {
		return 0, fmt.Errorf("sqlite: mark domain connection failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: rows affected: %w", err)
	}
	return int(n), nil
}

func (g *Gateway) AddToScanQueue(ctx context.Context, entries []storage.ScanQueueEntry) error {
	for _, e := range entries {
		_, err := g.ex.ExecContext(ctx, `
			INSERT INTO scan_queue (domain, profile, priority) VALUES (?,?,?)
			ON CONFLICT (domain) DO UPDATE SET priority = MIN(scan_queue.priority, excluded.priority)
		`, e.Domain, e.Profile, e.Priority)
		if err != nil {
			return fmt.Errorf("sqlite: add to scan queue: %w", err)
		}
	}
	return nil
}

func (g *Gateway) AddToDirScanQueue(ctx context.Context, entries []storage.DirScanQueueEntry) error {
	for _, e := range entries {
		_, err := g.ex.ExecContext(ctx, `
			INSERT INTO dir_scan_queue (domain, profile, priority) VALUES (?,?,?)
			ON CONFLICT (domain) DO UPDATE SET priority = MIN(dir_scan_queue.priority, excluded.priority)
		`, e.Domain, e.Profile, e.Priority)
		if err != nil {
			return fmt.Errorf("sqlite: add to dir scan queue: %w", err)
		}
	}
	return nil
}

func (g *Gateway) GetNextScanJob(ctx context.Context, workerID string) (*storage.ScanQueueEntry, error) {
	var e storage.ScanQueueEntry
	row := g.ex.QueryRowContext(ctx, `
		SELECT id, domain, profile, status, priority, attempts, worker_id
		FROM scan_queue WHERE status = 'pending' ORDER BY priority ASC, id ASC LIMIT 1
	`)
	if err := row.Scan(&e.ID, &e.Domain, &e.Profile, &e.Status, &e.Priority, &e.Attempts, &e.WorkerID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlite: select next scan job: %w", err)
	}
	_, err := g.ex.ExecContext(ctx, `UPDATE scan_queue SET status = 'processing', worker_id = ?, attempts = attempts + 1 WHERE id = ?`, workerID, e.ID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: mark scan job dispatched: %w", err)
	}
	e.Status, e.WorkerID, e.Attempts = storage.QueueProcessing, workerID, e.Attempts+1
	return &e, nil
}

func (g *Gateway) GetNextDirScanJob(ctx context.Context, workerID string) (*storage.DirScanQueueEntry, error) {
	var e storage.DirScanQueueEntry
	row := g.ex.QueryRowContext(ctx, `
		SELECT id, domain, profile, status, priority, attempts, worker_id
		FROM dir_scan_queue WHERE status = 'pending' ORDER BY priority ASC, id ASC LIMIT 1
	`)
	if err := row.Scan(&e.ID, &e.Domain, &e.Profile, &e.Status, &e.Priority, &e.Attempts, &e.WorkerID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlite: select next dir scan job: %w", err)
	}
	_, err := g.ex.ExecContext(ctx, `UPDATE dir_scan_queue SET status = 'processing', worker_id = ?, attempts = attempts + 1 WHERE id = ?`, workerID, e.ID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: mark dir scan job dispatched: %w", err)
	}
	e.Status, e.WorkerID, e.Attempts = storage.QueueProcessing, workerID, e.Attempts+1
	return &e, nil
}

func (g *Gateway) MarkScanJobDone(ctx context.Context, domain string, success bool) error {
	status := "completed"
	if !success {
		status = "failed"
	}
	_, err := g.ex.ExecContext(ctx, `UPDATE scan_queue SET status = ? WHERE domain = ?`, status, domain)
	if err != nil {
		return fmt.Errorf("sqlite: mark scan job done: %w", err)
	}
	return nil
}

func (g *Gateway) MarkDirScanJobDone(ctx context.Context, domain string, success bool) error {
	status := "completed"
	if !success {
		status = "failed"
	}
	_, err := g.ex.ExecContext(ctx, `UPDATE dir_scan_queue SET status = ? WHERE domain = ?`, status, domain)
	if err != nil {
		return fmt.Errorf("sqlite: mark dir scan job done: %w", err)
	}
	return nil
}

func (g *Gateway) AcquireDomainLock(ctx context.Context, subsys storage.Subsystem, domain, workerID string) (bool, error) {
	now := time.Now().UTC()
	leaseTo := now.Add(defaultLeaseDuration)

	res, err := g.ex.ExecContext(ctx, `
		UPDATE domain_locks SET worker_id = ?, lease_to = ?
		WHERE subsystem = ? AND domain = ? AND lease_to < ?
	`, workerID, leaseTo, subsys, domain, now)
	if err != nil {
		return false, fmt.Errorf("sqlite: reclaim domain lock: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return true, nil
	}

	_, err = g.ex.ExecContext(ctx, `
		INSERT INTO domain_locks (subsystem, domain, worker_id, lease_to) VALUES (?,?,?,?)
		ON CONFLICT (subsystem, domain) DO NOTHING
	`, subsys, domain, workerID, leaseTo)
	if err != nil {
		return false, fmt.Errorf("sqlite: acquire domain lock: %w", err)
	}

	var owner string
	if err := g.ex.QueryRowContext(ctx, `SELECT worker_id FROM domain_locks WHERE subsystem = ? AND domain = ?`, subsys, domain).Scan(&owner); err != nil {
		return false, fmt.Errorf("sqlite: read domain lock owner: %w", err)
	}
	return owner == workerID, nil
}

func (g *Gateway) ReleaseDomainLock(ctx context.Context, subsys storage.Subsystem, domain, workerID string) error {
	res, err := g.ex.ExecContext(ctx, `DELETE FROM domain_locks WHERE subsystem = ? AND domain = ? AND worker_id = ?`, subsys, domain, workerID)
	if err != nil {
		return fmt.Errorf("sqlite: release domain lock: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return storage.ErrNotOwner
	}
	return nil
}

func (g *Gateway) ExtendDomainLock(ctx context.Context, subsys storage.Subsystem, domain, workerID string) error {
	leaseTo := time.Now().UTC().Add(defaultLeaseDuration)
	res, err := g.ex.ExecContext(ctx, `
		UPDATE domain_locks SET lease_to = ? WHERE subsystem = ? AND domain = ? AND worker_id = ?
	`, leaseTo, subsys, domain, workerID)
	if err != nil {
		return fmt.Errorf("sqlite: extend domain lock: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return storage.ErrNotOwner
	}
	return nil
}

func (g *Gateway) InsertPortScanResults(ctx context.Context, results []storage.PortScanResult) error {
	now := time.Now().UTC()
	for _, r := range results {
		_, err := g.ex.ExecContext(ctx, `
			INSERT INTO port_scans (domain, port, state, banner, service_name, service_version, confidence, scanned_at)
			VALUES (?,?,?,?,?,?,?,?)
		`, r.Domain, r.Port, r.State, r.Banner, r.ServiceName, r.ServiceVersion, r.Confidence, now)
		if err != nil {
			return fmt.Errorf("sqlite: insert port scan results: %w", err)
		}
	}
	return nil
}

func (g *Gateway) InsertDirScanResults(ctx context.Context, results []storage.DirScanResult) error {
	now := time.Now().UTC()
	for _, r := range results {
		_, err := g.ex.ExecContext(ctx, `
			INSERT INTO dir_scan_results (
				domain, path, status_code, content_length, content_type, response_time_ms,
				server_header, redirect_target, body_snippet, is_interesting, interest_reason, interest_category, scanned_at
			) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
		`, r.Domain, r.Path, r.StatusCode, r.ContentLength, r.ContentType, r.ResponseTime.Milliseconds(),
			r.ServerHeader, r.RedirectTarget, r.BodySnippet, r.IsInteresting, r.InterestReason, r.InterestCategory, now)
		if err != nil {
			return fmt.Errorf("sqlite: insert dir scan results: %w", err)
		}
	}
	return nil
}

func (g *Gateway) LogCrawl(ctx context.Context, logs []storage.CrawlLog) error {
	now := time.Now().UTC()
	for _, l := range logs {
		_, err := g.ex.ExecContext(ctx, `
			INSERT INTO crawl_logs (url, domain, success, error, worker_id, created_at) VALUES (?,?,?,?,?,?)
		`, l.URL, l.Domain, l.Success, l.Error, l.WorkerID, now)
		if err != nil {
			return fmt.Errorf("sqlite: log crawl: %w", err)
		}
	}
	return nil
}

// RecentCrawlLogs returns up to limit crawl_logs rows, most recent first.
func (g *Gateway) RecentCrawlLogs(ctx context.Context, limit int) ([]storage.CrawlLog, error) {
	rows, err := g.ex.QueryContext(ctx, `
		SELECT id, url, domain, success, error, worker_id, created_at
		FROM crawl_logs ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: recent crawl logs: %w", err)
	}
	defer rows.Close()

	var logs []storage.CrawlLog
	for rows.Next() {
		var l storage.CrawlLog
		if err := rows.Scan(&l.ID, &l.URL, &l.Domain, &l.Success, &l.Error, &l.WorkerID, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan crawl log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (g *Gateway) Search(ctx context.Context, sq storage.SearchQuery) ([]storage.SearchResult, error) {
	var b strings.Builder
	var args []any

	b.WriteString(`
		SELECT DISTINCT p.id, p.domain_id, p.url, p.path, p.title, p.content_text, COALESCE(p.content_html, ''),
			p.status_code, p.content_length, p.content_type, p.language, p.meta_description, p.h1,
			p.last_crawled, p.crawl_count, p.accessible,
			d.id, d.address, d.title, d.description, d.first_seen, d.last_crawled, d.crawl_count,
			d.active, d.crawl_status, d.crawl_started_at, d.last_worker_id
		FROM pages p
		JOIN domains d ON d.id = p.domain_id
	`)
	if sq.Header != nil {
		b.WriteString(" JOIN headers h ON h.page_id = p.id")
	}
	if sq.Port != nil {
		b.WriteString(" JOIN port_scans ps ON ps.domain = d.address AND ps.state = 'open'")
	}
	b.WriteString(" WHERE 1=1")

	if sq.Text != nil {
		pat := "%" + *sq.Text + "%"
		b.WriteString(" AND (p.title LIKE ? OR p.content_text LIKE ? OR p.meta_description LIKE ?)")
		args = append(args, pat, pat, pat)
	}
	if sq.Title != nil {
		b.WriteString(" AND p.title LIKE ?")
		args = append(args, "%"+*sq.Title+"%")
	}
	if sq.Header != nil {
		b.WriteString(" AND h.name LIKE ?")
		args = append(args, *sq.Header)
		if sq.Value != nil {
			b.WriteString(" AND h.value LIKE ?")
			args = append(args, "%"+*sq.Value+"%")
		}
	}
	if sq.Port != nil {
		b.WriteString(" AND ps.port = ?")
		args = append(args, *sq.Port)
	}

	b.WriteString(" ORDER BY p.last_crawled DESC")

	limit := sq.Limit
	if limit <= 0 {
		limit = 50
	}
	b.WriteString(" LIMIT ? OFFSET ?")
	args = append(args, limit, sq.Offset)

	rows, err := g.ex.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: search: %w", err)
	}
	defer rows.Close()

	var out []storage.SearchResult
	for rows.Next() {
		var r storage.SearchResult
		var h1 string
		var pLastCrawled, dLastCrawled, dCrawlStarted *time.Time
		if err := rows.Scan(
			&r.Page.ID, &r.Page.DomainID, &r.Page.URL, &r.Page.Path, &r.Page.Title, &r.Page.ContentText, &r.Page.ContentHTML,
			&r.Page.StatusCode, &r.Page.ContentLength, &r.Page.ContentType, &r.Page.Language, &r.Page.MetaDescription, &h1,
			&pLastCrawled, &r.Page.CrawlCount, &r.Page.Accessible,
			&r.Domain.ID, &r.Domain.Address, &r.Domain.Title, &r.Domain.Description, &r.Domain.FirstSeen, &dLastCrawled,
			&r.Domain.CrawlCount, &r.Domain.Active, &r.Domain.CrawlStatus, &dCrawlStarted, &r.Domain.LastWorkerID,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scan search result: %w", err)
		}
		r.Page.H1 = h1Split(h1)
		if pLastCrawled != nil {
			r.Page.LastCrawled = *pLastCrawled
		}
		if dLastCrawled != nil {
			r.Domain.LastCrawled = *dLastCrawled
		}
		if dCrawlStarted != nil {
			r.Domain.CrawlStartedAt = *dCrawlStarted
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (g *Gateway) Stats(ctx context.Context) (storage.Stats, error) {
	var s storage.Stats
	row := g.ex.QueryRowContext(ctx, `
		SELECT
			(SELECT count(*) FROM domains),
			(SELECT count(*) FROM pages),
			(SELECT count(*) FROM links),
			(SELECT count(*) FROM crawl_queue WHERE status = 'pending'),
			(SELECT count(*) FROM scan_queue WHERE status = 'pending'),
			(SELECT count(*) FROM dir_scan_queue WHERE status = 'pending'),
			(SELECT count(*) FROM port_scans WHERE state = 'open'),
			(SELECT count(*) FROM dir_scan_results WHERE is_interesting)
	`)
	if err := row.Scan(&s.DomainCount, &s.PageCount, &s.LinkCount, &s.CrawlQueuePending,
		&s.ScanQueuePending, &s.DirScanQueuePending, &s.OpenPorts, &s.InterestingDirs); err != nil {
		return storage.Stats{}, fmt.Errorf("sqlite: stats: %w", err)
	}
	return s, nil
}
