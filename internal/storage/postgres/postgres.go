// Package postgres is a Postgres-backed storage.Gateway, using pgx/v5's
// row-level locking with SKIP LOCKED to give getNextUrls-style dequeues
// their fairness guarantee without an in-process mutex.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/onionrecon/core/internal/storage"
)

// defaultLeaseDuration is the lock lease length (§3, §5): T = 10 minutes.
const defaultLeaseDuration = 10 * time.Minute

// htmlStoreCap is the body-size threshold under which content_html is
// persisted at all (§3 Page invariant).
const htmlStoreCap = 100 * 1024

const schema = `
CREATE TABLE IF NOT EXISTS domains (
	id BIGSERIAL PRIMARY KEY,
	address TEXT NOT NULL UNIQUE,
	title TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	first_seen TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_crawled TIMESTAMPTZ,
	crawl_count INTEGER NOT NULL DEFAULT 0,
	active BOOLEAN NOT NULL DEFAULT true,
	crawl_status TEXT NOT NULL DEFAULT 'pending',
	crawl_started_at TIMESTAMPTZ,
	last_worker_id TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS pages (
	id BIGSERIAL PRIMARY KEY,
	domain_id BIGINT NOT NULL REFERENCES domains(id),
	url TEXT NOT NULL UNIQUE,
	path TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL DEFAULT '',
	content_text TEXT NOT NULL DEFAULT '',
	content_html TEXT,
	status_code INTEGER NOT NULL DEFAULT 0,
	content_length BIGINT NOT NULL DEFAULT 0,
	content_type TEXT NOT NULL DEFAULT '',
	language TEXT NOT NULL DEFAULT '',
	meta_description TEXT NOT NULL DEFAULT '',
	h1 TEXT[] NOT NULL DEFAULT '{}',
	last_crawled TIMESTAMPTZ,
	crawl_count INTEGER NOT NULL DEFAULT 0,
	accessible BOOLEAN NOT NULL DEFAULT true
);

CREATE TABLE IF NOT EXISTS headers (
	page_id BIGINT NOT NULL REFERENCES pages(id),
	name TEXT NOT NULL,
	value TEXT NOT NULL,
	UNIQUE (page_id, name)
);

CREATE TABLE IF NOT EXISTS links (
	id BIGSERIAL PRIMARY KEY,
	source_page_id BIGINT NOT NULL REFERENCES pages(id),
	target_url TEXT NOT NULL,
	target_domain_id BIGINT,
	anchor_text TEXT NOT NULL DEFAULT '',
	link_type TEXT NOT NULL,
	link_source TEXT NOT NULL,
	position INTEGER NOT NULL DEFAULT 0,
	UNIQUE (source_page_id, position)
);

CREATE TABLE IF NOT EXISTS crawl_queue (
	id BIGSERIAL PRIMARY KEY,
	url TEXT NOT NULL UNIQUE,
	domain TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	priority INTEGER NOT NULL DEFAULT 100,
	attempts INTEGER NOT NULL DEFAULT 0,
	worker_id TEXT NOT NULL DEFAULT '',
	inserted_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS crawl_logs (
	id BIGSERIAL PRIMARY KEY,
	url TEXT NOT NULL,
	domain TEXT NOT NULL,
	success BOOLEAN NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	worker_id TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS domain_locks (
	subsystem TEXT NOT NULL,
	domain TEXT NOT NULL,
	worker_id TEXT NOT NULL,
	lease_to TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (subsystem, domain)
);

CREATE TABLE IF NOT EXISTS scan_queue (
	id BIGSERIAL PRIMARY KEY,
	domain TEXT NOT NULL UNIQUE,
	profile TEXT NOT NULL DEFAULT 'standard',
	status TEXT NOT NULL DEFAULT 'pending',
	priority INTEGER NOT NULL DEFAULT 100,
	attempts INTEGER NOT NULL DEFAULT 0,
	worker_id TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS dir_scan_queue (
	id BIGSERIAL PRIMARY KEY,
	domain TEXT NOT NULL UNIQUE,
	profile TEXT NOT NULL DEFAULT 'standard',
	status TEXT NOT NULL DEFAULT 'pending',
	priority INTEGER NOT NULL DEFAULT 100,
	attempts INTEGER NOT NULL DEFAULT 0,
	worker_id TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS port_scans (
	id BIGSERIAL PRIMARY KEY,
	domain TEXT NOT NULL,
	port INTEGER NOT NULL,
	state TEXT NOT NULL,
	banner TEXT NOT NULL DEFAULT '',
	service_name TEXT NOT NULL DEFAULT '',
	service_version TEXT NOT NULL DEFAULT '',
	confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	scanned_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS dir_scan_results (
	id BIGSERIAL PRIMARY KEY,
	domain TEXT NOT NULL,
	path TEXT NOT NULL,
	status_code INTEGER NOT NULL,
	content_length BIGINT NOT NULL DEFAULT 0,
	content_type TEXT NOT NULL DEFAULT '',
	response_time_ms BIGINT NOT NULL DEFAULT 0,
	server_header TEXT NOT NULL DEFAULT '',
	redirect_target TEXT NOT NULL DEFAULT '',
	body_snippet BYTEA,
	is_interesting BOOLEAN NOT NULL DEFAULT false,
	interest_reason TEXT NOT NULL DEFAULT '',
	interest_category TEXT NOT NULL DEFAULT '',
	scanned_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_crawl_queue_dispatch ON crawl_queue (status, priority, inserted_at);
CREATE INDEX IF NOT EXISTS idx_pages_domain ON pages (domain_id);
CREATE INDEX IF NOT EXISTS idx_links_source ON links (source_page_id);
CREATE INDEX IF NOT EXISTS idx_links_target_domain ON links (target_domain_id);
CREATE INDEX IF NOT EXISTS idx_port_scans_domain ON port_scans (domain);
`

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, letting every
// method below run unmodified whether or not it is inside Transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type batcher interface {
	SendBatch(context.Context, *pgx.Batch) pgx.BatchResults
}

var _ storage.Gateway = (*Gateway)(nil)

// Gateway is the Postgres storage.Gateway implementation.
type Gateway struct {
	pool *pgxpool.Pool // nil when this Gateway wraps a transaction
	q    querier
}

// Config configures the Postgres connection pool.
type Config struct {
	DSN      string
	MaxConns int32 // default 10, per spec §5
}

// New connects to Postgres, applies the schema, and returns a ready Gateway.
func New(ctx context.Context, cfg Config) (*Gateway, error) {
	pgCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = 10
	}
	pgCfg.MaxConns = cfg.MaxConns

	pool, err := pgxpool.NewWithConfig(ctx, pgCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: apply schema: %w", err)
	}

	return &Gateway{pool: pool, q: pool}, nil
}

func (g *Gateway) Close() error {
	if g.pool != nil {
		g.pool.Close()
	}
	return nil
}

// Transaction runs body against a Gateway backed by one pgx.Tx, committing
// on success and rolling back on error or panic.
func (g *Gateway) Transaction(ctx context.Context, body func(ctx context.Context, tx storage.Gateway) error) error {
	if g.pool == nil {
		return fmt.Errorf("postgres: nested transactions are not supported")
	}
	tx, err := g.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	txGateway := &Gateway{q: tx}
	if err := body(ctx, txGateway); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit tx: %w", err)
	}
	return nil
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

	row := g.q.QueryRow(ctx, `
		INSERT INTO domains (address, title, description, last_crawled, crawl_count)
		VALUES ($1, $2, $3, CASE WHEN $4 THEN now() ELSE NULL END, CASE WHEN $4 THEN 1 ELSE 0 END)
		ON CONFLICT (address) DO UPDATE SET
			title = CASE WHEN $4 THEN EXCLUDED.title ELSE domains.title END,
			description = CASE WHEN $3 != '' THEN EXCLUDED.description ELSE domains.description END,
			last_crawled = CASE WHEN $4 THEN now() ELSE domains.last_crawled END,
			crawl_count = domains.crawl_count + CASE WHEN $4 THEN 1 ELSE 0 END
		RETURNING id, address, crawl_count
	`, u.Address, title, desc, incrementCrawl)

	var res storage.DomainUpsertResult
	if err := row.Scan(&res.ID, &res.Address, &res.CrawlCount); err != nil {
		return storage.DomainUpsertResult{}, fmt.Errorf("postgres: upsert domain: %w", err)
	}
	return res, nil
}

func (g *Gateway) UpsertPage(ctx context.Context, p storage.PageUpsert) (int64, error) {
	var htmlArg any
	if p.ContentHTML != "" && int64(len(p.ContentHTML)) < htmlStoreCap {
		htmlArg = p.ContentHTML
	}

	row := g.q.QueryRow(ctx, `
		INSERT INTO pages (
			domain_id, url, path, title, content_text, content_html, status_code,
			content_length, content_type, language, meta_description, h1, last_crawled, crawl_count, accessible
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,now(),1,$13)
		ON CONFLICT (url) DO UPDATE SET
			domain_id = EXCLUDED.domain_id,
			path = EXCLUDED.path,
			title = EXCLUDED.title,
			content_text = EXCLUDED.content_text,
			content_html = EXCLUDED.content_html,
			status_code = EXCLUDED.status_code,
			content_length = EXCLUDED.content_length,
			content_type = EXCLUDED.content_type,
			language = EXCLUDED.language,
			meta_description = EXCLUDED.meta_description,
			h1 = EXCLUDED.h1,
			last_crawled = now(),
			crawl_count = pages.crawl_count + 1,
			accessible = EXCLUDED.accessible
		RETURNING id
	`, p.DomainID, p.URL, p.Path, p.Title, p.ContentText, htmlArg, p.StatusCode,
		p.ContentLength, p.ContentType, p.Language, p.MetaDescription, p.H1, p.Accessible)

	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("postgres: upsert page: %w", err)
	}
	return id, nil
}

func (g *Gateway) InsertLinks(ctx context.Context, pageID int64, links []storage.Link) error {
	if len(links) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, l := range links {
		var targetDomainID any
		if l.TargetDomainID != 0 {
			targetDomainID = l.TargetDomainID
		}
		batch.Queue(`
			INSERT INTO links (source_page_id, target_url, target_domain_id, anchor_text, link_type, link_source, position)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
			ON CONFLICT (source_page_id, position) DO NOTHING
		`, pageID, l.TargetURL, targetDomainID, l.AnchorText, l.Type, l.Source, l.Position)
	}
	br := g.q.(batcher).SendBatch(ctx, batch)
	defer br.Close()
	for range links {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert links: %w", err)
		}
	}
	return nil
}

func (g *Gateway) InsertHeaders(ctx context.Context, pageID int64, headers []storage.Header) error {
	if len(headers) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, h := range headers {
		batch.Queue(`
			INSERT INTO headers (page_id, name, value) VALUES ($1,$2,$3)
			ON CONFLICT (page_id, name) DO UPDATE SET value = EXCLUDED.value
		`, pageID, h.Name, h.Value)
	}
	br := g.q.(batcher).SendBatch(ctx, batch)
	defer br.Close()
	for range headers {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert headers: %w", err)
		}
	}
	return nil
}

func (g *Gateway) UpdateDomainStatus(ctx context.Context, domain string, status storage.CrawlStatus, workerID string) error {
	_, err := g.q.Exec(ctx, `
		UPDATE domains SET
			crawl_status = $2,
			crawl_started_at = CASE WHEN $2 = 'crawling' THEN now() ELSE crawl_started_at END,
			last_worker_id = CASE WHEN $3 != '' THEN $3 ELSE last_worker_id END
		WHERE address = $1
	`, domain, status, workerID)
	if err != nil {
		return fmt.Errorf("postgres: update domain status: %w", err)
	}
	return nil
}

func (g *Gateway) GetDomain(ctx context.Context, address string) (*storage.Domain, error) {
	row := g.q.QueryRow(ctx, `
		SELECT id, address, title, description, first_seen, last_crawled, crawl_count,
			active, crawl_status, crawl_started_at, last_worker_id
		FROM domains WHERE address = $1
	`, address)

	var d storage.Domain
	var lastCrawled, crawlStarted *time.Time
	if err := row.Scan(&d.ID, &d.Address, &d.Title, &d.Description, &d.FirstSeen, &lastCrawled,
		&d.CrawlCount, &d.Active, &d.CrawlStatus, &crawlStarted, &d.LastWorkerID); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: get domain: %w", err)
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
	rows, err := g.q.Query(ctx, `
		SELECT id, domain_id, url, path, title, content_text, COALESCE(content_html, ''), status_code,
			content_length, content_type, language, meta_description, h1, last_crawled, crawl_count, accessible
		FROM pages WHERE domain_id = $1 ORDER BY last_crawled DESC NULLS LAST LIMIT $2 OFFSET $3
	`, domainID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pages: %w", err)
	}
	defer rows.Close()

	var out []storage.Page
	for rows.Next() {
		var p storage.Page
		var lastCrawled *time.Time
		if err := rows.Scan(&p.ID, &p.DomainID, &p.URL, &p.Path, &p.Title, &p.ContentText, &p.ContentHTML,
			&p.StatusCode, &p.ContentLength, &p.ContentType, &p.Language, &p.MetaDescription, &p.H1,
			&lastCrawled, &p.CrawlCount, &p.Accessible); err != nil {
			return nil, fmt.Errorf("postgres: scan page: %w", err)
		}
		if lastCrawled != nil {
			p.LastCrawled = *lastCrawled
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (g *Gateway) ListLinksFrom(ctx context.Context, pageID int64, limit, offset int) ([]storage.Link, error) {
	return g.queryLinks(ctx, `WHERE source_page_id = $1 ORDER BY position ASC LIMIT $2 OFFSET $3`, pageID, limit, offset)
}

func (g *Gateway) ListLinksTo(ctx context.Context, domainID int64, limit, offset int) ([]storage.Link, error) {
	return g.queryLinks(ctx, `WHERE target_domain_id = $1 ORDER BY id DESC LIMIT $2 OFFSET $3`, domainID, limit, offset)
}

func (g *Gateway) queryLinks(ctx context.Context, where string, id int64, limit, offset int) ([]storage.Link, error) {
	rows, err := g.q.Query(ctx, `
		SELECT id, source_page_id, target_url, COALESCE(target_domain_id, 0), anchor_text, link_type, link_source, position
		FROM links `+where, id, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list links: %w", err)
	}
	defer rows.Close()

	var out []storage.Link
	for rows.Next() {
		var l storage.Link
		if err := rows.Scan(&l.ID, &l.SourcePageID, &l.TargetURL, &l.TargetDomainID, &l.AnchorText, &l.Type, &l.Source, &l.Position); err != nil {
			return nil, fmt.Errorf("postgres: scan link: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (g *Gateway) AddToCrawlQueue(ctx context.Context, urls []string, domain string, priority int) error {
	if len(urls) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, u := range urls {
		batch.Queue(`
			INSERT INTO crawl_queue (url, domain, priority) VALUES ($1,$2,$3)
			ON CONFLICT (url) DO NOTHING
		`, u, domain, priority)
	}
	br := g.q.(batcher).SendBatch(ctx, batch)
	defer br.Close()
	for range urls {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: add to crawl queue: %w", err)
		}
	}
	return nil
}

// GetNextURLs atomically selects up to n pending rows ordered by
// (priority asc, inserted_at asc), marking them processing with
// FOR UPDATE SKIP LOCKED so concurrent callers never double-dispatch (P1).
func (g *Gateway) GetNextURLs(ctx context.Context, workerID string, n int) ([]storage.CrawlQueueEntry, error) {
	rows, err := g.q.Query(ctx, `
		WITH selected AS (
			SELECT id FROM crawl_queue
			WHERE status = 'pending'
			ORDER BY priority ASC, inserted_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE crawl_queue SET status = 'processing', worker_id = $2, attempts = attempts + 1
		WHERE id IN (SELECT id FROM selected)
		RETURNING id, url, domain, status, priority, attempts, worker_id, inserted_at
	`, n, workerID)
	if err != nil {
		return nil, fmt.Errorf("postgres: get next urls: %w", err)
	}
	defer rows.Close()

	var out []storage.CrawlQueueEntry
	for rows.Next() {
		var e storage.CrawlQueueEntry
		if err := rows.Scan(&e.ID, &e.URL, &e.Domain, &e.Status, &e.Priority, &e.Attempts, &e.WorkerID, &e.InsertedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan queue entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (g *Gateway) MarkURLCompleted(ctx context.Context, url string, success bool, errMsg string) error {
	status := storage.QueueCompleted
	if !success {
		status = storage.QueueFailed
	}
	_, err := g.q.Exec(ctx, `UPDATE crawl_queue SET status = $2 WHERE url = $1`, url, status)
	if err != nil {
		return fmt.Errorf("postgres: mark url completed: %w", err)
	}
	return nil
}

func (g *Gateway) MarkDomainConnectionFailed(ctx context.Context, domain string, errMsg string) (int, error) {
	tag, err := g.q.Exec(ctx, `
		UPDATE crawl_queue SET status = 'failed' WHERE domain = $1 AND status = 'pending'
	`, domain)
	if err != nil {
		return 0, fmt.Errorf("postgres: mark domain connection failed: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (g *Gateway) AddToScanQueue(ctx context.Context, entries []storage.ScanQueueEntry) error {
	if len(entries) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(`
			INSERT INTO scan_queue (domain, profile, priority) VALUES ($1,$2,$3)
			ON CONFLICT (domain) DO UPDATE SET priority = LEAST(scan_queue.priority, EXCLUDED.priority)
		`, e.Domain, e.Profile, e.Priority)
	}
	br := g.q.(batcher).SendBatch(ctx, batch)
	defer br.Close()
	for range entries {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: add to scan queue: %w", err)
		}
	}
	return nil
}

func (g *Gateway) AddToDirScanQueue(ctx context.Context, entries []storage.DirScanQueueEntry) error {
	if len(entries) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(`
			INSERT INTO dir_scan_queue (domain, profile, priority) VALUES ($1,$2,$3)
			ON CONFLICT (domain) DO UPDATE SET priority = LEAST(dir_scan_queue.priority, EXCLUDED.priority)
		`, e.Domain, e.Profile, e.Priority)
	}
	br := g.q.(batcher).SendBatch(ctx, batch)
	defer br.Close()
	for range entries {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: add to dir scan queue: %w", err)
		}
	}
	return nil
}

func (g *Gateway) GetNextScanJob(ctx context.Context, workerID string) (*storage.ScanQueueEntry, error) {
	row := g.q.QueryRow(ctx, `
		WITH selected AS (
			SELECT id FROM scan_queue WHERE status = 'pending'
			ORDER BY priority ASC, id ASC LIMIT 1 FOR UPDATE SKIP LOCKED
		)
		UPDATE scan_queue SET status = 'processing', worker_id = $1, attempts = attempts + 1
		WHERE id IN (SELECT id FROM selected)
		RETURNING id, domain, profile, status, priority, attempts, worker_id
	`, workerID)
	var e storage.ScanQueueEntry
	if err := row.Scan(&e.ID, &e.Domain, &e.Profile, &e.Status, &e.Priority, &e.Attempts, &e.WorkerID); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: get next scan job: %w", err)
	}
	return &e, nil
}

func (g *Gateway) GetNextDirScanJob(ctx context.Context, workerID string) (*storage.DirScanQueueEntry, error) {
	row := g.q.QueryRow(ctx, `
		WITH selected AS (
			SELECT id FROM dir_scan_queue WHERE status = 'pending'
			ORDER BY priority ASC, id ASC LIMIT 1 FOR UPDATE SKIP LOCKED
		)
		UPDATE dir_scan_queue SET status = 'processing', worker_id = $1, attempts = attempts + 1
		WHERE id IN (SELECT id FROM selected)
		RETURNING id, domain, profile, status, priority, attempts, worker_id
	`, workerID)
	var e storage.DirScanQueueEntry
	if err := row.Scan(&e.ID, &e.Domain, &e.Profile, &e.Status, &e.Priority, &e.Attempts, &e.WorkerID); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: get next dir scan job: %w", err)
	}
	return &e, nil
}

func (g *Gateway) MarkScanJobDone(ctx context.Context, domain string, success bool) error {
	status := "completed"
	if !success {
		status = "failed"
	}
	_, err := g.q.Exec(ctx, `UPDATE scan_queue SET status = $2 WHERE domain = $1`, domain, status)
	if err != nil {
		return fmt.Errorf("postgres: mark scan job done: %w", err)
	}
	return nil
}

func (g *Gateway) MarkDirScanJobDone(ctx context.Context, domain string, success bool) error {
	status := "completed"
	if !success {
		status = "failed"
	}
	_, err := g.q.Exec(ctx, `UPDATE dir_scan_queue SET status = $2 WHERE domain = $1`, domain, status)
	if err != nil {
		return fmt.Errorf("postgres: mark dir scan job done: %w", err)
	}
	return nil
}

// AcquireDomainLock inserts a lock row with a fresh lease, taking over an
// expired lease from another worker if one exists (P3).
func (g *Gateway) AcquireDomainLock(ctx context.Context, subsys storage.Subsystem, domain, workerID string) (bool, error) {
	tag, err := g.q.Exec(ctx, `
		INSERT INTO domain_locks (subsystem, domain, worker_id, lease_to)
		VALUES ($1, $2, $3, now() + $4::interval)
		ON CONFLICT (subsystem, domain) DO UPDATE SET
			worker_id = EXCLUDED.worker_id,
			lease_to = EXCLUDED.lease_to
		WHERE domain_locks.lease_to < now()
	`, subsys, domain, workerID, defaultLeaseDuration.String())
	if err != nil {
		return false, fmt.Errorf("postgres: acquire domain lock: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (g *Gateway) ReleaseDomainLock(ctx context.Context, subsys storage.Subsystem, domain, workerID string) error {
	tag, err := g.q.Exec(ctx, `
		DELETE FROM domain_locks WHERE subsystem = $1 AND domain = $2 AND worker_id = $3
	`, subsys, domain, workerID)
	if err != nil {
		return fmt.Errorf("postgres: release domain lock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotOwner
	}
	return nil
}

func (g *Gateway) ExtendDomainLock(ctx context.Context, subsys storage.Subsystem, domain, workerID string) error {
	tag, err := g.q.Exec(ctx, `
		UPDATE domain_locks SET lease_to = now() + $4::interval
		WHERE subsystem = $1 AND domain = $2 AND worker_id = $3
	`, subsys, domain, workerID, defaultLeaseDuration.String())
	if err != nil {
		return fmt.Errorf("postgres: extend domain lock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotOwner
	}
	return nil
}

func (g *Gateway) InsertPortScanResults(ctx context.Context, results []storage.PortScanResult) error {
	if len(results) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range results {
		batch.Queue(`
			INSERT INTO port_scans (domain, port, state, banner, service_name, service_version, confidence)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, r.Domain, r.Port, r.State, r.Banner, r.ServiceName, r.ServiceVersion, r.Confidence)
	}
	br := g.q.(batcher).SendBatch(ctx, batch)
	defer br.Close()
	for range results {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert port scan results: %w", err)
		}
	}
	return nil
}

func (g *Gateway) InsertDirScanResults(ctx context.Context, results []storage.DirScanResult) error {
	if len(results) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range results {
		batch.Queue(`
			INSERT INTO dir_scan_results (
				domain, path, status_code, content_length, content_type, response_time_ms,
				server_header, redirect_target, body_snippet, is_interesting, interest_reason, interest_category
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		`, r.Domain, r.Path, r.StatusCode, r.ContentLength, r.ContentType, r.ResponseTime.Milliseconds(),
			r.ServerHeader, r.RedirectTarget, r.BodySnippet, r.IsInteresting, r.InterestReason, r.InterestCategory)
	}
	br := g.q.(batcher).SendBatch(ctx, batch)
	defer br.Close()
	for range results {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert dir scan results: %w", err)
		}
	}
	return nil
}

func (g *Gateway) LogCrawl(ctx context.Context, logs []storage.CrawlLog) error {
	if len(logs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, l := range logs {
		batch.Queue(`
			INSERT INTO crawl_logs (url, domain, success, error, worker_id) VALUES ($1,$2,$3,$4,$5)
		`, l.URL, l.Domain, l.Success, l.Error, l.WorkerID)
	}
	br := g.q.(batcher).SendBatch(ctx, batch)
	defer br.Close()
	for range logs {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: log crawl: %w", err)
		}
	}
	return nil
}

// RecentCrawlLogs returns up to limit crawl_logs rows, most recent first.
func (g *Gateway) RecentCrawlLogs(ctx context.Context, limit int) ([]storage.CrawlLog, error) {
	rows, err := g.q.Query(ctx, `
		SELECT id, url, domain, success, error, worker_id, created_at
		FROM crawl_logs ORDER BY created_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: recent crawl logs: %w", err)
	}
	defer rows.Close()

	var logs []storage.CrawlLog
	for rows.Next() {
		var l storage.CrawlLog
		if err := rows.Scan(&l.ID, &l.URL, &l.Domain, &l.Success, &l.Error, &l.WorkerID, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan crawl log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// Search implements the combined-AND search semantics described in spec §4.7.
func (g *Gateway) Search(ctx context.Context, sq storage.SearchQuery) ([]storage.SearchResult, error) {
	var b strings.Builder
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

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
		b.WriteString(fmt.Sprintf(" AND (p.title ILIKE %s OR p.content_text ILIKE %s OR p.meta_description ILIKE %s)",
			arg(pat), arg(pat), arg(pat)))
	}
	if sq.Title != nil {
		b.WriteString(fmt.Sprintf(" AND p.title ILIKE %s", arg("%"+*sq.Title+"%")))
	}
	if sq.Header != nil {
		b.WriteString(fmt.Sprintf(" AND h.name ILIKE %s", arg(*sq.Header)))
		if sq.Value != nil {
			b.WriteString(fmt.Sprintf(" AND h.value ILIKE %s", arg("%"+*sq.Value+"%")))
		}
	}
	if sq.Port != nil {
		b.WriteString(fmt.Sprintf(" AND ps.port = %s", arg(*sq.Port)))
	}

	b.WriteString(" ORDER BY p.last_crawled DESC NULLS LAST")

	limit := sq.Limit
	if limit <= 0 {
		limit = 50
	}
	b.WriteString(fmt.Sprintf(" LIMIT %s OFFSET %s", arg(limit), arg(sq.Offset)))

	rows, err := g.q.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: search: %w", err)
	}
	defer rows.Close()

	var out []storage.SearchResult
	for rows.Next() {
		var r storage.SearchResult
		var pLastCrawled, dLastCrawled, dCrawlStarted *time.Time
		if err := rows.Scan(
			&r.Page.ID, &r.Page.DomainID, &r.Page.URL, &r.Page.Path, &r.Page.Title, &r.Page.ContentText, &r.Page.ContentHTML,
			&r.Page.StatusCode, &r.Page.ContentLength, &r.Page.ContentType, &r.Page.Language, &r.Page.MetaDescription, &r.Page.H1,
			&pLastCrawled, &r.Page.CrawlCount, &r.Page.Accessible,
			&r.Domain.ID, &r.Domain.Address, &r.Domain.Title, &r.Domain.Description, &r.Domain.FirstSeen, &dLastCrawled,
			&r.Domain.CrawlCount, &r.Domain.Active, &r.Domain.CrawlStatus, &dCrawlStarted, &r.Domain.LastWorkerID,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan search result: %w", err)
		}
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
	row := g.q.QueryRow(ctx, `
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
		return storage.Stats{}, fmt.Errorf("postgres: stats: %w", err)
	}
	return s, nil
}
