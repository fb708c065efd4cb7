package storage

import (
	"context"
	"errors"
)

// ErrLockHeld names the case where another worker already owns a live lease
// on the (subsystem, domain) pair. AcquireDomainLock does not return it: the
// gateway implementations report contention as (false, nil).
var ErrLockHeld = errors.New("storage: lock held by another worker")

// ErrNotOwner is returned by ReleaseDomainLock/ExtendDomainLock when the
// caller's workerID does not match the current lease holder.
var ErrNotOwner = errors.New("storage: caller does not own this lock")

// DomainUpsert carries the fields a crawl can set when upserting a Domain.
// Title and Description are pointers so the gateway can distinguish "not
// supplied" (nil, crawl-count untouched) from "supplied empty string".
type DomainUpsert struct {
	Address     string
	Title       *string
	Description *string
}

// DomainUpsertResult is the minimal projection returned by UpsertDomain.
type DomainUpsertResult struct {
	ID         int64
	Address    string
	CrawlCount int
}

// PageUpsert carries the fields persisted for a single crawl of a URL.
type PageUpsert struct {
	DomainID        int64
	URL             string
	Path            string
	Title           string
	ContentText     string
	ContentHTML     string // empty when body >= htmlStoreCap
	StatusCode      int
	ContentLength   int64
	ContentType     string
	Language        string
	MetaDescription string
	H1              []string
	Accessible      bool
}

// SearchQuery is the parsed, AND-composed query produced by the read API's
// query parser (see internal/readapi/query.go).
type SearchQuery struct {
	Text   *string
	Title  *string
	Header *string
	Value  *string
	Port   *int
	Limit  int
	Offset int
}

// SearchResult is one page matching a SearchQuery, with its owning domain.
type SearchResult struct {
	Page   Page
	Domain Domain
}

// Stats is the snapshot returned by the read API's /stats endpoint.
type Stats struct {
	DomainCount      int
	PageCount        int
	LinkCount        int
	CrawlQueuePending int
	ScanQueuePending int
	DirScanQueuePending int
	OpenPorts        int
	InterestingDirs  int
}

// Gateway is the storage gateway's full surface: data operations, queue
// operations, and lock primitives, backed by one connection pool. A single
// implementation may split the concerns internally, but exposes them here
// as one cohesive interface so workers depend on one thing.
type Gateway interface {
	// Domain / page / link / header persistence (§4.1).
	UpsertDomain(ctx context.Context, u DomainUpsert) (DomainUpsertResult, error)
	UpsertPage(ctx context.Context, p PageUpsert) (int64, error)
	InsertLinks(ctx context.Context, pageID int64, links []Link) error
	InsertHeaders(ctx context.Context, pageID int64, headers []Header) error
	UpdateDomainStatus(ctx context.Context, domain string, status CrawlStatus, workerID string) error
	GetDomain(ctx context.Context, address string) (*Domain, error)
	ListPagesByDomain(ctx context.Context, domainID int64, limit, offset int) ([]Page, error)
	ListLinksFrom(ctx context.Context, pageID int64, limit, offset int) ([]Link, error)
	ListLinksTo(ctx context.Context, domainID int64, limit, offset int) ([]Link, error)

	// Crawl queue (§4.1, §4.2).
	AddToCrawlQueue(ctx context.Context, urls []string, domain string, priority int) error
	GetNextURLs(ctx context.Context, workerID string, n int) ([]CrawlQueueEntry, error)
	MarkURLCompleted(ctx context.Context, url string, success bool, errMsg string) error
	MarkDomainConnectionFailed(ctx context.Context, domain string, errMsg string) (int, error)

	// Scan / dir-scan queues.
	AddToScanQueue(ctx context.Context, entries []ScanQueueEntry) error
	AddToDirScanQueue(ctx context.Context, entries []DirScanQueueEntry) error
	GetNextScanJob(ctx context.Context, workerID string) (*ScanQueueEntry, error)
	GetNextDirScanJob(ctx context.Context, workerID string) (*DirScanQueueEntry, error)
	MarkScanJobDone(ctx context.Context, domain string, success bool) error
	MarkDirScanJobDone(ctx context.Context, domain string, success bool) error

	// Domain locks (§4.1, §5).
	AcquireDomainLock(ctx context.Context, subsys Subsystem, domain, workerID string) (bool, error)
	ReleaseDomainLock(ctx context.Context, subsys Subsystem, domain, workerID string) error
	ExtendDomainLock(ctx context.Context, subsys Subsystem, domain, workerID string) error

	// Results.
	InsertPortScanResults(ctx context.Context, results []PortScanResult) error
	InsertDirScanResults(ctx context.Context, results []DirScanResult) error

	// Logging and search.
	LogCrawl(ctx context.Context, logs []CrawlLog) error
	RecentCrawlLogs(ctx context.Context, limit int) ([]CrawlLog, error)
	Search(ctx context.Context, q SearchQuery) ([]SearchResult, error)
	Stats(ctx context.Context) (Stats, error)

	// Transaction groups a set of the above calls into one atomic commit,
	// used when a crawl persists domain + page + links + headers together.
	Transaction(ctx context.Context, body func(ctx context.Context, tx Gateway) error) error

	Close() error
}
