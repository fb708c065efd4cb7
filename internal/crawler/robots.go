package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/temoto/robotstxt"
)

// RobotsAuditor caches a domain's robots.txt and answers allow/disallow
// questions against it. Most hidden services don't publish one — a fetch
// failure or a 4xx/5xx response is cached as "no restrictions" rather than
// retried on every URL, since robots.txt compliance here is a courtesy, not
// a legal requirement the crawl depends on.
type RobotsAuditor struct {
	proxy  proxyGetter
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]*robotstxt.RobotsData
}

// NewRobotsAuditor builds a RobotsAuditor. proxy is the same SOCKS5 client
// the crawler uses for page fetches — robots.txt requests go through Tor
// like everything else.
func NewRobotsAuditor(proxy proxyGetter, logger *slog.Logger) *RobotsAuditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &RobotsAuditor{
		proxy:  proxy,
		logger: logger,
		cache:  make(map[string]*robotstxt.RobotsData),
	}
}

// IsAllowed reports whether targetURL may be fetched under userAgent's
// robots.txt group. A fetch or parse failure defaults to allow.
func (a *RobotsAuditor) IsAllowed(ctx context.Context, targetURL, userAgent string) bool {
	u, err := url.Parse(targetURL)
	if err != nil {
		return true
	}
	host := u.Scheme + "://" + u.Host

	data, err := a.getOrFetch(ctx, host)
	if err != nil || data == nil {
		return true
	}

	return data.FindGroup(userAgent).Test(u.Path)
}

func (a *RobotsAuditor) getOrFetch(ctx context.Context, host string) (*robotstxt.RobotsData, error) {
	a.mu.RLock()
	data, cached := a.cache[host]
	a.mu.RUnlock()
	if cached {
		return data, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if data, cached = a.cache[host]; cached {
		return data, nil
	}

	res, err := a.proxy.Get(ctx, host+"/robots.txt", nil)
	if err != nil {
		a.cache[host] = nil
		return nil, fmt.Errorf("crawler: fetch robots.txt for %s: %w", host, err)
	}
	if !res.Success || res.StatusCode >= 400 {
		a.cache[host] = nil
		a.logger.Debug("crawler: no usable robots.txt, defaulting to allow", "host", host)
		return nil, nil
	}

	parsed, err := robotstxt.FromBytes(res.Body)
	if err != nil {
		a.cache[host] = nil
		return nil, fmt.Errorf("crawler: parse robots.txt for %s: %w", host, err)
	}

	a.cache[host] = parsed
	return parsed, nil
}
