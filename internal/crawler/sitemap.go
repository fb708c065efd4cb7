package crawler

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	sitemap "github.com/oxffaa/gopher-parse-sitemap"
)

// fetchSitemap fetches sitemapURL and returns the page URLs it lists,
// recursing into nested sitemap indexes. A fetch or parse failure at any
// level is non-fatal: the crawl proceeds on the HTML link graph alone, a
// sitemap is only ever a supplementary seed source.
func (w *Worker) fetchSitemap(ctx context.Context, sitemapURL string) []string {
	res, err := w.proxy.Get(ctx, sitemapURL, nil)
	if err != nil || !res.Success || res.StatusCode >= 400 {
		return nil
	}

	var urls []string
	urlErr := sitemap.Parse(bytes.NewReader(res.Body), func(e sitemap.Entry) error {
		urls = append(urls, e.GetLocation())
		return nil
	})
	if urlErr == nil && len(urls) > 0 {
		return urls
	}

	var nested []string
	if err := sitemap.ParseIndex(bytes.NewReader(res.Body), func(e sitemap.IndexEntry) error {
		nested = append(nested, e.GetLocation())
		return nil
	}); err != nil || len(nested) == 0 {
		return urls
	}

	for _, n := range nested {
		urls = append(urls, w.fetchSitemap(ctx, n)...)
	}
	return urls
}

// seedFromSitemap fetches domain's sitemap.xml and queues every URL it lists
// under domain, at the same priority as element-discovered links. Called once per
// domain, the first time it's crawled.
func (w *Worker) seedFromSitemap(ctx context.Context, domain string) {
	urls := w.fetchSitemap(ctx, "http://"+domain+"/sitemap.xml")
	if len(urls) == 0 {
		return
	}
	if err := w.gw.AddToCrawlQueue(ctx, urls, domain, elementLinkPriority); err != nil {
		w.logger.Error("crawler: seed sitemap urls failed", "domain", domain, "err", err)
		return
	}
	w.logger.Debug("crawler: seeded urls from sitemap", "domain", domain, "count", fmt.Sprint(len(urls)))
}
