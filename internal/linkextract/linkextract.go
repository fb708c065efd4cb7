// Package linkextract pulls links and page metadata out of a fetched HTML
// document, and separately flags onion addresses mentioned only in the raw
// text body — domains an anchor-based extractor would otherwise miss.
package linkextract

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/onionrecon/core/internal/storage"
)

// onionPattern matches a bare v3 onion address, with or without a scheme.
var onionPattern = regexp.MustCompile(`(?i)[a-z2-7]{56}\.onion`)

// Link is one anchor-element link found on a page, not yet classified
// against its source domain.
type Link struct {
	URL        string
	AnchorText string
	Position   int
}

// Page is the metadata and links extracted from one fetched HTML document.
type Page struct {
	Title           string
	ContentText     string
	MetaDescription string
	H1              []string
	Language        string
	Links           []Link
	// TextOnionDomains holds onion domains found by scanning the raw text
	// body that were not also reachable via an anchor element — the spec's
	// "discovered only in prose" case, queued at a different priority.
	TextOnionDomains []string
}

// Extract parses an HTML document fetched from baseURL. A malformed
// document yields a zero-value Page's worth of links, never an error — the
// crawler logs and treats the page as having no HTML, per its parsing
// failure policy.
func Extract(baseURL string, body []byte) Page {
	base, err := url.Parse(baseURL)
	if err != nil {
		return Page{}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Page{}
	}

	var page Page
	page.Title = strings.TrimSpace(doc.Find("title").First().Text())
	if desc, ok := doc.Find(`meta[name="description"]`).First().Attr("content"); ok {
		page.MetaDescription = strings.TrimSpace(desc)
	}
	if lang, ok := doc.Find("html").First().Attr("lang"); ok {
		page.Language = strings.TrimSpace(lang)
	}
	doc.Find("h1").Each(func(_ int, s *goquery.Selection) {
		if text := strings.TrimSpace(s.Text()); text != "" {
			page.H1 = append(page.H1, text)
		}
	})
	page.ContentText = strings.Join(strings.Fields(doc.Find("body").Text()), " ")

	elementDomains := make(map[string]struct{})
	doc.Find("a[href]").Each(func(i int, s *goquery.Selection) {
		href, exists := s.Attr("href")
		if !exists {
			return
		}
		u, err := url.Parse(href)
		if err != nil {
			return
		}
		resolved := base.ResolveReference(u)
		page.Links = append(page.Links, Link{
			URL:        resolved.String(),
			AnchorText: strings.TrimSpace(s.Text()),
			Position:   i,
		})
		if domain := onionPattern.FindString(resolved.Host + resolved.Path); domain != "" {
			elementDomains[strings.ToLower(domain)] = struct{}{}
		}
	})

	for _, domain := range onionPattern.FindAllString(string(body), -1) {
		domain = strings.ToLower(domain)
		if _, ok := elementDomains[domain]; ok {
			continue
		}
		elementDomains[domain] = struct{}{} // dedup within the text pass too
		page.TextOnionDomains = append(page.TextOnionDomains, domain)
	}

	return page
}

// Classify reports how a link target relates to the page it was found on:
// another page on the same onion domain, a different onion domain, a
// clearnet address, or something else (mailto:, javascript:, etc).
func Classify(sourceDomain, targetURL string) storage.LinkType {
	u, err := url.Parse(targetURL)
	if err != nil {
		return storage.LinkOther
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return storage.LinkOther
	}
	if strings.HasSuffix(host, ".onion") {
		if host == strings.ToLower(sourceDomain) {
			return storage.LinkOnionInternal
		}
		return storage.LinkOnionExternal
	}
	if u.Scheme == "http" || u.Scheme == "https" {
		return storage.LinkClearnet
	}
	return storage.LinkOther
}

// OnionDomain extracts the bare onion domain from a URL, or "" if none is
// present.
func OnionDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return onionPattern.FindString(rawURL)
	}
	host := strings.ToLower(u.Hostname())
	if strings.HasSuffix(host, ".onion") {
		return host
	}
	return ""
}
