// Package readapi exposes the read-only HTTP surface from spec §4.7: a
// combined-search home page, a JSON-redirecting /search, a /stats
// endpoint, and a paginated per-domain detail page.
package readapi

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/onionrecon/core/internal/storage"
)

var (
	titleTagPattern = regexp.MustCompile(`(?i)title:\s*"([^"]*)"`)
	httpTagPattern  = regexp.MustCompile(`(?i)http:\s*"([^"]*)"`)
	portTagPattern  = regexp.MustCompile(`(?i)port:\s*(\d{1,5})`)
)

// ParseQuery implements the tagged query grammar from spec §4.7: each tag is
// matched, extracted, and removed from the string before the next tag is
// searched for, so a tag's own content can never be mistaken for another
// tag or for free text. Whatever remains after all three passes, trimmed,
// is the free-text field. Any field that ends up empty is left nil rather
// than set to the empty string, satisfying the round-trip property that an
// empty query parses to an all-nil SearchQuery.
func ParseQuery(raw string) storage.SearchQuery {
	q := storage.SearchQuery{}
	remaining := raw

	if loc := titleTagPattern.FindStringSubmatchIndex(remaining); loc != nil {
		q.Title = nonEmpty(remaining[loc[2]:loc[3]])
		remaining = remaining[:loc[0]] + remaining[loc[1]:]
	}

	if loc := httpTagPattern.FindStringSubmatchIndex(remaining); loc != nil {
		header, value := splitHeaderValue(remaining[loc[2]:loc[3]])
		q.Header = nonEmpty(header)
		q.Value = nonEmpty(value)
		remaining = remaining[:loc[0]] + remaining[loc[1]:]
	}

	if loc := portTagPattern.FindStringSubmatchIndex(remaining); loc != nil {
		if port, err := strconv.Atoi(remaining[loc[2]:loc[3]]); err == nil && port >= 1 && port <= 65535 {
			q.Port = &port
		}
		remaining = remaining[:loc[0]] + remaining[loc[1]:]
	}

	if text := strings.TrimSpace(remaining); text != "" {
		q.Text = &text
	}

	return q
}

// splitHeaderValue splits an http tag's quoted content on the first colon:
// `server: nginx` → ("server", "nginx"); `server` alone → ("server", "").
func splitHeaderValue(inner string) (header, value string) {
	parts := strings.SplitN(inner, ":", 2)
	header = strings.TrimSpace(parts[0])
	if len(parts) > 1 {
		value = strings.TrimSpace(parts[1])
	}
	return header, value
}

func nonEmpty(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
