package linkextract

import (
	"testing"

	"github.com/onionrecon/core/internal/storage"
)

const samplePage = `<!DOCTYPE html>
<html lang="en">
<head>
  <title>Market Index</title>
  <meta name="description" content="A sample marketplace">
</head>
<body>
  <h1>Welcome</h1>
  <h1>Second heading</h1>
  <p>Mirror available at abcdefghijklmnopqrstuvwxyzabcdefghijklmnopqrstuvwxyz2345.onion for backup.</p>
  <a href="/listings">Listings</a>
  <a href="http://qrstuvwxyzabcdefghijklmnopqrstuvwxyzabcdefghijklmnop2345.onion/">Partner site</a>
</body>
</html>`

func TestExtractParsesMetadataAndLinks(t *testing.T) {
	page := Extract("http://abc2defghijklmnopqrstuvwxyzabcdefghijklmnopqrstuv.onion/", []byte(samplePage))

	if page.Title != "Market Index" {
		t.Errorf("expected title 'Market Index', got %q", page.Title)
	}
	if page.MetaDescription != "A sample marketplace" {
		t.Errorf("expected meta description, got %q", page.MetaDescription)
	}
	if page.Language != "en" {
		t.Errorf("expected language 'en', got %q", page.Language)
	}
	if len(page.H1) != 2 {
		t.Fatalf("expected 2 h1 headings, got %d (%v)", len(page.H1), page.H1)
	}
	if len(page.Links) != 2 {
		t.Fatalf("expected 2 anchor links, got %d", len(page.Links))
	}
	if page.Links[0].URL != "http://abc2defghijklmnopqrstuvwxyzabcdefghijklmnopqrstuv.onion/listings" {
		t.Errorf("expected relative link resolved against base, got %q", page.Links[0].URL)
	}
}

func TestExtractFindsTextOnlyOnionDomain(t *testing.T) {
	page := Extract("http://abc2defghijklmnopqrstuvwxyzabcdefghijklmnopqrstuv.onion/", []byte(samplePage))

	if len(page.TextOnionDomains) != 1 {
		t.Fatalf("expected exactly 1 text-only onion domain, got %d (%v)", len(page.TextOnionDomains), page.TextOnionDomains)
	}
	if page.TextOnionDomains[0] != "abcdefghijklmnopqrstuvwxyzabcdefghijklmnopqrstuvwxyz2345.onion" {
		t.Errorf("unexpected text-only domain: %q", page.TextOnionDomains[0])
	}

	// The partner site is reachable via an anchor element, so it must not
	// also appear in TextOnionDomains even though its address also occurs
	// in the rendered HTML.
	for _, d := range page.TextOnionDomains {
		if d == "qrstuvwxyzabcdefghijklmnopqrstuvwxyzabcdefghijklmnop2345.onion" {
			t.Errorf("element-discovered domain leaked into TextOnionDomains")
		}
	}
}

func TestExtractMalformedBaseURLReturnsZeroValue(t *testing.T) {
	page := Extract("://not-a-url", []byte(samplePage))
	if page.Title != "" || len(page.Links) != 0 {
		t.Errorf("expected zero-value Page for an unparseable base URL, got %+v", page)
	}
}

func TestClassifyLink(t *testing.T) {
	cases := []struct {
		name   string
		source string
		target string
		want   storage.LinkType
	}{
		{"same onion domain", "abc.onion", "http://abc.onion/page", storage.LinkOnionInternal},
		{"different onion domain", "abc.onion", "http://xyz.onion/page", storage.LinkOnionExternal},
		{"clearnet", "abc.onion", "https://example.com/", storage.LinkClearnet},
		{"mailto", "abc.onion", "mailto:a@b.com", storage.LinkOther},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.source, tc.target); got != tc.want {
				t.Errorf("Classify(%q, %q) = %q, want %q", tc.source, tc.target, got, tc.want)
			}
		})
	}
}

func TestOnionDomain(t *testing.T) {
	addr := "abcdefghijklmnopqrstuvwxyzabcdefghijklmnopqrstuvwxy2.onion"
	if got := OnionDomain("http://" + addr + "/path"); got != addr {
		t.Errorf("expected %q, got %q", addr, got)
	}
	if got := OnionDomain("https://example.com/"); got != "" {
		t.Errorf("expected empty string for non-onion host, got %q", got)
	}
}
