package readapi

import "testing"

func TestParseQueryFreeText(t *testing.T) {
	q := ParseQuery("bitcoin")
	if q.Text == nil || *q.Text != "bitcoin" {
		t.Fatalf("expected text %q, got %v", "bitcoin", q.Text)
	}
	if q.Title != nil || q.Header != nil || q.Value != nil || q.Port != nil {
		t.Fatal("expected every other field nil")
	}
}

func TestParseQueryHTTPTag(t *testing.T) {
	q := ParseQuery(`http:"server: nginx"`)
	if q.Header == nil || *q.Header != "server" {
		t.Fatalf("expected header %q, got %v", "server", q.Header)
	}
	if q.Value == nil || *q.Value != "nginx" {
		t.Fatalf("expected value %q, got %v", "nginx", q.Value)
	}
	if q.Text != nil {
		t.Fatalf("expected no free text, got %v", *q.Text)
	}
}

func TestParseQueryTextAndPort(t *testing.T) {
	q := ParseQuery("marketplace port:8333")
	if q.Text == nil || *q.Text != "marketplace" {
		t.Fatalf("expected text %q, got %v", "marketplace", q.Text)
	}
	if q.Port == nil || *q.Port != 8333 {
		t.Fatalf("expected port 8333, got %v", q.Port)
	}
}

func TestParseQueryTitleTag(t *testing.T) {
	q := ParseQuery(`title:"Market"`)
	if q.Title == nil || *q.Title != "Market" {
		t.Fatalf("expected title %q, got %v", "Market", q.Title)
	}
}

func TestParseQueryEmptyYieldsAllNil(t *testing.T) {
	q := ParseQuery("")
	if q.Text != nil || q.Title != nil || q.Header != nil || q.Value != nil || q.Port != nil {
		t.Fatal("expected an empty query to parse to all-nil fields")
	}
}

func TestParseQueryEmptyTagContentYieldsNil(t *testing.T) {
	q := ParseQuery(`title:""`)
	if q.Title != nil {
		t.Fatalf("expected empty-after-trim title tag to parse to nil, got %v", *q.Title)
	}
}

func TestParseQueryTagNamesCaseInsensitive(t *testing.T) {
	q := ParseQuery(`TITLE:"Market" HTTP:"Server: nginx" PORT:80`)
	if q.Title == nil || *q.Title != "Market" {
		t.Fatalf("expected case-insensitive title tag match, got %v", q.Title)
	}
	if q.Header == nil || *q.Header != "Server" {
		t.Fatalf("expected case-insensitive http tag match, got %v", q.Header)
	}
	if q.Port == nil || *q.Port != 80 {
		t.Fatalf("expected case-insensitive port tag match, got %v", q.Port)
	}
}

func TestParseQueryOutOfRangePortIsIgnored(t *testing.T) {
	q := ParseQuery("port:99999")
	if q.Port != nil {
		t.Fatalf("expected an out-of-range port to be dropped, got %v", *q.Port)
	}
}

func TestParseQueryCombinesAllTagsWithFreeText(t *testing.T) {
	q := ParseQuery(`title:"Onion Market" darknet http:"server: nginx" port:443`)
	if q.Title == nil || *q.Title != "Onion Market" {
		t.Fatalf("expected title, got %v", q.Title)
	}
	if q.Header == nil || *q.Header != "server" {
		t.Fatalf("expected header, got %v", q.Header)
	}
	if q.Value == nil || *q.Value != "nginx" {
		t.Fatalf("expected value, got %v", q.Value)
	}
	if q.Port == nil || *q.Port != 443 {
		t.Fatalf("expected port, got %v", q.Port)
	}
	if q.Text == nil || *q.Text != "darknet" {
		t.Fatalf("expected leftover free text %q, got %v", "darknet", q.Text)
	}
}
