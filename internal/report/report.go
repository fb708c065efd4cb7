// Package report renders an operator-facing summary of a pipeline run,
// combining the read API's live Stats snapshot with the crawl_logs history
// of connection failures (spec §7's "Connection-failure" row), in JSON,
// plain text, or HTML.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"text/template"
	"time"

	"github.com/onionrecon/core/internal/storage"
)

// Summary is the aggregated view a report renders.
type Summary struct {
	DomainCount         int
	PageCount           int
	LinkCount           int
	OpenPorts           int
	InterestingDirs     int
	CrawlQueuePending   int
	ScanQueuePending    int
	DirScanQueuePending int

	TotalCrawlAttempts int
	TotalCrawlErrors   int
	ErrorsByDomain     map[string]int

	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
}

// GenerateSummary folds a Stats snapshot and a window of crawl_logs entries
// into a Summary. logs need not be sorted; GenerateSummary derives the
// window's start/end from the entries it sees.
func GenerateSummary(stats storage.Stats, logs []storage.CrawlLog) Summary {
	s := Summary{
		DomainCount:         stats.DomainCount,
		PageCount:           stats.PageCount,
		LinkCount:           stats.LinkCount,
		OpenPorts:           stats.OpenPorts,
		InterestingDirs:     stats.InterestingDirs,
		CrawlQueuePending:   stats.CrawlQueuePending,
		ScanQueuePending:    stats.ScanQueuePending,
		DirScanQueuePending: stats.DirScanQueuePending,
		ErrorsByDomain:      make(map[string]int),
	}

	if len(logs) == 0 {
		return s
	}

	s.StartTime = logs[0].CreatedAt
	s.EndTime = logs[0].CreatedAt

	for _, l := range logs {
		s.TotalCrawlAttempts++
		if !l.Success {
			s.TotalCrawlErrors++
			s.ErrorsByDomain[l.Domain]++
		}
		if l.CreatedAt.Before(s.StartTime) {
			s.StartTime = l.CreatedAt
		}
		if l.CreatedAt.After(s.EndTime) {
			s.EndTime = l.CreatedAt
		}
	}

	s.Duration = s.EndTime.Sub(s.StartTime)
	return s
}

// WriteJSON writes the summary to w as indented JSON.
func WriteJSON(w io.Writer, summary Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("report: encode json: %w", err)
	}
	return nil
}

const textTmpl = `onion recon summary
--------------------
Time:              {{.StartTime.Format "2006-01-02 15:04:05"}} - {{.EndTime.Format "2006-01-02 15:04:05"}}
Duration:          {{.Duration}}
Domains:           {{.DomainCount}}
Pages:             {{.PageCount}}
Links:             {{.LinkCount}}
Open ports:        {{.OpenPorts}}
Interesting dirs:  {{.InterestingDirs}}

Queues pending:
  crawl:     {{.CrawlQueuePending}}
  port scan: {{.ScanQueuePending}}
  dir scan:  {{.DirScanQueuePending}}

Crawl attempts: {{.TotalCrawlAttempts}}
Crawl errors:   {{.TotalCrawlErrors}}
Errors by domain:
{{- range $domain, $count := .ErrorsByDomain}}
  {{$domain}}: {{$count}}
{{- else}}
  None
{{- end}}
`

// WriteText writes a human-readable text summary to w.
func WriteText(w io.Writer, summary Summary) error {
	t, err := template.New("textReport").Parse(textTmpl)
	if err != nil {
		return fmt.Errorf("report: parse text template: %w", err)
	}
	if err := t.Execute(w, summary); err != nil {
		return fmt.Errorf("report: render text: %w", err)
	}
	return nil
}

const htmlTmpl = `<!DOCTYPE html>
<html>
<head>
<title>onion recon summary</title>
<style>
  body { font-family: sans-serif; margin: 40px; color: #333; }
  h1 { border-bottom: 2px solid #ccc; padding-bottom: 10px; }
  .stat-card { display: inline-block; padding: 20px; margin: 10px 10px 10px 0; background: #f4f4f4; border-radius: 5px; min-width: 150px; }
  .stat-val { font-size: 24px; font-weight: bold; }
  table { border-collapse: collapse; margin-top: 10px; }
  th, td { padding: 8px 12px; border: 1px solid #ccc; text-align: left; }
  th { background: #eaeaea; }
</style>
</head>
<body>
  <h1>onion recon summary</h1>
  <p><strong>Window:</strong> {{.StartTime.Format "2006-01-02 15:04:05"}} to {{.EndTime.Format "2006-01-02 15:04:05"}} ({{.Duration}})</p>

  <div class="stat-card">
    <div>Domains</div>
    <div class="stat-val">{{.DomainCount}}</div>
  </div>
  <div class="stat-card">
    <div>Pages</div>
    <div class="stat-val">{{.PageCount}}</div>
  </div>
  <div class="stat-card">
    <div>Open Ports</div>
    <div class="stat-val">{{.OpenPorts}}</div>
  </div>
  <div class="stat-card">
    <div>Interesting Dirs</div>
    <div class="stat-val" style="color: {{if gt .InterestingDirs 0}}red{{else}}green{{end}};">{{.InterestingDirs}}</div>
  </div>
  <div class="stat-card">
    <div>Crawl Errors</div>
    <div class="stat-val">{{.TotalCrawlErrors}} / {{.TotalCrawlAttempts}}</div>
  </div>

  <h3>Errors By Domain</h3>
  <table>
    <tr><th>Domain</th><th>Count</th></tr>
    {{- range $domain, $count := .ErrorsByDomain}}
    <tr><td>{{$domain}}</td><td>{{$count}}</td></tr>
    {{- else}}
    <tr><td colspan="2">None</td></tr>
    {{- end}}
  </table>
</body>
</html>
`

// WriteHTML writes a basic HTML report to w.
func WriteHTML(w io.Writer, summary Summary) error {
	t, err := template.New("htmlReport").Parse(htmlTmpl)
	if err != nil {
		return fmt.Errorf("report: parse html template: %w", err)
	}
	if err := t.Execute(w, summary); err != nil {
		return fmt.Errorf("report: render html: %w", err)
	}
	return nil
}
