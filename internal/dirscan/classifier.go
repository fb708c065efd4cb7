package dirscan

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/onionrecon/core/internal/storage"
)

// Category names one of the interest buckets a path can fall into.
const (
	CategoryCredentials   = "credentials-file"
	CategorySourceControl = "source-control"
	CategoryAdminPanel    = "admin-panel"
	CategoryServerInfo    = "server-info"
	CategoryBackupFile    = "backup-file"
	CategoryLogFile       = "log-file"
	CategoryDatabaseFile  = "database-file"
	CategoryConfigFile    = "configuration-file"
	CategoryRobotsSitemap = "robots-sitemap"
	CategorySensitiveDir  = "sensitive-directory"
)

const snippetCap = 512

var categorySignatures = []struct {
	category string
	patterns []string
}{
	{CategoryCredentials, []string{".env", ".htpasswd", "credentials", "secrets.yml", "id_rsa", ".aws/credentials"}},
	{CategorySourceControl, []string{".git/", ".svn/", ".hg/"}},
	{CategoryAdminPanel, []string{"admin", "phpmyadmin", "administrator", "manager/html", "adminer", "panel", "console"}},
	{CategoryServerInfo, []string{"phpinfo", "server-status", "server-info"}},
	{CategoryBackupFile, []string{".bak", ".zip", ".tar.gz", "backup", "dump.sql"}},
	{CategoryLogFile, []string{".log", "logs/"}},
	{CategoryDatabaseFile, []string{".sql", ".db", ".sqlite"}},
	{CategoryConfigFile, []string{"config.php", "config.yml", "config.json", "settings.py", "web.config"}},
	{CategoryRobotsSitemap, []string{"robots.txt", "sitemap.xml"}},
	{CategorySensitiveDir, []string{"private/", "internal/", "uploads/", "old/", "tmp/"}},
}

// classifyPath matches a probed path against the category signature table.
func classifyPath(path string) (category string, matched bool) {
	lower := strings.ToLower(path)
	for _, sig := range categorySignatures {
		for _, pattern := range sig.patterns {
			if strings.Contains(lower, pattern) {
				return sig.category, true
			}
		}
	}
	return "", false
}

// Baseline is the recorded response to an unguessable random path, used to
// detect soft-404s and measure whether a probed path's response differs
// meaningfully from "this path doesn't exist".
type Baseline struct {
	StatusCode    int
	ContentLength int64
	BodySnippet   []byte
}

// Probe is one path's response, ready for classification.
type Probe struct {
	Path           string
	StatusCode     int
	ContentLength  int64
	ContentType    string
	ResponseTime   time.Duration
	ServerHeader   string
	RedirectTarget string
	Body           []byte
}

func snippet(b []byte, cap int) []byte {
	if len(b) <= cap {
		return b
	}
	return b[:cap]
}

func statusClass(code int) int {
	return code / 100
}

func isSoft404(p Probe, b Baseline) bool {
	return p.StatusCode == 200 && bytes.Equal(snippet(p.Body, snippetCap), snippet(b.BodySnippet, snippetCap))
}

func differsFromBaseline(p Probe, b Baseline) bool {
	if statusClass(p.StatusCode) != statusClass(b.StatusCode) {
		return true
	}
	if b.ContentLength > 0 {
		delta := float64(p.ContentLength-b.ContentLength) / float64(b.ContentLength)
		if delta < 0 {
			delta = -delta
		}
		if delta > 0.10 {
			return true
		}
	} else if p.ContentLength > 0 {
		return true
	}
	if len(p.Body) > 0 && len(b.BodySnippet) > 0 && !bytes.Equal(snippet(p.Body, snippetCap), snippet(b.BodySnippet, snippetCap)) {
		return true
	}
	return false
}

// Classify implements the response-classifier contract from spec §4.5: a
// probe is interesting when it matches a category signature, differs from
// the baseline, and isn't a soft-404 (a 200 whose first snippetCap bytes
// equal the baseline's; bytes past that point are not compared).
func Classify(p Probe, baseline Baseline) storage.DirScanResult {
	result := storage.DirScanResult{
		Path:           p.Path,
		StatusCode:     p.StatusCode,
		ContentLength:  p.ContentLength,
		ContentType:    p.ContentType,
		ResponseTime:   p.ResponseTime,
		ServerHeader:   p.ServerHeader,
		RedirectTarget: p.RedirectTarget,
		BodySnippet:    snippet(p.Body, snippetCap),
	}

	category, matched := classifyPath(p.Path)
	if !matched {
		return result
	}
	if isSoft404(p, baseline) {
		result.InterestReason = "soft-404"
		return result
	}
	if !differsFromBaseline(p, baseline) {
		return result
	}

	result.IsInteresting = true
	result.InterestCategory = category
	result.InterestReason = fmt.Sprintf("matched %s signature, status %d vs baseline %d", category, p.StatusCode, baseline.StatusCode)
	return result
}
