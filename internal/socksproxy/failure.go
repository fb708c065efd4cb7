package socksproxy

import "strings"

// connectionFailurePatterns is the transport-failure signature set shared by
// every worker that needs to distinguish "the hidden service is unreachable"
// from "the hidden service returned an error" — the crawler's connection-
// failure cascade and the dir-scan worker's unreachable-abort both key off
// this same set.
var connectionFailurePatterns = []string{
	"econnrefused",
	"enotfound",
	"etimedout",
	"econnreset",
	"ehostunreach",
	"enetunreach",
	"socket hang up",
	"socks5 proxy rejected",
	"general socks server failure",
	"host unreachable",
	"network is unreachable",
}

// IsConnectionFailure reports whether errMsg matches the connection-failure
// pattern set, case-insensitively, as a substring.
func IsConnectionFailure(errMsg string) bool {
	lower := strings.ToLower(errMsg)
	for _, p := range connectionFailurePatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
