package portscan

import (
	"regexp"
	"strings"
)

type signature struct {
	service      string
	patterns     []string
	versionRegex *regexp.Regexp // optional; first capture group is the version
}

var signatures = []signature{
	{"ssh", []string{"ssh-2.0", "ssh-1.99"}, regexp.MustCompile(`(?i)SSH-\d\.\d+-(\S+)`)},
	{"tor-control", []string{"250-tor", "250 tor", "authchallenge"}, nil},
	{"smtp", []string{"esmtp", "220 "}, regexp.MustCompile(`(?i)220[ -]\S+\s+ESMTP\s+(\S+)`)},
	{"ftp", []string{"220 ", "ftp server"}, nil},
	{"irc", []string{"notice auth", ":irc.", "nickserv"}, nil},
	{"http", []string{"http/1.1", "http/1.0", "server:"}, regexp.MustCompile(`(?i)Server:\s*([^\r\n]+)`)},
	{"redis", []string{"-noauth", "-err wrong number"}, nil},
	{"mysql", []string{"mysql_native_password"}, nil},
	{"postgresql", []string{"fatal", "sslrequest"}, nil},
	{"memcached", []string{"error\r\n"}, nil},
}

// Match identifies a banner against the known service signature table,
// returning the matched service, an optional extracted version string, and
// a confidence score. A non-empty banner that matches no signature yields a
// low-confidence "unknown" classification; an empty banner yields an empty
// service name and zero confidence.
func Match(banner string) (service, version string, confidence float64) {
	if banner == "" {
		return "", "", 0
	}
	lower := strings.ToLower(banner)
	for _, sig := range signatures {
		for _, pattern := range sig.patterns {
			if !strings.Contains(lower, pattern) {
				continue
			}
			if sig.versionRegex != nil {
				if m := sig.versionRegex.FindStringSubmatch(banner); len(m) > 1 {
					return sig.service, strings.TrimSpace(m[1]), 0.9
				}
			}
			return sig.service, "", 0.6
		}
	}
	return "unknown", "", 0.2
}
