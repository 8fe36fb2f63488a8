package urlutil

import (
	"net/url"
	"strings"
)

// ExtractHost extracts and lowercases the hostname (no port) from a URL
// string. Returns empty string if the URL is invalid or has no host.
// Used for log redaction: access logs carry the target host only, never
// the full untrusted URL.
func ExtractHost(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Hostname())
}

// ExtractHostname strips the port from a host string, e.g. "example.com:8080"
// or "example.com". Handles bracketed IPv6 addresses and preserves bare IPv6
// literals.
func ExtractHostname(host string) string {
	if strings.HasPrefix(host, "[") {
		if bracketIdx := strings.Index(host, "]"); bracketIdx != -1 {
			return host[:bracketIdx+1]
		}
		return host
	}
	// Only strip a port when there is exactly one colon; a bare IPv6
	// literal like ::1 stays intact.
	if idx := strings.LastIndex(host, ":"); idx != -1 && strings.Count(host, ":") == 1 {
		return host[:idx]
	}
	return host
}
