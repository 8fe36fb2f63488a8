// Package clientip derives the rate-limit client key for a request. When
// the gateway sits behind a trusted proxy the key comes from a configured
// header, otherwise from the socket peer address.
package clientip

import (
	"net"
	"strings"

	"github.com/valyala/fasthttp"
)

// ClientKey returns the limiter key for a request: the first usable value
// among the configured headers in priority order, else the remote address.
// Headers must only be configured when a trusted proxy sets them; a direct
// client could otherwise spoof its way past the limiter.
func ClientKey(ctx *fasthttp.RequestCtx, headers []string) string {
	for _, header := range headers {
		value := strings.TrimSpace(string(ctx.Request.Header.Peek(header)))
		if value == "" {
			continue
		}
		// X-Forwarded-For may carry a chain; the leftmost entry is the
		// originating client.
		if idx := strings.IndexByte(value, ','); idx >= 0 {
			value = strings.TrimSpace(value[:idx])
		}
		if value != "" {
			return canonicalIP(value)
		}
	}

	host, _, err := net.SplitHostPort(ctx.RemoteAddr().String())
	if err != nil {
		return canonicalIP(ctx.RemoteAddr().String())
	}
	return canonicalIP(host)
}

// canonicalIP normalizes textual IP forms so one client cannot spread its
// quota across spellings ([::1] vs ::1, zone suffixes, v4-mapped v6).
func canonicalIP(raw string) string {
	raw = strings.TrimPrefix(raw, "[")
	raw = strings.TrimSuffix(raw, "]")
	if idx := strings.IndexByte(raw, '%'); idx >= 0 {
		raw = raw[:idx]
	}
	ip := net.ParseIP(raw)
	if ip == nil {
		return raw
	}
	return ip.String()
}
