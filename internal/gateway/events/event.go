// Package events writes one JSON line per finished request to an access
// log, off the request path.
package events

import (
	"time"
)

// RequestEvent is the access-log record for a single gateway request.
type RequestEvent struct {
	RequestID string `json:"request_id"`
	GatewayID string `json:"gateway_id,omitempty"`

	Method    string `json:"method"`
	Path      string `json:"path"`
	Operation string `json:"operation"` // info, audio, video, health
	ClientKey string `json:"client_key"`
	UserAgent string `json:"user_agent,omitempty"`

	// Target, redacted to hostname and ID. Full URLs never land on disk.
	TargetHost string `json:"target_host,omitempty"`
	VideoID    string `json:"video_id,omitempty"`

	StatusCode  int     `json:"status_code"`
	BytesSent   int64   `json:"bytes_sent,omitempty"`
	ServeTime   float64 `json:"serve_time"` // seconds
	RateLimited bool    `json:"rate_limited,omitempty"`
	CacheHit    bool    `json:"cache_hit,omitempty"`

	StreamOutcome string `json:"stream_outcome,omitempty"` // completed, aborted, timed_out
	ErrorType     string `json:"error_type,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
