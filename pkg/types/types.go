// Package types contains domain types shared between the gateway packages
// and the extraction provider client.
package types

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Quality selects the stream variant requested from the extraction provider.
type Quality string

const (
	QualityLow    Quality = "low"
	QualityMedium Quality = "medium"
	QualityHigh   Quality = "high"
	QualityBest   Quality = "best"
)

// ParseQuality validates a client-supplied quality string.
// An empty string resolves to the provided default.
func ParseQuality(s string, def Quality) (Quality, error) {
	if s == "" {
		return def, nil
	}
	switch Quality(s) {
	case QualityLow, QualityMedium, QualityHigh, QualityBest:
		return Quality(s), nil
	}
	return "", fmt.Errorf("unknown quality %q", s)
}

// Response list ceilings applied before metadata is returned to clients.
const (
	MaxThumbnails = 5
	MaxFormats    = 10
)

// Thumbnail is a single preview image advertised by the media host.
type Thumbnail struct {
	URL    string `json:"url"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// Format describes one downloadable stream variant.
type Format struct {
	Quality   string `json:"quality"`
	MimeType  string `json:"mimeType"`
	Bitrate   int    `json:"bitrate,omitempty"`
	SizeBytes int64  `json:"sizeBytes,omitempty"`
}

// Metadata is the provider's description of a media resource.
// The provider response is untrusted: Clamp must be applied before the
// metadata is serialized to a client.
type Metadata struct {
	ID              string      `json:"id"`
	Title           string      `json:"title"`
	DurationSeconds int         `json:"durationSeconds"`
	Author          string      `json:"author"`
	Thumbnails      []Thumbnail `json:"thumbnails,omitempty"`
	AudioFormats    []Format    `json:"audioFormats,omitempty"`
	VideoFormats    []Format    `json:"videoFormats,omitempty"`
}

// Clamp bounds the variable-length lists to their response ceilings.
func (m *Metadata) Clamp() {
	if len(m.Thumbnails) > MaxThumbnails {
		m.Thumbnails = m.Thumbnails[:MaxThumbnails]
	}
	if len(m.AudioFormats) > MaxFormats {
		m.AudioFormats = m.AudioFormats[:MaxFormats]
	}
	if len(m.VideoFormats) > MaxFormats {
		m.VideoFormats = m.VideoFormats[:MaxFormats]
	}
}

// Compression algorithms for cached metadata entries.
const (
	CompressionNone   = "none"
	CompressionSnappy = "snappy"
	CompressionLZ4    = "lz4"

	// CompressionMinSize is the payload size below which compression is skipped.
	CompressionMinSize = 256
)

// Duration wraps time.Duration with extended YAML parsing support for days and weeks
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for extended duration formats
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}

	dur, err := time.ParseDuration(s)
	if err == nil {
		*d = Duration(dur)
		return nil
	}

	dur, err = parseExtendedDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalJSON implements json.Unmarshaler for Duration.
// Accepts both numbers (nanoseconds) and strings ("15s", "24h", "30d", "2w").
func (d *Duration) UnmarshalJSON(data []byte) error {
	var ns int64
	if err := json.Unmarshal(data, &ns); err == nil {
		*d = Duration(ns)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string or number, got %s", string(data))
	}

	dur, err := time.ParseDuration(s)
	if err == nil {
		*d = Duration(dur)
		return nil
	}

	dur, err = parseExtendedDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(dur)
	return nil
}

// MarshalJSON implements json.Marshaler for Duration.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// ToDuration converts types.Duration to time.Duration
func (d Duration) ToDuration() time.Duration {
	return time.Duration(d)
}

// String implements fmt.Stringer for Duration
func (d Duration) String() string {
	return time.Duration(d).String()
}

var extendedDurationRe = regexp.MustCompile(`^(-?)(\d+(?:\.\d+)?)(d|w)$`)

// parseExtendedDuration parses duration strings with extended suffixes: d (days), w (weeks)
// Examples: "30d", "2w", "1.5d"
func parseExtendedDuration(s string) (time.Duration, error) {
	matches := extendedDurationRe.FindStringSubmatch(s)
	if matches == nil {
		return 0, fmt.Errorf("invalid format, expected format like '30d' or '2w'")
	}

	value, err := strconv.ParseFloat(matches[2], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid numeric value: %w", err)
	}
	if matches[1] == "-" {
		value = -value
	}

	switch matches[3] {
	case "d":
		return time.Duration(value * 24 * float64(time.Hour)), nil
	case "w":
		return time.Duration(value * 7 * 24 * float64(time.Hour)), nil
	}
	return 0, fmt.Errorf("unknown suffix %q", matches[3])
}
