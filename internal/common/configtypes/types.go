package configtypes

import (
	"github.com/mediagate/gateway/pkg/types"
)

// Log level constants
const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// Log format constants
const (
	LogFormatJSON    = "json"
	LogFormatConsole = "console"
	LogFormatText    = "text"
)

// GatewayConfig is the main application configuration.
type GatewayConfig struct {
	Server       ServerConfig        `yaml:"server"`
	Upstream     UpstreamConfig      `yaml:"upstream"`
	RateLimit    RateLimitConfig     `yaml:"rate_limit"`
	Stream       StreamConfig        `yaml:"stream"`
	Validation   ValidationConfig    `yaml:"validation"`
	Cache        *CacheConfig        `yaml:"cache,omitempty"`
	Log          LogConfig           `yaml:"log"`
	Metrics      MetricsConfig       `yaml:"metrics"`
	EventLogging *EventLoggingConfig `yaml:"event_logging,omitempty"`
	ClientIP     *ClientIPConfig     `yaml:"client_ip,omitempty"`
	GatewayID    string              `yaml:"gateway_id,omitempty"`
}

// TLSConfig holds TLS/HTTPS configuration for the public server
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Listen   string `yaml:"listen"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type ServerConfig struct {
	Listen      string         `yaml:"listen"`
	Timeout     types.Duration `yaml:"timeout"`
	MaxBodySize int            `yaml:"max_body_size"`
	TLS         TLSConfig      `yaml:"tls"`
}

// UpstreamConfig configures the extraction provider client and retry policy.
type UpstreamConfig struct {
	BaseURL        string         `yaml:"base_url"`
	RequestTimeout types.Duration `yaml:"request_timeout"`
	MaxAttempts    int            `yaml:"max_attempts"`
	BaseDelay      types.Duration `yaml:"base_delay"`
	// HealthProbeWindow is how long a failed upstream is considered degraded
	// before downloads are attempted again.
	HealthProbeWindow types.Duration `yaml:"health_probe_window"`
}

// RateLimitTier is the quota for one endpoint class.
type RateLimitTier struct {
	Limit  int            `yaml:"limit"`
	Window types.Duration `yaml:"window"`
}

type RateLimitConfig struct {
	Metadata      RateLimitTier  `yaml:"metadata"`
	Download      RateLimitTier  `yaml:"download"`
	Health        RateLimitTier  `yaml:"health"`
	SweepInterval types.Duration `yaml:"sweep_interval"`
}

type StreamConfig struct {
	// Deadline is the wall-clock budget for an entire proxied transfer.
	Deadline  types.Duration `yaml:"deadline"`
	ChunkSize int            `yaml:"chunk_size"`
}

// ValidationConfig configures the URL sanitizer and SSRF guard.
type ValidationConfig struct {
	AllowedDomains []string `yaml:"allowed_domains,omitempty"`
	AllowedParams  []string `yaml:"allowed_params,omitempty"`
	// ResolveCheck re-validates resolved IPs to defeat DNS rebinding.
	ResolveCheck *bool `yaml:"resolve_check,omitempty"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// CacheConfig configures the optional metadata cache.
type CacheConfig struct {
	Enabled     bool           `yaml:"enabled"`
	Redis       RedisConfig    `yaml:"redis"`
	TTL         types.Duration `yaml:"ttl"`
	Compression string         `yaml:"compression,omitempty"` // none, snappy, lz4
}

type LogConfig struct {
	Level   string           `yaml:"level"`
	Console ConsoleLogConfig `yaml:"console"`
	File    FileLogConfig    `yaml:"file"`
}

type ConsoleLogConfig struct {
	Enabled bool   `yaml:"enabled"`
	Format  string `yaml:"format"`
	Level   string `yaml:"level,omitempty"`
}

type FileLogConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Path     string         `yaml:"path"`
	Format   string         `yaml:"format"`
	Level    string         `yaml:"level,omitempty"`
	Rotation RotationConfig `yaml:"rotation"`
}

type RotationConfig struct {
	MaxSize    int  `yaml:"max_size"`
	MaxAge     int  `yaml:"max_age"`
	MaxBackups int  `yaml:"max_backups"`
	Compress   bool `yaml:"compress"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Listen    string `yaml:"listen"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// ClientIPConfig lists trusted headers to extract the client IP from,
// in priority order.
type ClientIPConfig struct {
	Headers []string `yaml:"headers"`
}

type EventLoggingConfig struct {
	File FileEventConfig `yaml:"file"`
}

type FileEventConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Path       string `yaml:"path"`
	BufferSize int    `yaml:"buffer_size,omitempty"`
}
