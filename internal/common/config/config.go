// Package config loads and validates the gateway YAML configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/mediagate/gateway/internal/common/configtypes"
	"github.com/mediagate/gateway/internal/common/yamlutil"
	"github.com/mediagate/gateway/pkg/types"
)

// Type aliases so callers can stay on the config package import
type (
	GatewayConfig    = configtypes.GatewayConfig
	ServerConfig     = configtypes.ServerConfig
	UpstreamConfig   = configtypes.UpstreamConfig
	RateLimitConfig  = configtypes.RateLimitConfig
	StreamConfig     = configtypes.StreamConfig
	ValidationConfig = configtypes.ValidationConfig
	CacheConfig      = configtypes.CacheConfig
	LogConfig        = configtypes.LogConfig
)

// Default allow-list: exact hostnames only, no wildcard matching.
var defaultAllowedDomains = []string{
	"youtube.com",
	"www.youtube.com",
	"m.youtube.com",
	"music.youtube.com",
	"youtu.be",
}

// Default query parameters preserved by the sanitizer: resource ID,
// timestamp offset, playlist index.
var defaultAllowedParams = []string{"v", "t", "list"}

// Load reads, defaults and validates the configuration file.
func Load(path string) (*GatewayConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg GatewayConfig
	if err := yamlutil.UnmarshalStrict(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *GatewayConfig) {
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = ":8080"
	}
	if cfg.Server.Timeout == 0 {
		cfg.Server.Timeout = types.Duration(30 * time.Second)
	}
	if cfg.Server.MaxBodySize == 0 {
		cfg.Server.MaxBodySize = 16 * 1024
	}

	if cfg.Upstream.RequestTimeout == 0 {
		cfg.Upstream.RequestTimeout = types.Duration(20 * time.Second)
	}
	if cfg.Upstream.MaxAttempts == 0 {
		cfg.Upstream.MaxAttempts = 3
	}
	if cfg.Upstream.BaseDelay == 0 {
		cfg.Upstream.BaseDelay = types.Duration(250 * time.Millisecond)
	}
	if cfg.Upstream.HealthProbeWindow == 0 {
		cfg.Upstream.HealthProbeWindow = types.Duration(15 * time.Second)
	}

	defaultTier(&cfg.RateLimit.Metadata, 30, time.Minute)
	defaultTier(&cfg.RateLimit.Download, 5, time.Minute)
	defaultTier(&cfg.RateLimit.Health, 120, time.Minute)
	if cfg.RateLimit.SweepInterval == 0 {
		cfg.RateLimit.SweepInterval = types.Duration(5 * time.Minute)
	}

	if cfg.Stream.Deadline == 0 {
		cfg.Stream.Deadline = types.Duration(10 * time.Minute)
	}
	if cfg.Stream.ChunkSize == 0 {
		cfg.Stream.ChunkSize = 32 * 1024
	}

	if len(cfg.Validation.AllowedDomains) == 0 {
		cfg.Validation.AllowedDomains = defaultAllowedDomains
	}
	if len(cfg.Validation.AllowedParams) == 0 {
		cfg.Validation.AllowedParams = defaultAllowedParams
	}

	if cfg.Cache != nil && cfg.Cache.Enabled {
		if cfg.Cache.TTL == 0 {
			cfg.Cache.TTL = types.Duration(10 * time.Minute)
		}
		if cfg.Cache.Compression == "" {
			cfg.Cache.Compression = types.CompressionSnappy
		}
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = configtypes.LogLevelInfo
	}
	if !cfg.Log.Console.Enabled && !cfg.Log.File.Enabled {
		cfg.Log.Console.Enabled = true
		cfg.Log.Console.Format = configtypes.LogFormatConsole
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "mediagate"
	}

	if cfg.GatewayID == "" {
		cfg.GatewayID = "default"
	}
}

func defaultTier(t *configtypes.RateLimitTier, limit int, window time.Duration) {
	if t.Limit == 0 {
		t.Limit = limit
	}
	if t.Window == 0 {
		t.Window = types.Duration(window)
	}
}

func validate(cfg *GatewayConfig) error {
	if cfg.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream.base_url is required")
	}
	u, err := url.Parse(cfg.Upstream.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("upstream.base_url %q is not an absolute URL", cfg.Upstream.BaseURL)
	}

	if cfg.Upstream.MaxAttempts < 1 {
		return fmt.Errorf("upstream.max_attempts must be at least 1")
	}

	for _, tier := range []struct {
		name string
		t    configtypes.RateLimitTier
	}{
		{"metadata", cfg.RateLimit.Metadata},
		{"download", cfg.RateLimit.Download},
		{"health", cfg.RateLimit.Health},
	} {
		if tier.t.Limit < 1 {
			return fmt.Errorf("rate_limit.%s.limit must be positive", tier.name)
		}
		if tier.t.Window.ToDuration() < time.Second {
			return fmt.Errorf("rate_limit.%s.window must be at least 1s", tier.name)
		}
	}

	if cfg.Stream.Deadline.ToDuration() < time.Second {
		return fmt.Errorf("stream.deadline must be at least 1s")
	}
	if cfg.Stream.ChunkSize < 1024 {
		return fmt.Errorf("stream.chunk_size must be at least 1024 bytes")
	}

	if cfg.Metrics.Enabled {
		if cfg.Metrics.Listen == "" {
			return fmt.Errorf("metrics.listen is required when metrics are enabled")
		}
		if cfg.Metrics.Listen == cfg.Server.Listen {
			return fmt.Errorf("metrics.listen must differ from server.listen")
		}
	}

	if cfg.Cache != nil && cfg.Cache.Enabled {
		if cfg.Cache.Redis.Addr == "" {
			return fmt.Errorf("cache.redis.addr is required when cache is enabled")
		}
		switch cfg.Cache.Compression {
		case types.CompressionNone, types.CompressionSnappy, types.CompressionLZ4:
		default:
			return fmt.Errorf("cache.compression must be one of none, snappy, lz4")
		}
	}

	if cfg.Server.TLS.Enabled {
		if cfg.Server.TLS.Listen == "" || cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			return fmt.Errorf("server.tls requires listen, cert_file and key_file")
		}
	}

	if cfg.EventLogging != nil && cfg.EventLogging.File.Enabled && cfg.EventLogging.File.Path == "" {
		return fmt.Errorf("event_logging.file.path is required when file event logging is enabled")
	}

	return nil
}
