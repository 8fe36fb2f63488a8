package gateway_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/valyala/fasthttp"

	"github.com/mediagate/gateway/internal/common/config"
	"github.com/mediagate/gateway/internal/common/logger"
	"github.com/mediagate/gateway/internal/gateway/cache"
	"github.com/mediagate/gateway/internal/gateway/metrics"
	"github.com/mediagate/gateway/internal/gateway/provider"
	"github.com/mediagate/gateway/internal/gateway/ratelimit"
	"github.com/mediagate/gateway/internal/gateway/server"
	"github.com/mediagate/gateway/internal/gateway/upstream"
	"github.com/mediagate/gateway/internal/gateway/validate"
	"github.com/mediagate/gateway/pkg/types"
)

// testAudioBody is the payload the mock provider streams for audio requests.
var testAudioBody = bytes.Repeat([]byte("mock-audio-frame."), 512)

// testVideoBody is the payload the mock provider streams for video requests.
var testVideoBody = bytes.Repeat([]byte("mock-video-frame."), 1024)

const configTemplate = `server:
  listen: "127.0.0.1:0"
  timeout: 5s
upstream:
  base_url: "%s"
  request_timeout: 2s
  max_attempts: 2
  base_delay: 10ms
  health_probe_window: 300ms
rate_limit:
  metadata:
    limit: 30
    window: 1m
  download:
    limit: 3
    window: 1m
  health:
    limit: 120
    window: 1m
stream:
  deadline: 5s
  chunk_size: 4096
validation:
  resolve_check: false
cache:
  enabled: true
  redis:
    addr: "%s"
  ttl: 5m
  compression: snappy
log:
  level: error
metrics:
  enabled: false
client_ip:
  headers:
    - X-Forwarded-For
gateway_id: gw-acceptance
`

// GatewayTestEnvironment hosts a full gateway instance wired to a mock
// extraction provider and an in-process Redis.
type GatewayTestEnvironment struct {
	Redis       *miniredis.Miniredis
	GatewayAddr string

	mockProvider *httptest.Server
	gatewaySrv   *fasthttp.Server
	listener     net.Listener
	publicSrv    *server.Server
	metadataSvc  *cache.MetadataCache

	mu             sync.Mutex
	metadataCalls  int
	audioCalls     int
	videoCalls     int
	failExtraction bool
}

func NewGatewayTestEnvironment() *GatewayTestEnvironment {
	return &GatewayTestEnvironment{}
}

// Start brings up miniredis, the mock provider and the gateway itself.
func (e *GatewayTestEnvironment) Start() error {
	var err error
	e.Redis, err = miniredis.Run()
	if err != nil {
		return fmt.Errorf("failed to start miniredis: %w", err)
	}

	e.mockProvider = httptest.NewServer(http.HandlerFunc(e.handleProviderRequest))

	configDir, err := os.MkdirTemp("", "media-gateway-acceptance-*")
	if err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	configPath := filepath.Join(configDir, "media-gateway.yaml")
	configBody := fmt.Sprintf(configTemplate, e.mockProvider.URL, e.Redis.Addr())
	if err := os.WriteFile(configPath, []byte(configBody), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.NewLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	metricsCollector := metrics.NewMetricsCollectorWithRegistry(
		cfg.Metrics.Namespace,
		prometheus.NewRegistry(),
		log.Logger,
	)

	providerClient := provider.NewClient(
		cfg.Upstream.BaseURL,
		cfg.Upstream.RequestTimeout.ToDuration(),
		log.Logger,
	)
	extractor := upstream.New(
		providerClient,
		cfg.Upstream.MaxAttempts,
		cfg.Upstream.BaseDelay.ToDuration(),
		cfg.Upstream.HealthProbeWindow.ToDuration(),
		log.Logger,
	).WithRecorder(metricsCollector)

	metadataCache, err := cache.New(cfg.Cache, log.Logger)
	if err != nil {
		return fmt.Errorf("failed to connect cache: %w", err)
	}
	e.metadataSvc = metadataCache

	e.publicSrv = server.NewServer(
		cfg,
		log.Logger,
		validate.NewValidator(cfg.Validation),
		ratelimit.NewLimiter(cfg.RateLimit),
		extractor,
		metadataCache,
		metricsCollector,
		nil,
	)

	e.listener, err = net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	e.GatewayAddr = e.listener.Addr().String()

	e.gatewaySrv = &fasthttp.Server{
		Handler:               e.publicSrv.HandleRequest,
		NoDefaultServerHeader: true,
	}
	go e.gatewaySrv.Serve(e.listener)

	return nil
}

// Stop tears the environment down in reverse order.
func (e *GatewayTestEnvironment) Stop() {
	if e.gatewaySrv != nil {
		e.gatewaySrv.Shutdown()
	}
	if e.publicSrv != nil {
		e.publicSrv.Shutdown()
	}
	if e.metadataSvc != nil {
		e.metadataSvc.Close()
	}
	if e.mockProvider != nil {
		e.mockProvider.Close()
	}
	if e.Redis != nil {
		e.Redis.Close()
	}
}

// CheckHealth probes the gateway health endpoint.
func (e *GatewayTestEnvironment) CheckHealth() bool {
	resp, _, err := e.Get("/healthz", "198.51.100.250")
	return err == nil && resp.StatusCode == http.StatusOK
}

func (e *GatewayTestEnvironment) handleProviderRequest(w http.ResponseWriter, r *http.Request) {
	e.mu.Lock()
	fail := e.failExtraction
	switch r.URL.Path {
	case "/extract/metadata":
		e.metadataCalls++
	case "/extract/audio":
		e.audioCalls++
	case "/extract/video":
		e.videoCalls++
	}
	e.mu.Unlock()

	if fail {
		http.Error(w, "extraction backend down", http.StatusInternalServerError)
		return
	}

	switch r.URL.Path {
	case "/extract/metadata":
		metadata := types.Metadata{
			ID:              "dQw4w9WgXcQ",
			Title:           "Never Gonna Give You Up",
			DurationSeconds: 213,
			Author:          "Rick Astley",
			AudioFormats: []types.Format{
				{Quality: "high", MimeType: "audio/mpeg", Bitrate: 192000},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(&metadata)
	case "/extract/audio":
		w.Header().Set("Content-Type", "audio/mpeg")
		w.WriteHeader(http.StatusOK)
		w.Write(testAudioBody)
	case "/extract/video":
		w.Header().Set("Content-Type", "video/mp4")
		w.WriteHeader(http.StatusOK)
		w.Write(testVideoBody)
	default:
		http.NotFound(w, r)
	}
}

// SetFailExtraction toggles provider failure injection.
func (e *GatewayTestEnvironment) SetFailExtraction(fail bool) {
	e.mu.Lock()
	e.failExtraction = fail
	e.mu.Unlock()
}

// MetadataCalls returns how many metadata extractions the provider served.
func (e *GatewayTestEnvironment) MetadataCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.metadataCalls
}

// PostJSON sends a JSON body to the gateway. clientIP is placed in
// X-Forwarded-For so specs get independent rate-limit buckets.
func (e *GatewayTestEnvironment) PostJSON(path, clientIP, body string) (*http.Response, []byte, error) {
	req, err := http.NewRequest(http.MethodPost, "http://"+e.GatewayAddr+path, bytes.NewBufferString(body))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if clientIP != "" {
		req.Header.Set("X-Forwarded-For", clientIP)
	}
	return e.do(req)
}

// Get sends a GET request to the gateway.
func (e *GatewayTestEnvironment) Get(path, clientIP string) (*http.Response, []byte, error) {
	req, err := http.NewRequest(http.MethodGet, "http://"+e.GatewayAddr+path, nil)
	if err != nil {
		return nil, nil, err
	}
	if clientIP != "" {
		req.Header.Set("X-Forwarded-For", clientIP)
	}
	return e.do(req)
}

func (e *GatewayTestEnvironment) do(req *http.Request) (*http.Response, []byte, error) {
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, nil, err
	}
	return resp, body, nil
}
