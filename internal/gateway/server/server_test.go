package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/mediagate/gateway/internal/common/configtypes"
	"github.com/mediagate/gateway/internal/gateway/metrics"
	"github.com/mediagate/gateway/internal/gateway/provider"
	"github.com/mediagate/gateway/internal/gateway/ratelimit"
	"github.com/mediagate/gateway/internal/gateway/upstream"
	"github.com/mediagate/gateway/internal/gateway/validate"
	"github.com/mediagate/gateway/pkg/types"
)

// stubExtractor is a scriptable Extractor.
type stubExtractor struct {
	metadata    *types.Metadata
	metadataErr error
	streamBody  string
	streamErr   error
	degraded    bool
}

func (e *stubExtractor) FetchMetadata(_ context.Context, _, videoID, _ string) (*types.Metadata, error) {
	if e.metadataErr != nil {
		return nil, e.metadataErr
	}
	if e.metadata != nil {
		return e.metadata, nil
	}
	return &types.Metadata{
		ID:              videoID,
		Title:           "Never Gonna Give You Up",
		DurationSeconds: 213,
		Author:          "Rick Astley",
	}, nil
}

func (e *stubExtractor) openStream() (*provider.Stream, error) {
	if e.streamErr != nil {
		return nil, e.streamErr
	}
	return &provider.Stream{
		Body:          io.NopCloser(strings.NewReader(e.streamBody)),
		ContentType:   "audio/mpeg",
		ContentLength: int64(len(e.streamBody)),
	}, nil
}

func (e *stubExtractor) OpenAudioStream(context.Context, string, string, types.Quality, string) (*provider.Stream, error) {
	return e.openStream()
}

func (e *stubExtractor) OpenVideoStream(context.Context, string, string, types.Quality, string) (*provider.Stream, error) {
	return e.openStream()
}

func (e *stubExtractor) Health() upstream.HealthSnapshot {
	return upstream.HealthSnapshot{Degraded: e.degraded}
}

func testConfig() *configtypes.GatewayConfig {
	off := false
	return &configtypes.GatewayConfig{
		Upstream: configtypes.UpstreamConfig{BaseURL: "http://provider.internal:9000"},
		RateLimit: configtypes.RateLimitConfig{
			Metadata: configtypes.RateLimitTier{Limit: 5, Window: types.Duration(time.Minute)},
			Download: configtypes.RateLimitTier{Limit: 5, Window: types.Duration(time.Minute)},
			Health:   configtypes.RateLimitTier{Limit: 120, Window: types.Duration(time.Minute)},
		},
		Stream: configtypes.StreamConfig{
			Deadline:  types.Duration(5 * time.Second),
			ChunkSize: 32 * 1024,
		},
		Validation: configtypes.ValidationConfig{
			AllowedDomains: []string{"youtube.com", "www.youtube.com", "m.youtube.com", "music.youtube.com", "youtu.be"},
			AllowedParams:  []string{"v", "t", "list"},
			ResolveCheck:   &off,
		},
		GatewayID: "gw-test-1",
	}
}

func setupTestServer(t *testing.T, extractor Extractor) *Server {
	t.Helper()
	cfg := testConfig()
	collector := metrics.NewMetricsCollectorWithRegistry("mediagate", prometheus.NewRegistry(), zap.NewNop())
	return NewServer(
		cfg,
		zap.NewNop(),
		validate.NewValidator(cfg.Validation),
		ratelimit.NewLimiter(cfg.RateLimit),
		extractor,
		nil,
		collector,
		nil,
	)
}

func doRequest(s *Server, method, uri, body string, clientAddr string) *fasthttp.RequestCtx {
	var req fasthttp.Request
	req.Header.SetMethod(method)
	req.SetRequestURI(uri)
	if body != "" {
		req.Header.SetContentType("application/json")
		req.SetBodyString(body)
	}

	ctx := &fasthttp.RequestCtx{}
	addr, _ := net.ResolveTCPAddr("tcp", clientAddr)
	ctx.Init(&req, addr, nil)

	s.HandleRequest(ctx)
	return ctx
}

func decodeAPIResponse(t *testing.T, ctx *fasthttp.RequestCtx) (bool, string, map[string]interface{}) {
	t.Helper()
	var resp struct {
		Success bool                   `json:"success"`
		Message string                 `json:"message"`
		Data    map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &resp))
	return resp.Success, resp.Message, resp.Data
}

func TestMediaInfoHappyPath(t *testing.T) {
	s := setupTestServer(t, &stubExtractor{})

	ctx := doRequest(s, "POST", "/media/info",
		`{"url":"https://www.youtube.com/watch?v=dQw4w9WgXcQ"}`, "203.0.113.7:4000")

	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	success, _, data := decodeAPIResponse(t, ctx)
	assert.True(t, success)
	assert.Equal(t, "dQw4w9WgXcQ", data["id"])
	assert.Equal(t, "Never Gonna Give You Up", data["title"])
	assert.Equal(t, float64(213), data["durationSeconds"])
	assert.Equal(t, "Rick Astley", data["author"])
}

func TestSecurityHeadersOnEveryResponse(t *testing.T) {
	s := setupTestServer(t, &stubExtractor{})

	for _, tc := range []struct {
		method, uri, body string
	}{
		{"POST", "/media/info", `{"url":"https://www.youtube.com/watch?v=dQw4w9WgXcQ"}`},
		{"POST", "/media/info", `not json`},
		{"GET", "/nope", ""},
	} {
		ctx := doRequest(s, tc.method, tc.uri, tc.body, "203.0.113.7:4000")
		assert.Equal(t, "nosniff", string(ctx.Response.Header.Peek("X-Content-Type-Options")), tc.uri)
		assert.Equal(t, "DENY", string(ctx.Response.Header.Peek("X-Frame-Options")), tc.uri)
		assert.Equal(t, "no-referrer", string(ctx.Response.Header.Peek("Referrer-Policy")), tc.uri)
		assert.NotEmpty(t, string(ctx.Response.Header.Peek("Strict-Transport-Security")), tc.uri)
		assert.NotEmpty(t, string(ctx.Response.Header.Peek("X-Request-ID")), tc.uri)
	}
}

func TestPrivateAddressTargetsRejectedWithoutEcho(t *testing.T) {
	s := setupTestServer(t, &stubExtractor{})

	targets := []string{
		"http://127.0.0.1/x",
		"http://169.254.169.254/latest",
		"http://10.0.0.5/",
		"http://192.168.1.1/",
	}
	for _, target := range targets {
		ctx := doRequest(s, "POST", "/media/info",
			fmt.Sprintf(`{"url":"%s"}`, target), "203.0.113.7:4000")

		assert.Equal(t, fasthttp.StatusForbidden, ctx.Response.StatusCode(), target)
		// The rejected address must never appear in the response.
		host := strings.TrimPrefix(strings.TrimPrefix(target, "http://"), "https://")
		host = strings.SplitN(host, "/", 2)[0]
		assert.NotContains(t, string(ctx.Response.Body()), host, target)
	}
}

func TestDisallowedDomainRejected(t *testing.T) {
	s := setupTestServer(t, &stubExtractor{})

	ctx := doRequest(s, "POST", "/media/info",
		`{"url":"https://example.com/video"}`, "203.0.113.7:4000")

	assert.Equal(t, fasthttp.StatusForbidden, ctx.Response.StatusCode())
	assert.NotContains(t, string(ctx.Response.Body()), "example.com")
}

func TestMalformedBodiesRejected(t *testing.T) {
	s := setupTestServer(t, &stubExtractor{})

	for _, body := range []string{
		``,
		`not json`,
		`{"quality":"high"}`,
		`{"url":"https://www.youtube.com/watch?v=dQw4w9WgXcQ","quality":"ultra"}`,
	} {
		ctx := doRequest(s, "POST", "/media/info", body, "203.0.113.7:4000")
		assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode(), body)
	}
}

func TestMethodAndPathRouting(t *testing.T) {
	s := setupTestServer(t, &stubExtractor{})

	ctx := doRequest(s, "GET", "/media/info", "", "203.0.113.7:4000")
	assert.Equal(t, fasthttp.StatusMethodNotAllowed, ctx.Response.StatusCode())

	ctx = doRequest(s, "POST", "/healthz", "", "203.0.113.7:4000")
	assert.Equal(t, fasthttp.StatusMethodNotAllowed, ctx.Response.StatusCode())

	ctx = doRequest(s, "GET", "/media/unknown", "", "203.0.113.7:4000")
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())
}

func TestRateLimitEnforcedPerClient(t *testing.T) {
	s := setupTestServer(t, &stubExtractor{})
	body := `{"url":"https://www.youtube.com/watch?v=dQw4w9WgXcQ"}`

	var denied int
	for i := 0; i < 20; i++ {
		ctx := doRequest(s, "POST", "/media/info", body, "203.0.113.7:4000")
		if ctx.Response.StatusCode() == fasthttp.StatusTooManyRequests {
			denied++
			assert.NotEmpty(t, string(ctx.Response.Header.Peek("Retry-After")))
		}
	}
	assert.Equal(t, 15, denied, "limit 5 per window leaves 15 of 20 denied")

	// Another client is unaffected.
	ctx := doRequest(s, "POST", "/media/info", body, "198.51.100.9:4000")
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
}

func TestUpstreamUnavailableMapsTo503(t *testing.T) {
	s := setupTestServer(t, &stubExtractor{metadataErr: upstream.ErrUpstreamUnavailable})

	ctx := doRequest(s, "POST", "/media/info",
		`{"url":"https://www.youtube.com/watch?v=dQw4w9WgXcQ"}`, "203.0.113.7:4000")

	assert.Equal(t, fasthttp.StatusServiceUnavailable, ctx.Response.StatusCode())
}

func TestProviderNotFoundMapsTo404(t *testing.T) {
	s := setupTestServer(t, &stubExtractor{metadataErr: &provider.StatusError{Code: fasthttp.StatusNotFound}})

	ctx := doRequest(s, "POST", "/media/info",
		`{"url":"https://www.youtube.com/watch?v=dQw4w9WgXcQ"}`, "203.0.113.7:4000")

	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())
}

func TestStreamOpenFailureMapsPreHeaders(t *testing.T) {
	s := setupTestServer(t, &stubExtractor{streamErr: upstream.ErrUpstreamUnavailable})

	ctx := doRequest(s, "POST", "/media/audio",
		`{"url":"https://www.youtube.com/watch?v=dQw4w9WgXcQ"}`, "203.0.113.7:4000")

	assert.Equal(t, fasthttp.StatusServiceUnavailable, ctx.Response.StatusCode())
}

func TestStreamOpenTimeoutMapsTo408(t *testing.T) {
	s := setupTestServer(t, &stubExtractor{streamErr: context.DeadlineExceeded})

	ctx := doRequest(s, "POST", "/media/audio",
		`{"url":"https://www.youtube.com/watch?v=dQw4w9WgXcQ"}`, "203.0.113.7:4000")

	assert.Equal(t, fasthttp.StatusRequestTimeout, ctx.Response.StatusCode())
}

func TestHealthEndpoint(t *testing.T) {
	s := setupTestServer(t, &stubExtractor{})

	ctx := doRequest(s, "GET", "/healthz", "", "203.0.113.7:4000")
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	var resp healthResponse
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.GreaterOrEqual(t, resp.UptimeSeconds, int64(0))
	assert.False(t, resp.Timestamp.IsZero())
	assert.Zero(t, resp.Goroutines)
}

func TestHealthVerbose(t *testing.T) {
	s := setupTestServer(t, &stubExtractor{degraded: true})

	ctx := doRequest(s, "GET", "/healthz?verbose=1", "", "203.0.113.7:4000")
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	var resp healthResponse
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &resp))
	assert.Greater(t, resp.Goroutines, 0)
	require.NotNil(t, resp.Upstream)
	assert.True(t, resp.Upstream.Degraded)
	require.NotNil(t, resp.Memory)
}

func TestHeaderSafe(t *testing.T) {
	assert.Equal(t, "clean title", headerSafe("clean title"))
	assert.Equal(t, "splitattempt", headerSafe("split\r\nattempt"))
	assert.Equal(t, "nul", headerSafe("nul\x00"))
}

// fakeCache is an in-memory MetadataCache.
type fakeCache struct {
	entries map[string]*types.Metadata
	pingErr error
}

func (c *fakeCache) Get(_ context.Context, url string) (*types.Metadata, error) {
	return c.entries[url], nil
}

func (c *fakeCache) Set(_ context.Context, url string, md *types.Metadata) {
	c.entries[url] = md
}

func (c *fakeCache) HealthCheck(context.Context) error { return c.pingErr }

func TestMetadataCachePopulatedAndServed(t *testing.T) {
	extractor := &stubExtractor{}
	s := setupTestServer(t, extractor)
	s.cache = &fakeCache{entries: map[string]*types.Metadata{}}

	body := `{"url":"https://www.youtube.com/watch?v=dQw4w9WgXcQ"}`
	ctx := doRequest(s, "POST", "/media/info", body, "203.0.113.7:4000")
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	// Second call is served from the cache even if the provider dies.
	extractor.metadataErr = errors.New("provider is gone")
	ctx = doRequest(s, "POST", "/media/info", body, "203.0.113.7:4000")
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
}
