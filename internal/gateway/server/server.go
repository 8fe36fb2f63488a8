// Package server is the public HTTP surface of the gateway: routing,
// security middleware, rate limit enforcement and response shaping.
package server

import (
	"context"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/mediagate/gateway/internal/common/configtypes"
	"github.com/mediagate/gateway/internal/common/httputil"
	"github.com/mediagate/gateway/internal/common/requestid"
	"github.com/mediagate/gateway/internal/gateway/clientip"
	"github.com/mediagate/gateway/internal/gateway/events"
	"github.com/mediagate/gateway/internal/gateway/metrics"
	"github.com/mediagate/gateway/internal/gateway/provider"
	"github.com/mediagate/gateway/internal/gateway/ratelimit"
	"github.com/mediagate/gateway/internal/gateway/upstream"
	"github.com/mediagate/gateway/internal/gateway/validate"
	"github.com/mediagate/gateway/pkg/types"
)

// Extractor is the upstream surface the handlers drive.
// *upstream.Orchestrator implements it; tests substitute stubs.
type Extractor interface {
	FetchMetadata(ctx context.Context, sanitizedURL, videoID, requestID string) (*types.Metadata, error)
	OpenAudioStream(ctx context.Context, sanitizedURL, videoID string, quality types.Quality, requestID string) (*provider.Stream, error)
	OpenVideoStream(ctx context.Context, sanitizedURL, videoID string, quality types.Quality, requestID string) (*provider.Stream, error)
	Health() upstream.HealthSnapshot
}

// MetadataCache is the optional cache surface. Nil means caching is off.
type MetadataCache interface {
	Get(ctx context.Context, sanitizedURL string) (*types.Metadata, error)
	Set(ctx context.Context, sanitizedURL string, metadata *types.Metadata)
	HealthCheck(ctx context.Context) error
}

type Server struct {
	config    *configtypes.GatewayConfig
	logger    *zap.Logger
	validator *validate.Validator
	limiter   *ratelimit.Limiter
	extractor Extractor
	cache     MetadataCache

	metricsCollector *metrics.MetricsCollector
	eventEmitter     events.EventEmitter
	gatewayID        string
	startedAt        time.Time
}

func NewServer(
	config *configtypes.GatewayConfig,
	logger *zap.Logger,
	validator *validate.Validator,
	limiter *ratelimit.Limiter,
	extractor Extractor,
	metadataCache MetadataCache,
	metricsCollector *metrics.MetricsCollector,
	eventEmitter events.EventEmitter,
) *Server {
	if eventEmitter == nil {
		eventEmitter = &events.NoopEmitter{}
	}
	return &Server{
		config:           config,
		logger:           logger,
		validator:        validator,
		limiter:          limiter,
		extractor:        extractor,
		cache:            metadataCache,
		metricsCollector: metricsCollector,
		eventEmitter:     eventEmitter,
		gatewayID:        config.GatewayID,
		startedAt:        time.Now().UTC(),
	}
}

// requestState carries per-request data accumulated across the middleware
// and handler layers, for the access log and metrics.
type requestState struct {
	requestID  string
	operation  string
	clientKey  string
	targetHost string
	videoID    string

	rateLimited   bool
	cacheHit      bool
	bytesSent     int64
	streamOutcome string
	errorType     string

	start time.Time
}

func (s *Server) HandleRequest(ctx *fasthttp.RequestCtx) {
	customRequestID := string(ctx.Request.Header.Peek("X-Request-ID"))
	requestID := requestid.Generate(customRequestID)
	ctx.Response.Header.Set("X-Request-ID", requestID)

	// Protective headers go on every response, errors included.
	setSecurityHeaders(ctx)

	state := &requestState{
		requestID: requestID,
		clientKey: clientip.ClientKey(ctx, s.clientIPHeaders()),
		start:     time.Now(),
	}
	logger := s.logger.With(zap.String("request_id", requestID))

	s.metricsCollector.IncActiveRequests()
	defer s.metricsCollector.DecActiveRequests()

	path := string(ctx.Path())
	switch path {
	case "/healthz":
		state.operation = "health"
		if !ctx.IsGet() {
			s.methodNotAllowed(ctx, state, logger)
			return
		}
		if !s.admit(ctx, state, ratelimit.TierHealth, logger) {
			return
		}
		s.handleHealth(ctx, state, logger)

	case "/media/info":
		state.operation = "info"
		if !ctx.IsPost() {
			s.methodNotAllowed(ctx, state, logger)
			return
		}
		if !s.admit(ctx, state, ratelimit.TierMetadata, logger) {
			return
		}
		s.handleInfo(ctx, state, logger)

	case "/media/audio":
		state.operation = "audio"
		if !ctx.IsPost() {
			s.methodNotAllowed(ctx, state, logger)
			return
		}
		if !s.admit(ctx, state, ratelimit.TierDownload, logger) {
			return
		}
		s.handleStream(ctx, state, logger, streamAudio)

	case "/media/video":
		state.operation = "video"
		if !ctx.IsPost() {
			s.methodNotAllowed(ctx, state, logger)
			return
		}
		if !s.admit(ctx, state, ratelimit.TierDownload, logger) {
			return
		}
		s.handleStream(ctx, state, logger, streamVideo)

	default:
		state.operation = "unknown"
		logger.Warn("Not found", zap.String("path", path))
		httputil.JSONError(ctx, "Endpoint not found", fasthttp.StatusNotFound)
		s.finish(ctx, state, logger)
	}
}

// admit runs the rate limiter for the request's tier. On denial it writes
// the 429 response and finishes the request.
func (s *Server) admit(ctx *fasthttp.RequestCtx, state *requestState, tier ratelimit.Tier, logger *zap.Logger) bool {
	decision := s.limiter.Check(state.clientKey, tier)
	if decision.Allowed {
		return true
	}

	state.rateLimited = true
	state.errorType = "rate_limited"
	s.metricsCollector.RecordRateLimited(string(tier))

	retryAfter := int(decision.RetryAfter.Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}
	logger.Info("Rate limit exceeded",
		zap.String("client_key", state.clientKey),
		zap.String("tier", string(tier)),
		zap.Int("retry_after", retryAfter))

	httputil.JSONRateLimited(ctx, retryAfter)
	s.finish(ctx, state, logger)
	return false
}

// finish records metrics, emits the access-log event and writes the
// request log line. Every terminal path goes through here exactly once.
func (s *Server) finish(ctx *fasthttp.RequestCtx, state *requestState, logger *zap.Logger) {
	duration := time.Since(state.start)
	status := ctx.Response.StatusCode()

	s.metricsCollector.RecordRequest(state.operation, statusLabel(status), duration)
	s.metricsCollector.SetUpstreamDegraded(s.extractor.Health().Degraded)

	s.eventEmitter.Emit(&events.RequestEvent{
		RequestID:     state.requestID,
		GatewayID:     s.gatewayID,
		Method:        string(ctx.Method()),
		Path:          string(ctx.Path()),
		Operation:     state.operation,
		ClientKey:     state.clientKey,
		UserAgent:     truncate(string(ctx.UserAgent()), 64),
		TargetHost:    state.targetHost,
		VideoID:       state.videoID,
		StatusCode:    status,
		BytesSent:     state.bytesSent,
		ServeTime:     duration.Seconds(),
		RateLimited:   state.rateLimited,
		CacheHit:      state.cacheHit,
		StreamOutcome: state.streamOutcome,
		ErrorType:     state.errorType,
		CreatedAt:     time.Now().UTC(),
	})

	// The target stays redacted to its hostname; full URLs never hit logs.
	logger.Info("Request completed",
		zap.String("method", string(ctx.Method())),
		zap.String("path", string(ctx.Path())),
		zap.Int("status", status),
		zap.Duration("duration", duration),
		zap.String("client_key", state.clientKey),
		zap.String("target_host", state.targetHost),
		zap.String("user_agent", truncate(string(ctx.UserAgent()), 64)))
}

func (s *Server) methodNotAllowed(ctx *fasthttp.RequestCtx, state *requestState, logger *zap.Logger) {
	logger.Warn("Method not allowed",
		zap.String("method", string(ctx.Method())),
		zap.String("path", string(ctx.Path())))
	httputil.JSONError(ctx, "Method not allowed", fasthttp.StatusMethodNotAllowed)
	s.finish(ctx, state, logger)
}

func (s *Server) clientIPHeaders() []string {
	if s.config.ClientIP != nil {
		return s.config.ClientIP.Headers
	}
	return nil
}

// Shutdown flushes the access log.
func (s *Server) Shutdown() error {
	return s.eventEmitter.Close()
}

func setSecurityHeaders(ctx *fasthttp.RequestCtx) {
	ctx.Response.Header.Set("X-Content-Type-Options", "nosniff")
	ctx.Response.Header.Set("X-Frame-Options", "DENY")
	ctx.Response.Header.Set("Referrer-Policy", "no-referrer")
	ctx.Response.Header.Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
}

func statusLabel(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500 && status < 600:
		return "5xx"
	}
	return "unknown"
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
