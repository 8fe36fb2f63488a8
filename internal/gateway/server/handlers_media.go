package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/mediagate/gateway/internal/common/httputil"
	"github.com/mediagate/gateway/internal/gateway/events"
	"github.com/mediagate/gateway/internal/gateway/provider"
	"github.com/mediagate/gateway/internal/gateway/streamproxy"
	"github.com/mediagate/gateway/internal/gateway/upstream"
	"github.com/mediagate/gateway/internal/gateway/validate"
	"github.com/mediagate/gateway/pkg/types"
)

type streamKind int

const (
	streamAudio streamKind = iota
	streamVideo
)

func (k streamKind) String() string {
	if k == streamAudio {
		return "audio"
	}
	return "video"
}

func (k streamKind) defaultQuality() types.Quality {
	if k == streamAudio {
		return types.QualityHigh
	}
	return types.QualityBest
}

func (k streamKind) defaultContentType() string {
	if k == streamAudio {
		return "audio/mpeg"
	}
	return "video/mp4"
}

func (k streamKind) fileExtension() string {
	if k == streamAudio {
		return ".mp3"
	}
	return ".mp4"
}

// handleInfo serves POST /media/info: validate, consult the cache, fetch
// from the provider on a miss, respond with clamped metadata.
func (s *Server) handleInfo(ctx *fasthttp.RequestCtx, state *requestState, logger *zap.Logger) {
	defer s.finish(ctx, state, logger)

	target, ok := s.validateRequest(ctx, state, logger, types.QualityHigh)
	if !ok {
		return
	}

	metadata, err := s.lookupMetadata(ctx, state, logger, target)
	if err != nil {
		s.writeUpstreamError(ctx, state, logger, err)
		return
	}

	httputil.JSONData(ctx, metadata, fasthttp.StatusOK)
}

// handleStream serves POST /media/audio and /media/video. Headers are
// committed before the first payload byte; failures after that point are
// logged and cut the connection, the status is already on the wire.
func (s *Server) handleStream(ctx *fasthttp.RequestCtx, state *requestState, logger *zap.Logger, kind streamKind) {
	target, req, ok := s.validateStreamRequest(ctx, state, logger, kind.defaultQuality())
	if !ok {
		s.finish(ctx, state, logger)
		return
	}

	// Metadata first: the download filename and source headers come from
	// it, and a cache hit makes this nearly free.
	metadata, err := s.lookupMetadata(ctx, state, logger, target)
	if err != nil {
		s.writeUpstreamError(ctx, state, logger, err)
		s.finish(ctx, state, logger)
		return
	}

	var stream *provider.Stream
	if kind == streamAudio {
		stream, err = s.extractor.OpenAudioStream(ctx, target.SanitizedURL, target.VideoID, req.Quality, state.requestID)
	} else {
		stream, err = s.extractor.OpenVideoStream(ctx, target.SanitizedURL, target.VideoID, req.Quality, state.requestID)
	}
	if err != nil {
		s.writeUpstreamError(ctx, state, logger, err)
		s.finish(ctx, state, logger)
		return
	}

	contentType := stream.ContentType
	if contentType == "" {
		contentType = kind.defaultContentType()
	}
	filename := streamproxy.SanitizeFilename(metadata.Title, kind.fileExtension())

	ctx.Response.Header.SetContentType(contentType)
	ctx.Response.Header.Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	ctx.Response.Header.Set("X-Source-Title", headerSafe(metadata.Title))
	ctx.Response.Header.Set("X-Source-Duration", fmt.Sprintf("%d", metadata.DurationSeconds))
	if stream.ContentLength > 0 {
		ctx.Response.Header.SetContentLength(int(stream.ContentLength))
	}
	ctx.SetStatusCode(fasthttp.StatusOK)

	session := streamproxy.NewSession(stream.Body,
		time.Duration(s.config.Stream.Deadline), s.config.Stream.ChunkSize, logger)

	// The closure runs while fasthttp serializes the response body, after
	// this handler returns. Everything it needs is captured up front; it
	// must not touch ctx.
	method := string(ctx.Method())
	path := string(ctx.Path())
	kindLabel := kind.String()

	s.metricsCollector.IncActiveStreams()
	ctx.Response.SetBodyStreamWriter(func(w *bufio.Writer) {
		defer s.metricsCollector.DecActiveStreams()

		err := session.Run(w)
		state.bytesSent = session.BytesTransferred()
		state.streamOutcome = session.Outcome().String()

		if err != nil {
			// Past the first byte there is no re-statusing; the record
			// of what happened lives here and in the metrics.
			state.errorType = "stream_" + state.streamOutcome
			logger.Warn("Stream ended abnormally",
				zap.String("stream_kind", kindLabel),
				zap.String("outcome", state.streamOutcome),
				zap.Int64("bytes_transferred", state.bytesSent),
				zap.Error(err))
		}

		s.metricsCollector.RecordStream(kindLabel, state.streamOutcome, state.bytesSent)
		s.finishDetached(state, logger, method, path, fasthttp.StatusOK)
	})
}

// validateRequest decodes and validates a media request body, writing the
// error response itself on failure.
func (s *Server) validateRequest(ctx *fasthttp.RequestCtx, state *requestState, logger *zap.Logger, defaultQuality types.Quality) (*validate.ValidatedTarget, bool) {
	target, _, ok := s.validateStreamRequest(ctx, state, logger, defaultQuality)
	return target, ok
}

func (s *Server) validateStreamRequest(ctx *fasthttp.RequestCtx, state *requestState, logger *zap.Logger, defaultQuality types.Quality) (*validate.ValidatedTarget, *validate.IncomingRequest, bool) {
	req, err := validate.DecodeMediaRequest(ctx.PostBody(), defaultQuality)
	if err != nil {
		s.writeValidationError(ctx, state, logger, err)
		return nil, nil, false
	}

	target, err := s.validator.Validate(ctx, req.RawURL)
	if err != nil {
		s.writeValidationError(ctx, state, logger, err)
		return nil, nil, false
	}

	state.targetHost = target.Hostname
	state.videoID = target.VideoID
	return target, req, true
}

// lookupMetadata consults the cache before the provider. Cache failures
// degrade to provider fetches, never to request failures.
func (s *Server) lookupMetadata(ctx *fasthttp.RequestCtx, state *requestState, logger *zap.Logger, target *validate.ValidatedTarget) (*types.Metadata, error) {
	if s.cache != nil {
		if metadata, err := s.cache.Get(ctx, target.SanitizedURL); err == nil && metadata != nil {
			state.cacheHit = true
			s.metricsCollector.RecordCacheHit()
			logger.Debug("Metadata cache hit", zap.String("video_id", target.VideoID))
			return metadata, nil
		}
		s.metricsCollector.RecordCacheMiss()
	}

	metadata, err := s.extractor.FetchMetadata(ctx, target.SanitizedURL, target.VideoID, state.requestID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.Set(ctx, target.SanitizedURL, metadata)
	}
	return metadata, nil
}

// writeValidationError maps a validation failure to its response. Security
// rejections get a deliberately generic body; the precise reason is logged
// server-side only.
func (s *Server) writeValidationError(ctx *fasthttp.RequestCtx, state *requestState, logger *zap.Logger, err error) {
	var ve *validate.Error
	if !errors.As(err, &ve) {
		state.errorType = "invalid_request"
		httputil.JSONError(ctx, "Invalid request", fasthttp.StatusBadRequest)
		return
	}

	state.errorType = ve.Kind.String()
	s.metricsCollector.RecordRejection(ve.Kind.String())

	if validate.IsSecurityRejection(err) {
		logger.Warn("Request target rejected",
			zap.String("kind", ve.Kind.String()),
			zap.String("client_key", state.clientKey))
		httputil.JSONError(ctx, "The requested URL is not permitted", fasthttp.StatusForbidden)
		return
	}

	logger.Info("Invalid request", zap.String("reason", ve.Message))
	httputil.JSONError(ctx, ve.Message, fasthttp.StatusBadRequest)
}

// writeUpstreamError maps orchestrator failures to client responses.
func (s *Server) writeUpstreamError(ctx *fasthttp.RequestCtx, state *requestState, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, upstream.ErrUpstreamUnavailable):
		state.errorType = "upstream_unavailable"
		httputil.JSONError(ctx, "Service temporarily unavailable", fasthttp.StatusServiceUnavailable)

	case errors.Is(err, fasthttp.ErrTimeout) || errors.Is(err, context.DeadlineExceeded):
		state.errorType = "upstream_timeout"
		httputil.JSONError(ctx, "Request timed out", fasthttp.StatusRequestTimeout)

	default:
		var statusErr *provider.StatusError
		if errors.As(err, &statusErr) && statusErr.Code == fasthttp.StatusNotFound {
			state.errorType = "media_not_found"
			httputil.JSONError(ctx, "Media not found", fasthttp.StatusNotFound)
			return
		}
		state.errorType = "upstream_error"
		logger.Error("Upstream request failed", zap.Error(err))
		httputil.JSONError(ctx, "Failed to process media request", fasthttp.StatusBadGateway)
	}
}

// finishDetached is finish for paths that outlive the request handler,
// where ctx may no longer be touched.
func (s *Server) finishDetached(state *requestState, logger *zap.Logger, method, path string, status int) {
	duration := time.Since(state.start)

	s.metricsCollector.RecordRequest(state.operation, statusLabel(status), duration)

	s.eventEmitter.Emit(&events.RequestEvent{
		RequestID:     state.requestID,
		GatewayID:     s.gatewayID,
		Method:        method,
		Path:          path,
		Operation:     state.operation,
		ClientKey:     state.clientKey,
		TargetHost:    state.targetHost,
		VideoID:       state.videoID,
		StatusCode:    status,
		BytesSent:     state.bytesSent,
		ServeTime:     duration.Seconds(),
		CacheHit:      state.cacheHit,
		StreamOutcome: state.streamOutcome,
		ErrorType:     state.errorType,
		CreatedAt:     time.Now().UTC(),
	})

	logger.Info("Request completed",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", status),
		zap.Duration("duration", duration),
		zap.String("client_key", state.clientKey),
		zap.String("target_host", state.targetHost),
		zap.String("stream_outcome", state.streamOutcome),
		zap.Int64("bytes_sent", state.bytesSent))
}

// headerSafe strips characters that would break or split an HTTP header.
func headerSafe(value string) string {
	out := make([]byte, 0, len(value))
	for i := 0; i < len(value); i++ {
		c := value[i]
		if c >= 0x20 && c != 0x7f {
			out = append(out, c)
		}
	}
	return string(out)
}
