// Package upstream coordinates calls to the extraction provider: retry on
// transient failure, degrade fast when the provider looks unhealthy, and
// keep provider internals out of client-facing errors.
package upstream

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/mediagate/gateway/internal/gateway/provider"
	"github.com/mediagate/gateway/pkg/types"
)

// ErrUpstreamUnavailable is the only error the orchestrator surfaces on
// exhausted retries or a degraded provider. Raw transport errors stay in
// the logs.
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

// Provider is the extraction service surface the orchestrator drives.
// *provider.Client implements it; tests substitute stubs.
type Provider interface {
	FetchMetadata(ctx context.Context, sanitizedURL, videoID, requestID string) (*types.Metadata, error)
	OpenAudioStream(ctx context.Context, sanitizedURL, videoID string, quality types.Quality, requestID string) (*provider.Stream, error)
	OpenVideoStream(ctx context.Context, sanitizedURL, videoID string, quality types.Quality, requestID string) (*provider.Stream, error)
}

// CallRecorder receives one observation per provider call attempt.
// *metrics.MetricsCollector implements it.
type CallRecorder interface {
	RecordUpstreamCall(operation, outcome string, duration time.Duration)
}

type noopRecorder struct{}

func (noopRecorder) RecordUpstreamCall(string, string, time.Duration) {}

// Orchestrator retries provider calls and tracks a health signal.
type Orchestrator struct {
	provider    Provider
	health      *healthSignal
	maxAttempts int
	baseDelay   time.Duration
	logger      *zap.Logger
	recorder    CallRecorder
	sleep       func(ctx context.Context, d time.Duration) error
}

// New builds an orchestrator. probeWindow is how long after a failure with
// no subsequent success the provider is considered degraded.
func New(p Provider, maxAttempts int, baseDelay, probeWindow time.Duration, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		provider:    p,
		health:      newHealthSignal(probeWindow),
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		logger:      logger,
		recorder:    noopRecorder{},
		sleep:       sleepCtx,
	}
}

// WithRecorder attaches a metrics recorder for per-attempt observations.
func (o *Orchestrator) WithRecorder(r CallRecorder) *Orchestrator {
	o.recorder = r
	return o
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Health returns a snapshot of the provider health signal.
func (o *Orchestrator) Health() HealthSnapshot {
	return o.health.snapshot()
}

// FetchMetadata calls the provider with retries. Metadata lookups are cheap
// enough to try even when the signal says degraded; they double as probes.
func (o *Orchestrator) FetchMetadata(ctx context.Context, sanitizedURL, videoID, requestID string) (*types.Metadata, error) {
	var metadata *types.Metadata
	err := o.withRetries(ctx, requestID, "metadata", func() error {
		var callErr error
		metadata, callErr = o.provider.FetchMetadata(ctx, sanitizedURL, videoID, requestID)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return metadata, nil
}

// OpenAudioStream opens an audio stream, short-circuiting when degraded.
func (o *Orchestrator) OpenAudioStream(ctx context.Context, sanitizedURL, videoID string, quality types.Quality, requestID string) (*provider.Stream, error) {
	return o.openStream(ctx, requestID, "audio", func() (*provider.Stream, error) {
		return o.provider.OpenAudioStream(ctx, sanitizedURL, videoID, quality, requestID)
	})
}

// OpenVideoStream opens a video stream, short-circuiting when degraded.
func (o *Orchestrator) OpenVideoStream(ctx context.Context, sanitizedURL, videoID string, quality types.Quality, requestID string) (*provider.Stream, error) {
	return o.openStream(ctx, requestID, "video", func() (*provider.Stream, error) {
		return o.provider.OpenVideoStream(ctx, sanitizedURL, videoID, quality, requestID)
	})
}

func (o *Orchestrator) openStream(ctx context.Context, requestID, kind string, open func() (*provider.Stream, error)) (*provider.Stream, error) {
	// Streams hold a provider worker for minutes. When the provider failed
	// recently and has not recovered, refuse up front instead of queueing
	// more doomed work behind it.
	if o.health.degraded() {
		o.logger.Warn("Refusing stream open, upstream is degraded",
			zap.String("request_id", requestID),
			zap.String("stream_kind", kind))
		return nil, ErrUpstreamUnavailable
	}

	var stream *provider.Stream
	err := o.withRetries(ctx, requestID, kind, func() error {
		var callErr error
		stream, callErr = open()
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return stream, nil
}

// withRetries runs call up to maxAttempts times. Provider 4xx answers are
// returned immediately; transport failures and 5xx are retried with
// linear backoff plus jitter.
func (o *Orchestrator) withRetries(ctx context.Context, requestID, operation string, call func() error) error {
	var lastErr error

	for attempt := 1; attempt <= o.maxAttempts; attempt++ {
		if attempt > 1 {
			delay := o.backoff(attempt - 1)
			o.logger.Debug("Retrying upstream call",
				zap.String("request_id", requestID),
				zap.String("operation", operation),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay))
			if err := o.sleep(ctx, delay); err != nil {
				return err
			}
		}

		started := time.Now()
		err := call()
		elapsed := time.Since(started)
		if err == nil {
			o.recorder.RecordUpstreamCall(operation, "success", elapsed)
			o.health.recordSuccess()
			return nil
		}

		var statusErr *provider.StatusError
		if errors.As(err, &statusErr) && statusErr.Code >= 400 && statusErr.Code < 500 {
			// The provider understood the request and rejected it.
			// Retrying cannot change the answer.
			o.recorder.RecordUpstreamCall(operation, "rejected", elapsed)
			o.health.recordSuccess()
			return err
		}

		o.recorder.RecordUpstreamCall(operation, "retryable", elapsed)
		o.health.recordFailure()
		lastErr = err
		o.logger.Warn("Upstream call failed",
			zap.String("request_id", requestID),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", o.maxAttempts),
			zap.Error(err))
	}

	o.logger.Error("Upstream call exhausted retries",
		zap.String("request_id", requestID),
		zap.String("operation", operation),
		zap.Int("attempts", o.maxAttempts),
		zap.Error(lastErr))
	return ErrUpstreamUnavailable
}

// backoff is baseDelay*n with up to 25% jitter to avoid retry alignment
// across concurrent requests.
func (o *Orchestrator) backoff(n int) time.Duration {
	delay := o.baseDelay * time.Duration(n)
	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	return delay + jitter
}
