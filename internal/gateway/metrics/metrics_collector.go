package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// MetricsCollector centralizes all metrics recording with proper labeling
type MetricsCollector struct {
	prometheus *PrometheusMetrics
	logger     *zap.Logger
}

// NewMetricsCollector creates a new MetricsCollector instance
func NewMetricsCollector(namespace string, logger *zap.Logger) *MetricsCollector {
	return &MetricsCollector{
		prometheus: NewPrometheusMetrics(namespace, logger),
		logger:     logger,
	}
}

// NewMetricsCollectorWithRegistry is used by tests to avoid default
// registry collisions.
func NewMetricsCollectorWithRegistry(namespace string, registerer prometheus.Registerer, logger *zap.Logger) *MetricsCollector {
	return &MetricsCollector{
		prometheus: NewPrometheusMetricsWithRegistry(namespace, registerer, logger),
		logger:     logger,
	}
}

// RecordRequest records a finished request with timing
func (mc *MetricsCollector) RecordRequest(operation, status string, duration time.Duration) {
	mc.prometheus.RecordRequest(operation, status, duration)

	mc.logger.Debug("Recorded request metric",
		zap.String("operation", operation),
		zap.String("status", status),
		zap.Duration("duration", duration))
}

// RecordRejection records a URL validation rejection
func (mc *MetricsCollector) RecordRejection(kind string) {
	mc.prometheus.RecordRejection(kind)
}

// RecordRateLimited records a limiter denial
func (mc *MetricsCollector) RecordRateLimited(tier string) {
	mc.prometheus.RecordRateLimited(tier)
}

// RecordUpstreamCall records an extraction service call
func (mc *MetricsCollector) RecordUpstreamCall(operation, outcome string, duration time.Duration) {
	mc.prometheus.RecordUpstreamAttempt(operation, outcome)
	mc.prometheus.RecordUpstreamDuration(operation, duration)

	mc.logger.Debug("Recorded upstream call metric",
		zap.String("operation", operation),
		zap.String("outcome", outcome),
		zap.Duration("duration", duration))
}

// SetUpstreamDegraded mirrors the orchestrator health signal into a gauge
func (mc *MetricsCollector) SetUpstreamDegraded(degraded bool) {
	mc.prometheus.SetUpstreamDegraded(degraded)
}

// RecordStream records a finished stream session
func (mc *MetricsCollector) RecordStream(kind, outcome string, bytes int64) {
	mc.prometheus.RecordStream(kind, outcome, bytes)

	mc.logger.Debug("Recorded stream metric",
		zap.String("kind", kind),
		zap.String("outcome", outcome),
		zap.Int64("bytes", bytes))
}

// RecordCacheHit records a metadata cache hit
func (mc *MetricsCollector) RecordCacheHit() {
	mc.prometheus.RecordCacheHit()
}

// RecordCacheMiss records a metadata cache miss
func (mc *MetricsCollector) RecordCacheMiss() {
	mc.prometheus.RecordCacheMiss()
}

// IncActiveRequests increments the active request gauge
func (mc *MetricsCollector) IncActiveRequests() {
	mc.prometheus.IncActiveRequests()
}

// DecActiveRequests decrements the active request gauge
func (mc *MetricsCollector) DecActiveRequests() {
	mc.prometheus.DecActiveRequests()
}

// IncActiveStreams increments the open stream gauge
func (mc *MetricsCollector) IncActiveStreams() {
	mc.prometheus.IncActiveStreams()
}

// DecActiveStreams decrements the open stream gauge
func (mc *MetricsCollector) DecActiveStreams() {
	mc.prometheus.DecActiveStreams()
}

// ServeHTTP serves the Prometheus scrape endpoint
func (mc *MetricsCollector) ServeHTTP(ctx *fasthttp.RequestCtx) {
	mc.prometheus.ServeHTTP(ctx)
}
