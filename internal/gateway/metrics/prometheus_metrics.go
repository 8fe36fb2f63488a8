package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"
)

// PrometheusMetrics provides high-performance metrics collection using Prometheus
type PrometheusMetrics struct {
	// Request metrics
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	activeRequests  prometheus.Gauge

	// Security metrics
	rejectionsTotal  *prometheus.CounterVec
	rateLimitedTotal *prometheus.CounterVec

	// Upstream metrics
	upstreamAttempts *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	upstreamDegraded prometheus.Gauge

	// Stream metrics
	streamsTotal  *prometheus.CounterVec
	streamBytes   *prometheus.CounterVec
	activeStreams prometheus.Gauge

	// Cache metrics
	cacheHitsTotal   prometheus.Counter
	cacheMissesTotal prometheus.Counter
	cacheHitRatio    prometheus.Gauge

	logger      *zap.Logger
	httpHandler func(*fasthttp.RequestCtx)
}

// NewPrometheusMetrics creates a new Prometheus-based metrics collector
func NewPrometheusMetrics(namespace string, logger *zap.Logger) *PrometheusMetrics {
	return NewPrometheusMetricsWithRegistry(namespace, prometheus.DefaultRegisterer, logger)
}

// NewPrometheusMetricsWithRegistry creates a new Prometheus-based metrics collector with custom registry
func NewPrometheusMetricsWithRegistry(namespace string, registerer prometheus.Registerer, logger *zap.Logger) *PrometheusMetrics {
	pm := &PrometheusMetrics{
		logger: logger,
	}

	pm.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gw",
			Name:      "requests_total",
			Help:      "Total number of requests processed",
		},
		[]string{"operation", "status"},
	)

	pm.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gw",
			Name:      "request_duration_seconds",
			Help:      "Time taken to process requests",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation", "status"},
	)

	pm.activeRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gw",
			Name:      "active_requests",
			Help:      "Number of currently active requests",
		},
	)

	pm.rejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gw",
			Name:      "validation_rejections_total",
			Help:      "Total URL validation rejections by kind",
		},
		[]string{"kind"},
	)

	pm.rateLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gw",
			Name:      "rate_limited_total",
			Help:      "Total requests denied by the rate limiter",
		},
		[]string{"tier"},
	)

	pm.upstreamAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "attempts_total",
			Help:      "Total extraction service call attempts by outcome",
		},
		[]string{"operation", "outcome"}, // outcome: success, retryable, rejected
	)

	pm.upstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "call_duration_seconds",
			Help:      "Time taken by extraction service calls",
			Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
		},
		[]string{"operation"},
	)

	pm.upstreamDegraded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "degraded",
			Help:      "1 when the extraction service is considered degraded",
		},
	)

	pm.streamsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "sessions_total",
			Help:      "Total stream sessions by terminal outcome",
		},
		[]string{"kind", "outcome"}, // outcome: completed, aborted, timed_out
	)

	pm.streamBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "bytes_total",
			Help:      "Total bytes proxied to clients",
		},
		[]string{"kind"},
	)

	pm.activeStreams = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "active_sessions",
			Help:      "Number of currently open stream sessions",
		},
	)

	pm.cacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total metadata cache hits",
		},
	)

	pm.cacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total metadata cache misses",
		},
	)

	pm.cacheHitRatio = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hit_ratio",
			Help:      "Metadata cache hit ratio (0-1)",
		},
	)

	registerer.MustRegister(
		pm.requestsTotal,
		pm.requestDuration,
		pm.activeRequests,
		pm.rejectionsTotal,
		pm.rateLimitedTotal,
		pm.upstreamAttempts,
		pm.upstreamDuration,
		pm.upstreamDegraded,
		pm.streamsTotal,
		pm.streamBytes,
		pm.activeStreams,
		pm.cacheHitsTotal,
		pm.cacheMissesTotal,
		pm.cacheHitRatio,
	)

	// Create HTTP handler - registerer implements Gatherer interface
	gatherer, ok := registerer.(prometheus.Gatherer)
	if !ok {
		gatherer = prometheus.DefaultGatherer
	}
	pm.httpHandler = fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	logger.Debug("Prometheus metrics initialized")
	return pm
}

// RecordRequest records a finished request with timing
func (pm *PrometheusMetrics) RecordRequest(operation, status string, duration time.Duration) {
	pm.requestsTotal.WithLabelValues(operation, status).Inc()
	pm.requestDuration.WithLabelValues(operation, status).Observe(duration.Seconds())
}

// RecordRejection records a URL validation rejection by kind
func (pm *PrometheusMetrics) RecordRejection(kind string) {
	pm.rejectionsTotal.WithLabelValues(kind).Inc()
}

// RecordRateLimited records a request denied by the limiter
func (pm *PrometheusMetrics) RecordRateLimited(tier string) {
	pm.rateLimitedTotal.WithLabelValues(tier).Inc()
}

// RecordUpstreamAttempt records one extraction service call attempt
func (pm *PrometheusMetrics) RecordUpstreamAttempt(operation, outcome string) {
	pm.upstreamAttempts.WithLabelValues(operation, outcome).Inc()
}

// RecordUpstreamDuration records how long an extraction service call took
func (pm *PrometheusMetrics) RecordUpstreamDuration(operation string, duration time.Duration) {
	pm.upstreamDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetUpstreamDegraded reflects the orchestrator health signal
func (pm *PrometheusMetrics) SetUpstreamDegraded(degraded bool) {
	if degraded {
		pm.upstreamDegraded.Set(1)
	} else {
		pm.upstreamDegraded.Set(0)
	}
}

// RecordStream records a finished stream session
func (pm *PrometheusMetrics) RecordStream(kind, outcome string, bytes int64) {
	pm.streamsTotal.WithLabelValues(kind, outcome).Inc()
	if bytes > 0 {
		pm.streamBytes.WithLabelValues(kind).Add(float64(bytes))
	}
}

// IncActiveRequests increments active request counter
func (pm *PrometheusMetrics) IncActiveRequests() {
	pm.activeRequests.Inc()
}

// DecActiveRequests decrements active request counter
func (pm *PrometheusMetrics) DecActiveRequests() {
	pm.activeRequests.Dec()
}

// IncActiveStreams increments the open stream gauge
func (pm *PrometheusMetrics) IncActiveStreams() {
	pm.activeStreams.Inc()
}

// DecActiveStreams decrements the open stream gauge
func (pm *PrometheusMetrics) DecActiveStreams() {
	pm.activeStreams.Dec()
}

// RecordCacheHit records a metadata cache hit and updates the hit ratio
func (pm *PrometheusMetrics) RecordCacheHit() {
	pm.cacheHitsTotal.Inc()
	pm.updateCacheHitRatio()
}

// RecordCacheMiss records a metadata cache miss and updates the hit ratio
func (pm *PrometheusMetrics) RecordCacheMiss() {
	pm.cacheMissesTotal.Inc()
	pm.updateCacheHitRatio()
}

// ServeHTTP serves Prometheus metrics via HTTP
func (pm *PrometheusMetrics) ServeHTTP(ctx *fasthttp.RequestCtx) {
	pm.httpHandler(ctx)
}

// updateCacheHitRatio calculates and updates cache hit ratio
func (pm *PrometheusMetrics) updateCacheHitRatio() {
	hits := pm.getCounterValue(pm.cacheHitsTotal)
	misses := pm.getCounterValue(pm.cacheMissesTotal)

	total := hits + misses
	if total > 0 {
		pm.cacheHitRatio.Set(hits / total)
	}
}

// getCounterValue extracts current value from a counter (helper function)
func (pm *PrometheusMetrics) getCounterValue(counter prometheus.Counter) float64 {
	metric := &dto.Metric{}
	if err := counter.Write(metric); err != nil {
		pm.logger.Warn("Failed to read counter value", zap.Error(err))
		return 0
	}
	return metric.GetCounter().GetValue()
}
