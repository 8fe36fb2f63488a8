package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

func TestPrometheusMetrics_Recording(t *testing.T) {
	logger := zap.NewNop()
	registry := prometheus.NewRegistry()
	pm := NewPrometheusMetricsWithRegistry("mediagate", registry, logger)

	pm.RecordRequest("info", "200", time.Millisecond*150)
	pm.RecordRequest("audio", "429", time.Millisecond*2)

	pm.RecordRejection("private_address")
	pm.RecordRateLimited("download")

	pm.RecordUpstreamAttempt("metadata", "success")
	pm.RecordUpstreamAttempt("audio", "retryable")
	pm.RecordUpstreamDuration("metadata", time.Second)
	pm.SetUpstreamDegraded(true)
	pm.SetUpstreamDegraded(false)

	pm.RecordStream("audio", "completed", 1024*1024)
	pm.RecordStream("video", "timed_out", 0)

	pm.IncActiveRequests()
	pm.IncActiveStreams()
	pm.DecActiveStreams()
	pm.DecActiveRequests()

	// If we got here without panicking, metrics recording works
	assert.NotNil(t, pm)
}

func TestPrometheusMetrics_CacheHitRatio(t *testing.T) {
	registry := prometheus.NewRegistry()
	pm := NewPrometheusMetricsWithRegistry("mediagate", registry, zap.NewNop())

	pm.RecordCacheHit()
	pm.RecordCacheHit()
	pm.RecordCacheHit()
	pm.RecordCacheMiss()

	ratio := pm.getCounterValue(pm.cacheHitsTotal) /
		(pm.getCounterValue(pm.cacheHitsTotal) + pm.getCounterValue(pm.cacheMissesTotal))
	assert.InDelta(t, 0.75, ratio, 0.001)
}

func TestPrometheusMetrics_HTTPEndpoint(t *testing.T) {
	logger := zap.NewNop()
	registry := prometheus.NewRegistry()
	pm := NewPrometheusMetricsWithRegistry("mediagate", registry, logger)

	pm.RecordRequest("info", "200", time.Millisecond*100)
	pm.RecordCacheHit()

	ctx := &fasthttp.RequestCtx{}
	ctx.Request.SetRequestURI("/metrics")
	ctx.Request.Header.SetMethod("GET")

	pm.ServeHTTP(ctx)

	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Contains(t, string(ctx.Response.Header.Peek("Content-Type")), "text/plain")

	body := string(ctx.Response.Body())
	assert.Contains(t, body, "mediagate_gw_requests_total")
	assert.Contains(t, body, "mediagate_cache_hits_total")
	assert.Contains(t, body, "# HELP")
	assert.Contains(t, body, "# TYPE")
}
