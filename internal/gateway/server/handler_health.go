package server

import (
	"context"
	"encoding/json"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/mem"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/mediagate/gateway/internal/gateway/upstream"
)

type healthResponse struct {
	Status        string    `json:"status"`
	UptimeSeconds int64     `json:"uptimeSeconds"`
	Timestamp     time.Time `json:"timestamp"`

	// Verbose-only fields.
	Goroutines  int                      `json:"goroutines,omitempty"`
	Memory      *memoryStats             `json:"memory,omitempty"`
	Upstream    *upstream.HealthSnapshot `json:"upstream,omitempty"`
	CacheStatus string                   `json:"cacheStatus,omitempty"`
}

type memoryStats struct {
	TotalBytes     uint64  `json:"totalBytes"`
	AvailableBytes uint64  `json:"availableBytes"`
	UsedPercent    float64 `json:"usedPercent"`
	HeapAllocBytes uint64  `json:"heapAllocBytes"`
}

// handleHealth serves GET /healthz. The basic form is a cheap liveness
// answer; ?verbose=1 adds process and dependency detail for operators.
func (s *Server) handleHealth(ctx *fasthttp.RequestCtx, state *requestState, logger *zap.Logger) {
	defer s.finish(ctx, state, logger)

	resp := healthResponse{
		Status:        "healthy",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Timestamp:     time.Now().UTC(),
	}

	if string(ctx.QueryArgs().Peek("verbose")) == "1" {
		resp.Goroutines = runtime.NumGoroutine()
		resp.Memory = collectMemoryStats()

		snapshot := s.extractor.Health()
		resp.Upstream = &snapshot

		if s.cache != nil {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := s.cache.HealthCheck(pingCtx); err != nil {
				logger.Warn("Cache health check failed", zap.Error(err))
				resp.CacheStatus = "unavailable"
			} else {
				resp.CacheStatus = "ok"
			}
		}
	}

	body, _ := json.Marshal(resp)
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

func collectMemoryStats() *memoryStats {
	var runtimeStats runtime.MemStats
	runtime.ReadMemStats(&runtimeStats)

	stats := &memoryStats{HeapAllocBytes: runtimeStats.HeapAlloc}

	v, err := mem.VirtualMemory()
	if err == nil {
		stats.TotalBytes = v.Total
		stats.AvailableBytes = v.Available
		stats.UsedPercent = v.UsedPercent
	}
	return stats
}
