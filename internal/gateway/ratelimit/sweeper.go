package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SweepWorker periodically removes elapsed buckets so idle clients do not
// accumulate memory between restarts.
type SweepWorker struct {
	limiter  *Limiter
	interval time.Duration
	logger   *zap.Logger
	metrics  *SweepMetrics
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewSweepWorker(limiter *Limiter, interval time.Duration, logger *zap.Logger, metrics *SweepMetrics) *SweepWorker {
	ctx, cancel := context.WithCancel(context.Background())
	return &SweepWorker{
		limiter:  limiter,
		interval: interval,
		logger:   logger,
		metrics:  metrics,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (w *SweepWorker) Start() {
	w.logger.Info("Rate limit sweep worker starting",
		zap.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	w.wg.Add(1)

	go func() {
		defer w.wg.Done()
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				w.runSweep()
			case <-w.ctx.Done():
				w.logger.Info("Rate limit sweep worker shutting down")
				return
			}
		}
	}()
}

func (w *SweepWorker) Shutdown() {
	w.logger.Info("Stopping rate limit sweep worker")
	w.cancel()
	w.wg.Wait()
	w.logger.Info("Rate limit sweep worker stopped")
}

func (w *SweepWorker) runSweep() {
	startTime := time.Now()
	removed, remaining := w.limiter.Sweep()
	duration := time.Since(startTime)

	if w.metrics != nil {
		w.metrics.RecordSweep(removed, remaining, duration.Seconds())
	}

	if removed > 0 {
		w.logger.Info("Rate limit sweep finished",
			zap.Int("buckets_removed", removed),
			zap.Int("buckets_remaining", remaining),
			zap.Duration("duration", duration))
	}
}
