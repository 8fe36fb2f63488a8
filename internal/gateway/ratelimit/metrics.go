package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
)

type SweepMetrics struct {
	runsTotal      prometheus.Counter
	bucketsRemoved prometheus.Counter
	bucketsLive    prometheus.Gauge
	duration       prometheus.Histogram
}

func NewSweepMetrics(namespace string) *SweepMetrics {
	return NewSweepMetricsWithRegistry(namespace, prometheus.DefaultRegisterer)
}

func NewSweepMetricsWithRegistry(namespace string, registerer prometheus.Registerer) *SweepMetrics {
	sm := &SweepMetrics{
		runsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "sweep_runs_total",
			Help:      "Total limiter sweep runs",
		}),
		bucketsRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "sweep_buckets_removed_total",
			Help:      "Total expired buckets removed by sweeps",
		}),
		bucketsLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "buckets_live",
			Help:      "Buckets remaining after the last sweep",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of limiter sweeps",
			Buckets:   []float64{0.0001, 0.001, 0.01, 0.1, 1},
		}),
	}

	registerer.MustRegister(sm.runsTotal, sm.bucketsRemoved, sm.bucketsLive, sm.duration)
	return sm
}

func (sm *SweepMetrics) RecordSweep(removed, remaining int, seconds float64) {
	sm.runsTotal.Inc()
	sm.bucketsRemoved.Add(float64(removed))
	sm.bucketsLive.Set(float64(remaining))
	sm.duration.Observe(seconds)
}
