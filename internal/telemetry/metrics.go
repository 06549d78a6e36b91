// Package telemetry wires rulecore's stats surfaces (Cache, Pool, Batcher,
// Compression, Engine, Version Manager) into Prometheus metrics and an
// OpenTelemetry trace provider shared across the process.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus metric rulecore exports. Pass to
// components that need to record metrics.
type Metrics struct {
	CacheSize         prometheus.Gauge
	CacheHitsTotal     *prometheus.CounterVec // outcome=hit|miss
	PoolActiveChannels prometheus.Gauge
	PoolRequestsTotal  *prometheus.CounterVec // outcome=ok|retry|error
	BatchesTotal       *prometheus.CounterVec // trigger=size|timer
	BatchItemsTotal    prometheus.Counter
	CompressionRatio   prometheus.Histogram
	EngineRulesRun     *prometheus.CounterVec // mode=parallel|sequential|executeAllParallel
	EngineDuration     *prometheus.HistogramVec
	VersionConflicts   *prometheus.CounterVec // resolution=cloud_wins|local_wins|newer_wins|rollback|manual
	VersionRollbacks   prometheus.Counter
}

// NewMetrics creates and registers every metric with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		CacheSize: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "rulecore",
			Name:      "cache_size",
			Help:      "Number of rules currently held in the Rule Cache",
		}),
		CacheHitsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "rulecore",
			Name:      "cache_lookups_total",
			Help:      "Total Rule Cache lookups by outcome",
		}, []string{"outcome"}),
		PoolActiveChannels: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "rulecore",
			Name:      "pool_active_channels",
			Help:      "Logical connection channels currently checked out of the Connection Pool",
		}),
		PoolRequestsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "rulecore",
			Name:      "pool_requests_total",
			Help:      "Total Connection Pool requests by outcome",
		}, []string{"outcome"}),
		BatchesTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "rulecore",
			Name:      "batches_total",
			Help:      "Total Request Batcher dispatches by trigger",
		}, []string{"trigger"}),
		BatchItemsTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "rulecore",
			Name:      "batch_items_total",
			Help:      "Total requests coalesced by the Request Batcher",
		}),
		CompressionRatio: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: "rulecore",
			Name:      "compression_ratio",
			Help:      "Compressed size over original size for rule payloads",
			Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		}),
		EngineRulesRun: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "rulecore",
			Name:      "engine_rules_executed_total",
			Help:      "Total rules executed by the Execution Engine by mode",
		}, []string{"mode"}),
		EngineDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rulecore",
			Name:      "engine_execution_duration_seconds",
			Help:      "Execution Engine wall-clock duration per call",
			Buckets:   prometheus.DefBuckets,
		}, []string{"mode"}),
		VersionConflicts: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "rulecore",
			Name:      "version_conflicts_total",
			Help:      "Total version conflicts resolved by the Version Manager, by resolution strategy",
		}, []string{"resolution"}),
		VersionRollbacks: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "rulecore",
			Name:      "version_rollbacks_total",
			Help:      "Total rule rollbacks performed by the Version Manager",
		}),
	}
}
