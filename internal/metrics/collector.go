// Package metrics provides internal Prometheus metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector records engine-level operational metrics. It implements
// trace.Recorder.
type Collector struct {
	tracesAnalyzed   *prometheus.CounterVec
	analysisDuration prometheus.Histogram
	anomalies        *prometheus.CounterVec

	storeQueries      *prometheus.CounterVec
	storeQueryLatency prometheus.Histogram

	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter

	logger *zap.Logger
}

// NewCollector creates a Collector registering on the given registerer.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		tracesAnalyzed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "traces_analyzed_total",
				Help:      "Total number of trace analyses by outcome",
			},
			[]string{"status"},
		),
		analysisDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "analysis_duration_seconds",
				Help:      "Duration of single-trace analysis in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
		anomalies: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "trace_anomalies_total",
				Help:      "Total number of recovered trace anomalies by type",
			},
			[]string{"type"},
		),
		storeQueries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_queries_total",
				Help:      "Total number of span store queries by outcome",
			},
			[]string{"status"},
		),
		storeQueryLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "store_query_duration_seconds",
				Help:      "Duration of span store queries in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
		cacheHits: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "report_cache_hits_total",
				Help:      "Total number of analysis cache hits",
			},
		),
		cacheMisses: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "report_cache_misses_total",
				Help:      "Total number of analysis cache misses",
			},
		),
		logger: logger.With(zap.String("component", "metrics")),
	}
}

// RecordTrace records the outcome and duration of one trace analysis.
func (c *Collector) RecordTrace(status string, d time.Duration) {
	c.tracesAnalyzed.WithLabelValues(status).Inc()
	c.analysisDuration.Observe(d.Seconds())
}

// RecordAnomaly records one recovered anomaly.
func (c *Collector) RecordAnomaly(anomalyType string) {
	c.anomalies.WithLabelValues(anomalyType).Inc()
}

// RecordStoreQuery records one span store query.
func (c *Collector) RecordStoreQuery(d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.storeQueries.WithLabelValues(status).Inc()
	c.storeQueryLatency.Observe(d.Seconds())
}

// RecordCache records one cache lookup.
func (c *Collector) RecordCache(hit bool) {
	if hit {
		c.cacheHits.Inc()
		return
	}
	c.cacheMisses.Inc()
}
