package observability

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	feedMetricsOnce sync.Once
	feedRegistry    *FeedMetrics
)

// ModuleMetrics returns the lazily-initialised registry recording HTTP
// handler activity per module.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "bend",
				Subsystem: "module",
				Name:      "requests_total",
				Help:      "Total API requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "bend",
				Subsystem: "module",
				Name:      "errors_total",
				Help:      "Total API errors segmented by module, method, and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "bend",
				Subsystem: "module",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "bend",
				Subsystem: "module",
				Name:      "throttles_total",
				Help:      "Count of requests rejected due to throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a request. The status code should be the
// HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit" or
// "quota_exceeded" so dashboards and alerts remain consistent.
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// FeedMetrics tracks price feed ingestion.
type FeedMetrics struct {
	updates   *prometheus.CounterVec
	rejects   *prometheus.CounterVec
	freshness *prometheus.GaugeVec
}

// Feeds returns the metrics registry for oracle feed ingestion.
func Feeds() *FeedMetrics {
	feedMetricsOnce.Do(func() {
		feedRegistry = &FeedMetrics{
			updates: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "bend",
				Subsystem: "oracle",
				Name:      "feed_updates_total",
				Help:      "Count of accepted price updates by feed kind and asset.",
			}, []string{"kind", "asset"}),
			rejects: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "bend",
				Subsystem: "oracle",
				Name:      "feed_rejects_total",
				Help:      "Count of rejected price updates by feed kind and asset.",
			}, []string{"kind", "asset"}),
			freshness: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "bend",
				Subsystem: "oracle",
				Name:      "feed_age_seconds",
				Help:      "Age in seconds of the last accepted price relative to block time.",
			}, []string{"kind", "asset"}),
		}
		prometheus.MustRegister(feedRegistry.updates, feedRegistry.rejects, feedRegistry.freshness)
	})
	return feedRegistry
}

// RecordUpdate counts an ingested price and records its age at blockTime.
func (m *FeedMetrics) RecordUpdate(kind, asset string, updatedAt, blockTime uint64) {
	if m == nil {
		return
	}
	m.updates.WithLabelValues(kind, labelAsset(asset)).Inc()
	age := 0.0
	if blockTime > updatedAt {
		age = float64(blockTime - updatedAt)
	}
	m.freshness.WithLabelValues(kind, labelAsset(asset)).Set(age)
}

// RecordReject counts a price update refused by the oracle.
func (m *FeedMetrics) RecordReject(kind, asset string) {
	if m == nil {
		return
	}
	m.rejects.WithLabelValues(kind, labelAsset(asset)).Inc()
}

func labelAsset(asset string) string {
	trimmed := strings.TrimSpace(asset)
	if trimmed == "" {
		return "UNKNOWN"
	}
	return strings.ToLower(trimmed)
}
