package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for snapshot refreshes, the
// upstream provider and the HTTP layer. A nil *Metrics records nothing.
type Metrics struct {
	refreshTotal     *prometheus.CounterVec
	refreshDuration  prometheus.Histogram
	snapshotPools    prometheus.Gauge
	snapshotTime     prometheus.Gauge
	upstreamRequests *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	responseCache    *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		refreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lending",
			Subsystem: "snapshot",
			Name:      "refresh_total",
			Help:      "Snapshot refresh attempts, labeled by trigger and result.",
		}, []string{"trigger", "result"}),
		refreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "lending",
			Subsystem: "snapshot",
			Name:      "refresh_duration_seconds",
			Help:      "Time spent fetching a new snapshot from the provider.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		snapshotPools: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lending",
			Subsystem: "snapshot",
			Name:      "pools",
			Help:      "Number of pools in the current snapshot.",
		}),
		snapshotTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lending",
			Subsystem: "snapshot",
			Name:      "fetched_timestamp_seconds",
			Help:      "Unix time the current snapshot was fetched.",
		}),
		upstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lending",
			Subsystem: "upstream",
			Name:      "requests_total",
			Help:      "Requests sent to the pool data provider, labeled by resource and status.",
		}, []string{"resource", "status"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lending",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lending",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"method", "path"}),
		responseCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lending",
			Subsystem: "http",
			Name:      "response_cache_total",
			Help:      "Rendered response cache lookups, labeled by endpoint and result.",
		}, []string{"endpoint", "result"}),
	}
	reg.MustRegister(
		m.refreshTotal,
		m.refreshDuration,
		m.snapshotPools,
		m.snapshotTime,
		m.upstreamRequests,
		m.httpRequests,
		m.httpDuration,
		m.responseCache,
	)
	return m
}

func (m *Metrics) ObserveRefresh(trigger string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.refreshTotal.WithLabelValues(trigger, result).Inc()
	m.refreshDuration.Observe(d.Seconds())
}

func (m *Metrics) SetSnapshot(pools int, fetchedAt time.Time) {
	if m == nil {
		return
	}
	m.snapshotPools.Set(float64(pools))
	m.snapshotTime.Set(float64(fetchedAt.Unix()))
}

func (m *Metrics) ObserveUpstream(resource, status string) {
	if m == nil {
		return
	}
	m.upstreamRequests.WithLabelValues(resource, status).Inc()
}

func (m *Metrics) ObserveHTTP(method, path string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, path, statusLabel(status)).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

func (m *Metrics) ObserveResponseCache(endpoint string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.responseCache.WithLabelValues(endpoint, result).Inc()
}

func statusLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
