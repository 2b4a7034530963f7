package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the API and the sync engine.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheHitRatio   prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	snapshotRead    prometheus.Observer
	snapshotWrite   prometheus.Observer
	fetchTotal      *prometheus.CounterVec
	adapterTotal    *prometheus.CounterVec
	fallbackTotal   *prometheus.CounterVec
	pushTotal       *prometheus.CounterVec
	updatesTotal    *prometheus.CounterVec

	cacheHitCount  uint64
	cacheMissCount uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "memory_cache_latency_seconds",
		Help:    "Latency for memory cache lookups",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "memory_cache_hit_ratio",
		Help: "Ratio of memory cache hits to total lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "memory_cache_hits_total",
		Help: "Total memory cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "memory_cache_misses_total",
		Help: "Total memory cache misses",
	})

	snapshotRead := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "snapshot_read_seconds",
		Help:    "Latency for persistent snapshot reads",
		Buckets: prometheus.DefBuckets,
	})

	snapshotWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "snapshot_write_seconds",
		Help:    "Latency for persistent snapshot writes",
		Buckets: prometheus.DefBuckets,
	})

	fetchTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "timetable_fetch_total",
		Help: "Remote fetches by resource and outcome",
	}, []string{"resource", "outcome"})

	adapterTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "timetable_adapter_total",
		Help: "Payloads interpreted per format adapter",
	}, []string{"adapter"})

	fallbackTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fallback_served_total",
		Help: "Fallback data served by reason",
	}, []string{"resource", "reason"})

	pushTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "remote_push_total",
		Help: "Remote push attempts by outcome",
	}, []string{"resource", "outcome"})

	updatesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_updates_total",
		Help: "Update notifications published by topic",
	}, []string{"topic"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheHitRatio, cacheHits, cacheMisses,
		snapshotRead, snapshotWrite, fetchTotal, adapterTotal, fallbackTotal, pushTotal, updatesTotal, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheLatency:    cacheLatency,
		cacheHitRatio:   cacheHitRatio,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		snapshotRead:    snapshotRead,
		snapshotWrite:   snapshotWrite,
		fetchTotal:      fetchTotal,
		adapterTotal:    adapterTotal,
		fallbackTotal:   fallbackTotal,
		pushTotal:       pushTotal,
		updatesTotal:    updatesTotal,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry returns the underlying registry.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	if total := hits + misses; total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveSnapshotRead tracks persistent snapshot read latency.
func (m *MetricsService) ObserveSnapshotRead(duration time.Duration) {
	if m == nil {
		return
	}
	m.snapshotRead.Observe(duration.Seconds())
}

// ObserveSnapshotWrite tracks persistent snapshot write latency.
func (m *MetricsService) ObserveSnapshotWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.snapshotWrite.Observe(duration.Seconds())
}

// RecordFetch counts a remote fetch outcome ("success", "failure", "skipped").
func (m *MetricsService) RecordFetch(resource, outcome string) {
	if m == nil {
		return
	}
	m.fetchTotal.WithLabelValues(resource, outcome).Inc()
}

// RecordAdapter counts which format adapter interpreted a payload.
func (m *MetricsService) RecordAdapter(adapter string) {
	if m == nil {
		return
	}
	if adapter == "" {
		adapter = "none"
	}
	m.adapterTotal.WithLabelValues(adapter).Inc()
}

// RecordFallback counts fallback data served.
func (m *MetricsService) RecordFallback(resource, reason string) {
	if m == nil {
		return
	}
	m.fallbackTotal.WithLabelValues(resource, reason).Inc()
}

// RecordPush counts remote push outcomes.
func (m *MetricsService) RecordPush(resource, outcome string) {
	if m == nil {
		return
	}
	m.pushTotal.WithLabelValues(resource, outcome).Inc()
}

// RecordUpdate counts published update notifications.
func (m *MetricsService) RecordUpdate(topic string) {
	if m == nil {
		return
	}
	m.updatesTotal.WithLabelValues(topic).Inc()
}
