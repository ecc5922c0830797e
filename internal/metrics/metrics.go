// Package metrics exposes Prometheus collectors for requests, the artifact
// cache and the connection scheduler.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/imghub/imghub/internal/cache"
)

const namespace = "imghub"

// Cache lookup outcomes recorded by CacheResult.
const (
	ResultHit      = "hit"
	ResultMiss     = "miss"
	ResultFastPath = "fast_path"
	ResultBypass   = "bypass"
)

// Metrics owns a private registry so several servers (and tests) can live in
// one process.
type Metrics struct {
	registry *prometheus.Registry
	factory  promauto.Factory

	requests     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	cacheResults *prometheus.CounterVec
}

// New registers the request collectors plus Go runtime and process metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		factory:  factory,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests served, by request kind and status code.",
		}, []string{"kind", "status"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Request latency by request kind.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		cacheResults: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Transform requests by cache outcome.",
		}, []string{"result"}),
	}
}

// ObserveRequest records one finished request.
func (m *Metrics) ObserveRequest(kind string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(kind, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// CacheResult records the outcome of one transform request.
func (m *Metrics) CacheResult(result string) {
	if m == nil {
		return
	}
	m.cacheResults.WithLabelValues(result).Inc()
}

// RegisterCache exports the cache counters read from stats on every scrape.
func (m *Metrics) RegisterCache(stats func() cache.Stats) {
	m.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "cache", Name: "bytes",
		Help: "Total size of cached artifacts.",
	}, func() float64 { return float64(stats().Size) })
	m.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "cache", Name: "files",
		Help: "Number of cached artifacts.",
	}, func() float64 { return float64(stats().Files) })
	m.factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "cache", Name: "evictions_total",
		Help: "Artifacts removed by purges.",
	}, func() float64 { return float64(stats().Evictions) })
}

// SchedulerStats is the view of the connection scheduler exported here.
type SchedulerStats interface {
	Active() int
	IdleCount() int
	Reclaimed() uint64
}

// RegisterScheduler exports live connection counts.
func (m *Metrics) RegisterScheduler(s SchedulerStats) {
	m.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "connections", Name: "active",
		Help: "Connections holding a worker slot.",
	}, func() float64 { return float64(s.Active()) })
	m.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "connections", Name: "idle",
		Help: "Keep-alive connections waiting for a request.",
	}, func() float64 { return float64(s.IdleCount()) })
	m.factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "connections", Name: "reclaimed_total",
		Help: "Idle connections closed to admit new ones.",
	}, func() float64 { return float64(s.Reclaimed()) })
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Gatherer exposes the registry for tests and embedding.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}
