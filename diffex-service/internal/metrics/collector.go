package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector receives lookup events from the cache, the backing store and the
// top-hits path. Calls are made inline and must be cheap.
type Collector interface {
	CacheHits(n int)
	CacheMisses(n int)
	SentinelsWritten(kind string, n int)
	ObserveStoreQuery(query string, d time.Duration, err error)
	TopHitsCacheHit()
	TopHitsFallback()
}

type noopCollector struct{}

// Noop returns a collector that discards all metrics.
func Noop() Collector {
	return noopCollector{}
}

func (noopCollector) CacheHits(int)                                  {}
func (noopCollector) CacheMisses(int)                                {}
func (noopCollector) SentinelsWritten(string, int)                   {}
func (noopCollector) ObserveStoreQuery(string, time.Duration, error) {}
func (noopCollector) TopHitsCacheHit()                               {}
func (noopCollector) TopHitsFallback()                               {}

// PrometheusCollector exposes lookup metrics via Prometheus.
type PrometheusCollector struct {
	cacheLookups  *prometheus.CounterVec
	sentinels     *prometheus.CounterVec
	storeQueries  *prometheus.CounterVec
	storeLatency  *prometheus.HistogramVec
	topHitsEvents *prometheus.CounterVec
}

// NewPrometheusCollector registers the metrics with reg. Registering twice
// against the same registerer reuses the existing collectors.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	cacheLookups, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "diffex_cache_lookups_total",
		Help: "Result cache lookups per outcome.",
	}, []string{"outcome"}))
	if err != nil {
		return nil, err
	}

	sentinels, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "diffex_cache_sentinels_written_total",
		Help: "Sentinel entries written to the result cache per kind.",
	}, []string{"kind"}))
	if err != nil {
		return nil, err
	}

	storeQueries, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "diffex_store_queries_total",
		Help: "Backing store queries per query kind and status.",
	}, []string{"query", "status"}))
	if err != nil {
		return nil, err
	}

	storeLatency, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "diffex_store_query_duration_seconds",
		Help:    "Backing store query latency per query kind.",
		Buckets: prometheus.DefBuckets,
	}, []string{"query"}))
	if err != nil {
		return nil, err
	}

	topHitsEvents, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "diffex_top_hits_events_total",
		Help: "Top-hits lookups per event (cache_hit, fallback).",
	}, []string{"event"}))
	if err != nil {
		return nil, err
	}

	return &PrometheusCollector{
		cacheLookups:  cacheLookups,
		sentinels:     sentinels,
		storeQueries:  storeQueries,
		storeLatency:  storeLatency,
		topHitsEvents: topHitsEvents,
	}, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		var zero T
		return zero, err
	}
	return c, nil
}

// CacheHits counts result cache hits.
func (p *PrometheusCollector) CacheHits(n int) {
	if n <= 0 {
		return
	}
	p.cacheLookups.WithLabelValues("hit").Add(float64(n))
}

// CacheMisses counts result cache misses.
func (p *PrometheusCollector) CacheMisses(n int) {
	if n <= 0 {
		return
	}
	p.cacheLookups.WithLabelValues("miss").Add(float64(n))
}

// SentinelsWritten counts sentinel entries of kind written to the cache.
func (p *PrometheusCollector) SentinelsWritten(kind string, n int) {
	if n <= 0 {
		return
	}
	p.sentinels.WithLabelValues(kind).Add(float64(n))
}

// ObserveStoreQuery records one backing store query.
func (p *PrometheusCollector) ObserveStoreQuery(query string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	p.storeQueries.WithLabelValues(query, status).Inc()
	p.storeLatency.WithLabelValues(query).Observe(d.Seconds())
}

// TopHitsCacheHit counts top-hits requests served from the cache.
func (p *PrometheusCollector) TopHitsCacheHit() {
	p.topHitsEvents.WithLabelValues("cache_hit").Inc()
}

// TopHitsFallback counts top-hits requests that fell back to the unthresholded query.
func (p *PrometheusCollector) TopHitsFallback() {
	p.topHitsEvents.WithLabelValues("fallback").Inc()
}
