package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the ledger.
type Metrics struct {
	// Registry is exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	eventsPublished   *prometheus.CounterVec
	cacheHits         *prometheus.CounterVec
	cacheMisses       *prometheus.CounterVec
	projected         *prometheus.CounterVec
}

// NewMetrics creates a dedicated registry so it can be called more than once
// in tests without duplicate collector panics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_operations_total",
				Help: "Ledger operations by outcome.",
			},
			[]string{"operation", "outcome"},
		),
		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_operation_duration_seconds",
				Help:    "Duration of ledger operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		eventsPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_events_published_total",
				Help: "Events published to the broker by result.",
			},
			[]string{"event", "result"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		projected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_projected_operations_total",
				Help: "Operations written to the analytics projection by result.",
			},
			[]string{"result"},
		),
	}
}

// ObserveOperation implements domain.OperationObserver.
func (m *Metrics) ObserveOperation(operation, outcome string, elapsed time.Duration) {
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// IncrEventPublished counts a publish attempt; result is "ok" or "error".
func (m *Metrics) IncrEventPublished(event, result string) {
	m.eventsPublished.WithLabelValues(event, result).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

func (m *Metrics) IncrProjected(result string) {
	m.projected.WithLabelValues(result).Inc()
}

// OperationCount returns the current counter value for operation and outcome.
func (m *Metrics) OperationCount(operation, outcome string) float64 {
	return counterValue(m.operations.WithLabelValues(operation, outcome))
}

// CacheHitRate returns hits / (hits + misses) for a cache, or 0 before any lookup.
func (m *Metrics) CacheHitRate(cache string) float64 {
	hits := counterValue(m.cacheHits.WithLabelValues(cache))
	misses := counterValue(m.cacheMisses.WithLabelValues(cache))
	if hits+misses == 0 {
		return 0
	}
	return hits / (hits + misses)
}

func counterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
