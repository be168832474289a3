package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var durationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// Metrics holds the Prometheus collectors for the query pipeline.
// All record methods are safe to call on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	queriesTotal   *prometheus.CounterVec
	queryDuration  *prometheus.HistogramVec
	cacheHits      prometheus.Counter
	fallbacksTotal prometheus.Counter
	relayFailures  *prometheus.CounterVec
	candidates     prometheus.Histogram
}

// NewMetrics creates a private registry with the Go runtime and process
// collectors plus the pipeline metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		queriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "siteqa_queries_total",
			Help: "Total number of processed questions by outcome",
		}, []string{"outcome"}),

		queryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "siteqa_query_duration_seconds",
			Help:    "Question processing duration in seconds",
			Buckets: durationBuckets,
		}, []string{"outcome"}),

		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "siteqa_cache_hits_total",
			Help: "Total number of questions answered from the response cache",
		}),

		fallbacksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "siteqa_transport_fallbacks_total",
			Help: "Total number of requests rerouted through the relay",
		}),

		relayFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "siteqa_relay_failures_total",
			Help: "Total number of relay requests that yielded no documents because of a failure",
		}, []string{"reason"}),

		candidates: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "siteqa_candidates",
			Help:    "Number of candidate documents fetched per question",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.queriesTotal,
		m.queryDuration,
		m.cacheHits,
		m.fallbacksTotal,
		m.relayFailures,
		m.candidates,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveQuery(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.queriesTotal.WithLabelValues(outcome).Inc()
	m.queryDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *Metrics) IncCacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}

func (m *Metrics) IncFallback() {
	if m == nil {
		return
	}
	m.fallbacksTotal.Inc()
}

func (m *Metrics) IncRelayFailure(reason string) {
	if m == nil {
		return
	}
	m.relayFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveCandidates(n int) {
	if m == nil {
		return
	}
	m.candidates.Observe(float64(n))
}
