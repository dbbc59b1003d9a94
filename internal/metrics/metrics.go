package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "session_agent"

// Classification methods
const (
	MethodRules    = "rules"
	MethodModel    = "model"
	MethodFallback = "fallback"
)

// Query outcomes
const (
	OutcomeSuccess  = "success"
	OutcomeError    = "error"
	OutcomeNotFound = "not_found"
)

// Recorder owns the service metrics and the registry they are exported from.
// All methods are safe on a nil *Recorder.
type Recorder struct {
	registry *prometheus.Registry

	queries         *prometheus.CounterVec
	queryDuration   *prometheus.HistogramVec
	classifications *prometheus.CounterVec
	activeSessions  prometheus.Gauge
	expiredSessions prometheus.Counter
}

// New creates a Recorder backed by a fresh registry
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		queries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Queries executed by category and outcome",
		}, []string{"category", "outcome"}),
		queryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Time to execute one query through the workflow",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"category"}),
		classifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifications_total",
			Help:      "Query classifications by method and category",
		}, []string{"method", "category"}),
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Live sessions in the registry",
		}),
		expiredSessions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expired_sessions_total",
			Help:      "Sessions removed by the expiry sweep",
		}),
	}
}

// ObserveQuery records one query execution
func (r *Recorder) ObserveQuery(category, outcome string, elapsed time.Duration) {
	if r == nil {
		return
	}
	if category == "" {
		category = "unknown"
	}
	r.queries.WithLabelValues(category, outcome).Inc()
	if outcome == OutcomeSuccess {
		r.queryDuration.WithLabelValues(category).Observe(elapsed.Seconds())
	}
}

// ObserveClassification records how a query was classified
func (r *Recorder) ObserveClassification(method, category string) {
	if r == nil {
		return
	}
	r.classifications.WithLabelValues(method, category).Inc()
}

func (r *Recorder) SetActiveSessions(n int) {
	if r == nil {
		return
	}
	r.activeSessions.Set(float64(n))
}

func (r *Recorder) AddExpiredSessions(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.expiredSessions.Add(float64(n))
}

// Registry returns the underlying registry
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
