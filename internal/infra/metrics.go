package infra

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the fraudlens collector set. Each instance owns its registry, so
// tests can build as many as they like.
type Metrics struct {
	Registry *prometheus.Registry

	ScreeningsTotal   *prometheus.CounterVec
	FailuresTotal     *prometheus.CounterVec
	RedFlagsTotal     *prometheus.CounterVec
	MScore            prometheus.Histogram
	ScreeningDuration prometheus.Histogram
	FilingsSeenTotal  prometheus.Counter
	HTTPRequestsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		ScreeningsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fraudlens",
			Name:      "screenings_total",
			Help:      "Completed screenings by interpretation.",
		}, []string{"interpretation"}),
		FailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fraudlens",
			Name:      "screening_failures_total",
			Help:      "Screenings rejected, by reason.",
		}, []string{"reason"}),
		RedFlagsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fraudlens",
			Name:      "red_flags_total",
			Help:      "Red flags raised, by component.",
		}, []string{"component"}),
		MScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fraudlens",
			Name:      "mscore",
			Help:      "Distribution of finite M-Scores.",
			Buckets:   []float64{-4, -3, -2.5, -2.22, -2, -1.78, -1.5, -1, 0, 1},
		}),
		ScreeningDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fraudlens",
			Name:      "screening_duration_seconds",
			Help:      "Time spent validating, scoring and persisting one record.",
			Buckets:   prometheus.DefBuckets,
		}),
		FilingsSeenTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fraudlens",
			Name:      "filings_seen_total",
			Help:      "New filings observed by the watcher.",
		}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fraudlens",
			Name:      "http_requests_total",
			Help:      "API requests by route and status code.",
		}, []string{"route", "code"}),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ScreeningsTotal,
		m.FailuresTotal,
		m.RedFlagsTotal,
		m.MScore,
		m.ScreeningDuration,
		m.FilingsSeenTotal,
		m.HTTPRequestsTotal,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
