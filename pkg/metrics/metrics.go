// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	jobsProcessed   *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	embeddingTokens prometheus.Counter
	embeddingCost   prometheus.Counter
	requestDuration *prometheus.HistogramVec
	documentsTotal  prometheus.Gauge
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		jobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "knowd",
			Name:      "jobs_processed_total",
			Help:      "Background jobs finished, by type and outcome.",
		}, []string{"type", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "knowd",
			Name:      "job_duration_seconds",
			Help:      "Background job execution time.",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"type"}),
		embeddingTokens: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "knowd",
			Name:      "embedding_tokens_total",
			Help:      "Tokens billed against the embedding API.",
		}),
		embeddingCost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "knowd",
			Name:      "embedding_cost_usd_total",
			Help:      "Estimated embedding spend in USD.",
		}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "knowd",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency, by method, route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		documentsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "knowd",
			Name:      "documents_total",
			Help:      "Documents currently stored across all tenants.",
		}),
	}
	registry.MustRegister(
		m.jobsProcessed,
		m.jobDuration,
		m.embeddingTokens,
		m.embeddingCost,
		m.requestDuration,
		m.documentsTotal,
	)
	return m
}

func (m *Metrics) ObserveJob(taskType, status string, elapsed time.Duration) {
	m.jobsProcessed.WithLabelValues(taskType, status).Inc()
	m.jobDuration.WithLabelValues(taskType).Observe(elapsed.Seconds())
}

func (m *Metrics) AddEmbeddingUsage(tokens int64, costUSD float64) {
	m.embeddingTokens.Add(float64(tokens))
	m.embeddingCost.Add(costUSD)
}

func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	m.requestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

func (m *Metrics) SetDocumentsTotal(n int64) {
	m.documentsTotal.Set(float64(n))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
