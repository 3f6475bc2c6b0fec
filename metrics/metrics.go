// Package metrics holds the Prometheus collectors of a harvesting run. A run
// is a batch process, so collectors live on a private registry which can be
// dumped to a node-exporter textfile when the run ends.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "oaiharvest"

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RetriesTotal     *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RecordsTotal     *prometheus.CounterVec
	EndpointsTotal   *prometheus.CounterVec
	PoolWaitDuration prometheus.Histogram
}

// New creates and registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "OAI-PMH requests by verb and outcome.",
		}, []string{"verb", "outcome"}),
		RetriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Retried OAI-PMH requests by verb.",
		}, []string{"verb"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Duration of single OAI-PMH request attempts.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"verb"}),
		RecordsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Records handed to the output, by metadata prefix.",
		}, []string{"prefix"}),
		EndpointsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "endpoints_total",
			Help:      "Endpoints processed in this run, by status.",
		}, []string{"status"}),
		PoolWaitDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pool_wait_seconds",
			Help:      "Time spent waiting for a free harvester slot.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// Registry returns the private registry, e.g. for testutil.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveRequest records one request attempt.
func (m *Metrics) ObserveRequest(verb, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(verb, outcome).Inc()
	m.RequestDuration.WithLabelValues(verb).Observe(d.Seconds())
}

// IncRetry counts a retried request.
func (m *Metrics) IncRetry(verb string) {
	if m == nil {
		return
	}
	m.RetriesTotal.WithLabelValues(verb).Inc()
}

// AddRecords counts records delivered to the output.
func (m *Metrics) AddRecords(prefix string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.RecordsTotal.WithLabelValues(prefix).Add(float64(n))
}

// IncEndpoint counts an endpoint by its final status in this run.
func (m *Metrics) IncEndpoint(status string) {
	if m == nil {
		return
	}
	m.EndpointsTotal.WithLabelValues(status).Inc()
}

// ObservePoolWait records how long a worker waited for a slot.
func (m *Metrics) ObservePoolWait(d time.Duration) {
	if m == nil {
		return
	}
	m.PoolWaitDuration.Observe(d.Seconds())
}

// WriteTextfile dumps all collectors in the text exposition format. The file
// is written atomically.
func (m *Metrics) WriteTextfile(filename string) error {
	if m == nil || filename == "" {
		return nil
	}
	return prometheus.WriteToTextfile(filename, m.registry)
}
