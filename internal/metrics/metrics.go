package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the service.
type Metrics struct {
	ProviderRequests *prometheus.CounterVec
	ProviderLatency  *prometheus.HistogramVec
	Charges          *prometheus.CounterVec
	DebitsFlushed    *prometheus.CounterVec
	Operations       *prometheus.CounterVec
	Errors           *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = newMetrics(namespace)
		prometheus.MustRegister(
			metricsInstance.ProviderRequests,
			metricsInstance.ProviderLatency,
			metricsInstance.Charges,
			metricsInstance.DebitsFlushed,
			metricsInstance.Operations,
			metricsInstance.Errors,
		)
	})
	return metricsInstance
}

// NewUnregistered returns collectors that are not attached to the default
// registry. Tests use it to avoid duplicate registration panics.
func NewUnregistered() *Metrics {
	return newMetrics("test")
}

func newMetrics(namespace string) *Metrics {
	return &Metrics{
		ProviderRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Total external provider requests by provider and outcome.",
		}, []string{"provider", "status"}),
		ProviderLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Latency distribution for external provider calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "status"}),
		Charges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "charges_total",
			Help:      "Balance-gated charges by reason and outcome.",
		}, []string{"reason", "outcome"}),
		DebitsFlushed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "debits_flushed_total",
			Help:      "Outbox debits pushed to the ledger by status.",
		}, []string{"status"}),
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Orchestrated operations by kind and final state.",
		}, []string{"kind", "status"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total errors grouped by component.",
		}, []string{"component"}),
	}
}

// ObserveProvider records one provider call. A nil receiver is a no-op.
func (m *Metrics) ObserveProvider(provider string, started time.Time, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.ProviderRequests.WithLabelValues(provider, status).Inc()
	m.ProviderLatency.WithLabelValues(provider, status).Observe(time.Since(started).Seconds())
}

func (m *Metrics) Error(component string) {
	if m == nil {
		return
	}
	m.Errors.WithLabelValues(component).Inc()
}
