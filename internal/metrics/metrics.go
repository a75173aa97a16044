// Package metrics defines the A5 ambient component: Prometheus counters and
// histograms for request volume, issuance outcomes, and Kerberos call
// latency, grounded on prometheus/client_golang as used in grafana-tempo and
// carried indirectly by faroshq-kedge's dependency graph.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every collector webkdcd registers.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	IssuanceResults *prometheus.CounterVec
	KerberosLatency *prometheus.HistogramVec
}

// New constructs and registers the collectors against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "webkdcd",
			Name:      "requests_total",
			Help:      "Total HTTP requests served by the webkdc endpoint, by verb.",
		}, []string{"verb"}),
		IssuanceResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "webkdcd",
			Name:      "issuance_results_total",
			Help:      "Token issuance outcomes, by requested token type and result code.",
		}, []string{"token_type", "code"}),
		KerberosLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "webkdcd",
			Name:      "krb5_call_duration_seconds",
			Help:      "Latency of Kerberos adapter calls, by operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	reg.MustRegister(m.RequestsTotal, m.IssuanceResults, m.KerberosLatency)
	return m
}

// ObserveKerberosCall records the duration of a single krb5 adapter
// operation. Intended to wrap a call site: defer
// m.ObserveKerberosCall("mk_req")().
func (m *Metrics) ObserveKerberosCall(operation string) func() {
	start := time.Now()
	return func() {
		m.KerberosLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
}
