package mcp

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "ghosttown_mcp"

type serverMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)
	return &serverMetrics{
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "requests_total",
				Help:      "Number of JSON-RPC messages dispatched, by method and outcome code",
			},
			[]string{"method", "code"},
		),
		latency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "request_duration_seconds",
				Help:      "Time taken to dispatch one JSON-RPC message",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method"},
		),
	}
}

// observe records one dispatched message. Messages that failed before their method was
// known are recorded under the empty method.
func (m *serverMetrics) observe(method, code string, took time.Duration) {
	if m == nil {
		return
	}
	m.requests.With(prometheus.Labels{"method": method, "code": code}).Inc()
	m.latency.With(prometheus.Labels{"method": method}).Observe(took.Seconds())
}
