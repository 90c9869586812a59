// Package metrics exposes Prometheus instrumentation for the API server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServerMetrics counts HTTP traffic and decision outcomes.
type ServerMetrics struct {
	Requests  *prometheus.CounterVec
	LatencyMS *prometheus.HistogramVec
	Decisions *prometheus.CounterVec
}

// NewServerMetrics registers and returns the server metrics.
// A nil registerer falls back to the process-wide default; pass a fresh
// prometheus.NewRegistry() when constructing more than one instance.
func NewServerMetrics(reg prometheus.Registerer) *ServerMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "supplyvault",
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"handler", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "supplyvault",
		Name:      "http_request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"handler"})
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "supplyvault",
		Name:      "request_decisions_total",
		Help:      "Request decisions by outcome (approved, rejected, oversell).",
	}, []string{"outcome"})

	reg.MustRegister(requests, latency, decisions)
	return &ServerMetrics{Requests: requests, LatencyMS: latency, Decisions: decisions}
}

// Handler serves the /metrics scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
