// Package telemetry provides observability primitives for the simulator.
package telemetry

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	llmsim "github.com/eugener/llmsim/internal"
)

// Metrics holds all Prometheus collectors for the simulator. It implements
// simulator.Metrics so the pipeline can emit to it without this package
// depending back on internal/simulator.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	ActiveRequests   prometheus.Gauge
	LatencyBase      *prometheus.HistogramVec
	LatencyFull      *prometheus.HistogramVec
	TokensProcessed  *prometheus.CounterVec
	RateLimitRejects *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmsim",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "llmsim",
			Name:                            "request_duration_seconds",
			Help:                            "HTTP request duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "llmsim",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),

		LatencyBase: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "llmsim",
			Name:      "latency_base_seconds",
			Help:      "Time from request start to response-ready, before latency-envelope padding.",
		}, []string{"operation", "deployment", "status"}),

		LatencyFull: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "llmsim",
			Name:      "latency_full_seconds",
			Help:      "Time from request start to return, including latency-envelope padding.",
		}, []string{"operation", "deployment", "status"}),

		TokensProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmsim",
			Name:      "tokens_processed_total",
			Help:      "Total tokens accounted across all operations.",
		}, []string{"operation"}),

		RateLimitRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmsim",
			Name:      "ratelimit_rejects_total",
			Help:      "Total rate limit rejections, by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.LatencyBase,
		m.LatencyFull,
		m.TokensProcessed,
		m.RateLimitRejects,
	)

	return m
}

// ObserveLatency records the base and full latency histograms for one
// request, tagged by operation, deployment, and status code.
func (m *Metrics) ObserveLatency(op llmsim.Operation, deployment string, status int, base, full time.Duration) {
	statusStr := strconv.Itoa(status)
	m.LatencyBase.WithLabelValues(string(op), deployment, statusStr).Observe(base.Seconds())
	m.LatencyFull.WithLabelValues(string(op), deployment, statusStr).Observe(full.Seconds())
}

// ObserveTokens adds to the tokens-processed counter for the given operation.
func (m *Metrics) ObserveTokens(op llmsim.Operation, tokens int) {
	m.TokensProcessed.WithLabelValues(string(op)).Add(float64(tokens))
}

// IncRateLimitReject increments the rate-limit rejection counter for reason
// ("tokens" or "requests").
func (m *Metrics) IncRateLimitReject(reason string) {
	m.RateLimitRejects.WithLabelValues(reason).Inc()
}
