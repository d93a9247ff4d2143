package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for Whetstone
type Metrics struct {
	// Lifecycle metrics
	ActionsTotal       *prometheus.CounterVec
	ActionDuration     *prometheus.HistogramVec
	RequestTransitions *prometheus.CounterVec
	SkillsImproved     *prometheus.CounterVec
	Rollbacks          *prometheus.CounterVec

	// Provider metrics
	ProviderRequests *prometheus.CounterVec
	ProviderErrors   *prometheus.CounterVec
	ProviderLatency  *prometheus.HistogramVec

	// System metrics
	EventsPublished     *prometheus.CounterVec
	RateLimitRejections prometheus.Counter
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

var (
	metricsOnce   sync.Once
	sharedMetrics *Metrics
)

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		sharedMetrics = &Metrics{
			// Lifecycle metrics
			ActionsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "whetstone_actions_total",
					Help: "Total number of improver actions processed",
				},
				[]string{"action", "result"},
			),
			ActionDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "whetstone_action_duration_seconds",
					Help:    "Improver action duration in seconds",
					Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to 40s
				},
				[]string{"action"},
			),
			RequestTransitions: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "whetstone_request_transitions_total",
					Help: "Total number of improvement request status transitions",
				},
				[]string{"from_status", "to_status"},
			),
			SkillsImproved: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "whetstone_skills_improved_total",
					Help: "Total number of applied skill improvements",
				},
				[]string{"skill_type"},
			),
			Rollbacks: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "whetstone_rollbacks_total",
					Help: "Total number of skill version rollbacks",
				},
				[]string{"skill_type"},
			),

			// Provider metrics
			ProviderRequests: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "whetstone_provider_requests_total",
					Help: "Total number of model provider API requests",
				},
				[]string{"provider", "model", "success"},
			),
			ProviderErrors: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "whetstone_provider_errors_total",
					Help: "Total number of model provider errors",
				},
				[]string{"provider", "error_type"},
			),
			ProviderLatency: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "whetstone_provider_request_duration_seconds",
					Help:    "Model provider request duration in seconds",
					Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to 51s
				},
				[]string{"provider", "model"},
			),

			// System metrics
			EventsPublished: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "whetstone_events_published_total",
					Help: "Total number of lifecycle events published",
				},
				[]string{"event_type"},
			),
			RateLimitRejections: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "whetstone_rate_limit_rejections_total",
					Help: "Total number of requests rejected by the rate limiter",
				},
			),
			HTTPRequestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "whetstone_http_requests_total",
					Help: "Total number of HTTP requests",
				},
				[]string{"method", "path", "status"},
			),
			HTTPRequestDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "whetstone_http_request_duration_seconds",
					Help:    "HTTP request duration in seconds",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"method", "path"},
			),
		}
	})

	return sharedMetrics
}

// RecordAction records one improver action and its duration
func (m *Metrics) RecordAction(action, result string, seconds float64) {
	m.ActionsTotal.WithLabelValues(action, result).Inc()
	m.ActionDuration.WithLabelValues(action).Observe(seconds)
}

// RecordTransition records a request status transition
func (m *Metrics) RecordTransition(fromStatus, toStatus string) {
	m.RequestTransitions.WithLabelValues(fromStatus, toStatus).Inc()
}

// RecordProviderRequest records a model provider API request
func (m *Metrics) RecordProviderRequest(provider, model string, success bool, seconds float64) {
	successStr := "false"
	if success {
		successStr = "true"
	}
	m.ProviderRequests.WithLabelValues(provider, model, successStr).Inc()
	m.ProviderLatency.WithLabelValues(provider, model).Observe(seconds)
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration float64) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}
