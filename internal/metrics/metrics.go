// Package metrics holds every prometheus instrument the service exports,
// registered on a private registry so tests never collide on the global one.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the service's instruments. Construct with New and share
// one instance across components.
type Metrics struct {
	registry *prometheus.Registry

	// Processor loop
	ProcessorCycles          prometheus.Counter
	ProcessorErrors          prometheus.Counter
	ProcessorForcedShutdowns prometheus.Counter
	ActivePipelines          prometheus.Gauge
	PipelineDuration         *prometheus.HistogramVec
	Pipelines                *prometheus.CounterVec

	// Queues and scheduling
	QueueLength         *prometheus.GaugeVec
	SchedulerSelections *prometheus.CounterVec

	// Check execution
	ChecksTotal   *prometheus.CounterVec
	CheckDuration *prometheus.HistogramVec

	// Result cache
	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	CacheEvictions prometheus.Counter
	CacheEntries   prometheus.Gauge

	// Webhook ingress
	WebhookEvents   *prometheus.CounterVec
	WebhookFailures *prometheus.CounterVec

	// HTTP server
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// GitHub gateway
	GatewayRequests     *prometheus.CounterVec
	GatewayBreakerTrips prometheus.Counter
}

// New creates a Metrics set on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ProcessorCycles: factory.NewCounter(prometheus.CounterOpts{
			Name: "imq_processor_cycles_total",
			Help: "Completed processor loop cycles.",
		}),
		ProcessorErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "imq_processor_errors_total",
			Help: "Processor loop iterations that ended in an error.",
		}),
		ProcessorForcedShutdowns: factory.NewCounter(prometheus.CounterOpts{
			Name: "imq_processor_forced_shutdowns_total",
			Help: "Pipelines still running when the shutdown deadline expired.",
		}),
		ActivePipelines: factory.NewGauge(prometheus.GaugeOpts{
			Name: "imq_processor_active_pipelines",
			Help: "Pipelines currently executing.",
		}),
		PipelineDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "imq_pipeline_duration_seconds",
			Help:    "Wall time of one entry's pipeline run.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"result"}),
		Pipelines: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "imq_pipeline_total",
			Help: "Pipeline runs by result.",
		}, []string{"result"}),

		QueueLength: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "imq_queue_length",
			Help: "Entries per queue.",
		}, []string{"branch"}),
		SchedulerSelections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "imq_scheduler_selections_total",
			Help: "Queue selections by priority class.",
		}, []string{"priority"}),

		ChecksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "imq_checks_total",
			Help: "Check executions by kind and terminal status.",
		}, []string{"kind", "status"}),
		CheckDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "imq_check_duration_seconds",
			Help:    "Check execution time by kind.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
		}, []string{"kind"}),

		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "imq_cache_hits_total",
			Help: "Result cache hits.",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "imq_cache_misses_total",
			Help: "Result cache misses.",
		}),
		CacheEvictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "imq_cache_evictions_total",
			Help: "Result cache entries evicted by TTL or capacity.",
		}),
		CacheEntries: factory.NewGauge(prometheus.GaugeOpts{
			Name: "imq_cache_entries",
			Help: "Result cache entries currently stored.",
		}),

		WebhookEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "imq_webhook_events_total",
			Help: "Webhook deliveries by event and action.",
		}, []string{"event", "action"}),
		WebhookFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "imq_webhook_failures_total",
			Help: "Rejected webhook deliveries by reason.",
		}, []string{"reason"}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "imq_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "path", "status"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "imq_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),

		GatewayRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "imq_gateway_requests_total",
			Help: "GitHub API calls by operation and outcome.",
		}, []string{"op", "outcome"}),
		GatewayBreakerTrips: factory.NewCounter(prometheus.CounterOpts{
			Name: "imq_gateway_breaker_trips_total",
			Help: "Circuit breaker transitions to open.",
		}),
	}
}

// Registry exposes the backing registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
