package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metric names shared by the recorder and the query service.
const (
	MetricSteps            = "underwriter_steps_total"
	MetricStepDuration     = "underwriter_step_duration_seconds"
	MetricDecisions        = "underwriter_decisions_total"
	MetricRouterFallbacks  = "underwriter_router_fallbacks_total"
	MetricApplications     = "underwriter_applications_total"
	MetricLLMRequests      = "underwriter_llm_requests_total"
	MetricLLMRequestLength = "underwriter_llm_request_duration_seconds"
)

// PrometheusRecorder implements Recorder on its own registry.
type PrometheusRecorder struct {
	registry       *prometheus.Registry
	stepsTotal     *prometheus.CounterVec
	stepDuration   *prometheus.HistogramVec
	decisionsTotal *prometheus.CounterVec
	fallbacksTotal *prometheus.CounterVec
	appsTotal      *prometheus.CounterVec
	llmRequests    *prometheus.CounterVec
	llmDuration    *prometheus.HistogramVec
}

// NewPrometheusRecorder creates a recorder with a fresh registry that also
// carries the Go runtime and process collectors.
func NewPrometheusRecorder() *PrometheusRecorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &PrometheusRecorder{
		registry: registry,
		stepsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricSteps,
				Help: "Total number of executed workflow steps by step and outcome",
			},
			[]string{"step", "success"},
		),
		stepDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricStepDuration,
				Help:    "Duration of workflow steps in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"step"},
		),
		decisionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricDecisions,
				Help: "Total number of routing decisions by source and action",
			},
			[]string{"source", "action"},
		),
		fallbacksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRouterFallbacks,
				Help: "Total number of LLM routing fallbacks to the rules by reason",
			},
			[]string{"reason"},
		),
		appsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricApplications,
				Help: "Total number of finished applications by terminal status",
			},
			[]string{"status"},
		),
		llmRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricLLMRequests,
				Help: "Total number of LLM requests by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
		llmDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricLLMRequestLength,
				Help:    "Duration of LLM requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider"},
		),
	}
}

// ObserveStep records one executed step.
func (p *PrometheusRecorder) ObserveStep(step string, success bool, duration time.Duration) {
	p.stepsTotal.WithLabelValues(step, strconv.FormatBool(success)).Inc()
	p.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// ObserveDecision records one routing decision.
func (p *PrometheusRecorder) ObserveDecision(source, action string) {
	p.decisionsTotal.WithLabelValues(source, action).Inc()
}

// ObserveRouterFallback records an LLM decision replaced by the rules.
func (p *PrometheusRecorder) ObserveRouterFallback(reason string) {
	p.fallbacksTotal.WithLabelValues(reason).Inc()
}

// ObserveApplication records an application reaching a terminal status.
func (p *PrometheusRecorder) ObserveApplication(status string) {
	p.appsTotal.WithLabelValues(status).Inc()
}

// ObserveLLMRequest records one provider call.
func (p *PrometheusRecorder) ObserveLLMRequest(provider, outcome string, duration time.Duration) {
	p.llmRequests.WithLabelValues(provider, outcome).Inc()
	p.llmDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// Registry exposes the underlying registry.
func (p *PrometheusRecorder) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}
