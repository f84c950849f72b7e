// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "resume_builder"

// LLM call outcomes
const (
	OutcomeSuccess   = "success"
	OutcomeTimeout   = "timeout"
	OutcomeTransport = "transport_error"
)

var (
	llmRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "llm_requests_total",
		Help:      "Model gateway calls by workflow operation and outcome.",
	}, []string{"operation", "outcome"})

	llmDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "llm_request_duration_seconds",
		Help:      "Latency of model gateway calls.",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
	}, []string{"operation"})

	parseFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "llm_parse_fallbacks_total",
		Help:      "Model responses that could not be parsed and were replaced by an empty result.",
	}, []string{"operation"})

	stageTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "session_stage_transitions_total",
		Help:      "Resume session stage changes by target stage.",
	}, []string{"stage"})

	conflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "document_conflicts_total",
		Help:      "Writes rejected because the document revision changed underneath them.",
	}, []string{"document"})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by method and status code.",
	}, []string{"method", "status"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "Latency of HTTP requests by route pattern.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})
)

// ObserveLLM records one gateway call
func ObserveLLM(operation, outcome string, elapsed time.Duration) {
	llmRequests.WithLabelValues(operation, outcome).Inc()
	llmDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// ParseFallback records a response that fell back to the empty result
func ParseFallback(operation string) {
	parseFallbacks.WithLabelValues(operation).Inc()
}

// StageTransition records a session moving to stage
func StageTransition(stage string) {
	stageTransitions.WithLabelValues(stage).Inc()
}

// Conflict records a lost compare-and-swap on a document kind
func Conflict(document string) {
	conflicts.WithLabelValues(document).Inc()
}

// HTTPRequest records a served request. route is the matched mux pattern, not the raw path.
func HTTPRequest(method, route string, status int, elapsed time.Duration) {
	httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// Handler serves the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
