package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the prometheus collectors for the pipeline. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	requests        *prometheus.CounterVec
	stageDuration   *prometheus.HistogramVec
	llmCalls        *prometheus.CounterVec
	llmTokens       *prometheus.CounterVec
	llmDuration     *prometheus.HistogramVec
	breakerState    prometheus.Gauge
	validationPass  *prometheus.CounterVec
	executionErrors *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		requests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finsql_requests_total",
				Help: "Questions answered, by outcome and terminal stage",
			},
			[]string{"outcome", "stage"},
		),
		stageDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "finsql_stage_duration_seconds",
				Help:    "Time spent in each pipeline stage",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
			},
			[]string{"stage"},
		),
		llmCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finsql_llm_calls_total",
				Help: "Language model gateway calls by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		llmTokens: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finsql_llm_tokens_total",
				Help: "Tokens consumed by gateway calls",
			},
			[]string{"kind", "direction"},
		),
		llmDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "finsql_llm_call_duration_seconds",
				Help:    "Latency of gateway calls including retries",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		breakerState: f.NewGauge(prometheus.GaugeOpts{
			Name: "finsql_llm_breaker_state",
			Help: "Circuit breaker state: 0 closed, 1 open, 2 half-open",
		}),
		validationPass: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finsql_validation_passes_total",
				Help: "Validator passes by pass name and result",
			},
			[]string{"pass", "result"},
		),
		executionErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finsql_execution_errors_total",
				Help: "Store execution failures by kind",
			},
			[]string{"kind"},
		),
		cacheLookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finsql_cache_lookups_total",
				Help: "Result cache lookups by result",
			},
			[]string{"result"},
		),
	}
}

// ObserveRequest counts a finished request.
func (m *Metrics) ObserveRequest(success bool, stage string) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.requests.WithLabelValues(outcome, stage).Inc()
}

// ObserveStage records a stage duration.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveLLMCall records a gateway call.
func (m *Metrics) ObserveLLMCall(kind string, success bool, promptTokens, completionTokens int, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.llmCalls.WithLabelValues(kind, outcome).Inc()
	m.llmTokens.WithLabelValues(kind, "prompt").Add(float64(promptTokens))
	m.llmTokens.WithLabelValues(kind, "completion").Add(float64(completionTokens))
	m.llmDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// ObserveLLMRejected counts a call refused by the open breaker.
func (m *Metrics) ObserveLLMRejected(kind string) {
	if m == nil {
		return
	}
	m.llmCalls.WithLabelValues(kind, "rejected").Inc()
}

// SetBreakerState publishes the breaker state as a number.
func (m *Metrics) SetBreakerState(state int) {
	if m == nil {
		return
	}
	m.breakerState.Set(float64(state))
}

// ObserveValidation counts a validator pass.
func (m *Metrics) ObserveValidation(pass string, ok bool) {
	if m == nil {
		return
	}
	result := "pass"
	if !ok {
		result = "fail"
	}
	m.validationPass.WithLabelValues(pass, result).Inc()
}

// ObserveExecutionError counts a store failure.
func (m *Metrics) ObserveExecutionError(kind string) {
	if m == nil {
		return
	}
	m.executionErrors.WithLabelValues(kind).Inc()
}

// ObserveCache counts a cache lookup.
func (m *Metrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}
