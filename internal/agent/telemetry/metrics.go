package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const namespace = "threadsage"

// Tracer returns the service tracer. Spans are no-ops until a provider is installed.
func Tracer() trace.Tracer {
	return otel.Tracer("github.com/threadsage/server")
}

// Metrics holds the Prometheus collectors of the agent. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	NodeDuration  *prometheus.HistogramVec
	NodeErrors    *prometheus.CounterVec
	Routes        *prometheus.CounterVec
	Retries       *prometheus.CounterVec
	LLMCalls      *prometheus.CounterVec
	LLMTokens     *prometheus.CounterVec
	LLMCost       *prometheus.CounterVec
	Queries       *prometheus.CounterVec
	QueryDuration prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg when it is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		NodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "node_duration_seconds",
			Help:      "Time spent in each graph node.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"node"}),
		NodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_errors_total",
			Help:      "Graph node executions that returned an error.",
		}, []string{"node"}),
		Routes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "route_decisions_total",
			Help:      "Routing decisions taken by the routers.",
		}, []string{"router", "to"}),
		Retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Retried attempts per operation.",
		}, []string{"operation"}),
		LLMCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_calls_total",
			Help:      "LLM gateway calls by model and outcome.",
		}, []string{"model", "outcome"}),
		LLMTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "Tokens consumed by model and direction.",
		}, []string{"model", "direction"}),
		LLMCost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_cost_usd_total",
			Help:      "Estimated LLM spend in USD.",
		}, []string{"model"}),
		Queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Answered queries by mode and outcome.",
		}, []string{"mode", "outcome"}),
		QueryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "End to end query latency.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.NodeDuration, m.NodeErrors, m.Routes, m.Retries,
			m.LLMCalls, m.LLMTokens, m.LLMCost, m.Queries, m.QueryDuration,
		)
	}
	return m
}

func (m *Metrics) ObserveNode(node string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.NodeDuration.WithLabelValues(node).Observe(d.Seconds())
	if err != nil {
		m.NodeErrors.WithLabelValues(node).Inc()
	}
}

func (m *Metrics) ObserveRoute(router, to string) {
	if m == nil {
		return
	}
	m.Routes.WithLabelValues(router, to).Inc()
}

func (m *Metrics) ObserveRetry(operation string) {
	if m == nil {
		return
	}
	m.Retries.WithLabelValues(operation).Inc()
}

func (m *Metrics) ObserveLLMCall(model string, err error, promptTokens, completionTokens int, costUSD float64) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.LLMCalls.WithLabelValues(model, outcome).Inc()
	m.LLMTokens.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	m.LLMTokens.WithLabelValues(model, "completion").Add(float64(completionTokens))
	m.LLMCost.WithLabelValues(model).Add(costUSD)
}

func (m *Metrics) ObserveQuery(mode, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Queries.WithLabelValues(mode, outcome).Inc()
	m.QueryDuration.Observe(d.Seconds())
}
