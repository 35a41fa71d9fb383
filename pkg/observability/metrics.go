// Package observability carries the metrics and tracing surface of the
// runtime: prometheus counters and histograms for cycles, tools, and
// failovers, plus an otel tracer for spans around LLM calls and cycles.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the runtime's prometheus instruments.
type Metrics struct {
	CyclesTotal    *prometheus.CounterVec
	CycleDuration  prometheus.Histogram
	LLMErrors      *prometheus.CounterVec
	ToolCalls      *prometheus.CounterVec
	ToolDuration   prometheus.Histogram
	FailoversTotal *prometheus.CounterVec
	Interventions  prometheus.Counter
	AgentsActive   prometheus.Gauge
}

// NewMetrics registers the instruments on the given registerer. Passing nil
// uses the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		CyclesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "colony_cycles_total",
			Help: "Completed agent cycles by outcome.",
		}, []string{"agent_type", "outcome"}),

		CycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "colony_cycle_duration_seconds",
			Help:    "End-to-end cycle duration in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),

		LLMErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "colony_llm_errors_total",
			Help: "Provider stream errors by classified kind.",
		}, []string{"kind"}),

		ToolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "colony_tool_calls_total",
			Help: "Tool executions by tool name and status.",
		}, []string{"tool", "status"}),

		ToolDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "colony_tool_duration_seconds",
			Help:    "Tool execution duration in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),

		FailoversTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "colony_failovers_total",
			Help: "Failover attempts by result.",
		}, []string{"result"}),

		Interventions: factory.NewCounter(prometheus.CounterOpts{
			Name: "colony_interventions_total",
			Help: "Loop-detection interventions appended to agent histories.",
		}),

		AgentsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "colony_agents_active",
			Help: "Number of registered agents.",
		}),
	}
}
