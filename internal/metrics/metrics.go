// Package metrics exposes Prometheus instruments for tool execution, agent
// runs, the resolver and the scheduler.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups every instrument. A nil *Metrics is valid and records nothing.
type Metrics struct {
	ToolExecutions   *prometheus.CounterVec
	ToolDuration     *prometheus.HistogramVec
	RunsTotal        *prometheus.CounterVec
	LoopIterations   prometheus.Histogram
	ResolverFailures *prometheus.CounterVec
	BreakerState     *prometheus.GaugeVec
	SchedulerTicks   *prometheus.CounterVec
	ApprovalOutcomes *prometheus.CounterVec
}

// New registers the instruments on reg. A nil reg uses a private registry
// that nothing scrapes.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		ToolExecutions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sysclaw_tool_executions_total",
			Help: "Tool executions by tool and outcome.",
		}, []string{"tool", "outcome"}),

		ToolDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sysclaw_tool_duration_seconds",
			Help:    "Tool execution latency.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"tool"}),

		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sysclaw_agent_runs_total",
			Help: "Agent runs by mode and termination reason.",
		}, []string{"mode", "reason"}),

		LoopIterations: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "sysclaw_agent_iterations",
			Help:    "Iterations consumed per agent run.",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21},
		}),

		ResolverFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sysclaw_resolver_failures_total",
			Help: "Intent resolver failures by kind.",
		}, []string{"kind"}), // transport, parse, breaker_open

		BreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sysclaw_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		}, []string{"name"}),

		SchedulerTicks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sysclaw_scheduler_ticks_total",
			Help: "Scheduler ticks by outcome.",
		}, []string{"outcome"}),

		ApprovalOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sysclaw_approval_decisions_total",
			Help: "Approval gate decisions by mode and decision.",
		}, []string{"mode", "decision"}),
	}
}

// ObserveTool records one tool execution.
func (m *Metrics) ObserveTool(tool string, success bool, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.ToolExecutions.WithLabelValues(tool, outcome).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// ObserveRun records a finished agent run.
func (m *Metrics) ObserveRun(mode, reason string, iterations int) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(mode, reason).Inc()
	m.LoopIterations.Observe(float64(iterations))
}

// ResolverFailure counts a failed resolver call.
func (m *Metrics) ResolverFailure(kind string) {
	if m == nil {
		return
	}
	m.ResolverFailures.WithLabelValues(kind).Inc()
}

// SetBreakerState publishes a breaker state.
func (m *Metrics) SetBreakerState(name string, state float64) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(name).Set(state)
}

// Tick counts a scheduler tick.
func (m *Metrics) Tick(outcome string) {
	if m == nil {
		return
	}
	m.SchedulerTicks.WithLabelValues(outcome).Inc()
}

// Approval counts a gate decision.
func (m *Metrics) Approval(mode, decision string) {
	if m == nil {
		return
	}
	m.ApprovalOutcomes.WithLabelValues(mode, decision).Inc()
}
