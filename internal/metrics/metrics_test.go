package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveTool("x", true, time.Second)
	m.ObserveRun("interactive", "final_answer", 2)
	m.ResolverFailure("parse")
	m.SetBreakerState("gemini", 2)
	m.Tick("error")
	m.Approval("interactive", "approve")
}

func TestObserveTool(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveTool("read_file", true, 10*time.Millisecond)
	m.ObserveTool("read_file", false, 10*time.Millisecond)
	m.ObserveTool("read_file", false, 10*time.Millisecond)

	if got := testutil.ToFloat64(m.ToolExecutions.WithLabelValues("read_file", "failure")); got != 2 {
		t.Fatalf("expected 2 failures, got %v", got)
	}
	if got := testutil.ToFloat64(m.ToolExecutions.WithLabelValues("read_file", "success")); got != 1 {
		t.Fatalf("expected 1 success, got %v", got)
	}
}

func TestNewWithNilRegistry(t *testing.T) {
	a := New(nil)
	b := New(nil)
	a.Tick("no-violation")
	b.Tick("no-violation")
	if got := testutil.ToFloat64(a.SchedulerTicks.WithLabelValues("no-violation")); got != 1 {
		t.Fatalf("private registries must be independent, got %v", got)
	}
}
