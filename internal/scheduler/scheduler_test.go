package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/KafClaw/sysclaw/internal/agent"
	"github.com/KafClaw/sysclaw/internal/audit"
	"github.com/KafClaw/sysclaw/internal/engine"
	"github.com/KafClaw/sysclaw/internal/servicelog"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type memoryLog struct {
	mu   sync.Mutex
	recs []servicelog.Record
}

func (m *memoryLog) Append(_ context.Context, r servicelog.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, r)
	return nil
}

func (m *memoryLog) snapshot() []servicelog.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]servicelog.Record, len(m.recs))
	copy(out, m.recs)
	return out
}

func newTestScheduler(t *testing.T, log servicelog.Appender) *Scheduler {
	t.Helper()
	return New(Config{
		Interval: 20 * time.Millisecond,
		LockPath: filepath.Join(t.TempDir(), "scheduler.lock"),
	}, log)
}

func fixedJob(name string, rec servicelog.Record, calls *atomic.Int32) *Job {
	return &Job{Name: name, Run: func(context.Context) servicelog.Record {
		calls.Add(1)
		return rec
	}}
}

func TestTickRecordsOneRecordPerJob(t *testing.T) {
	log := &memoryLog{}
	s := newTestScheduler(t, log)
	var calls atomic.Int32
	if err := s.Register(fixedJob("policy-check", servicelog.Record{Outcome: servicelog.OutcomeNoViolation, Detail: "ok"}, &calls)); err != nil {
		t.Fatal(err)
	}
	if err := s.Register(fixedJob("policy-check", servicelog.Record{}, &calls)); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}

	s.tick(context.Background())
	s.wg.Wait()

	recs := log.snapshot()
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	if recs[0].Job != "policy-check" || recs[0].Outcome != servicelog.OutcomeNoViolation || recs[0].Timestamp.IsZero() {
		t.Errorf("unexpected record: %+v", recs[0])
	}
}

func TestPanicIsRecordedAndTicksContinue(t *testing.T) {
	log := &memoryLog{}
	s := newTestScheduler(t, log)
	var n atomic.Int32
	_ = s.Register(&Job{Name: "flaky", Run: func(context.Context) servicelog.Record {
		if n.Add(1) == 1 {
			panic("boom")
		}
		return servicelog.Record{Outcome: servicelog.OutcomeNoViolation}
	}})

	s.tick(context.Background())
	s.wg.Wait()
	s.tick(context.Background())
	s.wg.Wait()

	recs := log.snapshot()
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].Outcome != servicelog.OutcomeError || !strings.Contains(recs[0].Detail, "boom") {
		t.Errorf("expected panic record, got %+v", recs[0])
	}
	if recs[1].Outcome != servicelog.OutcomeNoViolation {
		t.Errorf("expected later tick to succeed, got %+v", recs[1])
	}
}

func TestOverlappingTickIsRecordedAsError(t *testing.T) {
	log := &memoryLog{}
	s := newTestScheduler(t, log)
	release := make(chan struct{})
	started := make(chan struct{})
	_ = s.Register(&Job{Name: "slow", Run: func(context.Context) servicelog.Record {
		close(started)
		<-release
		return servicelog.Record{Outcome: servicelog.OutcomeNoViolation}
	}})

	s.tick(context.Background())
	<-started
	s.tick(context.Background())
	close(release)
	s.wg.Wait()

	recs := log.snapshot()
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].Outcome != servicelog.OutcomeError || recs[0].Detail != DetailStillRunning {
		t.Errorf("expected still-running record first, got %+v", recs[0])
	}
	if recs[1].Outcome != servicelog.OutcomeNoViolation {
		t.Errorf("expected slow job record, got %+v", recs[1])
	}
}

func TestEveryNthTick(t *testing.T) {
	s := newTestScheduler(t, &memoryLog{})
	var calls atomic.Int32
	job := fixedJob("audit", servicelog.Record{Outcome: servicelog.OutcomeNoViolation}, &calls)
	job.Every = 3
	_ = s.Register(job)

	for i := 0; i < 6; i++ {
		s.tick(context.Background())
		s.wg.Wait()
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 runs in 6 ticks, got %d", calls.Load())
	}
}

func TestJobTimeout(t *testing.T) {
	log := &memoryLog{}
	s := New(Config{Interval: time.Hour, JobTimeout: 20 * time.Millisecond, LockPath: filepath.Join(t.TempDir(), "l")}, log)
	_ = s.Register(&Job{Name: "stuck", Run: func(ctx context.Context) servicelog.Record {
		<-ctx.Done()
		return servicelog.Record{Outcome: servicelog.OutcomeError, Detail: ctx.Err().Error()}
	}})

	s.tick(context.Background())
	s.wg.Wait()
	recs := log.snapshot()
	if len(recs) != 1 || !strings.Contains(recs[0].Detail, "deadline") {
		t.Fatalf("expected deadline record, got %+v", recs)
	}
}

func TestEmptyOutcomeBecomesError(t *testing.T) {
	log := &memoryLog{}
	s := newTestScheduler(t, log)
	var calls atomic.Int32
	_ = s.Register(fixedJob("blank", servicelog.Record{}, &calls))
	s.tick(context.Background())
	s.wg.Wait()
	if recs := log.snapshot(); len(recs) != 1 || recs[0].Outcome != servicelog.OutcomeError {
		t.Fatalf("expected error record, got %+v", recs)
	}
}

func TestRunTicksUntilCancelled(t *testing.T) {
	log := &memoryLog{}
	lockPath := filepath.Join(t.TempDir(), "scheduler.lock")
	s := New(Config{Interval: 10 * time.Millisecond, LockPath: lockPath, RunOnStart: true}, log)
	var calls atomic.Int32
	_ = s.Register(fixedJob("policy-check", servicelog.Record{Outcome: servicelog.OutcomeNoViolation}, &calls))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for calls.Load() < 3 {
		select {
		case <-deadline:
			t.Fatal("scheduler did not tick")
		case <-time.After(5 * time.Millisecond):
		}
	}

	other := New(Config{Interval: time.Hour, LockPath: lockPath}, &memoryLog{})
	if err := other.Run(context.Background()); !errors.Is(err, ErrLocked) {
		t.Errorf("expected ErrLocked for second worker, got %v", err)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if _, err := os.Stat(lockPath); !os.IsNotExist(err) {
		t.Errorf("expected lock file removed, got %v", err)
	}
	if len(log.snapshot()) < 3 {
		t.Errorf("expected at least 3 records")
	}
}

type fakeLoop struct {
	out agent.Outcome
	err error
	rc  *agent.RunContext
}

func (f *fakeLoop) Run(_ context.Context, goal string, rc *agent.RunContext) (agent.Outcome, error) {
	f.rc = rc
	return f.out, f.err
}

func policyResult(payload string, success bool) agent.Turn {
	return agent.ToolResultTurn(engine.ToolResult{Tool: "check_policies", Success: success, Payload: payload})
}

func TestPolicyCheckJob(t *testing.T) {
	cases := []struct {
		name    string
		out     agent.Outcome
		err     error
		outcome servicelog.Outcome
		detail  string
	}{
		{
			name: "compliant",
			out: agent.Outcome{RunID: "r1", Iterations: 1, Termination: agent.TerminationFinalAnswer, History: []agent.Turn{
				policyResult(`{"violations":[],"checked":["no_root_processes"],"message":"All checked policies are compliant."}`, true),
			}},
			outcome: servicelog.OutcomeNoViolation,
			detail:  "All checked policies are compliant.",
		},
		{
			name: "violations",
			out: agent.Outcome{RunID: "r2", Termination: agent.TerminationFinalAnswer, History: []agent.Turn{
				policyResult(`{"violations":[{"policy":"forbidden_processes","details":"nc is running"}],"message":"Found 1 policy violations."}`, true),
			}},
			outcome: servicelog.OutcomeViolationFound,
			detail:  "forbidden_processes: nc is running",
		},
		{
			name:    "resolver down",
			out:     agent.Outcome{RunID: "r3", Termination: agent.TerminationResolverUnavailable},
			err:     agent.ErrResolverUnavailable,
			outcome: servicelog.OutcomeError,
			detail:  "resolver_unavailable",
		},
		{
			name: "budget after check",
			out: agent.Outcome{Termination: agent.TerminationBudgetExceeded, History: []agent.Turn{
				policyResult(`{"violations":[],"message":"All checked policies are compliant."}`, true),
			}},
			err:     agent.ErrBudgetExceeded,
			outcome: servicelog.OutcomeNoViolation,
			detail:  "(run ended with budget_exceeded)",
		},
		{
			name:    "never checked",
			out:     agent.Outcome{Termination: agent.TerminationFinalAnswer, Answer: "I could not run the check."},
			outcome: servicelog.OutcomeError,
			detail:  "I could not run the check.",
		},
		{
			name: "failed check",
			out: agent.Outcome{Termination: agent.TerminationFinalAnswer, History: []agent.Turn{
				policyResult("", false),
			}},
			outcome: servicelog.OutcomeError,
			detail:  "did not produce a result",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			loop := &fakeLoop{out: tc.out, err: tc.err}
			rec := NewPolicyCheckJob(loop, 5, "").Run(context.Background())
			if rec.Outcome != tc.outcome {
				t.Errorf("expected %s, got %s (%s)", tc.outcome, rec.Outcome, rec.Detail)
			}
			if !strings.Contains(rec.Detail, tc.detail) {
				t.Errorf("expected detail to contain %q, got %q", tc.detail, rec.Detail)
			}
			if rec.RunID != tc.out.RunID {
				t.Errorf("expected run id %q, got %q", tc.out.RunID, rec.RunID)
			}
			if loop.rc.Budget != 5 || loop.rc.Mode != "unattended" {
				t.Errorf("expected fresh unattended context, got %+v", loop.rc)
			}
		})
	}
}

type fakeAudit struct {
	res audit.Result
	err error
}

func (f *fakeAudit) Run(context.Context) (audit.Result, error) { return f.res, f.err }

func TestAuditJob(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.md")
	var done atomic.Bool
	job := NewAuditJob(&fakeAudit{res: audit.Result{
		RunID:      "a1",
		Report:     "# Security Audit Report\n",
		Violations: 1,
		Gaps:       []string{"security_events: access denied (permission)"},
	}}, 12, path, func(context.Context, audit.Result) { done.Store(true) })

	if job.Every != 12 || job.Name != AuditJobName {
		t.Fatalf("unexpected job: %+v", job)
	}
	rec := job.Run(context.Background())
	if rec.Outcome != servicelog.OutcomeViolationFound || !strings.Contains(rec.Detail, "security_events") {
		t.Errorf("unexpected record: %+v", rec)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "# Security Audit Report\n" {
		t.Errorf("report not written verbatim: %q %v", data, err)
	}
	if !done.Load() {
		t.Error("expected onDone callback")
	}

	rec = NewAuditJob(&fakeAudit{err: errors.New("compose report: down")}, 1, path, nil).Run(context.Background())
	if rec.Outcome != servicelog.OutcomeError {
		t.Errorf("expected error outcome, got %+v", rec)
	}
}
