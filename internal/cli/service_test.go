package cli

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/KafClaw/sysclaw/internal/agent"
	"github.com/KafClaw/sysclaw/internal/config"
	"github.com/KafClaw/sysclaw/internal/service"
	"github.com/KafClaw/sysclaw/internal/servicelog"
)

func writeServiceLog(t *testing.T, path string, recs ...servicelog.Record) {
	t.Helper()
	fl, err := servicelog.Open(path)
	if err != nil {
		t.Fatalf("open service log: %v", err)
	}
	for _, r := range recs {
		if err := fl.Append(context.Background(), r); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
}

func TestServiceLogPrintsAndVerifies(t *testing.T) {
	home := isolate(t)
	logPath := filepath.Join(home, ".sysclaw", "service.log")
	writeServiceLog(t, logPath,
		servicelog.Record{Outcome: servicelog.OutcomeNoViolation, Detail: "all clear", Job: "policy-check"},
		servicelog.Record{Outcome: servicelog.OutcomeViolationFound, Detail: "telnetd running", Job: "policy-check"},
	)

	out, err := runRootCommand(t, "service", "log", "--verify")
	if err != nil {
		t.Fatalf("service log: %v", err)
	}
	for _, want := range []string{"Hash chain intact (2 records)", "all clear", "telnetd running", "violation-found"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got %q", want, out)
		}
	}

	out, err = runRootCommand(t, "service", "log", "-n", "1")
	if err != nil {
		t.Fatalf("service log -n 1: %v", err)
	}
	if strings.Contains(out, "all clear") || !strings.Contains(out, "telnetd running") {
		t.Fatalf("expected only the newest record, got %q", out)
	}
}

func TestServiceLogVerifyDetectsTampering(t *testing.T) {
	home := isolate(t)
	logPath := filepath.Join(home, ".sysclaw", "service.log")
	writeServiceLog(t, logPath,
		servicelog.Record{Outcome: servicelog.OutcomeViolationFound, Detail: "telnetd running"},
		servicelog.Record{Outcome: servicelog.OutcomeNoViolation, Detail: "all clear"},
	)
	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	tampered := strings.Replace(string(data), "telnetd running", "nothing running", 1)
	if err := os.WriteFile(logPath, []byte(tampered), 0o600); err != nil {
		t.Fatalf("write log: %v", err)
	}

	if _, err := runRootCommand(t, "service", "log", "--verify"); err == nil {
		t.Fatal("expected verification failure")
	}
}

func TestServiceInstallWritesUnitAndEnv(t *testing.T) {
	home := isolate(t)
	t.Setenv("GEMINI_API_KEY", "gem-key")
	root := filepath.Join(home, "root")

	out, err := runRootCommand(t, "service", "install", "--no-systemctl", "--root", root, "--user", "sysclaw")
	if err != nil {
		t.Fatalf("service install: %v", err)
	}
	unit, err := os.ReadFile(service.UnitPath(root))
	if err != nil {
		t.Fatalf("read unit: %v", err)
	}
	for _, want := range []string{"service run", "User=sysclaw", "Environment=SYSCLAW_CONFIG=" + filepath.Join(home, ".sysclaw", "config.json")} {
		if !strings.Contains(string(unit), want) {
			t.Fatalf("expected %q in unit:\n%s", want, unit)
		}
	}

	envPath := filepath.Join(home, ".sysclaw", "service.env")
	env, err := os.ReadFile(envPath)
	if err != nil {
		t.Fatalf("read env file: %v", err)
	}
	if !strings.Contains(string(env), "GEMINI_API_KEY=gem-key") {
		t.Fatalf("expected API key in env file, got %q", env)
	}
	if strings.Contains(string(env), "SLACK_BOT_TOKEN") {
		t.Fatalf("empty values must be skipped, got %q", env)
	}
	info, err := os.Stat(envPath)
	if err != nil {
		t.Fatalf("stat env file: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("env file mode = %v, want 0600", info.Mode().Perm())
	}
	if !strings.Contains(out, "Unit written to") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestNotifySinksSkipsMisconfiguredSinks(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Notify.Kafka.Enabled = true
	cfg.Notify.Slack.Enabled = true
	cfg.Notify.Slack.Token = "xoxb-test"
	cfg.Notify.Slack.Channel = "#ops"
	a := &app{cfg: cfg, logger: discardLogger()}

	sinks, closeSinks := a.notifySinks()
	defer closeSinks()
	if len(sinks) != 1 {
		t.Fatalf("expected only the slack sink, got %d", len(sinks))
	}
}

func TestNotifySinksKafkaWithBrokers(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Notify.Kafka.Enabled = true
	cfg.Notify.Kafka.Brokers = []string{"127.0.0.1:1"}
	cfg.Notify.Outcomes = []string{"error"}
	a := &app{cfg: cfg, logger: discardLogger()}

	sinks, closeSinks := a.notifySinks()
	defer closeSinks()
	if len(sinks) != 1 {
		t.Fatalf("expected kafka sink, got %d", len(sinks))
	}
	// Filtered outcomes never reach the broker.
	if err := sinks[0].Append(context.Background(), servicelog.Record{Outcome: servicelog.OutcomeNoViolation}); err != nil {
		t.Fatalf("filtered append: %v", err)
	}
}

func TestServiceWorkerRecordsPolicyTick(t *testing.T) {
	home := isolate(t)
	t.Setenv("SYSCLAW_SERVICE_METRICS_ADDR", "127.0.0.1:0")
	t.Setenv("SYSCLAW_SCHEDULER_INTERVAL_SECONDS", "3600")
	useBackend(t, &fakeBackend{resolve: func(n int, req agent.ResolveRequest) (agent.Proposal, error) {
		if n == 0 {
			return agent.Proposal{Tool: "check_policies", Arguments: map[string]any{}}, nil
		}
		return agent.Proposal{Final: true, FinalAnswer: "No violations."}, nil
	}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- runServiceWorker(ctx, io.Discard) }()

	logPath := filepath.Join(home, ".sysclaw", "service.log")
	deadline := time.Now().Add(20 * time.Second)
	var recs []servicelog.Record
	for time.Now().Before(deadline) {
		recs, _ = servicelog.Tail(logPath, 0)
		if len(recs) > 0 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("worker: %v", err)
	}
	if len(recs) == 0 {
		t.Fatal("expected a service log record from the first tick")
	}
	if recs[0].Outcome != servicelog.OutcomeNoViolation || recs[0].Job != "policy-check" {
		t.Fatalf("unexpected record %+v", recs[0])
	}
	if n, err := servicelog.Verify(logPath); err != nil || n != len(recs) {
		t.Fatalf("verify = %d, %v", n, err)
	}
}
