package cli

import (
	"errors"
	"strings"
	"testing"

	"github.com/KafClaw/sysclaw/internal/agent"
)

func osInfoThenAnswer(n int, req agent.ResolveRequest) (agent.Proposal, error) {
	if n == 0 {
		return agent.Proposal{Tool: "get_os_info", Arguments: map[string]any{}, Rationale: "Need the OS."}, nil
	}
	return agent.Proposal{Final: true, FinalAnswer: "The host runs a supported OS."}, nil
}

func TestAgentMessageApprovedAtConsole(t *testing.T) {
	isolate(t)
	fb := &fakeBackend{resolve: osInfoThenAnswer}
	useBackend(t, fb)

	out, err := runRootCommandWithInput(t, "y\n", "agent", "--plain", "-m", "which OS is this?")
	if err != nil {
		t.Fatalf("agent: %v", err)
	}
	for _, want := range []string{"Proposed action [1]: get_os_info", "Need the OS.", "get_os_info finished", "The host runs a supported OS."} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got %q", want, out)
		}
	}
}

func TestAgentMessageDeniedStopsRun(t *testing.T) {
	isolate(t)
	useBackend(t, &fakeBackend{resolve: osInfoThenAnswer})

	out, err := runRootCommandWithInput(t, "n\n", "agent", "--plain", "-m", "which OS is this?")
	if err != nil {
		t.Fatalf("agent: %v", err)
	}
	if !strings.Contains(out, "Run cancelled.") {
		t.Fatalf("expected cancellation, got %q", out)
	}
	if strings.Contains(out, "get_os_info finished") {
		t.Fatalf("denied call must not run, got %q", out)
	}
}

func TestAgentYesSkipsPrompt(t *testing.T) {
	isolate(t)
	useBackend(t, &fakeBackend{resolve: osInfoThenAnswer})

	out, err := runRootCommand(t, "agent", "--plain", "--yes", "-m", "which OS is this?")
	if err != nil {
		t.Fatalf("agent: %v", err)
	}
	if strings.Contains(out, "Execute?") {
		t.Fatalf("--yes must not prompt, got %q", out)
	}
	if !strings.Contains(out, "The host runs a supported OS.") {
		t.Fatalf("expected answer, got %q", out)
	}
}

func TestAgentBudgetExceeded(t *testing.T) {
	isolate(t)
	useBackend(t, &fakeBackend{resolve: func(n int, req agent.ResolveRequest) (agent.Proposal, error) {
		return agent.Proposal{Tool: "get_os_info", Arguments: map[string]any{}}, nil
	}})

	out, err := runRootCommand(t, "agent", "--plain", "--yes", "--budget", "2", "-m", "loop forever")
	if err != nil {
		t.Fatalf("agent: %v", err)
	}
	if !strings.Contains(out, "Stopped after 2 iterations") {
		t.Fatalf("expected budget notice, got %q", out)
	}
}

func TestAgentResolverUnavailableFailsCommand(t *testing.T) {
	isolate(t)
	useBackend(t, &fakeBackend{resolve: func(n int, req agent.ResolveRequest) (agent.Proposal, error) {
		return agent.Proposal{}, agent.ErrResolverUnavailable
	}})

	out, err := runRootCommand(t, "agent", "--plain", "-m", "which OS is this?")
	if !errors.Is(err, agent.ErrResolverUnavailable) {
		t.Fatalf("expected resolver error, got %v", err)
	}
	if !strings.Contains(out, "The model is unavailable") {
		t.Fatalf("expected unavailable notice, got %q", out)
	}
}

func TestAgentSessionRunsEachLineUntilExit(t *testing.T) {
	isolate(t)
	var goals []string
	useBackend(t, &fakeBackend{resolve: func(n int, req agent.ResolveRequest) (agent.Proposal, error) {
		goals = append(goals, req.Goal)
		return agent.Proposal{Final: true, FinalAnswer: "answer to " + req.Goal}, nil
	}})

	out, err := runRootCommandWithInput(t, "first goal\n\nsecond goal\nexit\nnever run\n", "agent", "--plain")
	if err != nil {
		t.Fatalf("agent session: %v", err)
	}
	if len(goals) != 2 || goals[0] != "first goal" || goals[1] != "second goal" {
		t.Fatalf("unexpected goals %q", goals)
	}
	if !strings.Contains(out, "answer to first goal") || !strings.Contains(out, "answer to second goal") {
		t.Fatalf("expected both answers, got %q", out)
	}
}

func TestAgentSessionEndsOnEOF(t *testing.T) {
	isolate(t)
	useBackend(t, &fakeBackend{})

	if _, err := runRootCommandWithInput(t, "", "agent", "--plain"); err != nil {
		t.Fatalf("agent session on closed input: %v", err)
	}
}
