package cli

import (
	"errors"
	"strings"
	"testing"

	"github.com/KafClaw/sysclaw/internal/agent"
	"github.com/KafClaw/sysclaw/internal/provider"
)

func TestRunDryRunOnlyPrintsCommands(t *testing.T) {
	home := isolate(t)
	useBackend(t, &fakeBackend{translate: func(string) (provider.Translation, error) {
		return provider.Translation{
			Commands:    []string{"touch " + home + "/marker"},
			Explanation: "Creates a marker file.",
		}, nil
	}})

	out, err := runRootCommand(t, "run", "--dry-run", "create", "a", "marker")
	if err != nil {
		t.Fatalf("run --dry-run: %v", err)
	}
	if !strings.Contains(out, "Creates a marker file.") || !strings.Contains(out, "1. touch ") {
		t.Fatalf("expected plan in output, got %q", out)
	}
	if fileExists(home + "/marker") {
		t.Fatal("dry run must not execute commands")
	}
}

func TestRunYesExecutesAndRecordsHistory(t *testing.T) {
	isolate(t)
	useBackend(t, &fakeBackend{translate: func(string) (provider.Translation, error) {
		return provider.Translation{Commands: []string{"echo hello-sysclaw"}, Explanation: "Greets."}, nil
	}})

	out, err := runRootCommand(t, "run", "--yes", "say hello")
	if err != nil {
		t.Fatalf("run --yes: %v", err)
	}
	if !strings.Contains(out, "hello-sysclaw") {
		t.Fatalf("expected command output, got %q", out)
	}

	out, err = runRootCommand(t, "history", "commands")
	if err != nil {
		t.Fatalf("history commands: %v", err)
	}
	if !strings.Contains(out, "echo hello-sysclaw") || !strings.Contains(out, "say hello") {
		t.Fatalf("expected recorded command, got %q", out)
	}
}

func TestRunDeclinedConfirmationRunsNothing(t *testing.T) {
	home := isolate(t)
	useBackend(t, &fakeBackend{translate: func(string) (provider.Translation, error) {
		return provider.Translation{Commands: []string{"touch " + home + "/marker"}}, nil
	}})

	out, err := runRootCommandWithInput(t, "n\n", "run", "make marker")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out, "Cancelled") {
		t.Fatalf("expected cancellation notice, got %q", out)
	}
	if fileExists(home + "/marker") {
		t.Fatal("declined run must not execute commands")
	}
}

func TestRunStopsAtFirstFailingCommand(t *testing.T) {
	home := isolate(t)
	useBackend(t, &fakeBackend{translate: func(string) (provider.Translation, error) {
		return provider.Translation{Commands: []string{"exit 3", "touch " + home + "/marker"}}, nil
	}})

	_, err := runRootCommand(t, "run", "--yes", "fail first")
	if err == nil {
		t.Fatal("expected error for failing command")
	}
	if fileExists(home + "/marker") {
		t.Fatal("commands after a failure must be skipped")
	}
}

func TestRunBlockedCommandFails(t *testing.T) {
	isolate(t)
	useBackend(t, &fakeBackend{translate: func(string) (provider.Translation, error) {
		return provider.Translation{Commands: []string{"rm -rf /tmp/nothing-here"}}, nil
	}})

	out, err := runRootCommand(t, "run", "--yes", "clean up")
	if err == nil {
		t.Fatal("expected blacklisted command to fail")
	}
	if !strings.Contains(out, "blocked") {
		t.Fatalf("expected blocked reason, got %q", out)
	}
}

func TestRunTranslateFailure(t *testing.T) {
	isolate(t)
	useBackend(t, &fakeBackend{translate: func(string) (provider.Translation, error) {
		return provider.Translation{}, agent.ErrResolverUnavailable
	}})

	_, err := runRootCommand(t, "run", "anything")
	if !errors.Is(err, agent.ErrResolverUnavailable) {
		t.Fatalf("expected ErrResolverUnavailable, got %v", err)
	}
}
