package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/KafClaw/sysclaw/internal/agent"
	"github.com/KafClaw/sysclaw/internal/config"
	"github.com/KafClaw/sysclaw/internal/metrics"
	"github.com/KafClaw/sysclaw/internal/provider"
	"github.com/fatih/color"
)

func runRootCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return runRootCommandWithInput(t, "", args...)
}

func runRootCommandWithInput(t *testing.T, input string, args ...string) (string, error) {
	t.Helper()
	resetFlags()
	buf := &bytes.Buffer{}
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetIn(strings.NewReader(input))
	rootCmd.SetArgs(args)
	_, err := rootCmd.ExecuteC()
	rootCmd.SetArgs(nil)
	rootCmd.SetIn(os.Stdin)
	return strings.TrimSpace(buf.String()), err
}

// resetFlags restores the package-level flag values between invocations of
// the shared root command.
func resetFlags() {
	rootConfigPath, rootLogLevel, rootVerbose = "", "", false
	runYes, runDryRun = false, false
	agentMessage, agentBudget, agentPlain, agentYes = "", 0, false, false
	auditOutput, auditPlain = "", false
	serviceUser, serviceInstallRoot, serviceNoSystemctl = "", "", false
	serviceLogLimit, serviceLogVerify = 20, false
	historyLimit, historyOutcome = 20, ""
	configShowSecrets = false
	doctorFix = false
}

// isolate points HOME at a temp dir and clears variables that would leak
// the developer's own setup into the test.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("SYSCLAW_HOME", home)
	t.Setenv("SYSCLAW_CONFIG", "")
	t.Setenv("SYSCLAW_ENV_FILE", "")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_GENAI_API_KEY", "")
	t.Setenv("SYSCLAW_LOGGING_LEVEL", "error")
	t.Setenv("SYSCLAW_TOOLS_EXEC_TIMEOUT_SECONDS", "10")
	color.NoColor = true
	return home
}

// fakeBackend scripts the model. Nil funcs give harmless defaults.
type fakeBackend struct {
	mu        sync.Mutex
	resolve   func(n int, req agent.ResolveRequest) (agent.Proposal, error)
	translate func(instruction string) (provider.Translation, error)
	compose   func(facts string, gaps []string) (string, error)

	resolveCalls int
	composed     []string
}

func (f *fakeBackend) Resolve(ctx context.Context, req agent.ResolveRequest) (agent.Proposal, error) {
	f.mu.Lock()
	n := f.resolveCalls
	f.resolveCalls++
	f.mu.Unlock()
	if f.resolve == nil {
		return agent.Proposal{Final: true, FinalAnswer: "done"}, nil
	}
	return f.resolve(n, req)
}

func (f *fakeBackend) Translate(ctx context.Context, instruction string) (provider.Translation, error) {
	if f.translate == nil {
		return provider.Translation{Commands: []string{"echo " + instruction}}, nil
	}
	return f.translate(instruction)
}

func (f *fakeBackend) ComposeReport(ctx context.Context, facts string, gaps []string) (string, error) {
	f.mu.Lock()
	f.composed = append(f.composed, facts)
	f.mu.Unlock()
	if f.compose == nil {
		return "# Security Audit\n\nNothing to report.\n", nil
	}
	return f.compose(facts, gaps)
}

func useBackend(t *testing.T, b backend) {
	t.Helper()
	orig := newBackendFn
	newBackendFn = func(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (backend, error) {
		return b, nil
	}
	t.Cleanup(func() { newBackendFn = orig })
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
