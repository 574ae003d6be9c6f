package tools

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// DefaultShellTimeout bounds every shell command unless configured otherwise.
const DefaultShellTimeout = 30 * time.Second

const shellToolName = "run_shell_command"

// ShellTool executes shell commands.
type ShellTool struct {
	Timeout time.Duration
	WorkDir string
	Guard   *Guard
}

// NewShellTool creates a new ShellTool.
func NewShellTool(timeout time.Duration, workDir string, guard *Guard) *ShellTool {
	if timeout <= 0 {
		timeout = DefaultShellTimeout
	}
	return &ShellTool{Timeout: timeout, WorkDir: workDir, Guard: guard}
}

func (t *ShellTool) Name() string { return shellToolName }
func (t *ShellTool) Tier() int    { return TierHighRisk }

func (t *ShellTool) Description() string {
	return "Execute a shell command on the host and return its combined output."
}

func (t *ShellTool) Schema() Schema {
	return Object(
		Required("command", TypeString, "The shell command to execute"),
		Optional("working_dir", TypeString, "Optional working directory for the command"),
	)
}

type shellArgs struct {
	Command    string `arg:"command"`
	WorkingDir string `arg:"working_dir"`
}

func (t *ShellTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	var args shellArgs
	if err := DecodeArgs(params, &args); err != nil {
		return "", err
	}
	if strings.TrimSpace(args.Command) == "" {
		return "", Fail(ReasonCapability, "command is required")
	}
	if err := t.Guard.CheckCommand(args.Command); err != nil {
		return "", err
	}
	workingDir := args.WorkingDir
	if workingDir == "" {
		workingDir = t.WorkDir
	}
	return RunCommand(ctx, t.Timeout, workingDir, args.Command)
}

// RunCommand runs command through the platform shell. The process is killed
// once timeout elapses and the failure carries ReasonTimeout.
func RunCommand(ctx context.Context, timeout time.Duration, workingDir, command string) (string, error) {
	if timeout <= 0 {
		timeout = DefaultShellTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := shellCommand(ctx, command)
	if workingDir != "" {
		cmd.Dir = workingDir
	}
	// Orphaned grandchildren may keep the pipes open after the kill.
	cmd.WaitDelay = 2 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	var result strings.Builder
	if stdout.Len() > 0 {
		result.WriteString(stdout.String())
	}
	if stderr.Len() > 0 {
		if result.Len() > 0 {
			result.WriteString("\n")
		}
		result.WriteString("STDERR:\n")
		result.WriteString(stderr.String())
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return result.String(), Fail(ReasonTimeout, "command timed out after %v", timeout)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return result.String(), Fail(ReasonExit, "Exit code: %d", exitErr.ExitCode())
		}
		return result.String(), Wrap(ReasonCapability, err, "error executing command")
	}
	if result.Len() == 0 {
		return "(no output)", nil
	}
	return result.String(), nil
}

func shellCommand(ctx context.Context, command string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.CommandContext(ctx, "cmd", "/C", command)
	}
	return exec.CommandContext(ctx, "sh", "-c", command)
}
