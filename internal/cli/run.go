package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/KafClaw/sysclaw/internal/approval"
	"github.com/KafClaw/sysclaw/internal/engine"
	"github.com/KafClaw/sysclaw/internal/store"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

const shellToolName = "run_shell_command"

var (
	runYes    bool
	runDryRun bool
)

var runCmd = &cobra.Command{
	Use:   "run <instruction>",
	Short: "Translate one instruction into shell commands and run them",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runOneShot,
}

func init() {
	runCmd.Flags().BoolVarP(&runYes, "yes", "y", false, "Run the commands without asking")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Only print the commands")
	rootCmd.AddCommand(runCmd)
}

func runOneShot(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	instruction := strings.TrimSpace(strings.Join(args, " "))
	if instruction == "" {
		return errors.New("instruction is empty")
	}

	a, err := newApp(ctx, appOptions{withStore: !runDryRun, withBackend: true})
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	tr, err := a.backend.Translate(ctx, instruction)
	if err != nil {
		return fmt.Errorf("translate: %w", err)
	}

	if tr.Explanation != "" {
		fmt.Fprintln(out, color.New(color.Bold).Sprint("Plan: ")+tr.Explanation)
	}
	for i, c := range tr.Commands {
		fmt.Fprintf(out, "  %d. %s\n", i+1, color.CyanString(c))
	}
	if runDryRun {
		return nil
	}

	if !runYes {
		confirmed, err := confirm(ctx, approval.NewConsolePrompter(cmd.InOrStdin(), out), out, "Run these commands? [y/N]: ")
		if err != nil {
			return err
		}
		if !confirmed {
			warn(out, "Cancelled, nothing was run.")
			return nil
		}
	}

	failed := 0
	for _, c := range tr.Commands {
		res := a.runCommand(ctx, c)
		a.recordCommand(ctx, store.CommandRecord{
			Instruction: instruction,
			Command:     c,
			Explanation: tr.Explanation,
			Success:     res.Success,
			Reason:      string(res.Reason),
			Output:      res.Text(),
		})
		if !res.Success {
			fail(out, "%s (%s): %s", c, res.Reason, res.Error)
			if res.Payload != "" {
				fmt.Fprintln(out, res.Payload)
			}
			failed++
			break
		}
		ok(out, "%s", c)
		if p := strings.TrimSpace(res.Payload); p != "" {
			fmt.Fprintln(out, p)
		}
	}
	if failed > 0 {
		return fmt.Errorf("command failed, remaining commands were skipped")
	}
	return nil
}

// runCommand validates c against the shell tool schema and executes it.
func (a *app) runCommand(ctx context.Context, c string) engine.ToolResult {
	args := map[string]any{"command": c}
	tool, err := a.tools.Validate(shellToolName, args)
	if err != nil {
		return engine.Failure(shellToolName, err)
	}
	return a.engine.Execute(ctx, tool, args)
}

func (a *app) recordCommand(ctx context.Context, rec store.CommandRecord) {
	if a.store == nil {
		return
	}
	if err := a.store.AddCommand(ctx, rec); err != nil {
		a.logger.Warn("Failed to record command", "command", rec.Command, "error", err)
	}
}

// confirm asks a yes/no question. Anything but y or yes is a no.
func confirm(ctx context.Context, p *approval.ConsolePrompter, out io.Writer, question string) (bool, error) {
	_, _ = color.New(color.FgYellow).Fprint(out, question)
	line, err := p.ReadLine(ctx)
	if errors.Is(err, io.EOF) {
		fmt.Fprintln(out)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}
