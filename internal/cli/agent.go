package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/KafClaw/sysclaw/internal/agent"
	"github.com/KafClaw/sysclaw/internal/approval"
	"github.com/KafClaw/sysclaw/internal/policy"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	agentMessage string
	agentBudget  int
	agentPlain   bool
	agentYes     bool
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Work on a goal with the agent, asking before each action",
	Long: "Without --message, agent starts a session where every line is a new goal.\n" +
		"Type quit or exit, or close input, to leave.",
	RunE: runAgent,
}

func init() {
	agentCmd.Flags().StringVarP(&agentMessage, "message", "m", "", "Goal to work on")
	agentCmd.Flags().IntVar(&agentBudget, "budget", 0, "Maximum iterations per goal (default model.maxIterations)")
	agentCmd.Flags().BoolVar(&agentPlain, "plain", false, "Print answers without Markdown rendering")
	agentCmd.Flags().BoolVarP(&agentYes, "yes", "y", false, "Approve every proposed action without asking")
	rootCmd.AddCommand(agentCmd)
}

func runAgent(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, appOptions{withStore: true, withBackend: true})
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	console := approval.NewConsolePrompter(cmd.InOrStdin(), out)
	var prompter approval.Prompter = console
	if agentYes {
		prompter = approval.AutoApprove{}
	}
	loop := a.loop(a.gate(prompter), turnPrinter(out))

	budget := agentBudget
	if budget <= 0 {
		budget = a.cfg.Model.MaxIterations
	}

	if msg := strings.TrimSpace(agentMessage); msg != "" {
		return runGoal(ctx, loop, out, msg, budget)
	}

	printHeader(out, "Interactive session. Type quit or exit to leave.")
	for {
		_, _ = color.New(color.FgGreen, color.Bold).Fprint(out, "\nsysclaw> ")
		line, err := console.ReadLine(ctx)
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(out)
			return nil
		}
		if err != nil {
			return err
		}
		goal := strings.TrimSpace(line)
		switch strings.ToLower(goal) {
		case "":
			continue
		case "quit", "exit":
			return nil
		}
		if err := runGoal(ctx, loop, out, goal, budget); err != nil {
			a.logger.Debug("Run ended without a final answer", "error", err)
		}
	}
}

// runGoal runs one goal in a fresh run context. Interrupt cancels the run,
// not the session.
func runGoal(parent context.Context, loop *agent.Loop, out io.Writer, goal string, budget int) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt)
	defer stop()

	rc := agent.NewRunContext(policy.ModeInteractive, budget)
	res, err := loop.Run(ctx, goal, rc)
	printOutcome(out, res)
	// A refusal or a spent budget is a normal end of a run, not a failure.
	if errors.Is(err, agent.ErrApprovalDenied) || errors.Is(err, agent.ErrBudgetExceeded) {
		return nil
	}
	return err
}

func printOutcome(w io.Writer, res agent.Outcome) {
	switch res.Termination {
	case agent.TerminationFinalAnswer:
		fmt.Fprintln(w)
		printAnswer(w, res.Answer, agentPlain)
	case agent.TerminationBudgetExceeded:
		warn(w, "Stopped after %d iterations without a final answer.", res.Iterations)
		if res.Answer != "" {
			printAnswer(w, res.Answer, agentPlain)
		}
	case agent.TerminationUserCancelled:
		warn(w, "Run cancelled.")
	case agent.TerminationResolverUnavailable:
		fail(w, "The model is unavailable. Try again later.")
	default:
		fail(w, "Run ended: %s", res.Termination)
	}
}
