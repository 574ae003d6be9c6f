package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/KafClaw/sysclaw/internal/servicelog"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	historyLimit   int
	historyOutcome string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show persisted commands, audits, service records and tool calls",
}

var historyCommandsCmd = &cobra.Command{
	Use:   "commands",
	Short: "One-shot commands run with sysclaw run",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, a *app) error {
			recs, err := a.store.Commands(ctx, historyLimit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
			fmt.Fprintln(tw, "WHEN\tOK\tCOMMAND\tINSTRUCTION")
			for _, c := range recs {
				status := color.GreenString("yes")
				if !c.Success {
					status = color.RedString("no (%s)", c.Reason)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.ExecutedAt.Local().Format(time.DateTime), status, c.Command, c.Instruction)
			}
			return tw.Flush()
		})
	},
}

var historyAuditsCmd = &cobra.Command{
	Use:   "audits",
	Short: "Security audits",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, a *app) error {
			runs, err := a.store.AuditRuns(ctx, historyLimit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
			fmt.Fprintln(tw, "WHEN\tVIOLATIONS\tGAPS\tDURATION\tREPORT")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\n", r.StartedAt.Local().Format(time.DateTime),
					r.Violations, len(r.Gaps), r.Duration.Round(time.Millisecond), r.ReportPath)
			}
			return tw.Flush()
		})
	},
}

var historyServiceCmd = &cobra.Command{
	Use:   "service",
	Short: "Service log records mirrored to the store",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, a *app) error {
			recs, err := a.store.ServiceLog(ctx, historyLimit, servicelog.Outcome(historyOutcome))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			counts, err := a.store.OutcomeCounts(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "no-violation: %d  violation-found: %d  error: %d\n",
				counts[servicelog.OutcomeNoViolation], counts[servicelog.OutcomeViolationFound], counts[servicelog.OutcomeError])
			printRecords(out, recs)
			return nil
		})
	},
}

var historyRunCmd = &cobra.Command{
	Use:   "run <run-id>",
	Short: "Tool calls and approval decisions of one run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, a *app) error {
			runID := strings.TrimSpace(args[0])
			decisions, err := a.store.Decisions(ctx, runID)
			if err != nil {
				return err
			}
			calls, err := a.store.ToolCalls(ctx, runID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(decisions) == 0 && len(calls) == 0 {
				fmt.Fprintf(out, "No records for run %s.\n", runID)
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 2, 2, ' ', 0)
			fmt.Fprintln(tw, "WHEN\tTOOL\tTIER\tDECISION\tREASON")
			for _, d := range decisions {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", d.CreatedAt.Local().Format(time.DateTime), d.Tool, d.Tier, d.Decision, d.Reason)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintln(out)
			for _, c := range calls {
				if c.Success {
					ok(out, "%s (%s)", c.Tool, c.Duration.Round(time.Millisecond))
				} else {
					fail(out, "%s (%s): %s", c.Tool, c.Reason, firstLineOf(c.Result))
				}
			}
			return nil
		})
	},
}

func init() {
	historyCmd.PersistentFlags().IntVarP(&historyLimit, "limit", "n", 20, "Number of entries")
	historyServiceCmd.Flags().StringVar(&historyOutcome, "outcome", "", "Only this outcome (no-violation, violation-found, error)")
	historyCmd.AddCommand(historyCommandsCmd, historyAuditsCmd, historyServiceCmd, historyRunCmd)
	rootCmd.AddCommand(historyCmd)
}

// withStore runs fn with an app whose store is open.
func withStore(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, appOptions{withStore: true})
	if err != nil {
		return err
	}
	defer a.Close()
	if a.store == nil {
		return errors.New("history store is unavailable (check service.dbPath)")
	}
	return fn(ctx, a)
}

func firstLineOf(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
