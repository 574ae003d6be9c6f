package cli

import (
	"context"
	"fmt"

	"github.com/KafClaw/sysclaw/internal/audit"
	"github.com/spf13/cobra"
)

var (
	auditOutput string
	auditPlain  bool
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Collect host facts and write a security audit report",
	RunE:  runAudit,
}

func init() {
	auditCmd.Flags().StringVarP(&auditOutput, "output", "o", "", "Report path (default service.reportPath)")
	auditCmd.Flags().BoolVar(&auditPlain, "plain", false, "Print the report without Markdown rendering")
	rootCmd.AddCommand(auditCmd)
}

func runAudit(cmd *cobra.Command, args []string) error {
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
	path := auditOutput
	if path == "" {
		path = a.cfg.Service.ReportPath
	}

	fmt.Fprintln(out, "Collecting system facts...")
	res, err := a.synthesizer().Run(ctx)
	if err != nil {
		for _, g := range res.Gaps {
			warn(out, "gap: %s", g)
		}
		return err
	}
	if err := audit.WriteReport(path, res.Report); err != nil {
		return err
	}
	a.recordAudit(ctx, res, path)

	printAnswer(out, res.Report, auditPlain)
	for _, g := range res.Gaps {
		warn(out, "gap: %s", g)
	}
	ok(out, "Report written to %s (%d violations, %s)", path, res.Violations, res.Duration.Round(1e6))
	return nil
}
