package cli

import (
	"fmt"

	"github.com/KafClaw/sysclaw/internal/cliconfig"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var doctorFix bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run config and setup diagnostics",
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := cliconfig.RunDoctorWithOptions(cliconfig.DoctorOptions{Fix: doctorFix})
		if err != nil {
			return err
		}

		failures := 0
		for _, check := range report.Checks {
			symbol := color.GreenString("PASS")
			if check.Status == cliconfig.DoctorWarn {
				symbol = color.YellowString("WARN")
			}
			if check.Status == cliconfig.DoctorFail {
				symbol = color.RedString("FAIL")
				failures++
			}
			fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s: %s\n", symbol, check.Name, check.Message)
		}

		if failures > 0 {
			return fmt.Errorf("doctor found %d failing check(s)", failures)
		}
		return nil
	},
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorFix, "fix", false, "Merge discovered env files into ~/.config/sysclaw/env")
	rootCmd.AddCommand(doctorCmd)
}
