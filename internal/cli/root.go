// Package cli implements the sysclaw command line.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/KafClaw/sysclaw/internal/logging"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/KafClaw/sysclaw/internal/cli.version=1.2.3"
	version = "0.4.0"
	logo    = "\n" +
		"  ____            ____ _\n" +
		" / ___| _   _ ___/ ___| | __ ___      __\n" +
		" \\___ \\| | | / __| |   | |/ _` \\ \\ /\\ / /\n" +
		"  ___) | |_| \\__ \\ |___| | (_| |\\ V  V /\n" +
		" |____/ \\__, |___/\\____|_|\\__,_| \\_/\\_/\n" +
		"        |___/\n"
)

var (
	rootConfigPath string
	rootLogLevel   string
	rootVerbose    bool

	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:           "sysclaw",
	Short:         "SysClaw - natural-language assistant for your operating system",
	Long:          color.CyanString(logo) + "\nDescribe what you want done; SysClaw plans it, asks before acting and audits the host.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if rootConfigPath != "" {
			if err := os.Setenv("SYSCLAW_CONFIG", rootConfigPath); err != nil {
				return err
			}
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			_ = logCloser.Close()
			logCloser = nil
		}
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "sysclaw %s\n", version)
	},
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(rootCmd.ErrOrStderr(), color.RedString("Error: %v", err))
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootConfigPath, "config", "", "Config file (default ~/.sysclaw/config.json)")
	rootCmd.PersistentFlags().StringVar(&rootLogLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVarP(&rootVerbose, "verbose", "v", false, "Shorthand for --log-level=debug")
	rootCmd.AddCommand(versionCmd)
}

// setupLogging installs the process logger from the loaded config and the
// root flags.
func setupLogging(opts logging.Options) error {
	if rootLogLevel != "" {
		opts.Level = rootLogLevel
	}
	if rootVerbose {
		opts.Level = "debug"
	}
	closer, err := logging.Setup(opts)
	if err != nil {
		return err
	}
	logCloser = closer
	return nil
}
