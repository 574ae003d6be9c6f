package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/KafClaw/sysclaw/internal/audit"
	"github.com/KafClaw/sysclaw/internal/cliconfig"
	"github.com/KafClaw/sysclaw/internal/config"
	"github.com/KafClaw/sysclaw/internal/notify"
	"github.com/KafClaw/sysclaw/internal/scheduler"
	"github.com/KafClaw/sysclaw/internal/service"
	"github.com/KafClaw/sysclaw/internal/servicelog"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	serviceUser        string
	serviceInstallRoot string
	serviceNoSystemctl bool
	serviceLogLimit    int
	serviceLogVerify   bool
)

// serviceEnvKeys are copied into the unit's EnvironmentFile on install.
var serviceEnvKeys = []string{
	"GEMINI_API_KEY",
	"GOOGLE_API_KEY",
	"PROGRAMMABLE_SEARCH_ENGINE_ID",
	"SLACK_BOT_TOKEN",
}

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Manage the unattended policy worker",
}

var serviceInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install and enable the systemd unit",
	RunE:  runServiceInstall,
}

var serviceStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the systemd unit",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := service.Start(); err != nil {
			return err
		}
		ok(cmd.OutOrStdout(), "%s started", service.UnitName)
		return nil
	},
}

var serviceStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the systemd unit",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := service.Stop(); err != nil {
			return err
		}
		ok(cmd.OutOrStdout(), "%s stopped", service.UnitName)
		return nil
	},
}

var serviceRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Stop, disable and delete the systemd unit",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := service.Remove(serviceInstallRoot); err != nil {
			return err
		}
		ok(cmd.OutOrStdout(), "%s removed", service.UnitName)
		return nil
	},
}

var serviceStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the unit state and the latest service log records",
	RunE:  runServiceStatus,
}

var serviceLogCmd = &cobra.Command{
	Use:   "log",
	Short: "Show the newest service log records",
	RunE:  runServiceLog,
}

var serviceRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the policy worker in the foreground",
	Long:  "run is what the systemd unit executes. It ticks until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runServiceWorker(ctx, cmd.ErrOrStderr())
	},
}

func init() {
	serviceInstallCmd.Flags().StringVar(&serviceUser, "user", "", "User the worker runs as (default service.user, or root)")
	serviceInstallCmd.Flags().BoolVar(&serviceNoSystemctl, "no-systemctl", false, "Only write the unit file")
	serviceCmd.PersistentFlags().StringVar(&serviceInstallRoot, "root", "", "Filesystem root for the unit file")
	_ = serviceCmd.PersistentFlags().MarkHidden("root")
	serviceLogCmd.Flags().IntVarP(&serviceLogLimit, "limit", "n", 20, "Number of records")
	serviceLogCmd.Flags().BoolVar(&serviceLogVerify, "verify", false, "Verify the hash chain")

	serviceCmd.AddCommand(serviceInstallCmd, serviceStartCmd, serviceStopCmd, serviceRemoveCmd,
		serviceStatusCmd, serviceLogCmd, serviceRunCmd)
	rootCmd.AddCommand(serviceCmd)
}

func runServiceInstall(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	bin, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate binary: %w", err)
	}
	cfgPath, err := config.ConfigPath()
	if err != nil {
		return err
	}
	cfgDir := filepath.Dir(cfgPath)

	envPath := cfg.Service.EnvPath
	if envPath == "" {
		envPath = filepath.Join(cfgDir, "service.env")
	}
	if err := writeServiceEnv(envPath, cfg); err != nil {
		return err
	}

	user := serviceUser
	if user == "" {
		user = cfg.Service.User
	}
	path, err := service.Install(service.Options{
		BinaryPath:    bin,
		User:          user,
		ConfigPath:    cfgPath,
		EnvPath:       envPath,
		WorkingDir:    cfgDir,
		Version:       version,
		InstallRoot:   serviceInstallRoot,
		SkipSystemctl: serviceNoSystemctl,
	})
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	ok(out, "Unit written to %s", path)
	ok(out, "Environment written to %s", envPath)
	if !serviceNoSystemctl {
		fmt.Fprintln(out, "Start it with: sysclaw service start")
	}
	return nil
}

// writeServiceEnv stores the credentials the unit cannot read from the
// invoking shell.
func writeServiceEnv(path string, cfg *config.Config) error {
	values := map[string]string{
		"GEMINI_API_KEY":                cfg.Model.APIKey,
		"GOOGLE_API_KEY":                cfg.Search.APIKey,
		"PROGRAMMABLE_SEARCH_ENGINE_ID": cfg.Search.EngineID,
		"SLACK_BOT_TOKEN":               cfg.Notify.Slack.Token,
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(config.RenderEnvFile(values, serviceEnvKeys)), 0o600)
}

func runServiceStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	st, err := service.QueryStatus(serviceInstallRoot)
	switch {
	case errors.Is(err, service.ErrUnsupported):
		warn(out, "unit: %v", err)
	case err != nil:
		return err
	default:
		fmt.Fprintf(out, "unit: %s\n", st)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	recs, err := servicelog.Tail(cfg.Service.LogPath, 5)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Fprintln(out, "No service log records yet.")
		return nil
	}
	fmt.Fprintf(out, "Latest records (%s):\n", cfg.Service.LogPath)
	printRecords(out, recs)
	return nil
}

func runServiceLog(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if serviceLogVerify {
		n, err := servicelog.Verify(cfg.Service.LogPath)
		if err != nil {
			return err
		}
		ok(out, "Hash chain intact (%d records)", n)
	}
	recs, err := servicelog.Tail(cfg.Service.LogPath, serviceLogLimit)
	if err != nil {
		return err
	}
	printRecords(out, recs)
	return nil
}

func printRecords(w io.Writer, recs []servicelog.Record) {
	for _, r := range recs {
		outcome := string(r.Outcome)
		switch r.Outcome {
		case servicelog.OutcomeNoViolation:
			outcome = color.GreenString(outcome)
		case servicelog.OutcomeViolationFound:
			outcome = color.YellowString(outcome)
		case servicelog.OutcomeError:
			outcome = color.RedString(outcome)
		}
		job := r.Job
		if job == "" {
			job = "-"
		}
		fmt.Fprintf(w, "%s  %-15s %-14s %s\n", r.Timestamp.Local().Format(time.DateTime), outcome, job, r.Detail)
	}
}

// runServiceWorker runs the scheduler and the status server until ctx ends.
func runServiceWorker(ctx context.Context, errOut io.Writer) error {
	a, err := newApp(ctx, appOptions{withStore: true, withBackend: true})
	if err != nil {
		return err
	}
	defer a.Close()

	fileLog, err := servicelog.Open(a.cfg.Service.LogPath)
	if err != nil {
		return err
	}
	sinks, closeSinks := a.notifySinks()
	defer closeSinks()

	var mirrors []servicelog.Appender
	if a.store != nil {
		mirrors = append(mirrors, a.store)
	}
	mirrors = append(mirrors, sinks...)
	log := &servicelog.Fanout{Primary: fileLog, Mirrors: mirrors, Logger: a.logger}

	sched := scheduler.New(scheduler.Config{
		Interval:   a.cfg.Scheduler.Interval(),
		LockPath:   a.cfg.Scheduler.LockPath,
		RunOnStart: a.cfg.Scheduler.RunOnStart,
	}, log, scheduler.WithMetrics(a.metrics), scheduler.WithLogger(a.logger))

	// Unattended runs have no prompter: anything off the allow-list is refused.
	loop := a.loop(a.gate(nil), nil)
	if err := sched.Register(scheduler.NewPolicyCheckJob(loop, a.cfg.Model.MaxIterations, a.cfg.Scheduler.Goal)); err != nil {
		return err
	}
	if a.cfg.Scheduler.AuditEvery > 0 {
		reportPath := a.cfg.Service.ReportPath
		job := scheduler.NewAuditJob(a.synthesizer(), a.cfg.Scheduler.AuditEvery, reportPath,
			func(ctx context.Context, res audit.Result) { a.recordAudit(ctx, res, reportPath) })
		if err := sched.Register(job); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := sched.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	if addr := a.cfg.Service.MetricsAddr; addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           newStatusServer(a.registry, a.store, a.cfg.Service.LogPath, a.logger),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			a.logger.Info("Status server listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("status server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		fmt.Fprintln(errOut, color.RedString("service worker stopped: %v", err))
		return err
	}
	return nil
}

// notifySinks builds the enabled notification sinks wrapped in the outcome
// filter. Sinks that cannot be built are logged and skipped.
func (a *app) notifySinks() ([]servicelog.Appender, func()) {
	cfg := a.cfg.Notify
	outcomes := notify.DefaultOutcomes
	if len(cfg.Outcomes) > 0 {
		outcomes = make([]servicelog.Outcome, 0, len(cfg.Outcomes))
		for _, o := range cfg.Outcomes {
			outcomes = append(outcomes, servicelog.Outcome(o))
		}
	}

	var (
		sinks   []servicelog.Appender
		closers []func() error
	)
	if cfg.Kafka.Enabled {
		k, err := notify.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic, cliconfig.KafkaSecurity(cfg.Kafka))
		if err != nil {
			a.logger.Warn("Kafka sink disabled", "error", err)
		} else {
			sinks = append(sinks, &notify.Filter{Next: k, Outcomes: outcomes})
			closers = append(closers, k.Close)
		}
	}
	if cfg.Slack.Enabled {
		s, err := notify.NewSlackSink(cfg.Slack.Token, cfg.Slack.Channel, cfg.Slack.APIBase, nil)
		if err != nil {
			a.logger.Warn("Slack sink disabled", "error", err)
		} else {
			sinks = append(sinks, &notify.Filter{Next: s, Outcomes: outcomes})
		}
	}
	return sinks, func() {
		for _, c := range closers {
			_ = c()
		}
	}
}
