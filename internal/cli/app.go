package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/KafClaw/sysclaw/internal/agent"
	"github.com/KafClaw/sysclaw/internal/approval"
	"github.com/KafClaw/sysclaw/internal/audit"
	"github.com/KafClaw/sysclaw/internal/compliance"
	"github.com/KafClaw/sysclaw/internal/config"
	"github.com/KafClaw/sysclaw/internal/engine"
	"github.com/KafClaw/sysclaw/internal/logging"
	"github.com/KafClaw/sysclaw/internal/metrics"
	"github.com/KafClaw/sysclaw/internal/policy"
	"github.com/KafClaw/sysclaw/internal/provider"
	"github.com/KafClaw/sysclaw/internal/store"
	"github.com/KafClaw/sysclaw/internal/tools"
	"github.com/prometheus/client_golang/prometheus"
)

// backend is what the commands need from the model.
type backend interface {
	agent.Resolver
	audit.Composer
	Translate(ctx context.Context, instruction string) (provider.Translation, error)
}

// newBackendFn builds the Gemini resolver. Tests swap it for a scripted one.
var newBackendFn = func(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (backend, error) {
	client, err := provider.NewGeminiClient(ctx, cfg.Model.APIKey)
	if err != nil {
		return nil, err
	}
	transport := provider.NewTransport(client, provider.TransportOptions{
		Model:             cfg.Model.Name,
		Temperature:       float32(cfg.Model.Temperature),
		RequestTimeout:    cfg.Model.RequestTimeout(),
		MaxRetries:        cfg.Model.MaxRetries,
		RequestsPerSecond: cfg.Model.RequestsPerSecond,
		Metrics:           m,
	})
	opts := []provider.ResolverOption{provider.WithResolverMetrics(m)}
	if !cfg.Model.RedactSecrets {
		opts = append(opts, provider.WithRedactor(nil))
	}
	return provider.NewGeminiResolver(transport, opts...), nil
}

// app is the wired component graph shared by the commands.
type app struct {
	cfg      *config.Config
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	profiles *compliance.ProfileStore
	guard    *tools.Guard
	tools    *tools.Registry
	engine   *engine.Engine
	policy   *policy.DefaultEngine
	store    *store.Store
	backend  backend
	logger   *slog.Logger
}

type appOptions struct {
	// withStore opens the sqlite store. Failures are logged and the command
	// continues without persistence.
	withStore bool
	// withBackend builds the resolver; commands that only read state skip it.
	withBackend bool
}

func newApp(ctx context.Context, opts appOptions) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := setupLogging(logging.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	}); err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: slog.Default(), registry: prometheus.NewRegistry()}
	a.metrics = metrics.New(a.registry)

	a.profiles = compliance.NewProfileStore(cfg.Tools.ProfilePath)
	profile, err := a.profiles.Load()
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	a.guard = tools.NewGuard(profile.Security)

	a.tools, err = tools.NewDefaultRegistry(tools.Options{
		ShellTimeout:   cfg.Tools.ExecTimeout(),
		WorkDir:        cfg.Tools.WorkDir,
		Guard:          a.guard,
		Profiles:       a.profiles,
		SearchAPIKey:   cfg.Search.APIKey,
		SearchEngineID: cfg.Search.EngineID,
		SearchEndpoint: cfg.Search.Endpoint,
		HTTPClient:     &http.Client{Timeout: 30 * time.Second},
	})
	if err != nil {
		return nil, err
	}

	if opts.withStore && cfg.Service.DBPath != "" {
		st, err := store.Open(cfg.Service.DBPath)
		if err != nil {
			a.logger.Warn("Store unavailable, continuing without persistence", "path", cfg.Service.DBPath, "error", err)
		} else {
			a.store = st
		}
	}

	engOpts := []engine.Option{engine.WithGuard(a.guard), engine.WithMetrics(a.metrics)}
	if a.store != nil {
		engOpts = append(engOpts, engine.WithJournal(a.store))
	}
	a.engine = engine.New(engOpts...)

	a.policy = policy.NewDefaultEngine(cfg.Approval.UnattendedAllow)
	a.policy.InteractiveAutoTier = cfg.Approval.InteractiveAutoTier

	if opts.withBackend {
		a.backend, err = newBackendFn(ctx, cfg, a.metrics)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("model backend: %w", err)
		}
	}
	return a, nil
}

// gate returns an approval gate. A nil prompter denies every call that
// needs a human.
func (a *app) gate(prompter approval.Prompter) *approval.PolicyGate {
	g := approval.NewPolicyGate(a.policy, prompter)
	g.Metrics = a.metrics
	if a.store != nil {
		g.Recorder = a.store
	}
	return g
}

func (a *app) loop(gate approval.Gate, onTurn func(*agent.RunContext, agent.Turn)) *agent.Loop {
	return agent.NewLoop(agent.Options{
		Registry: a.tools,
		Resolver: a.backend,
		Gate:     gate,
		Engine:   a.engine,
		Metrics:  a.metrics,
		OnTurn:   onTurn,
	})
}

// synthesizer builds an audit synthesizer over the app's tools.
func (a *app) synthesizer() *audit.Synthesizer {
	return audit.New(a.tools, a.engine, a.backend)
}

// recordAudit persists res in the store when one is open.
func (a *app) recordAudit(ctx context.Context, res audit.Result, reportPath string) {
	if a.store == nil {
		return
	}
	err := a.store.AddAuditRun(ctx, store.AuditRun{
		RunID:      res.RunID,
		StartedAt:  res.StartedAt,
		Duration:   res.Duration,
		Violations: res.Violations,
		Gaps:       res.Gaps,
		ReportPath: reportPath,
		Report:     res.Report,
	})
	if err != nil {
		a.logger.Warn("Failed to record audit run", "run_id", res.RunID, "error", err)
	}
}

func (a *app) Close() {
	if a.store != nil {
		_ = a.store.Close()
	}
}

// turnPrinter echoes tool activity of interactive runs.
func turnPrinter(w io.Writer) func(*agent.RunContext, agent.Turn) {
	return func(rc *agent.RunContext, t agent.Turn) {
		if t.Kind != agent.KindToolResult || t.Result == nil {
			return
		}
		if t.Result.Success {
			ok(w, "%s finished in %s", t.Tool, t.Result.Duration.Round(time.Millisecond))
			return
		}
		fail(w, "%s failed (%s): %s", t.Tool, t.Result.Reason, t.Result.Error)
	}
}
