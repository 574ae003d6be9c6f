// Package audit collects a fixed set of host facts and has the resolver
// turn them into a security report.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/KafClaw/sysclaw/internal/compliance"
	"github.com/KafClaw/sysclaw/internal/engine"
	"github.com/KafClaw/sysclaw/internal/tools"
)

// DefaultReportPath is where the CLI writes the report unless told otherwise.
const DefaultReportPath = "security_audit_report.md"

// MaxFactsChars bounds the serialized fact batch handed to the resolver.
const MaxFactsChars = 30000

// GapsHeading starts the section listing facts that could not be collected.
const GapsHeading = "## Data Collection Gaps"

// Step is one entry of the collection plan.
type Step struct {
	Fact string
	Tool string
	Args map[string]any
}

// DefaultPlan is the fixed, ordered collection plan.
var DefaultPlan = []Step{
	{Fact: "os_info", Tool: "get_os_info"},
	{Fact: "policies", Tool: "check_policies"},
	{Fact: "packages", Tool: "list_packages"},
	{Fact: "cpu_info", Tool: "get_cpu_info"},
	{Fact: "memory_info", Tool: "get_memory_info"},
	{Fact: "disk_usage", Tool: "get_disk_usage"},
	{Fact: "security_events", Tool: "read_security_events", Args: map[string]any{"limit": 10}},
}

// Fact is one collected piece of host information.
type Fact struct {
	Name    string              `json:"fact"`
	Tool    string              `json:"tool"`
	Success bool                `json:"success"`
	Data    string              `json:"data,omitempty"`
	Error   string              `json:"error,omitempty"`
	Reason  tools.FailureReason `json:"reason,omitempty"`
}

// Gap describes a failed fact for the report.
func (f Fact) Gap() string {
	return fmt.Sprintf("%s: %s (%s)", f.Name, f.Error, f.Reason)
}

// Composer writes the report from serialized facts and named gaps.
type Composer interface {
	ComposeReport(ctx context.Context, facts string, gaps []string) (string, error)
}

// Result is the outcome of one audit.
type Result struct {
	RunID      string
	Facts      []Fact
	Gaps       []string
	Violations int
	Report     string
	StartedAt  time.Time
	Duration   time.Duration
}

// Synthesizer runs audits.
type Synthesizer struct {
	Registry *tools.Registry
	Engine   *engine.Engine
	Composer Composer
	Plan     []Step
	Logger   *slog.Logger
}

// New creates a synthesizer with the default plan.
func New(registry *tools.Registry, eng *engine.Engine, composer Composer) *Synthesizer {
	return &Synthesizer{
		Registry: registry,
		Engine:   eng,
		Composer: composer,
		Plan:     DefaultPlan,
		Logger:   slog.Default(),
	}
}

// Collect runs every plan step. A failing step never stops the rest.
func (s *Synthesizer) Collect(ctx context.Context, runID string) []Fact {
	ctx = engine.WithRunID(ctx, runID)
	facts := make([]Fact, 0, len(s.Plan))
	for _, step := range s.Plan {
		var res engine.ToolResult
		tool, err := s.Registry.Validate(step.Tool, step.Args)
		if err != nil {
			res = engine.Failure(step.Tool, err)
		} else {
			res = s.Engine.Execute(ctx, tool, step.Args)
		}
		f := Fact{Name: step.Fact, Tool: step.Tool, Success: res.Success, Reason: res.Reason}
		if res.Success {
			f.Data = res.Payload
		} else {
			f.Error = res.Error
			s.logger().Warn("Audit fact failed", "fact", step.Fact, "reason", res.Reason, "error", res.Error)
		}
		facts = append(facts, f)
	}
	return facts
}

// Run collects the facts and composes the report. The returned Result
// carries the facts even when composition fails.
func (s *Synthesizer) Run(ctx context.Context) (Result, error) {
	res := Result{RunID: uuid.New().String(), StartedAt: time.Now()}
	log := s.logger().With("run_id", res.RunID)
	log.Info("Audit started", "facts", len(s.Plan))

	res.Facts = s.Collect(ctx, res.RunID)
	for _, f := range res.Facts {
		if !f.Success {
			res.Gaps = append(res.Gaps, f.Gap())
		}
		if f.Name == "policies" && f.Success {
			res.Violations = countViolations(f.Data)
		}
	}

	batch, err := SerializeFacts(res.Facts)
	if err != nil {
		res.Duration = time.Since(res.StartedAt)
		return res, err
	}
	report, err := s.Composer.ComposeReport(ctx, batch, res.Gaps)
	res.Duration = time.Since(res.StartedAt)
	if err != nil {
		log.Error("Audit report composition failed", "error", err)
		return res, fmt.Errorf("compose report: %w", err)
	}
	res.Report = EnsureGaps(report, res.Facts)
	log.Info("Audit finished", "gaps", len(res.Gaps), "violations", res.Violations, "duration_ms", res.Duration.Milliseconds())
	return res, nil
}

func (s *Synthesizer) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// SerializeFacts renders facts in plan order. When the batch is larger than
// MaxFactsChars the biggest payloads are cut first.
func SerializeFacts(facts []Fact) (string, error) {
	out, err := json.MarshalIndent(facts, "", "  ")
	if err != nil {
		return "", err
	}
	if len(out) <= MaxFactsChars {
		return string(out), nil
	}

	trimmed := make([]Fact, len(facts))
	copy(trimmed, facts)
	limit := MaxFactsChars / max(len(facts), 1)
	for len(out) > MaxFactsChars && limit > 64 {
		for i := range trimmed {
			if len(trimmed[i].Data) > limit {
				trimmed[i].Data = trimmed[i].Data[:limit] + "\n[...truncated...]"
			}
		}
		if out, err = json.MarshalIndent(trimmed, "", "  "); err != nil {
			return "", err
		}
		limit /= 2
	}
	if len(out) > MaxFactsChars {
		return string(out[:MaxFactsChars]) + "\n[...truncated...]", nil
	}
	return string(out), nil
}

// EnsureGaps appends a gaps section naming every failed fact the report
// does not already account for. A fact is accounted for when its full gap
// line appears anywhere, or when its name appears inside a section headed
// "Data Collection Gaps". A passing mention elsewhere does not count.
func EnsureGaps(report string, facts []Fact) string {
	section, last := gapsSection(report)
	var missing []Fact
	for _, f := range facts {
		if f.Success || strings.Contains(report, f.Gap()) || strings.Contains(section, f.Name) {
			continue
		}
		missing = append(missing, f)
	}
	if len(missing) == 0 {
		return report
	}
	var sb strings.Builder
	sb.WriteString(strings.TrimRight(report, "\n"))
	sb.WriteString("\n\n")
	if !last {
		sb.WriteString(GapsHeading + "\n\n")
	}
	for _, f := range missing {
		fmt.Fprintf(&sb, "- **%s** could not be collected: %s (%s)\n", f.Name, f.Error, f.Reason)
	}
	return sb.String()
}

// gapsSection returns the body of every section whose heading mentions
// data collection gaps, and whether the report ends inside one.
func gapsSection(report string) (string, bool) {
	var sb strings.Builder
	in := false
	for _, line := range strings.Split(report, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			in = strings.Contains(strings.ToLower(line), "data collection gaps")
			continue
		}
		if in {
			sb.WriteString(line)
			sb.WriteByte('\n')
		}
	}
	return sb.String(), in
}

// WriteReport persists report verbatim, creating parent directories.
func WriteReport(path, report string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(report), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func countViolations(payload string) int {
	var rep compliance.Report
	if err := json.Unmarshal([]byte(payload), &rep); err != nil {
		return 0
	}
	return len(rep.Violations)
}
