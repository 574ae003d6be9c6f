package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/KafClaw/sysclaw/internal/agent"
	"github.com/KafClaw/sysclaw/internal/audit"
	"github.com/KafClaw/sysclaw/internal/compliance"
	"github.com/KafClaw/sysclaw/internal/policy"
	"github.com/KafClaw/sysclaw/internal/servicelog"
)

// DefaultPolicyGoal is the narrow goal of the policy-check job.
const DefaultPolicyGoal = "Run check_policies once to check this host against its compliance profile. " +
	"Report each violation with its details and a suggested remediation. Do not change anything on the host."

const (
	PolicyJobName = "policy-check"
	AuditJobName  = "security-audit"
)

// LoopRunner runs one agent loop.
type LoopRunner interface {
	Run(ctx context.Context, goal string, rc *agent.RunContext) (agent.Outcome, error)
}

// NewPolicyCheckJob runs the agent loop unattended with goal and classifies
// the run by the last successful check_policies result.
func NewPolicyCheckJob(loop LoopRunner, budget int, goal string) *Job {
	if strings.TrimSpace(goal) == "" {
		goal = DefaultPolicyGoal
	}
	return &Job{
		Name: PolicyJobName,
		Run: func(ctx context.Context) servicelog.Record {
			rc := agent.NewRunContext(policy.ModeUnattended, budget)
			out, err := loop.Run(ctx, goal, rc)
			rec := ClassifyPolicyRun(out, err)
			rec.RunID = out.RunID
			rec.Iterations = out.Iterations
			return rec
		},
	}
}

// ClassifyPolicyRun maps a finished policy-check run to a record. A
// successful check_policies result decides the outcome even when the run
// ended badly afterwards; without one the run is an error.
func ClassifyPolicyRun(out agent.Outcome, runErr error) servicelog.Record {
	var report *compliance.Report
	results := out.ResultsFor("check_policies")
	for i := len(results) - 1; i >= 0; i-- {
		if !results[i].Success {
			continue
		}
		var r compliance.Report
		if err := json.Unmarshal([]byte(results[i].Payload), &r); err == nil {
			report = &r
			break
		}
	}

	if report == nil {
		detail := "policy check did not produce a result"
		if runErr != nil {
			detail = fmt.Sprintf("%s: %v", out.Termination, runErr)
		} else if out.Answer != "" {
			detail += ": " + out.Answer
		}
		return servicelog.Record{Outcome: servicelog.OutcomeError, Detail: detail}
	}

	rec := servicelog.Record{Outcome: servicelog.OutcomeNoViolation, Detail: report.Message}
	if len(report.Violations) > 0 {
		rec.Outcome = servicelog.OutcomeViolationFound
		parts := make([]string, 0, len(report.Violations))
		for _, v := range report.Violations {
			parts = append(parts, fmt.Sprintf("%s: %s", v.Policy, v.Details))
		}
		rec.Detail = report.Message + " " + strings.Join(parts, "; ")
	}
	if runErr != nil {
		rec.Detail += fmt.Sprintf(" (run ended with %s)", out.Termination)
	}
	return rec
}

// AuditRunner runs one audit.
type AuditRunner interface {
	Run(ctx context.Context) (audit.Result, error)
}

// NewAuditJob runs an audit every `every` ticks, writes the report to
// reportPath and hands the result to onDone when set.
func NewAuditJob(a AuditRunner, every int, reportPath string, onDone func(context.Context, audit.Result)) *Job {
	if reportPath == "" {
		reportPath = audit.DefaultReportPath
	}
	return &Job{
		Name:  AuditJobName,
		Every: every,
		Run: func(ctx context.Context) servicelog.Record {
			res, err := a.Run(ctx)
			rec := servicelog.Record{RunID: res.RunID}
			if err != nil {
				rec.Outcome = servicelog.OutcomeError
				rec.Detail = fmt.Sprintf("audit failed: %v", err)
				return rec
			}
			if err := audit.WriteReport(reportPath, res.Report); err != nil {
				rec.Outcome = servicelog.OutcomeError
				rec.Detail = err.Error()
				return rec
			}
			if onDone != nil {
				onDone(ctx, res)
			}

			rec.Outcome = servicelog.OutcomeNoViolation
			if res.Violations > 0 {
				rec.Outcome = servicelog.OutcomeViolationFound
			}
			rec.Detail = fmt.Sprintf("Audit report written to %s with %d violations.", reportPath, res.Violations)
			if len(res.Gaps) > 0 {
				rec.Detail += " Gaps: " + strings.Join(res.Gaps, "; ")
			}
			return rec
		},
	}
}
