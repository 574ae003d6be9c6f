// Package approval mediates execution of proposed tool calls: auto-approve,
// ask a human, or refuse, depending on run mode and policy.
package approval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/KafClaw/sysclaw/internal/metrics"
	"github.com/KafClaw/sysclaw/internal/policy"
)

// Decision is the outcome class of one approval.
type Decision int

const (
	Approve Decision = iota
	Deny
	Skip
)

func (d Decision) String() string {
	switch d {
	case Approve:
		return "approve"
	case Deny:
		return "deny"
	case Skip:
		return "skip"
	}
	return fmt.Sprintf("decision(%d)", int(d))
}

// DefaultSkipFeedback is recorded when the user skips without a reason.
const DefaultSkipFeedback = "The user declined this action. Try another approach."

// Outcome is the gate's answer for one proposed call.
type Outcome struct {
	Decision Decision
	// Feedback is shown to the resolver on Skip and Deny.
	Feedback string
	// Reason is the machine-readable policy reason.
	Reason string
}

// Request describes the proposed call awaiting approval.
type Request struct {
	RunID     string
	Tool      string
	Arguments map[string]any
	Rationale string
	Tier      int
	Mode      policy.Mode
	Iteration int
}

// Gate decides whether a proposed call may run.
type Gate interface {
	Decide(ctx context.Context, req Request) (Outcome, error)
}

// Prompter asks a human about one call. It is the only place a run waits
// for a person.
type Prompter interface {
	Prompt(ctx context.Context, req Request) (Outcome, error)
}

// PolicyGate consults a policy engine and falls back to a Prompter when
// the policy wants a human. Without a Prompter such calls are denied.
type PolicyGate struct {
	Policy   policy.Engine
	Prompter Prompter
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	// Recorder, if set, persists every decision. Its failures are logged.
	Recorder Recorder
}

// Recorder persists approval decisions.
type Recorder interface {
	RecordDecision(ctx context.Context, req Request, out Outcome) error
}

// NewPolicyGate creates a gate.
func NewPolicyGate(p policy.Engine, prompter Prompter) *PolicyGate {
	return &PolicyGate{Policy: p, Prompter: prompter}
}

// Decide never blocks in unattended mode.
func (g *PolicyGate) Decide(ctx context.Context, req Request) (Outcome, error) {
	out, err := g.decide(ctx, req)
	if err == nil {
		g.Metrics.Approval(string(req.Mode), out.Decision.String())
		g.logger().Debug("Approval decided", "run_id", req.RunID, "tool", req.Tool, "decision", out.Decision, "reason", out.Reason)
		if g.Recorder != nil {
			if rerr := g.Recorder.RecordDecision(ctx, req, out); rerr != nil {
				g.logger().Warn("Failed to record approval decision", "tool", req.Tool, "error", rerr)
			}
		}
	}
	return out, err
}

func (g *PolicyGate) decide(ctx context.Context, req Request) (Outcome, error) {
	d := g.Policy.Evaluate(policy.Context{
		Tool:      req.Tool,
		Tier:      req.Tier,
		Arguments: req.Arguments,
		Mode:      req.Mode,
		RunID:     req.RunID,
	})
	if d.Allow {
		return Outcome{Decision: Approve, Reason: d.Reason}, nil
	}
	if req.Mode == policy.ModeUnattended || !d.RequiresApproval {
		return Outcome{
			Decision: Deny,
			Reason:   d.Reason,
			Feedback: fmt.Sprintf("Tool %q is not permitted in %s mode (%s). Only allow-listed read-only tools can run without a human.", req.Tool, req.Mode, d.Reason),
		}, nil
	}
	if g.Prompter == nil {
		return Outcome{Decision: Deny, Reason: "no_prompter", Feedback: "No human is available to approve this action."}, nil
	}
	if err := ctx.Err(); err != nil {
		return Outcome{Decision: Deny, Reason: "cancelled", Feedback: "The run was cancelled."}, nil
	}
	out, err := g.Prompter.Prompt(ctx, req)
	if err != nil {
		return Outcome{}, err
	}
	if out.Reason == "" {
		out.Reason = d.Reason
	}
	return out, nil
}

func (g *PolicyGate) logger() *slog.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return slog.Default()
}

// AutoApprove approves every call. It backs the --yes flag.
type AutoApprove struct{}

func (AutoApprove) Prompt(ctx context.Context, req Request) (Outcome, error) {
	return Outcome{Decision: Approve, Reason: "auto_approved"}, nil
}

// ParseAnswer maps a console answer to an outcome. Empty input approves.
// Free text other than the known words is a steering instruction.
func ParseAnswer(line string) Outcome {
	answer := strings.TrimSpace(line)
	switch strings.ToLower(answer) {
	case "", "y", "yes":
		return Outcome{Decision: Approve, Reason: "user_approved"}
	case "n", "no", "q", "quit":
		return Outcome{Decision: Deny, Reason: "user_denied", Feedback: "The user denied this action and ended the run."}
	case "s", "skip":
		return Outcome{Decision: Skip, Reason: "user_skipped", Feedback: DefaultSkipFeedback}
	}
	return Outcome{
		Decision: Skip,
		Reason:   "user_steered",
		Feedback: "The user declined this action and gave a new instruction: " + answer,
	}
}
