// Package agent implements the plan, approve, execute, observe loop that
// turns a goal into tool calls.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/KafClaw/sysclaw/internal/approval"
	"github.com/KafClaw/sysclaw/internal/engine"
	"github.com/KafClaw/sysclaw/internal/metrics"
	"github.com/KafClaw/sysclaw/internal/tools"
)

const partialPayloadChars = 2000

// Options configures a Loop.
type Options struct {
	Registry *tools.Registry
	Resolver Resolver
	Gate     approval.Gate
	Engine   *engine.Engine
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	// OnTurn, if set, is called after every appended turn.
	OnTurn func(rc *RunContext, t Turn)
}

// Loop drives runs. A Loop holds no per-run state and may serve several
// runs at once, each with its own RunContext.
type Loop struct {
	registry *tools.Registry
	resolver Resolver
	gate     approval.Gate
	engine   *engine.Engine
	metrics  *metrics.Metrics
	logger   *slog.Logger
	onTurn   func(rc *RunContext, t Turn)
}

// NewLoop creates a loop.
func NewLoop(opts Options) *Loop {
	l := &Loop{
		registry: opts.Registry,
		resolver: opts.Resolver,
		gate:     opts.Gate,
		engine:   opts.Engine,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		onTurn:   opts.OnTurn,
	}
	if l.registry == nil {
		l.registry = tools.NewRegistry()
	}
	if l.engine == nil {
		l.engine = engine.New()
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	return l
}

// Outcome summarises a finished run.
type Outcome struct {
	RunID       string
	Termination Termination
	// Answer is the final answer, or the best partial answer when the
	// budget ran out.
	Answer     string
	Iterations int
	History    []Turn
	Duration   time.Duration
}

// ResultsFor returns the tool results recorded for name, oldest first.
func (o Outcome) ResultsFor(name string) []engine.ToolResult {
	var out []engine.ToolResult
	for _, t := range o.History {
		if t.Kind == KindToolResult && t.Result != nil && t.Tool == name {
			out = append(out, *t.Result)
		}
	}
	return out
}

type pendingCall struct {
	tool      tools.Tool
	arguments map[string]any
	rationale string
}

// Run drives rc from Planning to Terminated. The Outcome is always filled;
// the error is nil only for a final answer and otherwise wraps
// ErrApprovalDenied, ErrBudgetExceeded, ErrResolverUnavailable or the
// context error.
func (l *Loop) Run(ctx context.Context, goal string, rc *RunContext) (Outcome, error) {
	start := time.Now()
	log := l.logger.With("run_id", rc.ID, "mode", rc.Mode)
	log.Info("Agent run started", "budget", rc.Budget)
	l.append(rc, UserMessage(goal))

	var (
		pending     pendingCall
		termination Termination
		answer      string
		runErr      error
	)

	for rc.State != StateTerminated {
		var err error
		switch rc.State {
		case StatePlanning:
			if cerr := ctx.Err(); cerr != nil {
				termination, runErr = TerminationUserCancelled, cerr
				err = rc.transition(StateTerminated)
				break
			}
			var prop Proposal
			prop, err = l.resolver.Resolve(ctx, ResolveRequest{
				Goal:    goal,
				History: rc.history.Turns(),
				Tools:   l.registry.Definitions(),
			})
			if err != nil {
				termination, runErr = l.resolverFailure(ctx, err)
				log.Warn("Resolver failed", "error", err)
				err = rc.transition(StateTerminated)
				break
			}
			if prop.Final {
				answer = prop.FinalAnswer
				l.append(rc, FinalAnswer(answer))
				termination = TerminationFinalAnswer
				err = rc.transition(StateTerminated)
				break
			}
			l.append(rc, ProposedAction(prop.Tool, prop.Arguments, prop.Rationale))
			tool, verr := l.registry.Validate(prop.Tool, prop.Arguments)
			if verr != nil {
				log.Info("Proposal rejected", "tool", prop.Tool, "error", verr)
				l.append(rc, ToolResultTurn(engine.Failure(prop.Tool, verr)))
				err = rc.transition(StateObserving)
				break
			}
			pending = pendingCall{tool: tool, arguments: prop.Arguments, rationale: prop.Rationale}
			err = rc.transition(StateAwaitingApproval)

		case StateAwaitingApproval:
			out, gerr := l.gate.Decide(ctx, approval.Request{
				RunID:     rc.ID,
				Tool:      pending.tool.Name(),
				Arguments: pending.arguments,
				Rationale: pending.rationale,
				Tier:      tools.ToolTier(pending.tool),
				Mode:      rc.Mode,
				Iteration: rc.Iteration,
			})
			if gerr != nil {
				out = approval.Outcome{Decision: approval.Deny, Reason: "gate_error", Feedback: gerr.Error()}
			}
			switch out.Decision {
			case approval.Approve:
				err = rc.transition(StateExecuting)
			case approval.Skip:
				l.append(rc, ToolResultTurn(engine.Failure(pending.tool.Name(),
					tools.Fail(tools.ReasonSkipped, "%s", out.Feedback))))
				err = rc.transition(StatePlanning)
			default:
				l.append(rc, ToolResultTurn(engine.Failure(pending.tool.Name(),
					tools.Fail(tools.ReasonDenied, "%s", out.Feedback))))
				termination = TerminationUserCancelled
				runErr = fmt.Errorf("%w: %s (%s)", ErrApprovalDenied, pending.tool.Name(), out.Reason)
				if gerr != nil {
					runErr = fmt.Errorf("%w: %w", ErrApprovalDenied, gerr)
				}
				log.Info("Action denied", "tool", pending.tool.Name(), "reason", out.Reason)
				err = rc.transition(StateTerminated)
			}

		case StateExecuting:
			res := l.engine.Execute(engine.WithRunID(ctx, rc.ID), pending.tool, pending.arguments)
			l.append(rc, ToolResultTurn(res))
			log.Info("Tool executed", "tool", res.Tool, "success", res.Success, "reason", res.Reason, "duration_ms", res.Duration.Milliseconds())
			pending = pendingCall{}
			err = rc.transition(StateObserving)

		case StateObserving:
			rc.Iteration++
			if rc.Iteration >= rc.Budget {
				termination, runErr = TerminationBudgetExceeded, ErrBudgetExceeded
				answer = l.partialAnswer(rc)
				log.Warn("Iteration budget exhausted", "iterations", rc.Iteration)
				err = rc.transition(StateTerminated)
				break
			}
			err = rc.transition(StatePlanning)

		default:
			err = fmt.Errorf("%w: unknown state %q", ErrInvalidStateTransition, rc.State)
		}
		if err != nil {
			// Only reachable through a broken transition table.
			rc.State = StateTerminated
			return l.finish(rc, start, TerminationResolverUnavailable, "", err), err
		}
	}

	return l.finish(rc, start, termination, answer, runErr), runErr
}

func (l *Loop) resolverFailure(ctx context.Context, err error) (Termination, error) {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return TerminationUserCancelled, err
	}
	if !errors.Is(err, ErrResolverUnavailable) {
		err = fmt.Errorf("%w: %w", ErrResolverUnavailable, err)
	}
	return TerminationResolverUnavailable, err
}

func (l *Loop) append(rc *RunContext, t Turn) {
	rc.history.Append(t)
	if l.onTurn != nil {
		l.onTurn(rc, t)
	}
}

func (l *Loop) partialAnswer(rc *RunContext) string {
	last, ok := rc.history.LastSuccessfulResult()
	if !ok {
		return fmt.Sprintf("Stopped after %d iterations without a final answer, and no tool call succeeded. Try a narrower goal.", rc.Iteration)
	}
	payload := last.Payload
	if len(payload) > partialPayloadChars {
		payload = payload[:partialPayloadChars] + "\n[...truncated...]"
	}
	return fmt.Sprintf("Stopped after %d iterations without a final answer. Last successful result (%s):\n%s", rc.Iteration, last.Tool, payload)
}

func (l *Loop) finish(rc *RunContext, start time.Time, term Termination, answer string, runErr error) Outcome {
	out := Outcome{
		RunID:       rc.ID,
		Termination: term,
		Answer:      answer,
		Iterations:  rc.Iteration,
		History:     rc.history.Turns(),
		Duration:    time.Since(start),
	}
	l.metrics.ObserveRun(string(rc.Mode), string(term), rc.Iteration)
	attrs := []any{"run_id", rc.ID, "termination", term, "iterations", rc.Iteration, "duration_ms", out.Duration.Milliseconds()}
	if runErr != nil {
		attrs = append(attrs, "error", runErr)
	}
	l.logger.Info("Agent run finished", attrs...)
	return out
}
