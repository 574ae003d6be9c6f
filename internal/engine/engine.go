// Package engine executes approved tool calls and turns every outcome,
// including panics and timeouts, into a ToolResult.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/KafClaw/sysclaw/internal/metrics"
	"github.com/KafClaw/sysclaw/internal/tools"
)

// ToolResult is the structured outcome of one execution.
type ToolResult struct {
	CallID   string              `json:"call_id"`
	Tool     string              `json:"tool"`
	Success  bool                `json:"success"`
	Payload  string              `json:"payload,omitempty"`
	Error    string              `json:"error,omitempty"`
	Reason   tools.FailureReason `json:"reason,omitempty"`
	Duration time.Duration       `json:"duration"`
}

// Text renders the result the way the resolver sees it in history.
func (r ToolResult) Text() string {
	if r.Success {
		return r.Payload
	}
	if r.Payload != "" {
		return fmt.Sprintf("Error (%s): %s\n%s", r.Reason, r.Error, r.Payload)
	}
	return fmt.Sprintf("Error (%s): %s", r.Reason, r.Error)
}

// CallRecord is one executed tool call handed to a Journal.
type CallRecord struct {
	CallID    string
	RunID     string
	Tool      string
	Arguments map[string]any
	Success   bool
	Reason    string
	Result    string
	StartedAt time.Time
	Duration  time.Duration
}

// Journal persists tool calls. Failures are logged and ignored.
type Journal interface {
	RecordToolCall(ctx context.Context, rec CallRecord) error
}

// Engine runs tools.
type Engine struct {
	guard   *tools.Guard
	metrics *metrics.Metrics
	journal Journal
	logger  *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithGuard refuses tools the security profile disables.
func WithGuard(g *tools.Guard) Option { return func(e *Engine) { e.guard = g } }

// WithMetrics records execution counters and latency.
func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// WithJournal persists every call.
func WithJournal(j Journal) Option { return func(e *Engine) { e.journal = j } }

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// New creates an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type runIDKey struct{}

// WithRunID tags ctx so journal records carry the owning run.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

func runIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// Execute runs tool with already validated args. It never panics and never
// returns an error: every failure is folded into the result.
func (e *Engine) Execute(ctx context.Context, tool tools.Tool, args map[string]any) (result ToolResult) {
	start := time.Now()
	result = ToolResult{CallID: uuid.NewString(), Tool: tool.Name()}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Tool panicked", "tool", result.Tool, "panic", r, "stack", string(debug.Stack()))
			result.Success = false
			result.Payload = ""
			result.Reason = tools.ReasonPanic
			result.Error = fmt.Sprintf("tool panicked: %v", r)
		}
		result.Duration = time.Since(start)
		e.metrics.ObserveTool(result.Tool, result.Success, result.Duration)
		e.record(ctx, start, args, result)
	}()

	if err := e.guard.CheckTool(tool.Name()); err != nil {
		return fail(result, err)
	}

	payload, err := tool.Execute(ctx, args)
	result.Payload = payload
	if err != nil {
		e.logger.Debug("Tool failed", "tool", result.Tool, "reason", tools.ReasonOf(err), "error", err)
		return fail(result, err)
	}
	result.Success = true
	e.logger.Debug("Tool executed", "tool", result.Tool, "result_length", len(payload))
	return result
}

// Failure builds a failed result for a call that never reached a tool,
// such as an unknown tool name or a denied approval.
func Failure(toolName string, err error) ToolResult {
	return fail(ToolResult{CallID: uuid.NewString(), Tool: toolName}, err)
}

func fail(result ToolResult, err error) ToolResult {
	result.Success = false
	result.Reason = tools.ReasonOf(err)
	result.Error = err.Error()
	if result.Reason == tools.ReasonCapability {
		switch err.(type) {
		case *tools.UnknownToolError:
			result.Reason = tools.ReasonUnknownTool
		case *tools.SchemaViolationError:
			result.Reason = tools.ReasonSchema
		}
	}
	return result
}

func (e *Engine) record(ctx context.Context, start time.Time, args map[string]any, result ToolResult) {
	if e.journal == nil {
		return
	}
	text := result.Payload
	if !result.Success {
		text = result.Error
	}
	rec := CallRecord{
		CallID:    result.CallID,
		RunID:     runIDFrom(ctx),
		Tool:      result.Tool,
		Arguments: args,
		Success:   result.Success,
		Reason:    string(result.Reason),
		Result:    truncate(text, 10240),
		StartedAt: start,
		Duration:  result.Duration,
	}
	if err := e.journal.RecordToolCall(context.WithoutCancel(ctx), rec); err != nil {
		e.logger.Warn("Failed to record tool call", "tool", result.Tool, "error", err)
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
