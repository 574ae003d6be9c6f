package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"runtime"
	"strings"

	"github.com/KafClaw/sysclaw/internal/agent"
	"github.com/KafClaw/sysclaw/internal/metrics"
)

// Generator produces raw model text for a system and user prompt.
// *Transport is the production implementation.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// GeminiResolver turns goals into tool proposals, one-off shell
// translations and audit reports.
type GeminiResolver struct {
	gen      Generator
	redactor *Redactor
	hostOS   string
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// ResolverOption configures a GeminiResolver.
type ResolverOption func(*GeminiResolver)

// WithRedactor replaces the default secret redactor. nil disables redaction.
func WithRedactor(r *Redactor) ResolverOption {
	return func(g *GeminiResolver) { g.redactor = r }
}

// WithResolverMetrics records parse failures.
func WithResolverMetrics(m *metrics.Metrics) ResolverOption {
	return func(g *GeminiResolver) { g.metrics = m }
}

// WithResolverLogger sets the logger.
func WithResolverLogger(l *slog.Logger) ResolverOption {
	return func(g *GeminiResolver) { g.logger = l }
}

// NewGeminiResolver creates a resolver on top of gen.
func NewGeminiResolver(gen Generator, opts ...ResolverOption) *GeminiResolver {
	r := &GeminiResolver{
		gen:      gen,
		redactor: NewRedactor(nil),
		hostOS:   runtime.GOOS + "/" + runtime.GOARCH,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type proposalReply struct {
	Tool        string         `json:"tool"`
	ToolArgs    map[string]any `json:"tool_args"`
	Explanation string         `json:"explanation"`
	FinalAnswer *string        `json:"final_answer"`
}

// Resolve implements agent.Resolver.
func (r *GeminiResolver) Resolve(ctx context.Context, req agent.ResolveRequest) (agent.Proposal, error) {
	var reply proposalReply
	if err := r.ask(ctx, agentSystemPrompt, buildAgentPrompt(req, r.hostOS, r.redactor), &reply); err != nil {
		return agent.Proposal{}, err
	}

	switch {
	case strings.TrimSpace(reply.Tool) != "":
		args := reply.ToolArgs
		if args == nil {
			args = map[string]any{}
		}
		return agent.Proposal{
			Tool:      strings.TrimSpace(reply.Tool),
			Arguments: args,
			Rationale: reply.Explanation,
		}, nil
	case reply.FinalAnswer != nil && strings.TrimSpace(*reply.FinalAnswer) != "":
		return agent.Proposal{Final: true, FinalAnswer: strings.TrimSpace(*reply.FinalAnswer)}, nil
	}
	r.metrics.ResolverFailure("parse")
	return agent.Proposal{}, fmt.Errorf("%w: reply names neither a tool nor a final answer", agent.ErrResolverUnavailable)
}

// Translation is a one-shot instruction rendered as shell commands.
type Translation struct {
	Commands    []string `json:"commands"`
	Explanation string   `json:"explanation"`
}

// Translate asks for the shell commands that carry out instruction.
func (r *GeminiResolver) Translate(ctx context.Context, instruction string) (Translation, error) {
	prompt := fmt.Sprintf("Operating system: %s\n\nUser's request: %s", r.hostOS, instruction)
	var t Translation
	if err := r.ask(ctx, translateSystemPrompt, prompt, &t); err != nil {
		return Translation{}, err
	}
	cmds := t.Commands[:0]
	for _, c := range t.Commands {
		if c = strings.TrimSpace(c); c != "" {
			cmds = append(cmds, c)
		}
	}
	t.Commands = cmds
	if len(t.Commands) == 0 {
		r.metrics.ResolverFailure("parse")
		return Translation{}, fmt.Errorf("%w: no commands in reply", agent.ErrResolverUnavailable)
	}
	return t, nil
}

// ComposeReport writes a Markdown audit report from collected facts.
// gaps names the facts that could not be collected.
func (r *GeminiResolver) ComposeReport(ctx context.Context, facts string, gaps []string) (string, error) {
	var sb strings.Builder
	sb.WriteString("Here is the data collected from the system:\n")
	sb.WriteString(r.redactor.Redact(facts))
	if len(gaps) > 0 {
		sb.WriteString("\n\nData Collection Gaps:\n")
		for _, g := range gaps {
			fmt.Fprintf(&sb, "- %s\n", g)
		}
	}
	var reply struct {
		Report string `json:"report"`
	}
	if err := r.ask(ctx, reportSystemPrompt, sb.String(), &reply); err != nil {
		return "", err
	}
	if strings.TrimSpace(reply.Report) == "" {
		r.metrics.ResolverFailure("parse")
		return "", fmt.Errorf("%w: empty report", agent.ErrResolverUnavailable)
	}
	return reply.Report, nil
}

// ask runs one generation and decodes the JSON reply into out. Context
// errors pass through; everything else wraps agent.ErrResolverUnavailable.
func (r *GeminiResolver) ask(ctx context.Context, system, prompt string, out any) error {
	text, err := r.gen.Generate(ctx, system, prompt)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return err
		}
		return fmt.Errorf("%w: %w", agent.ErrResolverUnavailable, err)
	}
	raw := extractJSON(text)
	if raw == "" {
		r.metrics.ResolverFailure("empty")
		return fmt.Errorf("%w: empty reply", agent.ErrResolverUnavailable)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		r.metrics.ResolverFailure("parse")
		r.logger.Warn("Unparseable resolver reply", "error", err, "reply", truncate(raw, 500))
		return fmt.Errorf("%w: unparseable reply: %w", agent.ErrResolverUnavailable, err)
	}
	return nil
}

var (
	wholeFence = regexp.MustCompile("(?s)^```(?:json)?\\s*(.*?)\\s*```$")
	jsonFence  = regexp.MustCompile("(?s)```json\\s*(\\{.*?\\})\\s*```")
)

// extractJSON returns the JSON object carried by a reply. A reply that is
// already valid JSON is returned untouched, so fences inside string values
// survive.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "{") && json.Valid([]byte(text)) {
		return text
	}
	if m := wholeFence.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	for _, m := range jsonFence.FindAllStringSubmatch(text, -1) {
		if json.Valid([]byte(m[1])) {
			return m[1]
		}
	}
	start, end := strings.Index(text, "{"), strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		return text[start : end+1]
	}
	return text
}
