package agent

import (
	"github.com/KafClaw/sysclaw/internal/engine"
)

// TurnKind identifies the variant held by a Turn.
type TurnKind string

const (
	KindUserMessage    TurnKind = "user_message"
	KindProposedAction TurnKind = "proposed_action"
	KindToolResult     TurnKind = "tool_result"
	KindFinalAnswer    TurnKind = "final_answer"
)

// Turn is one entry of the conversation history.
type Turn struct {
	Kind      TurnKind           `json:"kind"`
	Text      string             `json:"text,omitempty"`
	Tool      string             `json:"tool,omitempty"`
	Arguments map[string]any     `json:"arguments,omitempty"`
	Result    *engine.ToolResult `json:"result,omitempty"`
}

// UserMessage builds a user turn.
func UserMessage(text string) Turn {
	return Turn{Kind: KindUserMessage, Text: text}
}

// ProposedAction builds the turn recording a resolver proposal.
func ProposedAction(tool string, args map[string]any, rationale string) Turn {
	return Turn{Kind: KindProposedAction, Tool: tool, Arguments: args, Text: rationale}
}

// ToolResultTurn records an execution outcome, including synthetic ones.
func ToolResultTurn(r engine.ToolResult) Turn {
	return Turn{Kind: KindToolResult, Tool: r.Tool, Result: &r}
}

// FinalAnswer builds the closing turn.
func FinalAnswer(text string) Turn {
	return Turn{Kind: KindFinalAnswer, Text: text}
}

// History is the append-only turn sequence of one run.
type History struct {
	turns []Turn
}

// Append adds t at the end.
func (h *History) Append(t Turn) {
	h.turns = append(h.turns, t)
}

// Len returns the number of turns.
func (h *History) Len() int { return len(h.turns) }

// Turns returns a copy that callers may keep.
func (h *History) Turns() []Turn {
	out := make([]Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// LastSuccessfulResult returns the most recent successful tool result.
func (h *History) LastSuccessfulResult() (engine.ToolResult, bool) {
	for i := len(h.turns) - 1; i >= 0; i-- {
		t := h.turns[i]
		if t.Kind == KindToolResult && t.Result != nil && t.Result.Success {
			return *t.Result, true
		}
	}
	return engine.ToolResult{}, false
}
