package provider

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/KafClaw/sysclaw/internal/agent"
	"github.com/KafClaw/sysclaw/internal/tools"
)

// maxResultChars caps each tool result quoted back to the model.
const maxResultChars = 4000

const agentSystemPrompt = `You are a careful operating-system assistant. You reach the user's goal by calling one tool at a time and reading its result before deciding the next step.

Rules:
- Prefer the structured tools (get_os_info, get_cpu_info, get_memory_info, get_disk_usage, list_processes, list_directory, read_file, list_packages) over run_shell_command for system information.
- Use check_policies to verify compliance and report every violation with a suggested remediation.
- If a tool fails, read the error and try a different approach instead of repeating the same call.
- If the user skipped an action with an instruction, follow that instruction.
- When the goal is reached, or cannot be reached, answer in plain language.

Respond with exactly one JSON object and nothing else. To call a tool:
{"tool": "tool_name", "tool_args": {"arg": "value"}, "explanation": "why this call"}
To finish:
{"final_answer": "your answer to the user"}`

const translateSystemPrompt = `You translate natural language instructions into shell commands for the user's operating system.
Respond with exactly one JSON object and nothing else:
{"commands": ["command1", "command2"], "explanation": "what these commands do"}`

const reportSystemPrompt = `You are a professional cybersecurity auditor. Analyse the system data you are given and write a security report in Markdown with these sections:
1. Executive Summary
2. Policy Compliance
3. Software Inventory (flag outdated or known-vulnerable software)
4. System Configuration
5. Recommendations (numbered, actionable)
If a "Data Collection Gaps" list is present, the report must name every gap and explain what could not be assessed.
Respond with exactly one JSON object and nothing else:
{"report": "# Security Audit Report\n\n## 1. Executive Summary\n..."}`

// buildAgentPrompt renders the goal, the catalogue and the history.
func buildAgentPrompt(req agent.ResolveRequest, hostOS string, redactor *Redactor) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Host operating system: %s\n\n", hostOS)
	fmt.Fprintf(&sb, "Goal: %s\n\n", req.Goal)

	sb.WriteString("Available tools (JSON schema of each tool's arguments):\n")
	for _, def := range req.Tools {
		params, err := json.Marshal(def.Schema)
		if err != nil {
			params = []byte("{}")
		}
		fmt.Fprintf(&sb, "- %s: %s\n  parameters: %s\n", def.Name, def.Description, params)
	}

	history := req.History
	// The goal is already stated above.
	if len(history) > 0 && history[0].Kind == agent.KindUserMessage && history[0].Text == req.Goal {
		history = history[1:]
	}
	if len(history) == 0 {
		sb.WriteString("\nNothing has been done yet. Decide the first step.\n")
		return sb.String()
	}
	sb.WriteString("\nHistory so far:\n")
	for _, t := range history {
		sb.WriteString(renderTurn(t, redactor))
		sb.WriteByte('\n')
	}
	sb.WriteString("\nDecide the next step.\n")
	return sb.String()
}

func renderTurn(t agent.Turn, redactor *Redactor) string {
	switch t.Kind {
	case agent.KindUserMessage:
		return "User: " + t.Text
	case agent.KindProposedAction:
		args, _ := json.Marshal(t.Arguments)
		if t.Text != "" {
			return fmt.Sprintf("Agent called %s with %s (%s)", t.Tool, args, t.Text)
		}
		return fmt.Sprintf("Agent called %s with %s", t.Tool, args)
	case agent.KindToolResult:
		if t.Result == nil {
			return fmt.Sprintf("Result of %s: (missing)", t.Tool)
		}
		r := t.Result
		switch r.Reason {
		case tools.ReasonSkipped:
			return fmt.Sprintf("User skipped %s and said: %s", t.Tool, r.Error)
		case tools.ReasonDenied:
			return fmt.Sprintf("User denied %s: %s", t.Tool, r.Error)
		}
		status := "succeeded"
		if !r.Success {
			status = "failed"
		}
		return fmt.Sprintf("Result of %s (%s):\n%s", t.Tool, status, truncate(redactor.Redact(r.Text()), maxResultChars))
	case agent.KindFinalAnswer:
		return "Agent answered: " + t.Text
	}
	return ""
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "\n[...truncated...]"
}
