// Package policy decides whether a proposed tool call may run without asking
// a human.
package policy

import (
	"fmt"
	"sort"
	"time"
)

// Mode is the run mode of the agent loop.
type Mode string

const (
	ModeInteractive Mode = "interactive"
	ModeUnattended  Mode = "unattended"
)

// Context holds information about a pending tool execution.
type Context struct {
	Tool      string
	Tier      int
	Arguments map[string]any
	Mode      Mode
	RunID     string
}

// Decision is the result of a policy evaluation.
type Decision struct {
	Allow            bool
	RequiresApproval bool // a human may still approve the call
	Reason           string
	Tier             int
	Ts               time.Time
	RunID            string
}

// Engine evaluates whether a tool execution should proceed.
type Engine interface {
	Evaluate(ctx Context) Decision
}

// DefaultUnattendedAllowList holds the read-only fact-gathering tools that
// run without a human.
var DefaultUnattendedAllowList = []string{
	"get_os_info",
	"get_cpu_info",
	"get_memory_info",
	"get_disk_usage",
	"list_processes",
	"list_packages",
	"check_policies",
	"read_security_events",
	"list_directory",
	"read_file",
}

// DefaultEngine allows unattended calls only for allow-listed tools and asks
// a human for interactive calls above InteractiveAutoTier.
type DefaultEngine struct {
	// InteractiveAutoTier is the highest tier auto-approved in interactive
	// mode. -1 (the default) prompts for every call.
	InteractiveAutoTier int
	// UnattendedAllow is the set of tools permitted with no human present.
	UnattendedAllow map[string]bool
}

// NewDefaultEngine creates a policy engine that prompts for everything
// interactively and uses allow for unattended runs. A nil allow selects
// DefaultUnattendedAllowList.
func NewDefaultEngine(allow []string) *DefaultEngine {
	if allow == nil {
		allow = DefaultUnattendedAllowList
	}
	set := make(map[string]bool, len(allow))
	for _, name := range allow {
		set[name] = true
	}
	return &DefaultEngine{InteractiveAutoTier: -1, UnattendedAllow: set}
}

// AllowList returns the unattended allow-list, sorted.
func (e *DefaultEngine) AllowList() []string {
	out := make([]string, 0, len(e.UnattendedAllow))
	for name, ok := range e.UnattendedAllow {
		if ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Evaluate checks the call against the mode-specific rules.
func (e *DefaultEngine) Evaluate(ctx Context) Decision {
	d := Decision{
		Tier:  ctx.Tier,
		Ts:    time.Now(),
		RunID: ctx.RunID,
	}

	if ctx.Mode == ModeUnattended {
		if e.UnattendedAllow[ctx.Tool] {
			d.Allow = true
			d.Reason = "unattended_allowlisted"
			return d
		}
		d.Reason = "tool_not_allowlisted_for_unattended"
		return d
	}

	if ctx.Tier <= e.InteractiveAutoTier {
		d.Allow = true
		d.Reason = fmt.Sprintf("tier_%d_auto_approved", ctx.Tier)
		return d
	}
	d.RequiresApproval = true
	d.Reason = fmt.Sprintf("tier_%d_requires_approval", ctx.Tier)
	return d
}
