package policy

import (
	"testing"

	"github.com/KafClaw/sysclaw/internal/tools"
)

func TestInteractivePromptsByDefault(t *testing.T) {
	eng := NewDefaultEngine(nil)
	for _, tier := range []int{tools.TierReadOnly, tools.TierWrite, tools.TierHighRisk} {
		d := eng.Evaluate(Context{Tool: "x", Tier: tier, Mode: ModeInteractive})
		if d.Allow || !d.RequiresApproval {
			t.Fatalf("tier %d should require approval, got %+v", tier, d)
		}
	}
}

func TestInteractiveAutoTier(t *testing.T) {
	eng := NewDefaultEngine(nil)
	eng.InteractiveAutoTier = tools.TierReadOnly

	d := eng.Evaluate(Context{Tool: "read_file", Tier: tools.TierReadOnly, Mode: ModeInteractive})
	if !d.Allow || d.Reason != "tier_0_auto_approved" {
		t.Fatalf("tier 0 should be auto-approved, got %+v", d)
	}
	d = eng.Evaluate(Context{Tool: "run_shell_command", Tier: tools.TierHighRisk, Mode: ModeInteractive})
	if d.Allow || d.Reason != "tier_2_requires_approval" {
		t.Fatalf("tier 2 should require approval, got %+v", d)
	}
}

func TestUnattendedAllowList(t *testing.T) {
	eng := NewDefaultEngine(nil)

	d := eng.Evaluate(Context{Tool: "check_policies", Tier: tools.TierReadOnly, Mode: ModeUnattended, RunID: "r1"})
	if !d.Allow || d.Reason != "unattended_allowlisted" || d.RunID != "r1" {
		t.Fatalf("check_policies should be allowed unattended, got %+v", d)
	}

	d = eng.Evaluate(Context{Tool: "run_shell_command", Tier: tools.TierHighRisk, Mode: ModeUnattended})
	if d.Allow || d.RequiresApproval {
		t.Fatalf("shell must be denied outright when unattended, got %+v", d)
	}
	if d.Reason != "tool_not_allowlisted_for_unattended" {
		t.Fatalf("unexpected reason %s", d.Reason)
	}
}

func TestUnattendedIgnoresTier(t *testing.T) {
	eng := NewDefaultEngine([]string{"write_file"})
	d := eng.Evaluate(Context{Tool: "write_file", Tier: tools.TierWrite, Mode: ModeUnattended})
	if !d.Allow {
		t.Fatalf("explicitly allow-listed tool should pass, got %+v", d)
	}
	d = eng.Evaluate(Context{Tool: "read_file", Tier: tools.TierReadOnly, Mode: ModeUnattended})
	if d.Allow {
		t.Fatal("tool outside custom allow-list must be denied")
	}
	if got := eng.AllowList(); len(got) != 1 || got[0] != "write_file" {
		t.Fatalf("unexpected allow list %v", got)
	}
}
