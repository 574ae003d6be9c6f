package tools

import (
	"context"
	"fmt"

	"github.com/KafClaw/sysclaw/internal/compliance"
)

// CheckPoliciesTool evaluates the compliance profile against the host.
// Its payload is the JSON encoding of compliance.Report.
type CheckPoliciesTool struct {
	Checker *compliance.Checker
}

func (t *CheckPoliciesTool) Name() string { return "check_policies" }
func (t *CheckPoliciesTool) Tier() int    { return TierReadOnly }

func (t *CheckPoliciesTool) Description() string {
	return "Check the system against the enabled policies of the user's compliance profile."
}

func (t *CheckPoliciesTool) Schema() Schema { return Object() }

func (t *CheckPoliciesTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	report, err := t.Checker.Check(ctx)
	if err != nil {
		return "", Wrap(ReasonCapability, err, "policy check failed")
	}
	return toJSON(report)
}

// ManageProfileTool reads and updates the user profile.
type ManageProfileTool struct {
	Profiles *compliance.ProfileStore
}

func (t *ManageProfileTool) Name() string { return "manage_profile" }
func (t *ManageProfileTool) Tier() int    { return TierWrite }

func (t *ManageProfileTool) Description() string {
	return "Read or update the user profile. Actions: read, get (key), set (key, value). Keys may be dotted, e.g. security.allow_shell_commands."
}

func (t *ManageProfileTool) Schema() Schema {
	return Object(
		Required("action", TypeString, "One of read, get, set"),
		Optional("key", TypeString, "Dotted profile key"),
		Optional("value", TypeString, "Value for set, parsed as YAML"),
	)
}

type profileArgs struct {
	Action string `arg:"action"`
	Key    string `arg:"key"`
	Value  string `arg:"value"`
}

func (t *ManageProfileTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	var args profileArgs
	if err := DecodeArgs(params, &args); err != nil {
		return "", err
	}
	switch args.Action {
	case "read":
		p, err := t.Profiles.Load()
		if err != nil {
			return "", Wrap(ReasonCapability, err, "read profile")
		}
		return toJSON(p)
	case "get":
		if args.Key == "" {
			return "", Fail(ReasonCapability, "a key must be provided for the get action")
		}
		v, err := t.Profiles.Get(args.Key)
		if err != nil {
			return "", Wrap(ReasonCapability, err, "get %s", args.Key)
		}
		return toJSON(map[string]any{"key": args.Key, "value": v})
	case "set":
		if args.Key == "" {
			return "", Fail(ReasonCapability, "a key must be provided for the set action")
		}
		if err := t.Profiles.Set(args.Key, args.Value); err != nil {
			return "", Wrap(ReasonCapability, err, "set %s", args.Key)
		}
		return fmt.Sprintf("Set %q to %q in profile.", args.Key, args.Value), nil
	}
	return "", Fail(ReasonCapability, "invalid action %q, must be one of read, get, set", args.Action)
}
