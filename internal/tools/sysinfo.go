package tools

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/KafClaw/sysclaw/internal/hostinfo"
)

// FactTool adapts a parameterless host fact to the Tool interface.
type FactTool struct {
	name        string
	description string
	gather      func(ctx context.Context) (any, error)
}

func (t *FactTool) Name() string        { return t.name }
func (t *FactTool) Description() string { return t.description }
func (t *FactTool) Tier() int           { return TierReadOnly }
func (t *FactTool) Schema() Schema      { return Object() }

func (t *FactTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	v, err := t.gather(ctx)
	if err != nil {
		return "", hostError(err)
	}
	return toJSON(v)
}

// NewOSInfoTool reports the operating system identity.
func NewOSInfoTool() *FactTool {
	return &FactTool{
		name:        "get_os_info",
		description: "Get the operating system, architecture, hostname and kernel release.",
		gather:      func(ctx context.Context) (any, error) { return hostinfo.GetOSInfo(ctx) },
	}
}

// NewCPUInfoTool reports CPU capacity and load.
func NewCPUInfoTool() *FactTool {
	return &FactTool{
		name:        "get_cpu_info",
		description: "Get the number of logical CPUs, the CPU model and the load average.",
		gather:      func(ctx context.Context) (any, error) { return hostinfo.GetCPUInfo(ctx) },
	}
}

// NewMemoryInfoTool reports memory usage.
func NewMemoryInfoTool() *FactTool {
	return &FactTool{
		name:        "get_memory_info",
		description: "Get total, free and used memory and swap in bytes.",
		gather:      func(ctx context.Context) (any, error) { return hostinfo.GetMemoryInfo(ctx) },
	}
}

// DiskUsageTool reports filesystem capacity.
type DiskUsageTool struct{}

func (t *DiskUsageTool) Name() string { return "get_disk_usage" }
func (t *DiskUsageTool) Tier() int    { return TierReadOnly }

func (t *DiskUsageTool) Description() string {
	return "Get total, free and used space of the filesystem holding a path (default /)."
}

func (t *DiskUsageTool) Schema() Schema {
	return Object(Optional("path", TypeString, "Path on the filesystem to inspect"))
}

func (t *DiskUsageTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	var args pathArgs
	if err := DecodeArgs(params, &args); err != nil {
		return "", err
	}
	usage, err := hostinfo.GetDiskUsage(ctx, args.Path)
	if err != nil {
		return "", hostError(err)
	}
	return toJSON(usage)
}

// ProcessListTool lists the largest running processes.
type ProcessListTool struct{}

func (t *ProcessListTool) Name() string { return "list_processes" }
func (t *ProcessListTool) Tier() int    { return TierReadOnly }

func (t *ProcessListTool) Description() string {
	return "List running processes ordered by memory use, largest first."
}

func (t *ProcessListTool) Schema() Schema {
	return Object(Optional("limit", TypeInteger, "Maximum number of processes (default 20)"))
}

type limitArgs struct {
	Limit int `arg:"limit"`
}

func (t *ProcessListTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	var args limitArgs
	if err := DecodeArgs(params, &args); err != nil {
		return "", err
	}
	if args.Limit <= 0 {
		args.Limit = hostinfo.DefaultProcessLimit
	}
	procs, err := hostinfo.ListProcesses(ctx, args.Limit)
	if err != nil {
		return "", hostError(err)
	}
	return toJSON(procs)
}

// SecurityEventsTool reads recent high-severity security events.
type SecurityEventsTool struct{}

func (t *SecurityEventsTool) Name() string { return "read_security_events" }
func (t *SecurityEventsTool) Tier() int    { return TierReadOnly }

func (t *SecurityEventsTool) Description() string {
	return "Read the most recent error and warning level security events. Needs administrator privilege."
}

func (t *SecurityEventsTool) Schema() Schema {
	return Object(Optional("limit", TypeInteger, "Number of events to read (default 10)"))
}

func (t *SecurityEventsTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	var args limitArgs
	if err := DecodeArgs(params, &args); err != nil {
		return "", err
	}
	out, err := hostinfo.ReadSecurityEvents(ctx, args.Limit)
	if err != nil {
		return out, hostError(err)
	}
	return out, nil
}

func hostError(err error) error {
	switch {
	case errors.Is(err, hostinfo.ErrPermission):
		return Wrap(ReasonPermission, err, "insufficient privilege, run as administrator")
	case errors.Is(err, context.DeadlineExceeded):
		return Wrap(ReasonTimeout, err, "timed out")
	}
	return Wrap(ReasonCapability, err, "")
}

func toJSON(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", Wrap(ReasonCapability, err, "encode result")
	}
	return string(data), nil
}
