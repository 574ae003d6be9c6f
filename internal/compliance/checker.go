package compliance

import (
	"context"
	"fmt"
	"strings"

	"github.com/KafClaw/sysclaw/internal/hostinfo"
)

// Built-in policy names.
const (
	PolicyNoRootProcesses    = "no_root_processes"
	PolicyForbiddenProcesses = "forbidden_processes"
)

// Violation is one failed policy observation.
type Violation struct {
	Policy  string `json:"policy"`
	Details string `json:"details"`
}

// Report is the result of one compliance check.
type Report struct {
	Violations []Violation `json:"violations"`
	Checked    []string    `json:"checked"`
	Skipped    []string    `json:"skipped,omitempty"`
	Message    string      `json:"message"`
}

// ProcessLister enumerates running processes.
type ProcessLister func(ctx context.Context, limit int) ([]hostinfo.Process, error)

// Checker evaluates enabled policies of a profile against the host.
type Checker struct {
	Profiles  *ProfileStore
	Processes ProcessLister
}

// NewChecker returns a checker reading the live process table.
func NewChecker(profiles *ProfileStore) *Checker {
	return &Checker{Profiles: profiles, Processes: hostinfo.ListProcesses}
}

// Check loads the profile and evaluates every enabled policy.
func (c *Checker) Check(ctx context.Context) (Report, error) {
	profile, err := c.Profiles.Load()
	if err != nil {
		return Report{}, err
	}
	return c.Evaluate(ctx, profile)
}

// Evaluate runs the enabled policies of profile. Unknown policy names are
// reported as skipped rather than failing the check.
func (c *Checker) Evaluate(ctx context.Context, profile Profile) (Report, error) {
	report := Report{Violations: []Violation{}, Checked: []string{}}
	var procs []hostinfo.Process
	loaded := false

	for _, policy := range profile.Policies {
		if !policy.Enabled {
			continue
		}
		switch policy.Name {
		case PolicyNoRootProcesses, PolicyForbiddenProcesses:
			if !loaded {
				var err error
				procs, err = c.Processes(ctx, 0)
				if err != nil {
					return Report{}, fmt.Errorf("list processes: %w", err)
				}
				loaded = true
			}
			report.Checked = append(report.Checked, policy.Name)
			if policy.Name == PolicyNoRootProcesses {
				report.Violations = append(report.Violations, rootProcesses(policy, procs)...)
			} else {
				report.Violations = append(report.Violations, forbiddenProcesses(policy, procs)...)
			}
		default:
			report.Skipped = append(report.Skipped, policy.Name)
		}
	}

	switch {
	case len(report.Checked) == 0:
		report.Message = "No enabled policies to check."
	case len(report.Violations) > 0:
		report.Message = fmt.Sprintf("Found %d policy violations.", len(report.Violations))
	default:
		report.Message = "All checked policies are compliant."
	}
	return report, nil
}

func rootProcesses(policy Policy, procs []hostinfo.Process) []Violation {
	var out []Violation
	for _, p := range procs {
		if p.User != "root" && !strings.EqualFold(p.User, "SYSTEM") {
			continue
		}
		if containsFold(policy.Allow, p.Command) {
			continue
		}
		out = append(out, Violation{
			Policy:  policy.Name,
			Details: fmt.Sprintf("process %s (pid %d) runs as %s", p.Command, p.PID, p.User),
		})
	}
	return out
}

func forbiddenProcesses(policy Policy, procs []hostinfo.Process) []Violation {
	var out []Violation
	for _, p := range procs {
		if containsFold(policy.Match, p.Command) {
			out = append(out, Violation{
				Policy:  policy.Name,
				Details: fmt.Sprintf("forbidden process %s (pid %d) is running", p.Command, p.PID),
			})
		}
	}
	return out
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}
