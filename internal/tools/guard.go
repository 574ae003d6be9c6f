package tools

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/KafClaw/sysclaw/internal/compliance"
)

// DenyPatterns contains regex patterns for destructive commands that are
// refused regardless of the configured blacklist.
var DenyPatterns = []string{
	`\brm\s+(-[rf]+\s+)*[/~]`, // rm with root or home
	`\brm\s+-rf\b`,            // rm -rf anywhere
	`\bdd\b.*\bof=/dev/`,      // dd to device
	`\bmkfs(\.\w+)?\b`,        // filesystem format
	`\bfdisk\b`,               // partition tool
	`>\s*/dev/sd`,             // redirect to disk
	`\bchmod\s+-R\s+777\s+/`,  // chmod 777 on root
	`:\(\)\s*\{\s*:\|:&\s*\};:`,
}

// Guard enforces the command and file-access blacklists of the security profile.
type Guard struct {
	AllowShell       bool
	AllowTools       bool
	CommandBlacklist []string
	FileBlacklist    []string
	denyRegexes      []*regexp.Regexp
}

// NewGuard builds a guard from the security section of a profile.
func NewGuard(sec compliance.Security) *Guard {
	denyRegexes := make([]*regexp.Regexp, 0, len(DenyPatterns))
	for _, pattern := range DenyPatterns {
		if re, err := regexp.Compile(pattern); err == nil {
			denyRegexes = append(denyRegexes, re)
		}
	}
	return &Guard{
		AllowShell:       sec.AllowShellCommands,
		AllowTools:       sec.AllowToolUsage,
		CommandBlacklist: sec.CommandBlacklist,
		FileBlacklist:    sec.FileAccessBlacklist,
		denyRegexes:      denyRegexes,
	}
}

// CheckTool refuses every tool other than the shell when tool usage is
// switched off. The shell has its own switch.
func (g *Guard) CheckTool(name string) error {
	if g == nil || g.AllowTools || name == shellToolName {
		return nil
	}
	return Fail(ReasonBlocked, "tool usage is disabled by the security profile")
}

// CheckCommand returns a blocked ExecutionError when command must not run.
func (g *Guard) CheckCommand(command string) error {
	if g == nil {
		return nil
	}
	if !g.AllowShell {
		return Fail(ReasonBlocked, "shell commands are disabled by the security profile")
	}
	for _, re := range g.denyRegexes {
		if re.MatchString(command) {
			return Fail(ReasonBlocked, "command blocked by deny pattern %q", re.String())
		}
	}
	for _, segment := range splitCommandSegments(command) {
		fields := strings.Fields(segment)
		if len(fields) == 0 {
			continue
		}
		head := filepath.Base(fields[0])
		if head == "sudo" && len(fields) > 1 {
			head = filepath.Base(fields[1])
		}
		for _, banned := range g.CommandBlacklist {
			if strings.EqualFold(head, banned) {
				return Fail(ReasonBlocked, "command %q is blacklisted by the security profile", banned)
			}
		}
	}
	for _, path := range g.FileBlacklist {
		if path != "" && strings.Contains(command, path) {
			return Fail(ReasonBlocked, "command references protected path %s", path)
		}
	}
	return nil
}

// CheckPath returns a blocked ExecutionError when path is protected.
func (g *Guard) CheckPath(path string) error {
	if g == nil {
		return nil
	}
	clean := filepath.Clean(path)
	for _, banned := range g.FileBlacklist {
		if banned == "" {
			continue
		}
		b := filepath.Clean(banned)
		if strings.EqualFold(clean, b) || strings.HasPrefix(strings.ToLower(clean), strings.ToLower(b)+string(filepath.Separator)) {
			return Fail(ReasonBlocked, "access to %s is blocked by the security profile", banned)
		}
	}
	return nil
}

func splitCommandSegments(command string) []string {
	replacer := strings.NewReplacer("&&", "\n", "||", "\n", ";", "\n", "|", "\n", "$(", "\n", "`", "\n")
	return strings.Split(replacer.Replace(command), "\n")
}
