package hostinfo

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// DefaultEventLimit is the number of security events read when no limit is given.
const DefaultEventLimit = 10

// ReadSecurityEvents returns the most recent high-severity security events.
// On Windows it reads the Security event log, elsewhere the systemd journal.
// Reading either usually needs elevated privilege; that failure is reported
// as ErrPermission.
func ReadSecurityEvents(ctx context.Context, limit int) (string, error) {
	if limit <= 0 {
		limit = DefaultEventLimit
	}
	var (
		name string
		args []string
	)
	switch goos {
	case "windows":
		name = "wevtutil"
		args = []string{"qe", "Security", "/q:*[System[(Level=1 or Level=2 or Level=3)]]", "/c:" + strconv.Itoa(limit), "/rd:true", "/f:text"}
	case "linux":
		if _, err := lookPathFn("journalctl"); err != nil {
			return "", fmt.Errorf("journalctl: %w", ErrUnsupported)
		}
		name = "journalctl"
		args = []string{"-p", "0..3", "-n", strconv.Itoa(limit), "--no-pager"}
	default:
		return "", fmt.Errorf("security events on %s: %w", goos, ErrUnsupported)
	}

	out, err := runCommandFn(ctx, name, args...)
	text := strings.TrimSpace(string(out))
	if isPermissionText(text) {
		return text, fmt.Errorf("%s: %w (run as administrator?)", name, ErrPermission)
	}
	if err != nil {
		return text, fmt.Errorf("%s: %w", name, err)
	}
	if text == "" || text == "-- No entries --" {
		return "No high-severity security events found.", nil
	}
	return text, nil
}
