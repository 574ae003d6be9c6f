// Package service installs and controls the background worker as a
// systemd unit.
package service

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// UnitName is the systemd unit of the worker.
const UnitName = "sysclaw.service"

// ErrUnsupported is returned on hosts without systemd support.
var ErrUnsupported = errors.New("service management is only supported on Linux with systemd")

var (
	goos         = runtime.GOOS
	currentEUID  = os.Geteuid
	lookPathFn   = exec.LookPath
	runCommandFn = func(name string, args ...string) ([]byte, error) {
		return exec.Command(name, args...).CombinedOutput()
	}
)

// Options describe the unit to install.
type Options struct {
	BinaryPath string
	// User runs the worker. Empty runs it as root, which the security
	// event reader needs on most distributions.
	User       string
	ConfigPath string
	EnvPath    string
	WorkingDir string
	Version    string
	// InstallRoot prefixes /etc/systemd/system. Tests point it at a temp dir.
	InstallRoot string
	// SkipSystemctl writes the unit without reloading or enabling it.
	SkipSystemctl bool
}

// Status is the parsed state of the unit.
type Status struct {
	Installed bool
	Active    string
	Enabled   string
}

func (s Status) String() string {
	if !s.Installed {
		return "not installed"
	}
	return fmt.Sprintf("%s (%s)", s.Active, s.Enabled)
}

// UnitPath returns where the unit file lives below root.
func UnitPath(root string) string {
	if root == "" {
		root = "/"
	}
	return filepath.Join(root, "etc", "systemd", "system", UnitName)
}

func checkPlatform(needRoot bool) error {
	if goos != "linux" {
		return ErrUnsupported
	}
	if _, err := lookPathFn("systemctl"); err != nil {
		return fmt.Errorf("%w: systemctl not found", ErrUnsupported)
	}
	if needRoot && currentEUID() != 0 {
		return errors.New("service management requires root (try sudo)")
	}
	return nil
}

// Install writes the unit file, reloads systemd and enables the unit.
func Install(opts Options) (string, error) {
	if opts.BinaryPath == "" {
		return "", errors.New("binary path is required")
	}
	if !opts.SkipSystemctl {
		if err := checkPlatform(true); err != nil {
			return "", err
		}
	}
	path := UnitPath(opts.InstallRoot)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(RenderUnit(opts)), 0o644); err != nil {
		return "", err
	}
	if opts.SkipSystemctl {
		return path, nil
	}
	if err := systemctl("daemon-reload"); err != nil {
		return path, err
	}
	return path, systemctl("enable", UnitName)
}

// Start starts the unit.
func Start() error {
	if err := checkPlatform(true); err != nil {
		return err
	}
	return systemctl("start", UnitName)
}

// Stop stops the unit.
func Stop() error {
	if err := checkPlatform(true); err != nil {
		return err
	}
	return systemctl("stop", UnitName)
}

// Remove stops and disables the unit and deletes its file.
func Remove(installRoot string) error {
	if err := checkPlatform(true); err != nil {
		return err
	}
	_ = systemctl("stop", UnitName)
	_ = systemctl("disable", UnitName)
	if err := os.Remove(UnitPath(installRoot)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return systemctl("daemon-reload")
}

// QueryStatus reports whether the unit is installed, active and enabled.
func QueryStatus(installRoot string) (Status, error) {
	if err := checkPlatform(false); err != nil {
		return Status{}, err
	}
	var st Status
	if _, err := os.Stat(UnitPath(installRoot)); err == nil {
		st.Installed = true
	}
	// is-active and is-enabled exit non-zero for inactive units but still
	// print the state.
	out, _ := runCommandFn("systemctl", "is-active", UnitName)
	st.Active = firstLine(out, "unknown")
	out, _ = runCommandFn("systemctl", "is-enabled", UnitName)
	st.Enabled = firstLine(out, "unknown")
	return st, nil
}

func systemctl(args ...string) error {
	out, err := runCommandFn("systemctl", args...)
	if err != nil {
		return fmt.Errorf("systemctl %s: %w (%s)", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}

func firstLine(out []byte, def string) string {
	s := strings.TrimSpace(string(out))
	if s == "" {
		return def
	}
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}

// RenderUnit returns the unit file text.
func RenderUnit(opts Options) string {
	version := opts.Version
	if version == "" {
		version = "dev"
	}
	lines := []string{
		"[Unit]",
		fmt.Sprintf("Description=SysClaw policy worker (v%s)", version),
		"After=network-online.target",
		"Wants=network-online.target",
		"",
		"[Service]",
		"Type=simple",
		fmt.Sprintf("ExecStart=%s service run", shellEscape(filepath.Clean(opts.BinaryPath))),
		"Restart=always",
		"RestartSec=10",
	}
	if opts.User != "" {
		lines = append(lines, "User="+opts.User, "Group="+opts.User)
	}
	if opts.ConfigPath != "" {
		lines = append(lines, "Environment=SYSCLAW_CONFIG="+opts.ConfigPath)
	}
	if opts.EnvPath != "" {
		lines = append(lines, "EnvironmentFile=-"+opts.EnvPath)
	}
	if opts.WorkingDir != "" {
		lines = append(lines, "WorkingDirectory="+opts.WorkingDir)
	}
	lines = append(lines,
		"",
		"[Install]",
		"WantedBy=multi-user.target",
		"",
	)
	return strings.Join(lines, "\n")
}

func shellEscape(v string) string {
	if v == "" {
		return "''"
	}
	if strings.IndexFunc(v, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '"' || r == '\'' || r == '\\'
	}) == -1 {
		return v
	}
	return strconv.Quote(v)
}
