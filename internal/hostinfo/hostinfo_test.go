package hostinfo

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
)

type fakeCall struct {
	name string
	args []string
}

func stubCommands(t *testing.T, out string, err error) *[]fakeCall {
	t.Helper()
	calls := &[]fakeCall{}
	orig := runCommandFn
	runCommandFn = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		*calls = append(*calls, fakeCall{name: name, args: args})
		return []byte(out), err
	}
	t.Cleanup(func() { runCommandFn = orig })
	return calls
}

func stubOS(t *testing.T, os string) {
	t.Helper()
	orig := goos
	goos = os
	t.Cleanup(func() { goos = orig })
}

func stubLookPath(t *testing.T, found ...string) {
	t.Helper()
	orig := lookPathFn
	lookPathFn = func(file string) (string, error) {
		for _, f := range found {
			if f == file {
				return "/usr/bin/" + file, nil
			}
		}
		return "", exec.ErrNotFound
	}
	t.Cleanup(func() { lookPathFn = orig })
}

func TestParsePSSortsAndLimits(t *testing.T) {
	stubOS(t, "linux")
	stubCommands(t, "  1 root  1200 systemd\n 42 alice 9000 firefox web\n 7 bob 300 sh\nbogus line\n", nil)

	procs, err := ListProcesses(context.Background(), 2)
	if err != nil {
		t.Fatalf("ListProcesses: %v", err)
	}
	if len(procs) != 2 {
		t.Fatalf("expected 2 processes, got %d", len(procs))
	}
	if procs[0].PID != 42 || procs[0].Command != "firefox web" {
		t.Fatalf("unexpected first process: %+v", procs[0])
	}
	if procs[1].User != "root" {
		t.Fatalf("expected root second, got %+v", procs[1])
	}
}

func TestParseTasklist(t *testing.T) {
	out := []byte(`"System","4","Services","0","1,024 K","Unknown","NT AUTHORITY\SYSTEM","0:01:00","N/A"
"notepad.exe","1200","Console","1","12,500 K","Running","HOST\alice","0:00:01","Untitled"
`)
	procs, err := parseTasklist(out)
	if err != nil {
		t.Fatalf("parseTasklist: %v", err)
	}
	if len(procs) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(procs))
	}
	if procs[0].User != "SYSTEM" || procs[0].RSSKB != 1024 {
		t.Fatalf("unexpected system row: %+v", procs[0])
	}
	if procs[1].User != "alice" || procs[1].RSSKB != 12500 {
		t.Fatalf("unexpected notepad row: %+v", procs[1])
	}
}

func TestDetectPackageManager(t *testing.T) {
	stubLookPath(t, "brew")
	pm, err := DetectPackageManager()
	if err != nil {
		t.Fatalf("DetectPackageManager: %v", err)
	}
	if pm.Name != "brew" {
		t.Fatalf("expected brew, got %s", pm.Name)
	}

	stubLookPath(t)
	if _, err := DetectPackageManager(); !errors.Is(err, ErrNoPackageManager) {
		t.Fatalf("expected ErrNoPackageManager, got %v", err)
	}
}

func TestListPackagesFiltersQuery(t *testing.T) {
	stubLookPath(t, "apt")
	stubCommands(t, "curl/stable 8.0\nopenssl/stable 3.0\nlibcurl4/stable 8.0\n", nil)

	out, err := ListPackages(context.Background(), "CURL")
	if err != nil {
		t.Fatalf("ListPackages: %v", err)
	}
	if strings.Contains(out, "openssl") || !strings.Contains(out, "libcurl4") {
		t.Fatalf("unexpected filter result: %q", out)
	}
}

func TestInstallPackageRejectsFlags(t *testing.T) {
	stubLookPath(t, "apt")
	calls := stubCommands(t, "", nil)
	if _, err := InstallPackage(context.Background(), "--purge"); err == nil {
		t.Fatal("expected error for flag-like package name")
	}
	if len(*calls) != 0 {
		t.Fatalf("no command should run, got %v", *calls)
	}
}

func TestInstallPackageBuildsArgv(t *testing.T) {
	stubLookPath(t, "apt")
	calls := stubCommands(t, "done", nil)
	if _, err := InstallPackage(context.Background(), "htop"); err != nil {
		t.Fatalf("InstallPackage: %v", err)
	}
	got := (*calls)[0]
	if got.name != "apt-get" || strings.Join(got.args, " ") != "install -y htop" {
		t.Fatalf("unexpected argv: %+v", got)
	}
}

func TestReadSecurityEventsPermission(t *testing.T) {
	stubOS(t, "linux")
	stubLookPath(t, "journalctl")
	stubCommands(t, "Hint: You are currently not seeing messages from other users and the system.", nil)

	_, err := ReadSecurityEvents(context.Background(), 5)
	if !errors.Is(err, ErrPermission) {
		t.Fatalf("expected ErrPermission, got %v", err)
	}
}

func TestReadSecurityEventsWindowsArgs(t *testing.T) {
	stubOS(t, "windows")
	calls := stubCommands(t, "Event[0]: logon failure", nil)

	out, err := ReadSecurityEvents(context.Background(), 0)
	if err != nil {
		t.Fatalf("ReadSecurityEvents: %v", err)
	}
	if !strings.Contains(out, "logon failure") {
		t.Fatalf("unexpected output %q", out)
	}
	call := (*calls)[0]
	if call.name != "wevtutil" || !strings.Contains(strings.Join(call.args, " "), "/c:10") {
		t.Fatalf("unexpected call %+v", call)
	}
}

func TestReadSecurityEventsAccessDenied(t *testing.T) {
	stubOS(t, "windows")
	stubCommands(t, "Failed to read events. Access is denied.", errors.New("exit status 5"))

	_, err := ReadSecurityEvents(context.Background(), 3)
	if !errors.Is(err, ErrPermission) {
		t.Fatalf("expected ErrPermission, got %v", err)
	}
	if !strings.Contains(err.Error(), "administrator") {
		t.Fatalf("expected elevation hint, got %v", err)
	}
}

func TestReadSecurityEventsUnsupported(t *testing.T) {
	stubOS(t, "plan9")
	if _, err := ReadSecurityEvents(context.Background(), 3); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestParseOSRelease(t *testing.T) {
	got := parseOSRelease("NAME=Ubuntu\nPRETTY_NAME=\"Ubuntu 24.04 LTS\"\n")
	if got != "Ubuntu 24.04 LTS" {
		t.Fatalf("unexpected release %q", got)
	}
}

func TestGetCPUInfo(t *testing.T) {
	info, err := GetCPUInfo(context.Background())
	if err != nil {
		t.Fatalf("GetCPUInfo: %v", err)
	}
	if info.LogicalCPUs < 1 {
		t.Fatalf("expected at least one CPU, got %d", info.LogicalCPUs)
	}
}
