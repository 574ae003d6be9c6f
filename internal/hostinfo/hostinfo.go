// Package hostinfo gathers facts about the local machine: OS identity, CPU,
// memory, disks, processes, installed packages and security events.
package hostinfo

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

var (
	// ErrUnsupported is returned when a fact cannot be gathered on this platform.
	ErrUnsupported = errors.New("not supported on this platform")
	// ErrPermission is returned when the process lacks the privilege to read a fact.
	ErrPermission = errors.New("insufficient privilege")
)

// runCommandFn runs an external program and returns its combined output.
// Tests swap it to avoid touching the host.
var runCommandFn = func(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

var (
	lookPathFn = exec.LookPath
	hostnameFn = os.Hostname
	goos       = runtime.GOOS
)

// OSInfo identifies the operating system.
type OSInfo struct {
	OS       string `json:"os"`
	Arch     string `json:"arch"`
	Hostname string `json:"hostname"`
	Kernel   string `json:"kernel,omitempty"`
	Release  string `json:"release,omitempty"`
}

// GetOSInfo reports the platform, hostname and kernel release.
func GetOSInfo(ctx context.Context) (OSInfo, error) {
	info := OSInfo{OS: goos, Arch: runtime.GOARCH}
	host, err := hostnameFn()
	if err != nil {
		return info, err
	}
	info.Hostname = host
	info.Kernel, info.Release = kernelRelease(ctx)
	return info, nil
}

func kernelRelease(ctx context.Context) (string, string) {
	if goos == "windows" {
		out, err := runCommandFn(ctx, "cmd", "/C", "ver")
		if err != nil {
			return "", ""
		}
		return "", strings.TrimSpace(string(out))
	}
	kernel := ""
	if out, err := runCommandFn(ctx, "uname", "-sr"); err == nil {
		kernel = strings.TrimSpace(string(out))
	}
	release := ""
	if data, err := os.ReadFile("/etc/os-release"); err == nil {
		release = parseOSRelease(string(data))
	}
	return kernel, release
}

func parseOSRelease(data string) string {
	for _, line := range strings.Split(data, "\n") {
		if v, ok := strings.CutPrefix(line, "PRETTY_NAME="); ok {
			return strings.Trim(v, `"`)
		}
	}
	return ""
}

// CPUInfo describes processor capacity and load.
type CPUInfo struct {
	LogicalCPUs int       `json:"logical_cpus"`
	LoadAverage []float64 `json:"load_average,omitempty"`
	Model       string    `json:"model,omitempty"`
}

// GetCPUInfo reports logical CPUs, load average and the CPU model where known.
func GetCPUInfo(ctx context.Context) (CPUInfo, error) {
	info := CPUInfo{LogicalCPUs: runtime.NumCPU()}
	if loads, err := loadAverage(); err == nil {
		info.LoadAverage = loads
	}
	info.Model = cpuModel()
	return info, nil
}

func cpuModel() string {
	data, err := os.ReadFile("/proc/cpuinfo")
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "model name") {
			if _, v, ok := strings.Cut(line, ":"); ok {
				return strings.TrimSpace(v)
			}
		}
	}
	return ""
}

// MemoryInfo is expressed in bytes.
type MemoryInfo struct {
	Total     uint64 `json:"total"`
	Free      uint64 `json:"free"`
	Used      uint64 `json:"used"`
	SwapTotal uint64 `json:"swap_total"`
	SwapFree  uint64 `json:"swap_free"`
}

// DiskUsage is expressed in bytes.
type DiskUsage struct {
	Path        string  `json:"path"`
	Total       uint64  `json:"total"`
	Free        uint64  `json:"free"`
	Used        uint64  `json:"used"`
	UsedPercent float64 `json:"used_percent"`
}

func isPermissionText(out string) bool {
	lower := strings.ToLower(out)
	for _, marker := range []string{
		"access is denied",
		"permission denied",
		"not seeing messages from other users",
		"operation not permitted",
	} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
