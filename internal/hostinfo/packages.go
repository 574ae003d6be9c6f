package hostinfo

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNoPackageManager is returned when no supported package manager is found.
var ErrNoPackageManager = errors.New("no supported package manager found")

// PackageManager describes how to drive one package manager.
type PackageManager struct {
	Name      string
	List      []string
	Install   []string
	Uninstall []string
}

var packageManagers = []PackageManager{
	{Name: "apt", List: []string{"apt", "list", "--installed"}, Install: []string{"apt-get", "install", "-y"}, Uninstall: []string{"apt-get", "remove", "-y"}},
	{Name: "dnf", List: []string{"dnf", "list", "installed"}, Install: []string{"dnf", "install", "-y"}, Uninstall: []string{"dnf", "remove", "-y"}},
	{Name: "brew", List: []string{"brew", "list"}, Install: []string{"brew", "install"}, Uninstall: []string{"brew", "uninstall"}},
	{Name: "choco", List: []string{"choco", "list"}, Install: []string{"choco", "install", "-y"}, Uninstall: []string{"choco", "uninstall", "-y"}},
}

// DetectPackageManager returns the first package manager found on PATH.
func DetectPackageManager() (PackageManager, error) {
	for _, pm := range packageManagers {
		if _, err := lookPathFn(pm.List[0]); err == nil {
			return pm, nil
		}
	}
	return PackageManager{}, ErrNoPackageManager
}

// ListPackages returns the raw listing of installed packages, optionally
// filtered to lines containing query.
func ListPackages(ctx context.Context, query string) (string, error) {
	pm, err := DetectPackageManager()
	if err != nil {
		return "", err
	}
	out, err := runCommandFn(ctx, pm.List[0], pm.List[1:]...)
	if err != nil {
		return string(out), fmt.Errorf("%s list: %w", pm.Name, err)
	}
	if query == "" {
		return string(out), nil
	}
	var kept []string
	for _, line := range strings.Split(string(out), "\n") {
		if strings.Contains(strings.ToLower(line), strings.ToLower(query)) {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n"), nil
}

// InstallPackage installs name with the detected package manager.
func InstallPackage(ctx context.Context, name string) (string, error) {
	return runPackageCommand(ctx, name, func(pm PackageManager) []string { return pm.Install })
}

// UninstallPackage removes name with the detected package manager.
func UninstallPackage(ctx context.Context, name string) (string, error) {
	return runPackageCommand(ctx, name, func(pm PackageManager) []string { return pm.Uninstall })
}

func runPackageCommand(ctx context.Context, name string, pick func(PackageManager) []string) (string, error) {
	if strings.TrimSpace(name) == "" || strings.HasPrefix(name, "-") {
		return "", fmt.Errorf("invalid package name %q", name)
	}
	pm, err := DetectPackageManager()
	if err != nil {
		return "", err
	}
	argv := append(append([]string{}, pick(pm)...), name)
	out, err := runCommandFn(ctx, argv[0], argv[1:]...)
	if err != nil {
		if isPermissionText(string(out)) {
			return string(out), fmt.Errorf("%s: %w", pm.Name, ErrPermission)
		}
		return string(out), fmt.Errorf("%s: %w", pm.Name, err)
	}
	return string(out), nil
}
