package tools

import (
	"context"

	"github.com/KafClaw/sysclaw/internal/hostinfo"
)

// ListPackagesTool lists installed packages.
type ListPackagesTool struct{}

func (t *ListPackagesTool) Name() string { return "list_packages" }
func (t *ListPackagesTool) Tier() int    { return TierReadOnly }

func (t *ListPackagesTool) Description() string {
	return "List installed packages using the detected package manager (apt, dnf, brew or choco)."
}

func (t *ListPackagesTool) Schema() Schema {
	return Object(Optional("query", TypeString, "Only return packages whose line contains this text"))
}

type queryArgs struct {
	Query string `arg:"query"`
}

func (t *ListPackagesTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	var args queryArgs
	if err := DecodeArgs(params, &args); err != nil {
		return "", err
	}
	out, err := hostinfo.ListPackages(ctx, args.Query)
	if err != nil {
		return out, hostError(err)
	}
	if out == "" {
		return "(no matching packages)", nil
	}
	return out, nil
}

// PackageTool installs or removes one package.
type PackageTool struct {
	name    string
	install bool
}

// NewInstallPackageTool returns the install_package tool.
func NewInstallPackageTool() *PackageTool { return &PackageTool{name: "install_package", install: true} }

// NewUninstallPackageTool returns the uninstall_package tool.
func NewUninstallPackageTool() *PackageTool { return &PackageTool{name: "uninstall_package"} }

func (t *PackageTool) Name() string { return t.name }
func (t *PackageTool) Tier() int    { return TierHighRisk }

func (t *PackageTool) Description() string {
	if t.install {
		return "Install a software package using the detected package manager."
	}
	return "Uninstall a software package using the detected package manager."
}

func (t *PackageTool) Schema() Schema {
	return Object(Required("package", TypeString, "The package name"))
}

type packageArgs struct {
	Package string `arg:"package"`
}

func (t *PackageTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	var args packageArgs
	if err := DecodeArgs(params, &args); err != nil {
		return "", err
	}
	var (
		out string
		err error
	)
	if t.install {
		out, err = hostinfo.InstallPackage(ctx, args.Package)
	} else {
		out, err = hostinfo.UninstallPackage(ctx, args.Package)
	}
	if err != nil {
		return out, hostError(err)
	}
	return out, nil
}
