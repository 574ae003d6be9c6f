package tools

import (
	"net/http"
	"time"

	"github.com/KafClaw/sysclaw/internal/compliance"
)

// Options configures the default tool set.
type Options struct {
	ShellTimeout   time.Duration
	WorkDir        string
	Guard          *Guard
	Profiles       *compliance.ProfileStore
	Checker        *compliance.Checker
	SearchAPIKey   string
	SearchEngineID string
	SearchEndpoint string
	HTTPClient     *http.Client
}

// DefaultTools returns every built-in capability wired to opts.
func DefaultTools(opts Options) []Tool {
	checker := opts.Checker
	if checker == nil && opts.Profiles != nil {
		checker = compliance.NewChecker(opts.Profiles)
	}
	list := []Tool{
		NewShellTool(opts.ShellTimeout, opts.WorkDir, opts.Guard),
		&ReadFileTool{Guard: opts.Guard},
		&WriteFileTool{Guard: opts.Guard},
		&ListDirTool{Guard: opts.Guard},
		NewOSInfoTool(),
		NewCPUInfoTool(),
		NewMemoryInfoTool(),
		&DiskUsageTool{},
		&ProcessListTool{},
		&ListPackagesTool{},
		NewInstallPackageTool(),
		NewUninstallPackageTool(),
		&SecurityEventsTool{},
		&MonitorFileTool{Guard: opts.Guard},
		&WebSearchTool{
			APIKey:   opts.SearchAPIKey,
			EngineID: opts.SearchEngineID,
			Endpoint: opts.SearchEndpoint,
			Client:   opts.HTTPClient,
		},
		&WebScrapeTool{Client: opts.HTTPClient},
	}
	if opts.Profiles != nil {
		list = append(list,
			&CheckPoliciesTool{Checker: checker},
			&ManageProfileTool{Profiles: opts.Profiles},
		)
	}
	return list
}

// NewDefaultRegistry builds a registry holding DefaultTools(opts).
func NewDefaultRegistry(opts Options) (*Registry, error) {
	r := NewRegistry()
	if err := r.RegisterAll(DefaultTools(opts)...); err != nil {
		return nil, err
	}
	return r, nil
}
