package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/KafClaw/sysclaw/internal/secrets"
	"github.com/kelseyhightower/envconfig"
)

const (
	// ConfigDir is the default config directory name.
	ConfigDir = ".sysclaw"
	// ConfigFile is the default config file name.
	ConfigFile = "config.json"
)

// ConfigPath returns the path to the config file.
func ConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("SYSCLAW_CONFIG")); explicit != "" {
		return expandHome(explicit)
	}
	home, err := resolveHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigDir, ConfigFile), nil
}

func resolveHomeDir() (string, error) {
	if h := strings.TrimSpace(os.Getenv("SYSCLAW_HOME")); h != "" {
		if strings.HasPrefix(h, "~") {
			base, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			return filepath.Join(base, h[1:]), nil
		}
		return h, nil
	}
	return os.UserHomeDir()
}

func expandHome(p string) (string, error) {
	if !strings.HasPrefix(p, "~") {
		return p, nil
	}
	home, err := resolveHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, p[1:]), nil
}

// Load loads the configuration from file and environment variables.
// Priority: environment > file > defaults.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	// Load process env vars from ~/.config/sysclaw/env (and fallbacks) first.
	LoadEnvFileCandidates()

	path, err := ConfigPath()
	if err != nil {
		return cfg, nil // Use defaults if we can't find config path
	}

	if err := applyVault(filepath.Dir(path)); err != nil {
		return nil, err
	}

	data, err := loadResolvedConfig(path)
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	// Override with environment variables for each group
	groups := []struct {
		prefix string
		target any
	}{
		{"SYSCLAW_MODEL", &cfg.Model},
		{"SYSCLAW_TOOLS", &cfg.Tools},
		{"SYSCLAW_APPROVAL", &cfg.Approval},
		{"SYSCLAW_SCHEDULER", &cfg.Scheduler},
		{"SYSCLAW_SERVICE", &cfg.Service},
		{"SYSCLAW_SEARCH", &cfg.Search},
		{"SYSCLAW_NOTIFY", &cfg.Notify},
		{"SYSCLAW_LOGGING", &cfg.Logging},
	}
	for _, g := range groups {
		if err := envconfig.Process(g.prefix, g.target); err != nil {
			return nil, fmt.Errorf("env %s: %w", g.prefix, err)
		}
	}

	applyEnvFallbacks(cfg)
	if err := normalize(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvFallbacks fills credentials from the conventional provider
// variables when the sysclaw-specific ones are unset.
func applyEnvFallbacks(cfg *Config) {
	if cfg.Model.APIKey == "" {
		cfg.Model.APIKey = firstEnv("GEMINI_API_KEY", "GOOGLE_GENAI_API_KEY")
	}
	if cfg.Model.Name == "" {
		cfg.Model.Name = firstEnv("GEMINI_MODEL")
	}
	if cfg.Search.APIKey == "" {
		cfg.Search.APIKey = firstEnv("GOOGLE_API_KEY")
	}
	if cfg.Search.EngineID == "" {
		cfg.Search.EngineID = firstEnv("PROGRAMMABLE_SEARCH_ENGINE_ID")
	}
	if cfg.Notify.Slack.Token == "" {
		cfg.Notify.Slack.Token = firstEnv("SLACK_BOT_TOKEN")
	}
}

// applyVault exports stored credentials as environment variables. Values
// already present in the environment win.
func applyVault(dir string) error {
	v := secrets.Open(dir)
	if !v.Exists() {
		return nil
	}
	kv, err := v.Load()
	if err != nil {
		return fmt.Errorf("credential vault %s: %w", v.Path(), err)
	}
	for k, val := range kv {
		if strings.TrimSpace(os.Getenv(k)) != "" {
			continue
		}
		if err := os.Setenv(k, val); err != nil {
			return err
		}
	}
	return nil
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

// normalize expands paths and clamps values that would break a run.
func normalize(cfg *Config) error {
	defaults := DefaultConfig()
	paths := []*string{
		&cfg.Tools.WorkDir,
		&cfg.Tools.ProfilePath,
		&cfg.Scheduler.LockPath,
		&cfg.Service.LogPath,
		&cfg.Service.DBPath,
		&cfg.Service.ReportPath,
		&cfg.Service.EnvPath,
		&cfg.Logging.File,
	}
	for _, p := range paths {
		expanded, err := expandHome(strings.TrimSpace(*p))
		if err != nil {
			return err
		}
		*p = expanded
	}

	if cfg.Model.Name == "" {
		cfg.Model.Name = defaults.Model.Name
	}
	if cfg.Model.MaxIterations <= 0 {
		cfg.Model.MaxIterations = defaults.Model.MaxIterations
	}
	if cfg.Model.RequestTimeoutSeconds <= 0 {
		cfg.Model.RequestTimeoutSeconds = defaults.Model.RequestTimeoutSeconds
	}
	if cfg.Model.MaxRetries < 0 {
		cfg.Model.MaxRetries = 0
	}
	if cfg.Tools.ExecTimeoutSeconds <= 0 {
		cfg.Tools.ExecTimeoutSeconds = defaults.Tools.ExecTimeoutSeconds
	}
	if cfg.Tools.ProfilePath == "" {
		cfg.Tools.ProfilePath = defaults.Tools.ProfilePath
	}
	if cfg.Scheduler.IntervalSeconds <= 0 {
		cfg.Scheduler.IntervalSeconds = defaults.Scheduler.IntervalSeconds
	}
	if cfg.Scheduler.LockPath == "" {
		cfg.Scheduler.LockPath = defaults.Scheduler.LockPath
	}
	if cfg.Service.LogPath == "" {
		cfg.Service.LogPath = defaults.Service.LogPath
	}
	if cfg.Service.ReportPath == "" {
		cfg.Service.ReportPath = defaults.Service.ReportPath
	}
	if cfg.Approval.UnattendedAllow == nil {
		cfg.Approval.UnattendedAllow = defaults.Approval.UnattendedAllow
	}
	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	cfg.Logging.Format = strings.ToLower(strings.TrimSpace(cfg.Logging.Format))
	switch cfg.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", cfg.Logging.Format)
	}
	return nil
}

// Save writes the configuration to the config file.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// EnsureDir creates path and its parents.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func loadResolvedConfig(path string) ([]byte, error) {
	obj, err := loadConfigObject(path, map[string]struct{}{})
	if err != nil {
		return nil, err
	}
	return json.Marshal(obj)
}

func loadConfigObject(path string, visited map[string]struct{}) (map[string]any, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if _, seen := visited[absPath]; seen {
		return nil, fmt.Errorf("config include cycle detected at %s", absPath)
	}
	visited[absPath] = struct{}{}
	defer delete(visited, absPath)

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", absPath, err)
	}
	if raw == nil {
		raw = map[string]any{}
	}

	merged := map[string]any{}
	if includeRaw, ok := raw["$include"]; ok {
		includeFiles, err := parseIncludes(includeRaw)
		if err != nil {
			return nil, err
		}
		baseDir := filepath.Dir(absPath)
		for _, includePath := range includeFiles {
			resolvedPath := includePath
			if !filepath.IsAbs(includePath) {
				resolvedPath = filepath.Join(baseDir, includePath)
			}
			child, err := loadConfigObject(resolvedPath, visited)
			if err != nil {
				return nil, err
			}
			deepMerge(merged, child)
		}
	}
	delete(raw, "$include")
	substituteEnvValues(raw)
	deepMerge(merged, raw)
	return merged, nil
}

func parseIncludes(v any) ([]string, error) {
	switch t := v.(type) {
	case string:
		if strings.TrimSpace(t) == "" {
			return nil, nil
		}
		return []string{t}, nil
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("$include entries must be strings")
			}
			if strings.TrimSpace(s) == "" {
				continue
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("$include must be a string or array of strings")
	}
}

func deepMerge(dst, src map[string]any) {
	for key, val := range src {
		srcMap, srcIsMap := val.(map[string]any)
		if !srcIsMap {
			dst[key] = val
			continue
		}
		dstMap, ok := dst[key].(map[string]any)
		if !ok {
			dstMap = map[string]any{}
			dst[key] = dstMap
		}
		deepMerge(dstMap, srcMap)
	}
}

// substituteEnvValues replaces ${VAR} in string values. Unset variables are
// left as written.
func substituteEnvValues(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, item := range t {
			t[k] = substituteEnvValues(item)
		}
		return t
	case []any:
		for i, item := range t {
			t[i] = substituteEnvValues(item)
		}
		return t
	case string:
		return envPattern.ReplaceAllStringFunc(t, func(match string) string {
			parts := envPattern.FindStringSubmatch(match)
			if len(parts) != 2 {
				return match
			}
			if value, ok := os.LookupEnv(parts[1]); ok {
				return value
			}
			return match
		})
	default:
		return v
	}
}
