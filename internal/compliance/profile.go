// Package compliance holds the user's security profile and evaluates the
// host against the policies declared in it.
package compliance

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Policy is one named compliance rule.
type Policy struct {
	Name        string   `yaml:"name" json:"name"`
	Enabled     bool     `yaml:"enabled" json:"enabled"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Allow       []string `yaml:"allow,omitempty" json:"allow,omitempty"`
	Match       []string `yaml:"match,omitempty" json:"match,omitempty"`
}

// Security holds the blacklists and switches enforced before execution.
type Security struct {
	CommandBlacklist    []string `yaml:"command_blacklist" json:"command_blacklist"`
	FileAccessBlacklist []string `yaml:"file_access_blacklist" json:"file_access_blacklist"`
	AllowShellCommands  bool     `yaml:"allow_shell_commands" json:"allow_shell_commands"`
	AllowToolUsage      bool     `yaml:"allow_tool_usage" json:"allow_tool_usage"`
}

// Profile is the persisted user profile.
type Profile struct {
	Name        string            `yaml:"name" json:"name"`
	Preferences map[string]string `yaml:"preferences,omitempty" json:"preferences,omitempty"`
	Policies    []Policy          `yaml:"policies" json:"policies"`
	Security    Security          `yaml:"security" json:"security"`
}

// DefaultProfile returns the profile written on first use.
func DefaultProfile() Profile {
	return Profile{
		Name:        "User",
		Preferences: map[string]string{"default_tool": "shell"},
		Policies: []Policy{
			{
				Name:        PolicyNoRootProcesses,
				Enabled:     false,
				Description: "Ensures no processes are running with root or SYSTEM privileges.",
			},
		},
		Security: Security{
			CommandBlacklist:    []string{"rm", "del", "format", "mkfs", "shutdown", "reboot"},
			FileAccessBlacklist: []string{"/etc/shadow", "/etc/passwd", `C:\Windows\System32\config`},
			AllowShellCommands:  true,
			AllowToolUsage:      true,
		},
	}
}

// ProfileStore reads and writes the profile file. The file is created with
// defaults the first time it is loaded.
type ProfileStore struct {
	mu   sync.Mutex
	path string
}

// NewProfileStore returns a store backed by path.
func NewProfileStore(path string) *ProfileStore {
	return &ProfileStore{path: path}
}

// Path returns the profile file location.
func (s *ProfileStore) Path() string { return s.path }

// Load returns the current profile.
func (s *ProfileStore) Load() (Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *ProfileStore) loadLocked() (Profile, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		p := DefaultProfile()
		if err := s.saveLocked(p); err != nil {
			return p, err
		}
		return p, nil
	}
	if err != nil {
		return Profile{}, fmt.Errorf("read profile: %w", err)
	}
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("parse profile %s: %w", s.path, err)
	}
	return p, nil
}

// Save replaces the profile file.
func (s *ProfileStore) Save(p Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(p)
}

func (s *ProfileStore) saveLocked(p Profile) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write profile: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// Get returns the value at a dotted key such as "security.allow_shell_commands".
func (s *ProfileStore) Get(key string) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tree, err := s.treeLocked()
	if err != nil {
		return nil, err
	}
	var cur any = tree
	for _, part := range splitKey(key) {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("key %q not found", key)
		}
		if cur, ok = m[part]; !ok {
			return nil, fmt.Errorf("key %q not found", key)
		}
	}
	return cur, nil
}

// Set stores value at a dotted key. The value is parsed as YAML so that
// "true", "42" and "[a, b]" keep their types. The resulting document must
// still decode as a Profile.
func (s *ProfileStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	parts := splitKey(key)
	if len(parts) == 0 {
		return errors.New("key is required")
	}
	tree, err := s.treeLocked()
	if err != nil {
		return err
	}

	var parsed any
	if err := yaml.Unmarshal([]byte(value), &parsed); err != nil {
		parsed = value
	}

	node := tree
	for _, part := range parts[:len(parts)-1] {
		child, ok := node[part].(map[string]any)
		if !ok {
			child = map[string]any{}
			node[part] = child
		}
		node = child
	}
	node[parts[len(parts)-1]] = parsed

	data, err := yaml.Marshal(tree)
	if err != nil {
		return err
	}
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return s.saveLocked(p)
}

func (s *ProfileStore) treeLocked() (map[string]any, error) {
	p, err := s.loadLocked()
	if err != nil {
		return nil, err
	}
	data, err := yaml.Marshal(p)
	if err != nil {
		return nil, err
	}
	tree := map[string]any{}
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, err
	}
	return tree, nil
}

func splitKey(key string) []string {
	var parts []string
	for _, p := range strings.Split(strings.TrimSpace(key), ".") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}
