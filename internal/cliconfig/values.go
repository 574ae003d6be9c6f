// Package cliconfig reads and edits the config file by dotted path and
// diagnoses the local installation.
package cliconfig

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/KafClaw/sysclaw/internal/config"
)

type pathToken struct {
	key   string
	index *int
}

// secretKeys are masked by Get unless the caller asks for them.
var secretKeys = map[string]bool{"apiKey": true, "token": true, "password": true}

// Get returns the effective config value at a path (dot + bracket notation).
// Credentials are masked unless showSecrets is set.
func Get(path string, showSecrets bool) (any, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	m, err := toMap(cfg)
	if err != nil {
		return nil, err
	}
	if !showSecrets {
		maskSecrets(m)
	}
	tokens, err := parsePath(path)
	if err != nil {
		return nil, err
	}
	val, ok := getAtPath(m, tokens)
	if !ok {
		return nil, fmt.Errorf("path not found: %s", path)
	}
	return val, nil
}

// Set writes a value at path into the root config file.
// Value can be JSON or plain string. The result must still decode into
// config.Config.
func Set(path, rawValue string) error {
	cfgMap, cfgPath, err := loadFileConfigMap()
	if err != nil {
		return err
	}
	tokens, err := parsePath(path)
	if err != nil {
		return err
	}
	root, err := setAtPath(cfgMap, tokens, parseValue(rawValue))
	if err != nil {
		return err
	}
	rootMap, ok := root.(map[string]any)
	if !ok {
		return fmt.Errorf("invalid config root after set")
	}
	if err := validate(rootMap); err != nil {
		return fmt.Errorf("invalid value for %s: %w", path, err)
	}
	return saveFileConfigMap(cfgPath, rootMap)
}

// Unset removes a value at path from the root config file.
func Unset(path string) error {
	cfgMap, cfgPath, err := loadFileConfigMap()
	if err != nil {
		return err
	}
	tokens, err := parsePath(path)
	if err != nil {
		return err
	}
	root, ok, err := unsetAtPath(cfgMap, tokens)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("path not found: %s", path)
	}
	rootMap, rootOK := root.(map[string]any)
	if !rootOK {
		return fmt.Errorf("invalid config root after unset")
	}
	return saveFileConfigMap(cfgPath, rootMap)
}

func toMap(cfg *config.Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// validate decodes m strictly so a wrong type or unknown key is caught
// before the file is written.
func validate(m map[string]any) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var cfg config.Config
	return dec.Decode(&cfg)
}

func maskSecrets(node any) {
	switch t := node.(type) {
	case map[string]any:
		for k, v := range t {
			if s, ok := v.(string); ok && secretKeys[k] && s != "" {
				t[k] = "********"
				continue
			}
			maskSecrets(v)
		}
	case []any:
		for _, v := range t {
			maskSecrets(v)
		}
	}
}

func loadFileConfigMap() (map[string]any, string, error) {
	cfgPath, err := config.ConfigPath()
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, cfgPath, nil
		}
		return nil, "", err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, "", err
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, cfgPath, nil
}

func saveFileConfigMap(cfgPath string, m map[string]any) error {
	if err := os.MkdirAll(filepath.Dir(cfgPath), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(cfgPath, data, 0o600)
}

// parsePath splits "a.b[2].c" into segments. Keys are strings, indexes ints.
func parsePath(path string) ([]pathToken, error) {
	s := strings.TrimSpace(path)
	var out []pathToken
	for _, part := range strings.Split(s, ".") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, rest, _ := strings.Cut(part, "[")
		if key = strings.TrimSpace(key); key != "" {
			out = append(out, pathToken{key: key})
		}
		for rest != "" {
			raw, tail, ok := strings.Cut(rest, "]")
			if !ok {
				return nil, fmt.Errorf("invalid path: missing closing ] in %q", path)
			}
			idx, err := strconv.Atoi(strings.TrimSpace(raw))
			if err != nil || idx < 0 {
				return nil, fmt.Errorf("invalid array index %q in %q", raw, path)
			}
			out = append(out, pathToken{index: &idx})
			rest = strings.TrimPrefix(tail, "[")
			if tail != "" && !strings.HasPrefix(tail, "[") {
				return nil, fmt.Errorf("invalid path: unexpected %q in %q", tail, path)
			}
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("path is empty")
	}
	return out, nil
}

func parseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}

// child returns the element tok addresses inside node.
func (tok pathToken) child(node any) (any, bool) {
	if tok.index != nil {
		arr, ok := node.([]any)
		if !ok || *tok.index >= len(arr) {
			return nil, false
		}
		return arr[*tok.index], true
	}
	obj, ok := node.(map[string]any)
	if !ok {
		return nil, false
	}
	v, ok := obj[tok.key]
	return v, ok
}

func getAtPath(root map[string]any, path []pathToken) (any, bool) {
	var cur any = root
	for _, tok := range path {
		next, ok := tok.child(cur)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// setAtPath creates intermediate objects and pads arrays with nulls.
func setAtPath(node any, path []pathToken, value any) (any, error) {
	if len(path) == 0 {
		return value, nil
	}
	tok := path[0]
	cur, _ := tok.child(node)
	v, err := setAtPath(cur, path[1:], value)
	if err != nil {
		return nil, err
	}
	if tok.index != nil {
		arr, _ := node.([]any)
		for len(arr) <= *tok.index {
			arr = append(arr, nil)
		}
		arr[*tok.index] = v
		return arr, nil
	}
	obj, ok := node.(map[string]any)
	if !ok {
		obj = map[string]any{}
	}
	obj[tok.key] = v
	return obj, nil
}

// unsetAtPath reports false when nothing at path existed.
func unsetAtPath(node any, path []pathToken) (any, bool, error) {
	if len(path) == 0 {
		return node, false, fmt.Errorf("path is empty")
	}
	tok := path[0]
	cur, ok := tok.child(node)
	if !ok {
		return node, false, nil
	}
	if len(path) > 1 {
		v, changed, err := unsetAtPath(cur, path[1:])
		if err != nil || !changed {
			return node, false, err
		}
		if tok.index != nil {
			node.([]any)[*tok.index] = v
		} else {
			node.(map[string]any)[tok.key] = v
		}
		return node, true, nil
	}
	if tok.index != nil {
		arr := node.([]any)
		return append(arr[:*tok.index], arr[*tok.index+1:]...), true, nil
	}
	delete(node.(map[string]any), tok.key)
	return node, true, nil
}
