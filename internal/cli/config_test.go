package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestVersionCommand(t *testing.T) {
	out, err := runRootCommand(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if out != "sysclaw "+version {
		t.Fatalf("unexpected version output %q", out)
	}
}

func TestConfigSetGetUnsetCommands(t *testing.T) {
	home := isolate(t)
	cfgDir := filepath.Join(home, ".sysclaw")
	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(cfgDir, "config.json"), []byte(`{"scheduler":{"intervalSeconds":60}}`), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	if _, err := runRootCommand(t, "config", "set", "scheduler.intervalSeconds", "900"); err != nil {
		t.Fatalf("config set failed: %v", err)
	}
	out, err := runRootCommand(t, "config", "get", "scheduler.intervalSeconds")
	if err != nil {
		t.Fatalf("config get failed: %v", err)
	}
	if out != "900" {
		t.Fatalf("expected 900, got %q", out)
	}

	if _, err := runRootCommand(t, "config", "set", "notify.kafka.brokers", `["k1:9092","k2:9092"]`); err != nil {
		t.Fatalf("config set array failed: %v", err)
	}
	out, err = runRootCommand(t, "config", "get", "notify.kafka.brokers[1]")
	if err != nil {
		t.Fatalf("config get bracket path failed: %v", err)
	}
	if out != "k2:9092" {
		t.Fatalf("expected k2:9092, got %q", out)
	}

	if _, err := runRootCommand(t, "config", "unset", "scheduler.intervalSeconds"); err != nil {
		t.Fatalf("config unset failed: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(cfgDir, "config.json"))
	if err != nil {
		t.Fatalf("read config after unset: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal config after unset: %v", err)
	}
	if sched, ok := m["scheduler"].(map[string]any); ok {
		if _, exists := sched["intervalSeconds"]; exists {
			t.Fatalf("expected intervalSeconds removed, got %v", sched)
		}
	}
}

func TestConfigSetRejectsUnknownKey(t *testing.T) {
	isolate(t)
	if _, err := runRootCommand(t, "config", "set", "gateway.port", "18790"); err == nil {
		t.Fatal("expected unknown key to be rejected")
	}
}

func TestConfigGetMasksSecretsUnlessAsked(t *testing.T) {
	isolate(t)
	if _, err := runRootCommand(t, "config", "set", "model.apiKey", "secret-value"); err != nil {
		t.Fatalf("config set: %v", err)
	}
	out, err := runRootCommand(t, "config", "get", "model")
	if err != nil {
		t.Fatalf("config get: %v", err)
	}
	if strings.Contains(out, "secret-value") {
		t.Fatalf("secret leaked: %q", out)
	}
	out, err = runRootCommand(t, "config", "get", "--show-secrets", "model.apiKey")
	if err != nil {
		t.Fatalf("config get --show-secrets: %v", err)
	}
	if out != "secret-value" {
		t.Fatalf("expected secret, got %q", out)
	}
}

func TestDoctorCommandFailsWithoutAPIKey(t *testing.T) {
	home := isolate(t)
	t.Chdir(home)

	out, err := runRootCommand(t, "doctor")
	if err == nil {
		t.Fatal("expected doctor failure without a model API key")
	}
	if !strings.Contains(out, "[WARN] config_file:") {
		t.Fatalf("expected config_file warning in output, got %q", out)
	}
	if !strings.Contains(out, "[FAIL] model_api_key:") {
		t.Fatalf("expected model_api_key failure in output, got %q", out)
	}
}

func TestDoctorCommandFailsOnInvalidConfig(t *testing.T) {
	home := isolate(t)
	t.Chdir(home)
	cfgDir := filepath.Join(home, ".sysclaw")
	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(cfgDir, "config.json"), []byte(`{"model":`), 0o600); err != nil {
		t.Fatalf("write invalid config: %v", err)
	}

	out, err := runRootCommand(t, "doctor")
	if err == nil {
		t.Fatal("expected doctor command failure for invalid config")
	}
	if !strings.Contains(out, "[FAIL] config_load:") {
		t.Fatalf("expected config_load failure in output, got %q", out)
	}
}
