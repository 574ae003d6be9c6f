package cliconfig

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/KafClaw/sysclaw/internal/compliance"
	"github.com/KafClaw/sysclaw/internal/config"
	"github.com/KafClaw/sysclaw/internal/notify"
	"github.com/KafClaw/sysclaw/internal/secrets"
	"github.com/KafClaw/sysclaw/internal/service"
	"github.com/KafClaw/sysclaw/internal/servicelog"
	"github.com/KafClaw/sysclaw/internal/store"
)

type DoctorStatus string

const (
	DoctorPass DoctorStatus = "pass"
	DoctorWarn DoctorStatus = "warn"
	DoctorFail DoctorStatus = "fail"
)

type DoctorCheck struct {
	Name    string
	Status  DoctorStatus
	Message string
}

type DoctorReport struct {
	Checks []DoctorCheck
}

type DoctorOptions struct {
	// Fix merges discovered env files into ~/.config/sysclaw/env.
	Fix bool
}

var (
	doctorEUID          = os.Geteuid
	doctorServiceStatus = service.QueryStatus
	doctorKafkaProbe    = notify.ProbeKafka
)

func (r DoctorReport) HasFailures() bool {
	for _, c := range r.Checks {
		if c.Status == DoctorFail {
			return true
		}
	}
	return false
}

func (r *DoctorReport) add(name string, status DoctorStatus, format string, args ...any) {
	r.Checks = append(r.Checks, DoctorCheck{Name: name, Status: status, Message: fmt.Sprintf(format, args...)})
}

func RunDoctor() (DoctorReport, error) {
	return RunDoctorWithOptions(DoctorOptions{})
}

func RunDoctorWithOptions(opts DoctorOptions) (DoctorReport, error) {
	report := DoctorReport{Checks: make([]DoctorCheck, 0, 12)}

	cfgPath, err := config.ConfigPath()
	if err != nil {
		report.add("config_path", DoctorFail, "cannot resolve config path: %v", err)
		return report, nil
	}
	if _, err := os.Stat(cfgPath); err != nil {
		if os.IsNotExist(err) {
			report.add("config_file", DoctorWarn, "config file not found at %s (defaults will be used)", cfgPath)
		} else {
			report.add("config_file", DoctorFail, "cannot access config file: %v", err)
		}
	} else {
		report.add("config_file", DoctorPass, "config file found at %s", cfgPath)
	}

	if opts.Fix {
		envPath, mergedKeys, fixErr := mergeDiscoveredEnvFiles()
		if fixErr != nil {
			report.add("env_merge", DoctorFail, "failed to merge env files: %v", fixErr)
		} else {
			report.add("env_merge", DoctorPass, "merged %d env key(s) into %s", mergedKeys, envPath)
		}
	}

	checkVault(&report, filepath.Dir(cfgPath))

	cfg, err := config.Load()
	if err != nil {
		report.add("config_load", DoctorFail, "config load failed: %v", err)
		return report, nil
	}
	report.add("config_load", DoctorPass, "config loaded successfully")

	if strings.TrimSpace(cfg.Model.APIKey) == "" {
		report.add("model_api_key", DoctorFail, "no model API key (set GEMINI_API_KEY or model.apiKey)")
	} else {
		report.add("model_api_key", DoctorPass, "model %s with API key configured", cfg.Model.Name)
	}

	checkProfile(&report, cfg)
	checkServiceLog(&report, cfg)
	checkStore(&report, cfg)
	checkNotify(&report, cfg)

	if cfg.Search.APIKey == "" || cfg.Search.EngineID == "" {
		report.add("web_search", DoctorWarn, "web_search is not configured (GOOGLE_API_KEY and PROGRAMMABLE_SEARCH_ENGINE_ID)")
	} else {
		report.add("web_search", DoctorPass, "web_search configured")
	}

	if doctorEUID() != 0 {
		report.add("privilege", DoctorWarn, "not running as root: security event facts will be reported as gaps")
	} else {
		report.add("privilege", DoctorPass, "running as root")
	}

	if st, err := doctorServiceStatus(""); err != nil {
		report.add("service_unit", DoctorWarn, "service status unavailable: %v", err)
	} else if !st.Installed {
		report.add("service_unit", DoctorWarn, "service is not installed (sysclaw service install)")
	} else {
		report.add("service_unit", DoctorPass, "service %s", st)
	}

	return report, nil
}

func checkProfile(report *DoctorReport, cfg *config.Config) {
	p, err := compliance.NewProfileStore(cfg.Tools.ProfilePath).Load()
	if err != nil {
		report.add("profile", DoctorFail, "profile %s: %v", cfg.Tools.ProfilePath, err)
		return
	}
	enabled := 0
	for _, pol := range p.Policies {
		if pol.Enabled {
			enabled++
		}
	}
	report.add("profile", DoctorPass, "profile %s: %d of %d policies enabled", cfg.Tools.ProfilePath, enabled, len(p.Policies))
	if !p.Security.AllowShellCommands {
		report.add("shell_commands", DoctorWarn, "shell commands are disabled by the profile")
	}
}

func checkServiceLog(report *DoctorReport, cfg *config.Config) {
	if _, err := os.Stat(cfg.Service.LogPath); os.IsNotExist(err) {
		report.add("service_log", DoctorWarn, "no service log yet at %s", cfg.Service.LogPath)
		return
	}
	n, err := servicelog.Verify(cfg.Service.LogPath)
	switch {
	case errors.Is(err, servicelog.ErrChainBroken):
		report.add("service_log", DoctorFail, "service log tampered or corrupted: %v", err)
	case err != nil:
		report.add("service_log", DoctorFail, "service log unreadable: %v", err)
	default:
		report.add("service_log", DoctorPass, "service log intact (%d records)", n)
	}
}

func checkStore(report *DoctorReport, cfg *config.Config) {
	if cfg.Service.DBPath == "" {
		report.add("store", DoctorWarn, "service.dbPath is empty: history and audit runs are not persisted")
		return
	}
	st, err := store.Open(cfg.Service.DBPath)
	if err != nil {
		report.add("store", DoctorFail, "open %s: %v", cfg.Service.DBPath, err)
		return
	}
	defer st.Close()
	report.add("store", DoctorPass, "database ready at %s", cfg.Service.DBPath)
}

func checkVault(report *DoctorReport, dir string) {
	v := secrets.Open(dir)
	if !v.Exists() {
		return
	}
	keys, err := v.Keys()
	if err != nil {
		report.add("credentials_vault", DoctorFail, "cannot open %s: %v", v.Path(), err)
		return
	}
	report.add("credentials_vault", DoctorPass, "%d credential(s) in vault (key backend %s)", len(keys), secrets.KeyBackend())
}

func checkNotify(report *DoctorReport, cfg *config.Config) {
	k := cfg.Notify.Kafka
	if k.Enabled {
		sec := KafkaSecurity(k)
		if len(k.Brokers) == 0 || k.Topic == "" {
			report.add("notify_kafka", DoctorFail, "kafka sink enabled without brokers or topic")
		} else if _, err := sec.Transport(notify.DefaultTimeout); err != nil {
			report.add("notify_kafka", DoctorFail, "kafka security settings invalid: %v", err)
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), notify.DefaultTimeout)
			err := doctorKafkaProbe(ctx, k.Brokers, sec)
			cancel()
			if err != nil {
				report.add("notify_kafka", DoctorWarn, "kafka brokers unreachable: %v", err)
			} else {
				report.add("notify_kafka", DoctorPass, "kafka sink -> %s on %s", k.Topic, strings.Join(k.Brokers, ","))
			}
		}
	}
	s := cfg.Notify.Slack
	if s.Enabled {
		if s.Token == "" || s.Channel == "" {
			report.add("notify_slack", DoctorFail, "slack sink enabled without token or channel")
		} else {
			report.add("notify_slack", DoctorPass, "slack sink -> %s", s.Channel)
		}
	}
}

func mergeDiscoveredEnvFiles() (string, int, error) {
	home, err := os.UserHomeDir()
	if h := strings.TrimSpace(os.Getenv("SYSCLAW_HOME")); h != "" {
		home, err = h, nil
	}
	if err != nil {
		return "", 0, err
	}
	targetPath := filepath.Join(home, ".config", "sysclaw", "env")
	if err := os.MkdirAll(filepath.Dir(targetPath), 0o700); err != nil {
		return "", 0, err
	}

	cwd, _ := os.Getwd()
	sources := []string{
		filepath.Join(cwd, ".env"),
		filepath.Join(home, ".sysclaw", ".env"),
		filepath.Join(home, ".sysclaw", "env"),
		targetPath,
	}

	merged := map[string]string{}
	seen := map[string]struct{}{}
	for _, src := range sources {
		if _, ok := seen[src]; ok {
			continue
		}
		seen[src] = struct{}{}
		kv, err := readEnvFileKV(src)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return "", 0, fmt.Errorf("read %s: %w", src, err)
		}
		for k, v := range kv {
			merged[k] = v
		}
	}

	if err := writeEnvFileKV(targetPath, merged); err != nil {
		return "", 0, err
	}
	return targetPath, len(merged), nil
}

func readEnvFileKV(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	kv := map[string]string{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		k, v, ok := strings.Cut(line, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			continue
		}
		kv[k] = trimEnvQuotes(strings.TrimSpace(v))
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return kv, nil
}

func writeEnvFileKV(path string, kv map[string]string) error {
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys)+2)
	lines = append(lines, "# sysclaw runtime env (managed by doctor --fix)")
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s=%s", k, kv[k]))
	}
	lines = append(lines, "")
	return os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o600)
}

func trimEnvQuotes(v string) string {
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}

// KafkaSecurity maps the sink's config onto the notify security options.
func KafkaSecurity(k config.KafkaNotifyConfig) notify.KafkaSecurity {
	return notify.KafkaSecurity{
		Protocol:  k.SecurityProtocol,
		Mechanism: k.SASLMechanism,
		Username:  k.Username,
		Password:  k.Password,
		CAFile:    k.CAFile,
		CertFile:  k.CertFile,
		KeyFile:   k.KeyFile,
	}
}
