// Package config provides configuration types and loading for sysclaw.
package config

import (
	"path/filepath"
	"time"

	"github.com/KafClaw/sysclaw/internal/policy"
	"github.com/KafClaw/sysclaw/internal/provider"
)

// Config is the root configuration struct.
// Top-level groups: Model, Tools, Approval, Scheduler, Service, Search,
// Notify, Logging.
type Config struct {
	Model     ModelConfig     `json:"model"`
	Tools     ToolsConfig     `json:"tools"`
	Approval  ApprovalConfig  `json:"approval"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Service   ServiceConfig   `json:"service"`
	Search    SearchConfig    `json:"search"`
	Notify    NotifyConfig    `json:"notify"`
	Logging   LoggingConfig   `json:"logging"`
}

// ---------------------------------------------------------------------------
// Model – intent resolver backend
// ---------------------------------------------------------------------------

// ModelConfig groups the resolver backend and agent-loop settings.
type ModelConfig struct {
	Name                  string  `json:"name" envconfig:"NAME"`
	APIKey                string  `json:"apiKey,omitempty" envconfig:"API_KEY"`
	MaxIterations         int     `json:"maxIterations" envconfig:"MAX_ITERATIONS"`
	Temperature           float64 `json:"temperature" envconfig:"TEMPERATURE"`
	RequestTimeoutSeconds int     `json:"requestTimeoutSeconds" envconfig:"REQUEST_TIMEOUT_SECONDS"`
	MaxRetries            int     `json:"maxRetries" envconfig:"MAX_RETRIES"`
	RequestsPerSecond     float64 `json:"requestsPerSecond" envconfig:"REQUESTS_PER_SECOND"`
	// RedactSecrets masks credentials in tool output before it reaches the model.
	RedactSecrets bool `json:"redactSecrets" envconfig:"REDACT_SECRETS"`
}

// RequestTimeout returns the per-request deadline.
func (m ModelConfig) RequestTimeout() time.Duration {
	return time.Duration(m.RequestTimeoutSeconds) * time.Second
}

// ---------------------------------------------------------------------------
// Tools – execution
// ---------------------------------------------------------------------------

// ToolsConfig configures tool execution.
type ToolsConfig struct {
	ExecTimeoutSeconds int    `json:"execTimeoutSeconds" envconfig:"EXEC_TIMEOUT_SECONDS"`
	WorkDir            string `json:"workDir" envconfig:"WORK_DIR"`
	// ProfilePath is the compliance profile holding policies and blacklists.
	ProfilePath string `json:"profilePath" envconfig:"PROFILE_PATH"`
}

// ExecTimeout returns the shell command timeout.
func (t ToolsConfig) ExecTimeout() time.Duration {
	return time.Duration(t.ExecTimeoutSeconds) * time.Second
}

// ---------------------------------------------------------------------------
// Approval – trust policy
// ---------------------------------------------------------------------------

// ApprovalConfig configures the approval gate.
type ApprovalConfig struct {
	// UnattendedAllow lists the tools that run with no human present.
	UnattendedAllow []string `json:"unattendedAllow" envconfig:"UNATTENDED_ALLOW"`
	// InteractiveAutoTier is the highest tool tier approved without asking.
	// -1 asks for every call.
	InteractiveAutoTier int `json:"interactiveAutoTier" envconfig:"INTERACTIVE_AUTO_TIER"`
}

// ---------------------------------------------------------------------------
// Scheduler – unattended policy checks
// ---------------------------------------------------------------------------

// SchedulerConfig configures service-mode ticks.
type SchedulerConfig struct {
	IntervalSeconds int    `json:"intervalSeconds" envconfig:"INTERVAL_SECONDS"`
	LockPath        string `json:"lockPath" envconfig:"LOCK_PATH"`
	Goal            string `json:"goal,omitempty" envconfig:"GOAL"`
	// AuditEvery runs a full audit every Nth tick. 0 disables it.
	AuditEvery int  `json:"auditEvery" envconfig:"AUDIT_EVERY"`
	RunOnStart bool `json:"runOnStart" envconfig:"RUN_ON_START"`
}

// Interval returns the tick period.
func (s SchedulerConfig) Interval() time.Duration {
	return time.Duration(s.IntervalSeconds) * time.Second
}

// ---------------------------------------------------------------------------
// Service – persisted state and the service unit
// ---------------------------------------------------------------------------

// ServiceConfig groups service-mode files and the status endpoint.
type ServiceConfig struct {
	LogPath     string `json:"logPath" envconfig:"LOG_PATH"`
	DBPath      string `json:"dbPath" envconfig:"DB_PATH"`
	ReportPath  string `json:"reportPath" envconfig:"REPORT_PATH"`
	MetricsAddr string `json:"metricsAddr" envconfig:"METRICS_ADDR"`
	User        string `json:"user,omitempty" envconfig:"USER"`
	EnvPath     string `json:"envPath,omitempty" envconfig:"ENV_PATH"`
}

// ---------------------------------------------------------------------------
// Search – web_search tool
// ---------------------------------------------------------------------------

// SearchConfig holds Programmable Search Engine credentials.
type SearchConfig struct {
	APIKey   string `json:"apiKey,omitempty" envconfig:"API_KEY"`
	EngineID string `json:"engineId,omitempty" envconfig:"ENGINE_ID"`
	Endpoint string `json:"endpoint,omitempty" envconfig:"ENDPOINT"`
}

// ---------------------------------------------------------------------------
// Notify – service log sinks
// ---------------------------------------------------------------------------

// NotifyConfig configures where notable service log records are sent.
type NotifyConfig struct {
	Kafka KafkaNotifyConfig `json:"kafka"`
	Slack SlackNotifyConfig `json:"slack"`
	// Outcomes selects the records forwarded. Empty means violations and errors.
	Outcomes []string `json:"outcomes,omitempty" envconfig:"OUTCOMES"`
}

// KafkaNotifyConfig configures the Kafka sink.
type KafkaNotifyConfig struct {
	Enabled bool     `json:"enabled" envconfig:"ENABLED"`
	Brokers []string `json:"brokers" envconfig:"BROKERS"`
	Topic   string   `json:"topic" envconfig:"TOPIC"`
	// SecurityProtocol is PLAINTEXT, SSL, SASL_PLAINTEXT or SASL_SSL.
	SecurityProtocol string `json:"securityProtocol,omitempty" envconfig:"SECURITY_PROTOCOL"`
	SASLMechanism    string `json:"saslMechanism,omitempty" envconfig:"SASL_MECHANISM"`
	Username         string `json:"username,omitempty" envconfig:"USERNAME"`
	Password         string `json:"password,omitempty" envconfig:"PASSWORD"`
	CAFile           string `json:"caFile,omitempty" envconfig:"CA_FILE"`
	CertFile         string `json:"certFile,omitempty" envconfig:"CERT_FILE"`
	KeyFile          string `json:"keyFile,omitempty" envconfig:"KEY_FILE"`
}

// SlackNotifyConfig configures the Slack sink.
type SlackNotifyConfig struct {
	Enabled bool   `json:"enabled" envconfig:"ENABLED"`
	Token   string `json:"token,omitempty" envconfig:"TOKEN"`
	Channel string `json:"channel" envconfig:"CHANNEL"`
	APIBase string `json:"apiBase,omitempty" envconfig:"API_BASE"`
}

// ---------------------------------------------------------------------------
// Logging
// ---------------------------------------------------------------------------

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level      string `json:"level" envconfig:"LEVEL"`
	Format     string `json:"format" envconfig:"FORMAT"` // "text" or "json"
	File       string `json:"file,omitempty" envconfig:"FILE"`
	MaxSizeMB  int    `json:"maxSizeMB" envconfig:"MAX_SIZE_MB"`
	MaxBackups int    `json:"maxBackups" envconfig:"MAX_BACKUPS"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	home, err := resolveHomeDir()
	if err != nil {
		home = "."
	}
	dir := filepath.Join(home, ConfigDir)
	return &Config{
		Model: ModelConfig{
			Name:                  provider.DefaultModel,
			MaxIterations:         10,
			Temperature:           0.2,
			RequestTimeoutSeconds: 60,
			MaxRetries:            3,
			RequestsPerSecond:     1,
			RedactSecrets:         true,
		},
		Tools: ToolsConfig{
			ExecTimeoutSeconds: 30,
			ProfilePath:        filepath.Join(dir, "profile.yaml"),
		},
		Approval: ApprovalConfig{
			UnattendedAllow:     append([]string(nil), policy.DefaultUnattendedAllowList...),
			InteractiveAutoTier: -1,
		},
		Scheduler: SchedulerConfig{
			IntervalSeconds: 300,
			LockPath:        filepath.Join(dir, "scheduler.lock"),
			RunOnStart:      true,
		},
		Service: ServiceConfig{
			LogPath:     filepath.Join(dir, "service.log"),
			DBPath:      filepath.Join(dir, "sysclaw.db"),
			ReportPath:  "security_audit_report.md",
			MetricsAddr: "127.0.0.1:9464",
		},
		Notify: NotifyConfig{
			Kafka: KafkaNotifyConfig{Topic: "sysclaw.service-log"},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  10,
			MaxBackups: 5,
		},
	}
}
