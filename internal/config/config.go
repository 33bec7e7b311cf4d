// Package config loads warden's runtime settings: defaults, an optional
// YAML file, WARDEN_* environment variables and bound command-line flags,
// in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/alert"
	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/logging"
	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/model"
)

// EnvPrefix is prepended to every environment override, e.g.
// WARDEN_APPROVAL_TIMEOUT=30s.
const EnvPrefix = "WARDEN"

// What a run does after a human rejects or times out an approval.
const (
	OnDeniedAbort  = "abort"
	OnDeniedReplan = "replan"
)

// Config is the resolved runtime configuration.
type Config struct {
	Policy   PolicyConfig
	Approval ApprovalConfig
	Agent    AgentConfig
	Audit    AuditConfig
	Server   ServerConfig
	Log      LogConfig
	Tracing  TracingConfig
	Alerts   []alert.AlertConfig

	// File is the config file that was read, empty when none was found.
	File string
}

type PolicyConfig struct {
	File        string
	FullAccess  bool
	AutoApprove bool
	SafeDirs    []string
}

type ApprovalConfig struct {
	Timeout      time.Duration
	HistoryLimit int
	OnDenied     string
	HistoryDB    string
}

type AgentConfig struct {
	MaxTurns    int
	StepCeiling int
}

type AuditConfig struct {
	Path string
}

type ServerConfig struct {
	Listen string
}

type LogConfig struct {
	Level  string
	Format string
	File   string
}

type TracingConfig struct {
	Enabled bool
	Output  string
}

// PolicyContext returns the permission posture for one run.
func (c *Config) PolicyContext() model.PolicyContext {
	return model.PolicyContext{
		FullAccess:  c.Policy.FullAccess,
		AutoApprove: c.Policy.AutoApprove,
		SafeDirs:    append([]string(nil), c.Policy.SafeDirs...),
	}
}

// Dir returns ~/.warden, the home of every default path.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".warden"
	}
	return filepath.Join(home, ".warden")
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

// SetDefaults registers every key with its default on v.
func SetDefaults(v *viper.Viper) {
	dir := Dir()
	v.SetDefault("policy.file", filepath.Join(dir, "policy.yaml"))
	v.SetDefault("policy.full_access", false)
	v.SetDefault("policy.auto_approve", false)
	v.SetDefault("policy.safe_dirs", []string{})

	v.SetDefault("approval.timeout", 5*time.Minute)
	v.SetDefault("approval.history_limit", 1000)
	v.SetDefault("approval.on_denied", OnDeniedAbort)
	v.SetDefault("approval.history_db", "")

	v.SetDefault("agent.max_turns", 10)
	v.SetDefault("agent.step_ceiling", 256)

	v.SetDefault("audit.path", filepath.Join(dir, "audit.jsonl"))

	v.SetDefault("server.listen", "127.0.0.1:7443")

	v.SetDefault("log.level", logging.LevelInfo)
	v.SetDefault("log.format", logging.FormatText)
	v.SetDefault("log.file", "")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.output", "")
}

// Load resolves the configuration. path is the config file; empty means
// DefaultPath, which may be absent. An explicit path that does not exist is
// an error. flags, when non-nil, are bound through FlagKeys.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = DefaultPath()
	}
	file := ""
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		file = path
	} else if explicit {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	if flags != nil {
		for name, key := range FlagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	cfg := FromViper(v)
	cfg.File = file
	if err := v.UnmarshalKey("alerts", &cfg.Alerts); err != nil {
		return nil, fmt.Errorf("parse alerts: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FlagKeys maps command-line flag names to config keys.
var FlagKeys = map[string]string{
	"policy":       "policy.file",
	"full-access":  "policy.full_access",
	"auto-approve": "policy.auto_approve",
	"safe-dir":     "policy.safe_dirs",
	"timeout":      "approval.timeout",
	"on-denied":    "approval.on_denied",
	"history-db":   "approval.history_db",
	"max-turns":    "agent.max_turns",
	"step-ceiling": "agent.step_ceiling",
	"audit-log":    "audit.path",
	"listen":       "server.listen",
	"log-level":    "log.level",
	"log-format":   "log.format",
	"log-file":     "log.file",
	"trace":        "tracing.enabled",
	"trace-output": "tracing.output",
}

// FromViper reads every key from v. Paths have a leading "~" expanded.
func FromViper(v *viper.Viper) *Config {
	return &Config{
		Policy: PolicyConfig{
			File:        expandHome(v.GetString("policy.file")),
			FullAccess:  v.GetBool("policy.full_access"),
			AutoApprove: v.GetBool("policy.auto_approve"),
			SafeDirs:    nonEmpty(v.GetStringSlice("policy.safe_dirs")),
		},
		Approval: ApprovalConfig{
			Timeout:      v.GetDuration("approval.timeout"),
			HistoryLimit: v.GetInt("approval.history_limit"),
			OnDenied:     strings.ToLower(strings.TrimSpace(v.GetString("approval.on_denied"))),
			HistoryDB:    expandHome(v.GetString("approval.history_db")),
		},
		Agent: AgentConfig{
			MaxTurns:    v.GetInt("agent.max_turns"),
			StepCeiling: v.GetInt("agent.step_ceiling"),
		},
		Audit: AuditConfig{
			Path: expandHome(v.GetString("audit.path")),
		},
		Server: ServerConfig{
			Listen: strings.TrimSpace(v.GetString("server.listen")),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: strings.ToLower(strings.TrimSpace(v.GetString("log.format"))),
			File:   expandHome(v.GetString("log.file")),
		},
		Tracing: TracingConfig{
			Enabled: v.GetBool("tracing.enabled"),
			Output:  expandHome(v.GetString("tracing.output")),
		},
	}
}

// Validate rejects settings the rest of warden cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Approval.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("approval.timeout must be positive, got %s", c.Approval.Timeout))
	}
	if c.Approval.HistoryLimit <= 0 {
		errs = append(errs, fmt.Errorf("approval.history_limit must be positive, got %d", c.Approval.HistoryLimit))
	}
	switch c.Approval.OnDenied {
	case OnDeniedAbort, OnDeniedReplan:
	default:
		errs = append(errs, fmt.Errorf("approval.on_denied must be %q or %q, got %q", OnDeniedAbort, OnDeniedReplan, c.Approval.OnDenied))
	}
	if c.Agent.MaxTurns < 1 {
		errs = append(errs, fmt.Errorf("agent.max_turns must be at least 1, got %d", c.Agent.MaxTurns))
	}
	if c.Agent.StepCeiling < 1 {
		errs = append(errs, fmt.Errorf("agent.step_ceiling must be at least 1, got %d", c.Agent.StepCeiling))
	}
	if !logging.ValidLevel(c.Log.Level) {
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	switch c.Log.Format {
	case logging.FormatText, logging.FormatJSON:
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	for i, a := range c.Alerts {
		if err := a.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("alerts[%d]: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

func expandHome(p string) string {
	p = strings.TrimSpace(p)
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[1:])
		}
	}
	return p
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
