package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/denylist"
)

// Config holds the match lists the engine classifies against.
//
// The critical lists (sensitive_paths, destructive_commands, critical_processes)
// and high_risk_commands are floors: entries loaded from YAML are added to the
// built-in ones, never substituted for them. read_only_commands and
// internal_host_suffixes replace the defaults when set, since shrinking them
// only makes the engine stricter.
type Config struct {
	SensitivePaths       []string `yaml:"sensitive_paths"`
	DestructiveCommands  []string `yaml:"destructive_commands"`
	CriticalProcesses    []string `yaml:"critical_processes"`
	HighRiskCommands     []string `yaml:"high_risk_commands"`
	ReadOnlyCommands     []string `yaml:"read_only_commands"`
	InternalHostSuffixes []string `yaml:"internal_host_suffixes"`
}

// DefaultHighRiskCommands are fragments that mark privilege escalation,
// process or service termination, and registry or permission mutation.
var DefaultHighRiskCommands = []string{
	"sudo ",
	"su root",
	"su -",
	"doas ",
	"runas ",
	"kill ",
	"killall ",
	"pkill ",
	"taskkill",
	"stop-process",
	"systemctl stop",
	"systemctl disable",
	"systemctl restart",
	"service ",
	"sc stop",
	"sc delete",
	"stop-service",
	"launchctl unload",
	"reg add",
	"reg delete",
	"set-itemproperty",
	"new-itemproperty",
	"remove-itemproperty",
	"chmod ",
	"chown ",
	"chgrp ",
	"icacls",
	"takeown",
	"setfacl",
	"shutdown",
	"reboot",
	"poweroff",
	"halt",
	"rm -rf",
	"rm -r ",
	"rm -fr",
	" -delete",
	"-exec rm",
	"git push --force",
	"crontab ",
}

// DefaultReadOnlyCommands are commands that list, print or query without
// mutating anything. Matched as a whole command or a leading token.
var DefaultReadOnlyCommands = []string{
	"ls",
	"dir",
	"pwd",
	"cat",
	"head",
	"tail",
	"less",
	"more",
	"echo",
	"printf",
	"whoami",
	"hostname",
	"date",
	"uname",
	"uptime",
	"env",
	"printenv",
	"which",
	"where",
	"type",
	"find",
	"grep",
	"rg",
	"wc",
	"sort",
	"uniq",
	"diff",
	"stat",
	"file",
	"du",
	"df",
	"ps",
	"tree",
	"git status",
	"git log",
	"git diff",
	"git show",
	"git branch",
	"go version",
	"node --version",
	"python --version",
	"get-childitem",
	"get-content",
	"get-process",
	"get-location",
}

// DefaultInternalHostSuffixes mark hostnames treated as private networks.
var DefaultInternalHostSuffixes = []string{".local", ".internal", ".lan"}

// DefaultConfig returns the built-in lists.
func DefaultConfig() *Config {
	return &Config{
		SensitivePaths:       append([]string(nil), denylist.DefaultPatterns.Files...),
		DestructiveCommands:  append([]string(nil), denylist.DefaultPatterns.Commands...),
		CriticalProcesses:    append([]string(nil), denylist.DefaultPatterns.Processes...),
		HighRiskCommands:     append([]string(nil), DefaultHighRiskCommands...),
		ReadOnlyCommands:     append([]string(nil), DefaultReadOnlyCommands...),
		InternalHostSuffixes: append([]string(nil), DefaultInternalHostSuffixes...),
	}
}

// Patterns returns the critical lists as a denylist pattern set.
func (c *Config) Patterns() denylist.Patterns {
	return denylist.Patterns{
		Files:     c.SensitivePaths,
		Commands:  c.DestructiveCommands,
		Processes: c.CriticalProcesses,
	}
}

// DefaultPath returns ~/.warden/policy.yaml, or "" when no home directory exists.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".warden", "policy.yaml")
}

// LoadConfig loads policy configuration from a YAML file.
// Empty path falls back to ~/.warden/policy.yaml.
// Missing file returns defaults. Invalid YAML returns an error.
func LoadConfig(path string) (*Config, error) {
	cfg, _, err := LoadConfigWithHash(path)
	return cfg, err
}

// LoadConfigWithHash loads policy configuration and returns its SHA-256 hash.
// The hash is computed over the raw YAML bytes on disk.
// When no file exists (defaults used), the hash is the SHA-256 of empty input.
func LoadConfigWithHash(path string) (*Config, string, error) {
	if path == "" {
		path = DefaultPath()
	}
	if path == "" {
		return DefaultConfig(), emptyHash(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), emptyHash(), nil
		}
		return nil, "", fmt.Errorf("failed to read policy config: %w", err)
	}

	h := sha256.Sum256(data)
	hash := "sha256:" + hex.EncodeToString(h[:])

	// Start with defaults, YAML overwrites only specified fields
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse policy config: %w", err)
	}

	return cfg, hash, nil
}

func emptyHash() string {
	h := sha256.Sum256(nil)
	return "sha256:" + hex.EncodeToString(h[:])
}

// DefaultConfigYAML returns a commented YAML string for init-policy.
func DefaultConfigYAML() string {
	return `# warden policy configuration
# Generated by: warden init-policy
#
# Evaluation order (cannot be changed):
#   file:    sensitive_paths -> safe dirs -> full access -> require approval
#   shell:   destructive_commands -> high_risk_commands -> read_only_commands
#            -> full access -> require approval
#   process: critical_processes -> require approval unless auto-approve
#   network: loopback -> private/internal -> full access -> require approval
#
# Entries listed here are ADDED to the built-in sensitive_paths,
# destructive_commands, critical_processes and high_risk_commands.
# The built-in entries can never be removed.

# Extra sensitive path fragments. "~/" matches under any home directory,
# "**/" matches anywhere, anything else is a case-insensitive substring.
sensitive_paths:
  - "~/.kube/config"

# Extra destructive command fragments (case-insensitive substring, never appealable).
destructive_commands: []

# Extra OS-critical process names (matched on base name, ".exe" ignored).
critical_processes: []

# Extra high-risk command fragments (require approval unless auto-approve).
high_risk_commands:
  - "terraform destroy"

# Read-only commands allowed at low risk. Setting this list REPLACES the
# built-in list. Leave it out to keep the defaults.
# read_only_commands: [ls, pwd, cat, git status]

# Hostname suffixes treated as internal networks. Replaces the defaults when set.
# internal_host_suffixes: [.local, .internal, .lan]
`
}
