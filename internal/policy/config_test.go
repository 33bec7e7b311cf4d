package policy

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/model"
)

func writePolicy(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultConfigValues(t *testing.T) {
	cfg := DefaultConfig()

	if len(cfg.SensitivePaths) == 0 || len(cfg.DestructiveCommands) == 0 || len(cfg.CriticalProcesses) == 0 {
		t.Fatal("default critical lists must not be empty")
	}
	if len(cfg.ReadOnlyCommands) != len(DefaultReadOnlyCommands) {
		t.Errorf("expected %d read-only commands, got %d", len(DefaultReadOnlyCommands), len(cfg.ReadOnlyCommands))
	}

	// Mutating the returned config must not leak into the package defaults.
	cfg.HighRiskCommands[0] = "mutated"
	if DefaultHighRiskCommands[0] == "mutated" {
		t.Fatal("DefaultConfig must copy the default lists")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, hash, err := LoadConfigWithHash(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.HighRiskCommands) != len(DefaultHighRiskCommands) {
		t.Error("expected defaults for a missing file")
	}
	if hash != emptyHash() {
		t.Errorf("expected empty-input hash, got %s", hash)
	}
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	path := writePolicy(t, "high_risk_commands: [unterminated\n")
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadConfigHashTracksContent(t *testing.T) {
	_, h1, err := LoadConfigWithHash(writePolicy(t, "high_risk_commands: [a]\n"))
	if err != nil {
		t.Fatal(err)
	}
	_, h2, err := LoadConfigWithHash(writePolicy(t, "high_risk_commands: [b]\n"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(h1, "sha256:") || len(h1) != len("sha256:")+64 {
		t.Errorf("malformed hash %q", h1)
	}
	if h1 == h2 {
		t.Error("different content must hash differently")
	}
}

func TestLoadedListsExtendButNeverShrinkCriticalFloor(t *testing.T) {
	path := writePolicy(t, `
sensitive_paths: ["/srv/secrets/"]
destructive_commands: ["drop database"]
critical_processes: ["postgres"]
high_risk_commands: ["terraform destroy"]
read_only_commands: ["pwd"]
`)
	e, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	pc := model.PolicyContext{FullAccess: true, AutoApprove: true}

	if d := e.EvaluateFileRead("/srv/secrets/api.key", pc); d.Risk != model.RiskCritical {
		t.Errorf("extra sensitive path not applied: %+v", d)
	}
	if d := e.EvaluateFileRead("/etc/shadow", pc); d.Risk != model.RiskCritical {
		t.Errorf("default sensitive path lost: %+v", d)
	}
	if d := e.EvaluateShell("psql -c 'DROP DATABASE prod'", pc); d.Risk != model.RiskCritical {
		t.Errorf("extra destructive command not applied: %+v", d)
	}
	if d := e.EvaluateShell("rm -rf /", pc); d.Risk != model.RiskCritical {
		t.Errorf("default destructive command lost: %+v", d)
	}
	if d := e.EvaluateProcessKill("postgres", pc); d.Risk != model.RiskCritical {
		t.Errorf("extra critical process not applied: %+v", d)
	}
	if d := e.EvaluateShell("terraform destroy -auto-approve", model.PolicyContext{}); d.RuleID != "shell.high_risk" {
		t.Errorf("extra high-risk command not applied: %+v", d)
	}
	if d := e.EvaluateShell("sudo true", model.PolicyContext{}); d.RuleID != "shell.high_risk" {
		t.Errorf("default high-risk command lost: %+v", d)
	}

	// read_only_commands replaces the defaults.
	if d := e.EvaluateShell("pwd", model.PolicyContext{}); d.RuleID != "shell.read_only" {
		t.Errorf("configured read-only command not applied: %+v", d)
	}
	if d := e.EvaluateShell("cat notes.txt", model.PolicyContext{}); d.RuleID != "shell.default" {
		t.Errorf("read-only list should have been replaced: %+v", d)
	}

	if !strings.HasPrefix(e.Hash(), "sha256:") || e.Hash() == emptyHash() {
		t.Errorf("engine should carry the file hash, got %s", e.Hash())
	}
}

func TestDefaultConfigYAMLParses(t *testing.T) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(DefaultConfigYAML()), &cfg); err != nil {
		t.Fatalf("DefaultConfigYAML must be valid YAML: %v", err)
	}

	e, err := Load(writePolicy(t, DefaultConfigYAML()))
	if err != nil {
		t.Fatalf("load generated policy: %v", err)
	}
	if d := e.EvaluateShell("terraform destroy", model.PolicyContext{}); d.RuleID != "shell.high_risk" {
		t.Errorf("sample high-risk entry not applied: %+v", d)
	}
	if d := e.EvaluateShell("ls", model.PolicyContext{}); d.RuleID != "shell.read_only" {
		t.Errorf("generated policy must keep default read-only list: %+v", d)
	}
}
