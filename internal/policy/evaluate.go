package policy

import (
	"fmt"
	"strings"

	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/denylist"
	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/model"
)

// Engine classifies proposed actions. It is immutable after New and safe for
// concurrent use without locking.
type Engine struct {
	deny             *denylist.Denylist
	highRisk         []string
	readOnly         []string
	internalSuffixes []string
	hash             string
}

// New builds an engine from cfg. A nil cfg means DefaultConfig.
// The built-in critical and high-risk lists are always merged back in.
func New(cfg *Config) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Engine{
		deny:             denylist.New(denylist.Merge(denylist.DefaultPatterns, cfg.Patterns())),
		highRisk:         lowerAll(union(DefaultHighRiskCommands, cfg.HighRiskCommands)),
		readOnly:         lowerAll(cfg.ReadOnlyCommands),
		internalSuffixes: lowerAll(cfg.InternalHostSuffixes),
		hash:             emptyHash(),
	}
}

// NewDefault builds an engine from the built-in lists.
func NewDefault() *Engine {
	return New(nil)
}

// Load reads the policy file at path and builds an engine carrying its hash.
func Load(path string) (*Engine, error) {
	cfg, hash, err := LoadConfigWithHash(path)
	if err != nil {
		return nil, err
	}
	e := New(cfg)
	e.hash = hash
	return e, nil
}

// Hash returns "sha256:<hex>" of the policy file the engine was loaded from.
func (e *Engine) Hash() string {
	return e.hash
}

// Evaluate dispatches an action to the evaluator for its operation.
// Unknown operations fail closed at high risk with approval required.
func (e *Engine) Evaluate(action model.Action, pc model.PolicyContext) model.PolicyDecision {
	switch action.Operation {
	case model.OpFileRead, model.OpFileList, model.OpFileSearch:
		return e.EvaluateFileRead(action.Target, pc)
	case model.OpFileWrite:
		return e.EvaluateFileWrite(action.Target, pc)
	case model.OpShell:
		return e.EvaluateShell(action.Target, pc)
	case model.OpProcessKill:
		return e.EvaluateProcessKill(action.Target, pc)
	case model.OpNetwork:
		return e.EvaluateNetwork(action.Target, pc)
	case model.OpClipboardWrite:
		if pc.FullAccess {
			return allow(model.RiskMedium, "clipboard write under full access", "clipboard.full_access")
		}
		return needsApproval(model.RiskMedium, "clipboard write requires approval", "clipboard.default")
	default:
		return needsApproval(model.RiskHigh, fmt.Sprintf("unknown operation %q", action.Operation), "operation.unknown")
	}
}

// EvaluateShell classifies a shell command.
//
// Evaluation order (must not be changed):
//  1. Destructive command list: critical, never appealable
//  2. High-risk list and pipe-to-shell: high, auto-approve or approval
//  3. Read-only allow-list: low, allowed
//  4. Full access: medium, allowed; otherwise medium with approval
//
// Matching is substring/prefix on the lowercased command. Shell quoting and
// escaping are not canonicalized, so crafted input can evade the lists.
func (e *Engine) EvaluateShell(command string, pc model.PolicyContext) model.PolicyDecision {
	cmd := strings.ToLower(strings.TrimSpace(command))
	if cmd == "" {
		return needsApproval(model.RiskHigh, "empty command", "shell.invalid")
	}

	// Step 1: destructive commands (hard block)
	if matched, pattern := e.deny.MatchCommand(cmd); matched {
		return deny(fmt.Sprintf("destructive command blocked: %q", pattern), "shell.destructive")
	}

	// Step 2: high-risk commands
	highRisk := ""
	if denylist.IsPipeToShell(cmd) {
		highRisk = "pipe to shell"
	} else {
		for _, pattern := range e.highRisk {
			if strings.Contains(cmd, pattern) {
				highRisk = strings.TrimSpace(pattern)
				break
			}
		}
	}
	if highRisk != "" {
		if pc.AutoApprove {
			return allow(model.RiskHigh, fmt.Sprintf("high-risk command auto-approved: %q", highRisk), "shell.high_risk_auto")
		}
		return needsApproval(model.RiskHigh, fmt.Sprintf("high-risk command: %q", highRisk), "shell.high_risk")
	}

	// Step 3: read-only commands
	if e.isReadOnly(cmd) {
		return allow(model.RiskLow, "read-only command", "shell.read_only")
	}

	// Step 4: operator grant or default
	if pc.FullAccess {
		return allow(model.RiskMedium, "command allowed under full access", "shell.full_access")
	}
	return needsApproval(model.RiskMedium, "command requires approval", "shell.default")
}

// isReadOnly reports whether cmd is a single simple command whose leading
// words match the read-only list. Chained, piped or redirected commands never
// qualify.
func (e *Engine) isReadOnly(cmd string) bool {
	if strings.ContainsAny(cmd, ";&|><`\n") || strings.Contains(cmd, "$(") {
		return false
	}
	for _, ro := range e.readOnly {
		if cmd == ro || strings.HasPrefix(cmd, ro+" ") {
			return true
		}
	}
	return false
}

// EvaluateProcessKill classifies a request to terminate a process by name.
func (e *Engine) EvaluateProcessKill(name string, pc model.PolicyContext) model.PolicyDecision {
	if strings.TrimSpace(name) == "" {
		return needsApproval(model.RiskHigh, "empty process name", "process.invalid")
	}
	if matched, critical := e.deny.MatchProcess(name); matched {
		return deny(fmt.Sprintf("critical system process: %s", critical), "process.critical")
	}
	if pc.AutoApprove {
		return allow(model.RiskHigh, "process kill auto-approved", "process.auto")
	}
	return needsApproval(model.RiskHigh, fmt.Sprintf("killing process %q requires approval", name), "process.default")
}

func allow(risk model.RiskLevel, reason, rule string) model.PolicyDecision {
	return model.PolicyDecision{Allowed: true, Risk: risk, Reason: reason, RuleID: rule}
}

func needsApproval(risk model.RiskLevel, reason, rule string) model.PolicyDecision {
	return model.PolicyDecision{Risk: risk, RequiresApproval: true, Reason: reason, RuleID: rule}
}

func deny(reason, rule string) model.PolicyDecision {
	return model.PolicyDecision{Risk: model.RiskCritical, Reason: reason, RuleID: rule}
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(s)
		if strings.TrimSpace(s) == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}

func union(a, b []string) []string {
	return denylist.Merge(denylist.Patterns{Commands: a}, denylist.Patterns{Commands: b}).Commands
}
