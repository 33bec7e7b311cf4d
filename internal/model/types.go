package model

import (
	"fmt"
	"strings"
)

// RiskLevel is an ordinal classification of an action's potential harm.
// Higher level = more dangerous. Comparisons with < and > are meaningful.
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
	RiskCritical
)

// String returns the lowercase label for the risk level.
func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	case RiskCritical:
		return "critical"
	default:
		return fmt.Sprintf("unknown(%d)", int(r))
	}
}

// MarshalText renders the risk level as its label.
func (r RiskLevel) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText parses a risk label.
func (r *RiskLevel) UnmarshalText(text []byte) error {
	lvl, err := ParseRiskLevel(string(text))
	if err != nil {
		return err
	}
	*r = lvl
	return nil
}

// ParseRiskLevel maps a label to a RiskLevel. Matching is case-insensitive.
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return RiskLow, nil
	case "medium":
		return RiskMedium, nil
	case "high":
		return RiskHigh, nil
	case "critical":
		return RiskCritical, nil
	default:
		return RiskCritical, fmt.Errorf("unknown risk level %q", s)
	}
}

// Operation is the category tag of a proposed action.
type Operation string

const (
	OpFileRead       Operation = "file_read"
	OpFileWrite      Operation = "file_write"
	OpShell          Operation = "shell"
	OpProcessKill    Operation = "process_kill"
	OpClipboardWrite Operation = "clipboard_write"
	OpNetwork        Operation = "network"
	OpFileList       Operation = "file_list"
	OpFileSearch     Operation = "file_search"
)

// Operations lists every known operation tag in declaration order.
var Operations = []Operation{
	OpFileRead, OpFileWrite, OpShell, OpProcessKill,
	OpClipboardWrite, OpNetwork, OpFileList, OpFileSearch,
}

// ParseOperation validates an operation tag.
func ParseOperation(s string) (Operation, error) {
	op := Operation(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Operations {
		if op == known {
			return op, nil
		}
	}
	return "", fmt.Errorf("unknown operation %q", s)
}

// PolicyContext is the permission posture of one run. It is supplied once
// and never mutated while the run is in flight.
type PolicyContext struct {
	FullAccess  bool     `json:"full_access" yaml:"full_access"`
	AutoApprove bool     `json:"auto_approve" yaml:"auto_approve"`
	SafeDirs    []string `json:"safe_dirs" yaml:"safe_dirs"`
}

// Clone returns a deep copy so callers cannot alias SafeDirs.
func (pc PolicyContext) Clone() PolicyContext {
	out := pc
	if pc.SafeDirs != nil {
		out.SafeDirs = append([]string(nil), pc.SafeDirs...)
	}
	return out
}

// PolicyDecision is the outcome of a single policy evaluation.
//
// Invariants: Risk == RiskCritical implies !Allowed && !RequiresApproval,
// and Allowed implies !RequiresApproval.
type PolicyDecision struct {
	Allowed          bool      `json:"allowed"`
	Risk             RiskLevel `json:"risk_level"`
	RequiresApproval bool      `json:"requires_approval"`
	Reason           string    `json:"reason"`
	RuleID           string    `json:"rule_id,omitempty"`
}

// Appealable reports whether a denial can be overridden by a human.
func (d PolicyDecision) Appealable() bool {
	return !d.Allowed && d.RequiresApproval
}

// Verdict returns a one-word summary used in audit entries and CLI output.
func (d PolicyDecision) Verdict() string {
	switch {
	case d.Allowed:
		return "allow"
	case d.RequiresApproval:
		return "require_approval"
	default:
		return "deny"
	}
}

// Action is one operation proposed by the agent.
type Action struct {
	Operation Operation         `json:"operation" yaml:"operation"`
	Target    string            `json:"target" yaml:"target"`
	Content   string            `json:"content,omitempty" yaml:"content,omitempty"`
	Args      map[string]string `json:"args,omitempty" yaml:"args,omitempty"`
}

// Describe renders a short human-readable summary of the action.
func (a Action) Describe() string {
	switch a.Operation {
	case OpShell:
		return "run shell command: " + a.Target
	case OpFileWrite:
		return "write file " + a.Target
	case OpFileRead:
		return "read file " + a.Target
	case OpFileList:
		return "list directory " + a.Target
	case OpFileSearch:
		return fmt.Sprintf("search %s for %q", a.Target, a.Args["pattern"])
	case OpProcessKill:
		return "kill process " + a.Target
	case OpNetwork:
		return "fetch " + a.Target
	case OpClipboardWrite:
		return "write clipboard"
	default:
		return fmt.Sprintf("%s %s", a.Operation, a.Target)
	}
}
