package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/model"
)

// EvaluateFileRead classifies a read of path (also used for listing and search).
//
// Evaluation order (must not be changed):
//  1. Sensitive path list: critical, never appealable
//  2. Safe directory containment: low, allowed
//  3. Full access: medium, allowed
//  4. Default: high with approval
func (e *Engine) EvaluateFileRead(path string, pc model.PolicyContext) model.PolicyDecision {
	return e.evaluateFile(path, pc, false)
}

// EvaluateFileWrite classifies a write to path. Same order as EvaluateFileRead,
// except safe directories allow at medium and full access only allows when
// auto-approve is also set.
func (e *Engine) EvaluateFileWrite(path string, pc model.PolicyContext) model.PolicyDecision {
	return e.evaluateFile(path, pc, true)
}

func (e *Engine) evaluateFile(path string, pc model.PolicyContext, write bool) model.PolicyDecision {
	verb := "read"
	if write {
		verb = "write"
	}

	if strings.TrimSpace(path) == "" {
		return needsApproval(model.RiskHigh, "empty path", "file.invalid")
	}
	normalized, err := NormalizePath(path)
	if err != nil {
		return needsApproval(model.RiskHigh, fmt.Sprintf("cannot normalize path: %v", err), "file.invalid")
	}
	resolved := ResolvePath(normalized)

	// Step 1: sensitive paths (hard block) on both spellings
	if p, pattern, ok := e.sensitive(normalized, resolved); ok {
		return deny(fmt.Sprintf("sensitive path %s blocked: %s (pattern %q)", verb, p, pattern), "file.sensitive")
	}

	// Step 2: safe directory containment
	if dir, ok := containedIn(resolved, pc.SafeDirs); ok {
		risk := model.RiskLow
		if write {
			risk = model.RiskMedium
		}
		return allow(risk, fmt.Sprintf("%s inside safe directory %s", verb, dir), "file.safe_dir")
	}

	// Step 3: operator grant
	if pc.FullAccess {
		if !write {
			return allow(model.RiskMedium, "read allowed under full access", "file.full_access")
		}
		if pc.AutoApprove {
			return allow(model.RiskHigh, "write outside safe directories auto-approved under full access", "file.full_access_auto")
		}
		return needsApproval(model.RiskHigh, "write outside safe directories requires approval", "file.full_access")
	}

	// Step 4: default deny, appealable
	return needsApproval(model.RiskHigh, fmt.Sprintf("%s outside safe directories requires approval", verb), "file.default")
}

// Sensitive reports whether path, normalized or with symlinks resolved, is on
// the sensitive file list. Executors that walk a directory the policy already
// allowed use it to skip files that could never be read directly.
func (e *Engine) Sensitive(path string) (pattern string, ok bool) {
	normalized, err := NormalizePath(path)
	if err != nil {
		return "", false
	}
	_, pattern, ok = e.sensitive(normalized, ResolvePath(normalized))
	return pattern, ok
}

func (e *Engine) sensitive(paths ...string) (path, pattern string, ok bool) {
	for _, p := range paths {
		if matched, pattern := e.deny.MatchFile(p); matched {
			return p, pattern, true
		}
	}
	return "", "", false
}

// NormalizePath expands a leading "~", makes the path absolute and cleans it.
func NormalizePath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "~" || strings.HasPrefix(path, "~/") || strings.HasPrefix(path, `~\`) {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expand home: %w", err)
		}
		path = filepath.Join(home, path[1:])
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.Clean(abs), nil
}

// ResolvePath follows symlinks. For a path that does not exist yet, the
// deepest existing ancestor is resolved and the missing tail re-appended.
func ResolvePath(abs string) string {
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}

	var tail []string
	cur := abs
	for {
		parent := filepath.Dir(cur)
		tail = append([]string{filepath.Base(cur)}, tail...)
		if parent == cur {
			return abs
		}
		if resolved, err := filepath.EvalSymlinks(parent); err == nil {
			return filepath.Join(append([]string{resolved}, tail...)...)
		}
		cur = parent
	}
}

// containedIn returns the first safe dir that contains path.
// The relative path from the safe dir must not climb out of it.
func containedIn(path string, safeDirs []string) (string, bool) {
	for _, dir := range safeDirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		norm, err := NormalizePath(dir)
		if err != nil {
			continue
		}
		base := ResolvePath(norm)
		rel, err := filepath.Rel(base, path)
		if err != nil {
			continue
		}
		if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
			continue
		}
		return dir, true
	}
	return "", false
}
