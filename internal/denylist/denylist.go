package denylist

import (
	"os"
	"path/filepath"
	"strings"
)

// Patterns holds the raw pattern strings organized by category.
type Patterns struct {
	Files     []string `yaml:"files"`
	Commands  []string `yaml:"commands"`
	Processes []string `yaml:"processes"`
}

// Denylist holds normalized patterns for fast matching.
// It is immutable after New and safe for concurrent use.
type Denylist struct {
	filePatterns    []string // glob-style, matched via containment
	commandPatterns []string // substring matching (case-insensitive)
	processNames    map[string]string
	raw             Patterns
}

// New creates a Denylist from raw patterns.
func New(p Patterns) *Denylist {
	d := &Denylist{raw: p, processNames: make(map[string]string)}

	for _, f := range p.Files {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		d.filePatterns = append(d.filePatterns, slashLower(f))
	}

	for _, c := range p.Commands {
		if strings.TrimSpace(c) == "" {
			continue
		}
		d.commandPatterns = append(d.commandPatterns, strings.ToLower(c))
	}

	for _, name := range p.Processes {
		key := processKey(name)
		if key == "" {
			continue
		}
		d.processNames[key] = name
	}

	return d
}

// NewDefault creates a Denylist with the hardcoded default patterns.
func NewDefault() *Denylist {
	return New(DefaultPatterns)
}

// Merge returns the union of base and extra with duplicates removed.
// Order is preserved: base entries first.
func Merge(base, extra Patterns) Patterns {
	return Patterns{
		Files:     union(base.Files, extra.Files),
		Commands:  union(base.Commands, extra.Commands),
		Processes: union(base.Processes, extra.Processes),
	}
}

// Raw returns a copy of the patterns the denylist was built from.
func (d *Denylist) Raw() Patterns {
	return Patterns{
		Files:     append([]string(nil), d.raw.Files...),
		Commands:  append([]string(nil), d.raw.Commands...),
		Processes: append([]string(nil), d.raw.Processes...),
	}
}

// MatchFile checks a normalized path against the sensitive file patterns.
// Returns (matched, pattern).
func (d *Denylist) MatchFile(path string) (bool, string) {
	lower := slashLower(path)
	for _, pattern := range d.filePatterns {
		if matchFilePattern(lower, pattern) {
			return true, pattern
		}
	}
	return false, ""
}

// MatchCommand checks a shell command against the destructive command patterns.
// A trailing space is appended so patterns like "rm -rf / " also catch the
// command when it ends at the root path.
func (d *Denylist) MatchCommand(cmd string) (bool, string) {
	lower := strings.ToLower(strings.TrimSpace(cmd)) + " "
	for _, pattern := range d.commandPatterns {
		if strings.Contains(lower, pattern) {
			return true, pattern
		}
	}
	return false, ""
}

// MatchProcess checks a process name (or path) against the critical process names.
func (d *Denylist) MatchProcess(name string) (bool, string) {
	key := processKey(name)
	if key == "" {
		return false, ""
	}
	if orig, ok := d.processNames[key]; ok {
		return true, orig
	}
	return false, ""
}

// processKey reduces "/sbin/init", "LSASS.EXE" and " systemd " to a bare lowercase name.
func processKey(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, "\\", "/")
	if idx := strings.LastIndexByte(name, '/'); idx >= 0 {
		name = name[idx+1:]
	}
	return strings.TrimSuffix(name, ".exe")
}

// slashLower lowercases and converts Windows separators so one pattern set
// serves every platform.
func slashLower(p string) string {
	return strings.ToLower(strings.ReplaceAll(p, "\\", "/"))
}

func matchFilePattern(resource, pattern string) bool {
	// Expand ~ in pattern for exact match
	expanded := pattern
	if strings.HasPrefix(expanded, "~/") {
		suffix := expanded[2:] // e.g. ".ssh/"
		// Match the suffix anywhere in the resource path
		if strings.Contains(resource, suffix) {
			return true
		}
		if home, err := os.UserHomeDir(); err == nil {
			expanded = slashLower(filepath.Join(home, suffix))
		}
	}

	// Glob-style: ** matches anything
	if strings.Contains(expanded, "**") {
		suffix := strings.ReplaceAll(expanded, "**/", "")
		suffix = strings.ReplaceAll(suffix, "**", "")
		// *.kdbx style suffix after stripping **
		if strings.HasPrefix(suffix, "*") {
			return strings.HasSuffix(resource, suffix[1:])
		}
		return strings.Contains(resource, suffix)
	}

	// Direct containment
	return strings.Contains(resource, expanded)
}

// IsPipeToShell detects piped-to-shell patterns like "curl ... | sh" or "wget ... | bash".
func IsPipeToShell(cmd string) bool {
	cmd = strings.ToLower(cmd)
	if !strings.Contains(cmd, "|") {
		return false
	}
	shells := []string{"sh", "bash", "zsh", "fish", "pwsh", "powershell"}
	downloaders := []string{"curl", "wget", "iwr", "invoke-webrequest"}

	hasDownloader := false
	for _, d := range downloaders {
		if strings.Contains(cmd, d) {
			hasDownloader = true
			break
		}
	}
	if !hasDownloader {
		return false
	}

	// Check if anything after pipe is a shell
	parts := strings.Split(cmd, "|")
	for i := 1; i < len(parts); i++ {
		trimmed := strings.TrimSpace(parts[i])
		for _, s := range shells {
			if trimmed == s || strings.HasPrefix(trimmed, s+" ") {
				return true
			}
		}
	}
	return false
}

func union(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			key := strings.ToLower(s)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, s)
		}
	}
	return out
}
