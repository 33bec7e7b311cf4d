package executor

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/model"
	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/policy"
)

const (
	maxSearchMatches  = 200
	maxSearchFileSize = 1 << 20
)

func (r *Registry) readFile(_ context.Context, a model.Action) (Result, error) {
	path, err := policy.NormalizePath(a.Target)
	if err != nil {
		return Result{}, err
	}
	f, err := os.Open(path)
	if err != nil {
		return Result{}, err
	}
	defer f.Close()

	// One byte past the bound tells Execute to mark the result truncated.
	data, err := io.ReadAll(io.LimitReader(f, int64(r.maxOutput)+1))
	if err != nil {
		return Result{}, err
	}
	return Result{Output: string(data)}, nil
}

func writeFile(_ context.Context, a model.Action) (Result, error) {
	path, err := policy.NormalizePath(a.Target)
	if err != nil {
		return Result{}, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Result{}, err
	}
	if err := os.WriteFile(path, []byte(a.Content), 0o644); err != nil {
		return Result{}, err
	}
	return Result{Output: fmt.Sprintf("wrote %d bytes to %s", len(a.Content), path)}, nil
}

func listDir(_ context.Context, a model.Action) (Result, error) {
	path, err := policy.NormalizePath(a.Target)
	if err != nil {
		return Result{}, err
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return Result{}, err
	}
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(e.Name())
		if e.IsDir() {
			b.WriteByte('/')
		}
		b.WriteByte('\n')
	}
	return Result{Output: b.String()}, nil
}

// searchFiles walks Target for files whose content contains Args["pattern"].
// Args["glob"] optionally restricts file names. Files on the engine's
// sensitive list are never opened.
func (r *Registry) searchFiles(ctx context.Context, a model.Action) (Result, error) {
	root, err := policy.NormalizePath(a.Target)
	if err != nil {
		return Result{}, err
	}
	pattern := a.Args["pattern"]
	if pattern == "" {
		return Result{}, errors.New("file_search requires a pattern argument")
	}
	glob := a.Args["glob"]

	var matches []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if glob != "" {
			if ok, _ := filepath.Match(glob, d.Name()); !ok {
				return nil
			}
		}
		if rule, ok := r.engine.Sensitive(path); ok {
			r.logger.Debug("search skipped sensitive file", "path", path, "pattern", rule)
			return nil
		}
		if info, err := d.Info(); err != nil || info.Size() > maxSearchFileSize {
			return nil
		}
		found, err := grepFile(path, pattern, maxSearchMatches-len(matches))
		if err != nil {
			return nil
		}
		matches = append(matches, found...)
		if len(matches) >= maxSearchMatches {
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	sort.Strings(matches)
	return Result{Output: strings.Join(matches, "\n")}, nil
}

func grepFile(path, pattern string, limit int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []string
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() && len(out) < limit {
		line++
		if text := scanner.Text(); strings.Contains(text, pattern) {
			out = append(out, fmt.Sprintf("%s:%d: %s", path, line, strings.TrimSpace(text)))
		}
	}
	return out, scanner.Err()
}

func (r *Registry) runShell(ctx context.Context, a model.Action) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, r.shellTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", a.Target)
	if dir := a.Args["cwd"]; dir != "" {
		cmd.Dir = dir
	}
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return Result{}, err
		}
		exitCode = exitErr.ExitCode()
		if ctx.Err() != nil {
			return Result{Output: out.String(), ExitCode: exitCode}, fmt.Errorf("shell command: %w", ctx.Err())
		}
	}
	return Result{Output: out.String(), ExitCode: exitCode}, nil
}

func (r *Registry) fetch(ctx context.Context, a model.Action) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.Target, nil)
	if err != nil {
		return Result{}, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(r.maxOutput)+1))
	if err != nil {
		return Result{}, err
	}
	res := Result{Output: string(body)}
	if resp.StatusCode >= http.StatusBadRequest {
		res.ExitCode = resp.StatusCode
	}
	return res, nil
}

func killProcess(ctx context.Context, a model.Action) (Result, error) {
	name := strings.TrimSpace(a.Target)
	if name == "" {
		return Result{}, errors.New("process_kill requires a process name")
	}
	out, err := exec.CommandContext(ctx, "pkill", "-x", name).CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return Result{}, err
		}
		// pkill exits 1 when nothing matched.
		return Result{Output: strings.TrimSpace(string(out)), ExitCode: exitErr.ExitCode()}, nil
	}
	return Result{Output: fmt.Sprintf("signalled processes named %s", name)}, nil
}
