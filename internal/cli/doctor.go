package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/approval"
	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/audit"
	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/client"
	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/policy"
)

func init() {
	rootCmd.AddCommand(doctorCmd)
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration and diagnose setup issues",
	Args:  cobra.NoArgs,
	RunE:  runDoctor,
}

type checkResult struct {
	label  string
	ok     bool
	detail string
	fix    string
}

func runDoctor(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.close()
	cfg := e.cfg

	var checks []checkResult

	// 1. Config file.
	if cfg.File != "" {
		checks = append(checks, checkResult{label: "config", ok: true, detail: cfg.File})
	} else {
		checks = append(checks, checkResult{label: "config", ok: true, detail: "defaults (no config file)"})
	}

	// 2. Policy file.
	if _, err := os.Stat(cfg.Policy.File); err != nil {
		checks = append(checks, checkResult{
			label:  "policy",
			ok:     false,
			detail: "missing, built-in lists in force",
			fix:    "warden init-policy",
		})
	} else if engine, err := policy.Load(cfg.Policy.File); err != nil {
		checks = append(checks, checkResult{label: "policy", ok: false, detail: err.Error(), fix: "fix the YAML"})
	} else {
		checks = append(checks, checkResult{label: "policy", ok: true, detail: engine.Hash()})
	}

	// 3. Safe directories.
	if len(cfg.Policy.SafeDirs) == 0 {
		checks = append(checks, checkResult{
			label:  "safe dirs",
			ok:     true,
			detail: "none, every file access outside full access needs approval",
		})
	}
	for _, dir := range cfg.Policy.SafeDirs {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			checks = append(checks, checkResult{label: "safe dir", ok: false, detail: dir + " is not a directory", fix: "create it or drop it from policy.safe_dirs"})
		} else {
			checks = append(checks, checkResult{label: "safe dir", ok: true, detail: dir})
		}
	}

	// 4. Audit chain.
	if _, err := os.Stat(cfg.Audit.Path); err != nil {
		checks = append(checks, checkResult{label: "audit log", ok: true, detail: "not created yet: " + cfg.Audit.Path})
	} else if res := audit.Verify(cfg.Audit.Path); res.Valid {
		checks = append(checks, checkResult{label: "audit log", ok: true, detail: fmt.Sprintf("%d entries, chain intact", res.Lines)})
	} else {
		checks = append(checks, checkResult{
			label:  "audit log",
			ok:     false,
			detail: fmt.Sprintf("chain broken at line %d: %s", res.ErrorLine, res.Error),
			fix:    "archive the log and start a new one",
		})
	}

	// 5. Approval history database.
	if cfg.Approval.HistoryDB != "" {
		if h, err := approval.OpenSQLiteHistory(cfg.Approval.HistoryDB, e.logger); err != nil {
			checks = append(checks, checkResult{label: "history db", ok: false, detail: err.Error()})
		} else {
			h.Close()
			checks = append(checks, checkResult{label: "history db", ok: true, detail: cfg.Approval.HistoryDB})
		}
	}

	// 6. Approval server.
	checks = append(checks, pingServer(cmd.Context(), cfg.Server.Listen))

	out := cmd.OutOrStdout()
	hasFailures := false
	for _, c := range checks {
		mark := "✓"
		if !c.ok {
			mark = "✗"
			hasFailures = true
		}
		line := fmt.Sprintf("%s %-14s %s", mark, c.label+":", c.detail)
		if !c.ok && c.fix != "" {
			line += fmt.Sprintf("  ->  %s", c.fix)
		}
		fmt.Fprintln(out, line)
	}

	if hasFailures {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Some checks failed. Run the suggested commands to fix.")
		return &exitError{code: ExitFatal}
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "All checks passed.")
	return nil
}

// pingServer reports whether an approval server answers on addr. Not running
// is fine; only `run --serve` and `serve` start one.
func pingServer(ctx context.Context, addr string) checkResult {
	c, err := client.New(addr)
	if err != nil {
		return checkResult{label: "server", ok: false, detail: err.Error()}
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	reqs, err := c.Pending(ctx)
	if err != nil {
		return checkResult{label: "server", ok: true, detail: "not running on " + addr}
	}
	return checkResult{label: "server", ok: true, detail: fmt.Sprintf("%s, %d pending", addr, len(reqs))}
}
