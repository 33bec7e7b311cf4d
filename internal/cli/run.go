package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"unicode/utf8"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/agent"
	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/executor"
	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/server"
)

var (
	runFormat   string
	runNoPrompt bool
	runServe    bool
)

func init() {
	rootCmd.AddCommand(runCmd)
	f := runCmd.Flags()
	f.Bool("full-access", false, "Grant full access outside safe directories")
	f.Bool("auto-approve", false, "Auto-approve high-risk shell commands and process kills")
	f.StringSlice("safe-dir", nil, "Directory the agent may use freely (repeatable)")
	f.Duration("timeout", 0, "How long to wait for an approval (default 5m)")
	f.String("on-denied", "", "After a rejection or timeout: abort or replan")
	f.Int("max-turns", 0, "Maximum planning turns (default 10)")
	f.Int("step-ceiling", 0, "Maximum state transitions per run (default 256)")
	f.StringVarP(&runFormat, "format", "f", "text", "Report format (text|json)")
	f.BoolVar(&runNoPrompt, "no-prompt", false, "Never prompt on the terminal for approvals")
	f.BoolVar(&runServe, "serve", false, "Also serve the approval queue on --listen")
}

var runCmd = &cobra.Command{
	Use:   "run <script.yaml> [goal]",
	Short: "Run a scripted agent under the policy gate",
	Long: "Drives the agent state machine with the plans in a YAML script. Every\n" +
		"action passes the policy gate; appealable ones wait for approval on the\n" +
		"terminal, over gRPC (--serve) or through the MCP tools.\n\n" +
		"Exit code 0 when the run ends normally, 1 on a fatal error and 2 when\n" +
		"the run graph stalls or hits the step ceiling.",
	Args: cobra.RangeArgs(1, 2),
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	planner, err := agent.LoadScript(args[0])
	if err != nil {
		return err
	}
	goal := planner.Goal()
	if len(args) > 1 {
		goal = args[1]
	}

	g, hist, err := e.buildGate()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if runServe {
		opts := []server.Option{server.WithLogger(e.logger), server.WithPolicyPath(e.cfg.Policy.File)}
		if hist != nil {
			opts = append(opts, server.WithHistory(hist))
		}
		srv := server.New(g, opts...)
		go func() {
			if err := srv.ListenAndServe(e.cfg.Server.Listen); err != nil {
				e.logger.Error("approval server stopped", "error", err)
			}
		}()
		defer srv.GracefulStop()
		fmt.Fprintf(cmd.ErrOrStderr(), "Approvals served on %s\n", e.cfg.Server.Listen)
	}

	if !runNoPrompt && term.IsTerminal(int(os.Stdin.Fd())) {
		p := newPrompter(g.Queue(), os.Stdin, cmd.ErrOrStderr(), "terminal")
		unsubscribe := g.Queue().Subscribe(p)
		defer unsubscribe()
		go p.run(ctx)
	}

	loop := agent.New(agent.Config{
		MaxTurns:    e.cfg.Agent.MaxTurns,
		StepCeiling: e.cfg.Agent.StepCeiling,
		OnDenied:    agent.DeniedPolicy(e.cfg.Approval.OnDenied),
		Policy:      e.cfg.PolicyContext(),
	}, planner, executor.New(executor.WithEngine(g.Engine()), executor.WithLogger(e.logger)), g, agent.WithLogger(e.logger))

	// The report carries the run error; it is printed, not returned.
	report, _ := loop.Run(ctx, goal)
	if err := writeReport(cmd.OutOrStdout(), report, runFormat); err != nil {
		return err
	}
	if code := exitCode(report); code != ExitOK {
		return &exitError{code: code}
	}
	return nil
}

// exitCode maps a run outcome to the process exit code.
func exitCode(r *agent.Report) int {
	switch r.Outcome {
	case agent.OutcomeCompleted, agent.OutcomeTurnLimit, agent.OutcomeAborted:
		return ExitOK
	case agent.OutcomeStalled, agent.OutcomeCeiling:
		return ExitGraph
	default:
		return ExitFatal
	}
}

func writeReport(w io.Writer, r *agent.Report, format string) error {
	if format == "json" {
		out, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(w, string(out))
		return nil
	}

	fmt.Fprintf(w, "Run %s: %s after %d turn(s)", r.RunID, r.Outcome, r.Turns)
	if r.Reason != "" {
		fmt.Fprintf(w, " (%s)", r.Reason)
	}
	fmt.Fprintln(w)
	if r.Goal != "" {
		fmt.Fprintf(w, "Goal: %s\n", r.Goal)
	}
	for _, o := range r.Observations {
		fmt.Fprintf(w, "  [%d] %-8s %-8s %s\n", o.Turn, o.Status, o.Decision.Risk, o.Action.Describe())
		if o.Error != "" {
			fmt.Fprintf(w, "        %s\n", o.Error)
		}
		if out := strings.TrimSpace(o.Output); out != "" {
			for _, line := range strings.Split(truncate(out, 400), "\n") {
				fmt.Fprintf(w, "        %s\n", line)
			}
		}
	}
	states := make([]string, 0, len(r.Steps))
	for _, s := range r.Steps {
		states = append(states, s.State.String())
	}
	if len(states) > 0 {
		fmt.Fprintf(w, "Path: %s\n", strings.Join(states, " -> "))
	}
	if r.Error != "" && !errors.Is(r.Err, context.Canceled) {
		fmt.Fprintf(w, "Error: %s\n", r.Error)
	}
	return nil
}

// truncate bounds s to n bytes, cutting on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := max(n-3, 0)
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
