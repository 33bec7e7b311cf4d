// Package cli implements the warden command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/alert"
	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/approval"
	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/audit"
	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/config"
	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/gate"
	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/logging"
	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/policy"
	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/tracing"
)

// Process exit codes.
const (
	ExitOK    = 0
	ExitFatal = 1
	ExitGraph = 2 // run graph stalled or hit the step ceiling
)

var configPath string

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Config file (default ~/.warden/config.yaml)")
	pf.String("policy", "", "Policy YAML (default ~/.warden/policy.yaml)")
	pf.String("audit-log", "", "Audit log JSONL (default ~/.warden/audit.jsonl)")
	pf.String("listen", "", "Approval server address (default 127.0.0.1:7443)")
	pf.String("history-db", "", "SQLite database for durable approval history")
	pf.String("log-level", "", "Log level: debug, info, warn, error")
	pf.String("log-format", "", "Log format: text or json")
	pf.String("log-file", "", "Write logs to this file instead of stderr")
	pf.Bool("trace", false, "Export OpenTelemetry spans")
	pf.String("trace-output", "", "Span output file (default stderr)")
}

var rootCmd = &cobra.Command{
	Use:           "warden",
	Short:         "Action governance for autonomous agents",
	Long:          "Classifies every action an agent proposes, asks a human for the risky ones\nand refuses the dangerous ones outright. Every decision lands in a hash-chained audit log.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// exitError carries a process exit code. A nil err means the command has
// already reported the failure.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// Execute runs the root command and exits with the appropriate code.
func Execute() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	err := rootCmd.Execute()
	if err == nil {
		return ExitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", ee.err)
		}
		return ee.code
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return ExitFatal
}

// env is the resolved configuration plus the ambient services built from it.
type env struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func() error
}

// setup loads configuration with cmd's flags bound and opens logging and
// tracing. Call close when the command is done.
func setup(cmd *cobra.Command) (*env, error) {
	cfg, err := config.Load(configPath, cmd.Flags())
	if err != nil {
		return nil, err
	}
	logger, closeLog, err := logging.Open(cfg.Log.File, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	e := &env{cfg: cfg, logger: logger, closers: []func() error{closeLog}}
	if cfg.File != "" {
		logger.Debug("config loaded", "file", cfg.File)
	}
	if cfg.Tracing.Enabled {
		if err := tracing.Init("warden", version, cfg.Tracing.Output); err != nil {
			e.close()
			return nil, fmt.Errorf("init tracing: %w", err)
		}
		e.closers = append(e.closers, func() error { return tracing.Shutdown(context.Background()) })
	}
	return e, nil
}

func (e *env) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			e.logger.Warn("shutdown", "error", err)
		}
	}
	e.closers = nil
}

// openAudit opens the configured audit log, creating its directory.
func (e *env) openAudit() (*audit.Log, error) {
	path := e.cfg.Audit.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}
	log, err := audit.Open(path)
	if err != nil {
		return nil, err
	}
	e.closers = append(e.closers, log.Close)
	return log, nil
}

// buildGate wires the policy engine, approval queue, audit log and, when
// configured, webhook alerts and the SQLite history into a gate.
func (e *env) buildGate() (*gate.Gate, *approval.SQLiteHistory, error) {
	engine, err := policy.Load(e.cfg.Policy.File)
	if err != nil {
		return nil, nil, err
	}
	e.logger.Info("policy loaded", "file", e.cfg.Policy.File, "policy_hash", engine.Hash())

	queue := approval.New(
		approval.WithDefaultTimeout(e.cfg.Approval.Timeout),
		approval.WithHistoryLimit(e.cfg.Approval.HistoryLimit),
		approval.WithLogger(e.logger),
	)

	log, err := e.openAudit()
	if err != nil {
		return nil, nil, err
	}
	var rec audit.Recorder = log
	if d := alert.NewDispatcher(e.cfg.Alerts, e.logger); d != nil {
		rec = audit.Multi(log, d)
		e.closers = append(e.closers, func() error { d.Wait(); return nil })
		e.logger.Debug("alerts enabled", "webhooks", len(e.cfg.Alerts))
	}

	g := gate.New(engine, queue,
		gate.WithAudit(rec),
		gate.WithLogger(e.logger),
		gate.WithTimeout(e.cfg.Approval.Timeout),
	)
	queue.Subscribe(audit.NewApprovalListener(rec, func() string { return g.Engine().Hash() }, e.logger))

	var hist *approval.SQLiteHistory
	if e.cfg.Approval.HistoryDB != "" {
		hist, err = approval.OpenSQLiteHistory(e.cfg.Approval.HistoryDB, e.logger)
		if err != nil {
			return nil, nil, err
		}
		e.closers = append(e.closers, hist.Close)
		queue.Subscribe(hist)
	}
	return g, hist, nil
}
