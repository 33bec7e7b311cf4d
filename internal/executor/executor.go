// Package executor performs actions that have already passed the gate.
// It never evaluates policy itself.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/model"
	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/policy"
	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/redact"
)

// ErrUnsupported is returned for operations with no registered handler.
var ErrUnsupported = errors.New("operation not supported by this executor")

const (
	DefaultMaxOutput    = 64 * 1024
	DefaultShellTimeout = 2 * time.Minute
)

// Result captures what an action produced.
type Result struct {
	Output    string `json:"output"`
	ExitCode  int    `json:"exit_code"`
	Redacted  int    `json:"redacted,omitempty"`
	Truncated bool   `json:"truncated,omitempty"`
}

// Failed reports a non-zero exit code.
func (r Result) Failed() bool {
	return r.ExitCode != 0
}

// Func executes one action.
type Func func(ctx context.Context, action model.Action) (Result, error)

// Registry maps operations to handlers. It is read-only after construction
// and safe for concurrent use.
type Registry struct {
	handlers     map[model.Operation]Func
	maxOutput    int
	shellTimeout time.Duration
	client       *http.Client
	engine       *policy.Engine
	logger       *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithMaxOutput bounds the bytes kept from any single result.
func WithMaxOutput(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.maxOutput = n
		}
	}
}

// WithShellTimeout bounds a single shell command.
func WithShellTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.shellTimeout = d
		}
	}
}

// WithHTTPClient sets the client used for network actions.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Registry) {
		if c != nil {
			r.client = c
		}
	}
}

// WithEngine sets the policy engine whose sensitive file list walking
// handlers honour. Default: policy.NewDefault.
func WithEngine(e *policy.Engine) Option {
	return func(r *Registry) {
		if e != nil {
			r.engine = e
		}
	}
}

// WithLogger sets the registry's logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithHandler registers fn for op, replacing any builtin.
func WithHandler(op model.Operation, fn Func) Option {
	return func(r *Registry) {
		r.handlers[op] = fn
	}
}

// New returns a registry with the builtin handlers installed.
func New(opts ...Option) *Registry {
	r := &Registry{
		handlers:     make(map[model.Operation]Func),
		maxOutput:    DefaultMaxOutput,
		shellTimeout: DefaultShellTimeout,
		client:       &http.Client{Timeout: 30 * time.Second},
		engine:       policy.NewDefault(),
		logger:       slog.New(slog.DiscardHandler),
	}
	r.handlers[model.OpFileRead] = r.readFile
	r.handlers[model.OpFileWrite] = writeFile
	r.handlers[model.OpFileList] = listDir
	r.handlers[model.OpFileSearch] = r.searchFiles
	r.handlers[model.OpShell] = r.runShell
	r.handlers[model.OpNetwork] = r.fetch
	r.handlers[model.OpProcessKill] = killProcess
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "executor")
	return r
}

// Execute runs action with its registered handler. Output is scanned for
// secrets and truncated to the configured bound.
func (r *Registry) Execute(ctx context.Context, action model.Action) (Result, error) {
	fn, ok := r.handlers[action.Operation]
	if !ok {
		return Result{}, fmt.Errorf("%s: %w", action.Operation, ErrUnsupported)
	}

	start := time.Now()
	res, err := fn(ctx, action)
	if err != nil {
		r.logger.Warn("action failed", "operation", action.Operation, "error", err)
		return res, err
	}

	res.Output, res.Redacted = redact.Output(res.Output)
	if len(res.Output) > r.maxOutput {
		cut := r.maxOutput
		for cut > 0 && !utf8.RuneStart(res.Output[cut]) {
			cut--
		}
		res.Output = res.Output[:cut]
		res.Truncated = true
	}
	r.logger.Debug("action executed",
		"operation", action.Operation, "exit_code", res.ExitCode,
		"bytes", len(res.Output), "redacted", res.Redacted, "elapsed", time.Since(start))
	return res, nil
}
