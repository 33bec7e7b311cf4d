// Package mcp exposes warden's policy check, gated execution and approval
// queue as MCP tools over stdio, so an assistant can ask before acting and
// operators can answer from their editor.
package mcp

import (
	"context"
	"log/slog"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/approval"
	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/executor"
	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/gate"
	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/model"
)

// Approvals is what the tools need from a queue, local or remote.
// *client.Client satisfies it.
type Approvals interface {
	Evaluate(ctx context.Context, action model.Action, pc model.PolicyContext) model.PolicyDecision
	Authorize(ctx context.Context, action model.Action, pc model.PolicyContext, runID string) (gate.Verdict, error)
	Pending(ctx context.Context) ([]approval.Request, error)
	History(ctx context.Context, limit int) ([]approval.Request, error)
	Approve(ctx context.Context, id, by string) error
	Reject(ctx context.Context, id, by string) error
}

// Config holds MCP server configuration.
type Config struct {
	Name    string
	Version string
	Policy  model.PolicyContext // posture used by warden_check and warden_exec
	Actor   string              // recorded as the resolver of approvals
	Logger  *slog.Logger

	// Executor runs actions warden_exec was allowed to perform.
	// Default: executor.New().
	Executor *executor.Registry
}

// Server wraps the MCP SDK server.
type Server struct {
	mcpServer *mcpsdk.Server
	approvals Approvals
	exec      *executor.Registry
	policy    model.PolicyContext
	actor     string
	logger    *slog.Logger
}

// New creates an MCP server backed by approvals.
func New(approvals Approvals, cfg Config) *Server {
	if cfg.Name == "" {
		cfg.Name = "warden"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Actor == "" {
		cfg.Actor = "mcp"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	exec := cfg.Executor
	if exec == nil {
		exec = executor.New(executor.WithLogger(logger))
	}

	s := &Server{
		approvals: approvals,
		exec:      exec,
		policy:    cfg.Policy.Clone(),
		actor:     cfg.Actor,
		logger:    logger.With("component", "mcp"),
	}
	s.mcpServer = mcpsdk.NewServer(&mcpsdk.Implementation{Name: cfg.Name, Version: cfg.Version}, nil)
	s.registerTools()
	return s
}

// Run serves on stdio until ctx is cancelled or the peer disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("mcp server starting", "transport", "stdio")
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "warden_check",
		Description: "Classify an action (file_read, file_write, shell, process_kill, clipboard_write, network, file_list, file_search) without running it. Returns the verdict, risk level and rule.",
	}, s.handleCheck)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "warden_exec",
		Description: "Run an action through the gate. Allowed actions run at once, appealable ones wait for a human to approve, critical ones are refused. Returns the verdict and, when it ran, the redacted output.",
	}, s.handleExec)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "warden_pending",
		Description: "List approval requests waiting for a human, oldest first.",
	}, s.handlePending)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "warden_history",
		Description: "List resolved approval requests, most recent first.",
	}, s.handleHistory)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "warden_approve",
		Description: "Approve a pending request by id.",
	}, s.handleApprove)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "warden_reject",
		Description: "Reject a pending request by id.",
	}, s.handleReject)
}

// Local serves the tools straight from an in-process gate.
type Local struct {
	Gate *gate.Gate
}

var _ Approvals = Local{}

// Evaluate implements Approvals. The decision is recorded but never queued.
func (l Local) Evaluate(_ context.Context, action model.Action, pc model.PolicyContext) model.PolicyDecision {
	return l.Gate.Check(action, pc, "")
}

// Authorize implements Approvals. Escalations wait on the gate's queue.
func (l Local) Authorize(ctx context.Context, action model.Action, pc model.PolicyContext, runID string) (gate.Verdict, error) {
	return l.Gate.Authorize(ctx, action, pc, runID)
}

// Pending implements Approvals.
func (l Local) Pending(context.Context) ([]approval.Request, error) {
	return l.Gate.Queue().Pending(), nil
}

// History implements Approvals.
func (l Local) History(_ context.Context, limit int) ([]approval.Request, error) {
	return l.Gate.Queue().History(limit), nil
}

// Approve implements Approvals.
func (l Local) Approve(_ context.Context, id, by string) error {
	return l.resolve(id, by, l.Gate.Queue().Approve)
}

// Reject implements Approvals.
func (l Local) Reject(_ context.Context, id, by string) error {
	return l.resolve(id, by, l.Gate.Queue().Reject)
}

func (l Local) resolve(id, by string, fn func(id, by string) bool) error {
	if fn(id, by) {
		return nil
	}
	if _, ok := l.Gate.Queue().Get(id); ok {
		return errAlreadyResolved(id)
	}
	return approval.ErrNotFound
}
