package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/approval"
	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/executor"
	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/model"
)

// CheckInput defines parameters for the warden_check tool.
type CheckInput struct {
	Operation string `json:"operation" jsonschema:"operation tag, e.g. shell or file_write"`
	Target    string `json:"target" jsonschema:"path, command, URL or process name"`
}

// CheckOutput contains the policy decision.
type CheckOutput struct {
	Verdict          string `json:"verdict"`
	Allowed          bool   `json:"allowed"`
	RequiresApproval bool   `json:"requires_approval"`
	Risk             string `json:"risk_level"`
	RuleID           string `json:"rule_id,omitempty"`
	Reason           string `json:"reason"`
}

// ExecInput defines parameters for the warden_exec tool.
type ExecInput struct {
	Operation string `json:"operation" jsonschema:"operation tag, e.g. shell or file_write"`
	Target    string `json:"target" jsonschema:"path, command, URL or process name"`
	Content   string `json:"content,omitempty" jsonschema:"data to write for file_write and clipboard_write"`
	RunID     string `json:"run_id,omitempty" jsonschema:"caller's run id, shown to the approver"`
}

// ExecOutput reports the gate's verdict and what the action produced.
type ExecOutput struct {
	Verdict   string `json:"verdict"`
	Risk      string `json:"risk_level"`
	RuleID    string `json:"rule_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Status    string `json:"status,omitempty"`
	Executed  bool   `json:"executed"`
	Output    string `json:"output,omitempty"`
	ExitCode  int    `json:"exit_code"`
	Redacted  int    `json:"redacted,omitempty"`
	Truncated bool   `json:"truncated,omitempty"`
}

// ListInput defines parameters for warden_pending and warden_history.
type ListInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"maximum number of requests to return"`
}

// RequestItem is one approval request as shown to the assistant.
type RequestItem struct {
	ID          string `json:"id"`
	Operation   string `json:"operation"`
	Description string `json:"description"`
	Risk        string `json:"risk_level"`
	Reason      string `json:"reason,omitempty"`
	RunID       string `json:"run_id,omitempty"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
	ResolvedBy  string `json:"resolved_by,omitempty"`
}

// ListOutput contains approval requests.
type ListOutput struct {
	Requests []RequestItem `json:"requests"`
}

// ResolveInput defines parameters for warden_approve and warden_reject.
type ResolveInput struct {
	ID string `json:"id" jsonschema:"approval request id"`
}

// ResolveOutput reports the new status.
type ResolveOutput struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func errAlreadyResolved(id string) error {
	return fmt.Errorf("approval request %s is no longer pending", id)
}

func (s *Server) handleCheck(ctx context.Context, _ *mcpsdk.CallToolRequest, input CheckInput) (*mcpsdk.CallToolResult, CheckOutput, error) {
	op, err := model.ParseOperation(input.Operation)
	if err != nil {
		return nil, CheckOutput{}, err
	}
	d := s.approvals.Evaluate(ctx, model.Action{Operation: op, Target: input.Target}, s.policy)
	s.logger.Debug("check", "operation", op, "verdict", d.Verdict(), "rule", d.RuleID)
	return nil, CheckOutput{
		Verdict:          d.Verdict(),
		Allowed:          d.Allowed,
		RequiresApproval: d.RequiresApproval,
		Risk:             d.Risk.String(),
		RuleID:           d.RuleID,
		Reason:           d.Reason,
	}, nil
}

func (s *Server) handleExec(ctx context.Context, _ *mcpsdk.CallToolRequest, input ExecInput) (*mcpsdk.CallToolResult, ExecOutput, error) {
	op, err := model.ParseOperation(input.Operation)
	if err != nil {
		return nil, ExecOutput{}, err
	}
	runID := input.RunID
	if runID == "" {
		runID = s.actor
	}
	action := model.Action{Operation: op, Target: input.Target, Content: input.Content}

	v, err := s.approvals.Authorize(ctx, action, s.policy, runID)
	out := ExecOutput{
		Verdict:   v.Decision.Verdict(),
		Risk:      v.Decision.Risk.String(),
		RuleID:    v.Decision.RuleID,
		RequestID: v.RequestID,
		Status:    string(v.Status),
	}
	if err != nil {
		s.logger.Info("exec refused", "run_id", runID, "operation", op, "rule", v.Decision.RuleID, "error", err)
		return &mcpsdk.CallToolResult{IsError: true}, out, err
	}
	if !v.Proceed() {
		return &mcpsdk.CallToolResult{IsError: true}, out, fmt.Errorf("%s: not authorized", action.Describe())
	}

	res, err := s.exec.Execute(ctx, action)
	out.Executed = !errors.Is(err, executor.ErrUnsupported)
	out.Output, out.ExitCode, out.Redacted, out.Truncated = res.Output, res.ExitCode, res.Redacted, res.Truncated
	if err != nil {
		return &mcpsdk.CallToolResult{IsError: true}, out, err
	}
	s.logger.Info("exec done", "run_id", runID, "operation", op, "exit_code", res.ExitCode, "request_id", v.RequestID)
	return nil, out, nil
}

func (s *Server) handlePending(ctx context.Context, _ *mcpsdk.CallToolRequest, input ListInput) (*mcpsdk.CallToolResult, ListOutput, error) {
	reqs, err := s.approvals.Pending(ctx)
	if err != nil {
		return nil, ListOutput{}, err
	}
	if input.Limit > 0 && len(reqs) > input.Limit {
		reqs = reqs[:input.Limit]
	}
	return nil, ListOutput{Requests: toItems(reqs)}, nil
}

func (s *Server) handleHistory(ctx context.Context, _ *mcpsdk.CallToolRequest, input ListInput) (*mcpsdk.CallToolResult, ListOutput, error) {
	reqs, err := s.approvals.History(ctx, input.Limit)
	if err != nil {
		return nil, ListOutput{}, err
	}
	return nil, ListOutput{Requests: toItems(reqs)}, nil
}

func (s *Server) handleApprove(ctx context.Context, _ *mcpsdk.CallToolRequest, input ResolveInput) (*mcpsdk.CallToolResult, ResolveOutput, error) {
	return s.resolve(ctx, input, s.approvals.Approve, approval.StatusApproved)
}

func (s *Server) handleReject(ctx context.Context, _ *mcpsdk.CallToolRequest, input ResolveInput) (*mcpsdk.CallToolResult, ResolveOutput, error) {
	return s.resolve(ctx, input, s.approvals.Reject, approval.StatusRejected)
}

func (s *Server) resolve(ctx context.Context, input ResolveInput, fn func(ctx context.Context, id, by string) error, st approval.Status) (*mcpsdk.CallToolResult, ResolveOutput, error) {
	id := strings.TrimSpace(input.ID)
	if id == "" {
		return nil, ResolveOutput{}, errors.New("missing request id")
	}
	if err := fn(ctx, id, s.actor); err != nil {
		return &mcpsdk.CallToolResult{IsError: true}, ResolveOutput{ID: id}, err
	}
	s.logger.Info("request resolved", "id", id, "status", st, "by", s.actor)
	return nil, ResolveOutput{ID: id, Status: string(st)}, nil
}

func toItems(reqs []approval.Request) []RequestItem {
	items := make([]RequestItem, len(reqs))
	for i, r := range reqs {
		items[i] = RequestItem{
			ID:          r.ID,
			Operation:   string(r.Operation),
			Description: r.Description,
			Risk:        r.Risk.String(),
			Reason:      r.Decision.Reason,
			RunID:       r.Context["run_id"],
			Status:      string(r.Status),
			CreatedAt:   r.Timestamp.Format(time.RFC3339),
			ResolvedBy:  r.ResolvedBy,
		}
	}
	return items
}
