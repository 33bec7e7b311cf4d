// Package client talks to a warden approval server.
package client

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/approval"
	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/gate"
	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/model"
	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/rpc"
)

// DefaultCallTimeout bounds every call except Authorize, which waits for a
// human and is bounded only by its context.
const DefaultCallTimeout = 5 * time.Second

// RuleUnreachable is the rule id of decisions made because the server could
// not be asked.
const RuleUnreachable = "failclosed.unreachable"

// Client connects to a warden approval server.
type Client struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

// New creates a client for addr. No connection is made until the first call.
func New(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("connect to approval server: %w", err)
	}
	return &Client{conn: conn, timeout: DefaultCallTimeout}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, in, out any, bounded bool) error {
	if bounded {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	req, err := rpc.Encode(in)
	if err != nil {
		return err
	}
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, rpc.FullMethod(method), req, resp); err != nil {
		return err
	}
	return rpc.Decode(resp, out)
}

// Evaluate asks the server for a decision without escalating.
// Fail-closed: any RPC error yields a critical denial and a nil error.
func (c *Client) Evaluate(ctx context.Context, action model.Action, pc model.PolicyContext) model.PolicyDecision {
	var resp rpc.EvaluateResponse
	err := c.invoke(ctx, rpc.MethodEvaluate, rpc.EvaluateRequest{Action: action, Policy: pc}, &resp, true)
	if err != nil {
		return unreachable(err)
	}
	return resp.Decision
}

// Authorize asks the server to decide and, when appealable, to wait for a
// human. Errors mirror gate.Authorize: *gate.DeniedError,
// gate.ErrApprovalRejected or gate.ErrApprovalTimeout. An unreachable
// server is a denial.
func (c *Client) Authorize(ctx context.Context, action model.Action, pc model.PolicyContext, runID string) (gate.Verdict, error) {
	var resp rpc.AuthorizeResponse
	err := c.invoke(ctx, rpc.MethodAuthorize, rpc.EvaluateRequest{Action: action, Policy: pc, RunID: runID}, &resp, false)
	if err != nil {
		d := unreachable(err)
		return gate.Verdict{Decision: d}, &gate.DeniedError{Action: action, Decision: d}
	}

	v := gate.Verdict{Decision: resp.Decision, RequestID: resp.RequestID, Status: resp.Status}
	switch {
	case resp.Proceed:
		return v, nil
	case resp.Denied:
		return v, &gate.DeniedError{Action: action, Decision: resp.Decision}
	case resp.Status == approval.StatusRejected:
		return v, gate.ErrApprovalRejected
	default:
		return v, gate.ErrApprovalTimeout
	}
}

// Pending lists pending requests, oldest first.
func (c *Client) Pending(ctx context.Context) ([]approval.Request, error) {
	var resp rpc.ListResponse
	if err := c.invoke(ctx, rpc.MethodListPending, struct{}{}, &resp, true); err != nil {
		return nil, err
	}
	return resp.Requests, nil
}

// History lists resolved requests, most recent first.
func (c *Client) History(ctx context.Context, limit int) ([]approval.Request, error) {
	var resp rpc.ListResponse
	if err := c.invoke(ctx, rpc.MethodHistory, rpc.ListRequest{Limit: limit}, &resp, true); err != nil {
		return nil, err
	}
	return resp.Requests, nil
}

// Approve approves one pending request.
func (c *Client) Approve(ctx context.Context, id, by string) error {
	return c.invoke(ctx, rpc.MethodApprove, rpc.ResolveRequest{ID: id, By: by}, &rpc.ResolveResponse{}, true)
}

// Reject rejects one pending request.
func (c *Client) Reject(ctx context.Context, id, by string) error {
	return c.invoke(ctx, rpc.MethodReject, rpc.ResolveRequest{ID: id, By: by}, &rpc.ResolveResponse{}, true)
}

// ApproveAll approves everything pending and returns how many were resolved.
func (c *Client) ApproveAll(ctx context.Context, by string) (int, error) {
	var resp rpc.ResolveResponse
	err := c.invoke(ctx, rpc.MethodApproveAll, rpc.ResolveRequest{By: by}, &resp, true)
	return resp.Resolved, err
}

// RejectAll rejects everything pending and returns how many were resolved.
func (c *Client) RejectAll(ctx context.Context, by string) (int, error) {
	var resp rpc.ResolveResponse
	err := c.invoke(ctx, rpc.MethodRejectAll, rpc.ResolveRequest{By: by}, &resp, true)
	return resp.Resolved, err
}

func unreachable(err error) model.PolicyDecision {
	return model.PolicyDecision{
		Risk:   model.RiskCritical,
		Reason: fmt.Sprintf("approval server unreachable: %v", err),
		RuleID: RuleUnreachable,
	}
}
