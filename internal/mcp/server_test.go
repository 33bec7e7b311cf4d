package mcp

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/approval"
	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/executor"
	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/gate"
	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/model"
)

func newTestServer(t *testing.T, pc model.PolicyContext) (*Server, *approval.Queue) {
	t.Helper()
	q := approval.New()
	return New(Local{Gate: gate.New(nil, q)}, Config{Policy: pc, Actor: "editor"}), q
}

func queueShell(q *approval.Queue, cmd string) approval.Request {
	d := model.PolicyDecision{Risk: model.RiskHigh, RequiresApproval: true, Reason: "high-risk command"}
	return q.Create(model.OpShell, "shell: "+cmd, model.RiskHigh, d, map[string]string{"run_id": "run-9"})
}

func TestCheckReadOnlyAllowed(t *testing.T) {
	s, _ := newTestServer(t, model.PolicyContext{})

	_, out, err := s.handleCheck(context.Background(), &mcpsdk.CallToolRequest{}, CheckInput{Operation: "shell", Target: "git status"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Allowed || out.Verdict != "allow" || out.Risk != "low" {
		t.Errorf("expected low-risk allow, got %+v", out)
	}
}

func TestCheckCriticalDenied(t *testing.T) {
	s, q := newTestServer(t, model.PolicyContext{FullAccess: true, AutoApprove: true})

	_, out, err := s.handleCheck(context.Background(), &mcpsdk.CallToolRequest{}, CheckInput{Operation: "process_kill", Target: "systemd"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Verdict != "deny" || out.Risk != "critical" || out.RequiresApproval {
		t.Errorf("expected critical deny, got %+v", out)
	}
	if len(q.Pending()) != 0 {
		t.Error("check must not queue requests")
	}
}

func TestCheckUnknownOperation(t *testing.T) {
	s, _ := newTestServer(t, model.PolicyContext{})

	if _, _, err := s.handleCheck(context.Background(), &mcpsdk.CallToolRequest{}, CheckInput{Operation: "teleport", Target: "x"}); err == nil {
		t.Fatal("expected error for unknown operation")
	}
}

func TestPendingAndApprove(t *testing.T) {
	s, q := newTestServer(t, model.PolicyContext{})
	r := queueShell(q, "sudo reboot")
	queueShell(q, "sudo halt")

	_, list, err := s.handlePending(context.Background(), &mcpsdk.CallToolRequest{}, ListInput{Limit: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list.Requests) != 1 || list.Requests[0].ID != r.ID {
		t.Fatalf("expected oldest request first, got %+v", list.Requests)
	}
	if list.Requests[0].RunID != "run-9" || list.Requests[0].Status != "pending" {
		t.Errorf("unexpected item %+v", list.Requests[0])
	}

	_, out, err := s.handleApprove(context.Background(), &mcpsdk.CallToolRequest{}, ResolveInput{ID: r.ID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Status != "approved" {
		t.Errorf("expected approved, got %q", out.Status)
	}
	got, _ := q.Get(r.ID)
	if got.Status != approval.StatusApproved || got.ResolvedBy != "editor" {
		t.Errorf("queue not updated: %+v", got)
	}

	_, hist, err := s.handleHistory(context.Background(), &mcpsdk.CallToolRequest{}, ListInput{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hist.Requests) != 1 || hist.Requests[0].ResolvedBy != "editor" {
		t.Errorf("unexpected history %+v", hist.Requests)
	}
}

func TestRejectTwice(t *testing.T) {
	s, q := newTestServer(t, model.PolicyContext{})
	r := queueShell(q, "sudo reboot")

	if _, _, err := s.handleReject(context.Background(), &mcpsdk.CallToolRequest{}, ResolveInput{ID: r.ID}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result, _, err := s.handleReject(context.Background(), &mcpsdk.CallToolRequest{}, ResolveInput{ID: r.ID})
	if err == nil || result == nil || !result.IsError {
		t.Fatal("expected error result for already-resolved request")
	}
}

func TestResolveMissingID(t *testing.T) {
	s, _ := newTestServer(t, model.PolicyContext{})

	if _, _, err := s.handleApprove(context.Background(), &mcpsdk.CallToolRequest{}, ResolveInput{ID: " "}); err == nil {
		t.Fatal("expected error for empty id")
	}
	_, _, err := s.handleApprove(context.Background(), &mcpsdk.CallToolRequest{}, ResolveInput{ID: "nope"})
	if !errors.Is(err, approval.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// newExecServer wires warden_exec to a shell handler that records what it
// was asked to run instead of running it.
func newExecServer(t *testing.T) (*Server, *approval.Queue, *atomic.Int32) {
	t.Helper()
	var runs atomic.Int32
	fake := func(_ context.Context, action model.Action) (executor.Result, error) {
		runs.Add(1)
		return executor.Result{Output: "ran: " + action.Target + "\npassword=hunter2\n"}, nil
	}
	q := approval.New(approval.WithDefaultTimeout(time.Minute))
	s := New(Local{Gate: gate.New(nil, q)}, Config{
		Actor:    "editor",
		Executor: executor.New(executor.WithHandler(model.OpShell, fake)),
	})
	return s, q, &runs
}

func waitPending(t *testing.T, q *approval.Queue) approval.Request {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if p := q.Pending(); len(p) > 0 {
			return p[0]
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no approval request was created")
	return approval.Request{}
}

func TestExecAllowedRunsWithoutQueue(t *testing.T) {
	s, q, runs := newExecServer(t)

	_, out, err := s.handleExec(context.Background(), &mcpsdk.CallToolRequest{}, ExecInput{Operation: "shell", Target: "git status"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Executed || out.Verdict != "allow" || out.RequestID != "" {
		t.Errorf("expected direct execution, got %+v", out)
	}
	if runs.Load() != 1 || len(q.History(0)) != 0 {
		t.Errorf("expected one run and no queue traffic, runs=%d", runs.Load())
	}
	if out.Redacted == 0 {
		t.Errorf("expected credential in output to be redacted, got %q", out.Output)
	}
}

func TestExecWaitsForApproval(t *testing.T) {
	s, q, runs := newExecServer(t)

	type reply struct {
		out ExecOutput
		err error
	}
	done := make(chan reply, 1)
	go func() {
		_, out, err := s.handleExec(context.Background(), &mcpsdk.CallToolRequest{}, ExecInput{
			Operation: "shell", Target: "sudo systemctl restart nginx", RunID: "run-7",
		})
		done <- reply{out, err}
	}()

	r := waitPending(t, q)
	if r.Context["run_id"] != "run-7" {
		t.Errorf("expected caller run id on request, got %q", r.Context["run_id"])
	}
	if runs.Load() != 0 {
		t.Fatal("action ran before approval")
	}
	if _, _, err := s.handleApprove(context.Background(), &mcpsdk.CallToolRequest{}, ResolveInput{ID: r.ID}); err != nil {
		t.Fatalf("approve: %v", err)
	}

	select {
	case got := <-done:
		if got.err != nil {
			t.Fatalf("unexpected error: %v", got.err)
		}
		if !got.out.Executed || got.out.Status != "approved" || got.out.RequestID != r.ID {
			t.Errorf("expected approved execution, got %+v", got.out)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("warden_exec did not return after approval")
	}
	if runs.Load() != 1 {
		t.Errorf("expected one run, got %d", runs.Load())
	}
}

func TestExecRejectedDoesNotRun(t *testing.T) {
	s, q, runs := newExecServer(t)

	done := make(chan error, 1)
	go func() {
		_, _, err := s.handleExec(context.Background(), &mcpsdk.CallToolRequest{}, ExecInput{Operation: "shell", Target: "sudo systemctl restart nginx"})
		done <- err
	}()

	r := waitPending(t, q)
	q.Reject(r.ID, "ops")

	select {
	case err := <-done:
		if !errors.Is(err, gate.ErrApprovalRejected) {
			t.Errorf("expected rejection, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("warden_exec did not return after rejection")
	}
	if runs.Load() != 0 {
		t.Errorf("rejected action ran %d times", runs.Load())
	}
}

func TestExecCriticalDeniedWithoutQueue(t *testing.T) {
	s, q, _ := newExecServer(t)

	result, out, err := s.handleExec(context.Background(), &mcpsdk.CallToolRequest{}, ExecInput{Operation: "process_kill", Target: "systemd"})
	if !errors.Is(err, gate.ErrDenied) {
		t.Fatalf("expected denial, got %v", err)
	}
	if result == nil || !result.IsError || out.Executed || out.Risk != "critical" {
		t.Errorf("unexpected result %+v / %+v", result, out)
	}
	if len(q.Pending()) != 0 || len(q.History(0)) != 0 {
		t.Error("critical actions must not reach the queue")
	}
}
