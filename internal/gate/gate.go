// Package gate binds the policy engine, the approval queue and the audit
// log into the single checkpoint every proposed action passes through.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/approval"
	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/audit"
	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/model"
	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/policy"
	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/tracing"
)

var (
	// ErrDenied matches every *DeniedError.
	ErrDenied = errors.New("action denied by policy")
	// ErrApprovalRejected is returned when a human rejects the request.
	ErrApprovalRejected = errors.New("approval rejected")
	// ErrApprovalTimeout is returned when nobody answered in time, or the
	// wait was cancelled.
	ErrApprovalTimeout = errors.New("approval timed out")
)

// DeniedError is returned for critical actions. No approval is offered.
type DeniedError struct {
	Action   model.Action
	Decision model.PolicyDecision
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("%s blocked (%s): %s", e.Action.Operation, e.Decision.RuleID, e.Decision.Reason)
}

func (e *DeniedError) Is(target error) bool { return target == ErrDenied }

// Verdict is the outcome of Authorize.
type Verdict struct {
	Decision  model.PolicyDecision
	RequestID string          // set when a human was asked
	Status    approval.Status // final approval status, empty when none was needed
}

// Proceed reports whether the action may run.
func (v Verdict) Proceed() bool {
	return v.Decision.Allowed || v.Status == approval.StatusApproved
}

// Gate evaluates actions against the current engine, escalates appealable
// ones to the approval queue and records every decision.
type Gate struct {
	engine  atomic.Pointer[policy.Engine]
	queue   *approval.Queue
	rec     audit.Recorder
	logger  *slog.Logger
	timeout time.Duration
}

// Option configures a Gate.
type Option func(*Gate)

// WithAudit sets the recorder for decision entries. Default: audit.Nop.
func WithAudit(r audit.Recorder) Option {
	return func(g *Gate) {
		if r != nil {
			g.rec = r
		}
	}
}

// WithLogger sets the gate's logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithTimeout sets how long Escalate waits for a human. Zero defers to the
// queue's default.
func WithTimeout(d time.Duration) Option {
	return func(g *Gate) { g.timeout = d }
}

// New builds a gate. A nil engine means policy.NewDefault.
func New(engine *policy.Engine, queue *approval.Queue, opts ...Option) *Gate {
	if engine == nil {
		engine = policy.NewDefault()
	}
	if queue == nil {
		queue = approval.New()
	}
	g := &Gate{
		queue:  queue,
		rec:    audit.Nop{},
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With("component", "gate")
	g.engine.Store(engine)
	return g
}

// Engine returns the engine currently in force.
func (g *Gate) Engine() *policy.Engine {
	return g.engine.Load()
}

// SetEngine swaps the engine used by subsequent checks. Snapshots taken
// earlier keep the engine they started with.
func (g *Gate) SetEngine(e *policy.Engine) {
	if e == nil {
		return
	}
	prev := g.engine.Swap(e)
	if prev == nil || prev.Hash() != e.Hash() {
		g.logger.Info("policy engine replaced", "policy_hash", e.Hash())
	}
}

// Snapshot returns a gate pinned to the current engine, sharing the queue,
// recorder and logger. A run uses one snapshot from start to finish.
func (g *Gate) Snapshot() *Gate {
	s := &Gate{
		queue:   g.queue,
		rec:     g.rec,
		logger:  g.logger,
		timeout: g.timeout,
	}
	s.engine.Store(g.engine.Load())
	return s
}

// Queue returns the approval queue escalations go to.
func (g *Gate) Queue() *approval.Queue {
	return g.queue
}

// Check evaluates action and records the decision.
func (g *Gate) Check(action model.Action, pc model.PolicyContext, runID string) model.PolicyDecision {
	engine := g.engine.Load()
	d := engine.Evaluate(action, pc)

	entry := audit.AuditEntry{
		Kind:       audit.KindDecision,
		RunID:      runID,
		Action:     audit.AuditAction{Operation: string(action.Operation), Target: action.Target},
		Decision:   d.Verdict(),
		Risk:       d.Risk.String(),
		RuleID:     d.RuleID,
		Reason:     d.Reason,
		PolicyHash: engine.Hash(),
	}
	if err := g.rec.Record(entry); err != nil {
		g.logger.Error("record decision", "run_id", runID, "error", err)
	}
	g.logger.Debug("policy decision",
		"run_id", runID, "operation", action.Operation, "verdict", d.Verdict(),
		"risk", d.Risk, "rule", d.RuleID)
	return d
}

// Note records a run lifecycle entry such as audit.KindRunStarted.
func (g *Gate) Note(kind, runID, reason string) {
	entry := audit.AuditEntry{
		Kind:       kind,
		RunID:      runID,
		Reason:     reason,
		PolicyHash: g.engine.Load().Hash(),
	}
	if err := g.rec.Record(entry); err != nil {
		g.logger.Error("record run event", "kind", kind, "run_id", runID, "error", err)
	}
}

// Escalate registers an approval request for an appealable decision and
// waits for it. It returns the final status; rejected and timed-out requests
// also return ErrApprovalRejected or ErrApprovalTimeout.
func (g *Gate) Escalate(ctx context.Context, action model.Action, d model.PolicyDecision, runID string) (string, approval.Status, error) {
	req := g.queue.Create(action.Operation, action.Describe(), d.Risk, d, map[string]string{
		"run_id": runID,
		"target": action.Target,
	})
	g.logger.Info("awaiting approval",
		"run_id", runID, "id", req.ID, "operation", action.Operation, "risk", d.Risk)

	st, err := g.queue.Wait(ctx, req.ID, g.timeout)
	if err != nil {
		return req.ID, st, err
	}
	switch st {
	case approval.StatusApproved:
		return req.ID, st, nil
	case approval.StatusRejected:
		return req.ID, st, ErrApprovalRejected
	default:
		return req.ID, st, ErrApprovalTimeout
	}
}

// Authorize decides whether action may run, asking a human when the policy
// allows an appeal.
//
// Evaluation order (must not be changed):
//  1. Allowed by policy: proceed without a queue entry
//  2. Critical: *DeniedError, no queue entry
//  3. Appealable: register, wait, then approved/rejected/timeout
func (g *Gate) Authorize(ctx context.Context, action model.Action, pc model.PolicyContext, runID string) (v Verdict, err error) {
	ctx, span := tracing.StartSpan(ctx, "gate.authorize")
	span.WithAttributes(map[string]string{
		"operation": string(action.Operation),
		"run_id":    runID,
	})
	defer func() { tracing.EndSpan(span, err) }()

	d := g.Check(action, pc, runID)
	v = Verdict{Decision: d}

	if d.Allowed {
		return v, nil
	}
	if !d.Appealable() {
		return v, &DeniedError{Action: action, Decision: d}
	}

	v.RequestID, v.Status, err = g.Escalate(ctx, action, d, runID)
	return v, err
}
