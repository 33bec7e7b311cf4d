package audit

import (
	"log/slog"

	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/approval"
)

// Recorder accepts audit entries. *Log is the durable implementation.
type Recorder interface {
	Record(entry AuditEntry) error
}

// Nop discards every entry.
type Nop struct{}

// Record implements Recorder.
func (Nop) Record(AuditEntry) error { return nil }

// Multi records to every non-nil recorder in order. All recorders see the
// entry; the first error is returned.
func Multi(recs ...Recorder) Recorder {
	out := make(multi, 0, len(recs))
	for _, r := range recs {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

type multi []Recorder

func (m multi) Record(entry AuditEntry) error {
	var first error
	for _, r := range m {
		if err := r.Record(entry); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// ApprovalListener records approval lifecycle events. Attach it with
// approval.Queue.Subscribe. Write failures are logged, never propagated
// into the queue.
type ApprovalListener struct {
	rec        Recorder
	policyHash func() string
	logger     *slog.Logger
}

// NewApprovalListener builds a listener writing to rec. policyHash may be nil.
func NewApprovalListener(rec Recorder, policyHash func() string, logger *slog.Logger) *ApprovalListener {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if policyHash == nil {
		policyHash = func() string { return "" }
	}
	return &ApprovalListener{rec: rec, policyHash: policyHash, logger: logger.With("component", "audit")}
}

// OnRequestCreated implements approval.Listener.
func (a *ApprovalListener) OnRequestCreated(r approval.Request) {
	a.record(KindApprovalCreated, r)
}

// OnRequestResolved implements approval.Listener.
func (a *ApprovalListener) OnRequestResolved(r approval.Request) {
	a.record(KindApprovalResolved, r)
}

func (a *ApprovalListener) record(kind string, r approval.Request) {
	entry := AuditEntry{
		Kind:       kind,
		RunID:      r.Context["run_id"],
		Action:     AuditAction{Operation: string(r.Operation), Target: r.Context["target"]},
		Decision:   string(r.Status),
		Risk:       r.Risk.String(),
		RuleID:     r.Decision.RuleID,
		Reason:     r.Decision.Reason,
		RequestID:  r.ID,
		ResolvedBy: r.ResolvedBy,
		PolicyHash: a.policyHash(),
	}
	if err := a.rec.Record(entry); err != nil {
		a.logger.Error("record approval event", "kind", kind, "id", r.ID, "error", err)
	}
}
