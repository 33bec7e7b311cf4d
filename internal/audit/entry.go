package audit

// Entry kinds.
const (
	KindDecision         = "decision"
	KindApprovalCreated  = "approval_created"
	KindApprovalResolved = "approval_resolved"
	KindRunStarted       = "run_started"
	KindRunFinished      = "run_finished"
)

// AuditAction is the flattened action recorded in each audit entry.
type AuditAction struct {
	Operation string `json:"operation"`
	Target    string `json:"target"`
}

// AuditEntry is one line in the hash-chained JSONL audit log.
// All fields are structs (no map[string]any) to guarantee deterministic
// json.Marshal field order for reproducible hashing.
type AuditEntry struct {
	Timestamp  string      `json:"ts"`
	Kind       string      `json:"kind"`
	RunID      string      `json:"run_id,omitempty"`
	Action     AuditAction `json:"action"`
	Decision   string      `json:"decision,omitempty"`
	Risk       string      `json:"risk_level,omitempty"`
	RuleID     string      `json:"rule_id,omitempty"`
	Reason     string      `json:"reason,omitempty"`
	RequestID  string      `json:"request_id,omitempty"`
	ResolvedBy string      `json:"resolved_by,omitempty"`
	PolicyHash string      `json:"policy_hash,omitempty"`
	PrevHash   string      `json:"prev_hash"`
}
