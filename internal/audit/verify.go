package audit

import (
	"encoding/json"
	"errors"
	"fmt"
)

// VerifyResult is the outcome of checking a log's hash chain.
type VerifyResult struct {
	Valid     bool   `json:"valid"`
	Lines     int    `json:"lines"`
	Head      string `json:"head,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorLine int    `json:"error_line,omitempty"`
}

var knownKinds = map[string]bool{
	KindDecision:         true,
	KindApprovalCreated:  true,
	KindApprovalResolved: true,
	KindRunStarted:       true,
	KindRunFinished:      true,
}

// Verify checks that every entry in the log at path links to the hash of
// the line before it, starting from GenesisHash, and that every entry has
// a known kind. It reports the first broken link. A missing file is an
// empty, valid chain.
func Verify(path string) VerifyResult {
	head, n, err := walk(path, func(_ int, line []byte, want string) error {
		var entry AuditEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			return fmt.Errorf("parse error: %w", err)
		}
		if entry.PrevHash != want {
			if want == GenesisHash {
				return fmt.Errorf("first entry prev_hash is %q, expected genesis hash", entry.PrevHash)
			}
			return fmt.Errorf("hash mismatch: expected %s, got %s", want, entry.PrevHash)
		}
		if !knownKinds[entry.Kind] {
			return fmt.Errorf("unknown entry kind %q", entry.Kind)
		}
		return nil
	})
	if err != nil {
		res := VerifyResult{Lines: n, Error: err.Error()}
		var le *lineError
		if errors.As(err, &le) {
			res.Error = le.err.Error()
			res.ErrorLine = le.line
			res.Lines = le.line - 1
		}
		return res
	}
	return VerifyResult{Valid: true, Lines: n, Head: head}
}
