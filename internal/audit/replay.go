package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/model"
)

// TimestampFormat is the layout used in audit entry timestamps.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// ReplayFilter holds filtering criteria for run replay.
type ReplayFilter struct {
	RunID string    // empty = every run
	From  time.Time // zero value = no lower bound
	To    time.Time // zero value = no upper bound
}

// ReplaySummary holds decision counts and metadata for a replayed run.
type ReplaySummary struct {
	Total          int    `json:"total"`
	AllowCount     int    `json:"allow_count"`
	DenyCount      int    `json:"deny_count"`
	ApprovalCount  int    `json:"approval_count"`
	ApprovedCount  int    `json:"approved_count"`
	RejectedCount  int    `json:"rejected_count"`
	TimeoutCount   int    `json:"timeout_count"`
	FirstTimestamp string `json:"first_timestamp"`
	LastTimestamp  string `json:"last_timestamp"`
	MaxRisk        string `json:"max_risk"`
}

// ReplayResult holds filtered entries and summary for a run replay.
type ReplayResult struct {
	RunID   string        `json:"run_id"`
	Entries []AuditEntry  `json:"entries"`
	Summary ReplaySummary `json:"summary"`
}

// Replay reads the audit log and returns entries matching the filter.
func Replay(path string, filter ReplayFilter) (*ReplayResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	result := &ReplayResult{
		RunID: filter.RunID,
	}
	maxRisk := model.RiskLevel(-1)

	err = eachLine(f, func(line []byte) error {
		var entry AuditEntry
		if json.Unmarshal(line, &entry) != nil {
			return nil // skip malformed lines
		}

		if filter.RunID != "" && entry.RunID != filter.RunID {
			return nil
		}

		if !filter.From.IsZero() || !filter.To.IsZero() {
			ts, err := time.Parse(TimestampFormat, entry.Timestamp)
			if err != nil {
				return nil
			}
			if !filter.From.IsZero() && ts.Before(filter.From) {
				return nil
			}
			if !filter.To.IsZero() && ts.After(filter.To) {
				return nil
			}
		}

		result.Entries = append(result.Entries, entry)
		updateSummary(&result.Summary, entry)
		if r, err := model.ParseRiskLevel(entry.Risk); err == nil && r > maxRisk {
			maxRisk = r
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	if maxRisk >= 0 {
		result.Summary.MaxRisk = maxRisk.String()
	}
	return result, nil
}

func updateSummary(s *ReplaySummary, entry AuditEntry) {
	s.Total++

	decision := strings.ToLower(entry.Decision)
	switch entry.Kind {
	case KindDecision:
		switch decision {
		case "allow":
			s.AllowCount++
		case "deny":
			s.DenyCount++
		case "require_approval":
			s.ApprovalCount++
		}
	case KindApprovalResolved:
		switch decision {
		case "approved":
			s.ApprovedCount++
		case "rejected":
			s.RejectedCount++
		case "timeout":
			s.TimeoutCount++
		}
	}

	if s.FirstTimestamp == "" {
		s.FirstTimestamp = entry.Timestamp
	}
	s.LastTimestamp = entry.Timestamp
}
