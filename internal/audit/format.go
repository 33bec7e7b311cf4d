package audit

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const separator = "──────────────────────────────────────────────────────────────────"

// FormatTimeline renders a ReplayResult as a human-readable text timeline.
func FormatTimeline(result *ReplayResult) string {
	label := result.RunID
	if label == "" {
		label = "all"
	}
	if len(result.Entries) == 0 {
		return fmt.Sprintf("Run: %s | No entries found.\n", label)
	}

	var b strings.Builder

	firstTime := formatDateRange(result.Summary.FirstTimestamp)
	lastTime := formatTimeOnly(result.Summary.LastTimestamp)
	b.WriteString(fmt.Sprintf("Run: %s | %s to %s UTC\n", label, firstTime, lastTime))
	b.WriteString(separator + "\n")
	for _, e := range result.Entries {
		b.WriteString(FormatEntry(e))
	}
	b.WriteString(separator + "\n")
	b.WriteString(formatSummary(result.Summary))

	return b.String()
}

// FormatEntry renders one entry as a single timeline line.
func FormatEntry(e AuditEntry) string {
	ts := formatTimeOnly(e.Timestamp)
	risk := e.Risk
	if risk == "" {
		risk = "-"
	}
	decision := strings.ToUpper(e.Decision)
	if decision == "" {
		decision = strings.ToUpper(e.Kind)
	}
	op := truncate(e.Action.Operation, 15)
	target := truncate(e.Action.Target, 40)

	tag := ""
	switch e.Kind {
	case KindApprovalCreated, KindApprovalResolved:
		tag = "  [" + shortID(e.RequestID) + "]"
		if e.ResolvedBy != "" {
			tag += " by " + e.ResolvedBy
		}
	}
	return fmt.Sprintf("%-10s %-8s %-18s %-15s %-40s%s\n", ts, risk, decision, op, target, tag)
}

// FormatJSON renders a ReplayResult as indented JSON.
func FormatJSON(result *ReplayResult) (string, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal replay result: %w", err)
	}
	return string(data), nil
}

func formatDateRange(ts string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("2006-01-02 15:04:05")
}

func formatTimeOnly(ts string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("15:04:05")
}

func formatSummary(s ReplaySummary) string {
	parts := []string{}
	add := func(n int, label string) {
		if n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, label))
		}
	}
	add(s.AllowCount, "allow")
	add(s.DenyCount, "deny")
	add(s.ApprovalCount, "approval")
	add(s.ApprovedCount, "approved")
	add(s.RejectedCount, "rejected")
	add(s.TimeoutCount, "timeout")
	if len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("%d entries", s.Total))
	}

	maxRisk := s.MaxRisk
	if maxRisk == "" {
		maxRisk = "none"
	}
	return fmt.Sprintf("Summary: %s | Max risk: %s\n", strings.Join(parts, ", "), maxRisk)
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[len(id)-8:]
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
