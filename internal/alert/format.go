package alert

import (
	"encoding/json"
	"fmt"
)

// FormatPayload builds the webhook body for the given format.
func FormatPayload(format string, event AlertEvent) ([]byte, error) {
	switch format {
	case "slack":
		return formatSlack(event)
	case "pagerduty":
		return formatPagerDuty(event)
	default:
		return formatGeneric(event)
	}
}

func formatGeneric(event AlertEvent) ([]byte, error) {
	return json.Marshal(event)
}

func formatSlack(event AlertEvent) ([]byte, error) {
	fields := []any{
		map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Operation:* %s", event.Operation)},
		map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Target:* %s", event.Target)},
		map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Risk:* %s", orDash(event.Risk))},
		map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Reason:* %s", orDash(event.Reason))},
	}
	if event.RequestID != "" {
		fields = append(fields, map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Request:* `%s`", event.RequestID)})
	}
	if event.ResolvedBy != "" {
		fields = append(fields, map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Resolved by:* %s (%s)", event.ResolvedBy, event.Decision)})
	}

	payload := map[string]any{
		"blocks": []any{
			map[string]any{
				"type": "header",
				"text": map[string]any{
					"type": "plain_text",
					"text": fmt.Sprintf("warden: %s", event.Event),
				},
			},
			map[string]any{
				"type":   "section",
				"fields": fields,
			},
		},
	}
	return json.Marshal(payload)
}

func formatPagerDuty(event AlertEvent) ([]byte, error) {
	severity := "info"
	switch event.Risk {
	case "critical":
		severity = "critical"
	case "high":
		severity = "error"
	case "medium":
		severity = "warning"
	}

	payload := map[string]any{
		"event_action": "trigger",
		"payload": map[string]any{
			"summary":  fmt.Sprintf("warden %s: %s %s", event.Event, event.Operation, event.Target),
			"severity": severity,
			"source":   "warden",
			"custom_details": map[string]any{
				"operation":  event.Operation,
				"target":     event.Target,
				"rule_id":    event.RuleID,
				"reason":     event.Reason,
				"run_id":     event.RunID,
				"request_id": event.RequestID,
			},
		},
	}
	return json.Marshal(payload)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
