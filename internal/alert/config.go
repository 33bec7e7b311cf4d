// Package alert posts webhook notifications for governance events: denied
// actions and approval requests that need or received a human answer.
package alert

import (
	"errors"
	"fmt"
	"net/url"
)

// Event names a webhook can subscribe to. Decision entries match by verdict,
// approval entries by kind.
const (
	EventDeny             = "deny"
	EventRequireApproval  = "require_approval"
	EventApprovalCreated  = "approval_created"
	EventApprovalResolved = "approval_resolved"
)

// AlertConfig defines a webhook alert destination.
type AlertConfig struct {
	URL     string            `yaml:"url" json:"url" mapstructure:"url"`
	Format  string            `yaml:"format" json:"format" mapstructure:"format"` // generic, slack, pagerduty
	Events  []string          `yaml:"events" json:"events" mapstructure:"events"`
	Headers map[string]string `yaml:"headers" json:"headers" mapstructure:"headers"`
}

// Validate reports a missing or malformed URL and an empty event list.
func (c AlertConfig) Validate() error {
	u, err := url.Parse(c.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("alert url %q must be an http(s) URL", c.URL)
	}
	if len(c.Events) == 0 {
		return errors.New("alert " + c.URL + " subscribes to no events")
	}
	switch c.Format {
	case "", "generic", "slack", "pagerduty":
	default:
		return fmt.Errorf("alert %s: unknown format %q", c.URL, c.Format)
	}
	return nil
}

// AlertEvent is the payload sent to webhook endpoints.
type AlertEvent struct {
	Timestamp  string `json:"timestamp"`
	Event      string `json:"event"`
	RunID      string `json:"run_id,omitempty"`
	Operation  string `json:"operation,omitempty"`
	Target     string `json:"target,omitempty"`
	Decision   string `json:"decision,omitempty"`
	Risk       string `json:"risk_level,omitempty"`
	RuleID     string `json:"rule_id,omitempty"`
	Reason     string `json:"reason,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
	ResolvedBy string `json:"resolved_by,omitempty"`
	PolicyHash string `json:"policy_hash,omitempty"`
}
