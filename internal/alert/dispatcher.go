package alert

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/audit"
	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/redact"
)

// Dispatcher fans out audit entries to matching webhook configurations.
// It implements audit.Recorder so it can sit beside the audit log.
type Dispatcher struct {
	configs []AlertConfig
	sender  *Sender
	logger  *slog.Logger
	wg      sync.WaitGroup
}

var _ audit.Recorder = (*Dispatcher)(nil)

// NewDispatcher creates a Dispatcher from webhook configurations.
// Returns nil if configs is empty (callers should nil-check).
func NewDispatcher(configs []AlertConfig, logger *slog.Logger) *Dispatcher {
	if len(configs) == 0 {
		return nil
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Dispatcher{configs: configs, sender: DefaultSender, logger: logger.With("component", "alert")}
}

// Record implements audit.Recorder. Sends happen in the background; failures
// are logged and never returned.
func (d *Dispatcher) Record(entry audit.AuditEntry) error {
	if d == nil {
		return nil
	}
	d.Dispatch(FromEntry(entry))
	return nil
}

// Dispatch sends the event to all webhooks whose Events list matches.
// Fires goroutines; does not block the caller.
func (d *Dispatcher) Dispatch(event AlertEvent) {
	for _, cfg := range d.configs {
		if !matches(cfg.Events, event) {
			continue
		}
		d.wg.Add(1)
		go func(cfg AlertConfig) {
			defer d.wg.Done()
			if err := d.sender.Send(context.Background(), cfg, event); err != nil {
				d.logger.Warn("webhook failed", "url", cfg.URL, "event", event.Event, "error", err)
			}
		}(cfg)
	}
}

// Wait blocks until every send started so far has finished.
func (d *Dispatcher) Wait() {
	if d != nil {
		d.wg.Wait()
	}
}

// FromEntry converts an audit entry into an alert event. Decision entries
// are named by their verdict, everything else by kind. Credentials in the
// target and reason are masked.
func FromEntry(e audit.AuditEntry) AlertEvent {
	name := e.Kind
	if e.Kind == audit.KindDecision {
		name = e.Decision
	}
	ts := e.Timestamp
	if ts == "" {
		ts = time.Now().UTC().Format(time.RFC3339Nano)
	}
	return AlertEvent{
		Timestamp:  ts,
		Event:      name,
		RunID:      e.RunID,
		Operation:  e.Action.Operation,
		Target:     redact.Secrets(e.Action.Target),
		Decision:   e.Decision,
		Risk:       e.Risk,
		RuleID:     e.RuleID,
		Reason:     redact.Secrets(e.Reason),
		RequestID:  e.RequestID,
		ResolvedBy: e.ResolvedBy,
		PolicyHash: e.PolicyHash,
	}
}

func matches(events []string, event AlertEvent) bool {
	for _, e := range events {
		if e == event.Event {
			return true
		}
	}
	return false
}
