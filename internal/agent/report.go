package agent

import (
	"context"
	"errors"

	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/fsm"
)

// Outcome is how a run ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeTurnLimit Outcome = "turn_limit"
	OutcomeAborted   Outcome = "aborted"
	OutcomeStalled   Outcome = "stalled"
	OutcomeCeiling   Outcome = "ceiling"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// Healthy reports whether the run ended through a DONE transition.
func (o Outcome) Healthy() bool {
	switch o {
	case OutcomeCompleted, OutcomeTurnLimit, OutcomeAborted:
		return true
	}
	return false
}

// Report summarises a finished run.
type Report struct {
	RunID        string        `json:"run_id"`
	Goal         string        `json:"goal"`
	Outcome      Outcome       `json:"outcome"`
	Reason       string        `json:"reason,omitempty"`
	FinalState   fsm.State     `json:"final_state"`
	Turns        int           `json:"turns"`
	Steps        []fsm.Step    `json:"steps"`
	Observations []Observation `json:"observations"`
	Summaries    []string      `json:"summaries,omitempty"`
	Error        string        `json:"error,omitempty"`
	Err          error         `json:"-"`
}

// classify maps a machine result to an outcome. Stall and ceiling are
// failures of the run graph, never normal termination.
func classify(rc *fsm.RunContext, res fsm.Result, err error) Outcome {
	switch {
	case err == nil && res.Final == fsm.Done:
		if rc.Abort {
			return OutcomeAborted
		}
		if rc.HasToolCalls && rc.Turn >= rc.MaxTurns {
			return OutcomeTurnLimit
		}
		return OutcomeCompleted
	case errors.Is(err, fsm.ErrStall):
		return OutcomeStalled
	case errors.Is(err, fsm.ErrCeiling):
		return OutcomeCeiling
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCancelled
	default:
		return OutcomeFailed
	}
}
