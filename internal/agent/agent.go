// Package agent drives one governed think/act run: the planner proposes
// actions, the gate classifies and escalates them, the executor performs
// the approved ones, and the state machine sequences it all.
package agent

import (
	"context"

	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/executor"
	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/model"
)

// PlanInput is what the planner sees at the start of each turn.
type PlanInput struct {
	RunID        string        `json:"run_id"`
	Goal         string        `json:"goal"`
	Turn         int           `json:"turn"`
	MaxTurns     int           `json:"max_turns"`
	Observations []Observation `json:"observations"`
}

// Plan is the planner's proposal for one turn. No actions means the
// planner considers the goal finished.
type Plan struct {
	Summary string         `json:"summary" yaml:"summary"`
	Actions []model.Action `json:"actions" yaml:"actions"`
}

// Planner proposes actions. It is the boundary to the language model.
type Planner interface {
	Plan(ctx context.Context, in PlanInput) (Plan, error)
}

// PlannerFunc adapts a function to Planner.
type PlannerFunc func(ctx context.Context, in PlanInput) (Plan, error)

// Plan implements Planner.
func (f PlannerFunc) Plan(ctx context.Context, in PlanInput) (Plan, error) { return f(ctx, in) }

// Executor performs an action that already passed the gate.
type Executor interface {
	Execute(ctx context.Context, action model.Action) (executor.Result, error)
}

// Verifier judges a turn's observations after they all succeeded.
type Verifier interface {
	Verify(ctx context.Context, obs []Observation) (bool, string)
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(ctx context.Context, obs []Observation) (bool, string)

// Verify implements Verifier.
func (f VerifierFunc) Verify(ctx context.Context, obs []Observation) (bool, string) { return f(ctx, obs) }

// ObservationStatus classifies what happened to one proposed action.
type ObservationStatus string

const (
	ObsOK       ObservationStatus = "ok"
	ObsFailed   ObservationStatus = "failed"
	ObsDenied   ObservationStatus = "denied"
	ObsRejected ObservationStatus = "rejected"
	ObsTimeout  ObservationStatus = "timeout"
	ObsSkipped  ObservationStatus = "skipped"
)

// Observation is the record of one proposed action.
type Observation struct {
	Turn      int                  `json:"turn"`
	Action    model.Action         `json:"action"`
	Decision  model.PolicyDecision `json:"decision"`
	Status    ObservationStatus    `json:"status"`
	Output    string               `json:"output,omitempty"`
	ExitCode  int                  `json:"exit_code,omitempty"`
	Error     string               `json:"error,omitempty"`
	RequestID string               `json:"request_id,omitempty"`
}

// Succeeded reports whether the action ran and exited cleanly.
func (o Observation) Succeeded() bool {
	return o.Status == ObsOK
}
