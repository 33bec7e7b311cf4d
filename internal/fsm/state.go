// Package fsm sequences an agent run through plan/act turns.
//
// The transition table is plain data: each state's transitions are tried in
// declared order and the first whose condition holds is taken. Side effects
// live in the EnterFunc supplied to Machine.Run, never in the table.
package fsm

import "fmt"

// State is one node of the agent run graph.
type State int

const (
	Read State = iota
	Plan
	WaitForApproval
	Act
	Test
	Report
	Error
	Done
)

// States lists every state in declaration order.
var States = []State{Read, Plan, WaitForApproval, Act, Test, Report, Error, Done}

var stateNames = [...]string{
	Read:            "READ",
	Plan:            "PLAN",
	WaitForApproval: "WAIT_FOR_APPROVAL",
	Act:             "ACT",
	Test:            "TEST",
	Report:          "REPORT",
	Error:           "ERROR",
	Done:            "DONE",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MarshalText renders the state name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(text []byte) error {
	for i, name := range stateNames {
		if name == string(text) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", text)
}

// Terminal reports whether the state has no outgoing transitions.
func (s State) Terminal() bool {
	return s == Done
}

// RunContext is the mutable per-run state the conditions read.
// Only enter hooks mutate it, and only between transitions.
type RunContext struct {
	Turn             int  `json:"turn"`
	MaxTurns         int  `json:"max_turns"`
	RequiresApproval bool `json:"requires_approval"`
	HasToolCalls     bool `json:"has_tool_calls"`
	Acted            bool `json:"acted"`
	TestsPassed      bool `json:"tests_passed"`
	Abort            bool `json:"abort"`
	// Replan routes a denied approval back to PLAN instead of DONE.
	Replan bool `json:"replan"`
}

// NewRunContext returns a context positioned on turn 1.
func NewRunContext(maxTurns int) *RunContext {
	if maxTurns < 1 {
		maxTurns = 1
	}
	return &RunContext{Turn: 1, MaxTurns: maxTurns}
}
