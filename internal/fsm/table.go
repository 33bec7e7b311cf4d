package fsm

import (
	"errors"
	"fmt"
)

// Condition is a named pure predicate over the run context.
type Condition struct {
	Name string
	Test func(*RunContext) bool
}

// Transition is one edge of the table. NextTurn edges increment Turn.
type Transition struct {
	From     State
	When     Condition
	To       State
	NextTurn bool
}

// Table is an ordered list of transitions. Order within a source state is
// significant: the first matching transition wins.
type Table []Transition

var (
	Always = Condition{"always", func(*RunContext) bool { return true }}

	NeedsApproval = Condition{"requiresApproval", func(rc *RunContext) bool { return rc.RequiresApproval }}
	Approved      = Condition{"!requiresApproval", func(rc *RunContext) bool { return !rc.RequiresApproval }}
	NoToolCalls   = Condition{"!hasToolCalls", func(rc *RunContext) bool { return !rc.HasToolCalls }}
	Aborted       = Condition{"abort", func(rc *RunContext) bool { return rc.Abort }}
	Replanning    = Condition{"replan", func(rc *RunContext) bool { return rc.Replan }}
	Acted         = Condition{"acted", func(rc *RunContext) bool { return rc.Acted }}
	TestsPassed   = Condition{"testsPassed", func(rc *RunContext) bool { return rc.TestsPassed }}
	TestsFailed   = Condition{"!testsPassed", func(rc *RunContext) bool { return !rc.TestsPassed }}
	Finished      = Condition{"!hasToolCalls || turn >= maxTurns", func(rc *RunContext) bool {
		return !rc.HasToolCalls || rc.Turn >= rc.MaxTurns
	}}
)

// DefaultTable returns the agent run graph.
func DefaultTable() Table {
	return Table{
		{From: Read, When: Always, To: Plan},

		{From: Plan, When: NeedsApproval, To: WaitForApproval},
		{From: Plan, When: NoToolCalls, To: Report},
		{From: Plan, When: Always, To: Act},

		{From: WaitForApproval, When: Approved, To: Act},
		{From: WaitForApproval, When: Aborted, To: Done},
		{From: WaitForApproval, When: Replanning, To: Plan, NextTurn: true},

		{From: Act, When: Acted, To: Test},

		{From: Test, When: TestsPassed, To: Report},
		{From: Test, When: TestsFailed, To: Error},

		{From: Report, When: Finished, To: Done},
		{From: Report, When: Always, To: Plan, NextTurn: true},

		{From: Error, When: Aborted, To: Done},
		{From: Error, When: Always, To: Plan, NextTurn: true},
	}
}

// From returns the transitions leaving s, in table order.
func (t Table) From(s State) []Transition {
	var out []Transition
	for _, tr := range t {
		if tr.From == s {
			out = append(out, tr)
		}
	}
	return out
}

// Next returns the first transition out of s whose condition holds.
func (t Table) Next(s State, rc *RunContext) (Transition, bool) {
	for _, tr := range t {
		if tr.From == s && tr.When.Test(rc) {
			return tr, true
		}
	}
	return Transition{}, false
}

// Validate checks that every condition is callable, terminal states have no
// outgoing edges and every other state has at least one.
func (t Table) Validate() error {
	var errs []error
	out := make(map[State]int)
	for i, tr := range t {
		if tr.When.Test == nil {
			errs = append(errs, fmt.Errorf("transition %d (%s -> %s): nil condition", i, tr.From, tr.To))
		}
		if tr.From.Terminal() {
			errs = append(errs, fmt.Errorf("transition %d: terminal state %s has an outgoing edge", i, tr.From))
		}
		out[tr.From]++
	}
	for _, s := range States {
		if !s.Terminal() && out[s] == 0 {
			errs = append(errs, fmt.Errorf("state %s has no outgoing transitions", s))
		}
	}
	return errors.Join(errs...)
}
