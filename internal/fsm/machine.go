package fsm

import (
	"context"
	"errors"
	"fmt"

	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/tracing"
)

// DefaultCeiling bounds the number of states a single run may enter.
const DefaultCeiling = 256

var (
	// ErrStall means no transition out of a non-terminal state matched.
	ErrStall = errors.New("fsm stalled")
	// ErrCeiling means the run hit the step ceiling before reaching DONE.
	ErrCeiling = errors.New("fsm step ceiling reached")
)

// StallError reports the state and context at the point of a stall.
type StallError struct {
	State   State
	Context RunContext
}

func (e *StallError) Error() string {
	return fmt.Sprintf("fsm stalled in %s (turn %d/%d)", e.State, e.Context.Turn, e.Context.MaxTurns)
}

func (e *StallError) Unwrap() error { return ErrStall }

// CeilingError reports where the run was when the step ceiling was hit.
type CeilingError struct {
	State State
	Steps int
}

func (e *CeilingError) Error() string {
	return fmt.Sprintf("fsm step ceiling of %d reached in %s", e.Steps, e.State)
}

func (e *CeilingError) Unwrap() error { return ErrCeiling }

// EnterFunc runs the side effects of entering state s. It may mutate rc.
// A returned error halts the run.
type EnterFunc func(ctx context.Context, s State, rc *RunContext) error

// Step is one state entered during a run.
type Step struct {
	State State `json:"state"`
	Turn  int   `json:"turn"`
}

// Result describes a finished (or halted) run.
type Result struct {
	Final State  `json:"final"`
	Steps []Step `json:"steps"`
}

// Machine drives a RunContext through a transition table.
type Machine struct {
	table   Table
	ceiling int
}

// Option configures a Machine.
type Option func(*Machine)

// WithCeiling sets the hard limit on states entered per run.
func WithCeiling(n int) Option {
	return func(m *Machine) {
		if n > 0 {
			m.ceiling = n
		}
	}
}

// New creates a machine over table.
func New(table Table, opts ...Option) *Machine {
	m := &Machine{table: table, ceiling: DefaultCeiling}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Table returns the machine's transition table.
func (m *Machine) Table() Table {
	return m.table
}

// Run starts at READ and enters states until DONE, a stall, the ceiling,
// an enter error or ctx cancellation.
func (m *Machine) Run(ctx context.Context, rc *RunContext, enter EnterFunc) (Result, error) {
	ctx, span := tracing.StartSpan(ctx, "fsm.run")
	res, err := m.run(ctx, rc, enter)
	span.WithAttributes(map[string]string{"final": res.Final.String()}).WithInt("steps", len(res.Steps))
	tracing.EndSpan(span, err)
	return res, err
}

func (m *Machine) run(ctx context.Context, rc *RunContext, enter EnterFunc) (Result, error) {
	var res Result
	state := Read
	for {
		res.Final = state
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if len(res.Steps) >= m.ceiling {
			return res, &CeilingError{State: state, Steps: len(res.Steps)}
		}
		res.Steps = append(res.Steps, Step{State: state, Turn: rc.Turn})

		if enter != nil {
			if err := m.enter(ctx, state, rc, enter); err != nil {
				return res, fmt.Errorf("enter %s: %w", state, err)
			}
		}
		if state.Terminal() {
			return res, nil
		}

		tr, ok := m.table.Next(state, rc)
		if !ok {
			return res, &StallError{State: state, Context: *rc}
		}
		if tr.NextTurn {
			rc.Turn++
		}
		state = tr.To
	}
}

func (m *Machine) enter(ctx context.Context, s State, rc *RunContext, enter EnterFunc) error {
	ctx, span := tracing.StartSpan(ctx, "fsm.enter."+s.String())
	span.WithInt("turn", rc.Turn)
	err := enter(ctx, s, rc)
	tracing.EndSpan(span, err)
	return err
}
