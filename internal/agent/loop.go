package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/approval"
	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/audit"
	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/executor"
	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/fsm"
	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/gate"
	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/model"
)

// ErrEmptyGoal is returned by Run for a blank goal.
var ErrEmptyGoal = errors.New("goal must not be empty")

// DeniedPolicy decides what a run does after a human rejects an action or
// lets its approval time out.
type DeniedPolicy string

const (
	DeniedAbort  DeniedPolicy = "abort"
	DeniedReplan DeniedPolicy = "replan"
)

// Config holds per-loop settings. Policy is copied into every run.
type Config struct {
	MaxTurns    int
	StepCeiling int
	OnDenied    DeniedPolicy
	Policy      model.PolicyContext
}

// Loop runs goals through the state machine. A Loop may run several goals
// concurrently; each run gets its own context and gate snapshot.
type Loop struct {
	cfg      Config
	planner  Planner
	exec     Executor
	gate     *gate.Gate
	verifier Verifier
	table    fsm.Table
	logger   *slog.Logger
}

// Option configures a Loop.
type Option func(*Loop)

// WithVerifier adds a check run in TEST after every action succeeded.
func WithVerifier(v Verifier) Option {
	return func(l *Loop) { l.verifier = v }
}

// WithLogger sets the loop's logger.
func WithLogger(lg *slog.Logger) Option {
	return func(l *Loop) {
		if lg != nil {
			l.logger = lg
		}
	}
}

// WithTable replaces the transition table.
func WithTable(t fsm.Table) Option {
	return func(l *Loop) { l.table = t }
}

// New builds a loop. g must not be nil.
func New(cfg Config, planner Planner, exec Executor, g *gate.Gate, opts ...Option) *Loop {
	if cfg.MaxTurns < 1 {
		cfg.MaxTurns = 1
	}
	if cfg.StepCeiling < 1 {
		cfg.StepCeiling = fsm.DefaultCeiling
	}
	if cfg.OnDenied != DeniedReplan {
		cfg.OnDenied = DeniedAbort
	}
	l := &Loop{
		cfg:     cfg,
		planner: planner,
		exec:    exec,
		gate:    g,
		table:   fsm.DefaultTable(),
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "agent")
	return l
}

// planned is one action proposed in the current turn.
type planned struct {
	action   model.Action
	decision model.PolicyDecision
	status   ObservationStatus // empty while still to be executed
	reqID    string
}

// run is the state of one goal in flight.
type run struct {
	*Loop
	id         string
	goal       string
	gate       *gate.Gate
	pc         model.PolicyContext
	turn       []*planned
	obs        []Observation
	summaries  []string
	failStreak int
	reason     string
	logger     *slog.Logger
}

// Run drives goal to DONE or to a failure. The returned error is non-nil
// exactly when the outcome is not Healthy.
func (l *Loop) Run(ctx context.Context, goal string) (*Report, error) {
	r := &run{
		Loop: l,
		id:   newRunID(),
		goal: strings.TrimSpace(goal),
		gate: l.gate.Snapshot(),
		pc:   l.cfg.Policy.Clone(),
	}
	r.logger = l.logger.With("run_id", r.id)
	r.gate.Note(audit.KindRunStarted, r.id, r.goal)
	r.logger.Info("run started", "goal", r.goal, "max_turns", l.cfg.MaxTurns)

	rc := fsm.NewRunContext(l.cfg.MaxTurns)
	m := fsm.New(l.table, fsm.WithCeiling(l.cfg.StepCeiling))
	res, err := m.Run(ctx, rc, r.enter)

	rep := &Report{
		RunID:        r.id,
		Goal:         r.goal,
		Outcome:      classify(rc, res, err),
		Reason:       r.reason,
		FinalState:   res.Final,
		Turns:        rc.Turn,
		Steps:        res.Steps,
		Observations: r.obs,
		Summaries:    r.summaries,
		Err:          err,
	}
	if err != nil {
		rep.Error = err.Error()
	}
	if rep.Outcome == OutcomeTurnLimit && rep.Reason == "" {
		rep.Reason = fmt.Sprintf("turn limit of %d reached", rc.MaxTurns)
	}

	r.gate.Note(audit.KindRunFinished, r.id, string(rep.Outcome))
	r.logger.Info("run finished", "outcome", rep.Outcome, "turns", rep.Turns, "steps", len(rep.Steps))
	return rep, err
}

func (r *run) enter(ctx context.Context, s fsm.State, rc *fsm.RunContext) error {
	switch s {
	case fsm.Read:
		return r.read()
	case fsm.Plan:
		return r.plan(ctx, rc)
	case fsm.WaitForApproval:
		return r.wait(ctx, rc)
	case fsm.Act:
		return r.act(ctx, rc)
	case fsm.Test:
		r.test(ctx, rc)
	case fsm.Report:
		r.report(rc)
	case fsm.Error:
		r.fail(rc)
	}
	return nil
}

func (r *run) read() error {
	if r.goal == "" {
		return ErrEmptyGoal
	}
	return nil
}

// plan asks the planner for this turn's actions and classifies each one.
func (r *run) plan(ctx context.Context, rc *fsm.RunContext) error {
	rc.RequiresApproval = false
	rc.HasToolCalls = false
	rc.Acted = false
	rc.TestsPassed = false
	rc.Replan = false
	r.turn = nil

	p, err := r.planner.Plan(ctx, PlanInput{
		RunID:        r.id,
		Goal:         r.goal,
		Turn:         rc.Turn,
		MaxTurns:     rc.MaxTurns,
		Observations: append([]Observation(nil), r.obs...),
	})
	if err != nil {
		return fmt.Errorf("planner: %w", err)
	}
	if p.Summary != "" {
		r.summaries = append(r.summaries, p.Summary)
	}
	rc.HasToolCalls = len(p.Actions) > 0

	for _, a := range p.Actions {
		if op, err := model.ParseOperation(string(a.Operation)); err == nil {
			a.Operation = op
		}
		pl := &planned{action: a}
		pl.decision = r.gate.Check(a, r.pc, r.id)
		switch {
		case pl.decision.Allowed:
		case pl.decision.Appealable():
			rc.RequiresApproval = true
		default:
			pl.status = ObsDenied
			r.observe(rc, pl, nil, nil)
		}
		r.turn = append(r.turn, pl)
	}
	r.logger.Debug("turn planned", "turn", rc.Turn, "actions", len(p.Actions), "requires_approval", rc.RequiresApproval)
	return nil
}

// wait escalates appealable actions one at a time. The first rejection or
// timeout ends the wait; later actions are skipped.
func (r *run) wait(ctx context.Context, rc *fsm.RunContext) error {
	denied := false
	for _, pl := range r.turn {
		if pl.status != "" || !pl.decision.Appealable() {
			continue
		}
		if denied {
			pl.status = ObsSkipped
			r.observe(rc, pl, nil, nil)
			continue
		}
		id, st, err := r.gate.Escalate(ctx, pl.action, pl.decision, r.id)
		pl.reqID = id
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		switch {
		case err == nil:
			pl.decision.Allowed = true
			pl.decision.RequiresApproval = false
		case errors.Is(err, gate.ErrApprovalRejected), errors.Is(err, gate.ErrApprovalTimeout):
			denied = true
			pl.status = ObsRejected
			if st == approval.StatusTimeout {
				pl.status = ObsTimeout
			}
			r.observe(rc, pl, nil, nil)
		default:
			return err
		}
	}

	if !denied {
		rc.RequiresApproval = false
		return nil
	}
	if r.cfg.OnDenied == DeniedReplan && rc.Turn < rc.MaxTurns {
		rc.Replan = true
		r.logger.Info("approval denied, re-planning", "turn", rc.Turn)
		return nil
	}
	rc.Abort = true
	r.reason = "approval denied"
	r.logger.Info("approval denied, aborting", "turn", rc.Turn)
	return nil
}

// act executes every action cleared in this turn, in proposal order.
func (r *run) act(ctx context.Context, rc *fsm.RunContext) error {
	for _, pl := range r.turn {
		if pl.status != "" {
			continue
		}
		res, err := r.exec.Execute(ctx, pl.action)
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		pl.status = ObsOK
		if err != nil || res.Failed() {
			pl.status = ObsFailed
		}
		r.observe(rc, pl, &res, err)
	}
	rc.Acted = true
	return nil
}

func (r *run) test(ctx context.Context, rc *fsm.RunContext) {
	var current []Observation
	passed := true
	for _, o := range r.obs {
		if o.Turn != rc.Turn {
			continue
		}
		current = append(current, o)
		if !o.Succeeded() {
			passed = false
		}
	}
	if passed && r.verifier != nil {
		ok, note := r.verifier.Verify(ctx, current)
		if !ok {
			passed = false
			r.logger.Info("verifier rejected turn", "turn", rc.Turn, "note", note)
		}
	}
	rc.TestsPassed = passed
	if passed {
		r.failStreak = 0
	}
}

func (r *run) report(rc *fsm.RunContext) {
	ok := 0
	for _, o := range r.obs {
		if o.Turn == rc.Turn && o.Succeeded() {
			ok++
		}
	}
	r.logger.Info("turn complete", "turn", rc.Turn, "succeeded", ok, "has_tool_calls", rc.HasToolCalls)
}

// fail allows one re-plan per failure streak. A second consecutive failure,
// or a failure on the last turn, aborts.
func (r *run) fail(rc *fsm.RunContext) {
	r.failStreak++
	switch {
	case r.failStreak >= 2:
		rc.Abort = true
		r.reason = "consecutive turn failures"
	case rc.Turn >= rc.MaxTurns:
		rc.Abort = true
		r.reason = "turn failed on the last turn"
	}
	r.logger.Warn("turn failed", "turn", rc.Turn, "streak", r.failStreak, "abort", rc.Abort)
}

func (r *run) observe(rc *fsm.RunContext, pl *planned, res *executor.Result, err error) {
	o := Observation{
		Turn:      rc.Turn,
		Action:    pl.action,
		Decision:  pl.decision,
		Status:    pl.status,
		RequestID: pl.reqID,
	}
	if err != nil {
		o.Error = err.Error()
	}
	if res != nil {
		o.Output = res.Output
		o.ExitCode = res.ExitCode
	}
	r.obs = append(r.obs, o)
}

func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
