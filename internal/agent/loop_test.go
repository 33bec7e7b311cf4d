package agent_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/agent"
	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/approval"
	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/executor"
	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/fsm"
	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/gate"
	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/model"
	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/policy"
)

type fakeExec struct {
	mu      sync.Mutex
	ran     []model.Action
	results map[string]executor.Result
	errs    map[string]error
}

func (f *fakeExec) Execute(_ context.Context, a model.Action) (executor.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ran = append(f.ran, a)
	if err := f.errs[a.Target]; err != nil {
		return executor.Result{}, err
	}
	if res, ok := f.results[a.Target]; ok {
		return res, nil
	}
	return executor.Result{Output: "ok"}, nil
}

func (f *fakeExec) targets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.ran))
	for _, a := range f.ran {
		out = append(out, a.Target)
	}
	return out
}

func shell(cmd string) model.Action {
	return model.Action{Operation: model.OpShell, Target: cmd}
}

// resolveWith answers every approval request on q.
func resolveWith(q *approval.Queue, approve bool) {
	q.Subscribe(approval.ListenerFuncs{Created: func(r approval.Request) {
		go func() {
			if approve {
				q.Approve(r.ID, "operator")
			} else {
				q.Reject(r.ID, "operator")
			}
		}()
	}})
}

func newLoop(cfg agent.Config, p agent.Planner, ex agent.Executor, q *approval.Queue, opts ...agent.Option) *agent.Loop {
	g := gate.New(policy.NewDefault(), q, gate.WithTimeout(2*time.Second))
	return agent.New(cfg, p, ex, g, opts...)
}

func states(steps []fsm.Step) []fsm.State {
	out := make([]fsm.State, 0, len(steps))
	for _, s := range steps {
		out = append(out, s.State)
	}
	return out
}

func TestRunCompletesWhenPlannerStops(t *testing.T) {
	ex := &fakeExec{}
	p := agent.NewScriptPlanner(agent.Plan{Summary: "look around", Actions: []model.Action{shell("ls -la")}})
	l := newLoop(agent.Config{MaxTurns: 5}, p, ex, approval.New())

	rep, err := l.Run(context.Background(), "inspect the workspace")
	require.NoError(t, err)
	assert.Equal(t, agent.OutcomeCompleted, rep.Outcome)
	assert.Equal(t, fsm.Done, rep.FinalState)
	assert.Equal(t, 2, rep.Turns)
	assert.Equal(t, []string{"ls -la"}, ex.targets())
	assert.Equal(t, []string{"look around"}, rep.Summaries)
	assert.Equal(t, []fsm.State{
		fsm.Read, fsm.Plan, fsm.Act, fsm.Test, fsm.Report,
		fsm.Plan, fsm.Report, fsm.Done,
	}, states(rep.Steps))
	require.Len(t, rep.Observations, 1)
	assert.Equal(t, agent.ObsOK, rep.Observations[0].Status)
	assert.Equal(t, "ok", rep.Observations[0].Output)
	assert.NotEmpty(t, rep.RunID)
}

func TestRunStopsAtTurnLimit(t *testing.T) {
	ex := &fakeExec{}
	calls := 0
	p := agent.PlannerFunc(func(_ context.Context, in agent.PlanInput) (agent.Plan, error) {
		calls++
		assert.Equal(t, calls, in.Turn)
		return agent.Plan{Actions: []model.Action{shell("pwd")}}, nil
	})
	l := newLoop(agent.Config{MaxTurns: 3}, p, ex, approval.New())

	rep, err := l.Run(context.Background(), "loop forever")
	require.NoError(t, err)
	assert.Equal(t, agent.OutcomeTurnLimit, rep.Outcome)
	assert.Equal(t, 3, rep.Turns)
	assert.Equal(t, 3, calls)
	assert.Len(t, ex.targets(), 3)
	assert.Contains(t, rep.Reason, "turn limit")
}

func TestRunWaitsForApprovalThenActs(t *testing.T) {
	q := approval.New()
	resolveWith(q, true)
	ex := &fakeExec{}
	p := agent.NewScriptPlanner(agent.Plan{Actions: []model.Action{shell("sudo apt update"), shell("ls")}})
	l := newLoop(agent.Config{MaxTurns: 3}, p, ex, q)

	rep, err := l.Run(context.Background(), "update packages")
	require.NoError(t, err)
	assert.Equal(t, agent.OutcomeCompleted, rep.Outcome)
	assert.Equal(t, []string{"sudo apt update", "ls"}, ex.targets(), "proposal order is kept")
	assert.Contains(t, states(rep.Steps), fsm.WaitForApproval)

	hist := q.History(0)
	require.Len(t, hist, 1)
	assert.Equal(t, approval.StatusApproved, hist[0].Status)
	assert.Equal(t, rep.RunID, hist[0].Context["run_id"])
}

func TestRunAbortsOnRejection(t *testing.T) {
	q := approval.New()
	resolveWith(q, false)
	ex := &fakeExec{}
	p := agent.NewScriptPlanner(agent.Plan{Actions: []model.Action{shell("ls"), shell("sudo rm /etc/motd"), shell("sudo reboot")}})
	l := newLoop(agent.Config{MaxTurns: 3}, p, ex, q)

	rep, err := l.Run(context.Background(), "tidy up")
	require.NoError(t, err)
	assert.Equal(t, agent.OutcomeAborted, rep.Outcome)
	assert.Equal(t, fsm.Done, rep.FinalState)
	assert.Empty(t, ex.targets(), "nothing runs after a rejection")
	assert.Equal(t, "approval denied", rep.Reason)

	var statuses []agent.ObservationStatus
	for _, o := range rep.Observations {
		statuses = append(statuses, o.Status)
	}
	assert.Equal(t, []agent.ObservationStatus{agent.ObsRejected, agent.ObsSkipped}, statuses)
	assert.Len(t, q.History(0), 1, "later approvals are never requested")
}

func TestRunReplansAfterRejection(t *testing.T) {
	q := approval.New()
	resolveWith(q, false)
	ex := &fakeExec{}

	var seen []agent.PlanInput
	p := agent.PlannerFunc(func(_ context.Context, in agent.PlanInput) (agent.Plan, error) {
		seen = append(seen, in)
		if in.Turn == 1 {
			return agent.Plan{Actions: []model.Action{shell("sudo systemctl restart nginx")}}, nil
		}
		return agent.Plan{}, nil
	})
	l := newLoop(agent.Config{MaxTurns: 4, OnDenied: agent.DeniedReplan}, p, ex, q)

	rep, err := l.Run(context.Background(), "restart web server")
	require.NoError(t, err)
	assert.Equal(t, agent.OutcomeCompleted, rep.Outcome)
	require.Len(t, seen, 2)
	require.Len(t, seen[1].Observations, 1)
	assert.Equal(t, agent.ObsRejected, seen[1].Observations[0].Status)
	assert.Equal(t, 2, seen[1].Turn)
	assert.Empty(t, ex.targets())
}

func TestRunReplanOnLastTurnAborts(t *testing.T) {
	q := approval.New()
	resolveWith(q, false)
	p := agent.PlannerFunc(func(context.Context, agent.PlanInput) (agent.Plan, error) {
		return agent.Plan{Actions: []model.Action{shell("sudo ls /root")}}, nil
	})
	l := newLoop(agent.Config{MaxTurns: 2, OnDenied: agent.DeniedReplan}, p, &fakeExec{}, q)

	rep, err := l.Run(context.Background(), "peek")
	require.NoError(t, err)
	assert.Equal(t, agent.OutcomeAborted, rep.Outcome)
	assert.Equal(t, 2, rep.Turns)
}

func TestRunApprovalTimeoutAborts(t *testing.T) {
	q := approval.New()
	g := gate.New(policy.NewDefault(), q, gate.WithTimeout(20*time.Millisecond))
	p := agent.NewScriptPlanner(agent.Plan{Actions: []model.Action{{Operation: model.OpNetwork, Target: "https://example.com"}}})
	l := agent.New(agent.Config{MaxTurns: 3}, p, &fakeExec{}, g)

	rep, err := l.Run(context.Background(), "fetch")
	require.NoError(t, err)
	assert.Equal(t, agent.OutcomeAborted, rep.Outcome)
	require.Len(t, rep.Observations, 1)
	assert.Equal(t, agent.ObsTimeout, rep.Observations[0].Status)
	assert.NotEmpty(t, rep.Observations[0].RequestID)
}

func TestCriticalActionNeverExecutes(t *testing.T) {
	ex := &fakeExec{}
	p := agent.NewScriptPlanner(agent.Plan{Actions: []model.Action{shell("rm -rf /"), shell("ls")}})
	l := newLoop(agent.Config{MaxTurns: 5, Policy: model.PolicyContext{FullAccess: true, AutoApprove: true}}, p, ex, approval.New())

	rep, err := l.Run(context.Background(), "wipe")
	require.NoError(t, err)
	assert.Equal(t, []string{"ls"}, ex.targets())
	require.NotEmpty(t, rep.Observations)
	assert.Equal(t, agent.ObsDenied, rep.Observations[0].Status)
	assert.Equal(t, model.RiskCritical, rep.Observations[0].Decision.Risk)
	// The denial fails the turn, ERROR re-plans once, the planner stops.
	assert.Contains(t, states(rep.Steps), fsm.Error)
	assert.Equal(t, agent.OutcomeCompleted, rep.Outcome)
}

func TestConsecutiveFailuresAbort(t *testing.T) {
	ex := &fakeExec{results: map[string]executor.Result{"make test": {Output: "FAIL", ExitCode: 1}}}
	p := agent.PlannerFunc(func(context.Context, agent.PlanInput) (agent.Plan, error) {
		return agent.Plan{Actions: []model.Action{shell("make test")}}, nil
	})
	l := newLoop(agent.Config{MaxTurns: 10, Policy: model.PolicyContext{FullAccess: true}}, p, ex, approval.New())

	rep, err := l.Run(context.Background(), "make tests pass")
	require.NoError(t, err)
	assert.Equal(t, agent.OutcomeAborted, rep.Outcome)
	assert.Equal(t, 2, rep.Turns)
	assert.Equal(t, "consecutive turn failures", rep.Reason)
	for _, o := range rep.Observations {
		assert.Equal(t, agent.ObsFailed, o.Status)
		assert.Equal(t, 1, o.ExitCode)
	}
}

func TestExecutorErrorIsObservedNotFatal(t *testing.T) {
	ex := &fakeExec{errs: map[string]error{"cat missing": errors.New("no such file")}}
	p := agent.NewScriptPlanner(agent.Plan{Actions: []model.Action{shell("cat missing")}})
	l := newLoop(agent.Config{MaxTurns: 5}, p, ex, approval.New())

	rep, err := l.Run(context.Background(), "read")
	require.NoError(t, err)
	require.NotEmpty(t, rep.Observations)
	assert.Equal(t, "no such file", rep.Observations[0].Error)
	assert.Equal(t, agent.OutcomeCompleted, rep.Outcome)
}

func TestVerifierCanFailTurn(t *testing.T) {
	ex := &fakeExec{}
	p := agent.NewScriptPlanner(agent.Plan{Actions: []model.Action{shell("ls")}})
	v := agent.VerifierFunc(func(context.Context, []agent.Observation) (bool, string) { return false, "not done" })
	l := newLoop(agent.Config{MaxTurns: 5}, p, ex, approval.New(), agent.WithVerifier(v))

	rep, err := l.Run(context.Background(), "verify me")
	require.NoError(t, err)
	assert.Contains(t, states(rep.Steps), fsm.Error)
}

func TestPlannerErrorFailsRun(t *testing.T) {
	boom := errors.New("model unavailable")
	p := agent.PlannerFunc(func(context.Context, agent.PlanInput) (agent.Plan, error) { return agent.Plan{}, boom })
	l := newLoop(agent.Config{MaxTurns: 3}, p, &fakeExec{}, approval.New())

	rep, err := l.Run(context.Background(), "anything")
	require.ErrorIs(t, err, boom)
	assert.Equal(t, agent.OutcomeFailed, rep.Outcome)
	assert.False(t, rep.Outcome.Healthy())
	assert.Equal(t, fsm.Plan, rep.FinalState)
}

func TestEmptyGoalFails(t *testing.T) {
	l := newLoop(agent.Config{}, agent.NewScriptPlanner(), &fakeExec{}, approval.New())
	rep, err := l.Run(context.Background(), "   ")
	require.ErrorIs(t, err, agent.ErrEmptyGoal)
	assert.Equal(t, agent.OutcomeFailed, rep.Outcome)
}

func TestStallIsReportedAsFailure(t *testing.T) {
	table := fsm.Table{
		{From: fsm.Read, When: fsm.Always, To: fsm.Plan},
		{From: fsm.Plan, When: fsm.Always, To: fsm.Act},
	}
	p := agent.NewScriptPlanner(agent.Plan{Actions: []model.Action{shell("ls")}})
	l := newLoop(agent.Config{MaxTurns: 2}, p, &fakeExec{}, approval.New(), agent.WithTable(table))

	rep, err := l.Run(context.Background(), "stall")
	require.ErrorIs(t, err, fsm.ErrStall)
	assert.Equal(t, agent.OutcomeStalled, rep.Outcome)
	assert.Equal(t, fsm.Act, rep.FinalState)
}

func TestCeilingIsReportedAsFailure(t *testing.T) {
	p := agent.PlannerFunc(func(context.Context, agent.PlanInput) (agent.Plan, error) {
		return agent.Plan{Actions: []model.Action{shell("ls")}}, nil
	})
	l := newLoop(agent.Config{MaxTurns: 100, StepCeiling: 6}, p, &fakeExec{}, approval.New())

	rep, err := l.Run(context.Background(), "spin")
	require.ErrorIs(t, err, fsm.ErrCeiling)
	assert.Equal(t, agent.OutcomeCeiling, rep.Outcome)
	assert.Len(t, rep.Steps, 6)
}

func TestCancelledWhileWaiting(t *testing.T) {
	q := approval.New()
	ctx, cancel := context.WithCancel(context.Background())
	q.Subscribe(approval.ListenerFuncs{Created: func(approval.Request) { cancel() }})

	ex := &fakeExec{}
	p := agent.NewScriptPlanner(agent.Plan{Actions: []model.Action{shell("sudo id")}})
	l := newLoop(agent.Config{MaxTurns: 3}, p, ex, q)

	rep, err := l.Run(ctx, "cancel me")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, agent.OutcomeCancelled, rep.Outcome)
	assert.Empty(t, ex.targets())
	assert.Empty(t, q.Pending())
}

func TestConcurrentRunsAreIsolated(t *testing.T) {
	ex := &fakeExec{}
	p := agent.PlannerFunc(func(_ context.Context, in agent.PlanInput) (agent.Plan, error) {
		if in.Turn > 1 {
			return agent.Plan{}, nil
		}
		return agent.Plan{Actions: []model.Action{shell("echo " + in.RunID)}}, nil
	})
	l := newLoop(agent.Config{MaxTurns: 3}, p, ex, approval.New())

	var wg sync.WaitGroup
	reports := make([]*agent.Report, 8)
	for i := range reports {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rep, err := l.Run(context.Background(), "parallel")
			assert.NoError(t, err)
			reports[i] = rep
		}(i)
	}
	wg.Wait()

	ids := map[string]bool{}
	for _, rep := range reports {
		require.NotNil(t, rep)
		assert.Equal(t, agent.OutcomeCompleted, rep.Outcome)
		require.Len(t, rep.Observations, 1)
		assert.Equal(t, "echo "+rep.RunID, rep.Observations[0].Action.Target)
		ids[rep.RunID] = true
	}
	assert.Len(t, ids, len(reports))
}
