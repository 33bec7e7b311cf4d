package agent

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/model"
)

// Script is a recorded sequence of plans, one per turn.
type Script struct {
	Goal  string `yaml:"goal,omitempty"`
	Turns []Plan `yaml:"turns"`
}

// ScriptPlanner replays a Script. Each Plan call returns the next turn;
// once the script is exhausted it returns an empty plan, which ends the run.
type ScriptPlanner struct {
	mu     sync.Mutex
	script Script
	next   int
}

// NewScriptPlanner returns a planner replaying turns in order.
func NewScriptPlanner(turns ...Plan) *ScriptPlanner {
	return &ScriptPlanner{script: Script{Turns: turns}}
}

// LoadScript reads a YAML script. Every action must name a known operation.
func LoadScript(path string) (*ScriptPlanner, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	return ParseScript(data)
}

// ParseScript parses a YAML script.
func ParseScript(data []byte) (*ScriptPlanner, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse script: %w", err)
	}
	for i, turn := range s.Turns {
		for j, a := range turn.Actions {
			op, err := model.ParseOperation(string(a.Operation))
			if err != nil {
				return nil, fmt.Errorf("turn %d action %d: %w", i+1, j+1, err)
			}
			s.Turns[i].Actions[j].Operation = op
		}
	}
	return &ScriptPlanner{script: s}, nil
}

// Goal returns the goal recorded in the script, if any.
func (p *ScriptPlanner) Goal() string {
	return p.script.Goal
}

// Plan implements Planner.
func (p *ScriptPlanner) Plan(ctx context.Context, _ PlanInput) (Plan, error) {
	if err := ctx.Err(); err != nil {
		return Plan{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.next >= len(p.script.Turns) {
		return Plan{}, nil
	}
	plan := p.script.Turns[p.next]
	p.next++
	return plan, nil
}
