package fsm

import (
	"strings"
	"testing"
)

func TestMermaidDeterministic(t *testing.T) {
	table := DefaultTable()
	a := Mermaid(table)
	b := Mermaid(table)
	if a != b {
		t.Fatal("Mermaid output differs between calls")
	}
	if !strings.HasPrefix(a, "stateDiagram-v2\n") {
		t.Errorf("missing header: %q", a[:30])
	}
	for _, want := range []string{
		"[*] --> READ",
		"PLAN --> WAIT_FOR_APPROVAL: requiresApproval",
		"REPORT --> PLAN: always / turn++",
		"ERROR --> DONE: abort",
		"DONE --> [*]",
	} {
		if !strings.Contains(a, want) {
			t.Errorf("Mermaid output missing %q", want)
		}
	}
	if got := strings.Count(a, "-->"); got != len(table)+2 {
		t.Errorf("expected %d edges, got %d", len(table)+2, got)
	}
}

func TestDOTDeterministic(t *testing.T) {
	table := DefaultTable()
	a := DOT(table)
	if a != DOT(table) {
		t.Fatal("DOT output differs between calls")
	}
	for _, want := range []string{
		`digraph agent {`,
		`"DONE" [shape=doublecircle];`,
		`"TEST" -> "ERROR" [label="!testsPassed", taillabel="10"];`,
	} {
		if !strings.Contains(a, want) {
			t.Errorf("DOT output missing %q", want)
		}
	}
	if got := strings.Count(a, "->"); got != len(table) {
		t.Errorf("expected %d edges, got %d", len(table), got)
	}
}
