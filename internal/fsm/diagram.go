package fsm

import (
	"fmt"
	"strings"
)

// Mermaid renders table as a Mermaid state diagram. Output depends only on
// the table, so repeated calls are byte-identical.
func Mermaid(t Table) string {
	var b strings.Builder
	b.WriteString("stateDiagram-v2\n")
	fmt.Fprintf(&b, "    [*] --> %s\n", Read)
	for _, tr := range t {
		fmt.Fprintf(&b, "    %s --> %s: %s\n", tr.From, tr.To, edgeLabel(tr))
	}
	for _, s := range States {
		if s.Terminal() {
			fmt.Fprintf(&b, "    %s --> [*]\n", s)
		}
	}
	return b.String()
}

// DOT renders table as a Graphviz digraph.
func DOT(t Table) string {
	var b strings.Builder
	b.WriteString("digraph agent {\n")
	b.WriteString("    rankdir=LR;\n")
	b.WriteString("    node [shape=box];\n")
	for _, s := range States {
		shape := "box"
		switch {
		case s == Read:
			shape = "oval"
		case s.Terminal():
			shape = "doublecircle"
		}
		fmt.Fprintf(&b, "    %q [shape=%s];\n", s.String(), shape)
	}
	for i, tr := range t {
		fmt.Fprintf(&b, "    %q -> %q [label=%q, taillabel=\"%d\"];\n",
			tr.From.String(), tr.To.String(), edgeLabel(tr), i+1)
	}
	b.WriteString("}\n")
	return b.String()
}

func edgeLabel(tr Transition) string {
	if tr.NextTurn {
		return tr.When.Name + " / turn++"
	}
	return tr.When.Name
}
