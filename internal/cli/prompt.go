package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/approval"
)

// prompter asks on a terminal about every request the queue creates.
// Requests are answered one at a time, in creation order. Anything other
// than y or yes rejects.
type prompter struct {
	queue *approval.Queue
	in    *bufio.Reader
	out   io.Writer
	actor string
	reqs  chan approval.Request
}

func newPrompter(q *approval.Queue, in io.Reader, out io.Writer, actor string) *prompter {
	return &prompter{
		queue: q,
		in:    bufio.NewReader(in),
		out:   out,
		actor: actor,
		reqs:  make(chan approval.Request, 64),
	}
}

// OnRequestCreated implements approval.Listener. It never blocks the caller;
// requests that overflow the buffer are left to other approvers.
func (p *prompter) OnRequestCreated(r approval.Request) {
	select {
	case p.reqs <- r:
	default:
	}
}

// OnRequestResolved implements approval.Listener.
func (p *prompter) OnRequestResolved(approval.Request) {}

func (p *prompter) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case r := <-p.reqs:
			if !p.ask(r) {
				return
			}
		}
	}
}

// ask prompts for r and resolves it. It returns false once input is exhausted.
func (p *prompter) ask(r approval.Request) bool {
	if cur, ok := p.queue.Get(r.ID); ok && cur.Status != approval.StatusPending {
		return true
	}
	fmt.Fprintf(p.out, "\n[%s] %s\n", strings.ToUpper(r.Risk.String()), r.Description)
	if r.Decision.Reason != "" {
		fmt.Fprintf(p.out, "  %s (%s)\n", r.Decision.Reason, r.Decision.RuleID)
	}
	fmt.Fprintf(p.out, "  request %s\nApprove? [y/N] ", r.ID)

	line, err := p.in.ReadString('\n')
	answer := strings.ToLower(strings.TrimSpace(line))
	if err != nil && answer == "" {
		fmt.Fprintln(p.out)
		return false
	}

	var ok bool
	if answer == "y" || answer == "yes" {
		ok = p.queue.Approve(r.ID, p.actor)
	} else {
		ok = p.queue.Reject(r.ID, p.actor)
	}
	if !ok {
		cur, _ := p.queue.Get(r.ID)
		fmt.Fprintf(p.out, "  already %s\n", cur.Status)
	}
	return err == nil
}
