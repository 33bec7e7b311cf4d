package approval

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/model"
)

// Status represents the state of an approval request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusTimeout  Status = "timeout"
)

// DefaultTimeout bounds every wait that does not name its own timeout.
const DefaultTimeout = 5 * time.Minute

// DefaultHistoryLimit is the number of resolved requests kept in memory.
const DefaultHistoryLimit = 1000

// Resolver names recorded when the queue itself resolves a request.
const (
	ResolvedByTimeout   = "timeout"
	ResolvedByCancelled = "cancelled"
)

// ErrNotFound is returned for ids that are neither pending nor in history.
var ErrNotFound = errors.New("approval request not found")

// Request is a unit of pending human judgment.
type Request struct {
	ID          string               `json:"id"`
	Timestamp   time.Time            `json:"timestamp"`
	Operation   model.Operation      `json:"operation"`
	Description string               `json:"description"`
	Risk        model.RiskLevel      `json:"risk_level"`
	Decision    model.PolicyDecision `json:"policy_decision"`
	Context     map[string]string    `json:"context,omitempty"`
	Status      Status               `json:"status"`
	ResolvedAt  *time.Time           `json:"resolved_at,omitempty"`
	ResolvedBy  string               `json:"resolved_by,omitempty"`
}

func (r Request) clone() Request {
	out := r
	out.Context = copyMap(r.Context)
	if r.ResolvedAt != nil {
		t := *r.ResolvedAt
		out.ResolvedAt = &t
	}
	return out
}

func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

type entry struct {
	req  Request
	done chan struct{} // closed exactly once, on resolution
}

// Queue is the registry of pending and resolved approval requests.
// All methods are safe for concurrent use.
type Queue struct {
	mu        sync.Mutex
	pending   map[string]*entry
	history   []*entry // ring buffer, oldest at head once full
	head      int
	byID      map[string]*entry // resolved entries still held by the ring
	limit     int
	timeout   time.Duration
	listeners []subscription
	nextSub   int
	closed    bool
	logger    *slog.Logger
}

// Option configures a Queue.
type Option func(*Queue)

// WithDefaultTimeout sets the timeout used when Wait is given none.
func WithDefaultTimeout(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

// WithHistoryLimit bounds the in-memory history ring.
func WithHistoryLimit(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.limit = n
		}
	}
}

// WithLogger sets the logger used for listener failures and lifecycle events.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}

// New creates an empty queue.
func New(opts ...Option) *Queue {
	q := &Queue{
		pending:   make(map[string]*entry),
		byID:      make(map[string]*entry),
		limit:     DefaultHistoryLimit,
		timeout:   DefaultTimeout,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.logger = q.logger.With("component", "approval")
	return q
}

// DefaultTimeout returns the timeout applied when Wait is given none.
func (q *Queue) DefaultTimeout() time.Duration {
	return q.timeout
}

// Create registers a new pending request and notifies subscribers.
func (q *Queue) Create(op model.Operation, description string, risk model.RiskLevel, decision model.PolicyDecision, ctx map[string]string) Request {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	e := &entry{
		req: Request{
			ID:          id.String(),
			Timestamp:   time.Now().UTC(),
			Operation:   op,
			Description: description,
			Risk:        risk,
			Decision:    decision,
			Status:      StatusPending,
		},
		done: make(chan struct{}),
	}
	e.req.Context = copyMap(ctx)

	q.mu.Lock()
	q.pending[e.req.ID] = e
	snapshot := e.req.clone()
	listeners := q.snapshotListeners()
	closed := q.closed
	q.mu.Unlock()

	q.logger.Debug("approval requested", "id", snapshot.ID, "operation", snapshot.Operation, "risk", snapshot.Risk)
	for _, l := range listeners {
		q.safeCall("created", func() { l.OnRequestCreated(snapshot) })
	}
	if closed {
		q.resolve(snapshot.ID, StatusTimeout, ResolvedByCancelled)
	}
	return snapshot
}

// Close resolves every pending request to StatusTimeout, waking their
// waiters, and makes later requests resolve the same way as soon as they
// are created. It returns how many requests it expired. Call it on shutdown
// so no caller stays suspended until its timeout.
func (q *Queue) Close() int {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	n := q.resolveAll(StatusTimeout, ResolvedByCancelled)
	if n > 0 {
		q.logger.Info("approval queue closed", "expired", n)
	}
	return n
}

// Wait suspends until the request leaves pending, the timeout elapses or ctx
// is done. Timeout and cancellation resolve the request to StatusTimeout
// through the same path as Approve and Reject, so exactly one outcome wins.
// timeout <= 0 means the queue's default timeout.
// A request that is already resolved returns its final status immediately.
func (q *Queue) Wait(ctx context.Context, id string, timeout time.Duration) (Status, error) {
	q.mu.Lock()
	e, ok := q.pending[id]
	if !ok {
		defer q.mu.Unlock()
		if done, ok := q.byID[id]; ok {
			return done.req.Status, nil
		}
		return "", ErrNotFound
	}
	q.mu.Unlock()

	if timeout <= 0 {
		timeout = q.timeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-e.done:
	case <-timer.C:
		q.resolve(id, StatusTimeout, ResolvedByTimeout)
	case <-ctx.Done():
		q.resolve(id, StatusTimeout, ResolvedByCancelled)
	}

	// Whichever resolution won has closed done before releasing the lock.
	<-e.done
	q.mu.Lock()
	defer q.mu.Unlock()
	return e.req.Status, nil
}

// WaitForApproval reports whether the request ended approved.
func (q *Queue) WaitForApproval(ctx context.Context, id string, timeout time.Duration) bool {
	st, err := q.Wait(ctx, id, timeout)
	return err == nil && st == StatusApproved
}

// Approve resolves a pending request as approved. False if not pending.
func (q *Queue) Approve(id, by string) bool {
	_, ok := q.resolve(id, StatusApproved, by)
	return ok
}

// Reject resolves a pending request as rejected. False if not pending.
func (q *Queue) Reject(id, by string) bool {
	_, ok := q.resolve(id, StatusRejected, by)
	return ok
}

// ApproveAll approves every request pending at call time and returns how
// many it actually resolved.
func (q *Queue) ApproveAll(by string) int {
	return q.resolveAll(StatusApproved, by)
}

// RejectAll rejects every request pending at call time.
func (q *Queue) RejectAll(by string) int {
	return q.resolveAll(StatusRejected, by)
}

func (q *Queue) resolveAll(status Status, by string) int {
	q.mu.Lock()
	ids := make([]string, 0, len(q.pending))
	for id := range q.pending {
		ids = append(ids, id)
	}
	q.mu.Unlock()

	n := 0
	for _, id := range ids {
		if _, ok := q.resolve(id, status, by); ok {
			n++
		}
	}
	return n
}

// resolve atomically moves a pending request into history.
// Only the first caller for a given id succeeds.
func (q *Queue) resolve(id string, status Status, by string) (Request, bool) {
	q.mu.Lock()
	e, ok := q.pending[id]
	if !ok {
		q.mu.Unlock()
		return Request{}, false
	}
	delete(q.pending, id)

	now := time.Now().UTC()
	e.req.Status = status
	e.req.ResolvedAt = &now
	e.req.ResolvedBy = by
	close(e.done)
	q.pushHistory(e)

	snapshot := e.req.clone()
	listeners := q.snapshotListeners()
	q.mu.Unlock()

	q.logger.Debug("approval resolved", "id", id, "status", status, "by", by)
	for _, l := range listeners {
		q.safeCall("resolved", func() { l.OnRequestResolved(snapshot) })
	}
	return snapshot, true
}

// pushHistory appends to the ring. Caller holds q.mu.
func (q *Queue) pushHistory(e *entry) {
	if len(q.history) < q.limit {
		q.history = append(q.history, e)
	} else {
		evicted := q.history[q.head]
		delete(q.byID, evicted.req.ID)
		q.history[q.head] = e
		q.head = (q.head + 1) % q.limit
	}
	q.byID[e.req.ID] = e
}

// Get returns a copy of the request with the given id, pending or resolved.
func (q *Queue) Get(id string) (Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e, ok := q.pending[id]; ok {
		return e.req.clone(), true
	}
	if e, ok := q.byID[id]; ok {
		return e.req.clone(), true
	}
	return Request{}, false
}

// Pending returns copies of all pending requests, oldest first.
func (q *Queue) Pending() []Request {
	q.mu.Lock()
	out := make([]Request, 0, len(q.pending))
	for _, e := range q.pending {
		out = append(out, e.req.clone())
	}
	q.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// History returns up to limit resolved requests, most recent first.
// limit <= 0 returns everything held.
func (q *Queue) History(limit int) []Request {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Request, 0, limit)
	// Newest element sits just before head once the ring has wrapped.
	for i := 0; i < limit; i++ {
		idx := (q.head - 1 - i + 2*n) % n
		if n < q.limit {
			idx = n - 1 - i
		}
		out = append(out, q.history[idx].req.clone())
	}
	return out
}
