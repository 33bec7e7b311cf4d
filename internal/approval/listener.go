package approval

import (
	"runtime/debug"
)

// Listener receives request lifecycle notifications. Calls happen outside the
// queue's lock, in the goroutine that created or resolved the request.
// Each request produces exactly one OnRequestCreated and one OnRequestResolved.
type Listener interface {
	OnRequestCreated(Request)
	OnRequestResolved(Request)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	Created  func(Request)
	Resolved func(Request)
}

// OnRequestCreated implements Listener.
func (f ListenerFuncs) OnRequestCreated(r Request) {
	if f.Created != nil {
		f.Created(r)
	}
}

// OnRequestResolved implements Listener.
func (f ListenerFuncs) OnRequestResolved(r Request) {
	if f.Resolved != nil {
		f.Resolved(r)
	}
}

type subscription struct {
	id int
	l  Listener
}

// Subscribe registers l and returns a function that removes it.
// Listeners are called in registration order.
func (q *Queue) Subscribe(l Listener) (unsubscribe func()) {
	q.mu.Lock()
	q.nextSub++
	id := q.nextSub
	q.listeners = append(q.listeners, subscription{id: id, l: l})
	q.mu.Unlock()

	return func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		for i, sub := range q.listeners {
			if sub.id == id {
				q.listeners = append(q.listeners[:i:i], q.listeners[i+1:]...)
				return
			}
		}
	}
}

// snapshotListeners copies the current listeners. Caller holds q.mu.
func (q *Queue) snapshotListeners() []Listener {
	out := make([]Listener, len(q.listeners))
	for i, sub := range q.listeners {
		out[i] = sub.l
	}
	return out
}

// safeCall invokes a listener and recovers from any panic so one misbehaving
// subscriber cannot break resolution for the others.
func (q *Queue) safeCall(event string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("approval listener panicked", "event", event, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	fn()
}
