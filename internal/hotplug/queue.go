package hotplug

import "sync"

// Dispatcher is invoked once for each event the moment it becomes
// releasable and is moved into the in-progress set. The dispatcher owns
// the event from that point on: it must eventually call Queue.EndEvent (or
// Queue.Repost) to release it, possibly much later, after an asynchronous
// helper invocation completes.
type Dispatcher func(e *Event)

// Queue is the FIFO plus in-progress set feeding the pipeline. It is
// driven by repeatedly calling Pump; it does not run its own goroutine, so
// callers integrate it into their own event loop select.
type Queue struct {
	mu sync.Mutex

	pending    []*Event
	inProgress []*Event

	dispatch Dispatcher
	onIdle   func()
	idleFired bool

	restarts int // count of EnqueueAtFront/Repost/EndEvent-triggered restarts, for tests
}

// New creates an empty Queue. dispatch is called for every event that
// becomes releasable; onIdle (optional) is called once each time the queue
// and in-progress set both drain to empty.
func New(dispatch Dispatcher, onIdle func()) *Queue {
	return &Queue{dispatch: dispatch, onIdle: onIdle, idleFired: true}
}

// Enqueue appends an event to the tail of the FIFO.
func (q *Queue) Enqueue(e *Event) {
	q.mu.Lock()
	q.pending = append(q.pending, e)
	q.idleFired = false
	q.mu.Unlock()
}

// EnqueueAtFront prepends an event and signals a restart scan.
func (q *Queue) EnqueueAtFront(e *Event) {
	q.mu.Lock()
	q.pending = append([]*Event{e}, q.pending...)
	q.idleFired = false
	q.restarts++
	q.mu.Unlock()
}

// EndEvent removes e from the in-progress set and signals a restart scan.
// Called by (or on behalf of) the dispatcher once an event's handling has
// fully completed.
func (q *Queue) EndEvent(e *Event) {
	q.mu.Lock()
	q.inProgress = removeEvent(q.inProgress, e)
	q.restarts++
	q.checkIdleLocked()
	q.mu.Unlock()
}

// Repost implements the reentry mechanism: original is
// marked Reposted, pulled out of in-progress without being ended, and
// re-enqueued at the head directly behind synthetic (which is enqueued
// first). Used for the dm / fakevolume case where a synthetic child event
// must run before the outer event resumes.
func (q *Queue) Repost(original, synthetic *Event) {
	q.mu.Lock()
	original.Reposted = true
	q.inProgress = removeEvent(q.inProgress, original)
	q.pending = append([]*Event{synthetic, original}, q.pending...)
	q.idleFired = false
	q.restarts++
	q.mu.Unlock()
}

// RestartCount returns the number of EnqueueAtFront/Repost/EndEvent-induced
// restarts observed so far. Exposed for tests asserting on reentry
// behavior.
func (q *Queue) RestartCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.restarts
}

// Len returns the number of events currently queued (not in-progress).
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// InProgressLen returns the number of events currently in-progress.
func (q *Queue) InProgressLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inProgress)
}

// IsIdle reports whether both the queue and the in-progress set are empty.
func (q *Queue) IsIdle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) == 0 && len(q.inProgress) == 0
}

// Pump scans repeatedly from the head of the queue, dispatching every
// releasable event it finds, until no further event in the queue is
// releasable. It returns the number of
// events dispatched during this call. Safe to call reentrantly: a
// dispatched handler may itself call Enqueue/EnqueueAtFront/Repost/
// EndEvent before Pump returns to its scan loop.
func (q *Queue) Pump() int {
	dispatched := 0
	for {
		q.mu.Lock()
		idx := -1
		for i, e := range q.pending {
			if q.releasableLocked(i, e) {
				idx = i
				break
			}
		}
		if idx == -1 {
			q.mu.Unlock()
			return dispatched
		}
		e := q.pending[idx]
		q.pending = append(q.pending[:idx:idx], q.pending[idx+1:]...)
		q.inProgress = append(q.inProgress, e)
		q.mu.Unlock()

		dispatched++
		q.dispatch(e)
	}
}

// releasableLocked reports whether pending[idx] is releasable: no
// earlier-in-queue event and no in-progress event dominates it. Must be
// called with q.mu held.
func (q *Queue) releasableLocked(idx int, e *Event) bool {
	for i := 0; i < idx; i++ {
		if dominates(q.pending[i], e) {
			return false
		}
	}
	for _, other := range q.inProgress {
		if dominates(other, e) {
			return false
		}
	}
	return true
}

// checkIdleLocked fires onIdle exactly once per idle transition. Must be
// called with q.mu held.
func (q *Queue) checkIdleLocked() {
	if q.idleFired {
		return
	}
	if len(q.pending) == 0 && len(q.inProgress) == 0 {
		q.idleFired = true
		if q.onIdle != nil {
			onIdle := q.onIdle
			q.mu.Unlock()
			onIdle()
			q.mu.Lock()
		}
	}
}

func removeEvent(list []*Event, target *Event) []*Event {
	out := list[:0]
	for _, e := range list {
		if e != target {
			out = append(out, e)
		}
	}
	return out
}
