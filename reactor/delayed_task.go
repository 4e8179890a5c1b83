package reactor

import (
	"sync"
	"time"

	"github.com/nitrodb/rpcreactor/api"
)

// DelayedTask is the exactly-once, fire-or-abort scheduled task of
// spec.md §4.3, grounded on the original's rpc::DelayedTask and on the
// teacher's Scheduler (internal/concurrency/scheduler.go). Run arms the
// task by inserting it into its owning ReactorThread's timerHeap; Abort
// may be called from any thread, including the reactor thread itself
// during shutdown.
type DelayedTask struct {
	id    uint64
	delay time.Duration
	fn    func(*api.Status)

	mu   sync.Mutex
	done bool

	fireAt    time.Time
	heapIndex int
}

// NewDelayedTask builds a DelayedTask that, once run on a reactor thread,
// fires fn exactly once after delay with api.StatusOK, unless aborted
// first.
func NewDelayedTask(id uint64, delay time.Duration, fn func(*api.Status)) *DelayedTask {
	return &DelayedTask{id: id, delay: delay, fn: fn, heapIndex: -1}
}

// run arms t on thread's timer heap. It must only be called from the
// owning reactor thread, which is the only goroutine permitted to mutate
// thread.timers. DelayedTask does not itself implement api.ReactorTask:
// Reactor.ScheduleDelayedTask wraps run/Abort in an
// api.AbortableFuncTask bound to the target thread at schedule time.
func (t *DelayedTask) run(thread *ReactorThread) {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return
	}
	t.fireAt = thread.curTime.Add(t.delay)
	t.mu.Unlock()
	heapPush(&thread.timers, t)
}

// Abort fires fn with status unless the task is already done. It is safe
// to call from any thread, including before run has ever executed
// (abort-before-run) or after the timer has already fired (a no-op).
// status should not be OK: fn receives OK only on a genuine timer fire.
func (t *DelayedTask) Abort(status *api.Status) {
	t.fire(status)
}

// fire marks the task done exactly once and, on the first caller to win
// the race, invokes fn. The per-task mutex is the CAS spec.md §4.3
// requires to serialize disarm against fire.
func (t *DelayedTask) fire(status *api.Status) {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return
	}
	t.done = true
	t.mu.Unlock()
	if t.fn != nil {
		t.fn(status)
	}
}

// maybePrefetchDeadline peeks the heap's earliest deadline, the one piece
// of the teacher's Scheduler.run this loop needs: whether there's a timer
// armed at all, and if so when it's due.
func maybePrefetchDeadline(h *timerHeap) (time.Time, bool) {
	if len(*h) == 0 {
		return time.Time{}, false
	}
	return h.peekDeadline(), true
}
