package reactor

import (
	"testing"
	"time"

	"github.com/nitrodb/rpcreactor/api"
)

func TestDelayedTaskFiresExactlyOnce(t *testing.T) {
	thread := &ReactorThread{curTime: time.Now()}

	var calls int
	var lastStatus *api.Status
	dt := NewDelayedTask(1, 10*time.Millisecond, func(status *api.Status) {
		calls++
		lastStatus = status
	})
	dt.run(thread)

	if len(thread.timers) != 1 {
		t.Fatalf("expected task to be armed on the heap, got %d entries", len(thread.timers))
	}

	thread.curTime = thread.curTime.Add(20 * time.Millisecond)
	thread.fireDueTimers()

	if calls != 1 {
		t.Fatalf("fn called %d times, want 1", calls)
	}
	if !lastStatus.Ok() {
		t.Errorf("status = %v, want OK (genuine fire)", lastStatus)
	}

	// A second fire (double-pop, or a racing Abort) must not call fn again.
	dt.fire(api.StatusOK)
	if calls != 1 {
		t.Fatalf("fn called %d times after second fire, want 1", calls)
	}
}

func TestDelayedTaskAbortBeforeRunPreventsArming(t *testing.T) {
	thread := &ReactorThread{curTime: time.Now()}

	var calls int
	var gotStatus *api.Status
	dt := NewDelayedTask(2, time.Hour, func(status *api.Status) {
		calls++
		gotStatus = status
	})

	dt.Abort(api.ServiceUnavailable("shutting down"))
	dt.run(thread)

	if len(thread.timers) != 0 {
		t.Fatalf("aborted task must not arm: heap has %d entries", len(thread.timers))
	}
	if calls != 1 {
		t.Fatalf("fn called %d times, want exactly 1 (from Abort)", calls)
	}
	if gotStatus.Ok() {
		t.Errorf("status = %v, want a non-OK abort status", gotStatus)
	}
}

func TestDelayedTaskAbortAfterArmBeatsLateFire(t *testing.T) {
	thread := &ReactorThread{curTime: time.Now()}

	var calls int
	dt := NewDelayedTask(3, time.Millisecond, func(*api.Status) { calls++ })
	dt.run(thread)

	dt.Abort(api.ServiceUnavailable("reactor shutting down"))

	thread.curTime = thread.curTime.Add(time.Second)
	thread.fireDueTimers()

	if calls != 1 {
		t.Fatalf("fn called %d times, want exactly 1 (from Abort, fire must be a no-op)", calls)
	}
}

func TestTimerHeapOrdersByDeadline(t *testing.T) {
	thread := &ReactorThread{curTime: time.Now()}
	var order []uint64

	dtLate := NewDelayedTask(1, 3*time.Second, func(*api.Status) { order = append(order, 1) })
	dtEarly := NewDelayedTask(2, time.Second, func(*api.Status) { order = append(order, 2) })
	dtMid := NewDelayedTask(3, 2*time.Second, func(*api.Status) { order = append(order, 3) })

	dtLate.run(thread)
	dtEarly.run(thread)
	dtMid.run(thread)

	thread.curTime = thread.curTime.Add(10 * time.Second)
	thread.fireDueTimers()

	if len(order) != 3 || order[0] != 2 || order[1] != 3 || order[2] != 1 {
		t.Fatalf("fired in order %v, want [2 3 1] (earliest deadline first)", order)
	}
}
