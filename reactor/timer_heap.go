package reactor

import (
	"container/heap"
	"time"
)

// timerHeap is a min-heap of *DelayedTask ordered by fireAt, the Go
// analogue of the teacher's container/heap-based taskHeap
// (internal/concurrency/scheduler.go) standing in for the original's
// per-task ev::timer: rather than one OS timer per task, the reactor
// thread checks the heap's earliest deadline once per loop iteration.
type timerHeap []*DelayedTask

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].fireAt.Before(h[j].fireAt) }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].heapIndex = i; h[j].heapIndex = j }
func (h *timerHeap) Push(x interface{}) {
	t := x.(*DelayedTask)
	t.heapIndex = len(*h)
	*h = append(*h, t)
}
func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	t.heapIndex = -1
	return t
}

// peekDeadline returns the earliest fireAt in the heap, or the zero Time
// if it is empty.
func (h timerHeap) peekDeadline() time.Time {
	if len(h) == 0 {
		return time.Time{}
	}
	return h[0].fireAt
}

var _ = heap.Interface(&timerHeap{})

func heapPush(h *timerHeap, t *DelayedTask) { heap.Push(h, t) }

func heapPop(h *timerHeap) *DelayedTask { return heap.Pop(h).(*DelayedTask) }
