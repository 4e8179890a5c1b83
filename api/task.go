package api

// ReactorTask is a polymorphic unit of cross-thread work, matching the
// original's ReactorTask hierarchy (FunctorReactorTask,
// FunctorReactorTaskWithWeakPtr, DelayedTask, ...). Run executes only on
// the owning reactor thread; Abort may be invoked from any thread when the
// reactor shuts down before the task could be run.
type ReactorTask interface {
	// Run executes the task. Callers must guarantee this runs on the
	// owning reactor thread.
	Run()

	// Abort is invoked instead of Run when the reactor shuts down before
	// the task could be scheduled. Abort may run on any thread.
	Abort(status *Status)
}

// FuncTask adapts a plain function into a ReactorTask whose Abort is a
// no-op, the Go equivalent of the original's FunctorReactorTask.
type FuncTask struct {
	Fn func()
}

func (t *FuncTask) Run() {
	if t.Fn != nil {
		t.Fn()
	}
}

func (t *FuncTask) Abort(*Status) {}

// NewFuncTask builds a ReactorTask from a plain function.
func NewFuncTask(fn func()) *FuncTask {
	return &FuncTask{Fn: fn}
}

// AbortableFuncTask adapts a pair of functions (run, abort) into a
// ReactorTask, the shape used for tasks whose failure path must notify a
// waiting caller (e.g. an outbound call send or a RunOnReactorThread
// callback).
type AbortableFuncTask struct {
	RunFn   func()
	AbortFn func(*Status)
}

func (t *AbortableFuncTask) Run() {
	if t.RunFn != nil {
		t.RunFn()
	}
}

func (t *AbortableFuncTask) Abort(status *Status) {
	if t.AbortFn != nil {
		t.AbortFn(status)
	}
}

// NewAbortableFuncTask builds a ReactorTask from a run/abort pair.
func NewAbortableFuncTask(run func(), abort func(*Status)) *AbortableFuncTask {
	return &AbortableFuncTask{RunFn: run, AbortFn: abort}
}
