package reactor

import (
	"net"
	"time"

	"github.com/nitrodb/rpcreactor/api"
)

// Reactor is the thread-safe handle a ReactorThread's owner (the
// messenger, or any other foreign goroutine) uses to inject work: every
// method here is safe to call concurrently and from any goroutine,
// matching spec.md §4.4's Reactor/ReactorThread split and the teacher's
// Reactor interface (reactor/reactor.go) fronting its epollReactor.
type Reactor struct {
	thread *ReactorThread
}

// NewReactor starts a reactor thread and returns its handle. negotiator
// and dispatcher may be nil; a nil negotiator treats every connection as
// pre-authenticated, a nil dispatcher responds to every inbound call
// with a RemoteError (there is nothing to run it).
func NewReactor(idx int, cfg *api.Config, negotiator api.Negotiator, dispatcher api.InboundDispatcher) (*Reactor, error) {
	thread, err := newReactorThread(idx, cfg, negotiator, dispatcher)
	if err != nil {
		return nil, err
	}
	r := &Reactor{thread: thread}
	thread.handle = r
	go thread.loop()
	return r, nil
}

// RunOnReactorThread posts fn to run on the reactor thread and blocks the
// caller until fn has run or the reactor shuts down first, per spec.md
// §4.5. A nil *api.Status means fn ran to completion; a non-nil Status
// (always ServiceUnavailable) means the reactor was already closing and fn
// never ran at all.
func (r *Reactor) RunOnReactorThread(fn func()) *api.Status {
	done := make(chan *api.Status, 1)
	r.thread.postTask(api.NewAbortableFuncTask(
		func() { fn(); done <- nil },
		func(status *api.Status) { done <- status },
	))
	return <-done
}

// ScheduleDelayedTask arms a one-shot timer: fn runs on the reactor
// thread after delay unless the returned *DelayedTask is aborted first.
func (r *Reactor) ScheduleDelayedTask(delay time.Duration, fn func(*api.Status)) *DelayedTask {
	id := r.thread.nextDelayedTaskID.Add(1)
	dt := NewDelayedTask(id, delay, fn)
	r.thread.postTask(api.NewAbortableFuncTask(
		func() { dt.run(r.thread) },
		func(status *api.Status) { dt.Abort(status) },
	))
	return dt
}

// QueueOutboundCall enqueues a request on the connection identified by
// id, dialing it first if necessary, exactly as spec.md §4.1 describes.
func (r *Reactor) QueueOutboundCall(id api.ConnectionId, call *OutboundCall) {
	r.thread.postTask(api.NewAbortableFuncTask(
		func() {
			conn, ok := r.thread.clientConnsByID[id]
			if !ok {
				deadline := r.thread.curTime.Add(r.thread.cfg.KeepaliveTimeout)
				rawConn, status := dialTCP(id.RemoteAddress, deadline)
				if status != nil {
					call.Fail(status)
					return
				}
				fd, status := fdFromConn(rawConn)
				if status != nil {
					rawConn.Close()
					call.Fail(status)
					return
				}
				conn = newConnection(r.thread, rawConn, fd, api.Client, id)
				r.thread.registerConnection(conn)
			}
			conn.queueOutboundCall(call)
		},
		func(status *api.Status) { call.Fail(status) },
	))
}

// RegisterInboundSocket hands an already-accepted connection to this
// reactor, the counterpart of the original's Messenger registering a
// freshly accepted socket with one of its reactor threads by round-robin.
func (r *Reactor) RegisterInboundSocket(conn net.Conn, negotiator api.Negotiator, dispatcher api.InboundDispatcher) {
	r.thread.postTask(api.NewFuncTask(func() {
		fd, status := fdFromConn(conn)
		if status != nil {
			conn.Close()
			return
		}
		id := api.NewConnectionId(conn.RemoteAddr().String(), "", "yb")
		c := newConnection(r.thread, conn, fd, api.Server, id)
		c.negotiator = negotiator
		c.dispatcher = dispatcher
		r.thread.registerConnection(c)
	}))
}

// Metrics returns a point-in-time snapshot of this reactor's connection
// counts. Safe to call from any thread, including after Shutdown: if the
// reactor is already closing, postTask aborts the task instead of running
// it, in which case this returns the zero value rather than blocking
// forever.
func (r *Reactor) Metrics() api.ReactorMetrics {
	result := make(chan api.ReactorMetrics, 1)
	r.thread.postTask(api.NewAbortableFuncTask(
		func() { result <- r.thread.metrics() },
		func(*api.Status) { result <- api.ReactorMetrics{} },
	))
	return <-result
}

// DumpRunningCalls returns a snapshot of every inbound call currently
// being handled by this reactor's connections, the data spec.md's
// supplemented DumpRunningRpcs introspection surfaces. Safe to call from
// any thread, including after Shutdown (see Metrics).
func (r *Reactor) DumpRunningCalls() []RunningCallInfo {
	result := make(chan []RunningCallInfo, 1)
	r.thread.postTask(api.NewAbortableFuncTask(
		func() {
			var out []RunningCallInfo
			for _, conn := range r.thread.connsByFd {
				for _, call := range conn.inboundCalls {
					out = append(out, RunningCallInfo{
						ConnectionID:  conn.ID,
						RemoteMethod:  call.RemoteMethod(),
						ElapsedMicros: time.Since(call.receivedAt).Microseconds(),
					})
				}
			}
			result <- out
		},
		func(*api.Status) { result <- nil },
	))
	return <-result
}

// RunningCallInfo is one row of a DumpRunningRpcs response, restored
// from the original's per-call trace payload (yb_rpc.cc DumpRunningRpcs).
type RunningCallInfo struct {
	ConnectionID  api.ConnectionId
	RemoteMethod  string
	ElapsedMicros int64
}

// Closing reports whether the reactor thread has begun its shutdown
// sequence. It becomes true when the task posted by Shutdown runs on the
// reactor thread, not when Shutdown returns.
func (r *Reactor) Closing() bool {
	return r.thread.closing.Load()
}

// IsCurrentThread reports whether the calling goroutine is this
// reactor's own loop goroutine.
func (r *Reactor) IsCurrentThread() bool {
	return r.thread.isCurrentThread()
}

// Shutdown begins graceful teardown: every scheduled task, pending
// cross-thread task, and open connection is aborted with
// ServiceUnavailable, following spec.md §4.4's shutdown sequence.
// Shutdown does not block; call Join to wait for the loop to exit.
func (r *Reactor) Shutdown() {
	r.thread.postTask(api.NewFuncTask(r.thread.shutdownInternal))
}

// Join blocks until the reactor's loop goroutine has returned.
func (r *Reactor) Join() {
	<-r.thread.stopped
}
