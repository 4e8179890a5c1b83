package reactor

import (
	"bytes"
	"net"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"

	"github.com/nitrodb/rpcreactor/api"
	"github.com/nitrodb/rpcreactor/internal/affinity"
	"github.com/nitrodb/rpcreactor/internal/xlog"
)

// ReactorThread is the single-threaded event loop of spec.md §4.4,
// grounded on the original's rpc::ReactorThread and the teacher's
// internal/concurrency eventloop.go. Every field here except pendingTasks
// (and the handful of atomics) is touched only by the goroutine running
// loop -- that goroutine is this reactor thread, in the sense spec.md
// means the term.
type ReactorThread struct {
	idx    int
	cfg    *api.Config
	poller Poller
	handle *Reactor

	connsByFd       map[uintptr]*Connection
	clientConnsByID map[api.ConnectionId]*Connection
	waitingConns    map[*Connection]struct{}

	timers timerHeap

	curTime           time.Time
	lastKeepaliveScan time.Time

	tasksMu      sync.Mutex
	pendingTasks *queue.Queue

	closing     atomic.Bool
	ownerGoid   atomic.Uint64
	stopped     chan struct{}

	nextDelayedTaskID atomic.Uint64

	negotiator api.Negotiator
	dispatcher api.InboundDispatcher
}

func newReactorThread(idx int, cfg *api.Config, negotiator api.Negotiator, dispatcher api.InboundDispatcher) (*ReactorThread, error) {
	poller, err := NewPoller()
	if err != nil {
		return nil, err
	}
	return &ReactorThread{
		idx:             idx,
		cfg:             cfg,
		poller:          poller,
		connsByFd:       make(map[uintptr]*Connection),
		clientConnsByID: make(map[api.ConnectionId]*Connection),
		waitingConns:    make(map[*Connection]struct{}),
		pendingTasks:    queue.New(),
		stopped:         make(chan struct{}),
		negotiator:      negotiator,
		dispatcher:      dispatcher,
		curTime:         time.Now(),
	}, nil
}

// postTask enqueues task for execution on the reactor thread and wakes
// the poller. Safe to call from any thread, including the reactor thread
// itself -- spec.md's run_on_reactor_thread always hops through the
// queue rather than special-casing the caller's identity, since Go
// offers no cheap, safe way to special-case it. See DESIGN.md.
func (t *ReactorThread) postTask(task api.ReactorTask) {
	t.tasksMu.Lock()
	if t.closing.Load() {
		t.tasksMu.Unlock()
		task.Abort(api.ServiceUnavailable("reactor %d is closing", t.idx))
		return
	}
	t.pendingTasks.Add(task)
	t.tasksMu.Unlock()
	t.poller.Wake()
}

func (t *ReactorThread) drainPendingTasks() {
	for {
		t.tasksMu.Lock()
		if t.pendingTasks.Length() == 0 {
			t.tasksMu.Unlock()
			return
		}
		task := t.pendingTasks.Remove().(api.ReactorTask)
		t.tasksMu.Unlock()
		task.Run()
	}
}

// goid returns the running goroutine's numeric id by parsing the header
// line runtime.Stack always produces. No goroutine-identity library
// exists anywhere in the retrieved corpus, so this narrow, self-contained
// stdlib primitive is used instead of fabricating a dependency; see
// DESIGN.md.
func goid() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := bytes.Fields(buf[:n])
	if len(fields) < 2 {
		return 0
	}
	id, _ := strconv.ParseUint(string(fields[1]), 10, 64)
	return id
}

// isCurrentThread reports whether the calling goroutine is this
// ReactorThread's loop goroutine.
func (t *ReactorThread) isCurrentThread() bool {
	return goid() == t.ownerGoid.Load()
}

// loop is the event loop itself: spec.md §4.4 step by step -- refresh
// cur_time, drain pending tasks, poll with a timeout bounded by the
// coarse timer granularity and the earliest armed DelayedTask, dispatch
// readiness, fire due timers, and periodically sweep idle connections.
func (t *ReactorThread) loop() {
	runtime.LockOSThread()
	t.ownerGoid.Store(goid())
	if t.cfg.PinReactorThreads {
		if err := affinity.Pin(t.idx); err != nil {
			xlog.Debugf("reactor %d: CPU pin failed: %v", t.idx, err)
		}
	}
	defer close(t.stopped)

	t.curTime = time.Now()
	t.lastKeepaliveScan = t.curTime

	for {
		t.drainPendingTasks()
		if t.closing.Load() && len(t.connsByFd) == 0 {
			return
		}

		timeout := t.cfg.CoarseTimerGranularity
		if deadline, ok := maybePrefetchDeadline(&t.timers); ok {
			if d := deadline.Sub(t.curTime); d < timeout {
				if d < 0 {
					d = 0
				}
				timeout = d
			}
		}

		events, err := t.poller.Wait(timeout)
		if err != nil {
			xlog.Warnf("reactor %d: poller wait failed: %v", t.idx, err)
		}
		t.curTime = time.Now()

		for _, ev := range events {
			conn, ok := t.connsByFd[ev.Fd]
			if !ok {
				continue
			}
			if ev.Err {
				t.destroyConnection(conn, api.NetworkError("socket error on %s", conn))
				continue
			}
			// Only Open connections service reads/writes through the
			// codec (spec.md §4.2): while Negotiating, the fd isn't
			// registered with the poller yet (see Connection.
			// completeNegotiation), so this check is mostly defensive,
			// but it keeps the invariant explicit at the dispatch site
			// too rather than relying solely on registration timing.
			if ev.Readable && conn.State() == api.Open {
				conn.handleReadable()
			}
			if _, stillOpen := t.connsByFd[ev.Fd]; stillOpen && ev.Writable && conn.State() == api.Open {
				conn.handleWritable()
			}
		}

		t.fireDueTimers()

		if t.curTime.Sub(t.lastKeepaliveScan) >= t.cfg.CoarseTimerGranularity {
			t.runKeepaliveScan()
			t.lastKeepaliveScan = t.curTime
		}
	}
}

func (t *ReactorThread) fireDueTimers() {
	for len(t.timers) > 0 && !t.timers[0].fireAt.After(t.curTime) {
		task := heapPop(&t.timers)
		task.fire(api.StatusOK)
	}
}

// runKeepaliveScan destroys any connection that has sat idle (no
// in-flight calls, empty write queue) longer than KeepaliveTimeout,
// spec.md §4.4's periodic keepalive scan.
func (t *ReactorThread) runKeepaliveScan() {
	for _, conn := range t.connsByFd {
		if conn.State() == api.Open && conn.IsIdle() && conn.idleSince() >= t.cfg.KeepaliveTimeout {
			xlog.Debugf("reactor %d: evicting idle connection %s", t.idx, conn)
			t.destroyConnection(conn, api.TimedOut("connection %s idle for %s", conn, conn.idleSince()))
		}
	}
}

// registerConnection adds conn to connsByFd and, for client connections,
// to clientConnsByID, then starts negotiation. The fd is deliberately not
// registered with the poller yet: spec.md §4.2 reserves the socket for
// the negotiator alone while Negotiating, and Connection.
// completeNegotiation registers it with the poller the instant it
// transitions to Open. Only ever called from the reactor thread.
func (t *ReactorThread) registerConnection(conn *Connection) {
	t.connsByFd[conn.fd] = conn
	if conn.Direction == api.Client {
		t.clientConnsByID[conn.ID] = conn
	}
	t.waitingConns[conn] = struct{}{}
	deadline := t.curTime.Add(t.cfg.KeepaliveTimeout)
	conn.startNegotiation(deadline)
}

// destroyConnection tears conn down and removes it from every set it may
// belong to, preserving the membership invariant of spec.md §3.
func (t *ReactorThread) destroyConnection(conn *Connection, status *api.Status) {
	if _, ok := t.connsByFd[conn.fd]; !ok {
		return
	}
	conn.shutdown(status)
	delete(t.connsByFd, conn.fd)
	delete(t.waitingConns, conn)
	if conn.Direction == api.Client {
		if existing, ok := t.clientConnsByID[conn.ID]; ok && existing == conn {
			delete(t.clientConnsByID, conn.ID)
		}
	}
}

func (t *ReactorThread) metrics() api.ReactorMetrics {
	var m api.ReactorMetrics
	for _, c := range t.connsByFd {
		if c.Direction == api.Client {
			m.NumClientConnections++
		} else {
			m.NumServerConnections++
		}
	}
	return m
}

// shutdownInternal implements spec.md §4.4's shutdown sequence. It is
// posted as a task so it always runs on the reactor thread.
//
// Setting closing and draining pendingTasks happen inside one tasksMu
// critical section, not two: postTask only ever enqueues a task after
// observing closing==false under the same mutex, so a task that loses the
// race to this critical section is always still sitting in pendingTasks
// when the drain below runs, and a task that arrives after this critical
// section unlocks always observes closing==true and is aborted directly
// by postTask instead of being enqueued. There is no window in between
// where a task can be added but never drained or aborted.
func (t *ReactorThread) shutdownInternal() {
	for len(t.timers) > 0 {
		task := heapPop(&t.timers)
		task.fire(api.ServiceUnavailable("reactor %d is shutting down", t.idx))
	}

	t.tasksMu.Lock()
	t.closing.Store(true)
	var aborted []api.ReactorTask
	for t.pendingTasks.Length() > 0 {
		aborted = append(aborted, t.pendingTasks.Remove().(api.ReactorTask))
	}
	t.tasksMu.Unlock()
	for _, task := range aborted {
		task.Abort(api.ServiceUnavailable("reactor %d is shutting down", t.idx))
	}

	for _, conn := range t.connsByFd {
		conn.shutdown(api.ServiceUnavailable("reactor %d is shutting down", t.idx))
	}
	t.connsByFd = make(map[uintptr]*Connection)
	t.clientConnsByID = make(map[api.ConnectionId]*Connection)
	t.waitingConns = make(map[*Connection]struct{})

	t.poller.Close()
}

func dialTCP(address string, deadline time.Time) (net.Conn, *api.Status) {
	d := net.Dialer{Deadline: deadline}
	conn, err := d.Dial("tcp", address)
	if err != nil {
		return nil, api.IOError("dial %s: %v", address, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}
	return conn, nil
}
