package reactor

import (
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/nitrodb/rpcreactor/api"
	"github.com/nitrodb/rpcreactor/internal/xlog"
	"github.com/nitrodb/rpcreactor/wire"
)

// Connection is one TCP connection owned exclusively by a single
// ReactorThread, grounded on the original's rpc::Connection /
// YBConnectionContext. Every field below is touched only from the owning
// reactor thread; the handful of operations foreign threads need
// (queueing an outbound call, queueing a response) are posted to the
// reactor's task queue rather than mutating this struct directly.
type Connection struct {
	ID        api.ConnectionId
	Direction api.Direction

	thread *ReactorThread
	conn   net.Conn
	fd     uintptr

	state atomic.Int32 // api.ConnState

	readBuf []byte

	writeQueue  [][]byte
	writeOffset int
	writeOn     bool

	outboundCalls map[uint64]*OutboundCall
	nextCallID    uint64

	// pendingWrites holds request frames queued while State() ==
	// Negotiating: spec.md §4.4 requires calls to be held, not written to
	// the wire, until negotiation completes, since the negotiator (not
	// the reactor) owns the socket until then. completeNegotiation
	// flushes these through enqueueWrite.
	pendingWrites [][]byte

	inboundCalls map[uint64]*InboundCall

	lastActivity atomic.Int64 // unix nanos

	dispatcher api.InboundDispatcher
	negotiator api.Negotiator

	negotiationDeadline time.Time
	negotiationTimeout  *DelayedTask
}

func newConnection(thread *ReactorThread, conn net.Conn, fd uintptr, dir api.Direction, id api.ConnectionId) *Connection {
	c := &Connection{
		ID:            id,
		Direction:     dir,
		thread:        thread,
		conn:          conn,
		fd:            fd,
		readBuf:       make([]byte, 0, 16<<10),
		outboundCalls: make(map[uint64]*OutboundCall),
		inboundCalls:  make(map[uint64]*InboundCall),
		negotiator:    thread.negotiator,
		dispatcher:    thread.dispatcher,
	}
	c.state.Store(int32(api.Negotiating))
	c.touch()
	return c
}

func (c *Connection) State() api.ConnState  { return api.ConnState(c.state.Load()) }
func (c *Connection) setState(s api.ConnState) { c.state.Store(int32(s)) }

func (c *Connection) touch() {
	c.lastActivity.Store(c.thread.curTime.UnixNano())
}

// IsIdle reports whether the connection has no in-flight calls and
// nothing queued to write -- the keepalive scan's eligibility test from
// spec.md §4.4.
func (c *Connection) IsIdle() bool {
	return len(c.outboundCalls) == 0 && len(c.inboundCalls) == 0 && len(c.writeQueue) == 0
}

func (c *Connection) idleSince() time.Duration {
	last := time.Unix(0, c.lastActivity.Load())
	return c.thread.curTime.Sub(last)
}

func (c *Connection) String() string {
	return fmt.Sprintf("Connection{%s %s fd=%d state=%s}", c.Direction, c.ID, c.fd, c.State())
}

// startNegotiation arms the reactor-side negotiation deadline (spec.md
// §4.4's start_connection_negotiation: "schedule a delayed task at
// deadline that, if still pending, forces negotiation failure with
// TimedOut") and launches the pluggable handshake off the reactor thread
// (spec.md §9's "coroutine-style negotiation": Negotiate may block, so it
// always runs on a helper goroutine operating on conn's net.Conn directly;
// the reactor does not register the fd with the poller or touch it via
// rawRead/rawWrite until negotiation completes, so the two goroutines
// never race on the socket). The handshake's result is marshaled back
// onto the reactor thread through the normal cross-thread task queue.
func (c *Connection) startNegotiation(deadline time.Time) {
	c.negotiationDeadline = deadline

	id := c.thread.nextDelayedTaskID.Add(1)
	dt := NewDelayedTask(id, deadline.Sub(c.thread.curTime), func(status *api.Status) {
		if status.Ok() {
			c.completeNegotiation("", api.TimedOut("negotiation for %s did not complete before deadline", c))
		}
	})
	c.negotiationTimeout = dt
	dt.run(c.thread)

	if c.negotiator == nil {
		c.completeNegotiation("", nil)
		return
	}
	conn, dir := c.conn, c.Direction
	thread := c.thread
	go func() {
		creds, status := c.negotiator.Negotiate(conn, dir, deadline)
		thread.handle.RunOnReactorThread(func() {
			c.completeNegotiation(creds, status)
		})
	}()
}

func (c *Connection) completeNegotiation(credentials string, status *api.Status) {
	if c.State() != api.Negotiating {
		return
	}
	if c.negotiationTimeout != nil {
		c.negotiationTimeout.Abort(api.ServiceUnavailable("negotiation for %s finished before its deadline", c))
		c.negotiationTimeout = nil
	}
	if status != nil {
		xlog.Warnf("negotiation failed for %s: %v", c, status)
		c.thread.destroyConnection(c, status)
		return
	}
	if err := c.thread.poller.Register(c.fd); err != nil {
		c.thread.destroyConnection(c, api.IOError("poller register: %v", err))
		return
	}
	if c.Direction == api.Server {
		c.ID = api.NewConnectionId(c.conn.RemoteAddr().String(), credentials, "yb")
	}
	c.setState(api.Open)
	c.touch()
	delete(c.thread.waitingConns, c)

	pending := c.pendingWrites
	c.pendingWrites = nil
	for _, frame := range pending {
		c.enqueueWrite(frame)
	}
	xlog.Debugf("negotiation complete for %s", c)
}

// handleReadable drains as many bytes as are available on fd and feeds
// them through wire.ProcessCalls, dispatching each fully-parsed frame.
func (c *Connection) handleReadable() {
	var tmp [64 << 10]byte
	for {
		n, status := rawRead(c.fd, tmp[:])
		if status != nil {
			c.thread.destroyConnection(c, status)
			return
		}
		if n == 0 {
			break
		}
		c.readBuf = append(c.readBuf, tmp[:n]...)
		if n < len(tmp) {
			break
		}
	}
	if len(c.readBuf) == 0 {
		return
	}

	frames, consumed, status := wire.ProcessCalls(c.readBuf, c.thread.cfg.MaxMessageSize)
	if status != nil {
		c.thread.destroyConnection(c, status)
		return
	}
	if consumed > 0 {
		remaining := len(c.readBuf) - consumed
		copy(c.readBuf, c.readBuf[consumed:])
		c.readBuf = c.readBuf[:remaining]
	}
	if len(frames) > 0 {
		c.touch()
	}
	for i := range frames {
		c.dispatchFrame(&frames[i])
	}
}

func (c *Connection) dispatchFrame(f *wire.Frame) {
	if c.Direction == api.Server {
		c.handleRequest(f)
	} else {
		c.handleResponse(f)
	}
}

// handleRequest implements the server side: validate the header, reject
// a duplicate call-id per spec.md §9's resolved Open Question (log and
// close the connection), otherwise build an InboundCall and hand it to
// the dispatcher.
func (c *Connection) handleRequest(f *wire.Frame) {
	if status := wire.ValidateRequestHeader(f.Header); status != nil {
		c.thread.destroyConnection(c, status)
		return
	}
	callID := f.Header.CallID
	if _, dup := c.inboundCalls[callID]; dup {
		xlog.Warnf("duplicate call_id %d on %s; closing connection", callID, c)
		c.thread.destroyConnection(c, api.NetworkError("duplicate call_id %d", callID))
		return
	}
	call := newInboundCall(c, callID, f.Header.RemoteMethod, f.Body)
	c.inboundCalls[callID] = call
	if c.dispatcher != nil {
		c.dispatcher.QueueInbound(call)
	} else {
		call.Respond(nil, nil, true)
	}
}

func (c *Connection) handleResponse(f *wire.Frame) {
	call, ok := c.outboundCalls[f.Header.CallID]
	if !ok {
		xlog.Warnf("response for unknown call_id %d on %s; ignoring", f.Header.CallID, c)
		return
	}
	delete(c.outboundCalls, f.Header.CallID)
	call.Complete(f.Body, f.Sidecars, f.Header.IsError)
}

// queueOutboundResponse is called by InboundCall.Respond, possibly from a
// foreign dispatch-thread-pool goroutine and possibly from the reactor
// thread itself, so it always re-enters through the reactor's task queue
// without waiting for the task to run. A server connection is always Open
// by the time it has an inbound call to respond to, so the frame goes
// straight to enqueueWrite rather than through pendingWrites.
func (c *Connection) queueOutboundResponse(call *InboundCall, frame []byte, elapsed time.Duration) {
	c.thread.postTask(api.NewFuncTask(func() {
		delete(c.inboundCalls, call.callID)
		c.logSlowCallIfNeeded(call, elapsed)
		c.enqueueWrite(frame)
	}))
}

func (c *Connection) logSlowCallIfNeeded(call *InboundCall, elapsed time.Duration) {
	if c.thread.cfg.DumpAllTraces || elapsed >= c.thread.cfg.SlowQueryThreshold {
		xlog.Infof("slow call %s on %s took %s", call.RemoteMethod(), c, elapsed)
	}
}

// queueOutboundCall allocates the connection's next monotonic call_id for
// call, registers it, and serializes its request frame. While the
// connection is still Negotiating, the frame is held on pendingWrites
// rather than written to the wire -- spec.md §4.4's
// complete_connection_negotiation is what "transitions conn to Open and
// flushes any queued outbound calls". Called only from the reactor thread
// (via Reactor.QueueOutboundCall's cross-thread hop).
func (c *Connection) queueOutboundCall(call *OutboundCall) {
	if c.State() == api.Closing {
		call.Fail(api.ServiceUnavailable("connection %s is closing", c))
		return
	}
	c.nextCallID++
	call.CallID = c.nextCallID
	call.SentAt = c.thread.curTime
	c.outboundCalls[call.CallID] = call
	frame := wire.SerializeRequest(call.CallID, call.Method, call.TimeoutMillis, call.Body)
	if c.State() == api.Negotiating {
		c.pendingWrites = append(c.pendingWrites, frame)
		c.touch()
	} else {
		c.enqueueWrite(frame)
	}

	if call.TimeoutMillis > 0 {
		id := c.thread.nextDelayedTaskID.Add(1)
		dt := NewDelayedTask(id, time.Duration(call.TimeoutMillis)*time.Millisecond, func(status *api.Status) {
			if status.Ok() {
				delete(c.outboundCalls, call.CallID)
				call.Fail(api.TimedOut("call %d to %s timed out after %dms", call.CallID, c, call.TimeoutMillis))
			}
		})
		call.arm(dt)
		dt.run(c.thread)
	}
}

func (c *Connection) enqueueWrite(frame []byte) {
	c.writeQueue = append(c.writeQueue, frame)
	c.touch()
	if !c.writeOn {
		c.writeOn = true
		if err := c.thread.poller.EnableWrite(c.fd); err != nil {
			xlog.Warnf("EnableWrite failed for %s: %v", c, err)
		}
	}
}

// handleWritable drains as much of the front of writeQueue as the socket
// will currently accept.
func (c *Connection) handleWritable() {
	for len(c.writeQueue) > 0 {
		buf := c.writeQueue[0][c.writeOffset:]
		n, status := rawWrite(c.fd, buf)
		if status != nil {
			c.thread.destroyConnection(c, status)
			return
		}
		if n == 0 {
			return // would block; wait for the next writable event
		}
		c.writeOffset += n
		if c.writeOffset == len(c.writeQueue[0]) {
			c.writeQueue = c.writeQueue[1:]
			c.writeOffset = 0
		}
	}
	if c.writeOn {
		c.writeOn = false
		if err := c.thread.poller.DisableWrite(c.fd); err != nil {
			xlog.Warnf("DisableWrite failed for %s: %v", c, err)
		}
	}
}

// shutdown aborts every in-flight call with status and releases the
// socket. It must run on the owning reactor thread.
func (c *Connection) shutdown(status *api.Status) {
	c.setState(api.Closing)
	for id, call := range c.outboundCalls {
		call.Fail(status)
		delete(c.outboundCalls, id)
	}
	for id := range c.inboundCalls {
		delete(c.inboundCalls, id)
	}
	c.thread.poller.Unregister(c.fd)
	c.conn.Close()
}
