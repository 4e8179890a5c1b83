package reactor

import (
	"strconv"
	"sync"
	"time"

	"github.com/nitrodb/rpcreactor/api"
	"github.com/nitrodb/rpcreactor/wire"
)

// OutboundCall tracks one in-flight client call, grounded on the
// original's rpc::OutboundCall: it is inserted into its Connection's call
// map under its call_id and removed the instant it completes, by timeout,
// response, or connection teardown, whichever happens first.
type OutboundCall struct {
	CallID        uint64
	Method        wire.RemoteMethod
	Body          []byte
	TimeoutMillis uint64
	SentAt        time.Time

	callback func(body []byte, sidecars [][]byte, status *api.Status)

	mu          sync.Mutex
	done        bool
	timeoutTask *DelayedTask
}

// arm records the DelayedTask guarding this call's timeout so finish can
// abort it once the call completes by response or teardown.
func (c *OutboundCall) arm(task *DelayedTask) {
	c.mu.Lock()
	already := c.done
	c.timeoutTask = task
	c.mu.Unlock()
	if already {
		task.Abort(api.ServiceUnavailable("call %d already completed", c.CallID))
	}
}

// NewOutboundCall builds an OutboundCall with the given completion
// callback. callback is invoked at most once, from the owning reactor
// thread, or from the queueing goroutine when the reactor is already
// closing and the queueing task is aborted. CallID is left zero; the owning Connection assigns it from its
// monotonic counter once the call is actually queued.
func NewOutboundCall(method wire.RemoteMethod, body []byte, timeoutMillis uint64, callback func([]byte, [][]byte, *api.Status)) *OutboundCall {
	return &OutboundCall{Method: method, Body: body, TimeoutMillis: timeoutMillis, callback: callback}
}

// Complete delivers a successful or remote-error response. It is a no-op
// if the call already completed (by timeout or prior response).
func (c *OutboundCall) Complete(body []byte, sidecars [][]byte, isError bool) {
	var status *api.Status
	if isError {
		status = api.RemoteError("remote returned an error response for call %d", c.CallID)
	}
	c.finish(body, sidecars, status)
}

// Fail completes the call with status and no response payload, used for
// timeouts, connection teardown, and shutdown.
func (c *OutboundCall) Fail(status *api.Status) {
	c.finish(nil, nil, status)
}

func (c *OutboundCall) finish(body []byte, sidecars [][]byte, status *api.Status) {
	c.mu.Lock()
	if c.done {
		c.mu.Unlock()
		return
	}
	c.done = true
	task := c.timeoutTask
	c.mu.Unlock()
	if task != nil {
		task.Abort(api.ServiceUnavailable("call %d completed before its timeout", c.CallID))
	}
	if c.callback != nil {
		c.callback(body, sidecars, status)
	}
}

// InboundCall is the reactor's view of a parsed request awaiting
// dispatch, implementing api.InboundCall so it can be handed to an
// external InboundDispatcher without the reactor package depending on
// whatever executes call bodies.
type InboundCall struct {
	conn         *Connection
	callID       uint64
	method       wire.RemoteMethod
	body         []byte
	receivedAt   time.Time

	mu        sync.Mutex
	responded bool
}

func newInboundCall(conn *Connection, callID uint64, method wire.RemoteMethod, body []byte) *InboundCall {
	return &InboundCall{conn: conn, callID: callID, method: method, body: body, receivedAt: conn.thread.curTime}
}

func (c *InboundCall) CallID() string          { return strconv.FormatUint(c.callID, 10) }
func (c *InboundCall) RemoteMethod() string     { return c.method.String() }
func (c *InboundCall) Body() []byte             { return c.body }
func (c *InboundCall) TimeReceived() time.Time  { return c.receivedAt }

// Respond serializes and enqueues the response for flushing back to the
// client, matching spec.md §4.1's serialize_response/queue_outbound
// contract. It is safe to call from any thread: the enqueue is marshaled
// onto the owning reactor thread via Connection.queueOutboundResponse.
func (c *InboundCall) Respond(body []byte, sidecars [][]byte, isError bool) {
	c.mu.Lock()
	if c.responded {
		c.mu.Unlock()
		return
	}
	c.responded = true
	c.mu.Unlock()

	elapsed := time.Since(c.receivedAt)
	frame := wire.SerializeResponse(c.callID, body, sidecars, isError)
	c.conn.queueOutboundResponse(c, frame, elapsed)
}
