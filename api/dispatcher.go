package api

import "time"

// InboundCall is the minimal view of a parsed inbound call the messenger's
// service-dispatch thread pool needs. The reactor core's reactor.InboundCall
// type implements this interface; the actual dispatch thread pool that
// executes the call's business logic is an external collaborator
// (spec.md §1) represented here only by the InboundDispatcher hook.
type InboundCall interface {
	CallID() string
	RemoteMethod() string
	Body() []byte
	TimeReceived() time.Time

	// Respond serializes and enqueues the response (or error) for
	// flushing back to the client. It may be called at most once.
	Respond(body []byte, sidecars [][]byte, isError bool)
}

// InboundDispatcher is the messenger.queue_inbound(call) hook: handing a
// parsed InboundCall to whatever executes it is explicitly out of scope
// for the reactor (spec.md §1); this interface is the seam.
type InboundDispatcher interface {
	QueueInbound(call InboundCall)
}

// InboundDispatcherFunc adapts a plain function to InboundDispatcher.
type InboundDispatcherFunc func(call InboundCall)

func (f InboundDispatcherFunc) QueueInbound(call InboundCall) { f(call) }
