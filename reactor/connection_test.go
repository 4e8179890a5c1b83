package reactor

import (
	"net"
	"testing"
	"time"

	"github.com/nitrodb/rpcreactor/api"
	"github.com/nitrodb/rpcreactor/wire"
)

// fakePoller is a no-op Poller so connection-level tests can exercise
// shutdown/enqueue paths without a real epoll instance.
type fakePoller struct {
	writeEnabled map[uintptr]bool
}

func newFakePoller() *fakePoller { return &fakePoller{writeEnabled: make(map[uintptr]bool)} }

func (p *fakePoller) Register(uintptr) error      { return nil }
func (p *fakePoller) EnableWrite(fd uintptr) error { p.writeEnabled[fd] = true; return nil }
func (p *fakePoller) DisableWrite(fd uintptr) error {
	delete(p.writeEnabled, fd)
	return nil
}
func (p *fakePoller) Unregister(uintptr) error                { return nil }
func (p *fakePoller) Wait(time.Duration) ([]Event, error)     { return nil, nil }
func (p *fakePoller) Wake() error                              { return nil }
func (p *fakePoller) Close() error                             { return nil }

func newTestConnection(t *testing.T, dir api.Direction) (*Connection, *ReactorThread) {
	t.Helper()
	thread := &ReactorThread{
		cfg:             api.DefaultConfig(),
		poller:          newFakePoller(),
		connsByFd:       make(map[uintptr]*Connection),
		clientConnsByID: make(map[api.ConnectionId]*Connection),
		waitingConns:    make(map[*Connection]struct{}),
		curTime:         time.Now(),
	}
	local, remote := net.Pipe()
	t.Cleanup(func() { local.Close(); remote.Close() })

	id := api.NewConnectionId("127.0.0.1:1", "", "yb")
	conn := newConnection(thread, local, 1, dir, id)
	conn.setState(api.Open)
	thread.connsByFd[conn.fd] = conn
	if dir == api.Client {
		thread.clientConnsByID[id] = conn
	}
	return conn, thread
}

func TestConnectionIsIdle(t *testing.T) {
	conn, _ := newTestConnection(t, api.Server)
	if !conn.IsIdle() {
		t.Fatal("freshly created connection should be idle")
	}
	conn.inboundCalls[1] = &InboundCall{}
	if conn.IsIdle() {
		t.Fatal("connection with an in-flight inbound call should not be idle")
	}
	delete(conn.inboundCalls, 1)
	conn.writeQueue = append(conn.writeQueue, []byte("x"))
	if conn.IsIdle() {
		t.Fatal("connection with a pending write should not be idle")
	}
}

type captureDispatcher struct {
	calls []api.InboundCall
}

func (d *captureDispatcher) QueueInbound(call api.InboundCall) {
	d.calls = append(d.calls, call)
}

func TestHandleRequestDispatchesAndTracksInboundCall(t *testing.T) {
	conn, _ := newTestConnection(t, api.Server)
	dispatcher := &captureDispatcher{}
	conn.dispatcher = dispatcher

	frame := &wire.Frame{
		Header: &wire.Header{CallID: 5, RemoteMethod: wire.RemoteMethod{ServiceName: "Svc", MethodName: "M"}},
		Body:   []byte("payload"),
	}
	conn.handleRequest(frame)

	if len(dispatcher.calls) != 1 {
		t.Fatalf("got %d dispatched calls, want 1", len(dispatcher.calls))
	}
	if _, ok := conn.inboundCalls[5]; !ok {
		t.Fatal("call 5 should be tracked as in-flight")
	}
}

func TestHandleRequestDuplicateCallIDClosesConnection(t *testing.T) {
	conn, thread := newTestConnection(t, api.Server)
	conn.dispatcher = &captureDispatcher{}

	frame := &wire.Frame{
		Header: &wire.Header{CallID: 9, RemoteMethod: wire.RemoteMethod{ServiceName: "Svc", MethodName: "M"}},
		Body:   []byte("a"),
	}
	conn.handleRequest(frame)
	if _, stillPresent := thread.connsByFd[conn.fd]; !stillPresent {
		t.Fatal("connection should still be registered after the first request")
	}

	conn.handleRequest(frame) // duplicate call_id

	if _, stillPresent := thread.connsByFd[conn.fd]; stillPresent {
		t.Fatal("duplicate call_id must close the connection (spec.md's resolved Open Question)")
	}
}

func TestHandleResponseCompletesMatchingOutboundCall(t *testing.T) {
	conn, _ := newTestConnection(t, api.Client)

	var gotBody []byte
	var gotStatus *api.Status
	call := NewOutboundCall(wire.RemoteMethod{ServiceName: "Svc", MethodName: "M"}, []byte("req"), 0,
		func(body []byte, _ [][]byte, status *api.Status) {
			gotBody = body
			gotStatus = status
		})
	call.CallID = 7
	conn.outboundCalls[7] = call

	conn.handleResponse(&wire.Frame{Header: &wire.Header{CallID: 7}, Body: []byte("resp")})

	if string(gotBody) != "resp" {
		t.Errorf("body = %q, want %q", gotBody, "resp")
	}
	if !gotStatus.Ok() {
		t.Errorf("status = %v, want OK", gotStatus)
	}
	if _, stillPresent := conn.outboundCalls[7]; stillPresent {
		t.Error("completed call should be removed from outboundCalls")
	}
}

func TestHandleResponseUnknownCallIDIsIgnored(t *testing.T) {
	conn, _ := newTestConnection(t, api.Client)
	// Must not panic and must leave the (empty) call map untouched.
	conn.handleResponse(&wire.Frame{Header: &wire.Header{CallID: 404}, Body: []byte("x")})
	if len(conn.outboundCalls) != 0 {
		t.Errorf("outboundCalls should remain empty, got %d entries", len(conn.outboundCalls))
	}
}
