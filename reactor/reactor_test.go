package reactor

import (
	"net"
	"testing"
	"time"

	"github.com/nitrodb/rpcreactor/api"
	"github.com/nitrodb/rpcreactor/wire"
)

type echoDispatcher struct{}

func (echoDispatcher) QueueInbound(call api.InboundCall) {
	call.Respond(call.Body(), nil, false)
}

// TestReactorRoundTripRequestResponse exercises the full stack end to
// end over real loopback TCP and the real Linux epoll poller: a server
// reactor accepts a connection and echoes every request; a client
// reactor dials it, sends a call, and must observe exactly one
// successful completion.
func TestReactorRoundTripRequestResponse(t *testing.T) {
	cfg := api.Build(api.WithKeepaliveTimeout(2 * time.Second))

	serverReactor, err := NewReactor(0, cfg, nil, echoDispatcher{})
	if err != nil {
		t.Fatalf("NewReactor(server): %v", err)
	}
	defer serverReactor.Join()
	defer serverReactor.Shutdown()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan struct{}, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		serverReactor.RegisterInboundSocket(conn, nil, echoDispatcher{})
		accepted <- struct{}{}
	}()

	clientReactor, err := NewReactor(1, cfg, nil, nil)
	if err != nil {
		t.Fatalf("NewReactor(client): %v", err)
	}
	defer clientReactor.Join()
	defer clientReactor.Shutdown()

	id := api.NewConnectionId(ln.Addr().String(), "", "yb")
	method := wire.RemoteMethod{ServiceName: "Echo", MethodName: "Ping"}

	done := make(chan struct{}, 1)
	var gotBody []byte
	var gotStatus *api.Status
	call := NewOutboundCall(method, []byte("hello"), 5000, func(body []byte, _ [][]byte, status *api.Status) {
		gotBody = body
		gotStatus = status
		done <- struct{}{}
	})
	clientReactor.QueueOutboundCall(id, call)

	select {
	case <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for accept")
	}

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for round trip")
	}

	if !gotStatus.Ok() {
		t.Fatalf("status = %v, want OK", gotStatus)
	}
	if string(gotBody) != "hello" {
		t.Fatalf("body = %q, want %q", gotBody, "hello")
	}
}

// TestReactorOutboundCallTimesOut verifies an OutboundCall against a
// connection whose peer never responds completes exactly once with
// KindTimedOut and is not invoked again after a further settling delay.
func TestReactorOutboundCallTimesOut(t *testing.T) {
	cfg := api.Build(api.WithKeepaliveTimeout(5 * time.Second))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	// A silent server: accept and never respond.
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 4096)
		for {
			if _, err := conn.Read(buf); err != nil {
				return
			}
		}
	}()

	clientReactor, err := NewReactor(2, cfg, nil, nil)
	if err != nil {
		t.Fatalf("NewReactor: %v", err)
	}
	defer clientReactor.Join()
	defer clientReactor.Shutdown()

	id := api.NewConnectionId(ln.Addr().String(), "", "yb")
	method := wire.RemoteMethod{ServiceName: "Echo", MethodName: "Ping"}

	done := make(chan struct{}, 1)
	var callCount int
	var gotStatus *api.Status
	call := NewOutboundCall(method, []byte("hello"), 50, func(_ []byte, _ [][]byte, status *api.Status) {
		callCount++
		gotStatus = status
		done <- struct{}{}
	})
	clientReactor.QueueOutboundCall(id, call)

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for the call to time out")
	}

	if callCount != 1 {
		t.Fatalf("callback invoked %d times, want exactly 1", callCount)
	}
	if gotStatus == nil || gotStatus.Kind != api.KindTimedOut {
		t.Fatalf("status = %v, want KindTimedOut", gotStatus)
	}

	// Give any stray late-arriving event a chance to misfire; callCount
	// must still be exactly 1.
	time.Sleep(100 * time.Millisecond)
	if callCount != 1 {
		t.Fatalf("callback invoked %d times after settling, want exactly 1", callCount)
	}
}
