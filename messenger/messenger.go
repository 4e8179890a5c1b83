// Package messenger implements the reactor pool: spec.md §5's Messenger,
// the owner of N reactor threads that fans outbound calls out by
// connection-affinity hash and inbound sockets out round-robin.
// Grounded on the original's rpc::Messenger and on the teacher's
// server.Server managing a pool of listeners/workers.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package messenger

import (
	"hash/fnv"
	"net"
	"runtime"
	"sync/atomic"

	"github.com/nitrodb/rpcreactor/api"
	"github.com/nitrodb/rpcreactor/introspect"
	"github.com/nitrodb/rpcreactor/reactor"
	"github.com/nitrodb/rpcreactor/wire"
)

// Messenger owns a fixed pool of reactor threads plus, optionally, one
// TCP listener accepting inbound connections and handing them out to the
// pool round-robin.
type Messenger struct {
	cfg        *api.Config
	reactors   []*reactor.Reactor
	negotiator api.Negotiator
	dispatcher api.InboundDispatcher

	listener  net.Listener
	acceptGen atomic.Uint64
	closed    atomic.Bool
	acceptDone chan struct{}
}

// New builds a Messenger with cfg.ReactorCount reactor threads (or
// runtime.NumCPU() if zero), sharing negotiator and dispatcher across all
// of them.
func New(cfg *api.Config, negotiator api.Negotiator, dispatcher api.InboundDispatcher) (*Messenger, error) {
	count := cfg.ReactorCount
	if count <= 0 {
		count = runtime.NumCPU()
	}
	m := &Messenger{cfg: cfg, negotiator: negotiator, dispatcher: dispatcher}
	for i := 0; i < count; i++ {
		r, err := reactor.NewReactor(i, cfg, negotiator, dispatcher)
		if err != nil {
			m.Shutdown()
			return nil, err
		}
		m.reactors = append(m.reactors, r)
	}
	return m, nil
}

// reactorForOutbound picks a reactor by hashing id, giving every call
// against the same remote connection affinity to one reactor thread --
// spec.md §5's "hash for outbound (affinity)".
func (m *Messenger) reactorForOutbound(id api.ConnectionId) *reactor.Reactor {
	h := fnv.New32a()
	h.Write([]byte(id.RemoteAddress))
	h.Write([]byte(id.UserCredentials))
	h.Write([]byte(id.Protocol))
	return m.reactors[int(h.Sum32())%len(m.reactors)]
}

// reactorForInbound picks the next reactor round-robin, spec.md §5's
// inbound fan-out policy.
func (m *Messenger) reactorForInbound() *reactor.Reactor {
	n := m.acceptGen.Add(1)
	return m.reactors[int(n)%len(m.reactors)]
}

// QueueOutboundCall enqueues call against the connection identified by
// id on its affinity-hashed reactor.
func (m *Messenger) QueueOutboundCall(id api.ConnectionId, method wire.RemoteMethod, body []byte, timeoutMillis uint64, onComplete func(body []byte, sidecars [][]byte, status *api.Status)) {
	call := reactor.NewOutboundCall(method, body, timeoutMillis, onComplete)
	m.reactorForOutbound(id).QueueOutboundCall(id, call)
}

// ListenAndServe binds address and spawns the accept loop, handing each
// accepted connection to a reactor round-robin. It returns once the
// listener is bound; accepting continues on a background goroutine until
// Shutdown is called.
func (m *Messenger) ListenAndServe(address string) error {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	m.listener = ln
	m.acceptDone = make(chan struct{})
	go m.acceptLoop()
	return nil
}

func (m *Messenger) acceptLoop() {
	defer close(m.acceptDone)
	for {
		conn, err := m.listener.Accept()
		if err != nil {
			if m.closed.Load() {
				return
			}
			continue
		}
		if tc, ok := conn.(*net.TCPConn); ok {
			tc.SetNoDelay(true)
		}
		m.reactorForInbound().RegisterInboundSocket(conn, m.negotiator, m.dispatcher)
	}
}

// Metrics aggregates every reactor's ReactorMetrics, spec.md §6's
// messenger-level rollup.
func (m *Messenger) Metrics() api.ReactorMetrics {
	var total api.ReactorMetrics
	for _, r := range m.reactors {
		total.Add(r.Metrics())
	}
	return total
}

// DumpRunningRpcs fans out across every reactor and assembles the
// introspection payload described in spec.md's supplemented features.
func (m *Messenger) DumpRunningRpcs() *introspect.DumpRunningRpcsResponse {
	resp := &introspect.DumpRunningRpcsResponse{}
	for _, r := range m.reactors {
		for _, c := range r.DumpRunningCalls() {
			resp.Calls = append(resp.Calls, introspect.RunningCall{
				ConnectionID:  c.ConnectionID.String(),
				RemoteMethod:  c.RemoteMethod,
				ElapsedMicros: c.ElapsedMicros,
			})
		}
	}
	return resp
}

// Shutdown stops accepting new connections and tears down every reactor,
// blocking until each has fully joined.
func (m *Messenger) Shutdown() {
	if !m.closed.CompareAndSwap(false, true) {
		return
	}
	if m.listener != nil {
		m.listener.Close()
		<-m.acceptDone
	}
	for _, r := range m.reactors {
		r.Shutdown()
	}
	for _, r := range m.reactors {
		r.Join()
	}
}
