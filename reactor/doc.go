// Package reactor implements the single-threaded event-loop reactor at the
// core of the RPC transport: a ReactorThread owns a set of Connections
// exclusively, multiplexing their sockets through a Poller and draining a
// cross-thread task queue on wakeup. Reactor is the thread-safe handle
// foreign goroutines use to inject work; ReactorThread is the loop itself
// and must never be touched except from its own goroutine.
//
// Grounded on the original's yb::rpc::Reactor/ReactorThread (reactor.h,
// yb_rpc.cc) and on the teacher's reactor.Reactor/epollReactor
// (reactor/reactor.go, reactor/epoll_reactor.go) and its
// internal/concurrency eventloop/scheduler machinery.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package reactor
