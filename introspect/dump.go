// Package introspect restores the original's DumpRunningRpcs
// introspection surface (yb_rpc.cc's RpcsDump), dropped by the
// distilled specification but supplemented back in per spec.md's
// Non-goals (which exclude metrics export, not a running-call listing).
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package introspect

// RunningCall is one in-flight inbound call as seen by a single reactor
// thread at the moment of the dump.
type RunningCall struct {
	ConnectionID  string `json:"connection_id"`
	RemoteMethod  string `json:"remote_method"`
	ElapsedMicros int64  `json:"elapsed_micros"`
}

// DumpRunningRpcsResponse aggregates RunningCall rows across every
// reactor thread a Messenger owns.
type DumpRunningRpcsResponse struct {
	Calls []RunningCall `json:"calls"`
}
