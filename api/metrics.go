package api

// ReactorMetrics is the per-reactor metrics snapshot named in spec.md §6:
// number of client connections, number of server connections. The
// messenger pool aggregates these across all reactors.
type ReactorMetrics struct {
	NumClientConnections int32
	NumServerConnections int32
}

// Add accumulates m into the receiver, used by the messenger to aggregate
// per-reactor snapshots.
func (m *ReactorMetrics) Add(o ReactorMetrics) {
	m.NumClientConnections += o.NumClientConnections
	m.NumServerConnections += o.NumServerConnections
}
