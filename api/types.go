package api

import "fmt"

// Direction identifies whether a Connection was established by us
// (Client) or accepted from a remote peer (Server).
type Direction int

const (
	Client Direction = iota
	Server
)

func (d Direction) String() string {
	if d == Client {
		return "client"
	}
	return "server"
}

// ConnState is the connection lifecycle state described in spec.md §4.2.
type ConnState int32

const (
	Negotiating ConnState = iota
	Open
	Closing
)

func (s ConnState) String() string {
	switch s {
	case Negotiating:
		return "negotiating"
	case Open:
		return "open"
	case Closing:
		return "closing"
	default:
		return "unknown"
	}
}

// ConnectionId is the tuple (remote_address, user_credentials, protocol)
// used as the lookup key for client connections. It is immutable once
// constructed and must be hashable/equality-comparable, which a plain Go
// struct of comparable fields already gives us as a map key.
type ConnectionId struct {
	RemoteAddress   string
	UserCredentials string
	Protocol        string
}

// NewConnectionId builds a ConnectionId from its three identifying parts.
func NewConnectionId(remoteAddress, userCredentials, protocol string) ConnectionId {
	return ConnectionId{
		RemoteAddress:   remoteAddress,
		UserCredentials: userCredentials,
		Protocol:        protocol,
	}
}

func (c ConnectionId) String() string {
	return fmt.Sprintf("%s[%s]/%s", c.RemoteAddress, c.UserCredentials, c.Protocol)
}
