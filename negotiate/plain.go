// Package negotiate provides negotiate.PlainNegotiator, the default
// api.Negotiator: a SASL-PLAIN-style credential exchange restored from
// the original's InitSaslClient/InitSaslServer (yb_rpc.cc), simplified
// to a length-prefixed exchange over the raw socket rather than a real
// SASL/GSSAPI library (none appears anywhere in the retrieved pack).
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package negotiate

import (
	"encoding/binary"
	"errors"
	"net"
	"time"

	"github.com/nitrodb/rpcreactor/api"
)

var errCredentialTooLong = errors.New("negotiate: credential blob exceeds maxCredentialLen")

const maxCredentialLen = 4096

// CredentialStore authenticates a "user\x00password" PLAIN blob. Servers
// that want anonymous-allowed behavior (the original's default) can pass
// AllowAnonymous instead.
type CredentialStore interface {
	Authenticate(plain string) (user string, ok bool)
}

// AllowAnonymous is a CredentialStore that accepts every credential,
// identifying the caller as "anonymous" -- the original's
// FLAGS_rpc_allow_anonymous equivalent, used as the PlainNegotiator
// default.
var AllowAnonymous CredentialStore = anonymousStore{}

type anonymousStore struct{}

func (anonymousStore) Authenticate(plain string) (string, bool) { return "anonymous", true }

// PlainNegotiator implements api.Negotiator with a minimal PLAIN
// exchange: the client writes a [u16 length][credentials] blob; the
// server authenticates it against its CredentialStore and writes back a
// single status byte (1 = accepted, 0 = rejected) before either side
// considers the connection Open.
type PlainNegotiator struct {
	// ClientCredentials is sent verbatim by connections negotiating as
	// api.Client. Servers ignore it.
	ClientCredentials string

	// Store authenticates inbound connections negotiating as api.Server.
	// Defaults to AllowAnonymous if nil.
	Store CredentialStore
}

func (p *PlainNegotiator) store() CredentialStore {
	if p.Store != nil {
		return p.Store
	}
	return AllowAnonymous
}

// Negotiate implements api.Negotiator.
func (p *PlainNegotiator) Negotiate(conn net.Conn, dir api.Direction, deadline time.Time) (string, *api.Status) {
	conn.SetDeadline(deadline)
	defer conn.SetDeadline(time.Time{})

	if dir == api.Client {
		return p.negotiateClient(conn)
	}
	return p.negotiateServer(conn)
}

func (p *PlainNegotiator) negotiateClient(conn net.Conn) (string, *api.Status) {
	if err := writeLengthPrefixed(conn, []byte(p.ClientCredentials)); err != nil {
		return "", api.NetworkError("negotiation: writing credentials: %v", err)
	}
	var status [1]byte
	if _, err := readFull(conn, status[:]); err != nil {
		return "", api.NetworkError("negotiation: reading server status: %v", err)
	}
	if status[0] != 1 {
		return "", api.NetworkError("negotiation: server rejected credentials")
	}
	return p.ClientCredentials, nil
}

func (p *PlainNegotiator) negotiateServer(conn net.Conn) (string, *api.Status) {
	blob, err := readLengthPrefixed(conn)
	if err != nil {
		return "", api.NetworkError("negotiation: reading credentials: %v", err)
	}
	user, ok := p.store().Authenticate(string(blob))
	if !ok {
		conn.Write([]byte{0})
		return "", api.NetworkError("negotiation: credentials rejected")
	}
	if _, err := conn.Write([]byte{1}); err != nil {
		return "", api.NetworkError("negotiation: writing status: %v", err)
	}
	return user, nil
}

func writeLengthPrefixed(conn net.Conn, payload []byte) error {
	var hdr [2]byte
	binary.BigEndian.PutUint16(hdr[:], uint16(len(payload)))
	if _, err := conn.Write(hdr[:]); err != nil {
		return err
	}
	_, err := conn.Write(payload)
	return err
}

func readLengthPrefixed(conn net.Conn) ([]byte, error) {
	var hdr [2]byte
	if _, err := readFull(conn, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint16(hdr[:])
	if int(n) > maxCredentialLen {
		return nil, errCredentialTooLong
	}
	buf := make([]byte, n)
	if _, err := readFull(conn, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
