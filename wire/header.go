// Package wire implements the reactor's framed length-prefixed "YB" wire
// protocol: the header/body/sidecar payload layout of spec.md §4.1 and
// §6, grounded in the original's serialization.h contract (ParseYBMessage/
// SerializeHeader/SerializeMessage) and in the teacher's hand-rolled
// binary frame codec (protocol/frame_codec.go) -- no protobuf library is
// present anywhere in the retrieved pack, so the header is encoded with a
// small hand-written varint/length-prefixed scheme that exposes exactly
// the fields spec.md's "protobuf-like structured record" names.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package wire

import (
	"encoding/binary"

	"github.com/nitrodb/rpcreactor/api"
)

// RemoteMethod identifies the service/method pair a call targets.
type RemoteMethod struct {
	ServiceName string
	MethodName  string
}

func (m RemoteMethod) IsInitialized() bool {
	return m.ServiceName != "" && m.MethodName != ""
}

func (m RemoteMethod) String() string {
	return m.ServiceName + "." + m.MethodName
}

// Header is the structured record carried at the front of every frame's
// payload, exposing call_id, remote_method, timeout_millis on the request
// side and is_error/sidecar_offsets on the response side. Both directions
// share one Go type; unused fields are simply left zero.
type Header struct {
	CallID        uint64
	RemoteMethod  RemoteMethod
	TimeoutMillis uint64
	IsError       bool
	SidecarOffsets []uint32
}

const (
	flagIsError = byte(1 << 0)
)

// byteSize returns the exact number of bytes MarshalHeader will produce,
// mirroring the opaque encoder's byte_size() contract named in spec.md §1.
func (h *Header) byteSize() int {
	n := 1 // flags
	n += uvarintSize(h.CallID)
	n += uvarintSize(uint64(len(h.RemoteMethod.ServiceName))) + len(h.RemoteMethod.ServiceName)
	n += uvarintSize(uint64(len(h.RemoteMethod.MethodName))) + len(h.RemoteMethod.MethodName)
	n += uvarintSize(h.TimeoutMillis)
	n += uvarintSize(uint64(len(h.SidecarOffsets)))
	for _, off := range h.SidecarOffsets {
		n += uvarintSize(uint64(off))
	}
	return n
}

// MarshalHeader serializes h, appending to dst and returning the result.
func MarshalHeader(h *Header, dst []byte) []byte {
	var flags byte
	if h.IsError {
		flags |= flagIsError
	}
	dst = append(dst, flags)
	dst = appendUvarint(dst, h.CallID)
	dst = appendString(dst, h.RemoteMethod.ServiceName)
	dst = appendString(dst, h.RemoteMethod.MethodName)
	dst = appendUvarint(dst, h.TimeoutMillis)
	dst = appendUvarint(dst, uint64(len(h.SidecarOffsets)))
	for _, off := range h.SidecarOffsets {
		dst = appendUvarint(dst, uint64(off))
	}
	return dst
}

// UnmarshalHeader parses a Header out of src, returning the number of
// bytes consumed. It returns a *api.Status with KindCorruption if src is
// truncated or malformed.
func UnmarshalHeader(src []byte) (*Header, int, *api.Status) {
	if len(src) < 1 {
		return nil, 0, api.Corruption("header truncated: missing flags byte")
	}
	h := &Header{IsError: src[0]&flagIsError != 0}
	pos := 1

	callID, n, st := readUvarint(src[pos:])
	if st != nil {
		return nil, 0, st
	}
	h.CallID = callID
	pos += n

	svc, n, st := readString(src[pos:])
	if st != nil {
		return nil, 0, st
	}
	h.RemoteMethod.ServiceName = svc
	pos += n

	method, n, st := readString(src[pos:])
	if st != nil {
		return nil, 0, st
	}
	h.RemoteMethod.MethodName = method
	pos += n

	timeout, n, st := readUvarint(src[pos:])
	if st != nil {
		return nil, 0, st
	}
	h.TimeoutMillis = timeout
	pos += n

	count, n, st := readUvarint(src[pos:])
	if st != nil {
		return nil, 0, st
	}
	pos += n
	h.SidecarOffsets = make([]uint32, 0, count)
	for i := uint64(0); i < count; i++ {
		off, n, st := readUvarint(src[pos:])
		if st != nil {
			return nil, 0, st
		}
		pos += n
		h.SidecarOffsets = append(h.SidecarOffsets, uint32(off))
	}
	return h, pos, nil
}

func appendString(dst []byte, s string) []byte {
	dst = appendUvarint(dst, uint64(len(s)))
	return append(dst, s...)
}

func readString(src []byte) (string, int, *api.Status) {
	l, n, st := readUvarint(src)
	if st != nil {
		return "", 0, st
	}
	if uint64(len(src)-n) < l {
		return "", 0, api.Corruption("header truncated: string of length %d exceeds remaining %d bytes", l, len(src)-n)
	}
	return string(src[n : n+int(l)]), n + int(l), nil
}

func appendUvarint(dst []byte, v uint64) []byte {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], v)
	return append(dst, buf[:n]...)
}

func readUvarint(src []byte) (uint64, int, *api.Status) {
	v, n := binary.Uvarint(src)
	if n <= 0 {
		return 0, 0, api.Corruption("header truncated: invalid varint")
	}
	return v, n, nil
}

func uvarintSize(v uint64) int {
	var buf [binary.MaxVarintLen64]byte
	return binary.PutUvarint(buf[:], v)
}

// validateRequestHeader enforces spec.md §4.1's "header missing
// remote_method" and "uninitialized required fields" Corruption rule.
func validateRequestHeader(h *Header) *api.Status {
	if h.RemoteMethod.ServiceName == "" && h.RemoteMethod.MethodName == "" {
		return api.Corruption("request header must specify remote_method")
	}
	if !h.RemoteMethod.IsInitialized() {
		return api.Corruption("remote_method in request header is not initialized: %s", h.RemoteMethod)
	}
	return nil
}
