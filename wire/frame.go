package wire

import (
	"encoding/binary"

	"github.com/nitrodb/rpcreactor/api"
)

// LengthPrefixSize is the size of the big-endian length prefix preceding
// every frame's payload on the wire.
const LengthPrefixSize = 4

// Frame is one fully-parsed message: its header, body, and any sidecars
// sliced out of the payload according to the header's SidecarOffsets.
type Frame struct {
	Header    *Header
	Body      []byte
	Sidecars  [][]byte
	FrameSize int // total bytes this frame occupied on the wire, prefix included
}

// ProcessCalls consumes as many complete frames as are present at the
// front of buf, matching spec.md §4.1's process_calls contract and the
// original's YBConnectionContext::ProcessCalls loop: it stops at the first
// incomplete frame, leaving its bytes unconsumed, and fails outright (with
// no partial frames returned) the instant a frame's declared length
// exceeds maxMessageSize.
func ProcessCalls(buf []byte, maxMessageSize int) (frames []Frame, consumed int, status *api.Status) {
	pos := 0
	for len(buf)-pos >= LengthPrefixSize {
		totalPayloadLength := int(binary.BigEndian.Uint32(buf[pos : pos+LengthPrefixSize]))
		frameSize := totalPayloadLength + LengthPrefixSize
		if frameSize > maxMessageSize {
			return nil, 0, api.NetworkError(
				"frame had a length of %d, but we only support messages up to %d bytes long",
				frameSize, maxMessageSize)
		}
		if pos+frameSize > len(buf) {
			break // partial frame: leave it for the next read
		}

		payload := buf[pos+LengthPrefixSize : pos+frameSize]
		frame, st := parsePayload(payload, frameSize)
		if st != nil {
			return nil, 0, st
		}
		frames = append(frames, *frame)
		pos += frameSize
	}
	return frames, pos, nil
}

func parsePayload(payload []byte, frameSize int) (*Frame, *api.Status) {
	headerLen, n, st := readUvarint(payload)
	if st != nil {
		return nil, st
	}
	rest := payload[n:]
	if uint64(len(rest)) < headerLen {
		return nil, api.Corruption("header length %d exceeds remaining payload of %d bytes", headerLen, len(rest))
	}

	header, consumed, st := UnmarshalHeader(rest[:headerLen])
	if st != nil {
		return nil, st
	}
	if uint64(consumed) != headerLen {
		return nil, api.Corruption("header declared length %d but parsed %d bytes", headerLen, consumed)
	}
	rest = rest[headerLen:]

	bodyLen, n2, st := readUvarint(rest)
	if st != nil {
		return nil, st
	}
	rest = rest[n2:]
	if uint64(len(rest)) < bodyLen {
		return nil, api.Corruption("body length %d exceeds remaining payload of %d bytes", bodyLen, len(rest))
	}
	body := rest[:bodyLen]
	sidecarBlob := rest[bodyLen:]

	sidecars, st := splitSidecars(header.SidecarOffsets, bodyLen, sidecarBlob)
	if st != nil {
		return nil, st
	}

	return &Frame{Header: header, Body: body, Sidecars: sidecars, FrameSize: frameSize}, nil
}

// splitSidecars slices sidecarBlob according to offsets, which are
// measured from the start of the body (spec.md §4.1): offsets[0] equals
// bodyLen (the first sidecar begins immediately after the body), and each
// subsequent offset marks where the next sidecar begins.
func splitSidecars(offsets []uint32, bodyLen uint64, blob []byte) ([][]byte, *api.Status) {
	if len(offsets) == 0 {
		return nil, nil
	}
	sidecars := make([][]byte, 0, len(offsets))
	for i, off := range offsets {
		start := uint64(off) - bodyLen
		var end uint64
		if i+1 < len(offsets) {
			end = uint64(offsets[i+1]) - bodyLen
		} else {
			end = uint64(len(blob))
		}
		if start > uint64(len(blob)) || end > uint64(len(blob)) || start > end {
			return nil, api.Corruption("sidecar offset %d out of range for blob of %d bytes", off, len(blob))
		}
		sidecars = append(sidecars, blob[start:end])
	}
	return sidecars, nil
}

// SerializeResponse computes total size, writes the length prefix, header,
// body, and then raw sidecars appended in order with their absolute
// offsets recorded in the header's SidecarOffsets -- spec.md §4.1's
// serialize_response contract, grounded on the original's
// YBInboundCall::SerializeResponseBuffer.
func SerializeResponse(callID uint64, body []byte, sidecars [][]byte, isError bool) []byte {
	h := &Header{CallID: callID, IsError: isError}
	offset := uint32(len(body))
	for _, sc := range sidecars {
		h.SidecarOffsets = append(h.SidecarOffsets, offset)
		offset += uint32(len(sc))
	}

	headerLen := h.byteSize()
	payloadLen := uvarintSize(uint64(headerLen)) + headerLen +
		uvarintSize(uint64(len(body))) + len(body)
	for _, sc := range sidecars {
		payloadLen += len(sc)
	}

	out := make([]byte, LengthPrefixSize, LengthPrefixSize+payloadLen)
	binary.BigEndian.PutUint32(out[:LengthPrefixSize], uint32(payloadLen))

	out = appendUvarint(out, uint64(headerLen))
	out = MarshalHeader(h, out)
	out = appendUvarint(out, uint64(len(body)))
	out = append(out, body...)
	for _, sc := range sidecars {
		out = append(out, sc...)
	}
	return out
}

// SerializeRequest builds a request frame: call_id, remote_method, and
// timeout_millis in the header, followed by the body. Requests carry no
// sidecars in this implementation, matching the original where only
// responses sidecar-encode.
func SerializeRequest(callID uint64, method RemoteMethod, timeoutMillis uint64, body []byte) []byte {
	h := &Header{CallID: callID, RemoteMethod: method, TimeoutMillis: timeoutMillis}
	headerLen := h.byteSize()
	payloadLen := uvarintSize(uint64(headerLen)) + headerLen +
		uvarintSize(uint64(len(body))) + len(body)

	out := make([]byte, LengthPrefixSize, LengthPrefixSize+payloadLen)
	binary.BigEndian.PutUint32(out[:LengthPrefixSize], uint32(payloadLen))
	out = appendUvarint(out, uint64(headerLen))
	out = MarshalHeader(h, out)
	out = appendUvarint(out, uint64(len(body)))
	out = append(out, body...)
	return out
}

// ValidateRequestHeader re-exports validateRequestHeader for callers in
// the reactor package that parse inbound request frames.
func ValidateRequestHeader(h *Header) *api.Status {
	return validateRequestHeader(h)
}
