package wire

import (
	"bytes"
	"testing"

	"github.com/nitrodb/rpcreactor/api"
)

func TestSerializeRequestRoundTrip(t *testing.T) {
	method := RemoteMethod{ServiceName: "KeyValue", MethodName: "Read"}
	body := []byte("hello request")
	raw := SerializeRequest(42, method, 5000, body)

	frames, consumed, status := ProcessCalls(raw, defaultTestMax)
	if status != nil {
		t.Fatalf("unexpected error: %v", status)
	}
	if consumed != len(raw) {
		t.Fatalf("consumed %d, want %d", consumed, len(raw))
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	f := frames[0]
	if f.Header.CallID != 42 {
		t.Errorf("CallID = %d, want 42", f.Header.CallID)
	}
	if f.Header.RemoteMethod != method {
		t.Errorf("RemoteMethod = %+v, want %+v", f.Header.RemoteMethod, method)
	}
	if f.Header.TimeoutMillis != 5000 {
		t.Errorf("TimeoutMillis = %d, want 5000", f.Header.TimeoutMillis)
	}
	if !bytes.Equal(f.Body, body) {
		t.Errorf("Body = %q, want %q", f.Body, body)
	}
	if len(f.Sidecars) != 0 {
		t.Errorf("expected no sidecars, got %d", len(f.Sidecars))
	}
}

func TestSerializeResponseRoundTripWithSidecars(t *testing.T) {
	body := []byte("response body")
	sidecars := [][]byte{[]byte("sidecar-one"), []byte("sidecar-two-longer")}
	raw := SerializeResponse(7, body, sidecars, false)

	frames, consumed, status := ProcessCalls(raw, defaultTestMax)
	if status != nil {
		t.Fatalf("unexpected error: %v", status)
	}
	if consumed != len(raw) {
		t.Fatalf("consumed %d, want %d", consumed, len(raw))
	}
	f := frames[0]
	if f.Header.CallID != 7 {
		t.Errorf("CallID = %d, want 7", f.Header.CallID)
	}
	if f.Header.IsError {
		t.Errorf("IsError = true, want false")
	}
	if !bytes.Equal(f.Body, body) {
		t.Errorf("Body = %q, want %q", f.Body, body)
	}
	if len(f.Sidecars) != 2 {
		t.Fatalf("got %d sidecars, want 2", len(f.Sidecars))
	}
	for i, want := range sidecars {
		if !bytes.Equal(f.Sidecars[i], want) {
			t.Errorf("Sidecars[%d] = %q, want %q", i, f.Sidecars[i], want)
		}
	}
	wantOffsets := []uint32{uint32(len(body)), uint32(len(body) + len(sidecars[0]))}
	for i, want := range wantOffsets {
		if f.Header.SidecarOffsets[i] != want {
			t.Errorf("SidecarOffsets[%d] = %d, want %d", i, f.Header.SidecarOffsets[i], want)
		}
	}
}

func TestProcessCallsPartialFrameLeavesBytesUnconsumed(t *testing.T) {
	method := RemoteMethod{ServiceName: "Svc", MethodName: "M"}
	raw := SerializeRequest(1, method, 0, []byte("payload"))
	truncated := raw[:len(raw)-3]

	frames, consumed, status := ProcessCalls(truncated, defaultTestMax)
	if status != nil {
		t.Fatalf("unexpected error: %v", status)
	}
	if consumed != 0 {
		t.Errorf("consumed = %d, want 0 for a partial frame", consumed)
	}
	if len(frames) != 0 {
		t.Errorf("got %d frames, want 0", len(frames))
	}
}

func TestProcessCallsMultipleFramesInOneBuffer(t *testing.T) {
	method := RemoteMethod{ServiceName: "Svc", MethodName: "M"}
	a := SerializeRequest(1, method, 0, []byte("first"))
	b := SerializeRequest(2, method, 0, []byte("second"))
	buf := append(append([]byte{}, a...), b...)

	frames, consumed, status := ProcessCalls(buf, defaultTestMax)
	if status != nil {
		t.Fatalf("unexpected error: %v", status)
	}
	if consumed != len(buf) {
		t.Fatalf("consumed %d, want %d", consumed, len(buf))
	}
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if frames[0].Header.CallID != 1 || frames[1].Header.CallID != 2 {
		t.Errorf("unexpected call ids: %d, %d", frames[0].Header.CallID, frames[1].Header.CallID)
	}
}

func TestProcessCallsRejectsOversizeFrame(t *testing.T) {
	// A 4-byte prefix declaring 8 MiB + 1 bytes of payload, per spec.md's
	// length-overflow boundary scenario.
	buf := make([]byte, 8)
	tooBig := (8 << 20) + 1
	buf[0] = byte(tooBig >> 24)
	buf[1] = byte(tooBig >> 16)
	buf[2] = byte(tooBig >> 8)
	buf[3] = byte(tooBig)

	_, _, status := ProcessCalls(buf, 8<<20)
	if status == nil {
		t.Fatal("expected NetworkError for oversize frame, got nil")
	}
	if status.Kind != api.KindNetworkError {
		t.Errorf("Kind = %v, want KindNetworkError", status.Kind)
	}
}

func TestValidateRequestHeaderRejectsMissingRemoteMethod(t *testing.T) {
	h := &Header{CallID: 1}
	status := ValidateRequestHeader(h)
	if status == nil || status.Kind != api.KindCorruption {
		t.Fatalf("expected Corruption, got %v", status)
	}
}

const defaultTestMax = 8 << 20
