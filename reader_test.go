package http2

import (
	"bufio"
	"bytes"
	"testing"
)

func writeTestFrame(t *testing.T, bw *bufio.Writer, streamID uint32, body Frame) {
	t.Helper()

	frh := AcquireFrameHeader()
	defer ReleaseFrameHeader(frh)
	frh.SetStream(streamID)
	frh.SetBody(body)
	if _, err := frh.WriteTo(bw); err != nil {
		t.Fatal(err)
	}
}

func TestReaderReassemblesHeadersAndContinuation(t *testing.T) {
	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)

	h := AcquireFrame(FrameHeaders).(*Headers)
	h.SetHeaders([]byte("first-chunk"))
	h.SetEndHeaders(false)
	writeTestFrame(t, bw, 1, h)

	cont := AcquireFrame(FrameContinuation).(*Continuation)
	cont.SetHeader([]byte("-second-chunk"))
	cont.SetEndHeaders(true)
	writeTestFrame(t, bw, 1, cont)

	if err := bw.Flush(); err != nil {
		t.Fatal(err)
	}

	r := NewReader(bufio.NewReader(&buf), 0)
	frh, err := r.ReadFrame()
	if err != nil {
		t.Fatal(err)
	}
	defer ReleaseFrameHeader(frh)

	if frh.Type() != FrameHeaders {
		t.Fatalf("reassembled frame should still report as HEADERS, got %s", frh.Type())
	}

	got := frh.Body().(*Headers)
	if !got.EndHeaders() {
		t.Fatal("reassembled frame must be marked EndHeaders")
	}
	if want := "first-chunk-second-chunk"; string(got.Headers()) != want {
		t.Fatalf("unexpected reassembled headers: got %q, want %q", got.Headers(), want)
	}
}

func TestReaderRejectsContinuationStreamMismatch(t *testing.T) {
	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)

	h := AcquireFrame(FrameHeaders).(*Headers)
	h.SetHeaders([]byte("chunk"))
	h.SetEndHeaders(false)
	writeTestFrame(t, bw, 1, h)

	cont := AcquireFrame(FrameContinuation).(*Continuation)
	cont.SetEndHeaders(true)
	writeTestFrame(t, bw, 3, cont)

	if err := bw.Flush(); err != nil {
		t.Fatal(err)
	}

	r := NewReader(bufio.NewReader(&buf), 0)
	if _, err := r.ReadFrame(); err == nil {
		t.Fatal("expected a connection error for a CONTINUATION stream id mismatch")
	}
}

func TestReaderRejectsHeadersSelfDependency(t *testing.T) {
	// Built as raw wire bytes rather than through Headers.Serialize, which
	// expects its caller to have already reserved the 5 priority bytes at
	// the front of rawHeaders.
	var buf bytes.Buffer

	payload := []byte{
		0, 0, 0, 7, // dependency stream id: 7, same as the frame's own stream
		16, // weight
	}
	header := []byte{
		byte(len(payload) >> 16), byte(len(payload) >> 8), byte(len(payload)),
		byte(FrameHeaders),
		byte(FlagEndHeaders | FlagPriority),
		0, 0, 0, 7, // frame's own stream id
	}
	buf.Write(header)
	buf.Write(payload)

	r := NewReader(bufio.NewReader(&buf), 0)
	_, err := r.ReadFrame()
	if err == nil {
		t.Fatal("expected a stream error for a HEADERS frame depending on itself")
	}

	se, ok := AsStreamError(err)
	if !ok {
		t.Fatalf("expected a *StreamError, got %T: %v", err, err)
	}
	if se.ID != 7 {
		t.Fatalf("expected the error to carry stream id 7, got %d", se.ID)
	}
	if se.Reason != ProtocolError {
		t.Fatalf("expected ProtocolError, got %s", se.Reason)
	}
}

func TestReaderRejectsPrioritySelfDependency(t *testing.T) {
	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)

	pry := AcquireFrame(FramePriority).(*Priority)
	pry.SetStream(7)
	pry.SetWeight(16)
	writeTestFrame(t, bw, 7, pry)

	if err := bw.Flush(); err != nil {
		t.Fatal(err)
	}

	r := NewReader(bufio.NewReader(&buf), 0)
	_, err := r.ReadFrame()
	if err == nil {
		t.Fatal("expected a stream error for a PRIORITY frame depending on itself")
	}

	se, ok := AsStreamError(err)
	if !ok {
		t.Fatalf("expected a *StreamError, got %T: %v", err, err)
	}
	if se.ID != 7 {
		t.Fatalf("expected the error to carry stream id 7, got %d", se.ID)
	}
	if se.Reason != ProtocolError {
		t.Fatalf("expected ProtocolError, got %s", se.Reason)
	}
}

func TestReaderPassesThroughNonHeaderFrames(t *testing.T) {
	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)

	ping := AcquireFrame(FramePing).(*Ping)
	ping.SetData([]byte("12345678"))
	writeTestFrame(t, bw, 0, ping)

	if err := bw.Flush(); err != nil {
		t.Fatal(err)
	}

	r := NewReader(bufio.NewReader(&buf), 0)
	frh, err := r.ReadFrame()
	if err != nil {
		t.Fatal(err)
	}
	defer ReleaseFrameHeader(frh)

	if frh.Type() != FramePing {
		t.Fatalf("expected PING passed through unchanged, got %s", frh.Type())
	}
}
