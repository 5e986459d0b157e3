package fasthttp2

import (
	"bufio"
	"net"
	"testing"
	"time"

	h2mux "github.com/streamux/h2mux"
	"github.com/streamux/h2mux/hpack"
	"github.com/valyala/fasthttp"
)

// testClient drives the wire protocol by hand, the way the teacher's
// server_test.go exercises Server without going through Conn.
type testClient struct {
	br  *bufio.Reader
	bw  *bufio.Writer
	enc *hpack.Encoder
}

func newTestClient(c net.Conn) *testClient {
	return &testClient{
		br:  bufio.NewReader(c),
		bw:  bufio.NewWriter(c),
		enc: hpack.NewEncoder(),
	}
}

func (tc *testClient) handshake(t *testing.T) {
	t.Helper()
	if err := WritePreface(tc.bw); err != nil {
		t.Fatal(err)
	}
	st := h2mux.AcquireFrame(h2mux.FrameSettings).(*h2mux.Settings)
	st.Reset()
	frh := h2mux.AcquireFrameHeader()
	frh.SetBody(st)
	if _, err := frh.WriteTo(tc.bw); err != nil {
		t.Fatal(err)
	}
	h2mux.ReleaseFrameHeader(frh)
	if err := tc.bw.Flush(); err != nil {
		t.Fatal(err)
	}

	// server's own SETTINGS frame
	r := h2mux.NewReader(tc.br, 0)
	sfrh, err := r.ReadFrame()
	if err != nil {
		t.Fatal(err)
	}
	if sfrh.Type() != h2mux.FrameSettings {
		t.Fatalf("expected SETTINGS from server, got %s", sfrh.Type())
	}
	h2mux.ReleaseFrameHeader(sfrh)

	// the server acknowledges our SETTINGS once Serve starts reading
	afrh, err := r.ReadFrame()
	if err != nil {
		t.Fatal(err)
	}
	if afrh.Type() != h2mux.FrameSettings || !afrh.Body().(*h2mux.Settings).IsAck() {
		t.Fatalf("expected SETTINGS ack from server, got %s", afrh.Type())
	}
	h2mux.ReleaseFrameHeader(afrh)
}

func (tc *testClient) sendHeaders(t *testing.T, id uint32, endStream bool, hs map[string]string) {
	t.Helper()
	frh := h2mux.AcquireFrameHeader()
	frh.SetStream(id)

	h := h2mux.AcquireFrame(h2mux.FrameHeaders).(*h2mux.Headers)
	frh.SetBody(h)

	hf := hpack.AcquireHeaderField()
	for k, v := range hs {
		hf.Set(k, v)
		h.AppendHeaderField(tc.enc, hf, k[0] != ':')
	}
	hpack.ReleaseHeaderField(hf)

	h.SetEndStream(endStream)
	h.SetEndHeaders(true)

	if _, err := frh.WriteTo(tc.bw); err != nil {
		t.Fatal(err)
	}
	h2mux.ReleaseFrameHeader(frh)
	if err := tc.bw.Flush(); err != nil {
		t.Fatal(err)
	}
}

func (tc *testClient) readFrame(t *testing.T) *h2mux.FrameHeader {
	t.Helper()
	r := h2mux.NewReader(tc.br, 0)
	frh, err := r.ReadFrame()
	if err != nil {
		t.Fatal(err)
	}
	return frh
}

func TestServerConnRespondsToSimpleGet(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	defer serverSide.Close()
	defer clientSide.Close()

	sc := NewServerConn(serverSide, ServerOpts{
		Handler: func(ctx *fasthttp.RequestCtx) {
			ctx.SetStatusCode(200)
			ctx.SetBodyString("hello")
		},
	})

	tc := newTestClient(clientSide)

	done := make(chan error, 1)
	go func() {
		if err := sc.Handshake(); err != nil {
			done <- err
			return
		}
		done <- sc.Serve()
	}()

	tc.handshake(t)

	tc.sendHeaders(t, 1, true, map[string]string{
		":method":    "GET",
		":path":      "/",
		":authority": "localhost",
		":scheme":    "https",
	})

	frh := tc.readFrame(t)
	defer h2mux.ReleaseFrameHeader(frh)
	if frh.Type() != h2mux.FrameHeaders {
		t.Fatalf("expected HEADERS response, got %s", frh.Type())
	}
	if frh.Stream() != 1 {
		t.Fatalf("expected response on stream 1, got %d", frh.Stream())
	}

	dfrh := tc.readFrame(t)
	defer h2mux.ReleaseFrameHeader(dfrh)
	if dfrh.Type() != h2mux.FrameData {
		t.Fatalf("expected DATA response, got %s", dfrh.Type())
	}
	data := dfrh.Body().(*h2mux.Data)
	if string(data.Data()) != "hello" {
		t.Fatalf("unexpected response body: %q", data.Data())
	}
	if !data.EndStream() {
		t.Fatal("expected END_STREAM on the final DATA frame")
	}

	sc.shutdown()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after shutdown")
	}
}

func TestServerConnRejectsStreamsOverMaxConcurrent(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	defer serverSide.Close()
	defer clientSide.Close()

	sc := NewServerConn(serverSide, ServerOpts{
		Handler: func(ctx *fasthttp.RequestCtx) {
			ctx.SetStatusCode(200)
		},
		MaxConcurrentStreams: 1,
	})

	tc := newTestClient(clientSide)

	go func() {
		if err := sc.Handshake(); err != nil {
			return
		}
		sc.Serve()
	}()

	tc.handshake(t)

	// Stream 1 is accepted but deliberately left open (no END_STREAM), so
	// it still counts against MaxConcurrentStreams when stream 3 arrives.
	tc.sendHeaders(t, 1, false, map[string]string{
		":method":    "GET",
		":path":      "/",
		":authority": "localhost",
		":scheme":    "https",
	})
	tc.sendHeaders(t, 3, true, map[string]string{
		":method":    "GET",
		":path":      "/",
		":authority": "localhost",
		":scheme":    "https",
	})

	frh := tc.readFrame(t)
	defer h2mux.ReleaseFrameHeader(frh)
	if frh.Type() != h2mux.FrameResetStream {
		t.Fatalf("expected RST_STREAM for the refused stream, got %s", frh.Type())
	}
	if frh.Stream() != 3 {
		t.Fatalf("expected the reset on stream 3, got %d", frh.Stream())
	}
	rst := frh.Body().(*h2mux.RstStream)
	if rst.Code() != h2mux.RefusedStreamError {
		t.Fatalf("expected RefusedStreamError, got %s", rst.Code())
	}

	sc.shutdown()
}
