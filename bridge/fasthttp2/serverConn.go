package fasthttp2

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"runtime/debug"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	h2mux "github.com/streamux/h2mux"
	"github.com/streamux/h2mux/hpack"
	"github.com/valyala/fasthttp"
)

// ServerOpts configures a server-side HTTP/2 connection.
type ServerOpts struct {
	// Handler is invoked once per request, the same as fasthttp's own
	// server dispatch.
	Handler fasthttp.RequestHandler
	// Debug is stored on the connection; no per-frame logging is
	// produced.
	Debug bool
	// Logger receives reports of panics recovered in the read loop and in
	// request handlers, whether or not Debug is set.
	Logger fasthttp.Logger
	// MaxRequestTime bounds how long a stream may stay open without
	// completing; zero disables the timeout.
	MaxRequestTime time.Duration
	// PingInterval is how often the server sends a PING, whether or not
	// the connection is busy; zero uses DefaultPingInterval.
	PingInterval time.Duration
	// MaxIdleTime is stored on the connection but not enforced: the
	// connection is never closed for being idle.
	MaxIdleTime time.Duration
	// MaxConcurrentStreams bounds concurrently open client streams.
	MaxConcurrentStreams uint32
}

type reqStream struct {
	key   h2mux.Key
	req   fasthttp.Request
	res   fasthttp.Response
	ctx   *fasthttp.RequestCtx
	timer *time.Timer
}

var reqStreamPool = sync.Pool{
	New: func() interface{} { return &reqStream{} },
}

func acquireReqStream() *reqStream {
	rs := reqStreamPool.Get().(*reqStream)
	rs.req.Reset()
	rs.res.Reset()
	rs.timer = nil
	return rs
}

func releaseReqStream(rs *reqStream) {
	reqStreamPool.Put(rs)
}

// serverConn dispatches one accepted HTTP/2 connection: it multiplexes
// client-initiated streams onto a single fasthttp.RequestHandler and
// writes responses back over one serialized writer goroutine.
//
// Grounded on the teacher's serverConn, condensed from its three
// goroutine (writer/reader/handleStreams) split down to a writer loop
// plus an inline reader/dispatch loop, since stream bookkeeping now
// lives in Store instead of a linear Streams slice scanned per frame.
type serverConn struct {
	c net.Conn
	h fasthttp.RequestHandler

	br *bufio.Reader
	bw *bufio.Writer

	enc *hpack.Encoder
	dec *hpack.Decoder

	reader *h2mux.Reader

	store *h2mux.Store
	send  *h2mux.Send
	recv  *h2mux.Recv

	// idsMu guards ids: dispatch runs on the single reader goroutine, but
	// finishRequest's handler goroutine and the maxRequestTime timer both
	// call closeStream concurrently with it.
	idsMu sync.Mutex
	ids   map[uint32]*reqStream

	lastID uint32

	maxWindow     int32
	currentWindow int32

	current h2mux.Settings
	clientS h2mux.Settings

	maxStreams     uint32
	openStreams    uint32
	maxRequestTime time.Duration
	pingInterval   time.Duration
	maxIdleTime    time.Duration

	writer chan *h2mux.FrameHeader
	closer chan struct{}

	debug  bool
	logger fasthttp.Logger

	closed uint64
}

// NewServerConn wraps an already-accepted net.Conn (post-ALPN) in an
// HTTP/2 server dispatcher.
func NewServerConn(c net.Conn, opts ServerOpts) *serverConn {
	store := h2mux.NewStore()

	sc := &serverConn{
		c:              c,
		h:              opts.Handler,
		br:             bufio.NewReaderSize(c, 4096),
		bw:             bufio.NewWriterSize(c, 1<<14),
		enc:            hpack.NewEncoder(),
		dec:            hpack.NewDecoder(),
		store:          store,
		send:           h2mux.NewSend(store, 2, 1<<20),
		recv:           h2mux.NewRecv(store, 1<<20),
		ids:            make(map[uint32]*reqStream),
		maxWindow:      1 << 20,
		currentWindow:  1 << 20,
		maxStreams:     opts.MaxConcurrentStreams,
		maxRequestTime: opts.MaxRequestTime,
		pingInterval:   opts.PingInterval,
		maxIdleTime:    opts.MaxIdleTime,
		writer:         make(chan *h2mux.FrameHeader, 128),
		closer:         make(chan struct{}),
		debug:          opts.Debug,
		logger:         opts.Logger,
	}

	sc.current.Reset()
	sc.current.SetMaxWindowSize(uint32(sc.maxWindow))
	sc.current.SetPush(false)
	if sc.maxStreams > 0 {
		sc.current.SetMaxConcurrentStreams(sc.maxStreams)
	}

	sc.reader = h2mux.NewReader(sc.br, 0)

	return sc
}

// Handshake reads the client preface and sends our SETTINGS. The client's
// SETTINGS frame is read and acknowledged later, by Serve's read loop.
func (sc *serverConn) Handshake() error {
	if err := ReadPreface(sc.br); err != nil {
		return err
	}

	frh := h2mux.AcquireFrameHeader()
	st := &h2mux.Settings{}
	sc.current.CopyTo(st)
	frh.SetBody(st)
	if _, err := frh.WriteTo(sc.bw); err != nil {
		h2mux.ReleaseFrameHeader(frh)
		return err
	}
	h2mux.ReleaseFrameHeader(frh)

	return sc.bw.Flush()
}

// Serve runs the connection until the client disconnects, a protocol
// error tears it down, or the handler requests a close.
func (sc *serverConn) Serve() error {
	if sc.pingInterval <= 0 {
		sc.pingInterval = DefaultPingInterval
	}

	go sc.writeLoop()

	err := sc.readLoop()
	if errors.Is(err, io.EOF) {
		err = nil
	}

	sc.shutdown()

	return err
}

func (sc *serverConn) shutdown() {
	if !atomic.CompareAndSwapUint64(&sc.closed, 0, 1) {
		return
	}
	close(sc.closer)
	_ = sc.c.Close()
}

// Closed reports whether the connection is shutting down.
func (sc *serverConn) Closed() bool {
	return atomic.LoadUint64(&sc.closed) == 1
}

func (sc *serverConn) writeLoop() {
	ticker := time.NewTicker(sc.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sc.closer:
			return
		case frh, ok := <-sc.writer:
			if !ok {
				return
			}
			_, err := frh.WriteTo(sc.bw)
			h2mux.ReleaseFrameHeader(frh)
			if err == nil {
				err = sc.bw.Flush()
			}
			if err != nil {
				sc.shutdown()
				return
			}
		case <-ticker.C:
			frh := h2mux.AcquireFrameHeader()
			ping := h2mux.AcquireFrame(h2mux.FramePing).(*h2mux.Ping)
			ping.SetCurrentTime()
			frh.SetBody(ping)
			if _, err := frh.WriteTo(sc.bw); err != nil {
				h2mux.ReleaseFrameHeader(frh)
				sc.shutdown()
				return
			}
			h2mux.ReleaseFrameHeader(frh)
			if err := sc.bw.Flush(); err != nil {
				sc.shutdown()
				return
			}
		}
	}
}

func (sc *serverConn) readLoop() error {
	defer func() {
		if err := recover(); err != nil {
			if sc.logger != nil {
				sc.logger.Printf("panic serving connection: %s\n%s\n", err, debug.Stack())
			}
		}
	}()

	for {
		frh, err := sc.reader.ReadFrame()
		if err != nil {
			if se, ok := h2mux.AsStreamError(err); ok {
				sc.writeReset(se.ID, se.Reason)
				continue
			}
			return err
		}

		if frh.Stream() == 0 {
			err = sc.handleConnFrame(frh)
			h2mux.ReleaseFrameHeader(frh)
			if err != nil {
				return err
			}
			continue
		}

		if frh.Stream()&1 == 0 {
			h2mux.ReleaseFrameHeader(frh)
			return h2mux.NewConnError(h2mux.ProtocolError, "client used an even stream id")
		}

		if err := sc.dispatch(frh); err != nil {
			if ce, ok := h2mux.AsConnError(err); ok {
				sc.writeGoAway(ce)
				h2mux.ReleaseFrameHeader(frh)
				return err
			}
			if se, ok := h2mux.AsStreamError(err); ok {
				sc.writeReset(se.ID, se.Reason)
			}
		}

		h2mux.ReleaseFrameHeader(frh)
	}
}

func (sc *serverConn) handleConnFrame(frh *h2mux.FrameHeader) error {
	switch frh.Type() {
	case h2mux.FrameSettings:
		st := frh.Body().(*h2mux.Settings)
		if !st.IsAck() {
			st.CopyTo(&sc.clientS)
			sc.enc.SetMaxTableSize(int(sc.clientS.HeaderTableSize()))

			ack := h2mux.AcquireFrame(h2mux.FrameSettings).(*h2mux.Settings)
			ack.SetAck(true)
			ackFrh := h2mux.AcquireFrameHeader()
			ackFrh.SetBody(ack)
			sc.writer <- ackFrh
		}
	case h2mux.FramePing:
		ping := frh.Body().(*h2mux.Ping)
		if !ping.IsAck() {
			replyFrh := h2mux.AcquireFrameHeader()
			reply := h2mux.AcquireFrame(h2mux.FramePing).(*h2mux.Ping)
			reply.SetData(ping.Data())
			reply.SetAck(true)
			replyFrh.SetBody(reply)
			sc.writer <- replyFrh
		}
	case h2mux.FrameWindowUpdate:
		// connection-level send window updates are not tracked: responses
		// are written eagerly per request without send-window accounting,
		// so there is nothing to unblock.
	case h2mux.FrameGoAway:
		ga := frh.Body().(*h2mux.GoAway)
		if ga.Code() != h2mux.NoError {
			return fmt.Errorf("client sent goaway: %s: %s", ga.Code(), ga.Data())
		}
		return io.EOF
	}
	return nil
}

func (sc *serverConn) dispatch(frh *h2mux.FrameHeader) error {
	id := frh.Stream()

	sc.idsMu.Lock()
	rs, seen := sc.ids[id]
	if !seen {
		if frh.Type() != h2mux.FrameHeaders {
			sc.idsMu.Unlock()
			return h2mux.NewConnError(h2mux.ProtocolError, "frame on idle stream %d", id)
		}
		if id < sc.lastID {
			sc.idsMu.Unlock()
			return h2mux.NewConnError(h2mux.ProtocolError, "stream id lower than last seen")
		}
		if sc.maxStreams > 0 && sc.openStreams >= sc.maxStreams {
			sc.idsMu.Unlock()
			return h2mux.NewStreamError(id, h2mux.RefusedStreamError, "max concurrent streams reached")
		}

		sc.lastID = id
		sc.openStreams++

		rs = acquireReqStream()
		rs.ctx = &fasthttp.RequestCtx{}
		rs.key = sc.recv.Accept(id, h2mux.WindowSize(sc.maxWindow))
		if sc.maxRequestTime > 0 {
			rs.timer = time.AfterFunc(sc.maxRequestTime, func() {
				sc.writeReset(id, h2mux.InternalError)
			})
		}
		sc.ids[id] = rs
	}
	sc.idsMu.Unlock()

	switch frh.Type() {
	case h2mux.FrameHeaders:
		h := frh.Body().(*h2mux.Headers)

		if err := sc.readHeader(h.Headers(), &rs.req); err != nil {
			// A malformed header block desynchronizes HPACK's dynamic
			// table for every later stream, so this is a connection
			// error per RFC 7541 §4.3, not just this stream's problem.
			return h2mux.NewConnError(h2mux.CompressionError, "%s", err)
		}
		if cl := rs.req.Header.ContentLength(); cl > 0 {
			sc.recv.SetContentLength(rs.key, uint64(cl))
		}

		if err := sc.recv.RecvHeaders(rs.key, h.EndStream()); err != nil {
			return h2mux.NewStreamError(id, h2mux.ProtocolError, "%s", err)
		}
		if h.EndStream() {
			sc.finishRequest(id, rs)
		}
	case h2mux.FrameData:
		data := frh.Body().(*h2mux.Data)
		if err := sc.recv.RecvData(rs.key, data.Len(), data.EndStream()); err != nil {
			return h2mux.NewStreamError(id, h2mux.FlowControlError, "%s", err)
		}
		if data.Len() != 0 {
			rs.req.AppendBody(data.Data())
			if err := sc.recv.AckWindowUpdate(rs.key, h2mux.WindowSize(data.Len())); err != nil {
				return h2mux.NewStreamError(id, h2mux.FlowControlError, "%s", err)
			}
			sc.updateWindow(id, data.Len())
		}
		if data.EndStream() {
			sc.finishRequest(id, rs)
		}
	case h2mux.FrameResetStream:
		sc.recv.RecvReset(rs.key)
		sc.closeStream(id)
	case h2mux.FramePriority:
		// priority reprioritization is accepted but not acted upon.
	}

	return nil
}

func (sc *serverConn) closeStream(id uint32) {
	sc.idsMu.Lock()
	rs, ok := sc.ids[id]
	if ok {
		delete(sc.ids, id)
	}
	sc.idsMu.Unlock()

	if !ok {
		return
	}

	if rs.timer != nil {
		rs.timer.Stop()
	}

	// SendReset (whose RST_STREAM frame is discarded here rather than
	// written) is reused purely to unlink the stream from Prioritize's
	// queue before the slab slot is freed; writeResponse already wrote
	// the real HEADERS/DATA directly.
	if rst, ok := sc.send.SendReset(rs.key, h2mux.NoError); ok {
		h2mux.ReleaseFrame(rst)
	}
	sc.store.Remove(rs.key)
	releaseReqStream(rs)
	if sc.openStreams > 0 {
		sc.openStreams--
	}
}

func (sc *serverConn) finishRequest(id uint32, rs *reqStream) {
	go func() {
		defer func() {
			if err := recover(); err != nil {
				if sc.logger != nil {
					sc.logger.Printf("panic handling request %d: %s\n%s\n", id, err, debug.Stack())
				}
			}
		}()

		rs.ctx.Request.Reset()
		rs.req.CopyTo(&rs.ctx.Request)
		sc.h(rs.ctx)

		sc.idsMu.Lock()
		_, stillOpen := sc.ids[id]
		sc.idsMu.Unlock()
		if !stillOpen {
			// maxRequestTime fired and already reset/freed this stream
			// while the handler was running.
			return
		}

		sc.writeResponse(id, rs.key, &rs.ctx.Response)
		sc.closeStream(id)
	}()
}

func (sc *serverConn) writeResponse(id uint32, key h2mux.Key, res *fasthttp.Response) {
	hasBody := len(res.Body()) != 0

	if err := sc.send.SendHeaders(key, !hasBody); err != nil {
		sc.writeReset(id, h2mux.InternalError)
		return
	}

	frh := h2mux.AcquireFrameHeader()
	frh.SetStream(id)

	h := h2mux.AcquireFrame(h2mux.FrameHeaders).(*h2mux.Headers)
	frh.SetBody(h)

	hf := hpack.AcquireHeaderField()

	hf.SetBytes(StringStatus, []byte(strconv.Itoa(res.StatusCode())))
	h.AppendHeaderField(sc.enc, hf, true)

	res.Header.VisitAll(func(k, v []byte) {
		hf.SetBytes(ToLower(append([]byte(nil), k...)), v)
		h.AppendHeaderField(sc.enc, hf, false)
	})

	hpack.ReleaseHeaderField(hf)

	h.SetEndStream(!hasBody)
	h.SetEndHeaders(true)

	sc.writer <- frh

	if hasBody {
		body := append([]byte(nil), res.Body()...)
		go sc.writeBody(id, body)
	}
}

func (sc *serverConn) writeBody(id uint32, body []byte) {
	const step = 1 << 14

	for i := 0; i < len(body); i += step {
		end := i + step
		if end > len(body) {
			end = len(body)
		}

		frh := h2mux.AcquireFrameHeader()
		frh.SetStream(id)

		data := h2mux.AcquireFrame(h2mux.FrameData).(*h2mux.Data)
		data.SetData(body[i:end])
		data.SetEndStream(end == len(body))
		frh.SetBody(data)

		sc.writer <- frh
	}
}

func (sc *serverConn) updateWindow(id uint32, n int) {
	sc.currentWindow -= int32(n)
	if sc.currentWindow >= sc.maxWindow/2 {
		return
	}

	inc := sc.maxWindow - sc.currentWindow
	sc.currentWindow = sc.maxWindow

	frh := h2mux.AcquireFrameHeader()
	frh.SetStream(id)
	wu := h2mux.AcquireFrame(h2mux.FrameWindowUpdate).(*h2mux.WindowUpdate)
	wu.SetIncrement(int(inc))
	frh.SetBody(wu)
	sc.writer <- frh
}

func (sc *serverConn) writeGoAway(ce *h2mux.ConnError) {
	frh := h2mux.AcquireFrameHeader()
	frh.SetBody(ce.GoAway(sc.lastID))
	sc.writer <- frh
}

func (sc *serverConn) writeReset(id uint32, reason h2mux.ErrorCode) {
	frh := h2mux.AcquireFrameHeader()
	frh.SetStream(id)
	rst := h2mux.AcquireFrame(h2mux.FrameResetStream).(*h2mux.RstStream)
	rst.SetCode(reason)
	frh.SetBody(rst)
	sc.writer <- frh
	sc.closeStream(id)
}

func (sc *serverConn) readHeader(raw []byte, req *fasthttp.Request) error {
	fields, err := sc.dec.DecodeFull(raw)
	if err != nil {
		return err
	}

	for _, hf := range fields {
		switch {
		case hf.IsPseudo():
			switch hf.Key() {
			case ":path":
				req.Header.SetRequestURIBytes(hf.ValueBytes())
			case ":method":
				req.Header.SetMethodBytes(hf.ValueBytes())
			case ":authority":
				req.Header.SetHostBytes(hf.ValueBytes())
			case ":scheme":
				// fasthttp infers scheme from the listener's TLS state.
			}
		case bytes.Equal(hf.KeyBytes(), StringContentLength):
			n, _ := strconv.Atoi(hf.Value())
			req.Header.SetContentLength(n)
		default:
			req.Header.AddBytesKV(hf.KeyBytes(), hf.ValueBytes())
		}
		hpack.ReleaseHeaderField(hf)
	}

	return nil
}
