// Package fasthttp2 bridges the h2mux engine (frame types, flow control,
// stream store, send scheduling) to fasthttp's Request/Response types. It
// is the concrete "connection dispatcher" collaborator the core engine
// package deliberately stays ignorant of.
package fasthttp2

import (
	"bufio"
	"bytes"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	h2mux "github.com/streamux/h2mux"
	"github.com/streamux/h2mux/hpack"
	"github.com/valyala/fasthttp"
)

// ConnOpts defines the connection options.
type ConnOpts struct {
	// PingInterval defines the interval in which the client will ping the
	// server. Zero uses DefaultPingInterval.
	PingInterval time.Duration
	// DisablePingChecking disables dropping the connection after missed
	// ping acknowledgements.
	DisablePingChecking bool
	// OnDisconnect fires when the connection closes.
	OnDisconnect func(c *Conn)
}

// Conn represents a raw HTTP/2 connection over TLS + TCP, playing the
// client role.
type Conn struct {
	c net.Conn

	br *bufio.Reader
	bw *bufio.Writer

	enc *hpack.Encoder
	dec *hpack.Decoder

	store  *h2mux.Store
	send   *h2mux.Send
	recv   *h2mux.Recv
	reader *h2mux.Reader

	current h2mux.Settings
	serverS h2mux.Settings

	// recv-direction (server -> client) connection window bookkeeping;
	// the engine's Send type only models what this endpoint transmits.
	maxWindow     int32
	currentWindow int32

	reqQueued sync.Map // stream id -> *pendingReq

	in  chan *Ctx
	out chan *h2mux.FrameHeader

	pingInterval time.Duration
	unacks       int
	disableAcks  bool

	lastErr      error
	onDisconnect func(*Conn)

	closed uint64
}

// NewConn returns a new, unstarted HTTP/2 client connection. Call
// Handshake to start it.
func NewConn(c net.Conn, opts ConnOpts) *Conn {
	store := h2mux.NewStore()

	nc := &Conn{
		c:             c,
		br:            bufio.NewReaderSize(c, 4096),
		bw:            bufio.NewWriterSize(c, 1<<14),
		enc:           hpack.NewEncoder(),
		dec:           hpack.NewDecoder(),
		store:         store,
		send:          h2mux.NewSend(store, 1, 1<<20),
		recv:          h2mux.NewRecv(store, 1<<20),
		maxWindow:     1 << 20,
		currentWindow: 1 << 20,
		in:            make(chan *Ctx, 128),
		out:           make(chan *h2mux.FrameHeader, 128),
		pingInterval:  opts.PingInterval,
		disableAcks:   opts.DisablePingChecking,
		onDisconnect:  opts.OnDisconnect,
	}
	nc.reader = h2mux.NewReader(nc.br, 0)

	nc.current.Reset()
	nc.current.SetMaxWindowSize(1 << 20)
	nc.current.SetPush(false)

	return nc
}

// Dialer creates HTTP/2 connections by address and TLS configuration.
type Dialer struct {
	// Addr is the server's address in the form host:port.
	Addr string
	// TLSConfig is the TLS configuration. A nil config gets a default
	// one with "h2" added to NextProtos.
	TLSConfig *tls.Config
	// PingInterval is passed through to ConnOpts.
	PingInterval time.Duration
}

func (d *Dialer) tryDial() (net.Conn, error) {
	hasALPN := d.TLSConfig != nil
	if hasALPN {
		hasALPN = false
		for _, proto := range d.TLSConfig.NextProtos {
			if proto == H2TLSProto {
				hasALPN = true
				break
			}
		}
	}
	if !hasALPN {
		configureDialer(d)
	}

	c, err := net.Dial("tcp", d.Addr)
	if err != nil {
		return nil, err
	}

	tlsConn := tls.Client(c, d.TLSConfig)
	if err := tlsConn.Handshake(); err != nil {
		_ = c.Close()
		return nil, err
	}

	if tlsConn.ConnectionState().NegotiatedProtocol != H2TLSProto {
		_ = c.Close()
		return nil, ErrServerSupport
	}

	return tlsConn, nil
}

// Dial opens a TLS connection and performs the HTTP/2 handshake.
func (d *Dialer) Dial(opts ConnOpts) (*Conn, error) {
	c, err := d.tryDial()
	if err != nil {
		return nil, err
	}

	if opts.PingInterval == 0 {
		opts.PingInterval = d.PingInterval
	}
	nc := NewConn(c, opts)
	if err := nc.Handshake(); err != nil {
		return nil, err
	}
	return nc, nil
}

// SetOnDisconnect sets the callback that fires when the connection closes.
func (c *Conn) SetOnDisconnect(cb func(*Conn)) {
	c.onDisconnect = cb
}

// LastErr returns the last registered error, if the connection was
// closed because of one.
func (c *Conn) LastErr() error {
	return c.lastErr
}

// Handshake sends the preface and initial SETTINGS, waits for the
// server's SETTINGS, and starts the read/write loops.
func (c *Conn) Handshake() error {
	if err := WritePreface(c.bw); err != nil {
		_ = c.c.Close()
		return err
	}

	frh := h2mux.AcquireFrameHeader()
	st := &h2mux.Settings{}
	c.current.CopyTo(st)
	frh.SetBody(st)
	if _, err := frh.WriteTo(c.bw); err != nil {
		h2mux.ReleaseFrameHeader(frh)
		_ = c.c.Close()
		return err
	}
	h2mux.ReleaseFrameHeader(frh)

	wuFrh := h2mux.AcquireFrameHeader()
	wu := h2mux.AcquireFrame(h2mux.FrameWindowUpdate).(*h2mux.WindowUpdate)
	wu.SetIncrement(int(c.maxWindow - (1<<16 - 1)))
	wuFrh.SetBody(wu)
	if _, err := wuFrh.WriteTo(c.bw); err != nil {
		h2mux.ReleaseFrameHeader(wuFrh)
		_ = c.c.Close()
		return err
	}
	h2mux.ReleaseFrameHeader(wuFrh)

	if err := c.bw.Flush(); err != nil {
		_ = c.c.Close()
		return err
	}

	frh, err := c.reader.ReadFrame()
	if err != nil {
		_ = c.c.Close()
		return err
	}
	defer h2mux.ReleaseFrameHeader(frh)

	if frh.Type() != h2mux.FrameSettings {
		_ = c.c.Close()
		return fmt.Errorf("unexpected frame, expected settings, got %s", frh.Type())
	}

	st = frh.Body().(*h2mux.Settings)
	if !st.IsAck() {
		st.CopyTo(&c.serverS)
		c.enc.SetMaxTableSize(int(c.serverS.HeaderTableSize()))
		c.send.ApplyRemoteSettings(&c.serverS)

		ackFrh := h2mux.AcquireFrameHeader()
		ack := h2mux.AcquireFrame(h2mux.FrameSettings).(*h2mux.Settings)
		ack.SetAck(true)
		ackFrh.SetBody(ack)
		if _, err := ackFrh.WriteTo(c.bw); err != nil {
			h2mux.ReleaseFrameHeader(ackFrh)
			_ = c.c.Close()
			return err
		}
		h2mux.ReleaseFrameHeader(ackFrh)
		if err := c.bw.Flush(); err != nil {
			_ = c.c.Close()
			return err
		}
	}

	go c.writeLoop()
	go c.readLoop()

	return nil
}

// Closed reports whether the connection has been closed.
func (c *Conn) Closed() bool {
	return atomic.LoadUint64(&c.closed) == 1
}

// Close sends GOAWAY and closes the underlying connection.
func (c *Conn) Close() error {
	if !atomic.CompareAndSwapUint64(&c.closed, 0, 1) {
		return io.EOF
	}

	close(c.in)

	frh := h2mux.AcquireFrameHeader()
	ga := h2mux.AcquireFrame(h2mux.FrameGoAway).(*h2mux.GoAway)
	ga.SetStream(0)
	ga.SetCode(h2mux.NoError)
	frh.SetBody(ga)

	_, err := frh.WriteTo(c.bw)
	if err == nil {
		err = c.bw.Flush()
	}
	h2mux.ReleaseFrameHeader(frh)

	_ = c.c.Close()

	if c.onDisconnect != nil {
		c.onDisconnect(c)
	}

	return err
}

// Write queues req to be sent. Callers must check Closed first.
func (c *Conn) Write(r *Ctx) {
	c.in <- r
}

// pendingReq pairs a queued Ctx with the stream Key Send allocated for it,
// so the read side can drive Recv's state transitions for the response.
type pendingReq struct {
	ctx *Ctx
	key h2mux.Key
}

// WriteError wraps a transport error encountered by the write loop.
type WriteError struct {
	err error
}

func (we WriteError) Error() string { return fmt.Sprintf("writing error: %s", we.err) }
func (we WriteError) Unwrap() error { return we.err }
func (we WriteError) Is(target error) bool {
	return errors.Is(we.err, target)
}
func (we WriteError) As(target interface{}) bool {
	return errors.As(we.err, target)
}

// ErrTimeout is returned when the server stops acknowledging pings.
var ErrTimeout = errors.New("server is not replying to pings")

func (c *Conn) writeLoop() {
	defer func() { _ = c.Close() }()

	if c.pingInterval <= 0 {
		c.pingInterval = DefaultPingInterval
	}

	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	var lastErr error

loop:
	for {
		select {
		case r, ok := <-c.in:
			if !ok {
				break loop
			}

			id, key, err := c.writeRequest(r.Request)
			if err != nil {
				r.Err <- err
				if errors.Is(err, h2mux.ErrRejected) {
					continue
				}
				lastErr = WriteError{err}
				break loop
			}
			c.reqQueued.Store(id, &pendingReq{ctx: r, key: key})

		case frh := <-c.out:
			if _, err := frh.WriteTo(c.bw); err == nil {
				err = c.bw.Flush()
				if err != nil {
					lastErr = WriteError{err}
					h2mux.ReleaseFrameHeader(frh)
					break loop
				}
			} else {
				lastErr = WriteError{err}
				h2mux.ReleaseFrameHeader(frh)
				break loop
			}
			h2mux.ReleaseFrameHeader(frh)

		case <-ticker.C:
			if err := c.writePing(); err != nil {
				lastErr = WriteError{err}
				break loop
			}
		}

		if !c.disableAcks && c.unacks >= 3 {
			lastErr = ErrTimeout
			break loop
		}
	}

	if lastErr == nil {
		lastErr = io.EOF
	}

	c.reqQueued.Range(func(_, v interface{}) bool {
		v.(*pendingReq).ctx.Err <- lastErr
		return true
	})
}

func (c *Conn) finish(p *pendingReq, streamID uint32, err error) {
	p.ctx.Err <- err
	c.reqQueued.Delete(streamID)
	close(p.ctx.Err)
	c.store.Remove(p.key)
}

func (c *Conn) readLoop() {
	defer func() { _ = c.Close() }()

	for {
		frh, err := c.readNext()
		if err != nil {
			c.lastErr = err
			break
		}

		if pi, ok := c.reqQueued.Load(frh.Stream()); ok {
			p := pi.(*pendingReq)

			if err := c.readStream(frh, p.key, p.ctx.Response); err != nil {
				c.finish(p, frh.Stream(), err)
				if errors.Is(err, h2mux.ErrFlowControl) {
					h2mux.ReleaseFrameHeader(frh)
					break
				}
			} else if frh.Flags().Has(h2mux.FlagEndStream) {
				c.finish(p, frh.Stream(), nil)
			}
		}

		h2mux.ReleaseFrameHeader(frh)
	}
}

func (c *Conn) writeRequest(req *fasthttp.Request) (uint32, h2mux.Key, error) {
	key, err := c.send.Open()
	if err != nil {
		return 0, 0, err
	}
	id := c.store.Resolve(key).ID()

	hasBody := len(req.Body()) != 0

	if err := c.send.SendHeaders(key, !hasBody); err != nil {
		c.store.Remove(key)
		return 0, 0, err
	}

	frh := h2mux.AcquireFrameHeader()
	frh.SetStream(id)

	h := h2mux.AcquireFrame(h2mux.FrameHeaders).(*h2mux.Headers)
	frh.SetBody(h)

	hf := hpack.AcquireHeaderField()
	defer hpack.ReleaseHeaderField(hf)

	hf.SetBytes(StringAuthority, req.URI().Host())
	h.AppendHeaderField(c.enc, hf, true)
	hf.SetBytes(StringMethod, req.Header.Method())
	h.AppendHeaderField(c.enc, hf, true)
	hf.SetBytes(StringPath, req.URI().RequestURI())
	h.AppendHeaderField(c.enc, hf, true)
	hf.SetBytes(StringScheme, req.URI().Scheme())
	h.AppendHeaderField(c.enc, hf, true)
	hf.SetBytes(StringUserAgent, req.Header.UserAgent())
	h.AppendHeaderField(c.enc, hf, true)

	req.Header.VisitAll(func(k, v []byte) {
		if bytes.EqualFold(k, StringUserAgent) {
			return
		}
		hf.SetBytes(ToLower(append([]byte(nil), k...)), v)
		h.AppendHeaderField(c.enc, hf, false)
	})

	h.SetPadding(false)
	h.SetEndStream(!hasBody)
	h.SetEndHeaders(true)

	_, err = frh.WriteTo(c.bw)
	if err == nil && hasBody {
		h2mux.ReleaseFrame(h)
		err = writeData(c.bw, frh, req.Body())
	}

	if err == nil {
		err = c.bw.Flush()
	}

	h2mux.ReleaseFrameHeader(frh)

	if err != nil {
		c.lastErr = err
	}

	return id, key, err
}

func writeData(bw *bufio.Writer, frh *h2mux.FrameHeader, body []byte) error {
	const step = 1 << 14

	data := h2mux.AcquireFrame(h2mux.FrameData).(*h2mux.Data)
	frh.SetBody(data)

	var err error
	for i := 0; err == nil && i < len(body); i += step {
		end := i + step
		if end > len(body) {
			end = len(body)
		}

		data.SetEndStream(end == len(body))
		data.SetPadding(false)
		data.SetData(body[i:end])

		_, err = frh.WriteTo(bw)
	}

	return err
}

func (c *Conn) readNext() (*h2mux.FrameHeader, error) {
	for {
		frh, err := c.reader.ReadFrame()
		if err != nil {
			return nil, err
		}

		if frh.Stream() != 0 {
			return frh, nil
		}

		switch frh.Type() {
		case h2mux.FrameSettings:
			st := frh.Body().(*h2mux.Settings)
			if !st.IsAck() {
				c.handleSettings(st)
			}
		case h2mux.FrameWindowUpdate:
			win := h2mux.WindowSize(frh.Body().(*h2mux.WindowUpdate).Increment())
			_ = c.send.RecvConnectionWindowUpdate(win)
		case h2mux.FramePing:
			ping := frh.Body().(*h2mux.Ping)
			if !ping.IsAck() {
				c.handlePing(ping)
			} else {
				c.unacks--
			}
		case h2mux.FrameGoAway:
			ga := frh.Body().(*h2mux.GoAway)
			h2mux.ReleaseFrameHeader(frh)
			_ = c.Close()
			return nil, ga
		}

		h2mux.ReleaseFrameHeader(frh)
	}
}

func (c *Conn) writePing() error {
	frh := h2mux.AcquireFrameHeader()
	defer h2mux.ReleaseFrameHeader(frh)

	ping := h2mux.AcquireFrame(h2mux.FramePing).(*h2mux.Ping)
	ping.SetCurrentTime()
	frh.SetBody(ping)

	_, err := frh.WriteTo(c.bw)
	if err == nil {
		err = c.bw.Flush()
		if err == nil {
			c.unacks++
		}
	}
	return err
}

func (c *Conn) handleSettings(st *h2mux.Settings) {
	st.CopyTo(&c.serverS)
	c.enc.SetMaxTableSize(int(st.HeaderTableSize()))
	_ = c.send.ApplyRemoteSettings(st)

	frh := h2mux.AcquireFrameHeader()
	ack := h2mux.AcquireFrame(h2mux.FrameSettings).(*h2mux.Settings)
	ack.SetAck(true)
	frh.SetBody(ack)

	c.out <- frh
}

func (c *Conn) handlePing(ping *h2mux.Ping) {
	frh := h2mux.AcquireFrameHeader()
	ping.SetAck(true)
	frh.SetBody(ping)
	c.out <- frh
}

func (c *Conn) readStream(frh *h2mux.FrameHeader, key h2mux.Key, res *fasthttp.Response) error {
	switch frh.Type() {
	case h2mux.FrameHeaders:
		h := frh.Body().(*h2mux.Headers)
		if err := c.readHeader(h.Headers(), key, res); err != nil {
			return err
		}
		return c.recv.RecvHeaders(key, h.EndStream())
	case h2mux.FrameData:
		data := frh.Body().(*h2mux.Data)
		n := int32(data.Len())

		if err := c.recv.RecvData(key, data.Len(), data.EndStream()); err != nil {
			return err
		}

		c.currentWindow -= n
		currentWin := c.currentWindow

		if data.Len() != 0 {
			res.AppendBody(data.Data())
			if err := c.recv.AckWindowUpdate(key, h2mux.WindowSize(data.Len())); err != nil {
				return err
			}
			c.updateWindow(frh.Stream(), data.Len())
		}

		if currentWin < c.maxWindow/2 {
			inc := c.maxWindow - currentWin
			c.currentWindow = c.maxWindow
			c.updateWindow(0, int(inc))
		}
	}
	return nil
}

func (c *Conn) updateWindow(streamID uint32, size int) {
	frh := h2mux.AcquireFrameHeader()
	frh.SetStream(streamID)

	wu := h2mux.AcquireFrame(h2mux.FrameWindowUpdate).(*h2mux.WindowUpdate)
	wu.SetIncrement(size)
	frh.SetBody(wu)

	c.out <- frh
}

func (c *Conn) readHeader(raw []byte, key h2mux.Key, res *fasthttp.Response) error {
	fields, err := c.dec.DecodeFull(raw)
	if err != nil {
		return h2mux.NewConnError(h2mux.CompressionError, "%s", err)
	}

	for _, hf := range fields {
		if hf.IsPseudo() {
			if len(hf.KeyBytes()) > 1 && hf.KeyBytes()[1] == 's' { // :status
				n, err := strconv.ParseInt(hf.Value(), 10, 64)
				if err != nil {
					hpack.ReleaseHeaderField(hf)
					return err
				}
				res.SetStatusCode(int(n))
			}
			hpack.ReleaseHeaderField(hf)
			continue
		}

		if bytes.Equal(hf.KeyBytes(), StringContentLength) {
			n, _ := strconv.Atoi(hf.Value())
			res.Header.SetContentLength(n)
			c.recv.SetContentLength(key, uint64(n))
		} else {
			res.Header.AddBytesKV(hf.KeyBytes(), hf.ValueBytes())
		}
		hpack.ReleaseHeaderField(hf)
	}

	return nil
}
