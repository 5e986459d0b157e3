package http2

import "bufio"

// Codec is the external interface a connection dispatcher (bridge/fasthttp2)
// writes frames through. It exists so the engine's scheduling logic
// (Send/Prioritize) never touches a net.Conn directly, matching the
// teacher's split between FrameHeader.WriteTo (wire encoding) and the
// per-connection writeLoop (transport + buffering policy).
type Codec interface {
	// PollReady reports whether the transport can accept another frame
	// without blocking.
	PollReady() bool
	// StartSend writes one frame's worth of bytes into the codec's
	// internal buffer. It does not flush.
	StartSend(frh *FrameHeader) error
	// PollComplete flushes any buffered bytes to the transport.
	PollComplete() error
	// MaxSendFrameSize returns the negotiated SETTINGS_MAX_FRAME_SIZE
	// for outbound frames.
	MaxSendFrameSize() uint32
	// TakeLastDataFrame returns and clears the most recently buffered
	// DATA frame, if StartSend only partially accepted it. This lets
	// Send.PollComplete reclaim the unwritten remainder instead of
	// losing bytes when the transport applies backpressure mid-frame.
	TakeLastDataFrame() *FrameHeader
}

// bufioCodec is a Codec over a *bufio.Writer, grounded on the teacher's
// FrameHeader.WriteTo plus serverConn.writeLoop's buffered-flush
// heuristic: frames accumulate in bw until flushEvery have been written
// or the caller explicitly calls PollComplete.
type bufioCodec struct {
	bw         *bufio.Writer
	maxFrame   uint32
	flushEvery int
	buffered   int
	lastData   *FrameHeader
}

// NewBufioCodec wraps bw as a Codec. flushEvery of 0 means flush on every
// PollComplete call only (no implicit batching).
func NewBufioCodec(bw *bufio.Writer, maxFrame uint32, flushEvery int) Codec {
	return &bufioCodec{bw: bw, maxFrame: maxFrame, flushEvery: flushEvery}
}

func (c *bufioCodec) PollReady() bool {
	return c.bw.Available() > 0 || c.bw.Buffered() == 0
}

func (c *bufioCodec) StartSend(frh *FrameHeader) error {
	if c.lastData != nil {
		ReleaseFrameHeader(c.lastData)
		c.lastData = nil
	}

	if d, ok := frh.Body().(*Data); ok && d.Len() > int(c.maxFrame) {
		// Caller is expected to have already split the frame; surface the
		// oversize one unwritten so Send can reclaim and re-split it.
		c.lastData = frh
		return ErrPayloadExceeds
	}

	if _, err := frh.WriteTo(c.bw); err != nil {
		return err
	}

	c.buffered++
	if c.flushEvery > 0 && c.buffered >= c.flushEvery {
		return c.PollComplete()
	}

	return nil
}

func (c *bufioCodec) PollComplete() error {
	c.buffered = 0
	return c.bw.Flush()
}

func (c *bufioCodec) MaxSendFrameSize() uint32 {
	return c.maxFrame
}

func (c *bufioCodec) TakeLastDataFrame() *FrameHeader {
	frh := c.lastData
	c.lastData = nil
	return frh
}
