package http2

// Recv is the per-connection coordinator for everything this endpoint
// receives: stream acceptance, protocol-state transitions driven by
// inbound frames, and receive-direction flow-control accounting. It is
// Send's mirror image, the same way recv.rs sits next to send.rs in the
// original stream machinery: Send decides what this endpoint may write,
// Recv decides what it must acknowledge.
type Recv struct {
	store        *Store
	initWindowSz WindowSize
}

// NewRecv builds a Recv coordinator using the local
// SETTINGS_INITIAL_WINDOW_SIZE advertised to the peer.
func NewRecv(store *Store, initWindowSz WindowSize) *Recv {
	return &Recv{store: store, initWindowSz: initWindowSz}
}

// Accept registers a peer-initiated stream (a HEADERS frame for an id
// this endpoint never opened itself) and returns its Key.
//
// sendWindow is this endpoint's own initial send window for the new
// stream, usually the local SETTINGS_INITIAL_WINDOW_SIZE already applied
// to outbound Send bookkeeping.
func (rv *Recv) Accept(id uint32, sendWindow WindowSize) Key {
	stream := NewStream(id, sendWindow, rv.initWindowSz)
	return rv.store.Insert(stream)
}

// RecvHeaders transitions a stream on an inbound HEADERS frame.
func (rv *Recv) RecvHeaders(key Key, endStream bool) error {
	stream := rv.store.Resolve(key)
	return stream.state.transitionRecv(FrameHeaders, endStream)
}

// RecvTrailers transitions a stream on an inbound trailing HEADERS frame.
func (rv *Recv) RecvTrailers(key Key) error {
	return rv.RecvHeaders(key, true)
}

// RecvData applies n received body bytes to the stream's receive window
// and declared Content-Length, and transitions state if endStream is set.
// It returns ErrFlowControl if n exceeds the advertised window or a
// declared Content-Length.
func (rv *Recv) RecvData(key Key, n int, endStream bool) error {
	stream := rv.store.Resolve(key)

	sz := WindowSize(n)
	if err := stream.recvFlow.ClaimCapacity(sz); err != nil {
		return ErrFlowControl
	}
	if err := stream.contentRx.Dec(uint64(n)); err != nil {
		return err
	}
	stream.inFlightRx += sz

	if err := stream.state.transitionRecv(FrameData, endStream); err != nil {
		return err
	}

	if endStream {
		return stream.contentRx.EnsureZero()
	}

	return nil
}

// RecvReset transitions a stream to closed on an inbound RST_STREAM.
func (rv *Recv) RecvReset(key Key) {
	stream := rv.store.Resolve(key)
	stream.state = StateClosed
}

// SetContentLength records a declared Content-Length header for a
// stream's inbound body, so RecvData can catch a mismatch.
func (rv *Recv) SetContentLength(key Key, n uint64) {
	rv.store.Resolve(key).contentRx.SetKnown(n)
}

// UnclaimedWindow reports how much of the stream's receive window has
// been consumed but not yet returned to the peer via WINDOW_UPDATE. A
// caller typically flushes a WINDOW_UPDATE once this crosses half the
// advertised window, per RFC 7540 §6.9.1's usual implementation strategy.
func (rv *Recv) UnclaimedWindow(key Key) WindowSize {
	stream := rv.store.Resolve(key)
	return stream.inFlightRx
}

// AckWindowUpdate records that inc bytes of receive window were just
// handed back to the peer via WINDOW_UPDATE.
func (rv *Recv) AckWindowUpdate(key Key, inc WindowSize) error {
	stream := rv.store.Resolve(key)
	if err := stream.recvFlow.IncWindow(inc); err != nil {
		return err
	}
	stream.recvFlow.AssignCapacity(inc)
	stream.inFlightRx -= inc
	if stream.inFlightRx < 0 {
		stream.inFlightRx = 0
	}
	return nil
}
