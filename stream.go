package http2

// ContentLength tracks the declared Content-Length of a stream so the
// engine can catch a body that over- or under-runs it, mirroring
// stream.rs's ContentLength enum.
type ContentLength struct {
	known     bool
	remaining uint64
}

// SetKnown records a declared Content-Length value.
func (c *ContentLength) SetKnown(n uint64) {
	c.known = true
	c.remaining = n
}

// Dec subtracts n bytes of received body from the remaining count. It
// returns an error if n overruns what was declared.
func (c *ContentLength) Dec(n uint64) error {
	if !c.known {
		return nil
	}
	if n > c.remaining {
		return ErrFlowControl
	}
	c.remaining -= n
	return nil
}

// EnsureZero reports whether a declared Content-Length has been fully
// consumed; called when END_STREAM arrives.
func (c *ContentLength) EnsureZero() error {
	if c.known && c.remaining != 0 {
		return NewError(ProtocolError, "content-length mismatch")
	}
	return nil
}

// Stream is the engine's per-stream record: protocol state, flow-control
// accounting for both directions, and linkage into the four intrusive
// queues Prioritize/Send walk (pending send, pending send-capacity,
// pending accept, pending window update).
//
// A Stream is only ever reached through the Store that owns it; callers
// get a Key from opening/accepting a stream and resolve it back through
// the Store for every subsequent operation.
type Stream struct {
	id    uint32
	state StreamState

	// send-direction accounting.
	sendFlow     FlowControl
	requestedTx  WindowSize
	pendingSend  Deque
	sendCapInc   bool
	endOfStream  bool
	contentTx    ContentLength

	// recv-direction accounting.
	recvFlow    FlowControl
	pendingRecv Deque
	contentRx   ContentLength
	inFlightRx  WindowSize

	// queue linkage, walked by the generic Queue[N] in store.go.
	nextSend           Key
	isPendingSend      bool
	nextSendCapacity   Key
	isPendingSendCap   bool
	nextAccept         Key
	isPendingAccept    bool
	nextWindowUpdate   Key
	isPendingWinUpdate bool

	// wakers: exactly one task may be parked waiting on this stream for
	// each direction; see notify.go.
	sendNotify Notifier
	recvNotify Notifier

	pendingPushPromises []uint32

	// isCounted tracks whether this stream is included in Send's
	// numStreams/accept accounting, so closing it decrements exactly once.
	isCounted bool

	// resetSent tracks whether SendReset has already run for this stream,
	// so a second call is a no-op instead of emitting a duplicate
	// RST_STREAM and double-reclaiming capacity.
	resetSent bool
}

// NewStream builds a fresh idle stream with the given id and initial
// window sizes for both directions, mirroring stream.rs's Stream::new.
// Send-direction capacity starts at zero; Prioritize assigns it from the
// connection pool as the stream requests it.
func NewStream(id uint32, sendWindow, recvWindow WindowSize) *Stream {
	s := &Stream{
		id:         id,
		state:      StateIdle,
		nextSend:   noKey,
		nextSendCapacity: noKey,
		nextAccept: noKey,
		nextWindowUpdate: noKey,
	}
	s.sendFlow.window = sendWindow
	s.recvFlow.window = recvWindow
	s.recvFlow.available = recvWindow
	return s
}

// ID returns the stream identifier.
func (s *Stream) ID() uint32 {
	return s.id
}

// State returns the current protocol state.
func (s *Stream) State() StreamState {
	return s.state
}

// IsPendingReset reports whether the stream has a queued send-direction
// RST_STREAM not yet flushed, as used by ensure_not_idle-style checks.
func (s *Stream) IsPendingReset() bool {
	return s.state == StateClosed && s.isPendingSend
}

// AssignCapacity grants additional send-direction capacity, mirroring
// stream.rs's Stream::assign_capacity: capacity is only handed out up to
// what's actually requested.
func (s *Stream) AssignCapacity(capacity WindowSize) {
	assign := capacity
	if unsent := s.requestedTx - s.sendFlow.available; unsent < assign {
		assign = unsent
	}
	if assign > 0 {
		s.sendFlow.AssignCapacity(assign)
	}
}

// NotifySend wakes the task parked on this stream's send direction, if
// any.
func (s *Stream) NotifySend() {
	s.sendNotify.Notify()
}

// NotifyRecv wakes the task parked on this stream's receive direction, if
// any.
func (s *Stream) NotifyRecv() {
	s.recvNotify.Notify()
}
