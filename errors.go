package http2

import (
	"errors"
	"fmt"
)

// ConnError is a connection-scoped protocol error (spec §7 "Connection
// protocol errors"). The owning task must reply with GoAway(Reason) and
// tear the connection down.
type ConnError struct {
	Reason ErrorCode
	Msg    string
}

// NewConnError builds a ConnError, in the style of the teacher's
// fmt.Errorf-based error construction in conn.go's WriteError.
func NewConnError(reason ErrorCode, format string, args ...interface{}) *ConnError {
	return &ConnError{Reason: reason, Msg: fmt.Sprintf(format, args...)}
}

func (e *ConnError) Error() string {
	return fmt.Sprintf("connection error: %s: %s", e.Reason, e.Msg)
}

// GoAway builds the frame that must be sent to report this error.
func (e *ConnError) GoAway(lastStreamID uint32) *GoAway {
	ga := &GoAway{}
	ga.SetStream(lastStreamID)
	ga.SetCode(e.Reason)
	ga.SetData([]byte(e.Msg))
	return ga
}

// StreamError is a stream-scoped protocol error (spec §7 "Stream protocol
// errors"). The engine replies with RST_STREAM(id, Reason) and keeps the
// connection open.
type StreamError struct {
	ID     uint32
	Reason ErrorCode
	Msg    string
}

func NewStreamError(id uint32, reason ErrorCode, format string, args ...interface{}) *StreamError {
	return &StreamError{ID: id, Reason: reason, Msg: fmt.Sprintf(format, args...)}
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream %d error: %s: %s", e.ID, e.Reason, e.Msg)
}

// ResetStream builds the frame that must be sent to report this error.
func (e *StreamError) ResetStream() *RstStream {
	rst := &RstStream{}
	rst.SetCode(e.Reason)
	return rst
}

// User errors (spec §7 "User errors") are returned directly to the caller;
// no frame is ever emitted for them. Named, not typed, the way the teacher
// exposes ErrServerSupport/ErrNotAvailableStreams/ErrTimeout as package
// sentinels checked with errors.Is.
var (
	// ErrUnexpectedFrameType is returned when an operation is invalid for
	// the stream's current protocol state (e.g. send_headers twice).
	ErrUnexpectedFrameType = errors.New("h2mux: unexpected frame type for current stream state")
	// ErrInactiveStream is returned when operating on a stream that is
	// already closed.
	ErrInactiveStream = errors.New("h2mux: stream is inactive")
	// ErrRejected is returned by Send.Open when the local endpoint has
	// reached the remote's SETTINGS_MAX_CONCURRENT_STREAMS.
	ErrRejected = errors.New("h2mux: refused to open stream, at capacity")
	// ErrFlowControl is returned when a flow-control window update would
	// overflow MaxWindowSize.
	ErrFlowControl = errors.New("h2mux: flow control window overflow")
)

// AsConnError reports whether err (or something it wraps) is a *ConnError.
func AsConnError(err error) (*ConnError, bool) {
	var ce *ConnError
	ok := errors.As(err, &ce)
	return ce, ok
}

// AsStreamError reports whether err (or something it wraps) is a
// *StreamError.
func AsStreamError(err error) (*StreamError, bool) {
	var se *StreamError
	ok := errors.As(err, &se)
	return se, ok
}
