package http2

import "fmt"

// WindowSize is a flow-control window value. RFC 7540 §6.9.1 allows window
// updates to push the advertised window as low as -2^31+1 (when a SETTINGS
// change shrinks SETTINGS_INITIAL_WINDOW_SIZE after data is already in
// flight), so it is a signed 32-bit quantity rather than a uint31.
type WindowSize int32

// FlowControl tracks one direction of flow control for one stream (or, on
// the connection-level pseudo-stream, for the whole connection).
//
// Two numbers are kept apart deliberately:
//   - window: what the peer believes our window to be, because that's
//     what our last WINDOW_UPDATE told them.
//   - available: window minus however much capacity is already claimed by
//     buffered-but-unsent data.
//
// Keeping them apart is what lets a write that only partially fits still
// account correctly for the rest: claimCapacity can be called before the
// bytes are actually sent (sendData), and the gap between window and
// available is exactly the capacity that's spoken for but not yet used.
type FlowControl struct {
	window    WindowSize
	available WindowSize
}

// Window returns the window size as last communicated to the peer.
func (fc *FlowControl) Window() WindowSize {
	return fc.window
}

// Available returns the window capacity that is not yet claimed.
func (fc *FlowControl) Available() WindowSize {
	return fc.available
}

// IncWindow grows the window by sz and leaves available unchanged. Used
// when applying a WINDOW_UPDATE frame or when the initial window size
// setting becomes larger; callers that also grant capacity do so
// separately (AssignCapacity, or Prioritize's tryAssignCapacity).
func (fc *FlowControl) IncWindow(sz WindowSize) error {
	win := int64(fc.window) + int64(sz)
	if win > maxWindowSize {
		return ErrFlowControl
	}
	fc.window = WindowSize(win)
	return nil
}

// DecWindow shrinks the window by sz, used when the initial window size
// setting becomes smaller. Unlike IncWindow this may push window negative;
// RFC 7540 §6.9.2 explicitly allows this as a transient state.
func (fc *FlowControl) DecWindow(sz WindowSize) error {
	win := int64(fc.window) - int64(sz)
	if win < int64(minWindowSize) {
		return ErrFlowControl
	}
	fc.window = WindowSize(win)
	return nil
}

// AssignCapacity grants sz additional capacity to available, mirroring a
// WINDOW_UPDATE the peer sent us (or initial capacity handed out when a
// stream is opened). window is untouched: it already accounts for sz.
func (fc *FlowControl) AssignCapacity(sz WindowSize) {
	fc.available += sz
}

// ClaimCapacity consumes sz bytes of capacity ahead of actually sending
// them, as send.rs's reserve_capacity does for buffered_send_data. It
// returns an error if sz exceeds what is available.
func (fc *FlowControl) ClaimCapacity(sz WindowSize) error {
	if sz > fc.available {
		return fmt.Errorf("h2mux: invalid claim capacity, capacity exceeded (%d > %d)", sz, fc.available)
	}
	fc.available -= sz
	return nil
}

// SendData accounts for sz bytes actually written to the wire: both the
// window we last advertised and the capacity we set aside for them shrink.
func (fc *FlowControl) SendData(sz WindowSize) error {
	if sz > fc.window {
		return ErrFlowControl
	}
	fc.window -= sz
	if sz > fc.available {
		fc.available = 0
	} else {
		fc.available -= sz
	}
	return nil
}

// UnclaimedCapacity returns how much of window has not yet been claimed,
// i.e. how large the next outbound WINDOW_UPDATE increment could be
// without exceeding what has already been promised via AssignCapacity.
func (fc *FlowControl) UnclaimedCapacity() WindowSize {
	unclaimed := fc.window - fc.available
	if unclaimed <= 0 {
		return 0
	}
	return unclaimed
}

// HasUnavailable reports whether the window has room the stream hasn't
// been granted capacity for yet (window > available). tryAssignCapacity
// does not consult it: a grant is not limited by the stream's window.
func (fc *FlowControl) HasUnavailable() bool {
	return fc.window > fc.available
}

const minWindowSize = -maxWindowSize
