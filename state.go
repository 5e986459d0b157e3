package http2

// StreamState is the RFC 7540 §5.1 stream state machine, tracked
// separately for what the local endpoint has sent and what it has
// received since the two halves close independently.
type StreamState uint8

const (
	StateIdle StreamState = iota
	StateReservedLocal
	StateReservedRemote
	StateOpen
	StateHalfClosedLocal
	StateHalfClosedRemote
	StateClosed
)

func (s StreamState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReservedLocal:
		return "reserved (local)"
	case StateReservedRemote:
		return "reserved (remote)"
	case StateOpen:
		return "open"
	case StateHalfClosedLocal:
		return "half-closed (local)"
	case StateHalfClosedRemote:
		return "half-closed (remote)"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// IsClosed reports whether no further frames may be sent or received.
func (s StreamState) IsClosed() bool {
	return s == StateClosed
}

// IsLocalClosed reports whether this endpoint may no longer send on the
// stream (our half is done, though the peer's may not be).
func (s StreamState) IsLocalClosed() bool {
	return s == StateHalfClosedLocal || s == StateClosed
}

// IsRemoteClosed reports whether the peer may no longer send on the
// stream.
func (s StreamState) IsRemoteClosed() bool {
	return s == StateHalfClosedRemote || s == StateClosed
}

// IsSendStreaming reports whether this endpoint may currently send DATA
// on the stream. Idle and reserved-remote streams never had SendHeaders
// called and must be rejected rather than silently accepting a body.
func (s StreamState) IsSendStreaming() bool {
	return s == StateOpen || s == StateHalfClosedRemote
}

// transitionSend applies the effect of sending the given frame type
// (HEADERS, DATA with END_STREAM, RST_STREAM, PUSH_PROMISE) on the local
// half of the state machine.
func (s *StreamState) transitionSend(ft FrameType, endStream bool) error {
	switch *s {
	case StateIdle:
		switch ft {
		case FrameHeaders:
			*s = StateOpen
			if endStream {
				*s = StateHalfClosedLocal
			}
		case FramePushPromise:
			*s = StateReservedLocal
		default:
			return ErrUnexpectedFrameType
		}
	case StateReservedLocal:
		if ft != FrameHeaders {
			return ErrUnexpectedFrameType
		}
		*s = StateHalfClosedRemote
	case StateOpen:
		if endStream {
			*s = StateHalfClosedLocal
		}
	case StateHalfClosedRemote:
		if endStream {
			*s = StateClosed
		}
	case StateHalfClosedLocal, StateClosed, StateReservedRemote:
		if ft == FrameResetStream {
			*s = StateClosed
			return nil
		}
		return ErrInactiveStream
	}

	if ft == FrameResetStream {
		*s = StateClosed
	}

	return nil
}

// transitionRecv applies the effect of receiving the given frame type on
// the remote half of the state machine.
func (s *StreamState) transitionRecv(ft FrameType, endStream bool) error {
	switch *s {
	case StateIdle:
		switch ft {
		case FrameHeaders:
			*s = StateOpen
			if endStream {
				*s = StateHalfClosedRemote
			}
		case FramePushPromise:
			*s = StateReservedRemote
		default:
			return ErrUnexpectedFrameType
		}
	case StateReservedRemote:
		if ft != FrameHeaders {
			return ErrUnexpectedFrameType
		}
		*s = StateHalfClosedLocal
	case StateOpen:
		if endStream {
			*s = StateHalfClosedRemote
		}
	case StateHalfClosedLocal:
		if endStream {
			*s = StateClosed
		}
	case StateHalfClosedRemote, StateClosed, StateReservedLocal:
		if ft == FrameResetStream {
			*s = StateClosed
			return nil
		}
		return ErrInactiveStream
	}

	if ft == FrameResetStream {
		*s = StateClosed
	}

	return nil
}
