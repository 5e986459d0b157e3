package http2

import "bufio"

// partialHeaders holds a HEADERS frame that arrived without END_HEADERS,
// waiting for one or more CONTINUATION frames to complete its header
// block, grounded on framed_read.rs's Partial/Continuable pairing.
type partialHeaders struct {
	frh    *FrameHeader
	stream uint32
}

// Reader wraps a bufio.Reader and reassembles HEADERS+CONTINUATION
// sequences into a single logical frame before handing it to the caller,
// so nothing above this layer ever has to know CONTINUATION exists.
type Reader struct {
	br      *bufio.Reader
	maxLen  uint32
	partial *partialHeaders
}

// NewReader builds a Reader with the given negotiated max frame size (0
// means the RFC 7540 default of 16KiB).
func NewReader(br *bufio.Reader, maxLen uint32) *Reader {
	if maxLen == 0 {
		maxLen = defaultMaxLen
	}
	return &Reader{br: br, maxLen: maxLen}
}

// ReadFrame returns the next logical frame, transparently reassembling
// any HEADERS/CONTINUATION sequence. The returned *FrameHeader must be
// released with ReleaseFrameHeader by the caller.
func (r *Reader) ReadFrame() (*FrameHeader, error) {
	for {
		frh, err := ReadFrameFromWithSize(r.br, r.maxLen)
		if err != nil {
			return nil, err
		}

		if r.partial != nil && frh.Type() != FrameContinuation {
			ReleaseFrameHeader(frh)
			return nil, NewConnError(ProtocolError, "expected CONTINUATION, got %s", frh.Type())
		}

		switch frh.Type() {
		case FrameHeaders:
			h := frh.Body().(*Headers)
			if h.EndHeaders() {
				return frh, nil
			}

			r.partial = &partialHeaders{frh: frh, stream: frh.Stream()}

		case FrameContinuation:
			if r.partial == nil {
				ReleaseFrameHeader(frh)
				return nil, NewConnError(ProtocolError, "unexpected CONTINUATION")
			}
			if frh.Stream() != r.partial.stream {
				ReleaseFrameHeader(frh)
				return nil, NewConnError(ProtocolError, "CONTINUATION stream id mismatch")
			}

			cont := frh.Body().(*Continuation)
			h := r.partial.frh.Body().(*Headers)
			h.AppendRawHeaders(cont.Headers())

			done := cont.EndHeaders()
			ReleaseFrameHeader(frh)

			if !done {
				continue
			}

			h.SetEndHeaders(true)
			out := r.partial.frh
			r.partial = nil
			return out, nil

		default:
			return frh, nil
		}
	}
}
