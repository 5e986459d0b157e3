package http2

import "errors"

// ErrorCode is an RFC 7540 §7 error code — the spec's "Reason". It travels
// on the wire in RST_STREAM and GOAWAY frames.
type ErrorCode uint32

const (
	NoError              ErrorCode = 0x0
	ProtocolError        ErrorCode = 0x1
	InternalError        ErrorCode = 0x2
	FlowControlError     ErrorCode = 0x3
	SettingsTimeoutError ErrorCode = 0x4
	StreamClosedError    ErrorCode = 0x5
	FrameSizeError       ErrorCode = 0x6
	RefusedStreamError   ErrorCode = 0x7
	CancelError          ErrorCode = 0x8
	CompressionError     ErrorCode = 0x9
	ConnectError         ErrorCode = 0xa
	EnhanceYourCalm      ErrorCode = 0xb
	InadequateSecurity   ErrorCode = 0xc
	HTTP11Required       ErrorCode = 0xd
)

var errorCodeNames = [...]string{
	NoError:              "NO_ERROR",
	ProtocolError:        "PROTOCOL_ERROR",
	InternalError:        "INTERNAL_ERROR",
	FlowControlError:     "FLOW_CONTROL_ERROR",
	SettingsTimeoutError: "SETTINGS_TIMEOUT",
	StreamClosedError:    "STREAM_CLOSED",
	FrameSizeError:       "FRAME_SIZE_ERROR",
	RefusedStreamError:   "REFUSED_STREAM",
	CancelError:          "CANCEL",
	CompressionError:     "COMPRESSION_ERROR",
	ConnectError:         "CONNECT_ERROR",
	EnhanceYourCalm:      "ENHANCE_YOUR_CALM",
	InadequateSecurity:   "INADEQUATE_SECURITY",
	HTTP11Required:       "HTTP_1_1_REQUIRED",
}

func (e ErrorCode) String() string {
	if int(e) < len(errorCodeNames) {
		if s := errorCodeNames[e]; s != "" {
			return s
		}
	}
	return "UNKNOWN_ERROR"
}

// Frame decode/transport sentinels. These report malformed wire data, not
// protocol-level stream/connection errors — see errors.go for the taxonomy
// that reaches the caller.
var (
	ErrMissingBytes    = errors.New("h2mux: missing bytes to decode frame")
	ErrUnknowFrameType = errors.New("h2mux: unknown frame type")
	ErrPayloadExceeds  = errors.New("h2mux: frame payload exceeds negotiated maximum size")
	ErrBadPreface      = errors.New("h2mux: bad connection preface")
	ErrFrameMismatch   = errors.New("h2mux: frame type mismatch")
)
