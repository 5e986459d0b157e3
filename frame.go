package http2

// FrameType is the frame type octet (RFC 7540 §6).
type FrameType byte

func (t FrameType) String() string {
	if int(t) < len(frameTypeNames) {
		if s := frameTypeNames[t]; s != "" {
			return s
		}
	}
	return "UNKNOWN_FRAME"
}

var frameTypeNames = [...]string{
	FrameData:         "DATA",
	FrameHeaders:      "HEADERS",
	FramePriority:     "PRIORITY",
	FrameResetStream:  "RST_STREAM",
	FrameSettings:     "SETTINGS",
	FramePushPromise:  "PUSH_PROMISE",
	FramePing:         "PING",
	FrameGoAway:       "GOAWAY",
	FrameWindowUpdate: "WINDOW_UPDATE",
	FrameContinuation: "CONTINUATION",
}

// FrameFlags is the one-octet flags field of a frame header. Meaning is
// frame-type dependent; see the Flag* constants in frameHeader.go.
type FrameFlags uint8

// Has reports whether flag is set.
func (f FrameFlags) Has(flag FrameFlags) bool {
	return f&flag == flag
}

// Add returns f with flag set.
func (f FrameFlags) Add(flag FrameFlags) FrameFlags {
	return f | flag
}

// Frame is implemented by every HTTP/2 frame payload type (Data, Headers,
// Priority, RstStream, Settings, PushPromise, Ping, GoAway, WindowUpdate,
// Continuation). A Frame is always reached through a *FrameHeader, which
// carries the wire-level length/type/flags/stream fields shared by all
// frame types.
//
// https://tools.ietf.org/html/rfc7540#section-4.1
type Frame interface {
	// Type returns the frame's wire type.
	Type() FrameType
	// Reset resets the frame so it can be reused from its sync.Pool.
	Reset()
	// Deserialize fills the frame from fr's already-read payload.
	Deserialize(fr *FrameHeader) error
	// Serialize writes the frame's fields into fr's payload and flags.
	Serialize(fr *FrameHeader)
}

// AcquireFrame returns a pooled, reset Frame of the given kind. It panics
// if kind is not a recognized frame type; callers must check the type
// against FrameContinuation (or use ReadFrom, which already validates it)
// before calling this.
func AcquireFrame(kind FrameType) Frame {
	var fr Frame

	switch kind {
	case FrameData:
		fr = dataPool.Get().(*Data)
	case FrameHeaders:
		fr = headersPool.Get().(*Headers)
	case FramePriority:
		fr = priorityPool.Get().(*Priority)
	case FrameResetStream:
		fr = rstStreamPool.Get().(*RstStream)
	case FrameSettings:
		fr = settingsPool.Get().(*Settings)
	case FramePushPromise:
		fr = pushPromisePool.Get().(*PushPromise)
	case FramePing:
		fr = pingPool.Get().(*Ping)
	case FrameGoAway:
		fr = goAwayPool.Get().(*GoAway)
	case FrameWindowUpdate:
		fr = windowUpdatePool.Get().(*WindowUpdate)
	case FrameContinuation:
		fr = continuationPool.Get().(*Continuation)
	default:
		panic("h2mux: unknown frame type passed to AcquireFrame")
	}

	fr.Reset()
	return fr
}

// ReleaseFrame resets fr and returns it to its pool. fr must not be used
// afterwards. A nil fr is a no-op, which lets callers release a
// *FrameHeader's Body() unconditionally.
func ReleaseFrame(fr Frame) {
	if fr == nil {
		return
	}

	fr.Reset()

	switch fr.Type() {
	case FrameData:
		dataPool.Put(fr)
	case FrameHeaders:
		headersPool.Put(fr)
	case FramePriority:
		priorityPool.Put(fr)
	case FrameResetStream:
		rstStreamPool.Put(fr)
	case FrameSettings:
		settingsPool.Put(fr)
	case FramePushPromise:
		pushPromisePool.Put(fr)
	case FramePing:
		pingPool.Put(fr)
	case FrameGoAway:
		goAwayPool.Put(fr)
	case FrameWindowUpdate:
		windowUpdatePool.Put(fr)
	case FrameContinuation:
		continuationPool.Put(fr)
	}
}

// NewError builds a protocol error carrying code, used by frame types
// (e.g. RstStream.Error) that have no stream id at hand. The result is a
// *StreamError with stream id 0, so AsStreamError matches it.
func NewError(code ErrorCode, msg string) error {
	if msg == "" {
		msg = code.String()
	}
	return NewStreamError(0, code, "%s", msg)
}
