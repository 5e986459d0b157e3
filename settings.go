package http2

import (
	"sync"

	"github.com/streamux/h2mux/h2utils"
)

const FrameSettings FrameType = 0x4

var _ Frame = &Settings{}

var settingsPool = sync.Pool{
	New: func() interface{} { return &Settings{} },
}

// Settings parameter identifiers.
//
// https://tools.ietf.org/html/rfc7540#section-6.5.2
const (
	SettingsHeaderTableSize      uint16 = 0x1
	SettingsEnablePush           uint16 = 0x2
	SettingsMaxConcurrentStreams uint16 = 0x3
	SettingsInitialWindowSize    uint16 = 0x4
	SettingsMaxFrameSize         uint16 = 0x5
	SettingsMaxHeaderListSize    uint16 = 0x6

	defaultHeaderTableSize = 4096

	// maxWindowSize is the largest legal flow-control window value.
	//
	// https://tools.ietf.org/html/rfc7540#section-6.9.1
	maxWindowSize = (1 << 31) - 1
)

// Settings represents a SETTINGS frame, carrying connection-wide
// configuration parameters negotiated when the connection is opened and
// any time either side wants to change them.
//
// https://tools.ietf.org/html/rfc7540#section-6.5
type Settings struct {
	ack bool

	headerTableSize      uint32
	push                 bool
	maxConcurrentStreams uint32
	maxWindowSize        uint32
	maxFrameSize         uint32
	maxHeaderListSize    uint32

	// hasMaxConcurrentStreams/hasMaxHeaderListSize track whether the
	// remote sent the (optional, unbounded-by-default) parameter, so
	// apply-settings logic can tell "unset" from "set to zero".
	hasMaxConcurrentStreams bool
	hasMaxHeaderListSize    bool
}

func (st *Settings) Type() FrameType {
	return FrameSettings
}

// Reset resets st to the RFC 7540 §6.5.2 default values.
func (st *Settings) Reset() {
	st.ack = false
	st.headerTableSize = defaultHeaderTableSize
	st.push = true
	st.maxConcurrentStreams = 0
	st.hasMaxConcurrentStreams = false
	st.maxWindowSize = (1 << 16) - 1
	st.maxFrameSize = defaultMaxLen
	st.maxHeaderListSize = 0
	st.hasMaxHeaderListSize = false
}

// CopyTo copies st's fields to st2.
func (st *Settings) CopyTo(st2 *Settings) {
	st2.ack = st.ack
	st2.headerTableSize = st.headerTableSize
	st2.push = st.push
	st2.maxConcurrentStreams = st.maxConcurrentStreams
	st2.hasMaxConcurrentStreams = st.hasMaxConcurrentStreams
	st2.maxWindowSize = st.maxWindowSize
	st2.maxFrameSize = st.maxFrameSize
	st2.maxHeaderListSize = st.maxHeaderListSize
	st2.hasMaxHeaderListSize = st.hasMaxHeaderListSize
}

// IsAck reports whether this SETTINGS frame is an acknowledgement.
func (st *Settings) IsAck() bool {
	return st.ack
}

// SetAck marks the frame as a SETTINGS acknowledgement. An ack frame
// carries no parameters.
func (st *Settings) SetAck(ack bool) {
	st.ack = ack
}

// HeaderTableSize returns the SETTINGS_HEADER_TABLE_SIZE value.
func (st *Settings) HeaderTableSize() uint32 {
	return st.headerTableSize
}

// SetHeaderTableSize sets SETTINGS_HEADER_TABLE_SIZE.
func (st *Settings) SetHeaderTableSize(size uint32) {
	st.headerTableSize = size
}

// Push reports whether SETTINGS_ENABLE_PUSH is enabled.
func (st *Settings) Push() bool {
	return st.push
}

// SetPush enables/disables SETTINGS_ENABLE_PUSH.
func (st *Settings) SetPush(enable bool) {
	st.push = enable
}

// MaxConcurrentStreams returns SETTINGS_MAX_CONCURRENT_STREAMS, or
// (0, false) if the peer never sent it (meaning unbounded).
func (st *Settings) MaxConcurrentStreams() (uint32, bool) {
	return st.maxConcurrentStreams, st.hasMaxConcurrentStreams
}

// SetMaxConcurrentStreams sets SETTINGS_MAX_CONCURRENT_STREAMS.
func (st *Settings) SetMaxConcurrentStreams(n uint32) {
	st.maxConcurrentStreams = n
	st.hasMaxConcurrentStreams = true
}

// MaxWindowSize returns SETTINGS_INITIAL_WINDOW_SIZE.
func (st *Settings) MaxWindowSize() uint32 {
	return st.maxWindowSize
}

// SetMaxWindowSize sets SETTINGS_INITIAL_WINDOW_SIZE.
func (st *Settings) SetMaxWindowSize(size uint32) {
	st.maxWindowSize = size
}

// MaxFrameSize returns SETTINGS_MAX_FRAME_SIZE.
func (st *Settings) MaxFrameSize() uint32 {
	return st.maxFrameSize
}

// SetMaxFrameSize sets SETTINGS_MAX_FRAME_SIZE.
func (st *Settings) SetMaxFrameSize(size uint32) {
	st.maxFrameSize = size
}

// MaxHeaderListSize returns SETTINGS_MAX_HEADER_LIST_SIZE, or (0, false)
// if the peer never sent it (meaning unbounded).
func (st *Settings) MaxHeaderListSize() (uint32, bool) {
	return st.maxHeaderListSize, st.hasMaxHeaderListSize
}

// SetMaxHeaderListSize sets SETTINGS_MAX_HEADER_LIST_SIZE.
func (st *Settings) SetMaxHeaderListSize(size uint32) {
	st.maxHeaderListSize = size
	st.hasMaxHeaderListSize = true
}

func (st *Settings) Deserialize(fr *FrameHeader) error {
	if fr.Flags().Has(FlagAck) {
		st.ack = true
		return nil
	}

	payload := fr.payload
	if len(payload)%6 != 0 {
		return ErrMissingBytes
	}

	for len(payload) > 0 {
		id := uint16(payload[0])<<8 | uint16(payload[1])
		value := h2utils.BytesToUint32(payload[2:6])
		payload = payload[6:]

		switch id {
		case SettingsHeaderTableSize:
			st.headerTableSize = value
		case SettingsEnablePush:
			st.push = value != 0
		case SettingsMaxConcurrentStreams:
			st.SetMaxConcurrentStreams(value)
		case SettingsInitialWindowSize:
			if value > maxWindowSize {
				return ErrFlowControl
			}
			st.maxWindowSize = value
		case SettingsMaxFrameSize:
			st.maxFrameSize = value
		case SettingsMaxHeaderListSize:
			st.SetMaxHeaderListSize(value)
		}
		// unknown identifiers are ignored, per RFC 7540 §6.5.2
	}

	return nil
}

func (st *Settings) Serialize(fr *FrameHeader) {
	if st.ack {
		fr.SetFlags(fr.Flags().Add(FlagAck))
		fr.payload = fr.payload[:0]
		return
	}

	payload := fr.payload[:0]
	payload = appendSetting(payload, SettingsHeaderTableSize, st.headerTableSize)
	payload = appendSetting(payload, SettingsEnablePush, boolToUint32(st.push))
	if st.hasMaxConcurrentStreams {
		payload = appendSetting(payload, SettingsMaxConcurrentStreams, st.maxConcurrentStreams)
	}
	payload = appendSetting(payload, SettingsInitialWindowSize, st.maxWindowSize)
	payload = appendSetting(payload, SettingsMaxFrameSize, st.maxFrameSize)
	if st.hasMaxHeaderListSize {
		payload = appendSetting(payload, SettingsMaxHeaderListSize, st.maxHeaderListSize)
	}

	fr.payload = payload
}

func appendSetting(dst []byte, id uint16, value uint32) []byte {
	dst = append(dst, byte(id>>8), byte(id))
	return h2utils.AppendUint32Bytes(dst, value)
}

func boolToUint32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
