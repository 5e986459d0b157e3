package http2

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestSend() (*Store, *Send) {
	store := NewStore()
	return store, NewSend(store, 1, 1<<16)
}

func TestSendOpenAllocatesOddStreamIDs(t *testing.T) {
	store, sd := newTestSend()

	k1, err := sd.Open()
	require.NoError(t, err)
	require.EqualValues(t, 1, store.Resolve(k1).ID())

	k2, err := sd.Open()
	require.NoError(t, err)
	require.EqualValues(t, 3, store.Resolve(k2).ID())
}

func TestSendOpenRejectedAtMaxStreams(t *testing.T) {
	_, sd := newTestSend()
	sd.SetMaxStreams(1)

	_, err := sd.Open()
	require.NoError(t, err)

	_, err = sd.Open()
	require.ErrorIs(t, err, ErrRejected)
}

func TestSendHeadersThenResetDecrementsNumStreams(t *testing.T) {
	_, sd := newTestSend()

	key, err := sd.Open()
	require.NoError(t, err)
	require.NoError(t, sd.SendHeaders(key, false))
	require.EqualValues(t, 1, sd.numStreams)

	rst, ok := sd.SendReset(key, NoError)
	require.True(t, ok)
	require.NotNil(t, rst)
	require.EqualValues(t, 0, sd.numStreams)

	// A second reset on the same stream must not double-decrement, and
	// must not produce a second RST_STREAM.
	rst2, ok2 := sd.SendReset(key, NoError)
	require.False(t, ok2)
	require.Nil(t, rst2)
	require.EqualValues(t, 0, sd.numStreams)
}

func TestSendResetReclaimsStreamCapacityToConnection(t *testing.T) {
	store, sd := newTestSend()

	key, err := sd.Open()
	require.NoError(t, err)
	require.NoError(t, sd.SendHeaders(key, false))

	stream := store.Resolve(key)
	before := sd.prioritize.flow.Available()

	// Claim 30 bytes of connection-level capacity for this stream, as
	// ReserveCapacity would when buffering a write.
	sd.prioritize.ReserveCapacity(store, key, 30)
	require.EqualValues(t, before-30, sd.prioritize.flow.Available())
	require.EqualValues(t, 30, stream.sendFlow.Available())

	_, ok := sd.SendReset(key, NoError)
	require.True(t, ok)

	require.EqualValues(t, before, sd.prioritize.flow.Available())
}

func TestSendDataRejectsLocallyClosedStream(t *testing.T) {
	_, sd := newTestSend()

	key, err := sd.Open()
	require.NoError(t, err)
	require.NoError(t, sd.SendHeaders(key, true))

	data := AcquireFrame(FrameData).(*Data)
	data.SetData([]byte("hi"))

	err = sd.SendData(key, data)
	require.ErrorIs(t, err, ErrInactiveStream)
}

func TestSendPollCompleteWritesBufferedData(t *testing.T) {
	store, sd := newTestSend()

	key, err := sd.Open()
	require.NoError(t, err)
	require.NoError(t, sd.SendHeaders(key, false))

	data := AcquireFrame(FrameData).(*Data)
	data.SetData([]byte("payload"))
	data.SetEndStream(true)
	require.NoError(t, sd.SendData(key, data))

	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)
	codec := NewBufioCodec(bw, defaultMaxLen, 0)
	require.NoError(t, sd.PollComplete(codec))

	require.Greater(t, buf.Len(), 9, "should have written at least a frame header plus payload")
	require.Contains(t, buf.String(), "payload")

	stream := store.Resolve(key)
	require.Zero(t, stream.pendingSend.Len())
}

func TestSendPollCompleteSplitsDataAcrossFlowControlWindow(t *testing.T) {
	store, sd := newTestSend()

	key, err := sd.Open()
	require.NoError(t, err)
	require.NoError(t, sd.SendHeaders(key, false))

	data := AcquireFrame(FrameData).(*Data)
	data.SetData(make([]byte, 80))
	data.SetEndStream(true)
	require.NoError(t, sd.SendData(key, data))

	stream := store.Resolve(key)
	// Simulate only 20 of the stream's granted bytes still being usable
	// right now, independent of how much the connection has on offer.
	stream.sendFlow.available = 20

	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)
	codec := NewBufioCodec(bw, defaultMaxLen, 0)
	require.NoError(t, sd.PollComplete(codec))

	// Only 20 bytes fit; the frame is split and the 60-byte residual is
	// pushed back to the front of the stream's queue, unsent.
	require.EqualValues(t, 1, stream.pendingSend.Len())
	require.EqualValues(t, 60, stream.pendingSend.ByteLen())
	require.EqualValues(t, 0, stream.sendFlow.Available())

	firstWriteLen := buf.Len()
	require.Greater(t, firstWriteLen, 20, "should have written a header plus 20 bytes of payload")

	// A WINDOW_UPDATE grants the rest of the capacity; the residual frame,
	// carrying END_STREAM, is now written too.
	require.NoError(t, sd.RecvStreamWindowUpdate(key, 60))
	require.NoError(t, sd.PollComplete(codec))

	require.Zero(t, stream.pendingSend.Len())
	require.Greater(t, buf.Len(), firstWriteLen)
}

func TestSendApplyRemoteSettingsGrowsExistingStreamWindows(t *testing.T) {
	store, sd := newTestSend()

	key, err := sd.Open()
	require.NoError(t, err)

	beforeWindow := store.Resolve(key).sendFlow.Window()

	st := &Settings{}
	st.Reset()
	st.SetMaxWindowSize(uint32(beforeWindow) + 1000)
	require.NoError(t, sd.ApplyRemoteSettings(st))

	// IncWindow only grows the advertised window; available capacity is
	// assigned separately (tryAssignCapacity), so it doesn't move here.
	require.EqualValues(t, beforeWindow+1000, store.Resolve(key).sendFlow.Window())
}

func TestSendEnsureNotIdleRejectsUnopenedStream(t *testing.T) {
	_, sd := newTestSend()
	require.Error(t, sd.EnsureNotIdle(99))

	_, err := sd.Open()
	require.NoError(t, err)
	require.NoError(t, sd.EnsureNotIdle(1))
}
