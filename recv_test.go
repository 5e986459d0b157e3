package http2

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestRecv() (*Store, *Recv) {
	store := NewStore()
	return store, NewRecv(store, 1<<16)
}

func TestRecvAcceptAndHeadersOpenStream(t *testing.T) {
	store, rv := newTestRecv()

	key := rv.Accept(2, 1<<16)
	require.EqualValues(t, 2, store.Resolve(key).ID())

	require.NoError(t, rv.RecvHeaders(key, false))
	require.Equal(t, StateOpen, store.Resolve(key).State())
}

func TestRecvHeadersEndStreamHalfCloses(t *testing.T) {
	_, rv := newTestRecv()
	key := rv.Accept(2, 1<<16)

	require.NoError(t, rv.RecvHeaders(key, true))
	require.True(t, rv.store.Resolve(key).State().IsRemoteClosed())
}

func TestRecvDataClaimsWindowAndTracksContentLength(t *testing.T) {
	store, rv := newTestRecv()
	key := rv.Accept(2, 1<<16)
	require.NoError(t, rv.RecvHeaders(key, false))

	rv.SetContentLength(key, 10)

	require.NoError(t, rv.RecvData(key, 6, false))
	require.EqualValues(t, 1<<16-6, store.Resolve(key).recvFlow.Available())

	require.NoError(t, rv.RecvData(key, 4, true))
	require.True(t, store.Resolve(key).State().IsRemoteClosed())
}

func TestRecvDataContentLengthMismatchErrors(t *testing.T) {
	_, rv := newTestRecv()
	key := rv.Accept(2, 1<<16)
	require.NoError(t, rv.RecvHeaders(key, false))

	rv.SetContentLength(key, 5)

	require.NoError(t, rv.RecvData(key, 3, false))
	err := rv.RecvData(key, 3, true)
	require.Error(t, err, "6 bytes received against a declared Content-Length of 5 must fail")
}

func TestRecvDataOverWindowErrors(t *testing.T) {
	store := NewStore()
	rv := NewRecv(store, 100) // small recv window so an overrun is easy to trigger

	key := rv.Accept(2, 1<<16)
	require.NoError(t, rv.RecvHeaders(key, false))

	err := rv.RecvData(key, 101, false)
	require.Error(t, err)
}

func TestRecvResetClosesStream(t *testing.T) {
	store, rv := newTestRecv()
	key := rv.Accept(2, 1<<16)

	rv.RecvReset(key)
	require.True(t, store.Resolve(key).State().IsClosed())
}

func TestRecvAckWindowUpdateRestoresCapacity(t *testing.T) {
	store, rv := newTestRecv()
	key := rv.Accept(2, 1<<16)
	require.NoError(t, rv.RecvHeaders(key, false))
	require.NoError(t, rv.RecvData(key, 100, false))

	require.EqualValues(t, 100, rv.UnclaimedWindow(key))

	require.NoError(t, rv.AckWindowUpdate(key, 100))

	stream := store.Resolve(key)
	require.EqualValues(t, 1<<16, stream.recvFlow.Available())
	require.EqualValues(t, 0, rv.UnclaimedWindow(key))
}
