package http2

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStoreInsertResolveRemove(t *testing.T) {
	store := NewStore()

	k1 := store.Insert(NewStream(1, 1<<16, 1<<16))
	k2 := store.Insert(NewStream(3, 1<<16, 1<<16))

	require.Equal(t, 2, store.Len())
	require.EqualValues(t, 1, store.Resolve(k1).ID())
	require.EqualValues(t, 3, store.Resolve(k2).ID())

	found, ok := store.Find(3)
	require.True(t, ok)
	require.Equal(t, k2, found)

	store.Remove(k1)
	require.Equal(t, 1, store.Len())
	_, ok = store.Find(1)
	require.False(t, ok)
}

func TestStoreReusesFreedSlots(t *testing.T) {
	store := NewStore()

	k1 := store.Insert(NewStream(1, 0, 0))
	store.Remove(k1)

	k2 := store.Insert(NewStream(5, 0, 0))
	require.Equal(t, k1, k2, "the freed slot should be recycled instead of growing the slab")
}

func TestStoreResolveStaleKeyPanics(t *testing.T) {
	store := NewStore()
	k := store.Insert(NewStream(1, 0, 0))
	store.Remove(k)

	require.Panics(t, func() { store.Resolve(k) })
}

func TestQueuePushPopFIFO(t *testing.T) {
	store := NewStore()
	k1 := store.Insert(NewStream(1, 0, 0))
	k2 := store.Insert(NewStream(3, 0, 0))
	k3 := store.Insert(NewStream(5, 0, 0))

	q := NewQueue[NextSend]()
	require.True(t, q.Push(store, k1))
	require.True(t, q.Push(store, k2))
	require.True(t, q.Push(store, k3))

	require.False(t, q.Push(store, k2), "pushing an already-queued key must be a no-op")

	got, ok := q.Pop(store)
	require.True(t, ok)
	require.Equal(t, k1, got)

	got, ok = q.Pop(store)
	require.True(t, ok)
	require.Equal(t, k2, got)

	got, ok = q.Pop(store)
	require.True(t, ok)
	require.Equal(t, k3, got)

	require.True(t, q.IsEmpty())
	_, ok = q.Pop(store)
	require.False(t, ok)
}

func TestQueueRemoveMiddle(t *testing.T) {
	store := NewStore()
	k1 := store.Insert(NewStream(1, 0, 0))
	k2 := store.Insert(NewStream(3, 0, 0))
	k3 := store.Insert(NewStream(5, 0, 0))

	q := NewQueue[NextWindowUpdate]()
	q.Push(store, k1)
	q.Push(store, k2)
	q.Push(store, k3)

	q.Remove(store, k2)

	got, _ := q.Pop(store)
	require.Equal(t, k1, got)
	got, _ = q.Pop(store)
	require.Equal(t, k3, got)
	require.True(t, q.IsEmpty())

	require.True(t, q.Push(store, k2), "removed key must be re-pushable")
}
