package http2

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPrioritizeReserveCapacityWithinWindow(t *testing.T) {
	store := NewStore()
	p := NewPrioritize(1000)
	key := store.Insert(NewStream(1, 0, 0))

	p.ReserveCapacity(store, key, 150)

	require.EqualValues(t, 150, store.Resolve(key).sendFlow.Available())

	got, ok := p.PopFrame(store)
	require.True(t, ok)
	require.Equal(t, key, got)
}

func TestPrioritizeQueuesOnInsufficientConnectionWindow(t *testing.T) {
	store := NewStore()
	p := NewPrioritize(50)
	key := store.Insert(NewStream(1, 0, 0))

	p.ReserveCapacity(store, key, 200)

	// Only 50 bytes of connection window exist, so only 50 of the
	// requested 200 can be granted right away.
	require.EqualValues(t, 50, store.Resolve(key).sendFlow.Available())

	got, ok := p.PopFrame(store)
	require.True(t, ok)
	require.Equal(t, key, got)

	require.NoError(t, p.AssignConnectionCapacity(store, 100))
	require.EqualValues(t, 150, store.Resolve(key).sendFlow.Available())
}

func TestPrioritizeClearQueueUnlinksStream(t *testing.T) {
	store := NewStore()
	p := NewPrioritize(1000)
	key := store.Insert(NewStream(1, 0, 0))

	p.QueueFrame(store, key)
	p.ClearQueue(store, key)

	_, ok := p.PopFrame(store)
	require.False(t, ok)
}
