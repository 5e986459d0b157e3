package http2

// Prioritize is the outbound scheduling engine: it holds the queue of
// streams with frames ready to write (pendingSend), the queue of streams
// waiting on connection-level window (pendingCapacity), and the
// connection's own send-direction FlowControl. It has no notion of
// priority weights beyond FIFO order within each queue, matching the
// teacher's single writeLoop goroutine model rather than the h2 crate's
// weighted tree (the spec's Non-goals exclude priority-tree scheduling).
type Prioritize struct {
	pendingSend     Queue[NextSend]
	pendingCapacity Queue[NextSendCapacity]
	flow            FlowControl
}

// NewPrioritize builds a Prioritize with connWindow as the connection's
// initial send-direction window.
func NewPrioritize(connWindow WindowSize) *Prioritize {
	p := &Prioritize{
		pendingSend:     NewQueue[NextSend](),
		pendingCapacity: NewQueue[NextSendCapacity](),
	}
	p.flow.window = connWindow
	p.flow.available = connWindow
	return p
}

// QueueFrame marks stream as having a frame ready to write and enqueues
// it onto pendingSend if it isn't already there.
func (p *Prioritize) QueueFrame(store *Store, key Key) {
	p.pendingSend.Push(store, key)
}

// ReserveCapacity records that stream wants to send sz more bytes than it
// has already claimed, then immediately tries to satisfy as much of that
// as connection-level window allows.
func (p *Prioritize) ReserveCapacity(store *Store, key Key, sz WindowSize) {
	stream := store.Resolve(key)
	stream.requestedTx += sz
	p.tryAssignCapacity(store, key)
}

// tryAssignCapacity hands a stream connection-level send capacity, up to
// what it has requested and what the connection window has available
// (the stream's own send window does not limit the grant), then
// re-evaluates readiness against the stream's *total* buffered
// bytes rather than just this call's increment: a zero-length (or
// already fully granted) chunk is always eligible to send and must not
// get stuck waiting on a want-delta that happens to be zero. A stream
// that still wants more after this is queued onto pendingCapacity to be
// revisited the next time connection window frees up.
func (p *Prioritize) tryAssignCapacity(store *Store, key Key) {
	stream := store.Resolve(key)

	if want := stream.requestedTx - stream.sendFlow.available; want > 0 {
		grant := want
		if avail := p.flow.Available(); grant > avail {
			grant = avail
		}
		if grant > 0 {
			p.flow.ClaimCapacity(grant)
			stream.AssignCapacity(grant)
		}
	}

	// Ready to schedule a write if everything buffered fits in what's
	// already available (covers the zero-length chunk case, since
	// available is always >= 0), or if there's at least some capacity to
	// make partial progress on a DATA frame that will be split in
	// PollComplete.
	buffered := WindowSize(stream.pendingSend.ByteLen())
	if avail := stream.sendFlow.Available(); avail >= buffered || avail > 0 {
		stream.NotifySend()
		p.pendingSend.Push(store, key)
	}

	if stream.requestedTx > stream.sendFlow.available {
		p.pendingCapacity.Push(store, key)
	}
}

// AssignConnectionCapacity applies an inbound connection-level
// WINDOW_UPDATE, then walks pendingCapacity trying to satisfy streams
// that were blocked on it, in FIFO order.
func (p *Prioritize) AssignConnectionCapacity(store *Store, inc WindowSize) error {
	if err := p.flow.IncWindow(inc); err != nil {
		return err
	}
	p.flow.AssignCapacity(inc)

	for {
		key, ok := p.pendingCapacity.Pop(store)
		if !ok {
			break
		}
		p.tryAssignCapacity(store, key)
	}

	return nil
}

// PopFrame returns the next stream with a frame ready to write, or
// (noKey, false) if nothing is pending. The caller is responsible for
// re-queuing the stream via QueueFrame if it still has more buffered
// after popping one frame's worth.
func (p *Prioritize) PopFrame(store *Store) (Key, bool) {
	return p.pendingSend.Pop(store)
}

// ReclaimFrame re-enqueues a stream after PopFrame when only part of its
// buffered data could be written (e.g. the frame writer hit a
// MAX_FRAME_SIZE boundary), preserving FIFO fairness with streams queued
// behind it.
func (p *Prioritize) ReclaimFrame(store *Store, key Key) {
	p.pendingSend.Push(store, key)
}

// ReclaimCapacity returns sz bytes of send-direction window to the
// connection pool without touching the advertised window itself (unlike
// AssignConnectionCapacity, no WINDOW_UPDATE was actually received), then
// walks pendingCapacity so streams blocked behind the reset stream can
// make use of it.
func (p *Prioritize) ReclaimCapacity(store *Store, sz WindowSize) {
	if sz <= 0 {
		return
	}
	p.flow.AssignCapacity(sz)

	for {
		key, ok := p.pendingCapacity.Pop(store)
		if !ok {
			break
		}
		p.tryAssignCapacity(store, key)
	}
}

// ClearQueue removes key from both queues, used when a stream is reset
// and must stop being scheduled.
func (p *Prioritize) ClearQueue(store *Store, key Key) {
	p.pendingSend.Remove(store, key)
	p.pendingCapacity.Remove(store, key)
}
