package http2

// Deque is a FIFO queue of buffered DATA frame chunks, one per stream
// direction (Stream.pendingSend / Stream.pendingRecv). It exists so a
// stream can have more body bytes queued up than currently fit in its
// flow-control window: bytes sit here until prioritize can claim window
// for them, or until the application reads them off the receive side.
//
// A Deque owns the *Data values it holds; callers must not release a
// *Data back to its pool after pushing it here, and must ReleaseFrame it
// themselves once PopFront has handed it back.
type Deque struct {
	items []*Data
}

// PushBack appends a chunk to the tail of the queue.
func (q *Deque) PushBack(d *Data) {
	q.items = append(q.items, d)
}

// PopFront removes and returns the chunk at the head of the queue, or nil
// if the queue is empty.
func (q *Deque) PopFront() *Data {
	if len(q.items) == 0 {
		return nil
	}
	d := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return d
}

// PushFront pushes a chunk back onto the head of the queue, used when a
// DATA frame is split on a MAX_FRAME_SIZE or flow-control boundary and
// the unsent residual must be retried before anything queued behind it.
func (q *Deque) PushFront(d *Data) {
	q.items = append(q.items, nil)
	copy(q.items[1:], q.items)
	q.items[0] = d
}

// Front returns the head chunk without removing it, or nil if empty.
func (q *Deque) Front() *Data {
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

// Len returns the number of buffered chunks.
func (q *Deque) Len() int {
	return len(q.items)
}

// ByteLen returns the total buffered byte count across all chunks.
func (q *Deque) ByteLen() int {
	n := 0
	for _, d := range q.items {
		n += d.Len()
	}
	return n
}

// Clear drops all buffered chunks, releasing each back to its pool.
func (q *Deque) Clear() {
	for _, d := range q.items {
		ReleaseFrame(d)
	}
	q.items = q.items[:0]
}
