package http2

// Key identifies a Stream inside a Store. It is stable for the lifetime
// of the stream and is what the four intrusive queues below store as
// their link field, avoiding a second allocation per queue the way a
// pointer-chasing linked list would need.
type Key uint32

// noKey is the queue terminator, playing the role of Rust's Option<Key>
// without a second field.
const noKey Key = ^Key(0)

type slabEntry struct {
	stream *Stream
	inUse  bool
	free   Key // next free slot when inUse is false
}

// Store is the slab allocator behind every live Stream on a connection,
// grounded on the h2 crate's Store/slab::Slab pairing: streams are looked
// up by id during frame dispatch, but every queue in Prioritize and Send
// (see prioritize.go, send.go) walks them by Key to avoid a map lookup per
// queue hop.
type Store struct {
	slab     []slabEntry
	freeHead Key
	ids      map[uint32]Key
}

// NewStore builds an empty Store.
func NewStore() *Store {
	return &Store{freeHead: noKey, ids: make(map[uint32]Key)}
}

// Insert allocates a Key for stream and indexes it by its id.
func (st *Store) Insert(stream *Stream) Key {
	var k Key
	if st.freeHead != noKey {
		k = st.freeHead
		st.freeHead = st.slab[k].free
		st.slab[k] = slabEntry{stream: stream, inUse: true}
	} else {
		k = Key(len(st.slab))
		st.slab = append(st.slab, slabEntry{stream: stream, inUse: true})
	}
	st.ids[stream.id] = k
	return k
}

// Resolve returns the Stream for k. It panics if k does not refer to a
// live entry, matching the slab's "index is always valid" invariant: a
// Key only ever comes from Insert or Find, and Remove callers must stop
// using the Key afterward.
func (st *Store) Resolve(k Key) *Stream {
	e := &st.slab[k]
	if !e.inUse {
		panic("h2mux: resolved a stale store key")
	}
	return e.stream
}

// Find looks up the Key for a stream id.
func (st *Store) Find(id uint32) (Key, bool) {
	k, ok := st.ids[id]
	return k, ok
}

// FindStream is a convenience wrapper combining Find and Resolve.
func (st *Store) FindStream(id uint32) (*Stream, bool) {
	k, ok := st.Find(id)
	if !ok {
		return nil, false
	}
	return st.Resolve(k), true
}

// Remove deallocates k, freeing its slot for reuse. The caller must
// already have removed the stream from every Queue it was linked into.
func (st *Store) Remove(k Key) {
	e := &st.slab[k]
	delete(st.ids, e.stream.id)
	e.stream = nil
	e.inUse = false
	e.free = st.freeHead
	st.freeHead = k
}

// Len returns the number of live streams.
func (st *Store) Len() int {
	return len(st.ids)
}

// Next is implemented by the zero-size queue-selector types below. Each
// selects which pair of link fields on Stream a Queue[N] walks, the same
// role the h2 crate gives its four `impl store::Next for Next*` blocks.
type Next interface {
	index(s *Stream) Key
	setIndex(s *Stream, k Key)
	queued(s *Stream) bool
	setQueued(s *Stream, q bool)
}

// Queue is a singly linked intrusive FIFO over Streams held in a Store.
// "Intrusive" means the link fields live on Stream itself (chosen by N),
// so enqueuing costs no allocation and a stream can be cheaply checked
// for "already queued" before being pushed again.
type Queue[N Next] struct {
	head, tail Key
	sel        N
}

// NewQueue returns an empty Queue.
func NewQueue[N Next]() Queue[N] {
	return Queue[N]{head: noKey, tail: noKey}
}

// Push enqueues k, returning false if it was already queued.
func (q *Queue[N]) Push(store *Store, k Key) bool {
	s := store.Resolve(k)
	if q.sel.queued(s) {
		return false
	}

	q.sel.setQueued(s, true)
	q.sel.setIndex(s, noKey)

	if q.tail == noKey {
		q.head = k
	} else {
		q.sel.setIndex(store.Resolve(q.tail), k)
	}
	q.tail = k

	return true
}

// Pop dequeues and returns the head Key, or (noKey, false) if empty.
func (q *Queue[N]) Pop(store *Store) (Key, bool) {
	if q.head == noKey {
		return noKey, false
	}

	k := q.head
	s := store.Resolve(k)

	q.head = q.sel.index(s)
	if q.head == noKey {
		q.tail = noKey
	}

	q.sel.setQueued(s, false)
	q.sel.setIndex(s, noKey)

	return k, true
}

// IsEmpty reports whether the queue has no entries.
func (q *Queue[N]) IsEmpty() bool {
	return q.head == noKey
}

// Remove drops k from the queue, if present, without returning it
// through Pop. q must be walked linearly since the list is singly
// linked; used sparingly, e.g. when a stream is reset while queued.
func (q *Queue[N]) Remove(store *Store, k Key) {
	if q.head == noKey {
		return
	}

	if q.head == k {
		q.Pop(store)
		return
	}

	prev := q.head
	for prev != noKey {
		prevStream := store.Resolve(prev)
		next := q.sel.index(prevStream)
		if next == k {
			s := store.Resolve(k)
			afterK := q.sel.index(s)
			q.sel.setIndex(prevStream, afterK)
			if q.tail == k {
				q.tail = prev
			}
			q.sel.setQueued(s, false)
			q.sel.setIndex(s, noKey)
			return
		}
		prev = next
	}
}

// NextSend selects the pending-send queue link (frames a stream has
// buffered, waiting for Prioritize to write them out).
type NextSend struct{}

func (NextSend) index(s *Stream) Key           { return s.nextSend }
func (NextSend) setIndex(s *Stream, k Key)     { s.nextSend = k }
func (NextSend) queued(s *Stream) bool         { return s.isPendingSend }
func (NextSend) setQueued(s *Stream, q bool)   { s.isPendingSend = q }

// NextSendCapacity selects the pending-capacity queue link (streams
// waiting for connection-level window to free up).
type NextSendCapacity struct{}

func (NextSendCapacity) index(s *Stream) Key         { return s.nextSendCapacity }
func (NextSendCapacity) setIndex(s *Stream, k Key)   { s.nextSendCapacity = k }
func (NextSendCapacity) queued(s *Stream) bool       { return s.isPendingSendCap }
func (NextSendCapacity) setQueued(s *Stream, q bool) { s.isPendingSendCap = q }

// NextAccept selects the pending-accept queue link (streams the remote
// opened that the application hasn't Accept()ed yet).
type NextAccept struct{}

func (NextAccept) index(s *Stream) Key         { return s.nextAccept }
func (NextAccept) setIndex(s *Stream, k Key)   { s.nextAccept = k }
func (NextAccept) queued(s *Stream) bool       { return s.isPendingAccept }
func (NextAccept) setQueued(s *Stream, q bool) { s.isPendingAccept = q }

// NextWindowUpdate selects the pending-window-update queue link (streams
// that need an outbound WINDOW_UPDATE flushed).
type NextWindowUpdate struct{}

func (NextWindowUpdate) index(s *Stream) Key         { return s.nextWindowUpdate }
func (NextWindowUpdate) setIndex(s *Stream, k Key)   { s.nextWindowUpdate = k }
func (NextWindowUpdate) queued(s *Stream) bool       { return s.isPendingWinUpdate }
func (NextWindowUpdate) setQueued(s *Stream, q bool) { s.isPendingWinUpdate = q }
