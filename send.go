package http2

// Send is the per-connection coordinator for everything this endpoint
// transmits: it owns stream-id allocation, the MAX_CONCURRENT_STREAMS
// budget, and delegates actual frame scheduling to Prioritize.
//
// Grounded on send.rs's Send<B,P>, with task::Waker-based blockedOpen
// replaced by a Notifier (see notify.go) and the Buffer<B> frame payload
// abstraction replaced by the concrete *Data/*Headers pooled frame types.
type Send struct {
	store *Store

	maxStreams    uint32 // 0 means unbounded
	numStreams    uint32
	nextStreamID  uint32
	initWindowSz  WindowSize
	blockedOpen   Notifier

	prioritize *Prioritize
}

// NewSend builds a Send coordinator. firstStreamID is 1 for a client
// (odd ids) or 2 for a server (even ids).
func NewSend(store *Store, firstStreamID uint32, initWindowSz WindowSize) *Send {
	return &Send{
		store:        store,
		nextStreamID: firstStreamID,
		initWindowSz: initWindowSz,
		prioritize:   NewPrioritize(initWindowSz),
	}
}

// SetMaxStreams sets SETTINGS_MAX_CONCURRENT_STREAMS as negotiated with
// the remote peer. 0 means unbounded.
func (sd *Send) SetMaxStreams(n uint32) {
	sd.maxStreams = n
}

// EnsureCanOpen reports ErrRejected if opening one more stream would
// exceed maxStreams.
func (sd *Send) EnsureCanOpen() error {
	if sd.maxStreams != 0 && sd.numStreams >= sd.maxStreams {
		return ErrRejected
	}
	return nil
}

// Open allocates the next local stream id, inserts a Stream for it into
// the store, and returns its Key. It fails with ErrRejected if the
// connection is already at its MAX_CONCURRENT_STREAMS budget.
func (sd *Send) Open() (Key, error) {
	if err := sd.EnsureCanOpen(); err != nil {
		return noKey, err
	}

	id := sd.nextStreamID
	sd.nextStreamID += 2

	stream := NewStream(id, sd.initWindowSz, sd.initWindowSz)
	key := sd.store.Insert(stream)

	sd.numStreams++
	stream.isCounted = true

	return key, nil
}

// SendHeaders transitions a stream to open (or half-closed-local) on a
// HEADERS frame and queues it for writing.
func (sd *Send) SendHeaders(key Key, endStream bool) error {
	stream := sd.store.Resolve(key)
	if err := stream.state.transitionSend(FrameHeaders, endStream); err != nil {
		return err
	}
	sd.prioritize.QueueFrame(sd.store, key)
	return nil
}

// SendTrailers queues a trailing (END_STREAM) HEADERS frame.
func (sd *Send) SendTrailers(key Key) error {
	return sd.SendHeaders(key, true)
}

// SendReset transitions the stream to closed and builds an RST_STREAM for
// the caller to write,
// reclaiming its slot in numStreams and returning its unused send-flow
// capacity to the connection pool. It is a no-op if the stream has
// already been reset, or is already closed with nothing left buffered:
// two calls to SendReset on the same stream must produce at most one
// RST_STREAM on the wire. The bool reports whether a frame was actually
// produced; the caller must not write or release anything when it is
// false.
func (sd *Send) SendReset(key Key, reason ErrorCode) (*RstStream, bool) {
	stream := sd.store.Resolve(key)
	if stream.resetSent || (stream.state.IsClosed() && stream.pendingSend.Len() == 0) {
		return nil, false
	}
	stream.resetSent = true

	reclaimed := stream.sendFlow.Available()

	stream.state = StateClosed
	sd.prioritize.ClearQueue(sd.store, key)
	sd.DecNumStreams(stream)
	stream.pendingSend.Clear()

	sd.prioritize.ReclaimCapacity(sd.store, reclaimed)

	rst := AcquireFrame(FrameResetStream).(*RstStream)
	rst.SetCode(reason)
	return rst, true
}

// SendData buffers body bytes for key and requests send capacity for
// them from Prioritize. It does not block; call PollCapacity/Capacity to
// learn how much of sz can actually be written right now.
func (sd *Send) SendData(key Key, data *Data) error {
	stream := sd.store.Resolve(key)
	if !stream.state.IsSendStreaming() {
		if stream.state.IsLocalClosed() {
			return ErrInactiveStream
		}
		return ErrUnexpectedFrameType
	}

	sz := WindowSize(data.Len())
	stream.pendingSend.PushBack(data)
	sd.prioritize.ReserveCapacity(sd.store, key, sz)

	if data.EndStream() {
		if err := stream.state.transitionSend(FrameData, true); err != nil {
			return err
		}
	}

	return nil
}

// ReserveCapacity is the entry point used by a caller that wants to send
// sz bytes but hasn't built the Data frame yet (e.g. streaming writers
// that reserve ahead of producing bytes).
func (sd *Send) ReserveCapacity(key Key, sz WindowSize) {
	sd.prioritize.ReserveCapacity(sd.store, key, sz)
}

// Capacity returns how many bytes of send-direction window key currently
// has available to use.
func (sd *Send) Capacity(key Key) WindowSize {
	return sd.store.Resolve(key).sendFlow.Available()
}

// PollCapacity blocks until key has at least one byte of send capacity,
// or the stream closes.
func (sd *Send) PollCapacity(key Key) WindowSize {
	stream := sd.store.Resolve(key)
	for stream.sendFlow.Available() <= 0 && !stream.state.IsLocalClosed() {
		stream.sendNotify.Wait()
		stream.sendNotify.Reset()
	}
	return stream.sendFlow.Available()
}

// RecvConnectionWindowUpdate applies a connection-level WINDOW_UPDATE.
func (sd *Send) RecvConnectionWindowUpdate(inc WindowSize) error {
	return sd.prioritize.AssignConnectionCapacity(sd.store, inc)
}

// RecvStreamWindowUpdate applies a stream-level WINDOW_UPDATE.
func (sd *Send) RecvStreamWindowUpdate(key Key, inc WindowSize) error {
	stream := sd.store.Resolve(key)
	if err := stream.sendFlow.IncWindow(inc); err != nil {
		return err
	}
	sd.prioritize.tryAssignCapacity(sd.store, key)
	stream.NotifySend()
	return nil
}

// ApplyRemoteSettings applies a SETTINGS frame's INITIAL_WINDOW_SIZE and
// MAX_CONCURRENT_STREAMS to every live stream and to future streams.
func (sd *Send) ApplyRemoteSettings(st *Settings) error {
	if maxStreams, ok := st.MaxConcurrentStreams(); ok {
		sd.SetMaxStreams(maxStreams)
	}

	newWindow := WindowSize(st.MaxWindowSize())
	delta := newWindow - sd.initWindowSz
	sd.initWindowSz = newWindow

	if delta == 0 {
		return nil
	}

	for id := range sd.store.ids {
		key, _ := sd.store.Find(id)
		stream := sd.store.Resolve(key)
		if delta > 0 {
			if err := stream.sendFlow.IncWindow(delta); err != nil {
				return err
			}
		} else {
			if err := stream.sendFlow.DecWindow(-delta); err != nil {
				return err
			}
		}
		stream.NotifySend()
	}

	return nil
}

// EnsureNotIdle rejects frames referencing a stream id this endpoint
// never opened and is not in the process of opening, per RFC 7540
// §5.1.1's idle-stream protocol error.
func (sd *Send) EnsureNotIdle(id uint32) error {
	if id >= sd.nextStreamID {
		return NewError(ProtocolError, "stream id references an idle stream")
	}
	return nil
}

// DecNumStreams decrements the open-stream count exactly once per
// stream, guarding against a double decrement if SendReset is called
// twice for the same stream.
func (sd *Send) DecNumStreams(stream *Stream) {
	if stream.isCounted {
		sd.numStreams--
		stream.isCounted = false
	}
}

// PollComplete drains every stream with buffered frames, writing as many
// as currently fit within stream-level flow control and the codec's
// negotiated MAX_FRAME_SIZE, splitting a chunk across multiple DATA
// frames when it doesn't fit in one, and flushes codec. It is the
// single-task write loop's per-iteration work unit.
func (sd *Send) PollComplete(codec Codec) error {
	for {
		key, ok := sd.prioritize.PopFrame(sd.store)
		if !ok {
			break
		}

		stream := sd.store.Resolve(key)
		chunk := stream.pendingSend.Front()
		if chunk == nil {
			continue
		}

		sz := WindowSize(chunk.Len())
		send := sz
		if maxLen := WindowSize(codec.MaxSendFrameSize()); send > maxLen {
			send = maxLen
		}
		if streamCap := stream.sendFlow.Available(); send > streamCap {
			send = streamCap
		}

		if send == 0 && sz != 0 {
			// No stream-level capacity right now; leave the chunk at the
			// front of the queue and stop servicing this stream until a
			// WINDOW_UPDATE hands it more (tryAssignCapacity re-queues it
			// then). Zero-length chunks always pass, since send == sz == 0.
			continue
		}

		var toWrite *Data
		if send == sz {
			stream.pendingSend.PopFront()
			toWrite = chunk
		} else {
			toWrite = AcquireFrame(FrameData).(*Data)
			toWrite.SetData(chunk.Data()[:send])

			remainder := append([]byte(nil), chunk.Data()[send:]...)
			chunk.SetData(remainder)
			stream.pendingSend.PopFront()
			stream.pendingSend.PushFront(chunk)
		}

		if err := sd.prioritize.flow.SendData(send); err != nil {
			return err
		}
		if err := stream.sendFlow.SendData(send); err != nil {
			return err
		}

		frh := AcquireFrameHeader()
		frh.SetStream(stream.id)
		frh.SetBody(toWrite)

		if err := codec.StartSend(frh); err != nil {
			if partial := codec.TakeLastDataFrame(); partial != nil {
				if body, ok := partial.Body().(*Data); ok {
					stream.pendingSend.PushFront(body)
				}
				partial.Reset()
				frameHeaderPool.Put(partial)
				sd.prioritize.ReclaimFrame(sd.store, key)
				continue
			}
			ReleaseFrameHeader(frh)
			return err
		}
		ReleaseFrameHeader(frh)

		if stream.pendingSend.Len() > 0 {
			sd.prioritize.ReclaimFrame(sd.store, key)
		}
	}

	return codec.PollComplete()
}
