// Package hpack adapts golang.org/x/net/http2/hpack (the ecosystem's
// maintained HPACK implementation) to the HeaderField pool type the rest
// of this module passes around, rather than reviving the teacher's
// hand-rolled encoder/decoder.
package hpack

import (
	"golang.org/x/net/http2/hpack"
)

// Encoder compresses header fields for an outbound HEADERS/CONTINUATION
// block. It is not safe for concurrent use; each connection owns one,
// matching the teacher's one-encoder-per-Conn layout.
type Encoder struct {
	enc *hpack.Encoder
	buf sliceBuffer
}

// NewEncoder returns an Encoder with the RFC 7541 §4.2 default dynamic
// table size.
func NewEncoder() *Encoder {
	e := &Encoder{}
	e.enc = hpack.NewEncoder(&e.buf)
	return e
}

// SetMaxTableSize applies a SETTINGS_HEADER_TABLE_SIZE negotiated with the
// peer to the encoder's dynamic table.
func (e *Encoder) SetMaxTableSize(size int) {
	e.enc.SetMaxDynamicTableSize(uint32(size))
}

// AppendHeader encodes hf and appends its HPACK representation to dst.
// When store is false the field is encoded with "never index", per
// RFC 7541 §6.2.3, so the decoder's dynamic table isn't polluted by
// one-off values (e.g. :path on a unique request).
func (e *Encoder) AppendHeader(dst []byte, hf *HeaderField, store bool) []byte {
	e.buf.reset()

	_ = e.enc.WriteField(hpack.HeaderField{
		Name:      hf.Key(),
		Value:     hf.Value(),
		Sensitive: !store || hf.IsSensible(),
	})

	return append(dst, e.buf.b...)
}

// Decoder decompresses an inbound header block back into HeaderFields.
// Like Encoder, one per connection, since the dynamic table is
// connection-scoped state.
type Decoder struct {
	dec    *hpack.Decoder
	fields []*HeaderField
}

// NewDecoder returns a Decoder with the RFC 7541 §4.2 default dynamic
// table size.
func NewDecoder() *Decoder {
	d := &Decoder{}
	d.dec = hpack.NewDecoder(defaultHeaderTableSize, d.emit)
	return d
}

const defaultHeaderTableSize = 4096

func (d *Decoder) emit(f hpack.HeaderField) {
	hf := AcquireHeaderField()
	hf.Set(f.Name, f.Value)
	d.fields = append(d.fields, hf)
}

// SetMaxTableSize applies a SETTINGS_HEADER_TABLE_SIZE we advertised to
// the decoder's dynamic table.
func (d *Decoder) SetMaxTableSize(size int) {
	d.dec.SetMaxDynamicTableSize(uint32(size))
}

// DecodeFull decodes a complete header block (already reassembled from
// any HEADERS+CONTINUATION sequence) into its HeaderFields. Ownership of
// the returned fields transfers to the caller, who must
// ReleaseHeaderField each one.
//
// A malformed block returns the decoder's error as-is; DecodeFull does not
// classify it as stream- or connection-level. A block that desynchronizes
// the dynamic table corrupts every subsequent header block on the
// connection, so escalating it to a connection error per RFC 7541 §4.3 is
// left to the caller.
func (d *Decoder) DecodeFull(data []byte) ([]*HeaderField, error) {
	d.fields = d.fields[:0]

	if _, err := d.dec.Write(data); err != nil {
		return nil, err
	}
	if err := d.dec.Close(); err != nil {
		return nil, err
	}

	out := d.fields
	d.fields = nil
	return out, nil
}

// sliceBuffer is a minimal io.Writer over a reusable byte slice, avoiding
// a bytes.Buffer allocation per encoded field the way hpack.Encoder's
// constructor otherwise requires.
type sliceBuffer struct {
	b []byte
}

func (s *sliceBuffer) Write(p []byte) (int, error) {
	s.b = append(s.b, p...)
	return len(p), nil
}

func (s *sliceBuffer) reset() {
	s.b = s.b[:0]
}
