package hpack

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	enc := NewEncoder()
	dec := NewDecoder()

	hf := AcquireHeaderField()
	defer ReleaseHeaderField(hf)
	hf.SetBytes([]byte(":method"), []byte("GET"))

	var block []byte
	block = enc.AppendHeader(block, hf, true)

	fields, err := dec.DecodeFull(block)
	if err != nil {
		t.Fatal(err)
	}
	if len(fields) != 1 {
		t.Fatalf("expected 1 field, got %d", len(fields))
	}
	defer ReleaseHeaderField(fields[0])

	if fields[0].Key() != ":method" || fields[0].Value() != "GET" {
		t.Fatalf("unexpected field: %s=%s", fields[0].Key(), fields[0].Value())
	}
}

func TestEncodeMultipleFieldsInOneBlock(t *testing.T) {
	enc := NewEncoder()
	dec := NewDecoder()

	a := AcquireHeaderField()
	defer ReleaseHeaderField(a)
	a.SetBytes([]byte(":path"), []byte("/"))

	b := AcquireHeaderField()
	defer ReleaseHeaderField(b)
	b.SetBytes([]byte("content-type"), []byte("application/json"))

	var block []byte
	block = enc.AppendHeader(block, a, true)
	block = enc.AppendHeader(block, b, true)

	fields, err := dec.DecodeFull(block)
	if err != nil {
		t.Fatal(err)
	}
	if len(fields) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(fields))
	}
	defer ReleaseHeaderField(fields[0])
	defer ReleaseHeaderField(fields[1])

	if fields[0].Value() != "/" || fields[1].Value() != "application/json" {
		t.Fatalf("unexpected decoded values: %s, %s", fields[0].Value(), fields[1].Value())
	}
}

func TestDecodeFullRejectsTruncatedBlock(t *testing.T) {
	dec := NewDecoder()

	// A literal (non-Huffman) header name whose multi-byte length prefix
	// is cut off before it ends.
	truncated := []byte{0x00, 0x7f, 0xff}
	if _, err := dec.DecodeFull(truncated); err == nil {
		t.Fatal("expected an error decoding a truncated header block")
	}
}

func TestHeaderFieldResetClearsState(t *testing.T) {
	hf := AcquireHeaderField()
	hf.SetBytes([]byte("x-test"), []byte("value"))
	if hf.Empty() {
		t.Fatal("expected non-empty field before reset")
	}

	hf.Reset()
	if !hf.Empty() {
		t.Fatal("expected empty field after reset")
	}
	ReleaseHeaderField(hf)
}

func TestHeaderFieldSize(t *testing.T) {
	hf := AcquireHeaderField()
	defer ReleaseHeaderField(hf)
	hf.SetBytes([]byte("abc"), []byte("de"))

	if got, want := hf.Size(), 3+2+32; got != want {
		t.Fatalf("size mismatch: got %d, want %d", got, want)
	}
}

func TestHeaderFieldIsPseudo(t *testing.T) {
	hf := AcquireHeaderField()
	defer ReleaseHeaderField(hf)

	hf.SetBytes([]byte(":authority"), []byte("example.com"))
	if !hf.IsPseudo() {
		t.Fatal("expected :authority to be a pseudo header")
	}

	hf.SetBytes([]byte("authority"), []byte("example.com"))
	if hf.IsPseudo() {
		t.Fatal("did not expect authority (no colon) to be a pseudo header")
	}
}
