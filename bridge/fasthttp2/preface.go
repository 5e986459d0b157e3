package fasthttp2

import (
	"bufio"
	"time"

	h2mux "github.com/streamux/h2mux"
)

// connPreface is the fixed 24-byte client connection preface.
//
// https://tools.ietf.org/html/rfc7540#section-3.5
var connPreface = []byte("PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n")

// DefaultPingInterval is used when ConnOpts.PingInterval is left at its
// zero value.
const DefaultPingInterval = 10 * time.Second

// WritePreface writes the client connection preface to bw. It does not
// flush.
func WritePreface(bw *bufio.Writer) error {
	_, err := bw.Write(connPreface)
	return err
}

// ReadPreface reads and validates the client connection preface from br.
func ReadPreface(br *bufio.Reader) error {
	b := make([]byte, len(connPreface))
	if _, err := readFull(br, b); err != nil {
		return err
	}
	for i := range b {
		if b[i] != connPreface[i] {
			return h2mux.ErrBadPreface
		}
	}
	return nil
}

func readFull(br *bufio.Reader, b []byte) (int, error) {
	n := 0
	for n < len(b) {
		m, err := br.Read(b[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
