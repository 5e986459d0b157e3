package fasthttp2

// Pseudo-header and well-known header names used when translating
// between HPACK header fields and fasthttp's Request/Response.
var (
	StringPath          = []byte(":path")
	StringStatus        = []byte(":status")
	StringAuthority     = []byte(":authority")
	StringScheme        = []byte(":scheme")
	StringMethod        = []byte(":method")
	StringContentLength = []byte("content-length")
	StringUserAgent     = []byte("user-agent")
)

// ToLower lowercases b in place. HPACK header names must be sent
// lowercase (RFC 7540 §8.1.2); fasthttp does not guarantee this for
// header names set by application code.
func ToLower(b []byte) []byte {
	for i := range b {
		if b[i] >= 'A' && b[i] <= 'Z' {
			b[i] |= 0x20
		}
	}
	return b
}

const (
	// H2TLSProto is the ALPN protocol id for HTTP/2 over TLS.
	H2TLSProto = "h2"
)
