package autocert

import (
	"context"
	"net"
	"testing"
	"time"

	"golang.org/x/crypto/acme/autocert"

	"github.com/streamux/h2mux/bridge/fasthttp2"
	"github.com/valyala/fasthttp"
)

func TestServeDispatchesPlainConnectionsUntilCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, ln, fasthttp2.ServerOpts{
			Handler: func(c *fasthttp.RequestCtx) {
				c.SetStatusCode(200)
			},
		})
	}()

	// Serve accepts non-TLS conns (the type assertion to *tls.Conn just
	// fails and falls through) and tries the HTTP/2 handshake on them;
	// a bare dial with no preface simply fails that handshake and the
	// connection is dropped, which is enough to prove the accept loop
	// runs without needing a real TLS listener in this test.
	c, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	c.Close()

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected Serve to return nil after cancellation, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after context cancellation")
	}
}

func TestListenerDefaultsCacheDir(t *testing.T) {
	ln, m, err := Listener("127.0.0.1:0", Config{Hosts: []string{"example.com"}})
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	if m == nil {
		t.Fatal("expected a non-nil autocert.Manager")
	}
	if dir, ok := m.Cache.(autocert.DirCache); !ok || dir != "./certs" {
		t.Fatalf("expected the cache to default to ./certs, got %v", m.Cache)
	}
}
