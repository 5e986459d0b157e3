// Package autocert wires the fasthttp2 bridge to Let's Encrypt via
// golang.org/x/crypto/acme/autocert, so a server can terminate real TLS
// without a hand-managed certificate.
package autocert

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"

	"golang.org/x/crypto/acme"
	"golang.org/x/crypto/acme/autocert"

	"github.com/streamux/h2mux/bridge/fasthttp2"
)

// Config configures an ACME-backed HTTP/2 listener.
type Config struct {
	// Hosts are the domains autocert is allowed to request certificates
	// for. Required.
	Hosts []string
	// CacheDir stores issued certificates between restarts. Defaults to
	// "./certs".
	CacheDir string
	// HTTPChallengeAddr serves the ACME HTTP-01 challenge and redirects
	// everything else to HTTPS. Empty disables it, relying on
	// TLS-ALPN-01 instead.
	HTTPChallengeAddr string
	// Server configures the per-connection HTTP/2 dispatcher.
	Server fasthttp2.ServerOpts
}

// Listener obtains a net.Listener that terminates TLS with
// autocert-managed certificates and negotiates HTTP/2 over ALPN.
func Listener(addr string, cfg Config) (net.Listener, *autocert.Manager, error) {
	cacheDir := cfg.CacheDir
	if cacheDir == "" {
		cacheDir = "./certs"
	}

	m := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(cfg.Hosts...),
		Cache:      autocert.DirCache(cacheDir),
	}

	tlsConfig := &tls.Config{
		GetCertificate: m.GetCertificate,
		NextProtos: []string{
			fasthttp2.H2TLSProto,
			acme.ALPNProto,
		},
		MinVersion: tls.VersionTLS12,
	}

	if cfg.HTTPChallengeAddr != "" {
		go func() {
			_ = (&http.Server{
				Addr:    cfg.HTTPChallengeAddr,
				Handler: m.HTTPHandler(nil),
			}).ListenAndServe()
		}()
	}

	ln, err := tls.Listen("tcp", addr, tlsConfig)
	if err != nil {
		return nil, nil, err
	}

	return ln, m, nil
}

// Serve accepts connections from ln, completes the HTTP/2 handshake on
// each, and dispatches requests to opts.Handler until ctx is canceled or
// ln.Accept fails.
func Serve(ctx context.Context, ln net.Listener, opts fasthttp2.ServerOpts) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		c, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}

		tlsConn, ok := c.(*tls.Conn)
		if ok {
			if err := tlsConn.HandshakeContext(ctx); err != nil {
				_ = c.Close()
				continue
			}
			if tlsConn.ConnectionState().NegotiatedProtocol != fasthttp2.H2TLSProto {
				// TLS-ALPN-01 challenge connections negotiate acme.ALPNProto
				// and are handled entirely inside the TLS handshake by
				// autocert's GetCertificate; nothing more to serve here.
				_ = c.Close()
				continue
			}
		}

		go func(c net.Conn) {
			sc := fasthttp2.NewServerConn(c, opts)
			if err := sc.Handshake(); err != nil {
				_ = c.Close()
				return
			}
			_ = sc.Serve()
		}(c)
	}
}

// ListenAndServe is the common case: obtain a listener and serve it until
// ctx is canceled.
func ListenAndServe(ctx context.Context, addr string, cfg Config) error {
	ln, _, err := Listener(addr, cfg)
	if err != nil {
		return err
	}
	return Serve(ctx, ln, cfg.Server)
}
