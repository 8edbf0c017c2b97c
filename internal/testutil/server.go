package testutil

import (
	"crypto/tls"
	"net"
	"testing"
	"time"
)

// TLSServer is a loopback TLS 1.2 listener presenting a fixed certificate.
// Accepted connections are handed to the test through Accept.
type TLSServer struct {
	Addr string

	ln    net.Listener
	conns chan *tls.Conn
}

// NewTLSServer starts a server on 127.0.0.1 with an ephemeral port. When
// clientAuth is true, a client certificate is required but not verified.
func NewTLSServer(t testing.TB, cert *Certificate, clientAuth bool) *TLSServer {
	t.Helper()

	cfg := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		MaxVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert.TLS},
	}
	if clientAuth {
		cfg.ClientAuth = tls.RequireAnyClientCert
	}

	ln, err := tls.Listen("tcp", "127.0.0.1:0", cfg)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	s := &TLSServer{
		Addr:  ln.Addr().String(),
		ln:    ln,
		conns: make(chan *tls.Conn, 8),
	}

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			tlsConn := conn.(*tls.Conn)
			if err := tlsConn.Handshake(); err != nil {
				conn.Close()
				continue
			}
			s.conns <- tlsConn
		}
	}()

	t.Cleanup(func() { ln.Close() })
	return s
}

// Accept returns the next handshaken connection or fails the test.
func (s *TLSServer) Accept(t testing.TB) *tls.Conn {
	t.Helper()
	conn := RequireReceive(t, s.conns, 5*time.Second, "waiting for TLS client")
	t.Cleanup(func() { conn.Close() })
	return conn
}
