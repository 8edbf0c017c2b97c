// Package transport implements one authenticated, multiplexed TLS link to a
// remote peer. Frames for many channels share the link; outbound frames go
// through a bounded queue drained by a single writer, inbound frames are
// decoded by a single reader and handed to a Deliverer in wire order.
package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/1ureka/uip/internal/protocol"
	"github.com/1ureka/uip/internal/util"
)

var (
	// ErrConnectFailure wraps TCP and TLS setup errors.
	ErrConnectFailure = errors.New("connect failed")

	// ErrClosed is returned when sending on a transport that has been torn down.
	ErrClosed = errors.New("transport closed")
)

// Deliverer receives the Data frames decoded by a Transport.
type Deliverer interface {
	DeliverFrame(peerID string, channel uint16, payload []byte)
}

// DialConfig describes an outbound link.
type DialConfig struct {
	PeerID  string
	Address string

	// Certificate is the only certificate the remote side may present.
	Certificate *x509.Certificate

	// ClientCertificate is presented to the remote side when set.
	ClientCertificate *tls.Certificate

	// Timeout bounds TCP connect plus TLS handshake. Zero means only the
	// context deadline applies.
	Timeout time.Duration
}

// ServerConfig describes the accepting side of a link.
type ServerConfig struct {
	Certificate tls.Certificate
	Peers       CertificateResolver

	// HandshakeTimeout bounds the TLS handshake. Zero means no limit.
	HandshakeTimeout time.Duration
}

// Transport is one TLS connection to a peer.
//
// Its lifecycle is governed by the connection and the context passed at
// construction time: a read or write failure, a protocol violation, Close, or
// cancelling the context tears it down. There is no reconnect.
type Transport struct {
	id     string
	peerID string
	conn   net.Conn

	sender    *sender
	deliverer Deliverer

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	mu        sync.Mutex
	err       error
}

// Dial opens a TCP connection to cfg.Address, performs a TLS 1.2 client
// handshake that accepts only cfg.Certificate, and starts the transport.
// The transport lives until ctx is cancelled or the link fails.
func Dial(ctx context.Context, cfg DialConfig, d Deliverer) (*Transport, error) {
	if cfg.Certificate == nil {
		return nil, fmt.Errorf("%w: no pinned certificate for %s", ErrConnectFailure, cfg.PeerID)
	}

	dialer := &net.Dialer{Timeout: cfg.Timeout}
	raw, err := dialer.DialContext(ctx, "tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: tcp %s: %w", ErrConnectFailure, cfg.Address, err)
	}

	conn := tls.Client(raw, clientTLSConfig(cfg.Certificate, cfg.ClientCertificate))
	if err := handshake(ctx, conn, raw, cfg.Timeout); err != nil {
		raw.Close()
		return nil, fmt.Errorf("%w: tls %s: %w", ErrConnectFailure, cfg.Address, err)
	}

	return newTransport(ctx, cfg.PeerID, conn, d), nil
}

// Accept performs the server side of the TLS handshake on an inbound
// connection. The remote peer id is the directory entry whose certificate
// the client presented.
func Accept(ctx context.Context, raw net.Conn, cfg ServerConfig, d Deliverer) (*Transport, error) {
	conn := tls.Server(raw, serverTLSConfig(cfg.Certificate, cfg.Peers))
	if err := handshake(ctx, conn, raw, cfg.HandshakeTimeout); err != nil {
		raw.Close()
		return nil, fmt.Errorf("%w: tls from %s: %w", ErrConnectFailure, raw.RemoteAddr(), err)
	}

	certs := conn.ConnectionState().PeerCertificates
	if len(certs) == 0 {
		conn.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectFailure, errNoPeerCertificate)
	}
	peerID, ok := cfg.Peers.LookupCertificate(certs[0].Raw)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("%w: unknown client certificate from %s", ErrConnectFailure, raw.RemoteAddr())
	}

	return newTransport(ctx, peerID, conn, d), nil
}

// handshake runs the TLS handshake with an optional deadline on the raw
// connection, cleared again on success.
func handshake(ctx context.Context, conn *tls.Conn, raw net.Conn, timeout time.Duration) error {
	if timeout > 0 {
		raw.SetDeadline(time.Now().Add(timeout))
	}
	if err := conn.HandshakeContext(ctx); err != nil {
		return err
	}
	if timeout > 0 {
		raw.SetDeadline(time.Time{})
	}
	return nil
}

// newTransport wraps an established connection and starts the writer and
// reader goroutines.
func newTransport(ctx context.Context, peerID string, conn net.Conn, d Deliverer) *Transport {
	tCtx, tCancel := context.WithCancel(ctx)

	t := &Transport{
		id:        uuid.NewString()[:8],
		peerID:    peerID,
		conn:      conn,
		deliverer: d,
		ctx:       tCtx,
		cancel:    tCancel,
	}

	t.sender = newSender(tCtx, conn, t.closeWithError)
	util.Stats.AddTransport()
	util.LogInfo("[%s] transport to %s established (%s)", t.id, peerID, conn.RemoteAddr())

	// Parent cancellation must unblock the reader.
	go func() {
		<-tCtx.Done()
		t.closeWithError(ErrClosed)
	}()

	go t.readLoop()

	return t
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// ID returns a short random identifier used in log lines.
func (t *Transport) ID() string { return t.id }

// PeerID returns the remote peer's id.
func (t *Transport) PeerID() string { return t.peerID }

// RemoteAddr returns the remote network address.
func (t *Transport) RemoteAddr() net.Addr { return t.conn.RemoteAddr() }

// Done returns a channel that is closed when the Transport is torn down.
func (t *Transport) Done() <-chan struct{} {
	return t.ctx.Done()
}

// Alive reports whether the Transport has not been torn down yet.
func (t *Transport) Alive() bool {
	return t.ctx.Err() == nil
}

// Err returns the error that tore the Transport down, or nil while it is alive.
func (t *Transport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Close tears the Transport down.
func (t *Transport) Close() error {
	t.closeWithError(ErrClosed)
	return nil
}

// closeWithError records the first teardown cause, cancels the transport
// context and closes the connection. Later calls are no-ops.
func (t *Transport) closeWithError(err error) {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.err = err
		t.mu.Unlock()

		t.cancel()
		t.conn.Close()
		util.Stats.RemoveTransport()

		switch {
		case errors.Is(err, ErrClosed), util.IsExpectedCloseError(err):
			util.LogInfo("[%s] transport to %s closed", t.id, t.peerID)
		case errors.Is(err, protocol.ErrUnknownFrameType):
			util.LogError("[%s] protocol violation from %s: %v", t.id, t.peerID, err)
		default:
			util.LogWarning("[%s] transport to %s failed: %v", t.id, t.peerID, err)
		}
	})
}

// ---------------------------------------------------------------------------
// Data
// ---------------------------------------------------------------------------

// SendFrame enqueues a Data frame. It blocks while the outbound queue is full
// and fails with ErrClosed once the Transport is torn down.
func (t *Transport) SendFrame(ctx context.Context, channel uint16, payload []byte) error {
	if len(payload) > protocol.MaxPayloadSize {
		return fmt.Errorf("%w: %d bytes", protocol.ErrPayloadTooLarge, len(payload))
	}
	return t.sender.send(ctx, t.ctx, protocol.Data(channel, payload))
}

// SendPing enqueues a Ping frame.
func (t *Transport) SendPing(ctx context.Context) error {
	return t.sender.send(ctx, t.ctx, protocol.Ping())
}

// readLoop decodes frames until the stream ends or violates the protocol.
// Data frames are handed to the deliverer in wire order; Ping and Pong are
// only logged.
func (t *Transport) readLoop() {
	r := protocol.NewReader(t.conn)
	for {
		f, err := r.ReadFrame()
		if err != nil {
			t.closeWithError(err)
			return
		}

		switch f.Type {
		case protocol.TypePing, protocol.TypePong:
			util.LogDebug("[%s] %s from %s", t.id, f.Type, t.peerID)
		case protocol.TypeData:
			util.Stats.AddRecv(len(f.Payload))
			t.deliverer.DeliverFrame(t.peerID, f.Channel, f.Payload)
		}
	}
}
