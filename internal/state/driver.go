package state

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/1ureka/uip/internal/transport"
	"github.com/1ureka/uip/internal/util"
)

// handshakeTimeout bounds the TLS handshake of inbound links.
const handshakeTimeout = 10 * time.Second

// Run reconciles the state immediately and then every TickInterval until ctx
// is cancelled. Each tick compares desired with actual state, so a missed or
// failed step is simply retried on the next one. On return every transport
// has been closed.
func (s *State) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.TickInterval)
	defer ticker.Stop()

	defer s.Close()

	for {
		s.Tick(ctx)

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil
		}
	}
}

// Tick runs one reconciliation pass.
func (s *State) Tick(ctx context.Context) {
	s.DiscoverAddresses(ctx)
	s.ConnectToRelays(ctx)
	s.EnsureControlSocket(ctx)
}

// EnsureControlSocket binds the control socket unless it is already
// listening. Registrations received on it are applied to s.
func (s *State) EnsureControlSocket(ctx context.Context) {
	if s.opts.Control == nil || s.opts.Control.Listening() {
		return
	}
	if err := s.opts.Control.Open(ctx, s); err != nil {
		util.LogError("unable to open control socket: %v", err)
	}
}

// Serve accepts inbound peer links on ln until ctx is cancelled. Clients are
// identified by their certificate; accepted transports join the connection
// table like dialed ones.
func (s *State) Serve(ctx context.Context, ln net.Listener) error {
	if s.opts.LocalCertificate == nil {
		return errors.New("accepting links requires a local certificate")
	}
	resolver, ok := s.opts.Peers.(transport.CertificateResolver)
	if !ok {
		return errors.New("peer directory cannot resolve client certificates")
	}

	return transport.Serve(ctx, ln, transport.ServerConfig{
		Certificate:      *s.opts.LocalCertificate,
		Peers:            resolver,
		HandshakeTimeout: handshakeTimeout,
	}, s, func(tr *transport.Transport) {
		s.AddConnection(tr.PeerID(), tr)
	})
}
