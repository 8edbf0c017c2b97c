package transport

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
)

var errNoPeerCertificate = errors.New("peer presented no certificate")

// CertificateResolver maps a DER-encoded certificate presented by a remote
// peer to that peer's id.
type CertificateResolver interface {
	LookupCertificate(raw []byte) (string, bool)
}

// clientTLSConfig builds the client side of a pinned TLS 1.2 link. The server
// must present exactly the pinned certificate; no CA chain or hostname is
// consulted. local, when set, is offered for mutual authentication.
func clientTLSConfig(pinned *x509.Certificate, local *tls.Certificate) *tls.Config {
	cfg := &tls.Config{
		MinVersion: tls.VersionTLS12,
		MaxVersion: tls.VersionTLS12,
		// Chain building is replaced by the byte comparison below.
		InsecureSkipVerify: true,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if len(rawCerts) == 0 {
				return errNoPeerCertificate
			}
			if !bytes.Equal(rawCerts[0], pinned.Raw) {
				return fmt.Errorf("certificate does not match pinned certificate for %s", pinned.Subject)
			}
			return nil
		},
	}
	if local != nil {
		cfg.Certificates = []tls.Certificate{*local}
	}
	return cfg
}

// serverTLSConfig builds the accepting side of a link. Clients must present a
// certificate that the resolver knows.
func serverTLSConfig(local tls.Certificate, peers CertificateResolver) *tls.Config {
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		MaxVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{local},
		ClientAuth:   tls.RequireAnyClientCert,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if len(rawCerts) == 0 {
				return errNoPeerCertificate
			}
			if _, ok := peers.LookupCertificate(rawCerts[0]); !ok {
				return errors.New("client certificate is not pinned for any known peer")
			}
			return nil
		},
	}
}
