// Package peerdir holds what the daemon knows about remote peers: where to
// reach them and which certificate they must present.
package peerdir

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
)

// Record describes one remote peer. The first address is the canonical
// dial target.
type Record struct {
	Addresses   []string
	Certificate *x509.Certificate
}

// Directory is the read side consumed by the daemon state.
type Directory interface {
	Get(id string) (Record, bool)
}

// Static is an in-memory directory populated from configuration.
type Static struct {
	mu     sync.RWMutex
	peers  map[string]Record
	byCert map[string]string
}

// NewStatic returns an empty directory.
func NewStatic() *Static {
	return &Static{
		peers:  make(map[string]Record),
		byCert: make(map[string]string),
	}
}

// Add inserts or replaces the record for id. Every address must be a
// host:port pair.
func (s *Static) Add(id string, rec Record) error {
	if id == "" {
		return errors.New("peer id is empty")
	}
	for _, addr := range rec.Addresses {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return fmt.Errorf("peer %s: invalid address %q: %w", id, addr, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.peers[id]; ok && old.Certificate != nil {
		delete(s.byCert, string(old.Certificate.Raw))
	}
	s.peers[id] = rec
	if rec.Certificate != nil {
		s.byCert[string(rec.Certificate.Raw)] = id
	}
	return nil
}

// Get returns the record for id.
func (s *Static) Get(id string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.peers[id]
	return rec, ok
}

// LookupCertificate returns the id of the peer pinned to the DER-encoded
// certificate raw.
func (s *Static) LookupCertificate(raw []byte) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byCert[string(raw)]
	return id, ok
}

// Len returns the number of known peers.
func (s *Static) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.peers)
}

// LoadCertificate reads the first PEM CERTIFICATE block from path.
func LoadCertificate(path string) (*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseCertificate(data)
}

// ParseCertificate parses the first PEM CERTIFICATE block in data.
func ParseCertificate(data []byte) (*x509.Certificate, error) {
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return nil, errors.New("no PEM certificate found")
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse certificate: %w", err)
		}
		return cert, nil
	}
}
