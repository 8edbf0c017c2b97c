// Package state holds the daemon's shared state: live transports per peer,
// the (peer, channel) route table, discovered local addresses and the relay
// list. One coarse lock guards all of it; network I/O always happens outside
// the lock.
//
// Lock poisoning has no Go equivalent. A panic while the lock is held is not
// recovered and terminates the process, which is the intended response to a
// broken shared state.
package state

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/1ureka/uip/internal/control"
	"github.com/1ureka/uip/internal/peerdir"
	"github.com/1ureka/uip/internal/transport"
	"github.com/1ureka/uip/internal/util"
)

// ErrUnknownPeer is returned when a peer id has no directory record.
var ErrUnknownPeer = errors.New("unknown peer")

// Options configures a State.
type Options struct {
	// ID is this node's peer id.
	ID string

	// Peers resolves peer ids to addresses and pinned certificates.
	Peers peerdir.Directory

	// Relays are the peers a direct link is maintained to.
	Relays []string

	// LocalCertificate is presented on outbound links and required for
	// Serve. May be nil on a dial-only node.
	LocalCertificate *tls.Certificate

	DialTimeout  time.Duration
	TickInterval time.Duration

	// Control is the control socket ensured on every tick. Nil disables it.
	Control *control.Server

	// Mapper learns external addresses. Nil disables external discovery.
	Mapper ExternalMapper

	// Interfaces enumerates local network interfaces. Defaults to the
	// operating system's interface list.
	Interfaces InterfaceLister
}

// State is the daemon's shared state. All methods are safe for concurrent use.
type State struct {
	opts Options

	mu          sync.RWMutex
	connections map[string][]*transport.Transport
	routes      map[RouteKey]*route
	addresses   []LocalAddress
	relays      []string
	dialing     map[string]bool
}

// New returns an empty state. Nothing runs until Run or Tick is called.
func New(opts Options) *State {
	if opts.Peers == nil {
		opts.Peers = peerdir.NewStatic()
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = 5 * time.Second
	}
	if opts.Interfaces == nil {
		opts.Interfaces = SystemInterfaces
	}
	return &State{
		opts:        opts,
		connections: make(map[string][]*transport.Transport),
		routes:      make(map[RouteKey]*route),
		relays:      append([]string(nil), opts.Relays...),
		dialing:     make(map[string]bool),
	}
}

// ID returns this node's peer id.
func (s *State) ID() string { return s.opts.ID }

// Connect dials peerID at address, pinning cert, and records the resulting
// transport. The transport lives until ctx is cancelled or the link fails.
func (s *State) Connect(ctx context.Context, peerID, address string, cert *x509.Certificate) (*transport.Transport, error) {
	tr, err := transport.Dial(ctx, transport.DialConfig{
		PeerID:            peerID,
		Address:           address,
		Certificate:       cert,
		ClientCertificate: s.opts.LocalCertificate,
		Timeout:           s.opts.DialTimeout,
	}, s)
	if err != nil {
		return nil, err
	}
	s.AddConnection(peerID, tr)
	return tr, nil
}

// ConnectPeer dials peerID at the first address of its directory record,
// which is the canonical one.
func (s *State) ConnectPeer(ctx context.Context, peerID string) (*transport.Transport, error) {
	addr, rec, err := s.lookupPeer(peerID)
	if err != nil {
		return nil, err
	}
	return s.Connect(ctx, peerID, addr, rec.Certificate)
}

func (s *State) lookupPeer(peerID string) (string, peerdir.Record, error) {
	rec, ok := s.opts.Peers.Get(peerID)
	if !ok {
		return "", peerdir.Record{}, fmt.Errorf("%w: %s", ErrUnknownPeer, peerID)
	}
	if len(rec.Addresses) == 0 {
		return "", peerdir.Record{}, fmt.Errorf("peer %s has no known address", peerID)
	}
	return rec.Addresses[0], rec, nil
}

// AddConnection appends tr to the peer's transport list. Entries are never
// removed; dead transports are skipped when choosing the primary.
func (s *State) AddConnection(peerID string, tr *transport.Transport) {
	s.mu.Lock()
	s.connections[peerID] = append(s.connections[peerID], tr)
	n := len(s.connections[peerID])
	s.mu.Unlock()

	util.LogInfo("link to %s established via %s (%d on record)", peerID, tr.RemoteAddr(), n)
}

// primary returns the first live transport to peerID, or nil.
func (s *State) primary(peerID string) *transport.Transport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.primaryLocked(peerID)
}

func (s *State) primaryLocked(peerID string) *transport.Transport {
	for _, tr := range s.connections[peerID] {
		if tr.Alive() {
			return tr
		}
	}
	return nil
}

// SendFrame sends payload to channel on peerID's primary transport. It never
// reports failure: with no live transport the frame is counted and dropped.
// It blocks only while the transport's outbound queue is full.
func (s *State) SendFrame(ctx context.Context, peerID string, channel uint16, payload []byte) {
	tr := s.primary(peerID)
	if tr == nil {
		util.Stats.AddMiss()
		util.LogDebug("no live link to %s, dropping %d bytes on channel %d", peerID, len(payload), channel)
		return
	}
	if err := tr.SendFrame(ctx, channel, payload); err != nil {
		util.LogDebug("send to %s/%d failed: %v", peerID, channel, err)
	}
}

// DeliverFrame routes an inbound payload to the socket registered for
// (peerID, channel). It never blocks and never reports failure.
func (s *State) DeliverFrame(peerID string, channel uint16, payload []byte) {
	key := RouteKey{PeerID: peerID, Channel: channel}

	s.mu.RLock()
	r := s.routes[key]
	s.mu.RUnlock()

	if r == nil {
		util.Stats.AddMiss()
		util.LogDebug("no route for %s, dropping %d bytes", key, len(payload))
		return
	}
	r.deliver(payload)
}

// Close tears down every recorded transport.
func (s *State) Close() {
	s.mu.RLock()
	var all []*transport.Transport
	for _, list := range s.connections {
		all = append(all, list...)
	}
	s.mu.RUnlock()

	for _, tr := range all {
		tr.Close()
	}
}

// Snapshot is a point-in-time copy of the state for status reporting.
type Snapshot struct {
	ID          string           `json:"id"`
	Relays      []string         `json:"relays"`
	Connections []ConnectionInfo `json:"connections"`
	Routes      []RouteKey       `json:"routes"`
	Addresses   []LocalAddress   `json:"addresses"`
}

// ConnectionInfo describes one recorded transport.
type ConnectionInfo struct {
	PeerID  string `json:"peer"`
	ID      string `json:"id"`
	Remote  string `json:"remote"`
	Alive   bool   `json:"alive"`
	Primary bool   `json:"primary"`
}

// Snapshot copies the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		ID:          s.opts.ID,
		Relays:      append([]string{}, s.relays...),
		Connections: []ConnectionInfo{},
		Routes:      make([]RouteKey, 0, len(s.routes)),
		Addresses:   append([]LocalAddress{}, s.addresses...),
	}

	peers := make([]string, 0, len(s.connections))
	for id := range s.connections {
		peers = append(peers, id)
	}
	sort.Strings(peers)
	for _, id := range peers {
		primary := s.primaryLocked(id)
		for _, tr := range s.connections[id] {
			snap.Connections = append(snap.Connections, ConnectionInfo{
				PeerID:  id,
				ID:      tr.ID(),
				Remote:  tr.RemoteAddr().String(),
				Alive:   tr.Alive(),
				Primary: tr == primary,
			})
		}
	}

	for key := range s.routes {
		snap.Routes = append(snap.Routes, key)
	}
	sort.Slice(snap.Routes, func(i, j int) bool { return snap.Routes[i].less(snap.Routes[j]) })

	return snap
}
