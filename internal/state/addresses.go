package state

import (
	"context"
	"net"
	"net/netip"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/1ureka/uip/internal/util"
)

// mapConcurrency limits parallel external mapping queries per discovery.
const mapConcurrency = 4

// LocalAddress is one usable address of a local interface.
type LocalAddress struct {
	Interface string     `json:"interface"`
	Internal  netip.Addr `json:"internal"`

	// External is the address the outside world sees for Internal, when an
	// ExternalMapper could learn it.
	External *netip.AddrPort `json:"external,omitempty"`
}

// Interface is one enumerated network interface.
type Interface struct {
	Name     string
	Up       bool
	Loopback bool
	Addrs    []netip.Addr
}

// InterfaceLister enumerates local network interfaces.
type InterfaceLister func() ([]Interface, error)

// ExternalMapper learns the externally visible address for a local address.
type ExternalMapper interface {
	MapAddress(ctx context.Context, internal netip.Addr) (netip.AddrPort, error)
}

// SystemInterfaces lists the operating system's interfaces. Addresses that
// are not IP addresses are left out.
func SystemInterfaces() ([]Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	out := make([]Interface, 0, len(ifaces))
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			util.LogDebug("skipping interface %s: %v", iface.Name, err)
			continue
		}
		entry := Interface{
			Name:     iface.Name,
			Up:       iface.Flags&net.FlagUp != 0,
			Loopback: iface.Flags&net.FlagLoopback != 0,
		}
		for _, a := range addrs {
			var ip net.IP
			switch v := a.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			default:
				continue
			}
			if addr, ok := netip.AddrFromSlice(ip); ok {
				entry.Addrs = append(entry.Addrs, addr.Unmap())
			}
		}
		out = append(out, entry)
	}
	return out, nil
}

// DiscoverAddresses rescans local interfaces and replaces the cached address
// list. Loopback and down interfaces are skipped. If enumeration fails the
// previous list is kept. Scanning and external mapping run outside the lock.
func (s *State) DiscoverAddresses(ctx context.Context) {
	ifaces, err := s.opts.Interfaces()
	if err != nil {
		util.LogWarning("unable to enumerate interfaces: %v", err)
		return
	}

	var addrs []LocalAddress
	for _, iface := range ifaces {
		if iface.Loopback || !iface.Up {
			continue
		}
		for _, a := range iface.Addrs {
			if !a.Is4() && !a.Is6() {
				continue
			}
			addrs = append(addrs, LocalAddress{Interface: iface.Name, Internal: a})
		}
	}

	if s.opts.Mapper != nil {
		s.mapExternal(ctx, addrs)
	}

	s.mu.Lock()
	s.addresses = addrs
	s.mu.Unlock()
}

// mapExternal fills External for every global unicast address it can map.
// Failures leave External unset.
func (s *State) mapExternal(ctx context.Context, addrs []LocalAddress) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(mapConcurrency)

	for i := range addrs {
		a := &addrs[i]
		if !a.Internal.IsGlobalUnicast() || a.Internal.IsLinkLocalUnicast() {
			continue
		}
		g.Go(func() error {
			start := time.Now()
			ext, err := s.opts.Mapper.MapAddress(gctx, a.Internal)
			if err != nil {
				util.LogDebug("no external mapping for %s (%s): %v", a.Internal, a.Interface, err)
				return nil
			}
			util.LogDebug("%s maps to %s (%s)", a.Internal, ext, time.Since(start).Round(time.Millisecond))
			a.External = &ext
			return nil
		})
	}
	g.Wait()
}

// Addresses returns a copy of the cached local addresses.
func (s *State) Addresses() []LocalAddress {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]LocalAddress(nil), s.addresses...)
}
