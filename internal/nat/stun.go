// Package nat learns the externally visible address of local interface
// addresses by asking STUN servers.
package nat

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/pion/stun/v3"
)

// DefaultSTUNServers are public STUN servers usable when the configuration
// names none explicitly.
var DefaultSTUNServers = []string{
	"stun.l.google.com:19302",
	"stun1.l.google.com:19302",
}

// defaultTimeout bounds one binding request.
const defaultTimeout = 3 * time.Second

// STUNMapper asks each configured server in turn for the reflexive address
// of a UDP socket bound to the internal address. The first answer wins.
type STUNMapper struct {
	Servers []string
	Timeout time.Duration
}

// NewSTUNMapper returns a mapper for the given servers.
func NewSTUNMapper(servers []string) *STUNMapper {
	return &STUNMapper{Servers: servers, Timeout: defaultTimeout}
}

// MapAddress returns the external address a STUN server observes for
// traffic sent from internal.
func (m *STUNMapper) MapAddress(ctx context.Context, internal netip.Addr) (netip.AddrPort, error) {
	if len(m.Servers) == 0 {
		return netip.AddrPort{}, errors.New("no STUN servers configured")
	}

	var errs []error
	for _, server := range m.Servers {
		if err := ctx.Err(); err != nil {
			return netip.AddrPort{}, err
		}
		addr, err := m.query(ctx, internal, server)
		if err == nil {
			return addr, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", server, err))
	}
	return netip.AddrPort{}, errors.Join(errs...)
}

func (m *STUNMapper) query(ctx context.Context, internal netip.Addr, server string) (netip.AddrPort, error) {
	network := "udp4"
	if internal.Is6() && !internal.Is4In6() {
		network = "udp6"
	}

	timeout := m.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	dialer := &net.Dialer{
		Timeout:   timeout,
		LocalAddr: &net.UDPAddr{IP: internal.AsSlice(), Zone: internal.Zone()},
	}
	conn, err := dialer.DialContext(ctx, network, server)
	if err != nil {
		return netip.AddrPort{}, err
	}
	conn.SetDeadline(time.Now().Add(timeout))

	client, err := stun.NewClient(conn)
	if err != nil {
		conn.Close()
		return netip.AddrPort{}, err
	}
	defer client.Close()

	type result struct {
		addr netip.AddrPort
		err  error
	}
	done := make(chan result, 1)

	request := stun.MustBuild(stun.TransactionID, stun.BindingRequest)
	err = client.Start(request, func(res stun.Event) {
		var r result
		switch {
		case res.Error != nil:
			r.err = res.Error
		default:
			var xor stun.XORMappedAddress
			if err := xor.GetFrom(res.Message); err != nil {
				r.err = err
				break
			}
			ip, ok := netip.AddrFromSlice(xor.IP)
			if !ok {
				r.err = fmt.Errorf("invalid mapped address %v", xor.IP)
				break
			}
			r.addr = netip.AddrPortFrom(ip.Unmap(), uint16(xor.Port))
		}
		select {
		case done <- r:
		default:
		}
	})
	if err != nil {
		return netip.AddrPort{}, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-done:
		return r.addr, r.err
	case <-timer.C:
		return netip.AddrPort{}, errors.New("binding request timed out")
	case <-ctx.Done():
		return netip.AddrPort{}, ctx.Err()
	}
}
