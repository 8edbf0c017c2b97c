package nat

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/pion/stun/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startSTUNServer answers every binding request with the sender's address.
func startSTUNServer(t *testing.T) string {
	t.Helper()

	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, 1500)
		for {
			n, addr, err := conn.ReadFrom(buf)
			if err != nil {
				return
			}
			req := &stun.Message{Raw: append([]byte(nil), buf[:n]...)}
			if err := req.Decode(); err != nil {
				continue
			}
			udpAddr := addr.(*net.UDPAddr)
			res, err := stun.Build(
				stun.NewTransactionIDSetter(req.TransactionID),
				stun.BindingSuccess,
				&stun.XORMappedAddress{IP: udpAddr.IP, Port: udpAddr.Port},
				stun.Fingerprint,
			)
			if err != nil {
				continue
			}
			conn.WriteTo(res.Raw, addr)
		}
	}()

	return conn.LocalAddr().String()
}

func TestSTUNMapperMapsAddress(t *testing.T) {
	server := startSTUNServer(t)
	m := NewSTUNMapper([]string{server})

	mapped, err := m.MapAddress(context.Background(), netip.MustParseAddr("127.0.0.1"))
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("127.0.0.1"), mapped.Addr())
	assert.NotZero(t, mapped.Port())
}

func TestSTUNMapperFallsThroughServers(t *testing.T) {
	// Nothing answers on the first server; the second one does.
	dead, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	deadAddr := dead.LocalAddr().String()
	dead.Close()

	m := &STUNMapper{Servers: []string{deadAddr, startSTUNServer(t)}, Timeout: 500 * time.Millisecond}

	mapped, err := m.MapAddress(context.Background(), netip.MustParseAddr("127.0.0.1"))
	require.NoError(t, err)
	assert.True(t, mapped.IsValid())
}

func TestSTUNMapperNoServers(t *testing.T) {
	_, err := NewSTUNMapper(nil).MapAddress(context.Background(), netip.MustParseAddr("127.0.0.1"))
	assert.Error(t, err)
}
