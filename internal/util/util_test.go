package util

import (
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatBytes(t *testing.T) {
	cases := map[float64]string{
		0:           " 0.0   B",
		99:          "99.0   B",
		1536:        " 1.5 KiB",
		1024 * 1024: " 1.0 MiB",
	}
	for in, want := range cases {
		got := formatBytes(in)
		assert.Equal(t, want, got, "formatBytes(%v)", in)
		assert.Len(t, got, 8)
	}
}

func TestIsExpectedCloseError(t *testing.T) {
	assert.False(t, IsExpectedCloseError(nil))
	assert.True(t, IsExpectedCloseError(io.EOF))
	assert.True(t, IsExpectedCloseError(fmt.Errorf("read: %w", net.ErrClosed)))
	assert.True(t, IsExpectedCloseError(&net.OpError{Op: "write", Err: syscall.EPIPE}))
	assert.True(t, IsExpectedCloseError(&net.OpError{Op: "read", Err: syscall.ECONNRESET}))
	assert.False(t, IsExpectedCloseError(syscall.ECONNREFUSED))
	assert.False(t, IsExpectedCloseError(io.ErrUnexpectedEOF))
}

func TestRegisterStats(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, RegisterStats(reg))

	before := Stats.RoutingMisses.Load()
	Stats.AddMiss()

	families, err := reg.Gather()
	require.NoError(t, err)

	var found bool
	for _, mf := range families {
		if mf.GetName() != "uip_routing_misses_total" {
			continue
		}
		found = true
		require.Len(t, mf.GetMetric(), 1)
		assert.Equal(t, float64(before+1), mf.GetMetric()[0].GetCounter().GetValue())
	}
	assert.True(t, found, "uip_routing_misses_total not exported")

	// A second registration on the same registry is a duplicate.
	assert.Error(t, RegisterStats(reg))
}
