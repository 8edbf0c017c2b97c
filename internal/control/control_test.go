package control

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/uip/internal/testutil"
)

type recordingRegistrar struct {
	regs chan Registration
	err  error
}

func newRecordingRegistrar() *recordingRegistrar {
	return &recordingRegistrar{regs: make(chan Registration, 16)}
}

func (r *recordingRegistrar) Register(_ context.Context, reg Registration) error {
	r.regs <- reg
	return r.err
}

func TestEncodeIsThreeElementArray(t *testing.T) {
	data, err := Encode(Registration{AppSocket: "/s", PeerID: "p", Channel: 1})
	require.NoError(t, err)

	// array(3), text(2) "/s", text(1) "p", uint 1
	assert.Equal(t, []byte{0x83, 0x62, '/', 's', 0x61, 'p', 0x01}, data)

	reg, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, Registration{AppSocket: "/s", PeerID: "p", Channel: 1}, reg)
}

func TestDecodeRejectsMalformed(t *testing.T) {
	cases := map[string][]byte{
		"empty":         {},
		"not an array":  {0x61, 'x'},
		"short array":   {0x82, 0x61, 'a', 0x61, 'b'},
		"empty socket":  {0x83, 0x60, 0x61, 'p', 0x01},
		"empty peer":    {0x83, 0x61, 's', 0x60, 0x01},
		"channel range": {0x83, 0x61, 's', 0x61, 'p', 0x1a, 0x00, 0x01, 0x00, 0x00},
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(data)
			assert.Error(t, err)
		})
	}
}

func TestServerDispatchesRegistrations(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	path := filepath.Join(testutil.SocketDir(t), "ctl.sock")
	srv := NewServer(path)
	r := newRecordingRegistrar()

	require.NoError(t, srv.Open(ctx, r))
	assert.True(t, srv.Listening())
	require.NoError(t, srv.Open(ctx, r), "opening twice is a no-op")

	want := Registration{AppSocket: "/tmp/app.sock", PeerID: "relay1", Channel: 1}
	require.NoError(t, Send(ctx, path, want))

	got := testutil.RequireReceive(t, r.regs, 5*time.Second, "waiting for registration")
	assert.Equal(t, want, got)
}

func TestServerSkipsGarbageAndFailures(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	path := filepath.Join(testutil.SocketDir(t), "ctl.sock")
	srv := NewServer(path)
	r := newRecordingRegistrar()
	r.err = errors.New("no such socket")
	require.NoError(t, srv.Open(ctx, r))

	conn, err := net.Dial("unixgram", path)
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("not cbor"))
	require.NoError(t, err)

	first := Registration{AppSocket: "/a", PeerID: "p", Channel: 1}
	second := Registration{AppSocket: "/b", PeerID: "p", Channel: 2}
	require.NoError(t, Send(ctx, path, first))
	require.NoError(t, Send(ctx, path, second))

	assert.Equal(t, first, testutil.RequireReceive(t, r.regs, 5*time.Second))
	assert.Equal(t, second, testutil.RequireReceive(t, r.regs, 5*time.Second))
	assert.True(t, srv.Listening())
}

func TestServerReopensAfterCancel(t *testing.T) {
	path := filepath.Join(testutil.SocketDir(t), "ctl.sock")
	srv := NewServer(path)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, srv.Open(ctx, newRecordingRegistrar()))
	cancel()
	require.Eventually(t, func() bool { return !srv.Listening() }, 5*time.Second, 10*time.Millisecond)

	// The stale socket file is replaced on the next open.
	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	r := newRecordingRegistrar()
	require.NoError(t, srv.Open(ctx2, r))
	require.NoError(t, Send(ctx2, path, Registration{AppSocket: "/a", PeerID: "p", Channel: 7}))
	testutil.RequireReceive(t, r.regs, 5*time.Second)

	require.NoError(t, srv.Close())
}

func TestOpenRefusesNonSocketPath(t *testing.T) {
	path := filepath.Join(testutil.SocketDir(t), "ctl.sock")
	require.NoError(t, os.WriteFile(path, []byte("keep me"), 0o600))

	err := NewServer(path).Open(context.Background(), newRecordingRegistrar())
	assert.Error(t, err)

	data, readErr := os.ReadFile(path)
	require.NoError(t, readErr)
	assert.Equal(t, "keep me", string(data))
}

func TestSendWithoutServer(t *testing.T) {
	path := filepath.Join(testutil.SocketDir(t), "missing.sock")
	err := Send(context.Background(), path, Registration{AppSocket: "/a", PeerID: "p"})
	assert.Error(t, err)
}
