package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/uip/internal/testutil"
)

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	relay := testutil.NewCertificate(t, "relay1")
	relay.WriteFiles(t, dir, "relay1")
	local := testutil.NewCertificate(t, "alice")
	local.WriteFiles(t, dir, "alice")

	path := filepath.Join(dir, "uip.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
id: alice
relays: [relay1]
control_socket: /tmp/uip-test/ctl.sock
tick_interval: 2s
tls:
  certificate: alice.crt
  key: alice.key
listen: 127.0.0.1:7400
peers:
  - id: relay1
    addresses: ["127.0.0.1:9000"]
    certificate: relay1.crt
`), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "alice", cfg.ID)
	assert.Equal(t, []string{"relay1"}, cfg.Relays)
	assert.Equal(t, 2*time.Second, cfg.TickInterval)
	assert.Equal(t, 10*time.Second, cfg.DialTimeout, "unset fields keep defaults")
	assert.Equal(t, filepath.Join(dir, "relay1.crt"), cfg.Peers[0].Certificate)

	peers, err := cfg.Directory()
	require.NoError(t, err)
	rec, ok := peers.Get("relay1")
	require.True(t, ok)
	assert.Equal(t, relay.Leaf.Raw, rec.Certificate.Raw)
	assert.Equal(t, []string{"127.0.0.1:9000"}, rec.Addresses)

	cert, err := cfg.LocalCertificate()
	require.NoError(t, err)
	require.NotNil(t, cert)
}

func TestParseValidation(t *testing.T) {
	cases := map[string]string{
		"missing id":          `relays: [a]`,
		"listen without tls":  "id: a\nlisten: :7400",
		"peer without cert":   "id: a\npeers:\n  - id: b\n    addresses: [\"1.2.3.4:5\"]",
		"duplicate peer":      "id: a\npeers:\n  - {id: b, certificate: x}\n  - {id: b, certificate: y}",
		"bad address":         "id: a\npeers:\n  - {id: b, certificate: x, addresses: [nope]}",
		"zero tick":           "id: a\ntick_interval: 0s",
		"half tls identity":   "id: a\ntls:\n  certificate: a.crt",
		"malformed yaml":      "id: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadRequiresPath(t *testing.T) {
	t.Setenv(EnvConfig, "")
	_, err := Load("")
	assert.Error(t, err)
}

func TestLocalCertificateOptional(t *testing.T) {
	cfg, err := Parse([]byte("id: a"))
	require.NoError(t, err)

	cert, err := cfg.LocalCertificate()
	assert.NoError(t, err)
	assert.Nil(t, cert)
}
