package peerdir_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/uip/internal/peerdir"
	"github.com/1ureka/uip/internal/testutil"
)

func TestStaticGetAndLookup(t *testing.T) {
	cert := testutil.NewCertificate(t, "relay1")
	dir := peerdir.NewStatic()

	require.NoError(t, dir.Add("relay1", peerdir.Record{
		Addresses:   []string{"127.0.0.1:9000", "[::1]:9000"},
		Certificate: cert.Leaf,
	}))

	rec, ok := dir.Get("relay1")
	require.True(t, ok)
	assert.Equal(t, "127.0.0.1:9000", rec.Addresses[0])

	id, ok := dir.LookupCertificate(cert.Leaf.Raw)
	assert.True(t, ok)
	assert.Equal(t, "relay1", id)

	_, ok = dir.Get("missing")
	assert.False(t, ok)
	assert.Equal(t, 1, dir.Len())
}

func TestStaticReplaceDropsOldCertificate(t *testing.T) {
	first := testutil.NewCertificate(t, "relay1")
	second := testutil.NewCertificate(t, "relay1")
	dir := peerdir.NewStatic()

	require.NoError(t, dir.Add("relay1", peerdir.Record{Certificate: first.Leaf}))
	require.NoError(t, dir.Add("relay1", peerdir.Record{Certificate: second.Leaf}))

	_, ok := dir.LookupCertificate(first.Leaf.Raw)
	assert.False(t, ok)
	id, ok := dir.LookupCertificate(second.Leaf.Raw)
	assert.True(t, ok)
	assert.Equal(t, "relay1", id)
}

func TestStaticRejectsBadAddress(t *testing.T) {
	dir := peerdir.NewStatic()
	assert.Error(t, dir.Add("relay1", peerdir.Record{Addresses: []string{"no-port"}}))
	assert.Error(t, dir.Add("", peerdir.Record{}))
}

func TestLoadCertificate(t *testing.T) {
	cert := testutil.NewCertificate(t, "relay1")
	certPath, keyPath := cert.WriteFiles(t, t.TempDir(), "relay1")

	loaded, err := peerdir.LoadCertificate(certPath)
	require.NoError(t, err)
	assert.Equal(t, cert.Leaf.Raw, loaded.Raw)

	_, err = peerdir.LoadCertificate(keyPath)
	assert.Error(t, err)
}
