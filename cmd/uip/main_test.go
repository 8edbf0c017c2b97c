package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/uip/internal/config"
)

func TestParseChannel(t *testing.T) {
	ch, err := parseChannel(" 65535 ")
	require.NoError(t, err)
	assert.Equal(t, uint16(65535), ch)

	for _, bad := range []string{"", "-1", "65536", "one"} {
		_, err := parseChannel(bad)
		assert.Error(t, err, bad)
	}
}

func TestResolveControlPath(t *testing.T) {
	t.Setenv(config.EnvConfig, "")

	path, err := resolveControlPath("/run/explicit.sock", "")
	require.NoError(t, err)
	assert.Equal(t, "/run/explicit.sock", path)

	cfgPath := filepath.Join(t.TempDir(), "uip.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("id: a\ncontrol_socket: /run/from-config.sock\n"), 0o644))
	path, err = resolveControlPath("", cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "/run/from-config.sock", path)

	path, err = resolveControlPath("", "")
	require.NoError(t, err)
	assert.Equal(t, config.Default().ControlSocket, path)
}
