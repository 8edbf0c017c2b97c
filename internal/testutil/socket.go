package testutil

import (
	"os"
	"testing"
)

// SocketDir creates a short temporary directory under /tmp for unix domain
// sockets. t.TempDir() paths can exceed the 108-byte sun_path limit.
func SocketDir(t testing.TB) string {
	t.Helper()

	dir, err := os.MkdirTemp("/tmp", "uip-test-")
	if err != nil {
		t.Fatalf("create socket dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}
