package transport

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/1ureka/uip/internal/util"
)

// Serve accepts inbound links on ln until ctx is cancelled. Each accepted
// connection is authenticated in its own goroutine; established transports
// are passed to onTransport. Handshake failures are logged and do not stop
// the listener.
func Serve(ctx context.Context, ln net.Listener, cfg ServerConfig, d Deliverer, onTransport func(*Transport)) error {
	// Close the listener when context is done so Accept() returns an error.
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	util.LogInfo("accepting peer links on %s", ln.Addr())

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil // normal shutdown
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept error: %w", err)
		}

		go func() {
			t, err := Accept(ctx, conn, cfg, d)
			if err != nil {
				util.LogWarning("rejected link from %s: %v", conn.RemoteAddr(), err)
				return
			}
			onTransport(t)
		}()
	}
}
