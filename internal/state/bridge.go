package state

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/1ureka/uip/internal/control"
	"github.com/1ureka/uip/internal/protocol"
	"github.com/1ureka/uip/internal/util"
)

// appDialTimeout bounds connecting to an application socket.
const appDialTimeout = 5 * time.Second

// bridge couples one application socket with one route. It exits when either
// direction fails, the route is replaced and closed, or ctx is cancelled.
type bridge struct {
	state *State
	route *route
	conn  net.Conn

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// Register connects to the application socket named in reg and binds it to
// (reg.PeerID, reg.Channel). A previous registration for the same key is
// replaced; its bridge keeps running until its own socket closes but no
// longer receives inbound payloads.
func (s *State) Register(ctx context.Context, reg control.Registration) error {
	d := net.Dialer{Timeout: appDialTimeout}
	conn, err := d.DialContext(ctx, "unix", reg.AppSocket)
	if err != nil {
		return fmt.Errorf("connect to application socket: %w", err)
	}

	key := RouteKey{PeerID: reg.PeerID, Channel: reg.Channel}
	r := newRoute(key)

	s.mu.Lock()
	_, replaced := s.routes[key]
	s.routes[key] = r
	s.mu.Unlock()

	util.Stats.AddRegistration()
	if replaced {
		util.LogInfo("route %s re-registered to %s", key, reg.AppSocket)
	} else {
		util.LogInfo("route %s registered to %s", key, reg.AppSocket)
	}

	bctx, cancel := context.WithCancel(ctx)
	b := &bridge{state: s, route: r, conn: conn, ctx: bctx, cancel: cancel}
	go b.pumpAppToPeer()
	go b.pumpPeerToApp()
	return nil
}

// pumpAppToPeer reads from the application socket and sends each read as one
// Data frame. It uses a blocking Read; cleanup closes the socket to unblock it.
func (b *bridge) pumpAppToPeer() {
	defer b.cleanup()

	buf := make([]byte, protocol.MaxPayloadSize)
	for {
		n, err := b.conn.Read(buf)

		if n > 0 {
			payload := make([]byte, n)
			copy(payload, buf[:n])
			b.state.SendFrame(b.ctx, b.route.key.PeerID, b.route.key.Channel, payload)
		}

		if err != nil {
			select {
			case <-b.ctx.Done():
			default:
				if !util.IsExpectedCloseError(err) {
					util.LogWarning("[%s] application read error: %v", b.route.key, err)
				}
			}
			return
		}
	}
}

// pumpPeerToApp writes queued inbound payloads to the application socket.
func (b *bridge) pumpPeerToApp() {
	defer b.cleanup()

	for {
		select {
		case p := <-b.route.queue:
			if _, err := b.conn.Write(p); err != nil {
				if !util.IsExpectedCloseError(err) {
					util.LogWarning("[%s] application write error: %v", b.route.key, err)
				}
				return
			}
		case <-b.route.done:
			return
		case <-b.ctx.Done():
			return
		}
	}
}

// cleanup releases the bridge exactly once, whichever side exits first. The
// route entry stays in the table; later payloads for it are dropped.
func (b *bridge) cleanup() {
	b.closeOnce.Do(func() {
		b.cancel()
		b.route.close()
		b.conn.Close()
		util.LogDebug("[%s] bridge closed", b.route.key)
	})
}
