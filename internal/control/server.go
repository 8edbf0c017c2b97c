package control

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/1ureka/uip/internal/util"
)

// Registrar performs the side effect of a registration.
type Registrar interface {
	Register(ctx context.Context, reg Registration) error
}

// Server owns the control socket. Open is idempotent: while the socket is
// bound, further calls do nothing. If the socket fails, Listening reports
// false again and the next Open rebinds it.
type Server struct {
	path string

	mu        sync.Mutex
	conn      *net.UnixConn
	listening bool
}

// NewServer returns a server for the socket at path. Nothing is bound until
// Open is called.
func NewServer(path string) *Server {
	return &Server{path: path}
}

// Path returns the socket path.
func (s *Server) Path() string { return s.path }

// Listening reports whether the control socket is currently bound.
func (s *Server) Listening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listening
}

// Open binds the control socket and starts dispatching registrations to r
// until ctx is cancelled.
func (s *Server) Open(ctx context.Context, r Registrar) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listening {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create control socket directory: %w", err)
	}
	if err := removeStaleSocket(s.path); err != nil {
		return err
	}

	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: s.path, Net: "unixgram"})
	if err != nil {
		return fmt.Errorf("bind control socket: %w", err)
	}
	s.conn = conn
	s.listening = true

	util.LogInfo("control socket listening on %s", s.path)

	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	go s.serve(ctx, conn, r)

	return nil
}

// serve reads datagrams until the socket is closed. Malformed datagrams and
// failed registrations are logged and skipped.
func (s *Server) serve(ctx context.Context, conn *net.UnixConn, r Registrar) {
	defer func() {
		s.mu.Lock()
		if s.conn == conn {
			s.listening = false
			s.conn = nil
		}
		s.mu.Unlock()
	}()

	buf := make([]byte, maxMessageSize)
	for {
		n, _, err := conn.ReadFromUnix(buf)
		if err != nil {
			select {
			case <-ctx.Done():
			default:
				util.LogWarning("control socket was closed: %v", err)
			}
			return
		}

		reg, err := Decode(buf[:n])
		if err != nil {
			util.LogWarning("ignoring control message: %v", err)
			continue
		}

		util.LogDebug("registration %s", reg)
		if err := r.Register(ctx, reg); err != nil {
			util.LogWarning("registration %s failed: %v", reg, err)
		}
	}
}

// Close unbinds the control socket.
func (s *Server) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	err := conn.Close()
	os.Remove(s.path)
	return err
}

// removeStaleSocket deletes a leftover socket file from a previous run.
// Anything else at the path is left alone and reported.
func removeStaleSocket(path string) error {
	info, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.Mode()&fs.ModeSocket == 0 {
		return fmt.Errorf("control socket path %s exists and is not a socket", path)
	}
	return os.Remove(path)
}

// Send delivers one registration to the control socket at path.
func Send(ctx context.Context, path string, reg Registration) error {
	data, err := Encode(reg)
	if err != nil {
		return err
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unixgram", path)
	if err != nil {
		return fmt.Errorf("connect to control socket: %w", err)
	}
	defer conn.Close()

	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("send registration: %w", err)
	}
	return nil
}
