// Package status serves the daemon's introspection endpoints: Prometheus
// metrics on /metrics, a JSON state snapshot on /state, and a websocket on
// /ws that pushes a fresh snapshot at a fixed interval.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/1ureka/uip/internal/state"
	"github.com/1ureka/uip/internal/util"
)

// writeWait bounds a single websocket write.
const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Source provides the snapshots served to clients.
type Source interface {
	Snapshot() state.Snapshot
}

// Server is the status HTTP server.
type Server struct {
	src      Source
	interval time.Duration
	registry *prometheus.Registry
}

// New builds a server reporting src. interval is the websocket push period.
func New(src Source, interval time.Duration) (*Server, error) {
	if interval <= 0 {
		interval = time.Second
	}

	reg := prometheus.NewRegistry()
	if err := util.RegisterStats(reg); err != nil {
		return nil, fmt.Errorf("register stats: %w", err)
	}
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("register go collector: %w", err)
	}

	return &Server{src: src, interval: interval, registry: reg}, nil
}

// Handler returns the HTTP handler for all endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/state", s.handleState)
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

// Serve listens on addr and serves until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start status server: %w", err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener serves on ln until ctx is cancelled.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	util.LogInfo("status server listening on %s", ln.Addr())

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.src.Snapshot())
}

// handleWS pushes a snapshot immediately and then once per interval until
// the client goes away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// The read side only exists to process control frames and notice the
	// client closing.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(s.src.Snapshot()); err != nil {
			util.LogDebug("status client %s dropped: %v", r.RemoteAddr, err)
			return
		}

		select {
		case <-ticker.C:
		case <-gone:
			return
		case <-r.Context().Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(writeWait))
			return
		}
	}
}
