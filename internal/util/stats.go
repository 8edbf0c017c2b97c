package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide traffic/connection counter.
var Stats = &stats{}

type stats struct {
	TransportsOpened atomic.Int64 // cumulative count of transports established
	TransportsClosed atomic.Int64 // cumulative count of transports torn down
	FramesSent       atomic.Int64 // Data frames written to transports
	FramesRecv       atomic.Int64 // Data frames decoded from transports
	BytesSent        atomic.Int64 // encoded bytes written to transports
	BytesRecv        atomic.Int64 // payload bytes received from transports
	RoutingMisses    atomic.Int64 // frames dropped for lack of a transport or route
	Registrations    atomic.Int64 // control-channel registrations accepted
}

func (s *stats) AddTransport()    { s.TransportsOpened.Add(1) }
func (s *stats) RemoveTransport() { s.TransportsClosed.Add(1) }
func (s *stats) AddMiss()         { s.RoutingMisses.Add(1) }
func (s *stats) AddRegistration() { s.Registrations.Add(1) }

func (s *stats) AddSent(n int) {
	s.FramesSent.Add(1)
	s.BytesSent.Add(int64(n))
}

func (s *stats) AddRecv(n int) {
	s.FramesRecv.Add(1)
	s.BytesRecv.Add(int64(n))
}

// ──────────────────────────────────────────────────────────────────────────────
// Prometheus export
// ──────────────────────────────────────────────────────────────────────────────

// RegisterStats exposes the process-wide counters on reg. The collectors read
// the atomics directly, so the periodic reporter and /metrics agree.
func RegisterStats(reg prometheus.Registerer) error {
	counters := []struct {
		name string
		help string
		v    *atomic.Int64
	}{
		{"uip_transports_opened_total", "Transports established since start.", &Stats.TransportsOpened},
		{"uip_transports_closed_total", "Transports torn down since start.", &Stats.TransportsClosed},
		{"uip_frames_sent_total", "Data frames written to transports.", &Stats.FramesSent},
		{"uip_frames_received_total", "Data frames decoded from transports.", &Stats.FramesRecv},
		{"uip_bytes_sent_total", "Encoded bytes written to transports.", &Stats.BytesSent},
		{"uip_bytes_received_total", "Payload bytes received from transports.", &Stats.BytesRecv},
		{"uip_routing_misses_total", "Frames dropped for lack of a transport or route.", &Stats.RoutingMisses},
		{"uip_registrations_total", "Control-channel registrations accepted.", &Stats.Registrations},
	}

	for _, c := range counters {
		v := c.v
		collector := prometheus.NewCounterFunc(
			prometheus.CounterOpts{Name: c.name, Help: c.help},
			func() float64 { return float64(v.Load()) },
		)
		if err := reg.Register(collector); err != nil {
			return fmt.Errorf("register %s: %w", c.name, err)
		}
	}

	live := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: "uip_transports_live", Help: "Transports currently established."},
		func() float64 { return float64(Stats.TransportsOpened.Load() - Stats.TransportsClosed.Load()) },
	)
	if err := reg.Register(live); err != nil {
		return fmt.Errorf("register uip_transports_live: %w", err)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs traffic statistics
// every interval. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		secs := interval.Seconds()
		var prevSent, prevRecv, prevOpened, prevClosed int64
		for {
			select {
			case <-ticker.C:
				opened := Stats.TransportsOpened.Load()
				closed := Stats.TransportsClosed.Load()
				sent := Stats.BytesSent.Load()
				recv := Stats.BytesRecv.Load()

				outS := float64(sent-prevSent) / secs
				inS := float64(recv-prevRecv) / secs
				upC := opened - prevOpened
				downC := closed - prevClosed

				if upC > 0 || downC > 0 || inS > 10 || outS > 10 {
					pterm.DefaultLogger.Info(formatStats(inS, outS, upC, downC))
				}

				prevSent = sent
				prevRecv = recv
				prevOpened = opened
				prevClosed = closed

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats returns a formatted string of the current stats for display in the logger.
func formatStats(inS, outS float64, upC, downC int64) string {
	return fmt.Sprintf("In: %s/s | Out: %s/s | Transports: %2d↑ %2d↓",
		formatBytes(inS),
		formatBytes(outS),
		upC,
		downC,
	)
}
