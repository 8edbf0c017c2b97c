package state

import (
	"fmt"
	"sync"
)

// routeQueueSize is the capacity of a route's inbound queue.
const routeQueueSize = 10

// RouteKey identifies one bridged channel.
type RouteKey struct {
	PeerID  string `json:"peer"`
	Channel uint16 `json:"channel"`
}

func (k RouteKey) String() string { return fmt.Sprintf("%s/%d", k.PeerID, k.Channel) }

func (k RouteKey) less(o RouteKey) bool {
	if k.PeerID != o.PeerID {
		return k.PeerID < o.PeerID
	}
	return k.Channel < o.Channel
}

// route is the inbound side of one bridge: payloads for its key are queued
// here and written to the application socket by the bridge.
//
// deliver never blocks. When the queue is full, payloads go to an ordered
// backlog drained by a single goroutine, so ordering per route holds.
type route struct {
	key   RouteKey
	queue chan []byte

	done      chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	backlog  [][]byte
	draining bool
}

func newRoute(key RouteKey) *route {
	return &route{
		key:   key,
		queue: make(chan []byte, routeQueueSize),
		done:  make(chan struct{}),
	}
}

// deliver enqueues payload for the bridge. After close it drops silently.
func (r *route) deliver(payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed() {
		return
	}

	if !r.draining {
		select {
		case r.queue <- payload:
			return
		default:
		}
		r.draining = true
		go r.drain()
	}
	r.backlog = append(r.backlog, payload)
}

// drain moves the backlog into the queue until it is empty or the route closes.
func (r *route) drain() {
	for {
		r.mu.Lock()
		if len(r.backlog) == 0 {
			r.draining = false
			r.mu.Unlock()
			return
		}
		p := r.backlog[0]
		r.backlog[0] = nil
		r.backlog = r.backlog[1:]
		r.mu.Unlock()

		select {
		case r.queue <- p:
		case <-r.done:
			r.mu.Lock()
			r.backlog = nil
			r.draining = false
			r.mu.Unlock()
			return
		}
	}
}

func (r *route) closed() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

func (r *route) close() {
	r.closeOnce.Do(func() { close(r.done) })
}
