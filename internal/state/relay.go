package state

import (
	"context"

	"github.com/1ureka/uip/internal/util"
)

// AddRelay appends peerID to the relay list if it is not already present.
func (s *State) AddRelay(peerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.relays {
		if id == peerID {
			return
		}
	}
	s.relays = append(s.relays, peerID)
}

// Relays returns a copy of the relay list.
func (s *State) Relays() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.relays...)
}

// ConnectToRelays starts a dial to every relay that has neither a live
// transport nor a dial already in flight. Dials run in the background and
// failures are only logged; the next call retries.
func (s *State) ConnectToRelays(ctx context.Context) {
	s.mu.Lock()
	var targets []string
	for _, id := range s.relays {
		if s.dialing[id] || s.primaryLocked(id) != nil {
			continue
		}
		s.dialing[id] = true
		targets = append(targets, id)
	}
	s.mu.Unlock()

	for _, id := range targets {
		go func() {
			defer func() {
				s.mu.Lock()
				delete(s.dialing, id)
				s.mu.Unlock()
			}()

			util.LogInfo("connecting to relay %s", id)
			if _, err := s.ConnectPeer(ctx, id); err != nil {
				util.LogWarning("unable to connect to relay %s: %v", id, err)
			}
		}()
	}
}
