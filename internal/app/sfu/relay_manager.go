package sfu

import (
	"context"
	"sync"

	"github.com/dkeye/dumpvoice/internal/core"
	"github.com/rs/zerolog/log"
)

// RelayManager owns at most one uplink relay per session.
type RelayManager struct {
	mu     sync.RWMutex
	relays map[core.SessionID]*Relay
}

func NewRelayManager() *RelayManager {
	return &RelayManager{
		relays: make(map[core.SessionID]*Relay),
	}
}

// StartRelay creates a new Relay for the given speaker sid and starts its loop.
// An existing relay of sid is stopped first.
func (m *RelayManager) StartRelay(ctx context.Context, sid core.SessionID, src PacketSource, sink Sink) *Relay {
	logger := sessionLogger(log.Logger, sid)

	relayCtx, cancel := context.WithCancel(ctx)
	relay := NewRelay(src, sink, cancel)

	m.mu.Lock()
	if old, ok := m.relays[sid]; ok {
		logger.Info().Msg("replacing existing relay for sid")
		old.markDelete()
	}
	m.relays[sid] = relay
	m.mu.Unlock()

	logger.Info().Msg("starting relay loop")
	go relay.loop(relayCtx, &logger)
	return relay
}

// StopRelay stops a relay and removes it from the manager.
func (m *RelayManager) StopRelay(sid core.SessionID) {
	m.mu.Lock()
	relay, ok := m.relays[sid]
	if ok {
		delete(m.relays, sid)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	relay.markDelete()
}

// SetMuted pauses or resumes forwarding for sid.
func (m *RelayManager) SetMuted(sid core.SessionID, muted bool) {
	m.mu.RLock()
	relay, ok := m.relays[sid]
	m.mu.RUnlock()
	if ok {
		relay.SetMuted(muted)
	}
}

// StopAll stops every relay and waits for their loops until ctx ends.
// It returns how many loops were still running when ctx ended.
func (m *RelayManager) StopAll(ctx context.Context) int {
	m.mu.Lock()
	relays := m.relays
	m.relays = make(map[core.SessionID]*Relay)
	m.mu.Unlock()
	for _, r := range relays {
		r.markDelete()
	}
	stuck := 0
	for _, r := range relays {
		select {
		case <-r.Done():
		case <-ctx.Done():
			select {
			case <-r.Done():
			default:
				stuck++
			}
		}
	}
	return stuck
}
