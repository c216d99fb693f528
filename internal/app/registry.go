package app

import (
	"context"
	"sync"

	"github.com/dkeye/dumpvoice/internal/core"
	"github.com/dkeye/dumpvoice/internal/domain"
	"github.com/rs/zerolog/log"
)

type sessionEntry struct {
	User    domain.User
	Channel domain.ChannelID
	Conn    core.SignalConnection
	Media   core.MediaConnection
	Cancel  context.CancelFunc
}

// Session is a read-only copy of a registry entry.
type Session struct {
	SID     core.SessionID
	User    domain.User
	Channel domain.ChannelID
	Conn    core.SignalConnection
	Media   core.MediaConnection
}

// Registry indexes live sessions by sid. It never owns the connections.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]*sessionEntry
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[core.SessionID]*sessionEntry),
	}
}

func (r *Registry) Bind(
	sid core.SessionID,
	user domain.User,
	ch domain.ChannelID,
	conn core.SignalConnection,
	cancel context.CancelFunc,
) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sid] = &sessionEntry{
		User:    user,
		Channel: ch,
		Conn:    conn,
		Cancel:  cancel,
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Int64("user", int64(user.ID)).Int64("channel", int64(ch)).Msg("bound session")
}

func (r *Registry) Session(sid core.SessionID) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok {
		return Session{}, false
	}
	return Session{SID: sid, User: e.User, Channel: e.Channel, Conn: e.Conn, Media: e.Media}, true
}

// SetMedia attaches mc to sid and returns the one it replaced.
func (r *Registry) SetMedia(sid core.SessionID, mc core.MediaConnection) (core.MediaConnection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return nil, false
	}
	prev := e.Media
	e.Media = mc
	return prev, true
}

// TakeMedia detaches the media connection of sid.
func (r *Registry) TakeMedia(sid core.SessionID) core.MediaConnection {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return nil
	}
	mc := e.Media
	e.Media = nil
	return mc
}

func (r *Registry) Unbind(sid core.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sid)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unbind session")
}

func (r *Registry) Cancel(sid core.SessionID) bool {
	r.mu.RLock()
	e, ok := r.sessions[sid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("canceled session")
	return true
}

// CancelAll cancels every session and reports how many there were.
func (r *Registry) CancelAll() int {
	r.mu.RLock()
	cancels := make([]context.CancelFunc, 0, len(r.sessions))
	for _, e := range r.sessions {
		if e.Cancel != nil {
			cancels = append(cancels, e.Cancel)
		}
	}
	r.mu.RUnlock()
	for _, c := range cancels {
		c()
	}
	return len(cancels)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
