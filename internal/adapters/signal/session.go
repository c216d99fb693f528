package signal

import (
	"context"
	"sync"

	"github.com/dkeye/dumpvoice/internal/core"
	"github.com/dkeye/dumpvoice/internal/identity"
	"github.com/looplab/fsm"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	StateAuthenticating = "authenticating"
	StateConnected      = "connected"
	StateInChannel      = "in_channel"
	StateIdle           = "idle"
	StateClosed         = "closed"

	EventConnect = "connect"
	EventJoin    = "join"
	EventLeave   = "leave"
	EventClose   = "close"
)

// session is the per-connection loop. Everything it registers is torn down
// by cleanup, whichever pump notices the end first.
type session struct {
	ctl    *SignalWSController
	sid    core.SessionID
	id     *identity.Identity
	conn   *WsSignalConn
	fsm    *fsm.FSM
	cancel context.CancelFunc
	logger zerolog.Logger

	tokenMu sync.Mutex
	token   string

	closeOnce sync.Once
}

func newSession(ctl *SignalWSController, sid core.SessionID, id *identity.Identity, conn *WsSignalConn) *session {
	s := &session{
		ctl:   ctl,
		sid:   sid,
		id:    id,
		conn:  conn,
		token: id.Token,
		logger: log.With().
			Str("module", "signal.session").
			Str("sid", string(sid)).
			Int64("user", int64(id.User.ID)).
			Int64("channel", int64(id.Channel.ID)).
			Logger(),
	}
	s.fsm = fsm.NewFSM(
		StateAuthenticating,
		fsm.Events{
			{Name: EventConnect, Src: []string{StateAuthenticating}, Dst: StateConnected},
			{Name: EventJoin, Src: []string{StateConnected, StateIdle}, Dst: StateInChannel},
			{Name: EventLeave, Src: []string{StateInChannel}, Dst: StateIdle},
			{Name: EventClose, Src: []string{StateAuthenticating, StateConnected, StateInChannel, StateIdle}, Dst: StateClosed},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				s.ctl.Metrics.Transition(e.Src, e.Dst)
				s.logger.Debug().Str("from", e.Src).Str("to", e.Dst).Msg("state")
			},
		},
	)
	return s
}

func (s *session) fire(ctx context.Context, event string) {
	if !s.fsm.Can(event) {
		return
	}
	if err := s.fsm.Event(ctx, event); err != nil {
		s.logger.Debug().Err(err).Str("event", event).Msg("fsm")
	}
}

// start registers the session, greets the client and runs both pumps.
func (s *session) start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel

	s.fire(ctx, EventConnect)
	s.ctl.Orch.Connect(s.sid, *s.id.User, s.id.Channel.ID, s.conn, cancel)

	if s.id.Refreshed {
		s.ctl.Metrics.TokenRefreshed()
		s.sendJSON(core.TokenRefresh{Type: core.TypeTokenRefresh, Token: s.id.Token})
	}
	s.sendJSON(core.ConnectionStatus{
		Type:    core.TypeConnectionStatus,
		Status:  "connected",
		Message: "Successfully connected to voice channel",
	})
	s.logger.Info().Msg("session connected")

	go s.writePump(ctx)
	go s.readPump(ctx)
}

// cleanup leaves the channel, releases endpoints and media, then stops the
// queue and the pumps. Only the first call has any effect.
func (s *session) cleanup() {
	s.closeOnce.Do(func() {
		s.fire(context.Background(), EventClose)
		s.ctl.Orch.Disconnect(s.sid)
		s.conn.Close()
		if s.cancel != nil {
			s.cancel()
		}
		s.logger.Info().Msg("session closed")
	})
}

func (s *session) State() string { return s.fsm.Current() }

func (s *session) sendJSON(v any) {
	msg, err := core.Encode(v)
	if err != nil {
		s.logger.Error().Err(err).Msg("sendJSON marshal")
		return
	}
	s.send(msg)
}

func (s *session) send(msg core.Message) {
	if err := s.conn.TrySend(msg); err != nil {
		s.logger.Warn().Err(err).Msg("send")
	}
}

func (s *session) sendError(code string) {
	s.sendJSON(core.ErrorMessage{Type: core.TypeError, Error: code})
}

func (s *session) currentToken() string {
	s.tokenMu.Lock()
	defer s.tokenMu.Unlock()
	return s.token
}

func (s *session) setToken(t string) {
	s.tokenMu.Lock()
	defer s.tokenMu.Unlock()
	s.token = t
}
