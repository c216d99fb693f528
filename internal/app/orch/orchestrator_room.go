package orch

import (
	"errors"

	"github.com/dkeye/dumpvoice/internal/core"
	"github.com/dkeye/dumpvoice/internal/domain"
	"github.com/rs/zerolog/log"
)

var ErrUnknownSession = errors.New("unknown session")

// Join puts the user of sid into the channel bound at connect time.
func (o *Orchestrator) Join(sid core.SessionID) (core.JoinResult, error) {
	sess, ok := o.Registry.Session(sid)
	if !ok {
		return core.JoinResult{}, ErrUnknownSession
	}
	uid, ch := sess.User.ID, sess.Channel

	o.transitions.Lock()
	res := o.Members.Join(ch, uid, sid, sess.Conn)
	if res.Left != nil {
		o.Audio.CloseFor(uid)
	}
	var audioErr error
	if res.Joined {
		_, audioErr = o.Audio.OpenFor(uid)
	}
	o.transitions.Unlock()

	if res.Left != nil {
		o.announceLeave(uid, *res.Left)
	}
	if res.Displaced != nil {
		log.Info().Str("module", "orch").Str("sid", string(res.Displaced.SID)).Int64("user", int64(uid)).Msg("displaced by newer session")
		o.Registry.Cancel(res.Displaced.SID)
	}

	p := domain.NewParticipant(uid, res.State)
	if !res.Joined {
		if res.Displaced != nil {
			o.sendDirect(sess.Conn, core.ParticipantJoined{
				Type:        core.TypeParticipantJoined,
				Participant: p,
				IsEchoMode:  res.EchoMode,
			})
		}
		return res, nil
	}

	if audioErr != nil {
		log.Warn().Err(audioErr).Str("module", "orch").Int64("user", int64(uid)).Msg("audio unavailable, signaling only")
		o.Metrics.DeviceError()
	}
	o.Metrics.Endpoints(o.Audio.Len())
	o.Metrics.Joined()

	o.Fanout.AnnounceJoin(ch, p, res.EchoMode)
	log.Info().Str("module", "orch").Str("sid", string(sid)).Int64("user", int64(uid)).Int64("channel", int64(ch)).Int("size", res.Size).Msg("joined")
	return res, nil
}

// Leave removes the membership owned by sid. A stale session never tears
// down the membership of a newer one.
func (o *Orchestrator) Leave(sid core.SessionID) (core.LeaveResult, bool) {
	sess, ok := o.Registry.Session(sid)
	if !ok {
		return core.LeaveResult{}, false
	}
	uid := sess.User.ID
	o.transitions.Lock()
	res, ok := o.Members.LeaveSession(uid, sid)
	if ok {
		o.Audio.CloseFor(uid)
	}
	o.transitions.Unlock()
	if !ok {
		return core.LeaveResult{}, false
	}
	o.announceLeave(uid, res)
	log.Info().Str("module", "orch").Str("sid", string(sid)).Int64("user", int64(uid)).Int64("channel", int64(res.Channel)).Int("remaining", res.Remaining).Msg("left")
	return res, true
}

func (o *Orchestrator) announceLeave(uid domain.UserID, res core.LeaveResult) {
	o.Metrics.Endpoints(o.Audio.Len())
	o.Metrics.Left()
	o.Fanout.AnnounceLeave(res.Channel, uid, res.EchoMode())
}

// UpdateState applies fn to the participant state of sid and announces the result.
func (o *Orchestrator) UpdateState(sid core.SessionID, fn func(*domain.ParticipantState)) (domain.ParticipantState, bool) {
	sess, ok := o.Registry.Session(sid)
	if !ok {
		return domain.ParticipantState{}, false
	}
	uid := sess.User.ID
	st, ch, ok := o.Members.UpdateState(uid, sid, fn)
	if !ok {
		return domain.ParticipantState{}, false
	}
	o.Relays.SetMuted(sid, st.IsMuted)
	o.Fanout.AnnounceUpdate(ch, domain.NewParticipant(uid, st))
	return st, true
}

func (o *Orchestrator) sendDirect(conn core.SignalConnection, v any) {
	if conn == nil {
		return
	}
	msg, err := core.Encode(v)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("encode")
		return
	}
	if err := conn.TrySend(msg); err != nil {
		log.Warn().Err(err).Str("module", "orch").Msg("direct send")
	}
}
