package orch

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/dkeye/dumpvoice/internal/app"
	"github.com/dkeye/dumpvoice/internal/app/sfu"
	"github.com/dkeye/dumpvoice/internal/core"
	"github.com/dkeye/dumpvoice/internal/domain"
	"github.com/dkeye/dumpvoice/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Orchestrator runs every membership transition of a session: table update,
// audio endpoints and the announcement, in that order.
type Orchestrator struct {
	Registry *app.Registry
	Members  *core.Table
	Audio    *core.AudioRegistry
	Fanout   *core.Fanout
	Policy   app.Policy
	Relays   *sfu.RelayManager
	Metrics  *metrics.Metrics

	// transitions pairs every membership change with the open or close of
	// the user's endpoints, so endpoint lifetime matches membership.
	transitions sync.Mutex
}

// New wires an orchestrator around fresh process-wide state.
func New(device core.AudioDevice, policy app.Policy, relayToSender bool, m *metrics.Metrics) *Orchestrator {
	members := core.NewTable()
	return &Orchestrator{
		Registry: app.NewRegistry(),
		Members:  members,
		Audio:    core.NewAudioRegistry(device),
		Fanout: &core.Fanout{
			Members:       members,
			IncludeSender: relayToSender,
			Observer:      m,
		},
		Policy:  policy,
		Relays:  sfu.NewRelayManager(),
		Metrics: m,
	}
}

// Connect registers an authenticated session.
func (o *Orchestrator) Connect(sid core.SessionID, user domain.User, ch domain.ChannelID, conn core.SignalConnection, cancel context.CancelFunc) {
	o.Registry.Bind(sid, user, ch, conn, cancel)
	o.Metrics.SessionOpened()
}

// Disconnect is the exit path of a session. It is safe to call more than once.
func (o *Orchestrator) Disconnect(sid core.SessionID) {
	sess, ok := o.Registry.Session(sid)
	if !ok {
		return
	}
	o.Leave(sid)
	o.cleanupMedia(sid)
	o.Registry.Unbind(sid)
	o.Metrics.SessionClosed()
	log.Info().Str("module", "orch").Str("sid", string(sid)).Int64("user", int64(sess.User.ID)).Msg("session disconnected")
}

// OnFrame relays a binary payload. It reports false when sid is not in a channel.
func (o *Orchestrator) OnFrame(sid core.SessionID, kind core.MediaKind, payload []byte) (core.PublishResult, bool) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("encode payload")
		return core.PublishResult{}, false
	}
	return o.OnMedia(sid, kind, data, payload)
}

// OnMedia fans out data to the channel of sid. Audio is also written to the
// sender's input endpoint and to the output endpoint of every recipient.
func (o *Orchestrator) OnMedia(sid core.SessionID, kind core.MediaKind, data json.RawMessage, audio []byte) (core.PublishResult, bool) {
	sess, ok := o.Registry.Session(sid)
	if !ok {
		return core.PublishResult{}, false
	}
	uid := sess.User.ID
	owner, ch, ok := o.Members.SessionOf(uid)
	if !ok || owner != sid {
		return core.PublishResult{}, false
	}
	if kind == core.KindAudio {
		if st, _ := o.Members.StateOf(uid); st.IsMuted {
			return core.PublishResult{}, true
		}
	}

	res := o.Fanout.Relay(ch, uid, kind, data)
	if kind == core.KindAudio && len(audio) > 0 {
		o.writeAudio(uid, res.Delivered, audio)
	}
	o.handleDropped(ch, res)
	return res, true
}

func (o *Orchestrator) writeAudio(sender domain.UserID, recipients []domain.UserID, audio []byte) {
	if err := o.Audio.Capture(sender, audio); err != nil {
		log.Debug().Err(err).Str("module", "orch").Int64("user", int64(sender)).Msg("capture")
	}
	for _, uid := range recipients {
		if uid == sender {
			continue
		}
		if err := o.Audio.Play(uid, audio); err != nil {
			log.Debug().Err(err).Str("module", "orch").Int64("user", int64(uid)).Msg("play")
		}
	}
}

func (o *Orchestrator) handleDropped(ch domain.ChannelID, res core.PublishResult) {
	if o.Policy == nil {
		return
	}
	for _, slow := range res.Dropped {
		switch o.Policy.OnBackPressure(ch, slow) {
		case app.KickMember:
			log.Warn().Str("module", "orch").Str("sid", string(slow.SID)).Int64("user", int64(slow.UserID)).Msg("kicking slow member")
			o.Registry.Cancel(slow.SID)
		case app.NoAction:
		}
	}
}

// KickUser ends the session that holds uid's membership.
func (o *Orchestrator) KickUser(uid domain.UserID) bool {
	sid, _, ok := o.Members.SessionOf(uid)
	if !ok {
		return false
	}
	return o.Registry.Cancel(sid)
}

func (o *Orchestrator) Channels() []core.ChannelInfo {
	return o.Members.Channels()
}

func (o *Orchestrator) Participants(ch domain.ChannelID) []domain.Participant {
	return o.Members.Participants(ch)
}

// Shutdown cancels every session and waits, until ctx ends, for the uplink
// relays to stop.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	n := o.Registry.CancelAll()
	stuck := o.Relays.StopAll(ctx)
	ev := log.Info()
	if stuck > 0 {
		ev = log.Warn()
	}
	ev.Str("module", "orch").Int("sessions", n).Int("stuck_relays", stuck).Msg("shutdown")
}

// Release closes audio endpoints left open after the sessions are gone.
func (o *Orchestrator) Release() {
	o.Audio.CloseAll()
	o.Metrics.Endpoints(0)
}
