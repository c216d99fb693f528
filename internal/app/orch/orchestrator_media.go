package orch

import (
	"context"
	"errors"

	"github.com/dkeye/dumpvoice/internal/app/sfu"
	"github.com/dkeye/dumpvoice/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var ErrNoEndpoint = errors.New("no audio endpoint, join first")

// AttachMedia binds mc to sid, plays the user's output endpoint over it and
// feeds remote audio tracks into the channel. The previous connection is closed.
func (o *Orchestrator) AttachMedia(sid core.SessionID, mc core.MediaConnection) error {
	sess, ok := o.Registry.Session(sid)
	if !ok {
		return ErrUnknownSession
	}
	pair, ok := o.Audio.Endpoints(sess.User.ID)
	if !ok {
		return ErrNoEndpoint
	}
	src, ok := pair.Output.(core.TrackSource)
	if !ok {
		return ErrNoEndpoint
	}
	if _, err := mc.AddLocalTrack(src.LocalTrack()); err != nil {
		return err
	}

	mc.OnTrack(func(ctx context.Context, track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		o.OnTrack(ctx, sid, track)
	})
	mc.OnClosed(func() { o.OnMediaDisconnect(sid, mc) })

	prev, ok := o.Registry.SetMedia(sid, mc)
	if !ok {
		return ErrUnknownSession
	}
	if prev != nil && prev != mc {
		prev.Close()
	}
	return nil
}

// OnTrack starts forwarding a remote audio track of sid.
func (o *Orchestrator) OnTrack(ctx context.Context, sid core.SessionID, track *webrtc.TrackRemote) {
	if track.Kind() != webrtc.RTPCodecTypeAudio {
		log.Info().Str("module", "orch").Str("sid", string(sid)).Str("kind", track.Kind().String()).Msg("ignoring non-audio track")
		return
	}
	o.startUplink(ctx, sid, sfu.RemoteSource(track))
}

func (o *Orchestrator) startUplink(ctx context.Context, sid core.SessionID, src sfu.PacketSource) *sfu.Relay {
	r := o.Relays.StartRelay(ctx, sid, src, func(payload []byte) {
		o.OnFrame(sid, core.KindAudio, payload)
	})
	if sess, ok := o.Registry.Session(sid); ok {
		if st, ok := o.Members.StateOf(sess.User.ID); ok && st.IsMuted {
			r.SetMuted(true)
		}
	}
	return r
}

// OnMediaDisconnect drops mc if it is still the media leg of sid.
func (o *Orchestrator) OnMediaDisconnect(sid core.SessionID, mc core.MediaConnection) {
	sess, ok := o.Registry.Session(sid)
	if !ok || sess.Media != mc {
		return
	}
	o.cleanupMedia(sid)
}

func (o *Orchestrator) cleanupMedia(sid core.SessionID) {
	o.Relays.StopRelay(sid)
	if mc := o.Registry.TakeMedia(sid); mc != nil {
		mc.Close()
	}
}
