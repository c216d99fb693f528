package sfu

import (
	"context"
	"sync/atomic"

	"github.com/dkeye/dumpvoice/internal/core"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

type RelayState int32

const (
	RelayStateOk RelayState = iota
	RelayStateMuted
	RelayStateDelete
)

// PacketSource yields RTP packets of one remote track.
type PacketSource interface {
	ReadPacket() (*rtp.Packet, error)
}

type remoteTrack struct {
	track *webrtc.TrackRemote
}

// RemoteSource adapts a pion remote track.
func RemoteSource(track *webrtc.TrackRemote) PacketSource {
	return remoteTrack{track: track}
}

func (r remoteTrack) ReadPacket() (*rtp.Packet, error) {
	pkt, _, err := r.track.ReadRTP()
	return pkt, err
}

// Sink receives the payload of every forwarded packet.
type Sink func(payload []byte)

// Relay pumps one speaker's uplink into a Sink.
type Relay struct {
	Src  PacketSource
	sink Sink

	state  atomic.Int32
	cancel context.CancelFunc
	done   chan struct{}
}

func NewRelay(src PacketSource, sink Sink, cancel context.CancelFunc) *Relay {
	return &Relay{
		Src:    src,
		sink:   sink,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

func (r *Relay) State() RelayState { return RelayState(r.state.Load()) }

func (r *Relay) SetMuted(muted bool) {
	if muted {
		r.state.CompareAndSwap(int32(RelayStateOk), int32(RelayStateMuted))
	} else {
		r.state.CompareAndSwap(int32(RelayStateMuted), int32(RelayStateOk))
	}
}

func (r *Relay) markDelete() {
	r.state.Store(int32(RelayStateDelete))
	if r.cancel != nil {
		r.cancel()
	}
}

// Done is closed when the loop has returned.
func (r *Relay) Done() <-chan struct{} { return r.done }

// loop reads RTP packets from the source and forwards payloads while the relay is Ok.
func (r *Relay) loop(ctx context.Context, logger *zerolog.Logger) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("relay ctx done")
			return
		default:
		}
		pkt, err := r.Src.ReadPacket()
		if err != nil {
			logger.Info().Err(err).Msg("relay read RTP stopped")
			r.state.Store(int32(RelayStateDelete))
			return
		}
		switch r.State() {
		case RelayStateDelete:
			return
		case RelayStateMuted:
		case RelayStateOk:
			if len(pkt.Payload) > 0 {
				r.sink(pkt.Payload)
			}
		}
	}
}

// sessionLogger builds the relay logger of sid.
func sessionLogger(logger zerolog.Logger, sid core.SessionID) zerolog.Logger {
	return logger.With().Str("module", "relay").Str("sid", string(sid)).Logger()
}
