package rtc

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dkeye/dumpvoice/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// GatherTimeout bounds how long an answer waits for ICE gathering.
const GatherTimeout = 5 * time.Second

var ErrPeerClosed = errors.New("peer connection closed")

// Peer is the WebRTC leg of one session. It plays the user's output endpoint
// back to the browser and hands remote audio tracks to the orchestrator.
type Peer struct {
	pc     *webrtc.PeerConnection
	logger zerolog.Logger

	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	onICE     func(webrtc.ICECandidateInit)
	onTrack   func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
	onClosed  func()
	pending   []webrtc.ICECandidateInit
	hasRemote bool
	closed    bool

	closeOnce sync.Once
}

var _ core.MediaConnection = (*Peer)(nil)

func DefaultWebRTCConfig(stunURLs ...string) webrtc.Configuration {
	if len(stunURLs) == 0 {
		stunURLs = []string{"stun:stun.l.google.com:19302"}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: stunURLs}},
	}
}

func NewPeer(cfg webrtc.Configuration, sid core.SessionID) (*Peer, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	return &Peer{
		pc:     pc,
		logger: log.With().Str("module", "rtc.peer").Str("sid", string(sid)).Logger(),
	}, nil
}

// Start wires the peer callbacks. The peer's own context ends with ctx or
// when ICE gives up, whichever comes first.
func (p *Peer) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPeerClosed
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	peerCtx, cancel := p.ctx, p.cancel
	p.mu.Unlock()

	p.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		p.logger.Debug().Str("ice_state", s.String()).Msg("ice state")
		switch s {
		case webrtc.ICEConnectionStateDisconnected, webrtc.ICEConnectionStateFailed, webrtc.ICEConnectionStateClosed:
			cancel()
		}
	})

	p.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		p.logger.Info().Str("peer_state", s.String()).Msg("peer state")
		switch s {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			p.fireClosed()
		}
	})

	p.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		p.mu.Lock()
		fn := p.onICE
		p.mu.Unlock()
		if fn != nil {
			fn(cand.ToJSON())
		}
	})

	p.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		p.logger.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("codec", track.Codec().MimeType).
			Msg("remote track")
		p.mu.Lock()
		fn := p.onTrack
		p.mu.Unlock()
		if fn != nil {
			fn(peerCtx, track, receiver)
		}
	})

	return nil
}

// ApplyOfferAndCreateAnswer validates the offer, answers it and waits for ICE
// gathering so the answer carries every local candidate.
func (p *Peer) ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if err := ValidateOffer(offer); err != nil {
		return nil, err
	}
	if err := p.pc.SetRemoteDescription(offer); err != nil {
		return nil, err
	}
	p.flushPending()

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}
	gathered := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}

	timer := time.NewTimer(GatherTimeout)
	defer timer.Stop()
	select {
	case <-gathered:
	case <-timer.C:
		p.logger.Warn().Msg("ice gathering timed out, answering with partial candidates")
	case <-p.done():
		return nil, ErrPeerClosed
	}
	return p.pc.LocalDescription(), nil
}

// AddICECandidate applies a remote candidate. Candidates that arrive before
// the offer are queued until the remote description is set.
func (p *Peer) AddICECandidate(ci webrtc.ICECandidateInit) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPeerClosed
	}
	if !p.hasRemote {
		p.pending = append(p.pending, ci)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()
	return p.pc.AddICECandidate(ci)
}

func (p *Peer) flushPending() {
	p.mu.Lock()
	p.hasRemote = true
	queued := p.pending
	p.pending = nil
	p.mu.Unlock()
	for _, ci := range queued {
		if err := p.pc.AddICECandidate(ci); err != nil {
			p.logger.Warn().Err(err).Msg("queued candidate")
		}
	}
}

func (p *Peer) done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ctx == nil {
		return nil
	}
	return p.ctx.Done()
}

func (p *Peer) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if err := p.pc.Close(); err != nil {
		p.logger.Error().Err(err).Msg("close")
	} else {
		p.logger.Debug().Msg("closed")
	}
	p.fireClosed()
}

func (p *Peer) fireClosed() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		fn := p.onClosed
		p.mu.Unlock()
		if fn != nil {
			fn()
		}
	})
}

func (p *Peer) LocalDescription() *webrtc.SessionDescription {
	return p.pc.LocalDescription()
}

func (p *Peer) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	p.mu.Lock()
	p.onICE = fn
	p.mu.Unlock()
}

func (p *Peer) OnTrack(fn func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)) {
	p.mu.Lock()
	p.onTrack = fn
	p.mu.Unlock()
}

func (p *Peer) OnClosed(fn func()) {
	p.mu.Lock()
	p.onClosed = fn
	p.mu.Unlock()
}

// AddLocalTrack sends a local track, typically the user's output endpoint.
func (p *Peer) AddLocalTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	return p.pc.AddTrack(track)
}
