package rtc

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/dkeye/dumpvoice/internal/core"
	"github.com/dkeye/dumpvoice/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
)

const (
	opusClockRate   = 48000
	opusPayloadType = 111
)

var (
	ErrDeviceBusy   = errors.New("audio device busy")
	ErrStreamClosed = errors.New("audio stream closed")
)

var opusCodec = webrtc.RTPCodecCapability{
	MimeType:  webrtc.MimeTypeOpus,
	ClockRate: opusClockRate,
	Channels:  2,
}

// TrackDevice backs every audio endpoint with a local WebRTC track.
// Writes to a track nobody has bound are dropped by pion.
type TrackDevice struct {
	SampleDuration time.Duration
	// MaxStreams caps open streams; zero means unlimited.
	MaxStreams int

	mu   sync.Mutex
	open int
}

var _ core.AudioDevice = (*TrackDevice)(nil)

func NewTrackDevice(sampleDuration time.Duration, maxStreams int) *TrackDevice {
	if sampleDuration <= 0 {
		sampleDuration = 20 * time.Millisecond
	}
	return &TrackDevice{SampleDuration: sampleDuration, MaxStreams: maxStreams}
}

func (d *TrackDevice) reserve() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.MaxStreams > 0 && d.open >= d.MaxStreams {
		return ErrDeviceBusy
	}
	d.open++
	return nil
}

func (d *TrackDevice) release() {
	d.mu.Lock()
	d.open--
	d.mu.Unlock()
}

// Open reports the number of streams currently open.
func (d *TrackDevice) Open() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

// OpenInput returns the capture stream of uid: payloads are packetized as RTP.
func (d *TrackDevice) OpenInput(uid domain.UserID) (core.AudioStream, error) {
	if err := d.reserve(); err != nil {
		return nil, err
	}
	track, err := webrtc.NewTrackLocalStaticRTP(opusCodec, fmt.Sprintf("input-%d", uid), fmt.Sprintf("user-%d", uid))
	if err != nil {
		d.release()
		return nil, err
	}
	return &inputStream{
		dev:     d,
		track:   track,
		ssrc:    rand.Uint32(),
		seq:     uint16(rand.Uint32()),
		ts:      rand.Uint32(),
		tsDelta: uint32(d.SampleDuration.Seconds() * opusClockRate),
	}, nil
}

// OpenOutput returns the playback stream of uid, attachable to its peer connection.
func (d *TrackDevice) OpenOutput(uid domain.UserID) (core.AudioStream, error) {
	if err := d.reserve(); err != nil {
		return nil, err
	}
	track, err := webrtc.NewTrackLocalStaticSample(opusCodec, fmt.Sprintf("output-%d", uid), fmt.Sprintf("user-%d", uid))
	if err != nil {
		d.release()
		return nil, err
	}
	return &outputStream{dev: d, track: track, duration: d.SampleDuration}, nil
}

type inputStream struct {
	dev   *TrackDevice
	track *webrtc.TrackLocalStaticRTP

	mu      sync.Mutex
	closed  bool
	ssrc    uint32
	seq     uint16
	ts      uint32
	tsDelta uint32
}

func (s *inputStream) Write(data []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStreamClosed
	}
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    opusPayloadType,
			SequenceNumber: s.seq,
			Timestamp:      s.ts,
			SSRC:           s.ssrc,
		},
		Payload: data,
	}
	s.seq++
	s.ts += s.tsDelta
	s.mu.Unlock()
	return s.track.WriteRTP(pkt)
}

func (s *inputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.dev.release()
	log.Debug().Str("module", "rtc.device").Str("track", s.track.ID()).Msg("input closed")
	return nil
}

func (s *inputStream) LocalTrack() webrtc.TrackLocal { return s.track }

type outputStream struct {
	dev      *TrackDevice
	track    *webrtc.TrackLocalStaticSample
	duration time.Duration

	mu     sync.Mutex
	closed bool
}

func (s *outputStream) Write(data []byte) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrStreamClosed
	}
	return s.track.WriteSample(media.Sample{Data: data, Duration: s.duration})
}

func (s *outputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.dev.release()
	log.Debug().Str("module", "rtc.device").Str("track", s.track.ID()).Msg("output closed")
	return nil
}

func (s *outputStream) LocalTrack() webrtc.TrackLocal { return s.track }
