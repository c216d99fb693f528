package core

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/dumpvoice/internal/domain"
	"github.com/rs/zerolog/log"
)

var ErrDeviceUnavailable = errors.New("audio device unavailable")

// AudioStream is an opaque per-user sink owned by the audio subsystem.
type AudioStream interface {
	Write(data []byte) error
	Close() error
}

// AudioDevice opens per-user streams. Implementations may fail when busy.
type AudioDevice interface {
	OpenInput(uid domain.UserID) (AudioStream, error)
	OpenOutput(uid domain.UserID) (AudioStream, error)
}

type AudioEndpointPair struct {
	Input  AudioStream
	Output AudioStream
}

// AudioRegistry tracks one endpoint pair per user.
// CloseFor removes the entry before closing it, so concurrent cleanup paths
// close each pair exactly once.
type AudioRegistry struct {
	device AudioDevice

	mu        sync.Mutex
	endpoints map[domain.UserID]*AudioEndpointPair
}

func NewAudioRegistry(device AudioDevice) *AudioRegistry {
	return &AudioRegistry{
		device:    device,
		endpoints: make(map[domain.UserID]*AudioEndpointPair),
	}
}

// OpenFor allocates the pair for uid, or returns the one already open.
func (r *AudioRegistry) OpenFor(uid domain.UserID) (*AudioEndpointPair, error) {
	r.mu.Lock()
	if p, ok := r.endpoints[uid]; ok {
		r.mu.Unlock()
		return p, nil
	}
	r.mu.Unlock()

	if r.device == nil {
		return nil, ErrDeviceUnavailable
	}
	in, err := r.device.OpenInput(uid)
	if err != nil {
		return nil, fmt.Errorf("%w: input: %v", ErrDeviceUnavailable, err)
	}
	out, err := r.device.OpenOutput(uid)
	if err != nil {
		closeStream(uid, "input", in)
		return nil, fmt.Errorf("%w: output: %v", ErrDeviceUnavailable, err)
	}
	p := &AudioEndpointPair{Input: in, Output: out}

	r.mu.Lock()
	if cur, ok := r.endpoints[uid]; ok {
		r.mu.Unlock()
		closeStream(uid, "input", in)
		closeStream(uid, "output", out)
		return cur, nil
	}
	r.endpoints[uid] = p
	r.mu.Unlock()

	log.Debug().Str("module", "core.audio").Int64("user", int64(uid)).Msg("endpoints opened")
	return p, nil
}

// CloseFor releases the pair of uid. It reports whether anything was open.
func (r *AudioRegistry) CloseFor(uid domain.UserID) bool {
	r.mu.Lock()
	p, ok := r.endpoints[uid]
	delete(r.endpoints, uid)
	r.mu.Unlock()
	if !ok {
		return false
	}
	closeStream(uid, "input", p.Input)
	closeStream(uid, "output", p.Output)
	log.Debug().Str("module", "core.audio").Int64("user", int64(uid)).Msg("endpoints closed")
	return true
}

func (r *AudioRegistry) Endpoints(uid domain.UserID) (*AudioEndpointPair, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.endpoints[uid]
	return p, ok
}

// Capture writes an uplink payload of uid into its input stream.
// Users without endpoints are signaling-only and are skipped.
func (r *AudioRegistry) Capture(uid domain.UserID, data []byte) error {
	p, ok := r.Endpoints(uid)
	if !ok {
		return nil
	}
	return p.Input.Write(data)
}

// Play writes a payload into the output stream of uid.
func (r *AudioRegistry) Play(uid domain.UserID, data []byte) error {
	p, ok := r.Endpoints(uid)
	if !ok {
		return nil
	}
	return p.Output.Write(data)
}

func (r *AudioRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.endpoints)
}

// CloseAll releases every open pair.
func (r *AudioRegistry) CloseAll() {
	r.mu.Lock()
	users := make([]domain.UserID, 0, len(r.endpoints))
	for uid := range r.endpoints {
		users = append(users, uid)
	}
	r.mu.Unlock()
	for _, uid := range users {
		r.CloseFor(uid)
	}
}

func closeStream(uid domain.UserID, which string, s AudioStream) {
	if err := s.Close(); err != nil {
		log.Warn().Err(err).Str("module", "core.audio").Int64("user", int64(uid)).Str("stream", which).Msg("close stream")
	}
}
