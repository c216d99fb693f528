package orch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/dkeye/dumpvoice/internal/core"
	"github.com/dkeye/dumpvoice/internal/domain"
	"github.com/pion/webrtc/v4"
)

type fakeConn struct {
	mu     sync.Mutex
	msgs   []core.Message
	failed bool
}

func (c *fakeConn) TrySend(m core.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failed {
		return errors.New("queue full")
	}
	c.msgs = append(c.msgs, m)
	return nil
}

func (c *fakeConn) Close() {}

func (c *fakeConn) fail() {
	c.mu.Lock()
	c.failed = true
	c.mu.Unlock()
}

func (c *fakeConn) decoded() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, 0, len(c.msgs))
	for _, m := range c.msgs {
		var v map[string]any
		if err := json.Unmarshal(m.Data, &v); err == nil {
			out = append(out, v)
		}
	}
	return out
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

type fakeStream struct {
	mu     sync.Mutex
	writes [][]byte
	closed bool
	// hold, when set, blocks Close until it is closed.
	hold chan struct{}
}

func (s *fakeStream) Write(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, b)
	return nil
}

func (s *fakeStream) Close() error {
	if s.hold != nil {
		<-s.hold
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeStream) written() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.writes...)
}

type fakeDevice struct {
	mu      sync.Mutex
	broken  bool
	inputs  map[domain.UserID]*fakeStream
	outputs map[domain.UserID]*fakeStream
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		inputs:  make(map[domain.UserID]*fakeStream),
		outputs: make(map[domain.UserID]*fakeStream),
	}
}

func (d *fakeDevice) OpenInput(uid domain.UserID) (core.AudioStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.broken {
		return nil, errors.New("device busy")
	}
	s := &fakeStream{}
	d.inputs[uid] = s
	return s, nil
}

func (d *fakeDevice) OpenOutput(uid domain.UserID) (core.AudioStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := &fakeStream{}
	d.outputs[uid] = s
	return s, nil
}

func (d *fakeDevice) input(uid domain.UserID) *fakeStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inputs[uid]
}

func (d *fakeDevice) output(uid domain.UserID) *fakeStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.outputs[uid]
}

type fakeMedia struct {
	mu       sync.Mutex
	tracks   []webrtc.TrackLocal
	closed   int
	onClosed func()
}

func (m *fakeMedia) Start(context.Context) error                   { return nil }
func (m *fakeMedia) AddICECandidate(webrtc.ICECandidateInit) error { return nil }
func (m *fakeMedia) OnICECandidate(func(webrtc.ICECandidateInit))  {}
func (m *fakeMedia) OnTrack(func(context.Context, *webrtc.TrackRemote, *webrtc.RTPReceiver)) {
}

func (m *fakeMedia) ApplyOfferAndCreateAnswer(webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer}, nil
}

func (m *fakeMedia) AddLocalTrack(t webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracks = append(m.tracks, t)
	return nil, nil
}

func (m *fakeMedia) OnClosed(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onClosed = fn
}

func (m *fakeMedia) Close() {
	m.mu.Lock()
	m.closed++
	fn := m.onClosed
	m.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (m *fakeMedia) closeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

var _ core.MediaConnection = (*fakeMedia)(nil)
