package core

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/dkeye/dumpvoice/internal/domain"
)

var errFakeClosed = errors.New("fake closed")

type fakeConn struct {
	mu     sync.Mutex
	msgs   []Message
	closed bool
}

func (c *fakeConn) TrySend(m Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errFakeClosed
	}
	c.msgs = append(c.msgs, m)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
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

type fakeStream struct {
	mu     sync.Mutex
	writes [][]byte
	closes int
}

func (s *fakeStream) Write(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, b)
	return nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

type fakeDevice struct {
	mu      sync.Mutex
	failIn  bool
	failOut bool
	inputs  []*fakeStream
	outputs []*fakeStream
}

func (d *fakeDevice) OpenInput(domain.UserID) (AudioStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failIn {
		return nil, errors.New("device busy")
	}
	s := &fakeStream{}
	d.inputs = append(d.inputs, s)
	return s, nil
}

func (d *fakeDevice) OpenOutput(domain.UserID) (AudioStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failOut {
		return nil, errors.New("driver error")
	}
	s := &fakeStream{}
	d.outputs = append(d.outputs, s)
	return s, nil
}
