package sfu

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chanSource struct {
	pkts chan *rtp.Packet
}

func newChanSource() *chanSource { return &chanSource{pkts: make(chan *rtp.Packet, 16)} }

func (s *chanSource) ReadPacket() (*rtp.Packet, error) {
	pkt, ok := <-s.pkts
	if !ok {
		return nil, io.EOF
	}
	return pkt, nil
}

type collect struct {
	mu   sync.Mutex
	got  [][]byte
	seen chan struct{}
}

func newCollect() *collect { return &collect{seen: make(chan struct{}, 16)} }

func (c *collect) sink(p []byte) {
	c.mu.Lock()
	c.got = append(c.got, p)
	c.mu.Unlock()
	c.seen <- struct{}{}
}

func (c *collect) payloads() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.got...)
}

func waitSeen(t *testing.T, c *collect) {
	t.Helper()
	select {
	case <-c.seen:
	case <-time.After(time.Second):
		t.Fatal("payload not forwarded")
	}
}

func TestRelayForwardsUntilSourceEnds(t *testing.T) {
	m := NewRelayManager()
	src := newChanSource()
	c := newCollect()
	r := m.StartRelay(context.Background(), "s1", src, c.sink)

	src.pkts <- &rtp.Packet{Payload: []byte{1}}
	waitSeen(t, c)
	src.pkts <- &rtp.Packet{}
	src.pkts <- &rtp.Packet{Payload: []byte{2}}
	waitSeen(t, c)

	close(src.pkts)
	<-r.Done()
	assert.Equal(t, [][]byte{{1}, {2}}, c.payloads())
	assert.Equal(t, RelayStateDelete, r.State())
}

func TestRelayMuted(t *testing.T) {
	m := NewRelayManager()
	src := newChanSource()
	c := newCollect()
	r := m.StartRelay(context.Background(), "s1", src, c.sink)

	m.SetMuted("s1", true)
	assert.Equal(t, RelayStateMuted, r.State())
	src.pkts <- &rtp.Packet{Payload: []byte{1}}

	m.SetMuted("s1", false)
	src.pkts <- &rtp.Packet{Payload: []byte{2}}
	waitSeen(t, c)

	close(src.pkts)
	<-r.Done()
	got := c.payloads()
	require.NotEmpty(t, got)
	assert.Equal(t, []byte{2}, got[len(got)-1])
}

func TestStopRelay(t *testing.T) {
	m := NewRelayManager()
	src := newChanSource()
	r := m.StartRelay(context.Background(), "s1", src, func([]byte) {})

	m.StopRelay("s1")
	assert.Equal(t, RelayStateDelete, r.State())
	m.StopRelay("s1")

	// the blocked read returns once the track ends
	close(src.pkts)
	<-r.Done()
}

func TestStopAllWaitsForLoops(t *testing.T) {
	m := NewRelayManager()
	ended := newChanSource()
	blocked := newChanSource()
	r1 := m.StartRelay(context.Background(), "s1", ended, func([]byte) {})
	r2 := m.StartRelay(context.Background(), "s2", blocked, func([]byte) {})
	close(ended.pkts)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Equal(t, 1, m.StopAll(ctx))
	<-r1.Done()
	assert.Equal(t, RelayStateDelete, r2.State())

	close(blocked.pkts)
	<-r2.Done()
	assert.Equal(t, 0, m.StopAll(context.Background()))
}
