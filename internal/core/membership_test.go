package core

import (
	"fmt"
	"sync"
	"testing"

	"github.com/dkeye/dumpvoice/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinCreatesChannelAndEchoMode(t *testing.T) {
	tb := NewTable()

	r1 := tb.Join(7, 1, "s1", &fakeConn{})
	assert.True(t, r1.Joined)
	assert.True(t, r1.EchoMode)
	assert.Equal(t, domain.ParticipantState{}, r1.State)

	r2 := tb.Join(7, 2, "s2", &fakeConn{})
	assert.True(t, r2.Joined)
	assert.False(t, r2.EchoMode)
	assert.Equal(t, 2, r2.Size)

	assert.Equal(t, []domain.UserID{1, 2}, tb.MembersOf(7))
}

func TestJoinIsIdempotent(t *testing.T) {
	tb := NewTable()
	conn := &fakeConn{}
	tb.Join(7, 1, "s1", conn)
	_, _, ok := tb.UpdateState(1, "s1", func(st *domain.ParticipantState) { st.IsMuted = true })
	require.True(t, ok)

	again := tb.Join(7, 1, "s1", conn)
	assert.False(t, again.Joined)
	assert.Nil(t, again.Displaced)
	assert.Nil(t, again.Left)
	assert.True(t, again.State.IsMuted)
	assert.Equal(t, []domain.UserID{1}, tb.MembersOf(7))
}

func TestJoinOtherChannelLeavesFirst(t *testing.T) {
	tb := NewTable()
	tb.Join(1, 10, "a", &fakeConn{})
	tb.Join(1, 11, "b", &fakeConn{})

	res := tb.Join(2, 10, "a", &fakeConn{})
	require.NotNil(t, res.Left)
	assert.Equal(t, domain.ChannelID(1), res.Left.Channel)
	assert.Equal(t, 1, res.Left.Remaining)
	assert.True(t, res.Left.EchoMode())
	assert.Nil(t, res.Displaced)

	assert.Equal(t, []domain.UserID{11}, tb.MembersOf(1))
	assert.Equal(t, []domain.UserID{10}, tb.MembersOf(2))
	ch, ok := tb.ChannelOf(10)
	assert.True(t, ok)
	assert.Equal(t, domain.ChannelID(2), ch)
}

func TestJoinFromSecondSessionDisplaces(t *testing.T) {
	tb := NewTable()
	old := &fakeConn{}
	tb.Join(3, 5, "old", old)

	res := tb.Join(3, 5, "new", &fakeConn{})
	assert.False(t, res.Joined)
	require.NotNil(t, res.Displaced)
	assert.Equal(t, SessionID("old"), res.Displaced.SID)
	assert.Same(t, old, res.Displaced.Conn)

	sid, _, ok := tb.SessionOf(5)
	require.True(t, ok)
	assert.Equal(t, SessionID("new"), sid)

	_, ok = tb.LeaveSession(5, "old")
	assert.False(t, ok, "stale session must not remove the new membership")
	_, ok = tb.LeaveSession(5, "new")
	assert.True(t, ok)
}

func TestLeaveRemovesEmptyChannel(t *testing.T) {
	tb := NewTable()
	tb.Join(7, 1, "s1", &fakeConn{})
	tb.Join(7, 2, "s2", &fakeConn{})

	res, ok := tb.Leave(1)
	require.True(t, ok)
	assert.Equal(t, domain.ChannelID(7), res.Channel)
	assert.Equal(t, 1, res.Remaining)
	assert.Len(t, tb.Channels(), 1)

	_, ok = tb.Leave(2)
	require.True(t, ok)
	assert.Empty(t, tb.Channels())
	assert.Nil(t, tb.MembersOf(7))

	_, ok = tb.Leave(2)
	assert.False(t, ok)
}

func TestUpdateStateRequiresOwner(t *testing.T) {
	tb := NewTable()
	tb.Join(7, 1, "s1", &fakeConn{})

	_, _, ok := tb.UpdateState(1, "other", func(st *domain.ParticipantState) { st.IsDeafened = true })
	assert.False(t, ok)

	st, ch, ok := tb.UpdateState(1, "s1", func(st *domain.ParticipantState) { st.IsDeafened = true })
	require.True(t, ok)
	assert.Equal(t, domain.ChannelID(7), ch)
	assert.True(t, st.IsDeafened)

	got, ok := tb.StateOf(1)
	require.True(t, ok)
	assert.True(t, got.IsDeafened)
}

func TestConcurrentJoinLeaveKeepsUsersExclusive(t *testing.T) {
	tb := NewTable()
	const users = 20
	const channels = 4

	var wg sync.WaitGroup
	for u := 0; u < users; u++ {
		wg.Add(1)
		go func(uid domain.UserID) {
			defer wg.Done()
			sid := SessionID(fmt.Sprint(uid))
			for i := 0; i < 200; i++ {
				tb.Join(domain.ChannelID(i%channels), uid, sid, &fakeConn{})
				if i%3 == 0 {
					tb.Leave(uid)
				}
			}
		}(domain.UserID(u))
	}
	wg.Wait()

	seen := map[domain.UserID]int{}
	for _, info := range tb.Channels() {
		assert.Positive(t, info.MemberCount)
		for _, uid := range tb.MembersOf(info.ID) {
			seen[uid]++
			ch, ok := tb.ChannelOf(uid)
			assert.True(t, ok)
			assert.Equal(t, info.ID, ch)
		}
	}
	for uid, n := range seen {
		assert.Equal(t, 1, n, "user %d in %d channels", uid, n)
	}
}
