package core

import (
	"cmp"
	"slices"
	"sync"

	"github.com/dkeye/dumpvoice/internal/domain"
	"github.com/rs/zerolog/log"
)

type member struct {
	sid   SessionID
	state domain.ParticipantState
	conn  SignalConnection
}

type channelEntry struct {
	members map[domain.UserID]*member
}

// Recipient is a point-in-time view of one member, used for fan-out outside the lock.
type Recipient struct {
	UserID domain.UserID
	SID    SessionID
	Conn   SignalConnection
}

// LeaveResult describes a removed membership.
type LeaveResult struct {
	Channel   domain.ChannelID
	Remaining int
}

// EchoMode reports whether at most one participant is left behind.
func (r LeaveResult) EchoMode() bool { return r.Remaining <= 1 }

type JoinResult struct {
	State domain.ParticipantState
	// Joined is false when the user already held this exact channel.
	Joined   bool
	EchoMode bool
	Size     int
	// Left is set when the join moved the user out of another channel.
	Left *LeaveResult
	// Displaced is the older session of the same user, if any.
	Displaced *Recipient
}

type ChannelInfo struct {
	ID          domain.ChannelID `json:"id"`
	MemberCount int              `json:"member_count"`
}

// Table is the process-wide voice membership state.
// A user is in at most one channel; empty channels are dropped.
type Table struct {
	mu       sync.RWMutex
	channels map[domain.ChannelID]*channelEntry
	byUser   map[domain.UserID]domain.ChannelID
}

func NewTable() *Table {
	return &Table{
		channels: make(map[domain.ChannelID]*channelEntry),
		byUser:   make(map[domain.UserID]domain.ChannelID),
	}
}

func (t *Table) getOrCreateLocked(ch domain.ChannelID) *channelEntry {
	e, ok := t.channels[ch]
	if !ok {
		e = &channelEntry{members: make(map[domain.UserID]*member)}
		t.channels[ch] = e
	}
	return e
}

func (t *Table) removeLocked(uid domain.UserID) (LeaveResult, *member, bool) {
	ch, ok := t.byUser[uid]
	if !ok {
		return LeaveResult{}, nil, false
	}
	delete(t.byUser, uid)
	e := t.channels[ch]
	m := e.members[uid]
	delete(e.members, uid)
	if len(e.members) == 0 {
		delete(t.channels, ch)
	}
	return LeaveResult{Channel: ch, Remaining: len(e.members)}, m, true
}

// Join puts uid into ch on behalf of session sid.
// Joining the channel already held is a no-op that returns the existing state;
// if another session held it, that session is reported as Displaced.
func (t *Table) Join(ch domain.ChannelID, uid domain.UserID, sid SessionID, conn SignalConnection) JoinResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	var res JoinResult
	if cur, ok := t.byUser[uid]; ok {
		m := t.channels[cur].members[uid]
		if m.sid != sid {
			res.Displaced = &Recipient{UserID: uid, SID: m.sid, Conn: m.conn}
		}
		if cur == ch {
			m.sid, m.conn = sid, conn
			res.State = m.state
			res.Size = len(t.channels[ch].members)
			res.EchoMode = res.Size == 1
			return res
		}
		left, _, _ := t.removeLocked(uid)
		res.Left = &left
	}

	e := t.getOrCreateLocked(ch)
	e.members[uid] = &member{sid: sid, conn: conn}
	t.byUser[uid] = ch

	res.Joined = true
	res.Size = len(e.members)
	res.EchoMode = res.Size == 1
	log.Debug().Str("module", "core.members").Int64("channel", int64(ch)).Int64("user", int64(uid)).Int("size", res.Size).Msg("member added")
	return res
}

// Leave removes uid from whatever channel it occupies.
func (t *Table) Leave(uid domain.UserID) (LeaveResult, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	res, _, ok := t.removeLocked(uid)
	if ok {
		log.Debug().Str("module", "core.members").Int64("channel", int64(res.Channel)).Int64("user", int64(uid)).Int("remaining", res.Remaining).Msg("member removed")
	}
	return res, ok
}

// LeaveSession is Leave restricted to the membership owned by sid.
func (t *Table) LeaveSession(uid domain.UserID, sid SessionID) (LeaveResult, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch, ok := t.byUser[uid]
	if !ok || t.channels[ch].members[uid].sid != sid {
		return LeaveResult{}, false
	}
	res, _, _ := t.removeLocked(uid)
	log.Debug().Str("module", "core.members").Int64("channel", int64(res.Channel)).Int64("user", int64(uid)).Str("sid", string(sid)).Int("remaining", res.Remaining).Msg("member removed")
	return res, true
}

// MembersOf returns the sorted user ids currently in ch.
func (t *Table) MembersOf(ch domain.ChannelID) []domain.UserID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.channels[ch]
	if !ok {
		return nil
	}
	out := make([]domain.UserID, 0, len(e.members))
	for uid := range e.members {
		out = append(out, uid)
	}
	slices.Sort(out)
	return out
}

// Participants returns the sorted wire view of ch.
func (t *Table) Participants(ch domain.ChannelID) []domain.Participant {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.channels[ch]
	if !ok {
		return nil
	}
	out := make([]domain.Participant, 0, len(e.members))
	for uid, m := range e.members {
		out = append(out, domain.NewParticipant(uid, m.state))
	}
	slices.SortFunc(out, func(a, b domain.Participant) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// Recipients snapshots the live connections of ch.
func (t *Table) Recipients(ch domain.ChannelID) []Recipient {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.channels[ch]
	if !ok {
		return nil
	}
	out := make([]Recipient, 0, len(e.members))
	for uid, m := range e.members {
		out = append(out, Recipient{UserID: uid, SID: m.sid, Conn: m.conn})
	}
	return out
}

func (t *Table) ChannelOf(uid domain.UserID) (domain.ChannelID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ch, ok := t.byUser[uid]
	return ch, ok
}

// SessionOf returns the session owning uid's membership.
func (t *Table) SessionOf(uid domain.UserID) (SessionID, domain.ChannelID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ch, ok := t.byUser[uid]
	if !ok {
		return "", 0, false
	}
	return t.channels[ch].members[uid].sid, ch, true
}

func (t *Table) StateOf(uid domain.UserID) (domain.ParticipantState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ch, ok := t.byUser[uid]
	if !ok {
		return domain.ParticipantState{}, false
	}
	return t.channels[ch].members[uid].state, true
}

// UpdateState mutates the state of uid if sid owns the membership.
func (t *Table) UpdateState(uid domain.UserID, sid SessionID, fn func(*domain.ParticipantState)) (domain.ParticipantState, domain.ChannelID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch, ok := t.byUser[uid]
	if !ok {
		return domain.ParticipantState{}, 0, false
	}
	m := t.channels[ch].members[uid]
	if m.sid != sid {
		return domain.ParticipantState{}, 0, false
	}
	fn(&m.state)
	return m.state, ch, true
}

func (t *Table) Size(ch domain.ChannelID) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if e, ok := t.channels[ch]; ok {
		return len(e.members)
	}
	return 0
}

func (t *Table) Channels() []ChannelInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]ChannelInfo, 0, len(t.channels))
	for id, e := range t.channels {
		out = append(out, ChannelInfo{ID: id, MemberCount: len(e.members)})
	}
	slices.SortFunc(out, func(a, b ChannelInfo) int { return cmp.Compare(a.ID, b.ID) })
	return out
}
