package store

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/dkeye/dumpvoice/internal/domain"
)

type Memory struct {
	mu       sync.RWMutex
	users    map[domain.UserID]*domain.User
	byEmail  map[string]domain.UserID
	channels map[domain.ChannelID]*domain.Channel
	members  map[domain.ServerID]map[domain.UserID]struct{}
}

func NewMemory() *Memory {
	return &Memory{
		users:    make(map[domain.UserID]*domain.User),
		byEmail:  make(map[string]domain.UserID),
		channels: make(map[domain.ChannelID]*domain.Channel),
		members:  make(map[domain.ServerID]map[domain.UserID]struct{}),
	}
}

// NewMemoryFromSeed builds a directory and loads seed into it.
func NewMemoryFromSeed(seed Seed) (*Memory, error) {
	m := NewMemory()
	for _, su := range seed.Users {
		u, err := domain.NewUser(domain.UserID(su.ID), su.Email, su.Username)
		if err != nil {
			return nil, fmt.Errorf("seed user %d: %w", su.ID, err)
		}
		m.AddUser(u)
	}
	for _, sc := range seed.Channels {
		typ := domain.ChannelType(sc.Type)
		if typ == "" {
			typ = domain.ChannelVoice
		}
		m.AddChannel(&domain.Channel{
			ID:       domain.ChannelID(sc.ID),
			ServerID: domain.ServerID(sc.ServerID),
			Name:     sc.Name,
			Type:     typ,
		})
	}
	for _, sm := range seed.Members {
		m.AddMember(domain.ServerID(sm.ServerID), domain.UserID(sm.UserID))
	}
	return m, nil
}

func (m *Memory) AddUser(u *domain.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	m.byEmail[strings.ToLower(u.Email)] = u.ID
}

func (m *Memory) AddChannel(ch *domain.Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.ID] = ch
}

func (m *Memory) AddMember(server domain.ServerID, user domain.UserID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.members[server]
	if !ok {
		set = make(map[domain.UserID]struct{})
		m.members[server] = set
	}
	set[user] = struct{}{}
}

func (m *Memory) UserByEmail(_ context.Context, email string) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, ErrNotFound
	}
	u := *m.users[id]
	return &u, nil
}

func (m *Memory) User(_ context.Context, id domain.UserID) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *Memory) Channel(_ context.Context, id domain.ChannelID) (*domain.Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *ch
	return &c, nil
}

func (m *Memory) IsServerMember(_ context.Context, server domain.ServerID, user domain.UserID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.members[server][user]
	return ok, nil
}
