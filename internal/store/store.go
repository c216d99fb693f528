// Package store is the data-access collaborator for users, channels and server membership.
package store

import (
	"context"
	"errors"

	"github.com/dkeye/dumpvoice/internal/domain"
)

var ErrNotFound = errors.New("not found")

// Directory is the read side the realtime core needs.
type Directory interface {
	UserByEmail(ctx context.Context, email string) (*domain.User, error)
	User(ctx context.Context, id domain.UserID) (*domain.User, error)
	Channel(ctx context.Context, id domain.ChannelID) (*domain.Channel, error)
	IsServerMember(ctx context.Context, server domain.ServerID, user domain.UserID) (bool, error)
}

type SeedUser struct {
	ID       int64  `mapstructure:"id"`
	Email    string `mapstructure:"email"`
	Username string `mapstructure:"username"`
}

type SeedChannel struct {
	ID       int64  `mapstructure:"id"`
	ServerID int64  `mapstructure:"server_id"`
	Name     string `mapstructure:"name"`
	Type     string `mapstructure:"type"`
}

type SeedMember struct {
	ServerID int64 `mapstructure:"server_id"`
	UserID   int64 `mapstructure:"user_id"`
}

// Seed is initial content for the memory directory.
type Seed struct {
	Users    []SeedUser    `mapstructure:"users"`
	Channels []SeedChannel `mapstructure:"channels"`
	Members  []SeedMember  `mapstructure:"members"`
}
