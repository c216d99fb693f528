// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
)

const (
	MaxUsernameLen = 36
)

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
	ErrEmailEmpty      = errors.New("email empty")
)

// UserID is issued by the external user store.
type UserID int64

type User struct {
	ID       UserID `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
	IsActive bool   `json:"is_active"`
}

// NewUser is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewUser(id UserID, email, username string) (*User, error) {
	if email == "" {
		return nil, ErrEmailEmpty
	}
	u := &User{ID: id, Email: email, IsActive: true}
	if err := u.SetUsername(username); err != nil {
		return nil, err
	}
	return u, nil
}

func (u *User) SetUsername(username string) error {
	if len(username) == 0 {
		return ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLen {
		return ErrUsernameTooLong
	}
	u.Username = username
	return nil
}
