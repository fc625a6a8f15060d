// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"sync"
)

const (
	MaxUsernameLen = 36
	DefaultName    = "guest"
)

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
)

// User is the public view of a participant as sent on the wire.
type User struct {
	ID       PeerID `json:"id"`
	Username string `json:"username"`
}

func ValidateUsername(username string) error {
	if len(username) == 0 {
		return ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLen {
		return ErrUsernameTooLong
	}
	return nil
}

// Account is the mutable record behind a User. One Account is shared by
// the registry and every world member of the same client, so fields are
// only reached through its methods.
type Account struct {
	id PeerID

	mu       sync.RWMutex
	username string
}

func NewAccount(id PeerID) *Account {
	return &Account{id: id, username: DefaultName}
}

func (a *Account) ID() PeerID { return a.id }

func (a *Account) Username() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.username
}

// User returns a copy taken under the account lock.
func (a *Account) User() User {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return User{ID: a.id, Username: a.username}
}

func (a *Account) SetUsername(username string) error {
	if err := ValidateUsername(username); err != nil {
		return err
	}
	a.mu.Lock()
	a.username = username
	a.mu.Unlock()
	return nil
}
