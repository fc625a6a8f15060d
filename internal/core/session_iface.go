package core

import (
	"github.com/dkeye/proxvoice/internal/domain"
	"github.com/google/uuid"
)

// SessionID is the client token. It is a secret and never leaves the server.
type SessionID string

// Peer is the public id other members address this session by.
func (s SessionID) Peer() domain.PeerID {
	return domain.PeerID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(s)).String())
}

// MemberSession binds domain.Member and its transport endpoint.
// This is what a world stores and fans out to.
type MemberSession interface {
	Meta() *domain.Member
	Signal() SignalConnection
}
