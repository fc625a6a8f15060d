package voice

import (
	"slices"
	"sync"

	"github.com/dkeye/proxvoice/internal/domain"
	"github.com/rs/zerolog/log"
)

// Registry owns peer-to-session membership. At most one non-closed
// session exists per peer.
type Registry struct {
	mu       sync.RWMutex
	sessions map[domain.PeerID]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[domain.PeerID]*Session)}
}

// Register adds s unless a live session for the same peer exists.
func (r *Registry) Register(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[s.peer]; ok && cur.State() != domain.StateClosed {
		return false
	}
	r.sessions[s.peer] = s
	log.Debug().Str("module", "voice.registry").Str("peer", string(s.peer)).Msg("registered session")
	return true
}

func (r *Registry) Get(peer domain.PeerID) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[peer]
}

// Remove deletes the entry for peer only if it still points at s.
func (r *Registry) Remove(peer domain.PeerID, s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[peer]; !ok || cur != s {
		return false
	}
	delete(r.sessions, peer)
	log.Debug().Str("module", "voice.registry").Str("peer", string(peer)).Msg("removed session")
	return true
}

// IDs returns the registered peers in sorted order.
func (r *Registry) IDs() []domain.PeerID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.PeerID, 0, len(r.sessions))
	for id := range r.sessions {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}
