package app

import (
	"context"
	"sync"

	"github.com/dkeye/proxvoice/internal/core"
	"github.com/dkeye/proxvoice/internal/domain"
	"github.com/rs/zerolog/log"
)

type sessionEntry struct {
	World   domain.WorldName
	Session core.MemberSession
	Cancel  context.CancelFunc
}

// Registry maps relay sessions to their signal connection, user and world.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]*sessionEntry
	users    map[core.SessionID]*domain.Account
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[core.SessionID]*sessionEntry),
		users:    make(map[core.SessionID]*domain.Account),
	}
}

func (r *Registry) GetOrCreateUser(sid core.SessionID) *domain.Account {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[sid]; ok {
		return u
	}
	u := domain.NewAccount(sid.Peer())
	r.users[sid] = u
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("created new user")
	return u
}

// User returns a copy of the user record.
func (r *Registry) User(sid core.SessionID) (domain.User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[sid]
	if !ok {
		return domain.User{}, false
	}
	return u.User(), true
}

func (r *Registry) UpdateUsername(sid core.SessionID, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[sid]
	if !ok {
		u = domain.NewAccount(sid.Peer())
		r.users[sid] = u
	}
	if err := u.SetUsername(name); err != nil {
		return err
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("username", name).Msg("updated username")
	return nil
}

// BindSignal binds a fresh signal session. A previous session under the
// same sid is replaced and its context canceled.
func (r *Registry) BindSignal(sid core.SessionID, sess core.MemberSession, cancel context.CancelFunc) {
	r.mu.Lock()
	old, replaced := r.sessions[sid]
	r.sessions[sid] = &sessionEntry{Session: sess, Cancel: cancel}
	r.mu.Unlock()
	if replaced && old.Cancel != nil {
		old.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Bool("replaced", replaced).Msg("bound signal")
}

func (r *Registry) GetSession(sid core.SessionID) (core.MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok {
		return e.Session, true
	}
	return nil, false
}

// Unbind removes sid only while it is still bound to sess, so a stale
// connection closing late cannot unbind its replacement.
func (r *Registry) Unbind(sid core.SessionID, sess core.MemberSession) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok || e.Session != sess {
		return false
	}
	delete(r.sessions, sid)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unbind session")
	return true
}

func (r *Registry) WorldOf(sid core.SessionID) (domain.WorldName, core.MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.sessions[sid]
	if !ok || entry.World == "" {
		return "", nil, false
	}
	return entry.World, entry.Session, true
}

func (r *Registry) UpdateWorld(sid core.SessionID, world domain.WorldName) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.sessions[sid]
	if !ok {
		return false
	}
	entry.World = world
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("world", string(world)).Msg("updated world")
	return true
}

func (r *Registry) RemoveWorld(sid core.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.sessions[sid]; ok {
		entry.World = ""
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("removed world association")
}

type RegSnap struct {
	SID     core.SessionID
	Session core.MemberSession
}

func (r *Registry) MembersOfWorld(name domain.WorldName) []RegSnap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RegSnap, 0, len(r.sessions))
	for sid, e := range r.sessions {
		if e.World == name {
			out = append(out, RegSnap{SID: sid, Session: e.Session})
		}
	}
	return out
}

func (r *Registry) Cancel(sid core.SessionID) bool {
	r.mu.RLock()
	e, ok := r.sessions[sid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("canceled session")
	return true
}
